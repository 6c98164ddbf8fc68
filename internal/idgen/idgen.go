// Package idgen mints the identifiers attached to requests and log lines.
package idgen

import (
	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
// Implementations are safe for concurrent use.
type Generator interface {
	NewID() string
}

// Func adapts a plain function to Generator.
type Func func() string

func (f Func) NewID() string { return f() }

/***************
 * UUID v4
 ***************/

type random struct{}

// NewRandom returns a Generator of UUID v4 strings.
func NewRandom() Generator { return random{} }

func (random) NewID() string { return uuid.NewString() }

/***************
 * UUID v7
 ***************/

type timeOrdered struct {
	retries int
}

// NewTimeOrdered returns a Generator of UUID v7 strings, which sort by
// creation time. uuid.NewV7 is retried up to retries extra times; after that
// a v4 value is returned so callers always get an ID.
func NewTimeOrdered(retries int) Generator {
	return timeOrdered{retries: max(retries, 0)}
}

func (g timeOrdered) NewID() string {
	for range g.retries + 1 {
		if id, err := uuid.NewV7(); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}
