// Package sluggen generates random short codes.
package sluggen

import (
	"crypto/rand"
	"errors"
)

const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// unbiasedLimit is the largest multiple of len(base36Chars) that fits in a byte.
// Bytes at or above it are discarded so every character is equally likely.
const unbiasedLimit = 256 - 256%len(base36Chars)

// Generator produces short codes. Implementations must be safe for concurrent use.
type Generator interface {
	Generate(length int) (string, error)
}

type base36Generator struct{}

// NewBase36 returns a generator of lowercase alphanumeric codes.
func NewBase36() Generator {
	return base36Generator{}
}

// Generate returns a random lowercase base36 string of the given length.
func (base36Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= unbiasedLimit {
				continue
			}
			out = append(out, base36Chars[int(b)%len(base36Chars)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}
