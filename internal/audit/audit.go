// Package audit appends immutable records of every create, update, delete and
// access performed against links. Records are never updated or removed.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sundayezeilo/golinks/internal/errx"
)

// AnonymousActorID is the reserved actor identifier for requests made without
// an authenticated user, such as public short code resolution.
const AnonymousActorID int64 = 1

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 500
)

// Action tags the kind of operation a record describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionAccess Action = "access"
)

// Valid reports whether a is one of the known action tags.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionAccess:
		return true
	default:
		return false
	}
}

// Requester carries request metadata copied into each record. Empty fields are stored as NULL.
type Requester struct {
	IP        string
	UserAgent string
}

// Entry is the input to Record.
type Entry struct {
	ActorID   int64
	Action    Action
	LinkID    *int64
	Detail    string
	Requester Requester
}

// Log is a persisted audit record.
type Log struct {
	ID        int64     `json:"id"`
	ActorID   int64     `json:"user_id"`
	LinkID    *int64    `json:"link_id,omitempty"`
	Action    Action    `json:"action"`
	Detail    string    `json:"details,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists audit records.
type Repository interface {
	Insert(ctx context.Context, e Entry) (Log, error)
	ListByLink(ctx context.Context, linkID int64, skip, limit int) ([]Log, error)
	ListByActor(ctx context.Context, actorID int64, skip, limit int) ([]Log, error)
}

// Recorder validates and appends audit records.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder creates a Recorder. A nil logger uses slog.Default.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:   repo,
		logger: logger.With("component", "audit"),
	}
}

// Record appends e. Failures are never swallowed: an operation whose audit
// record cannot be written must itself fail, so persistence errors surface as Internal.
func (r *Recorder) Record(ctx context.Context, e Entry) (Log, error) {
	const op = "audit.Recorder.Record"

	if e.ActorID <= 0 {
		return Log{}, errx.E(op, errx.Invalid, errors.New("actor id is required"))
	}
	if !e.Action.Valid() {
		return Log{}, errx.E(op, errx.Invalid, fmt.Errorf("unknown action %q", e.Action))
	}

	rec, err := r.repo.Insert(ctx, e)
	if err != nil {
		r.logger.ErrorContext(ctx, "audit write failed",
			"action", string(e.Action),
			"actor_id", e.ActorID,
			"error", err.Error(),
		)
		return Log{}, errx.E(op, errx.Internal, err)
	}
	return rec, nil
}

// ByLink lists a link's records, newest first.
func (r *Recorder) ByLink(ctx context.Context, linkID int64, skip, limit int) ([]Log, error) {
	const op = "audit.Recorder.ByLink"

	skip, limit = normalizePage(skip, limit)
	logs, err := r.repo.ListByLink(ctx, linkID, skip, limit)
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}
	return logs, nil
}

// ByActor lists the records attributed to actorID, newest first.
func (r *Recorder) ByActor(ctx context.Context, actorID int64, skip, limit int) ([]Log, error) {
	const op = "audit.Recorder.ByActor"

	skip, limit = normalizePage(skip, limit)
	logs, err := r.repo.ListByActor(ctx, actorID, skip, limit)
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}
	return logs, nil
}

func normalizePage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return skip, limit
}
