package links

import (
	"context"
	"errors"
	"time"

	"github.com/sundayezeilo/golinks/internal/audit"
	"github.com/sundayezeilo/golinks/internal/cache"
)

var (
	ErrLinkNotFound = errors.New("link not found")
	ErrCodeTaken    = errors.New("short code already exists")
)

// Repository is the durable link store. Each method is individually atomic;
// nothing spans the store and the cache. Missing rows are reported as
// errx.NotFound and short code collisions as errx.Conflict.
type Repository interface {
	FindByCode(ctx context.Context, code string) (Link, error)
	FindByID(ctx context.Context, id int64) (Link, error)
	Insert(ctx context.Context, link Link) (Link, error)
	Update(ctx context.Context, id int64, spec UpdateSpec) (Link, error)
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, params SearchParams) ([]Link, int64, error)
	// IncrementAccess bumps the persisted counter and last-accessed time in one statement.
	IncrementAccess(ctx context.Context, id int64) (Link, error)
}

// Cache is the volatile snapshot and counter store. Implementations never
// return errors; failures surface as absent values or false.
type Cache interface {
	GetLink(ctx context.Context, code string) (cache.Snapshot, bool)
	SetLink(ctx context.Context, code string, snap cache.Snapshot, ttl time.Duration) bool
	DeleteLink(ctx context.Context, code string) bool
	IncrementAccessCount(ctx context.Context, code string) (int64, bool)
	GetAccessCount(ctx context.Context, code string) int64
	ResetAccessCount(ctx context.Context, code string) bool
	ClearAll(ctx context.Context) bool
}

// Auditor appends audit records. Its errors are fatal to the calling operation.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (audit.Log, error)
}

// Actor identifies who performs a mutation and from where.
type Actor struct {
	UserID    int64
	Requester audit.Requester
}
