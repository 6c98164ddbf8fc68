package links

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sundayezeilo/golinks/internal/audit"
	"github.com/sundayezeilo/golinks/internal/errx"
)

// Resolver serves short codes to their target URLs, reading through the cache.
type Resolver struct {
	repo     Repository
	cache    Cache
	auditor  Auditor
	cacheTTL time.Duration
	logger   *slog.Logger
}

// ResolverConfig holds optional Resolver settings.
type ResolverConfig struct {
	CacheTTL time.Duration // snapshot lifetime on repopulation; zero uses the cache default
	Logger   *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(repo Repository, c Cache, auditor Auditor, cfg *ResolverConfig) *Resolver {
	if cfg == nil {
		cfg = &ResolverConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		repo:     repo,
		cache:    c,
		auditor:  auditor,
		cacheTTL: cfg.CacheTTL,
		logger:   logger.With("component", "resolver"),
	}
}

// Resolve returns the target URL for code and records the access.
//
// A cached active snapshot is served without touching the store, so the
// persisted access counter lags behind the cache counter for hot links.
// A cached inactive snapshot is answered with NotFound without consulting the
// store; a link reactivated within the cache TTL keeps returning NotFound
// until the snapshot expires or is refreshed by an update.
func (r *Resolver) Resolve(ctx context.Context, code string, req audit.Requester) (string, error) {
	const op = "links.Resolver.Resolve"

	code = NormalizeCode(code)
	if err := ValidateCode(code); err != nil {
		return "", errx.E(op, errx.Invalid, err)
	}

	hit, err := r.find(ctx, code)
	if err != nil {
		return "", errx.E(op, errx.KindOf(err), err)
	}

	if !hit.cached {
		if _, err := r.repo.IncrementAccess(ctx, hit.linkID); err != nil {
			return "", errx.E(op, errx.KindOf(err), err)
		}
	}
	r.cache.IncrementAccessCount(ctx, code)

	var linkID *int64
	if hit.linkID > 0 {
		id := hit.linkID
		linkID = &id
	}
	if err := r.recordAccess(ctx, code, linkID, req); err != nil {
		return "", errx.E(op, errx.KindOf(err), err)
	}

	if !hit.cached {
		r.logger.DebugContext(ctx, "link resolved from store", "short_code", code, "link_id", hit.linkID)
	}
	return hit.target, nil
}

// Lookup answers the same as Resolve but counts nothing and writes no audit
// record. It serves HEAD requests from crawlers and uptime checks. A store
// hit still repopulates the cache.
func (r *Resolver) Lookup(ctx context.Context, code string) (string, error) {
	const op = "links.Resolver.Lookup"

	code = NormalizeCode(code)
	if err := ValidateCode(code); err != nil {
		return "", errx.E(op, errx.Invalid, err)
	}

	hit, err := r.find(ctx, code)
	if err != nil {
		return "", errx.E(op, errx.KindOf(err), err)
	}
	return hit.target, nil
}

type resolved struct {
	target string
	linkID int64
	cached bool
}

// find reads through the cache. Inactive links are NotFound on both paths.
func (r *Resolver) find(ctx context.Context, code string) (resolved, error) {
	const op = "links.Resolver.find"

	if snap, ok := r.cache.GetLink(ctx, code); ok {
		if !snap.IsActive {
			return resolved{}, errx.E(op, errx.NotFound, ErrLinkNotFound)
		}
		return resolved{target: snap.TargetURL, linkID: snap.ID, cached: true}, nil
	}

	link, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		return resolved{}, errx.E(op, errx.KindOf(err), err)
	}
	if !link.IsActive {
		return resolved{}, errx.E(op, errx.NotFound, ErrLinkNotFound)
	}

	refreshAfterWrite(ctx, r.cache, link, r.cacheTTL)
	return resolved{target: link.TargetURL, linkID: link.ID}, nil
}

func (r *Resolver) recordAccess(ctx context.Context, code string, linkID *int64, req audit.Requester) error {
	_, err := r.auditor.Record(ctx, audit.Entry{
		ActorID:   audit.AnonymousActorID,
		Action:    audit.ActionAccess,
		LinkID:    linkID,
		Detail:    fmt.Sprintf("Accessed link %s", code),
		Requester: req,
	})
	return err
}
