package links

import (
	"context"
	"time"

	"github.com/sundayezeilo/golinks/internal/cache"
)

func snapshotOf(link Link) cache.Snapshot {
	return cache.Snapshot{
		ID:        link.ID,
		ShortCode: link.ShortCode,
		TargetURL: link.TargetURL,
		Title:     link.Title,
		IsActive:  link.IsActive,
	}
}

// refreshAfterWrite mirrors link into the cache after a store write has
// committed. The two steps are not transactional. If the process dies or the
// cache is down between them, the old snapshot stays until its TTL runs out
// or a later miss repopulates it; no manual repair is ever needed.
func refreshAfterWrite(ctx context.Context, c Cache, link Link, ttl time.Duration) bool {
	return c.SetLink(ctx, link.ShortCode, snapshotOf(link), ttl)
}
