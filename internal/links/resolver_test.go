package links

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sundayezeilo/golinks/internal/audit"
	"github.com/sundayezeilo/golinks/internal/cache"
	"github.com/sundayezeilo/golinks/internal/errx"
)

var anon = audit.Requester{IP: "198.51.100.1", UserAgent: "curl/8"}

func TestResolver_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, "abc123", "https://example.com", "Example")

	target, err := f.resolver.Resolve(ctx, "abc123", anon)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if target != "https://example.com" {
		t.Errorf("Resolve() = %q, want https://example.com", target)
	}

	stats, err := f.manager.Stats(ctx, "abc123")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", stats.AccessCount)
	}
}

func TestResolver_CacheHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link := f.create(t, "hot", "https://example.com/hot", "Hot")

	if _, err := f.resolver.Resolve(ctx, "hot", anon); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if n := f.repo.codeLookups(); n != 0 {
		t.Errorf("store lookups = %d, want 0 on cache hit", n)
	}
	if got := f.repo.get(link.ID).AccessCount; got != 0 {
		t.Errorf("store AccessCount = %d, want 0 (hit path skips store)", got)
	}
	if got := f.cache.GetAccessCount(ctx, "hot"); got != 1 {
		t.Errorf("cache counter = %d, want 1", got)
	}

	rec := f.audits.last()
	if rec.Action != audit.ActionAccess || rec.ActorID != audit.AnonymousActorID {
		t.Errorf("audit = %+v, want anonymous access", rec)
	}
	if rec.LinkID == nil || *rec.LinkID != link.ID {
		t.Errorf("audit LinkID = %v, want %d", rec.LinkID, link.ID)
	}
	if rec.IPAddress != anon.IP || rec.UserAgent != anon.UserAgent {
		t.Errorf("audit requester = (%q, %q), want (%q, %q)", rec.IPAddress, rec.UserAgent, anon.IP, anon.UserAgent)
	}
}

func TestResolver_CacheMissRepopulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link := f.create(t, "cold", "https://example.com/cold", "Cold")
	f.cache.DeleteLink(ctx, "cold")

	if _, err := f.resolver.Resolve(ctx, "cold", anon); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if got := f.repo.get(link.ID); got.AccessCount != 1 || got.LastAccessedAt == nil {
		t.Errorf("store link = %+v, want AccessCount 1 and LastAccessedAt set", got)
	}
	snap, ok := f.cache.GetLink(ctx, "cold")
	if !ok || snap.ID != link.ID || snap.TargetURL != link.TargetURL {
		t.Errorf("cache snapshot = %+v, %v; want repopulated", snap, ok)
	}
	if got := f.cache.GetAccessCount(ctx, "cold"); got != 1 {
		t.Errorf("cache counter = %d, want 1", got)
	}
	if f.mr.TTL(cache.LinkKey("cold")) <= 0 {
		t.Error("repopulated snapshot has no TTL")
	}
	if n := f.audits.count(audit.ActionAccess); n != 1 {
		t.Errorf("access audits = %d, want 1", n)
	}
}

func TestResolver_LookupCountsNothing(t *testing.T) {
	tests := []struct {
		name      string
		warmCache bool
	}{
		{"cache hit", true},
		{"cache miss", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			link := f.create(t, "peek", "https://example.com/peek", "Peek")
			if !tt.warmCache {
				f.cache.DeleteLink(ctx, "peek")
			}
			audits := len(f.audits.logs)

			target, err := f.resolver.Lookup(ctx, "PEEK")
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if target != link.TargetURL {
				t.Errorf("Lookup() = %q, want %q", target, link.TargetURL)
			}

			if got := f.repo.get(link.ID); got.AccessCount != 0 || got.LastAccessedAt != nil {
				t.Errorf("store link = %+v, want untouched counters", got)
			}
			if got := f.cache.GetAccessCount(ctx, "peek"); got != 0 {
				t.Errorf("cache counter = %d, want 0", got)
			}
			if got := len(f.audits.logs); got != audits {
				t.Errorf("audit records = %d, want %d", got, audits)
			}
			if _, ok := f.cache.GetLink(ctx, "peek"); !ok {
				t.Error("snapshot not cached after Lookup")
			}
		})
	}
}

func TestResolver_LookupErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link := f.create(t, "dormant", "https://example.com/d", "Dormant")
	if _, err := f.manager.Update(ctx, link.ID, UpdateSpec{IsActive: boolPtr(false)}, testActor); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	tests := []struct {
		name string
		code string
		want errx.Kind
	}{
		{"inactive", "dormant", errx.NotFound},
		{"missing", "nothere", errx.NotFound},
		{"malformed", "a!", errx.Invalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolver.Lookup(ctx, tt.code)
			if errx.KindOf(err) != tt.want {
				t.Errorf("Lookup(%q) kind = %v, want %v", tt.code, errx.KindOf(err), tt.want)
			}
		})
	}
}

func TestResolver_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Resolve(context.Background(), "missing", anon)
	if errx.KindOf(err) != errx.NotFound {
		t.Fatalf("Resolve() kind = %v, want NotFound", errx.KindOf(err))
	}
	if n := f.audits.count(audit.ActionAccess); n != 0 {
		t.Errorf("access audits = %d, want 0", n)
	}
}

func TestResolver_InactiveLink(t *testing.T) {
	tests := []struct {
		name      string
		warmCache bool
	}{
		{"cached inactive snapshot", true},
		{"store only", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			link := f.create(t, "gone", "https://example.com", "Gone")
			if _, err := f.manager.Update(ctx, link.ID, UpdateSpec{IsActive: boolPtr(false)}, testActor); err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if !tt.warmCache {
				f.cache.DeleteLink(ctx, "gone")
			}

			_, err := f.resolver.Resolve(ctx, "gone", anon)
			if errx.KindOf(err) != errx.NotFound {
				t.Fatalf("Resolve() kind = %v, want NotFound", errx.KindOf(err))
			}
			if n := f.audits.count(audit.ActionAccess); n != 0 {
				t.Errorf("access audits = %d, want 0", n)
			}
			if got := f.repo.get(link.ID).AccessCount; got != 0 {
				t.Errorf("AccessCount = %d, want 0", got)
			}

			wantLookups := 1
			if tt.warmCache {
				wantLookups = 0
			}
			if n := f.repo.codeLookups(); n != wantLookups {
				t.Errorf("store lookups = %d, want %d", n, wantLookups)
			}
		})
	}
}

func TestResolver_CachedInactiveShortCircuitsReactivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link := f.create(t, "flip", "https://example.com", "Flip")
	f.cache.SetLink(ctx, "flip", cache.Snapshot{ID: link.ID, ShortCode: "flip", TargetURL: link.TargetURL, IsActive: false}, 0)

	_, err := f.resolver.Resolve(ctx, "flip", anon)
	if errx.KindOf(err) != errx.NotFound {
		t.Fatalf("Resolve() kind = %v, want NotFound while inactive snapshot is cached", errx.KindOf(err))
	}

	f.mr.FastForward(f.cache.TTL())

	if _, err := f.resolver.Resolve(ctx, "flip", anon); err != nil {
		t.Fatalf("Resolve() after TTL error = %v", err)
	}
}

func TestResolver_DeleteWithStaleCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link := f.create(t, "doomed", "https://example.com", "Doomed")
	if _, err := f.resolver.Resolve(ctx, "doomed", anon); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, ok := f.cache.GetLink(ctx, "doomed"); !ok {
		t.Fatal("expected snapshot to be cached before delete")
	}

	if err := f.manager.Delete(ctx, link.ID, testActor); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, err := f.resolver.Resolve(ctx, "doomed", anon)
	if errx.KindOf(err) != errx.NotFound {
		t.Errorf("Resolve() kind = %v, want NotFound", errx.KindOf(err))
	}
}

func TestResolver_CodeNormalization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, "MixedCase", "https://example.com/mixed", "Mixed")

	target, err := f.resolver.Resolve(ctx, "MIXEDCASE", anon)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if target != "https://example.com/mixed" {
		t.Errorf("Resolve() = %q", target)
	}

	for _, code := range []string{"ab", "has-dash", "waytoolongcodewaytoolong", ""} {
		if _, err := f.resolver.Resolve(ctx, code, anon); errx.KindOf(err) != errx.Invalid {
			t.Errorf("Resolve(%q) kind = %v, want Invalid", code, errx.KindOf(err))
		}
	}
}

func TestResolver_CacheOutageFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link := f.create(t, "sturdy", "https://example.com/s", "Sturdy")
	f.mr.SetError("LOADING redis is loading the dataset in memory")

	target, err := f.resolver.Resolve(ctx, "sturdy", anon)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if target != link.TargetURL {
		t.Errorf("Resolve() = %q, want %q", target, link.TargetURL)
	}
	if got := f.repo.get(link.ID).AccessCount; got != 1 {
		t.Errorf("store AccessCount = %d, want 1", got)
	}
}

func TestResolver_AuditFailureIsFatal(t *testing.T) {
	tests := []struct {
		name      string
		warmCache bool
	}{
		{"cache hit", true},
		{"cache miss", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			f.create(t, "audited", "https://example.com", "Audited")
			if !tt.warmCache {
				f.cache.DeleteLink(ctx, "audited")
			}
			f.audits.insertErr = errors.New("disk full")

			_, err := f.resolver.Resolve(ctx, "audited", anon)
			if errx.KindOf(err) != errx.Internal {
				t.Errorf("Resolve() kind = %v, want Internal", errx.KindOf(err))
			}
		})
	}
}

func TestResolver_StoreFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.repo.findErr = errx.E("memRepo.FindByCode", errx.Unavailable, errors.New("connection refused"))

	_, err := f.resolver.Resolve(context.Background(), "nocache", anon)
	if errx.KindOf(err) != errx.Unavailable {
		t.Errorf("Resolve() kind = %v, want Unavailable", errx.KindOf(err))
	}
}

func TestResolver_ConcurrentAccessLosesNoIncrements(t *testing.T) {
	const workers = 50

	t.Run("cache hits", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.create(t, "busy", "https://example.com", "Busy")

		resolveConcurrently(t, f, "busy", workers)

		if got := f.cache.GetAccessCount(ctx, "busy"); got != workers {
			t.Errorf("cache counter = %d, want %d", got, workers)
		}
		stats, err := f.manager.Stats(ctx, "busy")
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if stats.AccessCount != workers {
			t.Errorf("Stats().AccessCount = %d, want %d", stats.AccessCount, workers)
		}
	})

	t.Run("store path", func(t *testing.T) {
		f := newFixture(t)
		link := f.create(t, "busy", "https://example.com", "Busy")
		f.mr.SetError("ERR cache offline")

		resolveConcurrently(t, f, "busy", workers)

		if got := f.repo.get(link.ID).AccessCount; got != workers {
			t.Errorf("store AccessCount = %d, want %d", got, workers)
		}
	})
}

func resolveConcurrently(t *testing.T, f *fixture, code string, n int) {
	t.Helper()

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.resolver.Resolve(context.Background(), code, anon); err != nil {
				t.Errorf("Resolve() error = %v", err)
			}
		}()
	}
	wg.Wait()
}
