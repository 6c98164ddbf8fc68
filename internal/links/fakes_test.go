package links

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/golinks/internal/audit"
	"github.com/sundayezeilo/golinks/internal/cache"
	"github.com/sundayezeilo/golinks/internal/errx"
)

/***************
 * Mocks
 ***************/

// memRepo is an in-memory Repository with the same error kinds as the real stores.
type memRepo struct {
	mu     sync.Mutex
	nextID int64
	links  map[int64]Link

	findByCodeCalls int
	insertErr       error
	findErr         error
}

func newMemRepo() *memRepo {
	return &memRepo{links: make(map[int64]Link)}
}

func (m *memRepo) FindByCode(_ context.Context, code string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.findByCodeCalls++
	if m.findErr != nil {
		return Link{}, m.findErr
	}
	for _, l := range m.links {
		if l.ShortCode == code {
			return l, nil
		}
	}
	return Link{}, errx.E("memRepo.FindByCode", errx.NotFound, ErrLinkNotFound)
}

func (m *memRepo) FindByID(_ context.Context, id int64) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[id]
	if !ok {
		return Link{}, errx.E("memRepo.FindByID", errx.NotFound, ErrLinkNotFound)
	}
	return l, nil
}

func (m *memRepo) Insert(_ context.Context, link Link) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertErr != nil {
		return Link{}, m.insertErr
	}
	for _, l := range m.links {
		if l.ShortCode == link.ShortCode {
			return Link{}, errx.E("memRepo.Insert", errx.Conflict, ErrCodeTaken)
		}
	}
	m.nextID++
	link.ID = m.nextID
	link.CreatedAt = time.Now().UTC()
	m.links[link.ID] = link
	return link, nil
}

func (m *memRepo) Update(_ context.Context, id int64, spec UpdateSpec) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[id]
	if !ok {
		return Link{}, errx.E("memRepo.Update", errx.NotFound, ErrLinkNotFound)
	}
	if spec.TargetURL != nil {
		l.TargetURL = *spec.TargetURL
	}
	if spec.Title != nil {
		l.Title = *spec.Title
	}
	if spec.Description != nil {
		l.Description = spec.Description
		if *spec.Description == "" {
			l.Description = nil
		}
	}
	if spec.IsActive != nil {
		l.IsActive = *spec.IsActive
	}
	now := time.Now().UTC()
	l.UpdatedAt = &now
	m.links[id] = l
	return l, nil
}

func (m *memRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.links[id]; !ok {
		return errx.E("memRepo.Delete", errx.NotFound, ErrLinkNotFound)
	}
	delete(m.links, id)
	return nil
}

func (m *memRepo) Search(_ context.Context, p SearchParams) ([]Link, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	term := strings.ToLower(p.Term)
	var matched []Link
	for _, l := range m.links {
		desc := ""
		if l.Description != nil {
			desc = *l.Description
		}
		if term == "" ||
			strings.Contains(strings.ToLower(l.Title), term) ||
			strings.Contains(strings.ToLower(desc), term) ||
			strings.Contains(l.ShortCode, term) {
			matched = append(matched, l)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := int64(len(matched))
	if p.Skip >= len(matched) {
		return nil, total, nil
	}
	end := min(p.Skip+p.Limit, len(matched))
	return matched[p.Skip:end], total, nil
}

func (m *memRepo) IncrementAccess(_ context.Context, id int64) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[id]
	if !ok {
		return Link{}, errx.E("memRepo.IncrementAccess", errx.NotFound, ErrLinkNotFound)
	}
	l.AccessCount++
	now := time.Now().UTC()
	l.LastAccessedAt = &now
	m.links[id] = l
	return l, nil
}

func (m *memRepo) get(id int64) Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[id]
}

func (m *memRepo) codeLookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByCodeCalls
}

// memAuditRepo is an in-memory audit.Repository.
type memAuditRepo struct {
	mu        sync.Mutex
	logs      []audit.Log
	insertErr error
}

func (m *memAuditRepo) Insert(_ context.Context, e audit.Entry) (audit.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertErr != nil {
		return audit.Log{}, m.insertErr
	}
	rec := audit.Log{
		ID:        int64(len(m.logs) + 1),
		ActorID:   e.ActorID,
		LinkID:    e.LinkID,
		Action:    e.Action,
		Detail:    e.Detail,
		IPAddress: e.Requester.IP,
		UserAgent: e.Requester.UserAgent,
		CreatedAt: time.Now().UTC(),
	}
	m.logs = append(m.logs, rec)
	return rec, nil
}

func (m *memAuditRepo) ListByLink(_ context.Context, linkID int64, skip, limit int) ([]audit.Log, error) {
	return m.filter(func(l audit.Log) bool { return l.LinkID != nil && *l.LinkID == linkID }, skip, limit), nil
}

func (m *memAuditRepo) ListByActor(_ context.Context, actorID int64, skip, limit int) ([]audit.Log, error) {
	return m.filter(func(l audit.Log) bool { return l.ActorID == actorID }, skip, limit), nil
}

func (m *memAuditRepo) filter(keep func(audit.Log) bool, skip, limit int) []audit.Log {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []audit.Log
	for i := len(m.logs) - 1; i >= 0; i-- {
		if keep(m.logs[i]) {
			out = append(out, m.logs[i])
		}
	}
	if skip >= len(out) {
		return nil
	}
	return out[skip:min(skip+limit, len(out))]
}

func (m *memAuditRepo) count(action audit.Action) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, l := range m.logs {
		if l.Action == action {
			n++
		}
	}
	return n
}

func (m *memAuditRepo) last() audit.Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs[len(m.logs)-1]
}

// stubGenerator returns codes in order, then repeats the last one.
type stubGenerator struct {
	mu    sync.Mutex
	codes []string
	calls int
	err   error
}

func (g *stubGenerator) Generate(int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	if g.err != nil {
		return "", g.err
	}
	idx := min(g.calls-1, len(g.codes)-1)
	return g.codes[idx], nil
}

/***************
 * Fixture
 ***************/

type fixture struct {
	repo     *memRepo
	audits   *memAuditRepo
	mr       *miniredis.Miniredis
	cache    *cache.LinkCache
	resolver *Resolver
	manager  *Manager
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := discardLogger()
	lc := cache.New(client, &cache.Config{LinkTTL: time.Hour, Logger: logger})
	repo := newMemRepo()
	audits := &memAuditRepo{}
	recorder := audit.NewRecorder(audits, logger)

	return &fixture{
		repo:     repo,
		audits:   audits,
		mr:       mr,
		cache:    lc,
		resolver: NewResolver(repo, lc, recorder, &ResolverConfig{Logger: logger}),
		manager:  NewManager(repo, lc, recorder, &ManagerConfig{Logger: logger}),
	}
}

var testActor = Actor{
	UserID:    7,
	Requester: audit.Requester{IP: "203.0.113.9", UserAgent: "test-agent"},
}

func (f *fixture) create(t *testing.T, code, target, title string) Link {
	t.Helper()
	link, err := f.manager.Create(context.Background(), CreateSpec{
		ShortCode: code,
		TargetURL: target,
		Title:     title,
	}, testActor)
	if err != nil {
		t.Fatalf("Create(%q) error = %v", code, err)
	}
	return link
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
