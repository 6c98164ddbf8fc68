package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sundayezeilo/golinks/internal/audit"
	"github.com/sundayezeilo/golinks/internal/errx"
	"github.com/sundayezeilo/golinks/sluggen"
)

const (
	DefaultCodeLength     = 7
	DefaultCodeMaxRetries = 3
	DefaultListLimit      = 100
	MaxListLimit          = 100
)

// Manager performs link mutations and keeps the cache in step with the store.
type Manager struct {
	repo           Repository
	cache          Cache
	auditor        Auditor
	codeGenerator  sluggen.Generator
	codeLength     int
	codeMaxRetries int
	cacheTTL       time.Duration
	logger         *slog.Logger
}

// ManagerConfig holds optional Manager settings.
type ManagerConfig struct {
	CodeGenerator  sluggen.Generator
	CodeLength     int
	CodeMaxRetries int           // attempts when generating a unique code (default: 3)
	CacheTTL       time.Duration // zero uses the cache default
	Logger         *slog.Logger
}

// NewManager creates a Manager.
func NewManager(repo Repository, c Cache, auditor Auditor, cfg *ManagerConfig) *Manager {
	if cfg == nil {
		cfg = &ManagerConfig{}
	}

	gen := cfg.CodeGenerator
	if gen == nil {
		gen = sluggen.NewBase36()
	}

	length := cfg.CodeLength
	if length < MinCodeLength || length > MaxCodeLength {
		length = DefaultCodeLength
	}

	retries := cfg.CodeMaxRetries
	if retries <= 0 {
		retries = DefaultCodeMaxRetries
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		repo:           repo,
		cache:          c,
		auditor:        auditor,
		codeGenerator:  gen,
		codeLength:     length,
		codeMaxRetries: retries,
		cacheTTL:       cfg.CacheTTL,
		logger:         logger.With("component", "link_manager"),
	}
}

// Create persists a new link owned by actor, caches it and audits the creation.
// A rejected duplicate code leaves the existing link untouched and is not audited.
func (m *Manager) Create(ctx context.Context, spec CreateSpec, actor Actor) (Link, error) {
	const op = "links.Manager.Create"

	spec, err := spec.Normalize()
	if err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	link, err := m.insert(ctx, spec, actor.UserID)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	refreshAfterWrite(ctx, m.cache, link, m.cacheTTL)

	if err := m.record(ctx, actor, audit.ActionCreate, link.ID,
		fmt.Sprintf("Created link %s -> %s", link.ShortCode, link.TargetURL)); err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	m.logger.InfoContext(ctx, "link created",
		"link_id", link.ID,
		"short_code", link.ShortCode,
		"owner_id", link.OwnerID,
	)
	return link, nil
}

func (m *Manager) insert(ctx context.Context, spec CreateSpec, ownerID int64) (Link, error) {
	newLink := func(code string) Link {
		return Link{
			ShortCode:   code,
			TargetURL:   spec.TargetURL,
			Title:       spec.Title,
			Description: spec.Description,
			IsActive:    true,
			OwnerID:     ownerID,
		}
	}

	if spec.ShortCode != "" {
		return m.repo.Insert(ctx, newLink(spec.ShortCode))
	}

	for range m.codeMaxRetries {
		code, err := m.codeGenerator.Generate(m.codeLength)
		if err != nil {
			return Link{}, errx.E("links.Manager.insert", errx.Unavailable, err)
		}

		created, err := m.repo.Insert(ctx, newLink(code))
		if err == nil {
			return created, nil
		}
		if !errx.Is(err, errx.Conflict) {
			return Link{}, err
		}
	}

	return Link{}, errx.E("links.Manager.insert", errx.Unavailable,
		errors.New("could not generate unique short code after retries"))
}

// Update applies the fields present in spec, refreshes the cached snapshot
// under the unchanged short code and audits the change. Callers are expected
// to have checked that actor may modify the link.
func (m *Manager) Update(ctx context.Context, id int64, spec UpdateSpec, actor Actor) (Link, error) {
	const op = "links.Manager.Update"

	if err := spec.Validate(); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	link, err := m.repo.Update(ctx, id, spec)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	refreshAfterWrite(ctx, m.cache, link, m.cacheTTL)

	if err := m.record(ctx, actor, audit.ActionUpdate, link.ID,
		fmt.Sprintf("Updated link %s", link.ShortCode)); err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}
	return link, nil
}

// Delete removes the cached snapshot, then the stored link, then audits.
// Purging the cache first keeps a stale snapshot from outliving the row; a
// resolver that missed the cache just before the delete can still repopulate
// it briefly, which expires with the TTL.
func (m *Manager) Delete(ctx context.Context, id int64, actor Actor) error {
	const op = "links.Manager.Delete"

	link, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}

	m.cache.DeleteLink(ctx, link.ShortCode)

	if err := m.repo.Delete(ctx, id); err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}

	m.cache.ResetAccessCount(ctx, link.ShortCode)

	if err := m.record(ctx, actor, audit.ActionDelete, link.ID,
		fmt.Sprintf("Deleted link %s", link.ShortCode)); err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}

	m.logger.InfoContext(ctx, "link deleted", "link_id", link.ID, "short_code", link.ShortCode)
	return nil
}

// Get returns the link with the given id.
func (m *Manager) Get(ctx context.Context, id int64) (Link, error) {
	const op = "links.Manager.Get"

	link, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}
	return link, nil
}

// GetByCode returns the stored link for code, bypassing the cache.
func (m *Manager) GetByCode(ctx context.Context, code string) (Link, error) {
	const op = "links.Manager.GetByCode"

	code = NormalizeCode(code)
	if err := ValidateCode(code); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	link, err := m.repo.FindByCode(ctx, code)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}
	return link, nil
}

// List returns one page of links matching params.Term. Total counts the
// whole filtered set, independent of the page window.
func (m *Manager) List(ctx context.Context, params SearchParams) (ListResult, error) {
	const op = "links.Manager.List"

	if params.Skip < 0 {
		return ListResult{}, errx.E(op, errx.Invalid, errors.New("skip must not be negative"))
	}
	if params.Limit <= 0 {
		params.Limit = DefaultListLimit
	}
	if params.Limit > MaxListLimit {
		params.Limit = MaxListLimit
	}

	found, total, err := m.repo.Search(ctx, params)
	if err != nil {
		return ListResult{}, errx.E(op, errx.KindOf(err), err)
	}
	if found == nil {
		found = []Link{}
	}

	return ListResult{
		Links:   found,
		Total:   total,
		Page:    params.Skip/params.Limit + 1,
		PerPage: params.Limit,
	}, nil
}

// Stats reports the access statistics for code. Cache hits never reach the
// store, so the count is the larger of the persisted and cached counters.
func (m *Manager) Stats(ctx context.Context, code string) (Stats, error) {
	const op = "links.Manager.Stats"

	link, err := m.GetByCode(ctx, code)
	if err != nil {
		return Stats{}, errx.E(op, errx.KindOf(err), err)
	}

	count := link.AccessCount
	if cached := m.cache.GetAccessCount(ctx, link.ShortCode); cached > count {
		count = cached
	}

	return Stats{
		ShortCode:      link.ShortCode,
		OwnerID:        link.OwnerID,
		AccessCount:    count,
		LastAccessedAt: link.LastAccessedAt,
		CreatedAt:      link.CreatedAt,
	}, nil
}

// FlushCache drops every cached snapshot and counter.
func (m *Manager) FlushCache(ctx context.Context, actor Actor) bool {
	ok := m.cache.ClearAll(ctx)
	m.logger.WarnContext(ctx, "cache flushed", "actor_id", actor.UserID, "ok", ok)
	return ok
}

func (m *Manager) record(ctx context.Context, actor Actor, action audit.Action, linkID int64, detail string) error {
	_, err := m.auditor.Record(ctx, audit.Entry{
		ActorID:   actor.UserID,
		Action:    action,
		LinkID:    &linkID,
		Detail:    detail,
		Requester: actor.Requester,
	})
	return err
}
