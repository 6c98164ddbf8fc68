package links

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sundayezeilo/golinks/internal/audit"
	"github.com/sundayezeilo/golinks/internal/auth"
	"github.com/sundayezeilo/golinks/internal/errx"
	"github.com/sundayezeilo/golinks/internal/httpx"
)

// CreateLinkRequest is the JSON body of POST /links.
type CreateLinkRequest struct {
	ShortCode   string  `json:"short_code,omitempty"`
	TargetURL   string  `json:"target_url"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

// UpdateLinkRequest is the JSON body of PUT /links/{id}. Omitted fields are
// unchanged; an empty description clears it.
type UpdateLinkRequest struct {
	TargetURL   *string `json:"target_url,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// LinkResponse is the JSON representation of a link.
type LinkResponse struct {
	ID             int64   `json:"id"`
	ShortCode      string  `json:"short_code"`
	ShortURL       string  `json:"short_url"`
	TargetURL      string  `json:"target_url"`
	Title          string  `json:"title"`
	Description    *string `json:"description,omitempty"`
	IsActive       bool    `json:"is_active"`
	OwnerID        int64   `json:"owner_id"`
	AccessCount    int64   `json:"access_count"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      *string `json:"updated_at,omitempty"`
	LastAccessedAt *string `json:"last_accessed_at,omitempty"`
}

// ListResponse is the JSON body of GET /links.
type ListResponse struct {
	Links   []LinkResponse `json:"links"`
	Total   int64          `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

// StatsResponse is the JSON body of GET /links/stats/{code}.
type StatsResponse struct {
	ShortCode    string  `json:"short_code"`
	AccessCount  int64   `json:"access_count"`
	LastAccessed *string `json:"last_accessed,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// AuditLister reads audit records.
type AuditLister interface {
	ByLink(ctx context.Context, linkID int64, skip, limit int) ([]audit.Log, error)
	ByActor(ctx context.Context, actorID int64, skip, limit int) ([]audit.Log, error)
}

// Handler serves the link and audit HTTP endpoints.
type Handler struct {
	resolver *Resolver
	manager  *Manager
	audits   AuditLister
	logger   *slog.Logger
	baseURL  string
}

// HandlerConfig holds the Handler's collaborators.
type HandlerConfig struct {
	Resolver *Resolver
	Manager  *Manager
	Audits   AuditLister
	Logger   *slog.Logger
	BaseURL  string // prefix for short_url, e.g. "https://go.example.com"
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		resolver: cfg.Resolver,
		manager:  cfg.Manager,
		audits:   cfg.Audits,
		logger:   logger,
		baseURL:  cfg.BaseURL,
	}
}

// ResolveLink redirects GET /links/{code} to the link's target. HEAD gets the
// same answer without being counted or audited.
func (h *Handler) ResolveLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.PathValue("code")

	var (
		target string
		err    error
	)
	if r.Method == http.MethodHead {
		target, err = h.resolver.Lookup(ctx, code)
	} else {
		target, err = h.resolver.Resolve(ctx, code, requesterOf(r))
	}
	if err != nil {
		h.fail(ctx, w, r, err, "Unable to resolve this link at this time")
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// CreateLink handles POST /links.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	req, err := httpx.DecodeJSON[CreateLinkRequest](r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	link, err := h.manager.Create(ctx, CreateSpec{
		ShortCode:   req.ShortCode,
		TargetURL:   req.TargetURL,
		Title:       req.Title,
		Description: req.Description,
	}, actorOf(r, p))
	if err != nil {
		if errx.Is(err, errx.Conflict) {
			h.logger.WarnContext(ctx, "short code conflict",
				"request_id", httpx.GetRequestID(ctx),
				"short_code", req.ShortCode,
			)
			httpx.WriteError(w, http.StatusConflict, "conflict",
				"This short code is already taken",
				map[string]string{
					"hint": "Try a different short code or omit it to have one generated",
				})
			return
		}
		h.fail(ctx, w, r, err, "Unable to create short link at this time. Please try again.")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, h.toResponse(link))
}

// ListLinks handles GET /links?skip=&limit=&search=.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.principal(w, r); !ok {
		return
	}

	skip, limit, ok := pageParams(w, r, DefaultListLimit)
	if !ok {
		return
	}

	res, err := h.manager.List(ctx, SearchParams{
		Skip:  skip,
		Limit: limit,
		Term:  r.URL.Query().Get("search"),
	})
	if err != nil {
		h.fail(ctx, w, r, err, "Unable to list links at this time")
		return
	}

	out := ListResponse{
		Links:   make([]LinkResponse, 0, len(res.Links)),
		Total:   res.Total,
		Page:    res.Page,
		PerPage: res.PerPage,
	}
	for _, l := range res.Links {
		out.Links = append(out.Links, h.toResponse(l))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// GetLink handles GET /links/id/{id}.
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.toResponse(link))
}

// LinkStats handles GET /links/stats/{code}.
func (h *Handler) LinkStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	stats, err := h.manager.Stats(ctx, r.PathValue("code"))
	if err != nil {
		h.fail(ctx, w, r, err, "Unable to load link statistics")
		return
	}
	if !p.CanManage(stats.OwnerID) {
		httpx.WriteKind(w, errx.Forbidden, "not allowed to view statistics for this link")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, StatsResponse{
		ShortCode:    stats.ShortCode,
		AccessCount:  stats.AccessCount,
		LastAccessed: formatTimePtr(stats.LastAccessedAt),
		CreatedAt:    formatTime(stats.CreatedAt),
	})
}

// UpdateLink handles PUT /links/{id}.
func (h *Handler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	p, _ := auth.FromContext(ctx)

	req, err := httpx.DecodeJSON[UpdateLinkRequest](r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	updated, err := h.manager.Update(ctx, link.ID, UpdateSpec{
		TargetURL:   req.TargetURL,
		Title:       req.Title,
		Description: req.Description,
		IsActive:    req.IsActive,
	}, actorOf(r, p))
	if err != nil {
		h.fail(ctx, w, r, err, "Unable to update link at this time")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.toResponse(updated))
}

// DeleteLink handles DELETE /links/{id}.
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	p, _ := auth.FromContext(ctx)

	if err := h.manager.Delete(ctx, link.ID, actorOf(r, p)); err != nil {
		h.fail(ctx, w, r, err, "Unable to delete link at this time")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LinkAudit handles GET /links/id/{id}/audit.
func (h *Handler) LinkAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}

	skip, limit, ok := pageParams(w, r, audit.DefaultPageLimit)
	if !ok {
		return
	}

	logs, err := h.audits.ByLink(ctx, link.ID, skip, limit)
	if err != nil {
		h.fail(ctx, w, r, err, "Unable to load audit records")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(logs))
}

// MyAudit handles GET /audit/me.
func (h *Handler) MyAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	skip, limit, ok := pageParams(w, r, audit.DefaultPageLimit)
	if !ok {
		return
	}

	logs, err := h.audits.ByActor(ctx, p.UserID, skip, limit)
	if err != nil {
		h.fail(ctx, w, r, err, "Unable to load audit records")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(logs))
}

// FlushCache handles DELETE /admin/cache.
func (h *Handler) FlushCache(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	cleared := h.manager.FlushCache(r.Context(), actorOf(r, p))
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteKind(w, errx.Unauthorized, "authentication required")
	}
	return p, ok
}

// ownedLink loads the link named by the {id} path value and checks that the
// caller owns it or is an admin. It writes the error response itself.
func (h *Handler) ownedLink(w http.ResponseWriter, r *http.Request) (Link, bool) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return Link{}, false
	}

	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return Link{}, false
	}

	link, err := h.manager.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, r, err, "Unable to load link at this time")
		return Link{}, false
	}
	if !p.CanManage(link.OwnerID) {
		httpx.WriteKind(w, errx.Forbidden, "not allowed to access this link")
		return Link{}, false
	}
	return link, true
}

// fail logs err and writes the matching error response. Server-side kinds
// get the generic message; client errors echo the underlying cause.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, r *http.Request, err error, generic string) {
	kind := errx.KindOf(err)
	status := httpx.ErrorKindToStatus(kind)

	logAttrs := []any{
		"request_id", httpx.GetRequestID(ctx),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
		"error_kind", kind.String(),
		"operation", errx.OpOf(err),
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", logAttrs...)
		httpx.WriteKind(w, kind, generic)
		return
	}

	h.logger.WarnContext(ctx, "request rejected", logAttrs...)
	httpx.WriteKind(w, kind, clientMessage(kind, err))
}

func clientMessage(kind errx.Kind, err error) string {
	switch kind {
	case errx.NotFound:
		return "short link doesn't exist"
	case errx.Invalid:
		return errx.Cause(err).Error()
	default:
		return kind.String()
	}
}

func pageParams(w http.ResponseWriter, r *http.Request, defLimit int) (int, int, bool) {
	skip, err := httpx.QueryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "skip must be a non-negative integer", nil)
		return 0, 0, false
	}
	limit, err := httpx.QueryInt(r, "limit", defLimit)
	if err != nil || limit < 1 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer", nil)
		return 0, 0, false
	}
	return skip, limit, true
}

func requesterOf(r *http.Request) audit.Requester {
	return audit.Requester{
		IP:        httpx.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func actorOf(r *http.Request, p auth.Principal) Actor {
	return Actor{UserID: p.UserID, Requester: requesterOf(r)}
}

func (h *Handler) toResponse(l Link) LinkResponse {
	return LinkResponse{
		ID:             l.ID,
		ShortCode:      l.ShortCode,
		ShortURL:       fmt.Sprintf("%s/links/%s", h.baseURL, l.ShortCode),
		TargetURL:      l.TargetURL,
		Title:          l.Title,
		Description:    l.Description,
		IsActive:       l.IsActive,
		OwnerID:        l.OwnerID,
		AccessCount:    l.AccessCount,
		CreatedAt:      formatTime(l.CreatedAt),
		UpdatedAt:      formatTimePtr(l.UpdatedAt),
		LastAccessedAt: formatTimePtr(l.LastAccessedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func nonNil(logs []audit.Log) []audit.Log {
	if logs == nil {
		return []audit.Log{}
	}
	return logs
}
