package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sundayezeilo/golinks/internal/auth"
	"github.com/sundayezeilo/golinks/internal/config"
	"github.com/sundayezeilo/golinks/internal/httpx"
	"github.com/sundayezeilo/golinks/internal/links"
	"github.com/sundayezeilo/golinks/internal/ratelimit"
)

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Deps are the request handlers and middleware backends the server routes to.
type Deps struct {
	Links   *links.Handler
	Signer  *auth.Signer
	Limiter *ratelimit.Limiter // nil disables rate limiting
	Checks  map[string]Pinger  // reported by the health endpoint
}

// Server represents the HTTP server with all dependencies.
type Server struct {
	config *config.Config
	logger *slog.Logger
	deps   Deps
	server *http.Server
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	return &Server{
		config: cfg,
		logger: logger,
		deps:   deps,
	}
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting http server",
			"addr", s.server.Addr,
			"env", s.config.App.Environment,
		)
		serverErrors <- s.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// Handler returns the fully routed and wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.applyMiddleware(s.setupRoutes())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	h := s.deps.Links
	authed := auth.Require(s.deps.Signer)
	admin := httpx.Chain(authed, auth.RequireAdmin)

	mux.HandleFunc("GET /x/health", s.healthCheckHandler)

	mux.HandleFunc("GET /links/{code}", h.ResolveLink)

	mux.Handle("POST /links", authed(http.HandlerFunc(h.CreateLink)))
	mux.Handle("GET /links", authed(http.HandlerFunc(h.ListLinks)))
	mux.Handle("GET /links/stats/{code}", authed(http.HandlerFunc(h.LinkStats)))
	mux.Handle("GET /links/id/{id}", authed(http.HandlerFunc(h.GetLink)))
	mux.Handle("GET /links/id/{id}/audit", authed(http.HandlerFunc(h.LinkAudit)))
	mux.Handle("PUT /links/{id}", authed(http.HandlerFunc(h.UpdateLink)))
	mux.Handle("DELETE /links/{id}", authed(http.HandlerFunc(h.DeleteLink)))
	mux.Handle("GET /audit/me", authed(http.HandlerFunc(h.MyAudit)))

	mux.Handle("DELETE /admin/cache", admin(http.HandlerFunc(h.FlushCache)))

	return mux
}

// applyMiddleware wraps the handler with middleware in the correct order.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	origins := s.config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	mws := []httpx.Middleware{
		httpx.Recovery(s.logger), // Outermost: catch panics
		httpx.RequestID,
	}
	if s.config.Server.TrustProxy {
		// Before anything that reads the client address.
		mws = append(mws, chimw.RealIP)
	}
	mws = append(mws,
		httpx.Logger(s.logger),
		cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", httpx.RequestIDHeader},
			ExposedHeaders:   []string{httpx.RequestIDHeader, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)
	if s.deps.Limiter != nil {
		mws = append(mws, s.deps.Limiter.Middleware)
	}

	return httpx.Chain(mws...)(handler)
}

// healthCheckHandler reports service identity and the reachability of each backend.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, p := range s.deps.Checks {
		if err := p.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "health check failed", "check", name, "error", err.Error())
			checks[name] = "down"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}

	httpx.WriteJSON(w, code, map[string]any{
		"status":  status,
		"service": s.config.Observability.ServiceName,
		"version": s.config.Observability.ServiceVersion,
		"checks":  checks,
	})
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded, forcing close")
			return s.server.Close()
		}
		return err
	}

	return nil
}
