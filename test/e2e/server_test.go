package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sundayezeilo/golinks/internal/app"
	"github.com/sundayezeilo/golinks/internal/audit"
	"github.com/sundayezeilo/golinks/internal/auth"
	"github.com/sundayezeilo/golinks/internal/config"
	"github.com/sundayezeilo/golinks/internal/links"
)

const (
	testSecret = "e2e-test-secret-0123456789"
	testIssuer = "golinks-e2e"
)

// testApp holds a running application backed by real Postgres and Redis containers.
type testApp struct {
	app    *app.App
	http   *httptest.Server
	client *http.Client
	signer *auth.Signer
}

// setupTestApp starts the backing containers and the full HTTP stack.
func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("e2e tests need docker; skipped with -short")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	testcontainers.CleanupContainer(t, pgContainer)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	testcontainers.CleanupContainer(t, redisContainer)

	pgHost, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get postgres host: %v", err)
	}
	pgPort, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to get postgres port: %v", err)
	}
	redisAddr, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:            "8080",
			Host:            "localhost",
			BaseURL:         "http://localhost:8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: config.StoreConfig{Driver: config.DriverPostgres},
		Database: config.DatabaseConfig{
			Host:     pgHost,
			Port:     pgPort.Port(),
			User:     "testuser",
			Password: "testpass",
			Name:     "testdb",
			SSLMode:  "disable",
			MaxConns: 10,
			MinConns: 2,
		},
		Cache: config.CacheConfig{
			Addr:        redisAddr,
			DialTimeout: 2 * time.Second,
			LinkTTL:     time.Hour,
		},
		Auth:      config.AuthConfig{JWTSecret: testSecret, Issuer: testIssuer},
		RateLimit: config.RateLimitConfig{PerMinute: 0},
		App: config.AppConfig{
			Environment: "test",
			LogLevel:    "error",
		},
		Observability: config.ObservabilityConfig{
			ServiceName:    "golinks-test",
			ServiceVersion: "test",
		},
	}

	a, err := app.Build(ctx, cfg, setupTestLogger())
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})

	srv := httptest.NewServer(a.Server.Handler())
	t.Cleanup(srv.Close)

	return &testApp{
		app:  a,
		http: srv,
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		signer: auth.NewSigner(&auth.Config{Secret: testSecret, Issuer: testIssuer}),
	}
}

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func (ta *testApp) token(t *testing.T, p auth.Principal) string {
	t.Helper()
	tok, err := ta.signer.Issue(p, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return tok
}

// call sends a request and decodes a JSON response body into out when out is non-nil.
func (ta *testApp) call(t *testing.T, method, path, token string, body, out any) *http.Response {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, ta.http.URL+path, rdr)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ta.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("failed to decode %q: %v", raw, err)
		}
	}
	return resp
}

func TestHealthCheck(t *testing.T) {
	ta := setupTestApp(t)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	resp := ta.call(t, http.MethodGet, "/x/health", "", nil, &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if body.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", body.Status)
	}
	if body.Checks["store"] != "up" || body.Checks["cache"] != "up" {
		t.Errorf("unexpected checks: %v", body.Checks)
	}
}

func TestLinkLifecycle_E2E(t *testing.T) {
	ta := setupTestApp(t)
	owner := ta.token(t, auth.Principal{UserID: 100})
	stranger := ta.token(t, auth.Principal{UserID: 200})

	var created links.LinkResponse
	resp := ta.call(t, http.MethodPost, "/links", owner, links.CreateLinkRequest{
		ShortCode: "Launch",
		TargetURL: "https://example.com/launch",
		Title:     "Launch notes",
	}, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	if created.ShortCode != "launch" {
		t.Errorf("expected normalized code 'launch', got %q", created.ShortCode)
	}
	idPath := "/links/id/" + strconv.FormatInt(created.ID, 10)

	t.Run("duplicate code conflicts", func(t *testing.T) {
		var errBody map[string]any
		resp := ta.call(t, http.MethodPost, "/links", stranger, links.CreateLinkRequest{
			ShortCode: "launch",
			TargetURL: "https://example.com/other",
			Title:     "Other",
		}, &errBody)
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("expected 409, got %d", resp.StatusCode)
		}
		if errBody["error"] != "conflict" {
			t.Errorf("expected error 'conflict', got %v", errBody["error"])
		}
	})

	t.Run("resolve redirects and counts", func(t *testing.T) {
		for range 3 {
			resp := ta.call(t, http.MethodGet, "/links/launch", "", nil, nil)
			if resp.StatusCode != http.StatusFound {
				t.Fatalf("expected 302, got %d", resp.StatusCode)
			}
			if loc := resp.Header.Get("Location"); loc != "https://example.com/launch" {
				t.Fatalf("unexpected Location %q", loc)
			}
		}

		var stats links.StatsResponse
		resp := ta.call(t, http.MethodGet, "/links/stats/launch", owner, nil, &stats)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
		}
		if stats.AccessCount != 3 {
			t.Errorf("expected access_count 3, got %d", stats.AccessCount)
		}
		// Every resolution was a cache hit, so the store was never touched.
		if stats.LastAccessed != nil {
			t.Errorf("expected no persisted last_accessed, got %s", *stats.LastAccessed)
		}
	})

	t.Run("stranger cannot manage", func(t *testing.T) {
		if resp := ta.call(t, http.MethodGet, idPath, stranger, nil, nil); resp.StatusCode != http.StatusForbidden {
			t.Errorf("get: expected 403, got %d", resp.StatusCode)
		}
		if resp := ta.call(t, http.MethodGet, "/links/stats/launch", stranger, nil, nil); resp.StatusCode != http.StatusForbidden {
			t.Errorf("stats: expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("deactivate hides the link", func(t *testing.T) {
		inactive := false
		var updated links.LinkResponse
		resp := ta.call(t, http.MethodPut, "/links/"+strconv.FormatInt(created.ID, 10), owner,
			links.UpdateLinkRequest{IsActive: &inactive}, &updated)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("update: expected 200, got %d", resp.StatusCode)
		}
		if updated.IsActive {
			t.Error("expected is_active false")
		}

		if resp := ta.call(t, http.MethodGet, "/links/launch", "", nil, nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("resolve inactive: expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("audit trail", func(t *testing.T) {
		var logs []audit.Log
		resp := ta.call(t, http.MethodGet, idPath+"/audit", owner, nil, &logs)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		// create + 3 accesses + update, newest first
		if len(logs) != 5 {
			t.Fatalf("expected 5 audit records, got %d", len(logs))
		}
		if logs[0].Action != audit.ActionUpdate {
			t.Errorf("expected newest action %q, got %q", audit.ActionUpdate, logs[0].Action)
		}
		if logs[len(logs)-1].Action != audit.ActionCreate {
			t.Errorf("expected oldest action %q, got %q", audit.ActionCreate, logs[len(logs)-1].Action)
		}
	})

	t.Run("delete", func(t *testing.T) {
		resp := ta.call(t, http.MethodDelete, "/links/"+strconv.FormatInt(created.ID, 10), owner, nil, nil)
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", resp.StatusCode)
		}
		if resp := ta.call(t, http.MethodGet, idPath, owner, nil, nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("get after delete: expected 404, got %d", resp.StatusCode)
		}
		if resp := ta.call(t, http.MethodGet, "/links/launch", "", nil, nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("resolve after delete: expected 404, got %d", resp.StatusCode)
		}

		var mine []audit.Log
		ta.call(t, http.MethodGet, "/audit/me", owner, nil, &mine)
		if len(mine) == 0 || mine[0].Action != audit.ActionDelete {
			t.Errorf("expected newest own record to be a delete, got %+v", mine)
		}
	})
}

func TestListLinks_E2E(t *testing.T) {
	ta := setupTestApp(t)
	owner := ta.token(t, auth.Principal{UserID: 100})

	for i := range 5 {
		resp := ta.call(t, http.MethodPost, "/links", owner, links.CreateLinkRequest{
			TargetURL: fmt.Sprintf("https://example.com/page/%d", i),
			Title:     fmt.Sprintf("Page %d", i),
		}, nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create %d: expected 201, got %d", i, resp.StatusCode)
		}
	}

	tests := []struct {
		name      string
		query     string
		wantCount int
		wantTotal int64
		wantPage  int
	}{
		{"default window", "", 5, 5, 1},
		{"second page", "?skip=2&limit=2", 2, 5, 2},
		{"search by title", "?search=page%203", 1, 1, 1},
		{"no match", "?search=nothing-here", 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var list links.ListResponse
			resp := ta.call(t, http.MethodGet, "/links"+tt.query, owner, nil, &list)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			if len(list.Links) != tt.wantCount {
				t.Errorf("expected %d links, got %d", tt.wantCount, len(list.Links))
			}
			if list.Total != tt.wantTotal {
				t.Errorf("expected total %d, got %d", tt.wantTotal, list.Total)
			}
			if list.Page != tt.wantPage {
				t.Errorf("expected page %d, got %d", tt.wantPage, list.Page)
			}
		})
	}
}

func TestAdminFlushCache_E2E(t *testing.T) {
	ta := setupTestApp(t)
	owner := ta.token(t, auth.Principal{UserID: 100})
	admin := ta.token(t, auth.Principal{UserID: 1000, IsAdmin: true})

	ta.call(t, http.MethodPost, "/links", owner, links.CreateLinkRequest{
		ShortCode: "cached",
		TargetURL: "https://example.com/cached",
		Title:     "Cached",
	}, nil)

	if resp := ta.call(t, http.MethodDelete, "/admin/cache", owner, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-admin flush: expected 403, got %d", resp.StatusCode)
	}

	var out map[string]bool
	resp := ta.call(t, http.MethodDelete, "/admin/cache", admin, nil, &out)
	if resp.StatusCode != http.StatusOK || !out["cleared"] {
		t.Fatalf("admin flush: status %d, body %v", resp.StatusCode, out)
	}

	// The store still serves the link after the cache is emptied.
	resp = ta.call(t, http.MethodGet, "/links/cached", "", nil, nil)
	if resp.StatusCode != http.StatusFound {
		t.Errorf("resolve after flush: expected 302, got %d", resp.StatusCode)
	}
}
