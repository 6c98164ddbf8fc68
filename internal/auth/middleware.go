package auth

import (
	"net/http"
	"strings"

	"github.com/sundayezeilo/golinks/internal/errx"
	"github.com/sundayezeilo/golinks/internal/httpx"
)

// CookieName is checked when no Authorization header is present.
const CookieName = "auth_token"

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Require rejects requests without a valid token and stores the principal otherwise.
func Require(s *Signer) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFromRequest(r)
			if raw == "" {
				httpx.WriteKind(w, errx.Unauthorized, "missing bearer token")
				return
			}

			p, err := s.Verify(raw)
			if err != nil {
				httpx.WriteKind(w, errx.Unauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin must run after Require.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok {
			httpx.WriteKind(w, errx.Unauthorized, "authentication required")
			return
		}
		if !p.IsAdmin {
			httpx.WriteKind(w, errx.Forbidden, "admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
