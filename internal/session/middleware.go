package session

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/storefront/internal/apperror"
)

// CookieName is the cookie that carries the visitor id.
const CookieName = "storefront_sid"

const cookieMaxAge = 365 * 24 * time.Hour

type contextKey struct{}

// FromContext returns the session attached by Middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}

// NewContext returns ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// Middleware resolves the visitor from its cookie, issuing a fresh id when
// the cookie is missing or not a valid id, and attaches the session to the
// request context.
func (m *Manager) Middleware(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visitorID := ""
			if c, err := r.Cookie(CookieName); err == nil {
				if id, err := xid.FromString(c.Value); err == nil {
					visitorID = id.String()
				}
			}
			if visitorID == "" {
				visitorID = xid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    visitorID,
					Path:     "/",
					MaxAge:   int(cookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			s := m.Get(r.Context(), visitorID)
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
		})
	}
}

// ErrorWriter renders an error response.
type ErrorWriter func(w http.ResponseWriter, err error)

// RequireAuth rejects anonymous visitors with ErrUnauthorized.
func RequireAuth(write ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := FromContext(r.Context())
			if !ok || !s.Identity().Authenticated() {
				write(w, apperror.Unauthorized("Unauthorized: Please login."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin rejects visitors without the ADMIN role.
func RequireAdmin(write ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := FromContext(r.Context())
			if !ok || !s.Identity().Authenticated() {
				write(w, apperror.Unauthorized("Unauthorized: Please login."))
				return
			}
			if !s.Identity().IsAdmin() {
				write(w, apperror.Forbidden("Access denied. Admin role required."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
