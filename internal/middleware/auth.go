package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/radiusdt/leadgen-analytics/internal/session"
	"go.uber.org/zap"
)

type contextKey string

const (
	// SessionContextKey holds the validated admin token.
	SessionContextKey contextKey = "session_token"

	// AuthQueryParam is the fallback for clients that cannot set headers,
	// such as EventSource.
	AuthQueryParam = "access_token"
)

// AuthMiddleware admits requests carrying a live admin session token.
type AuthMiddleware struct {
	sessions *session.Manager
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(sessions *session.Manager, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions, logger: logger}
}

// Handler wraps an http.Handler with authentication.
func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			token = r.URL.Query().Get(AuthQueryParam)
		}
		if token == "" {
			unauthorized(w, "missing session token")
			return
		}

		if err := a.sessions.Validate(r.Context(), token); err != nil {
			if !errors.Is(err, session.ErrInvalidSession) {
				a.logger.Error("session lookup failed", zap.Error(err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"error":"session store unavailable"}`))
				return
			}
			a.logger.Warn("invalid session token",
				zap.String("path", r.URL.Path),
				zap.String("ip", ClientIP(r)),
			)
			unauthorized(w, "invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// TokenFromContext returns the session token stored by AuthMiddleware.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(SessionContextKey).(string)
	return token
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
