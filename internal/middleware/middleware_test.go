package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/radiusdt/leadgen-analytics/internal/config"
	"github.com/radiusdt/leadgen-analytics/internal/metrics"
	"github.com/radiusdt/leadgen-analytics/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var noContent = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRecoveryMiddleware(t *testing.T) {
	h := NewRecoveryMiddleware(zap.NewNop()).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pages", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestLoggingMiddlewareKeepsFlusher(t *testing.T) {
	var flushed bool
	h := NewLoggingMiddleware(zap.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		f.Flush()
		flushed = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/events", nil))
	assert.True(t, flushed)
	assert.True(t, rec.Flushed)
}

func TestRateLimitLeadsPerIP(t *testing.T) {
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	rl := NewRateLimitMiddleware(config.RateLimitConfig{
		Enabled:    true,
		LeadRPS:    0.001,
		LeadBurst:  2,
		AdminRPS:   100,
		AdminBurst: 100,
	}, zap.NewNop())
	rl.SetMetrics(m)
	h := rl.Handler(noContent)

	post := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/leads", nil)
		req.RemoteAddr = ip + ":40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, post("1.1.1.1"))
	assert.Equal(t, http.StatusNoContent, post("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, post("1.1.1.1"))
	assert.Equal(t, http.StatusNoContent, post("2.2.2.2"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues("leads")))

	rl.CleanupIPLimiters()
	assert.Equal(t, http.StatusNoContent, post("1.1.1.1"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pages", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	h := NewRateLimitMiddleware(config.RateLimitConfig{}, zap.NewNop()).Handler(noContent)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/leads", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	rl := NewRateLimitMiddleware(config.RateLimitConfig{
		Enabled:   true,
		LeadRPS:   1,
		LeadBurst: 1,
	}, zap.NewNop())
	h := rl.Handler(noContent)

	accepted := 0
	for i := 0; i < 500; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/leads", nil)
		req.RemoteAddr = "203.0.113.50:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i%250))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i%250))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusNoContent {
			accepted++
		}
	}

	assert.Equal(t, 1, accepted)
	rl.mu.RLock()
	assert.Len(t, rl.ipLimiters, 1)
	rl.mu.RUnlock()
}

func TestRateLimitTrustedProxy(t *testing.T) {
	rl := NewRateLimitMiddleware(config.RateLimitConfig{
		Enabled:        true,
		LeadRPS:        0.001,
		LeadBurst:      1,
		TrustedProxies: []string{"10.0.0.0/8"},
	}, zap.NewNop())
	h := rl.Handler(noContent)

	post := func(xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/leads", nil)
		req.RemoteAddr = "10.0.0.1:40000"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, post("192.0.2.7"))
	// A client-supplied leftmost entry does not change the resolved hop.
	assert.Equal(t, http.StatusTooManyRequests, post("1.2.3.4, 192.0.2.7"))
	assert.Equal(t, http.StatusNoContent, post("198.51.100.2, 10.0.0.9"))
}

func TestResolveClientIP(t *testing.T) {
	rl := NewRateLimitMiddleware(config.RateLimitConfig{
		TrustedProxies: []string{"10.0.0.0/8", "192.0.2.1", "not-an-ip"},
	}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	req.Header.Set("X-Forwarded-For", "198.51.100.2")
	req.Header.Set("X-Real-IP", "198.51.100.3")
	assert.Equal(t, "203.0.113.9", rl.ResolveClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:51234"
	req.Header.Set("X-Real-IP", "198.51.100.3")
	assert.Equal(t, "198.51.100.3", rl.ResolveClientIP(req))

	req.Header.Set("X-Forwarded-For", " 1.1.1.1, 198.51.100.2 , 10.1.2.3")
	assert.Equal(t, "198.51.100.2", rl.ResolveClientIP(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.2, 10.1.2.3")
	assert.Equal(t, "10.0.0.2", rl.ResolveClientIP(req))

	req.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "192.0.2.1", rl.ResolveClientIP(req))
}

func TestClientIPFromContext(t *testing.T) {
	var seen string
	rl := NewRateLimitMiddleware(config.RateLimitConfig{}, zap.NewNop())
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIP(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.7", ClientIP(req))

	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "192.0.2.7", seen)
}

func TestAuthMiddleware(t *testing.T) {
	ctx := context.Background()
	sessions := session.NewManager("pw", time.Hour, session.NewMemoryStore())
	s, err := sessions.Login(ctx, "pw")
	require.NoError(t, err)

	var seen string
	h := NewAuthMiddleware(sessions, zap.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TokenFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"forged", "Bearer nope", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + s.Token, "", http.StatusUnauthorized},
		{"bearer", "Bearer " + s.Token, "", http.StatusNoContent},
		{"lowercase bearer", "bearer " + s.Token, "", http.StatusNoContent},
		{"query fallback", "", s.Token, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			target := "/api/admin/submissions"
			if tt.query != "" {
				target += "?access_token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, s.Token, seen)
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}
