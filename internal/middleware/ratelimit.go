package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"

	"github.com/radiusdt/leadgen-analytics/internal/config"
	"github.com/radiusdt/leadgen-analytics/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientIPContextKey holds the client address resolved by RateLimitMiddleware.
const ClientIPContextKey contextKey = "client_ip"

// RateLimitMiddleware implements token bucket rate limiting.  Public lead
// submissions are limited per client IP; admin traffic shares one bucket.
type RateLimitMiddleware struct {
	cfg          config.RateLimitConfig
	logger       *zap.Logger
	metrics      *metrics.Metrics
	adminLimiter *rate.Limiter
	trusted      []netip.Prefix

	mu         sync.RWMutex
	ipLimiters map[string]*rate.Limiter
}

// NewRateLimitMiddleware creates a new rate limiting middleware.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimitMiddleware {
	trusted := make([]netip.Prefix, 0, len(cfg.TrustedProxies))
	for _, p := range cfg.TrustedProxies {
		prefix, err := config.ParseProxy(p)
		if err != nil {
			logger.Warn("ignoring trusted proxy", zap.String("proxy", p), zap.Error(err))
			continue
		}
		trusted = append(trusted, prefix)
	}

	return &RateLimitMiddleware{
		cfg:          cfg,
		logger:       logger,
		adminLimiter: rate.NewLimiter(rate.Limit(cfg.AdminRPS), cfg.AdminBurst),
		trusted:      trusted,
		ipLimiters:   make(map[string]*rate.Limiter),
	}
}

// SetMetrics sets the metrics collector.
func (rl *RateLimitMiddleware) SetMetrics(m *metrics.Metrics) {
	rl.metrics = m
}

// Handler wraps an http.Handler with rate limiting.  It also records the
// resolved client address for ClientIP.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := rl.ResolveClientIP(r)
		r = r.WithContext(context.WithValue(r.Context(), ClientIPContextKey, ip))

		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		var (
			limiter  *rate.Limiter
			endpoint string
		)
		switch {
		case isLeadEndpoint(r):
			limiter = rl.getIPLimiter(ip)
			endpoint = "leads"
		case strings.HasPrefix(r.URL.Path, "/api/admin/"):
			limiter = rl.adminLimiter
			endpoint = "admin"
		default:
			next.ServeHTTP(w, r)
			return
		}

		if !limiter.Allow() {
			rl.logger.Warn("rate limit exceeded",
				zap.String("endpoint", endpoint),
				zap.String("path", r.URL.Path),
				zap.String("ip", ip),
			)
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitHit(endpoint)
			}
			tooManyRequests(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getIPLimiter returns or creates a rate limiter for the given IP.
func (rl *RateLimitMiddleware) getIPLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.ipLimiters[ip]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists = rl.ipLimiters[ip]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(rl.cfg.LeadRPS), rl.cfg.LeadBurst)
	rl.ipLimiters[ip] = limiter
	return limiter
}

// CleanupIPLimiters drops all per-IP limiters.  Call periodically.
func (rl *RateLimitMiddleware) CleanupIPLimiters() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := len(rl.ipLimiters)
	rl.ipLimiters = make(map[string]*rate.Limiter)
	rl.logger.Debug("cleaned up IP rate limiters", zap.Int("count", n))
}

func (rl *RateLimitMiddleware) trustedPeer(addr netip.Addr) bool {
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ResolveClientIP returns the client address of r.  Forwarding headers are
// honored only when the peer is a trusted proxy; X-Forwarded-For is walked
// right to left and the first hop outside the trusted set wins.
func (rl *RateLimitMiddleware) ResolveClientIP(r *http.Request) string {
	peer := remoteHost(r)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !rl.trustedPeer(addr.Unmap()) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		client := peer
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			a, err := netip.ParseAddr(hop)
			if err != nil {
				break
			}
			client = a.Unmap().String()
			if !rl.trustedPeer(a.Unmap()) {
				break
			}
		}
		return client
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if a, err := netip.ParseAddr(xri); err == nil {
			return a.Unmap().String()
		}
	}
	return peer
}

func isLeadEndpoint(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == "/api/leads"
}

// ClientIP returns the client address resolved by RateLimitMiddleware, or the
// socket peer when the request did not pass through it.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ClientIPContextKey).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded"}`))
}
