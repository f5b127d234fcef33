package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/radiusdt/leadgen-analytics/internal/analytics"
	"github.com/radiusdt/leadgen-analytics/internal/config"
	"github.com/radiusdt/leadgen-analytics/internal/metasync"
	"github.com/radiusdt/leadgen-analytics/internal/metrics"
	"github.com/radiusdt/leadgen-analytics/internal/middleware"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/realtime"
	"github.com/radiusdt/leadgen-analytics/internal/session"
	"github.com/radiusdt/leadgen-analytics/internal/site"
	"github.com/radiusdt/leadgen-analytics/internal/storage"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// HealthChecker is a backing service that can report its health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Repos     *storage.Repos
	Hub       *realtime.Hub
	Analytics *analytics.Service
	Sync      *metasync.Service
	Leads     *site.LeadService
	Sessions  *session.Manager
	// Limiter is built from Config.RateLimit when nil.
	Limiter *middleware.RateLimitMiddleware
	// Checks are probed by /health, keyed by name.
	Checks map[string]HealthChecker
}

// Server wraps HTTP handlers and the lead and analytics services.
type Server struct {
	repos     *storage.Repos
	hub       *realtime.Hub
	analytics *analytics.Service
	sync      *metasync.Service
	leads     *site.LeadService
	sessions  *session.Manager
	checks    map[string]HealthChecker
	logger    *zap.Logger
	config    *config.Config
	metrics   *metrics.Metrics
	heartbeat time.Duration
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		repos:     deps.Repos,
		hub:       deps.Hub,
		analytics: deps.Analytics,
		sync:      deps.Sync,
		leads:     deps.Leads,
		sessions:  deps.Sessions,
		checks:    deps.Checks,
		logger:    deps.Logger,
		config:    deps.Config,
		metrics:   deps.Metrics,
		heartbeat: 25 * time.Second,
	}
	return s.routes(deps)
}

func (s *Server) routes(deps *Dependencies) http.Handler {
	recovery := middleware.NewRecoveryMiddleware(s.logger)
	logging := middleware.NewLoggingMiddleware(s.logger)
	limiter := deps.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimitMiddleware(s.config.RateLimit, s.logger)
		limiter.SetMetrics(s.metrics)
	}
	auth := middleware.NewAuthMiddleware(s.sessions, s.logger)

	r := chi.NewRouter()
	r.Use(recovery.Handler, logging.Handler, limiter.Handler)

	r.Get("/health", s.handleHealth)
	if s.config.Metrics.Enabled {
		gatherer := deps.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		r.Handle(s.config.Metrics.Path, metrics.HandlerFor(gatherer))
	}

	// Public landing pages
	r.Get("/api/pages", s.handlePages)
	r.Post("/api/leads", s.handleCreateLead)

	r.Post("/api/admin/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(auth.Handler)

		r.Post("/api/admin/logout", s.handleLogout)

		r.Get("/api/admin/submissions", s.handleListSubmissions)
		r.Get("/api/admin/submissions/export", s.handleExportSubmissions)
		r.Patch("/api/admin/submissions/{id}", s.handleUpdateSubmission)

		r.Get("/api/admin/budgets", s.handleListBudgets)
		r.Post("/api/admin/budgets", s.handleCreateBudget)
		r.Delete("/api/admin/budgets/{id}", s.handleDeleteBudget)

		r.Get("/api/admin/analytics", s.handleListReports)
		r.Get("/api/admin/analytics/{report}", s.handleReport)

		r.Get("/api/admin/sync/campaigns", s.handleGetSyncCampaigns)
		r.Put("/api/admin/sync/campaigns", s.handlePutSyncCampaigns)
		r.Post("/functions/meta-sync", s.handleMetaSync)

		r.Get("/api/admin/events", s.handleEvents)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.errorResponse(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	return r
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, c := range s.checks {
		if err := c.Health(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("service", name), zap.Error(err))
			status[name] = "down"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	s.jsonStatus(w, status, code)
}

// ---- Helpers ----

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

// parseDay accepts a YYYY-MM-DD date or an RFC 3339 timestamp.
func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// parseRange reads from/to query parameters.  A bare date in "to" is
// inclusive, so the bound moves to the following midnight.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := parseDay(q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid from date")
	}
	to, err := parseDay(q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid to date")
	}
	if raw := q.Get("to"); raw != "" && !strings.Contains(raw, "T") {
		to = to.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

func generation(r *http.Request) models.Generation {
	return models.ParseGeneration(r.URL.Query().Get("generation"))
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonStatus(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// validationResponse reports every failing field at once.
func (s *Server) validationResponse(w http.ResponseWriter, errs models.ValidationErrors) {
	s.jsonStatus(w, map[string]any{"error": "validation failed", "fields": errs}, http.StatusBadRequest)
}
