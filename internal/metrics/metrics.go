package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Lead capture
	Submissions       *prometheus.CounterVec
	ValidationErrors  *prometheus.CounterVec
	SubmissionUpdates *prometheus.CounterVec

	// Meta sync
	SyncRuns     *prometheus.CounterVec
	SyncRows     prometheus.Counter
	SyncErrors   *prometheus.CounterVec
	SyncDuration prometheus.Histogram

	// Analytics
	ReportDuration *prometheus.HistogramVec
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec

	// Real-time
	ChangeEvents *prometheus.CounterVec
	SSEClients   prometheus.Gauge

	// Sessions
	Logins *prometheus.CounterVec

	// Rate limiting
	RateLimitHits *prometheus.CounterVec

	// System
	DBConnections *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics on reg.  Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Lead form submissions stored",
			},
			[]string{"type", "language"},
		),
		ValidationErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submission_validation_errors_total",
				Help:      "Lead form submissions rejected by validation",
			},
			[]string{"field"},
		),
		SubmissionUpdates: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submission_updates_total",
				Help:      "Admin edits to submissions",
			},
			[]string{"generation"},
		),

		SyncRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "meta_sync_runs_total",
				Help:      "Meta sync invocations by action and outcome",
			},
			[]string{"action", "status"},
		),
		SyncRows: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "meta_sync_rows_total",
				Help:      "Ad performance rows upserted by the Meta sync",
			},
		),
		SyncErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "meta_sync_campaign_errors_total",
				Help:      "Per-campaign insight fetch failures",
			},
			[]string{"campaign_id"},
		),
		SyncDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "meta_sync_duration_seconds",
				Help:      "Meta sync duration",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		ReportDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "report_duration_seconds",
				Help:      "Analytics report build latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"report"},
		),
		CacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_cache_hits_total",
				Help:      "Analytics report cache hits",
			},
			[]string{"report"},
		),
		CacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_cache_misses_total",
				Help:      "Analytics report cache misses",
			},
			[]string{"report"},
		),

		ChangeEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "change_events_total",
				Help:      "Table change events published",
			},
			[]string{"table", "type"},
		),
		SSEClients: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sse_clients",
				Help:      "Connected admin event streams",
			},
		),

		Logins: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admin_logins_total",
				Help:      "Admin login attempts",
			},
			[]string{"status"},
		),

		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),

		DBConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics of a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordSubmission records a stored lead.
func (m *Metrics) RecordSubmission(leadType, language string) {
	m.Submissions.WithLabelValues(leadType, language).Inc()
}

// RecordValidationError records a rejected form field.
func (m *Metrics) RecordValidationError(field string) {
	m.ValidationErrors.WithLabelValues(field).Inc()
}

// RecordSubmissionUpdate records an admin edit.
func (m *Metrics) RecordSubmissionUpdate(generation string) {
	m.SubmissionUpdates.WithLabelValues(generation).Inc()
}

// RecordSync records a sync invocation.
func (m *Metrics) RecordSync(action, status string, rows int, d time.Duration) {
	m.SyncRuns.WithLabelValues(action, status).Inc()
	if rows > 0 {
		m.SyncRows.Add(float64(rows))
	}
	m.SyncDuration.Observe(d.Seconds())
}

// RecordSyncError records a skipped campaign.
func (m *Metrics) RecordSyncError(campaignID string) {
	m.SyncErrors.WithLabelValues(campaignID).Inc()
}

// RecordReport records report latency and cache outcome.
func (m *Metrics) RecordReport(report string, cacheHit bool, d time.Duration) {
	if cacheHit {
		m.CacheHits.WithLabelValues(report).Inc()
	} else {
		m.CacheMisses.WithLabelValues(report).Inc()
	}
	m.ReportDuration.WithLabelValues(report).Observe(d.Seconds())
}

// RecordChangeEvent records a published change.
func (m *Metrics) RecordChangeEvent(table, op string) {
	m.ChangeEvents.WithLabelValues(table, op).Inc()
}

// RecordLogin records a login attempt.
func (m *Metrics) RecordLogin(ok bool) {
	status := "failed"
	if ok {
		status = "ok"
	}
	m.Logins.WithLabelValues(status).Inc()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}
