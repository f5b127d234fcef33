package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/radiusdt/leadgen-analytics/internal/analytics"
	"github.com/radiusdt/leadgen-analytics/internal/config"
	"github.com/radiusdt/leadgen-analytics/internal/export"
	"github.com/radiusdt/leadgen-analytics/internal/metasync"
	"github.com/radiusdt/leadgen-analytics/internal/metrics"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/realtime"
	"github.com/radiusdt/leadgen-analytics/internal/session"
	"github.com/radiusdt/leadgen-analytics/internal/site"
	"github.com/radiusdt/leadgen-analytics/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminPassword = "s3cret"

type testServer struct {
	handler http.Handler
	repos   *storage.Repos
	hub     *realtime.Hub
}

type failingCheck struct{}

func (failingCheck) Health(context.Context) error { return context.DeadlineExceeded }

func newTestServer(t *testing.T, checks map[string]HealthChecker) *testServer {
	t.Helper()
	return newTestServerWith(t, checks, nil)
}

func newTestServerWith(t *testing.T, checks map[string]HealthChecker, configure func(*Dependencies)) *testServer {
	t.Helper()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)
	hub := realtime.NewHub(logger, m)
	t.Cleanup(hub.Close)
	repos := storage.NewInMemoryRepos(hub)

	pages, err := site.NewPages(nil)
	require.NoError(t, err)

	cfg := &config.Config{
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}

	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Gatherer: reg,
		Repos:    repos,
		Hub:      hub,
		Analytics: analytics.NewService(repos, analytics.ServiceConfig{
			Rules: analytics.DefaultRules(),
			Plan:  analytics.Plan{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Weeks: 13},
		}, analytics.NewMemoryCache(), m, logger),
		Sync:     metasync.NewService(metasync.NewClient("http://127.0.0.1:1", "v19.0", time.Second), repos, 7, m, logger),
		Leads:    site.NewLeadService(repos.Submissions, pages, nil, models.GenerationV1, m, logger),
		Sessions: session.NewManager(adminPassword, time.Hour, session.NewMemoryStore()),
		Checks:   checks,
	}
	if configure != nil {
		configure(deps)
	}
	return &testServer{handler: NewServer(deps), repos: repos, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{"password": adminPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var s session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	return s.Token
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ts = newTestServer(t, map[string]HealthChecker{"postgres": failingCheck{}})
	rec = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","postgres":"down"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{"password": "nope"})

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_admin_logins_total{status="failed"} 1`)
}

func TestPages(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/pages", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pages []site.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pages))
	assert.Len(t, pages, len(site.DefaultPages))

	rec = ts.do(t, http.MethodGet, "/api/pages?path=/fr/lookbook", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"language":"fr"`)

	rec = ts.do(t, http.MethodGet, "/api/pages?path=/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateLead(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/leads", "", map[string]any{
		"name":     "Jan",
		"email":    "jan@bouw.be",
		"consent":  true,
		"page_url": "https://example.be/nl/trendgids?utm_source=facebook&utm_medium=paid",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	subs, err := ts.repos.Submissions.List(context.Background(), models.SubmissionFilter{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, models.LeadTypeTrendGuide, subs[0].Type)
	assert.Equal(t, "facebook", subs[0].UTM.Source)

	rec = ts.do(t, http.MethodPost, "/api/leads", "", map[string]any{"name": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Fields, "email")
	assert.Contains(t, body.Fields, "consent")

	req := httptest.NewRequest(http.MethodPost, "/api/leads", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminRequiresSession(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, target := range []string{"/api/admin/submissions", "/api/admin/budgets", "/api/admin/analytics/overview"} {
		rec := ts.do(t, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
	rec := ts.do(t, http.MethodPost, "/functions/meta-sync", "", map[string]string{"action": "auto_sync"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := ts.login(t)
	rec = ts.do(t, http.MethodGet, "/api/admin/submissions", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/admin/submissions", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmissionsAdmin(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, nil)
	token := ts.login(t)

	sub := &models.Submission{
		Name: "Marie", Email: "marie@exemple.fr", Type: models.LeadTypeLookbook, Language: "fr",
		Consent: true, CreatedAt: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, ts.repos.Submissions.Insert(ctx, models.GenerationV2, sub))

	rec := ts.do(t, http.MethodGet, "/api/admin/submissions?generation=v2&from=2024-03-05&to=2024-03-05", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = ts.do(t, http.MethodGet, "/api/admin/submissions?generation=v2&from=2024-03-06", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/admin/submissions?from=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/api/admin/submissions/"+sub.ID+"?generation=v2", token,
		map[string]string{"quality": "Goed", "sales_status": "meeting_scheduled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := ts.repos.Submissions.Get(ctx, models.GenerationV2, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QualityGood, got.Quality)
	assert.Equal(t, models.SalesMeetingScheduled, got.SalesStatus)

	rec = ts.do(t, http.MethodPatch, "/api/admin/submissions/"+sub.ID+"?generation=v2", token,
		map[string]string{"sales_status": "won"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/api/admin/submissions/missing?generation=v2", token,
		map[string]string{"sales_rep": "Piet"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/submissions/export?generation=v2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "submissions-v2-")
	assert.NotZero(t, rec.Body.Len())
}

func TestSubmissionListFollowsEvents(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, nil)
	token := ts.login(t)

	sub := &models.Submission{Name: "Marie", Email: "marie@exemple.fr", Type: models.LeadTypeLookbook, Language: "fr", Consent: true}
	require.NoError(t, ts.repos.Submissions.Insert(ctx, models.GenerationV2, sub))

	rec := ts.do(t, http.MethodGet, "/api/admin/submissions?generation=v2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*models.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	events, cancel := ts.hub.Subscribe(models.GenerationV2.Table())
	defer cancel()

	rec = ts.do(t, http.MethodPatch, "/api/admin/submissions/"+sub.ID+"?generation=v2", token,
		map[string]string{"sales_rep": "Piet"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ev realtime.Event
	select {
	case ev = <-events:
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	decode := func(b json.RawMessage) (*models.Submission, error) {
		var s models.Submission
		err := json.Unmarshal(b, &s)
		return &s, err
	}
	list, err := realtime.Merge(list, ev, func(s *models.Submission) string { return s.ID }, decode)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Piet", list[0].SalesRep)
}

func TestBudgetsAndReports(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/budgets", token, map[string]any{
		"campaign_name": "Paid social Q1",
		"utm_sources":   []string{"facebook"},
		"budget":        500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b models.CampaignBudget
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	require.NotEmpty(t, b.ID)

	rec = ts.do(t, http.MethodPost, "/api/admin/budgets", token, map[string]any{"budget": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/budgets", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Paid social Q1")

	rec = ts.do(t, http.MethodGet, "/api/admin/analytics", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "overview")

	for _, name := range analytics.Reports() {
		rec = ts.do(t, http.MethodGet, "/api/admin/analytics/"+name, token, nil)
		assert.Equal(t, http.StatusOK, rec.Code, name)
	}
	rec = ts.do(t, http.MethodGet, "/api/admin/analytics/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/admin/budgets/"+b.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/admin/budgets/"+b.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWeeklyReportWithoutPlanStart(t *testing.T) {
	ts := newTestServerWith(t, nil, func(d *Dependencies) {
		d.Analytics = analytics.NewService(d.Repos, analytics.ServiceConfig{
			Rules: analytics.DefaultRules(),
			Plan:  analytics.Plan{Weeks: 13},
		}, analytics.NewMemoryCache(), d.Metrics, d.Logger)
	})
	token := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/api/admin/analytics/weekly", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "LEADGEN_PACING_START")

	rec = ts.do(t, http.MethodGet, "/api/admin/analytics/overview", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateLeadRateLimitedPerSocket(t *testing.T) {
	ts := newTestServerWith(t, nil, func(d *Dependencies) {
		d.Config.RateLimit = config.RateLimitConfig{Enabled: true, LeadRPS: 0.001, LeadBurst: 1}
	})

	post := func(xff string) int {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(map[string]any{
			"name":     "Jan",
			"email":    "jan@bouw.be",
			"consent":  true,
			"page_url": "https://example.be/nl/stalen",
		}))
		req := httptest.NewRequest(http.MethodPost, "/api/leads", &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", xff)
		req.RemoteAddr = "203.0.113.50:40000"
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusCreated, post("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, post("198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, post("198.51.100.3"))
}

func TestSyncEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login(t)

	rec := ts.do(t, http.MethodPut, "/api/admin/sync/campaigns", token, []map[string]any{
		{"campaign_id": "c1", "campaign_name": "Campagne 1", "enabled": true},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "c1")

	rec = ts.do(t, http.MethodPut, "/api/admin/sync/campaigns", token, []map[string]any{{"campaign_id": ""}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	t.Setenv("META_ACCESS_TOKEN", "")
	t.Setenv("META_AD_ACCOUNT_ID", "")
	rec = ts.do(t, http.MethodPost, "/functions/meta-sync", token, map[string]string{"action": "list_campaigns"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp metasync.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "META_ACCESS_TOKEN")

	req := httptest.NewRequest(http.MethodPost, "/functions/meta-sync", strings.NewReader("not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEventsStream(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.login(t)

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/admin/events?tables=campaign_budgets&access_token="+token, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	rec := ts.do(t, http.MethodPost, "/api/admin/budgets", token, map[string]any{"campaign_name": "Lookbook", "budget": 100})
	require.Equal(t, http.StatusCreated, rec.Code)

	var event, data string
	for data == "" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, storage.TableBudgets, event)

	var ev realtime.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, realtime.OpInsert, ev.Type)
	assert.Contains(t, string(ev.Record), "Lookbook")
}
