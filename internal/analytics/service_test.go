package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/radiusdt/leadgen-analytics/internal/metrics"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/realtime"
	"github.com/radiusdt/leadgen-analytics/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type serviceFixture struct {
	repos   *storage.Repos
	cache   *MemoryCache
	metrics *metrics.Metrics
	svc     *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	repos := storage.NewInMemoryRepos(nil)
	cache := NewMemoryCache()
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	svc := NewService(repos, ServiceConfig{
		Rules:    DefaultRules(),
		Plan:     Plan{Start: planStart, Weeks: 13, WeeklySQLTarget: 1, WeeklySpend: 100},
		CacheTTL: time.Minute,
	}, cache, m, zap.NewNop())
	svc.now = func() time.Time { return planStart.AddDate(0, 0, 3) }
	return &serviceFixture{repos: repos, cache: cache, metrics: m, svc: svc}
}

func (f *serviceFixture) insert(t *testing.T, quality, source, campaign string, day int) {
	t.Helper()
	q, _ := models.ParseQuality(quality)
	require.NoError(t, f.repos.Submissions.Insert(context.Background(), models.GenerationV1, &models.Submission{
		Name:      "lead",
		Email:     "lead@example.be",
		Type:      models.LeadTypeSamplePack,
		Quality:   q,
		Language:  "nl",
		UTM:       models.UTM{Source: source, Medium: "paid", Campaign: campaign},
		CreatedAt: planStart.AddDate(0, 0, day),
	}))
}

func TestService_Overview(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	f.insert(t, "Goed", "facebook", "c1", 0)
	f.insert(t, "MQL", "instagram", "c1", 1)
	f.insert(t, "", "ActiveCampaign", "news 1", 2)
	require.NoError(t, f.repos.Budgets.Insert(ctx, &models.CampaignBudget{
		CampaignName: "Meta", UTMSources: []string{"facebook", "instagram"}, Budget: 300,
	}))
	require.NoError(t, f.repos.Budgets.Insert(ctx, &models.CampaignBudget{
		CampaignName: "Meta", UTMCampaigns: []string{"c1"}, Budget: 300,
	}))
	_, err := f.repos.AdPerformance.UpsertBatch(ctx, []*models.AdPerformanceRow{
		{Date: planStart, CampaignName: "c1", AdsetName: "lal_leads", AdName: "a", Spent: 42},
	})
	require.NoError(t, err)

	ov, err := f.svc.Overview(ctx, Filter{})
	require.NoError(t, err)

	assert.Equal(t, models.GenerationV1, ov.Filter.Generation)
	assert.Equal(t, 3, ov.Totals.Total)
	assert.Equal(t, 2, ov.Totals.Qualified)
	assert.Equal(t, 300.0, ov.Totals.Budget)
	assert.Equal(t, 100.0, ov.Totals.Metrics.CPL)
	assert.Equal(t, 2, ov.Paid.Total)
	assert.Equal(t, 300.0, ov.Paid.Budget)
	assert.Equal(t, 1, ov.Email.Total)
	assert.Equal(t, 42.0, ov.AdSpend)
}

func TestService_ChannelsExcludeEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.insert(t, "Goed", "facebook", "c1", 0)
	f.insert(t, "Goed", "ActiveCampaign", "n1", 0)

	rows, err := f.svc.Channels(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "facebook", rows[0].Key)
}

func TestService_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.insert(t, "Goed", "facebook", "c1", 0)

	first, err := f.svc.LeadMagnets(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].Total)

	f.insert(t, "Goed", "facebook", "c1", 1)

	cached, err := f.svc.LeadMagnets(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, cached[0].Total)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheHits.WithLabelValues(ReportLeadMagnets)))

	f.svc.Invalidate(ctx)

	fresh, err := f.svc.LeadMagnets(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, fresh[0].Total)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.CacheMisses.WithLabelValues(ReportLeadMagnets)))
}

func TestService_WatchInvalidatesOnChange(t *testing.T) {
	f := newServiceFixture(t)
	hub := realtime.NewHub(zap.NewNop(), nil)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Watch(ctx, hub) }()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(realtime.NewEvent(storage.TableBudgets, realtime.OpInsert, "b1", nil))

	require.Eventually(t, func() bool {
		v, _ := f.cache.Version(context.Background())
		return v == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestService_Weekly(t *testing.T) {
	f := newServiceFixture(t)
	f.insert(t, "Goed", "facebook", "c1", 0)
	f.insert(t, "Goed", "facebook", "c1", 8)
	f.insert(t, "Goed", "facebook", "c1", -5)

	rep, err := f.svc.Weekly(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, rep.Weeks, 13)
	assert.Equal(t, 1, rep.Weeks[0].ActualSQL)
	assert.Equal(t, 1, rep.Weeks[1].ActualSQL)
	assert.Equal(t, 1, rep.Forecast.ElapsedWeeks)
	assert.Equal(t, 1, rep.Forecast.CumulativeSQL)
}

func TestService_WeeklyWithoutPlanStart(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.cfg.Plan.Start = time.Time{}
	f.insert(t, "Goed", "facebook", "c1", 0)

	_, err := f.svc.Weekly(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrNoPlan)

	_, err = f.svc.Report(context.Background(), ReportWeekly, Filter{})
	assert.ErrorIs(t, err, ErrNoPlan)
}

func TestService_TopAndUnknownReport(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	for i := 0; i < 5; i++ {
		f.insert(t, "Goed", "facebook", "c1", i)
	}
	for i := 0; i < 3; i++ {
		f.insert(t, "Goed", "tiktok", "c2", i)
	}

	out, err := f.svc.Report(ctx, ReportTop, Filter{})
	require.NoError(t, err)
	top := out.(*TopReport)
	require.Len(t, top.Channels, 1)
	assert.Equal(t, "facebook", top.Channels[0].Key)

	_, err = f.svc.Report(ctx, "nope", Filter{})
	assert.ErrorIs(t, err, ErrUnknownReport)
}
