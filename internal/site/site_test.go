package site

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/radiusdt/leadgen-analytics/internal/config"
	"github.com/radiusdt/leadgen-analytics/internal/metrics"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubGeo struct {
	calls int
	codes map[string]string
}

func (g *stubGeo) Country(ip string) (string, error) {
	g.calls++
	c, ok := g.codes[ip]
	if !ok {
		return "", errors.New("not found")
	}
	return c, nil
}

func (g *stubGeo) Close() error { return nil }

func TestPagesResolve(t *testing.T) {
	p, err := NewPages(nil)
	require.NoError(t, err)
	assert.Len(t, p.All(), len(DefaultPages))

	page, ok := p.Resolve("/NL/Stalen/")
	require.True(t, ok)
	assert.Equal(t, models.LeadTypeSamplePack, page.Type)
	assert.Equal(t, "nl", page.Language)

	page, ok = p.Resolve("/fr/guide-tendances?utm_source=fb")
	require.True(t, ok)
	assert.Equal(t, models.LeadTypeTrendGuide, page.Type)

	_, ok = p.Resolve("/admin")
	assert.False(t, ok)
}

func TestPagesFromConfig(t *testing.T) {
	p, err := NewPages([]config.RouteConfig{{Path: "/nl/gratis-stalen", Type: "sample_pack", Language: "nl"}})
	require.NoError(t, err)
	assert.Len(t, p.All(), 1)
	_, ok := p.Resolve("/nl/stalen")
	assert.False(t, ok)

	_, err = NewPages([]config.RouteConfig{{Path: "/x", Type: "brochure", Language: "nl"}})
	assert.Error(t, err)

	_, err = NewPages([]config.RouteConfig{
		{Path: "/x", Type: "lookbook", Language: "nl"},
		{Path: "/X/", Type: "lookbook", Language: "fr"},
	})
	assert.Error(t, err)
}

func newLeadService(t *testing.T, geo GeoProvider) (*LeadService, *storage.Repos, *metrics.Metrics) {
	t.Helper()
	pages, err := NewPages(nil)
	require.NoError(t, err)
	repos := storage.NewInMemoryRepos(nil)
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	return NewLeadService(repos.Submissions, pages, geo, models.GenerationV2, m, zap.NewNop()), repos, m
}

func TestCaptureEnrichesFromLandingPage(t *testing.T) {
	ctx := context.Background()
	svc, repos, m := newLeadService(t, &stubGeo{codes: map[string]string{"81.82.1.1": "BE"}})

	sub, err := svc.Capture(ctx, LeadForm{
		Name:    " Jan ",
		Email:   "jan@bouw.be",
		Consent: true,
		PageURL: "https://example.be/nl/lookbook?utm_source=facebook&utm_medium=paid&utm_campaign=Q2%20LAL",
	}, "81.82.1.1")
	require.NoError(t, err)

	assert.Equal(t, "Jan", sub.Name)
	assert.Equal(t, models.LeadTypeLookbook, sub.Type)
	assert.Equal(t, "nl", sub.Language)
	assert.Equal(t, "/nl/lookbook", sub.LandingPage)
	assert.Equal(t, "facebook", sub.UTM.Source)
	assert.Equal(t, "Q2 LAL", sub.UTM.Campaign)
	assert.Equal(t, "BE", sub.Country)
	assert.Equal(t, models.SalesToContact, sub.SalesStatus)

	stored, err := repos.Submissions.List(ctx, models.SubmissionFilter{Generation: models.GenerationV2})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, sub.ID, stored[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("lookbook", "nl")))
}

func TestCaptureBodyUTMWins(t *testing.T) {
	svc, _, _ := newLeadService(t, nil)
	sub, err := svc.Capture(context.Background(), LeadForm{
		Name:     "Marie",
		Email:    "marie@exemple.fr",
		Consent:  true,
		Type:     models.LeadTypeDiscountCode,
		Language: "FR",
		PageURL:  "https://example.be/fr/code-promo?utm_source=google",
		UTM:      &models.UTM{Source: "newsletter", Medium: "email"},
	}, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "newsletter", sub.UTM.Source)
	assert.Equal(t, "fr", sub.Language)
	assert.Empty(t, sub.Country)
}

func TestCaptureRejectsInvalidForm(t *testing.T) {
	svc, repos, m := newLeadService(t, nil)
	_, err := svc.Capture(context.Background(), LeadForm{
		Email:   "not-an-email",
		PageURL: "https://example.be/nl/stalen",
	}, "")

	var verrs models.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	for _, field := range []string{"name", "email", "consent", "phone", "address"} {
		assert.Contains(t, verrs, field)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationErrors.WithLabelValues(field)), field)
	}

	stored, err := repos.Submissions.List(context.Background(), models.SubmissionFilter{Generation: models.GenerationV2})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestCachedGeo(t *testing.T) {
	inner := &stubGeo{codes: map[string]string{"1.1.1.1": "BE", "2.2.2.2": "FR"}}
	c := NewCachedGeo(inner, 1, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	code, err := c.Country("1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "BE", code)
	_, _ = c.Country("1.1.1.1")
	assert.Equal(t, 1, inner.calls)

	now = now.Add(2 * time.Minute)
	_, _ = c.Country("1.1.1.1")
	assert.Equal(t, 2, inner.calls)

	code, err = c.Country("2.2.2.2")
	require.NoError(t, err)
	assert.Equal(t, "FR", code)

	_, err = c.Country("9.9.9.9")
	assert.Error(t, err)
}

func TestMaxMindGeoMissingFile(t *testing.T) {
	_, err := NewMaxMindGeo(t.TempDir() + "/missing.mmdb")
	assert.Error(t, err)
}
