package analytics

import (
	"testing"
	"time"

	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var planStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestWeekOf_Boundaries(t *testing.T) {
	p := Plan{Start: planStart, Weeks: 13}

	assert.Equal(t, 1, WeekOf(p, planStart))
	assert.Equal(t, 1, WeekOf(p, planStart.AddDate(0, 0, 6).Add(23*time.Hour)))
	assert.Equal(t, 2, WeekOf(p, planStart.AddDate(0, 0, 7)))
	assert.Equal(t, 1, WeekOf(p, planStart.AddDate(0, 0, -10)))
	assert.Equal(t, 13, WeekOf(p, planStart.AddDate(1, 0, 0)))
}

func TestWeekly_ZeroFilledAndCumulative(t *testing.T) {
	p := Plan{Start: planStart, Weeks: 13, WeeklySQLTarget: 2, WeeklySpend: 500}

	at := func(days int, quality string) *models.Submission {
		s := sub(quality, models.LeadTypeSamplePack)
		s.CreatedAt = planStart.AddDate(0, 0, days)
		return s
	}
	subs := []*models.Submission{at(0, "Goed"), at(6, "Redelijk"), at(7, "MQL"), at(20, "Goed")}
	perf := []*models.AdPerformanceRow{
		{Date: planStart.AddDate(0, 0, 1), Spent: 100},
		{Date: planStart.AddDate(0, 0, 8), Spent: 50},
	}

	rows := Weekly(p, subs, perf, DefaultRules())
	require.Len(t, rows, 13)

	assert.Equal(t, 2, rows[0].Leads)
	assert.Equal(t, 2, rows[0].ActualSQL)
	assert.Equal(t, 100.0, rows[0].ActualSpend)
	assert.Equal(t, 500.0, rows[0].PlannedSpend)
	assert.True(t, rows[0].OnTrack)
	assert.Equal(t, 50.0, rows[0].CPSQL)

	assert.Equal(t, 1, rows[1].Leads)
	assert.Equal(t, 0, rows[1].ActualSQL)
	assert.Equal(t, 2, rows[1].CumulativeSQL)
	assert.False(t, rows[1].OnTrack)
	assert.Zero(t, rows[1].CPSQL)

	assert.Equal(t, 1, rows[2].ActualSQL)
	assert.Equal(t, 3, rows[12].CumulativeSQL)
	assert.Equal(t, 150.0, rows[12].CumulativeSpend)
	assert.Equal(t, planStart.AddDate(0, 0, 84), rows[12].StartsOn)
}

func TestProject(t *testing.T) {
	p := Plan{Start: planStart, Weeks: 13, WeeklySQLTarget: 1}
	subs := []*models.Submission{}
	for i := 0; i < 4; i++ {
		s := sub("Goed", models.LeadTypeSamplePack)
		s.CreatedAt = planStart.AddDate(0, 0, i)
		subs = append(subs, s)
	}
	rows := Weekly(p, subs, nil, DefaultRules())

	f := Project(p, rows, planStart.AddDate(0, 0, 10))
	assert.Equal(t, 2, f.ElapsedWeeks)
	assert.Equal(t, 4, f.CumulativeSQL)
	assert.InDelta(t, 26.0, f.ProjectedSQL, 1e-9)
	assert.Equal(t, 13.0, f.TargetSQL)
	assert.True(t, f.OnTrack)

	before := Project(p, rows, planStart.AddDate(0, 0, -1))
	assert.Zero(t, before.ElapsedWeeks)
}
