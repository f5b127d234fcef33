package analytics

import (
	"math"
	"time"

	"github.com/radiusdt/leadgen-analytics/internal/models"
)

// OnTrackTolerance is the share of target pace that still counts as on track.
const OnTrackTolerance = 0.9

// Plan describes the fixed-length campaign the pacing view tracks.
type Plan struct {
	Start           time.Time `json:"start" yaml:"start"`
	Weeks           int       `json:"weeks" yaml:"weeks"`
	WeeklySQLTarget float64   `json:"weekly_sql_target" yaml:"weekly_sql_target"`
	WeeklySpend     float64   `json:"weekly_spend" yaml:"weekly_spend"`
}

// WeekRow is one week of plan versus actuals.
type WeekRow struct {
	Week            int       `json:"week"`
	StartsOn        time.Time `json:"starts_on"`
	PlannedSpend    float64   `json:"planned_spend"`
	ActualSpend     float64   `json:"actual_spend"`
	TargetSQL       float64   `json:"target_sql"`
	ActualSQL       int       `json:"actual_sql"`
	Leads           int       `json:"leads"`
	CumulativeSQL   int       `json:"cumulative_sql"`
	CumulativeSpend float64   `json:"cumulative_spend"`
	OnTrack         bool      `json:"on_track"`
	CPSQL           float64   `json:"cpsql"`
}

// Forecast projects the end-of-campaign SQL count at the observed pace.
type Forecast struct {
	ElapsedWeeks  int     `json:"elapsed_weeks"`
	CumulativeSQL int     `json:"cumulative_sql"`
	ProjectedSQL  float64 `json:"projected_sql"`
	TargetSQL     float64 `json:"target_sql"`
	OnTrack       bool    `json:"on_track"`
}

func (p Plan) weeks() int {
	if p.Weeks <= 0 {
		return 13
	}
	return p.Weeks
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekOf buckets t into ceil((days_since_start + 1) / 7), clamped to
// [1, plan weeks].
func WeekOf(p Plan, t time.Time) int {
	days := int(math.Floor(dayStart(t).Sub(dayStart(p.Start)).Hours() / 24))
	week := int(math.Ceil(float64(days+1) / 7))
	if week < 1 {
		week = 1
	}
	if n := p.weeks(); week > n {
		week = n
	}
	return week
}

// Weekly lays submissions and ad spend onto the plan.  Every week of the
// plan is emitted, zero-filled when nothing happened.
func Weekly(p Plan, subs []*models.Submission, perf []*models.AdPerformanceRow, rules Rules) []WeekRow {
	n := p.weeks()
	rows := make([]WeekRow, n)
	for i := range rows {
		rows[i] = WeekRow{
			Week:         i + 1,
			StartsOn:     dayStart(p.Start).AddDate(0, 0, 7*i),
			PlannedSpend: p.WeeklySpend,
			TargetSQL:    p.WeeklySQLTarget,
		}
	}
	for _, s := range subs {
		if s == nil {
			continue
		}
		r := &rows[WeekOf(p, s.CreatedAt)-1]
		r.Leads++
		if rules.SalesQualified(s) {
			r.ActualSQL++
		}
	}
	for _, row := range perf {
		if row == nil {
			continue
		}
		rows[WeekOf(p, row.Date)-1].ActualSpend += row.Spent
	}

	cumSQL := 0
	cumSpend := 0.0
	for i := range rows {
		cumSQL += rows[i].ActualSQL
		cumSpend += rows[i].ActualSpend
		rows[i].CumulativeSQL = cumSQL
		rows[i].CumulativeSpend = cumSpend
		rows[i].OnTrack = float64(cumSQL) >= float64(rows[i].Week)*p.WeeklySQLTarget*OnTrackTolerance
		rows[i].CPSQL = safeDiv(rows[i].ActualSpend, float64(rows[i].ActualSQL))
	}
	return rows
}

// Project extrapolates the weekly rows observed up to now.
func Project(p Plan, rows []WeekRow, now time.Time) Forecast {
	f := Forecast{TargetSQL: p.WeeklySQLTarget * float64(p.weeks())}
	if now.Before(dayStart(p.Start)) || len(rows) == 0 {
		return f
	}
	f.ElapsedWeeks = WeekOf(p, now)
	if f.ElapsedWeeks > len(rows) {
		f.ElapsedWeeks = len(rows)
	}
	f.CumulativeSQL = rows[f.ElapsedWeeks-1].CumulativeSQL
	f.ProjectedSQL = safeDiv(float64(f.CumulativeSQL), float64(f.ElapsedWeeks)) * float64(p.weeks())
	f.OnTrack = rows[f.ElapsedWeeks-1].OnTrack
	return f
}
