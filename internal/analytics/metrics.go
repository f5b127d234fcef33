package analytics

import (
	"math"
	"sort"
)

// MinRankTotal is the volume floor for top-performer rankings.
const MinRankTotal = 5

// Metrics are the rates and unit costs derived from a group.
type Metrics struct {
	QualificationRate float64 `json:"qualification_rate"`
	MQLRate           float64 `json:"mql_rate"`
	SQLRate           float64 `json:"sql_rate"`
	ConversionRate    float64 `json:"conversion_rate"`
	CPL               float64 `json:"cpl"`
	CPQL              float64 `json:"cpql"`
	CPSQL             float64 `json:"cpsql"`
	Score             float64 `json:"score"`
}

// Row pairs a group with its derived metrics for reporting.
type Row struct {
	*Group
	Metrics Metrics `json:"metrics"`
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Derive computes every metric from the accumulator.  Zero denominators
// yield 0.
func Derive(g *Group) Metrics {
	total := float64(g.Total)
	m := Metrics{
		QualificationRate: safeDiv(float64(g.Qualified), total),
		MQLRate:           safeDiv(float64(g.MQL), total),
		SQLRate:           safeDiv(float64(g.SalesQualified), total),
		ConversionRate:    safeDiv(float64(g.Converted), total),
	}
	if g.Budget != 0 {
		m.CPL = safeDiv(g.Budget, total)
		m.CPQL = safeDiv(g.Budget, float64(g.Qualified))
		m.CPSQL = safeDiv(g.Budget, float64(g.SalesQualified))
	}
	m.Score = Score(g)
	return m
}

// Score rewards both SQL rate and SQL volume: sql_rate * ln(sql + 1).
func Score(g *Group) float64 {
	rate := safeDiv(float64(g.SalesQualified), float64(g.Total))
	return rate * math.Log(float64(g.SalesQualified)+1)
}

// Rows derives metrics for each group, keeping order.
func Rows(groups []*Group) []Row {
	out := make([]Row, 0, len(groups))
	for _, g := range groups {
		out = append(out, Row{Group: g, Metrics: Derive(g)})
	}
	return out
}

// Rank returns up to n groups with total >= MinRankTotal, best score first.
// n <= 0 returns every eligible group.
func Rank(groups []*Group, n int) []Row {
	eligible := make([]Row, 0, len(groups))
	for _, g := range groups {
		if g.Total < MinRankTotal {
			continue
		}
		eligible = append(eligible, Row{Group: g, Metrics: Derive(g)})
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Metrics.Score > eligible[j].Metrics.Score
	})
	if n > 0 && len(eligible) > n {
		eligible = eligible[:n]
	}
	return eligible
}
