package analytics

import (
	"github.com/radiusdt/leadgen-analytics/internal/models"
)

// SplitEmail partitions submissions into email-sourced and paid leads.
func SplitEmail(subs []*models.Submission) (email, paid []*models.Submission) {
	for _, s := range subs {
		if s == nil {
			continue
		}
		if IsEmailSource(s.UTM.Source) {
			email = append(email, s)
		} else {
			paid = append(paid, s)
		}
	}
	return email, paid
}

// EmailRow reports one email campaign.  Email economics are volume and
// engagement driven, so costs are expressed per lead against sends.
type EmailRow struct {
	Row
	EmailsSent       int     `json:"emails_sent"`
	OpenRate         float64 `json:"open_rate"`
	ClickRate        float64 `json:"click_rate"`
	Opens            float64 `json:"opens"`
	Clicks           float64 `json:"clicks"`
	LeadsPer1000Sent float64 `json:"leads_per_1000_sent"`
	ClickToLeadRate  float64 `json:"click_to_lead_rate"`
}

// EmailReport groups email-sourced leads by campaign and joins the email
// metrics of matching budgets.  Non-email submissions are ignored.
func EmailReport(subs []*models.Submission, budgets []*models.CampaignBudget, rules Rules) []EmailRow {
	email, _ := SplitEmail(subs)
	grouping := Aggregate(email, ByCampaign, rules)
	grouping.AttachBudgets(budgets)

	groups := grouping.Groups()
	SortByCampaignNumber(groups)

	out := make([]EmailRow, 0, len(groups))
	for _, g := range groups {
		row := EmailRow{Row: Row{Group: g, Metrics: Derive(g)}}
		matched := DedupeByName(MatchBudgets(budgets, g.Dimensions))
		for _, b := range matched {
			row.EmailsSent += b.EmailsSent
			row.Opens += float64(b.EmailsSent) * b.OpenRate
			row.Clicks += float64(b.EmailsSent) * b.ClickRate
		}
		row.OpenRate = safeDiv(row.Opens, float64(row.EmailsSent))
		row.ClickRate = safeDiv(row.Clicks, float64(row.EmailsSent))
		row.LeadsPer1000Sent = safeDiv(float64(g.Total)*1000, float64(row.EmailsSent))
		row.ClickToLeadRate = safeDiv(float64(g.Total), row.Clicks)
		out = append(out, row)
	}
	return out
}
