package analytics

import (
	"strings"
	"time"

	"github.com/radiusdt/leadgen-analytics/internal/models"
)

// MatchBudgets returns the budgets whose UTM arrays intersect the group
// dimensions.  A budget leaving a dimension empty does not constrain it, but
// at least one keyed dimension must be listed by the budget.  Comparison is
// case-insensitive.
func MatchBudgets(budgets []*models.CampaignBudget, dims Dimensions) []*models.CampaignBudget {
	var out []*models.CampaignBudget
	for _, b := range budgets {
		if b == nil {
			continue
		}
		if budgetMatches(b, dims) {
			out = append(out, b)
		}
	}
	return out
}

func budgetMatches(b *models.CampaignBudget, dims Dimensions) bool {
	checks := []struct {
		value string
		list  []string
	}{
		{dims.Campaign, b.UTMCampaigns},
		{dims.Source, b.UTMSources},
		{dims.Medium, b.UTMMediums},
	}
	hit := false
	for _, c := range checks {
		if c.value == "" || c.value == Unknown {
			continue
		}
		if len(c.list) == 0 {
			continue
		}
		if !containsFold(c.list, c.value) {
			return false
		}
		hit = true
	}
	return hit
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}

// DedupeByName keeps the first budget per campaign name.
func DedupeByName(budgets []*models.CampaignBudget) []*models.CampaignBudget {
	seen := make(map[string]struct{}, len(budgets))
	out := make([]*models.CampaignBudget, 0, len(budgets))
	for _, b := range budgets {
		if _, ok := seen[b.CampaignName]; ok {
			continue
		}
		seen[b.CampaignName] = struct{}{}
		out = append(out, b)
	}
	return out
}

// SumBudgets adds up budget amounts.
func SumBudgets(budgets []*models.CampaignBudget) float64 {
	var total float64
	for _, b := range budgets {
		total += b.Budget
	}
	return total
}

// BudgetsInRange keeps budgets whose date range overlaps [from, to).  Budgets
// without dates always overlap; a zero bound is open.
func BudgetsInRange(budgets []*models.CampaignBudget, from, to time.Time) []*models.CampaignBudget {
	out := make([]*models.CampaignBudget, 0, len(budgets))
	for _, b := range budgets {
		if b.EndDate != nil && !from.IsZero() && b.EndDate.Before(from) {
			continue
		}
		if b.StartDate != nil && !to.IsZero() && !b.StartDate.Before(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}
