package analytics

import (
	"sort"
	"strconv"
	"strings"

	"github.com/radiusdt/leadgen-analytics/internal/models"
)

// Unknown is the bucket for missing dimension values.
const Unknown = "Unknown"

// Dimensions is the tuple a group is keyed by.  Only the fields set by the
// KeyFunc take part in the key.
type Dimensions struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	LeadType string `json:"lead_type,omitempty"`
	Market   string `json:"market,omitempty"`
	Audience string `json:"audience,omitempty"`
	Language string `json:"language,omitempty"`
}

// Key joins the set dimensions in a fixed order.
func (d Dimensions) Key() string {
	parts := make([]string, 0, 7)
	for _, v := range []string{d.Campaign, d.Source, d.Medium, d.LeadType, d.Market, d.Audience, d.Language} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "|")
}

// KeyFunc extracts the grouping dimensions from a submission.
type KeyFunc func(s *models.Submission) Dimensions

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return Unknown
	}
	return v
}

// ByChannel groups on utm_source.
func ByChannel(s *models.Submission) Dimensions {
	return Dimensions{Source: orUnknown(s.UTM.Source)}
}

// ByCampaign groups on utm_campaign.
func ByCampaign(s *models.Submission) Dimensions {
	return Dimensions{Campaign: orUnknown(s.UTM.Campaign)}
}

// BySourceMediumCampaign groups on the campaign|source|medium triple.
func BySourceMediumCampaign(s *models.Submission) Dimensions {
	return Dimensions{
		Source:   orUnknown(s.UTM.Source),
		Medium:   orUnknown(s.UTM.Medium),
		Campaign: orUnknown(s.UTM.Campaign),
	}
}

// ByLeadType groups on the lead magnet.
func ByLeadType(s *models.Submission) Dimensions {
	return Dimensions{LeadType: orUnknown(string(s.Type))}
}

// ByLanguage groups on the form language.
func ByLanguage(s *models.Submission) Dimensions {
	return Dimensions{Language: orUnknown(s.Language)}
}

// ByMarket groups on the market inferred from utm_content.
func ByMarket(s *models.Submission) Dimensions {
	m, _ := ClassifyAudience(s.UTM.Content)
	return Dimensions{Market: string(m)}
}

// ByAudience groups on market and audience inferred from utm_content.
func ByAudience(s *models.Submission) Dimensions {
	m, a := ClassifyAudience(s.UTM.Content)
	return Dimensions{Market: string(m), Audience: string(a)}
}

// Group is the running accumulator for one key.
type Group struct {
	Key            string                  `json:"key"`
	Dimensions     Dimensions              `json:"dimensions"`
	Total          int                     `json:"total"`
	Qualified      int                     `json:"qualified"`
	MQL            int                     `json:"mql"`
	SalesQualified int                     `json:"sales_qualified"`
	Converted      int                     `json:"converted"`
	ByLeadType     map[models.LeadType]int `json:"by_lead_type"`
	Budget         float64                 `json:"budget"`
	BudgetNames    []string                `json:"budget_names,omitempty"`
}

// Add folds one submission into the group.
func (g *Group) Add(s *models.Submission, rules Rules) {
	g.Total++
	if rules.Qualified(s) {
		g.Qualified++
	}
	if rules.MQLOrAbove(s) {
		g.MQL++
	}
	if rules.SalesQualified(s) {
		g.SalesQualified++
	}
	if s.SalesStatus.Converted() {
		g.Converted++
	}
	if s.Type != "" {
		g.ByLeadType[s.Type]++
	}
}

// Grouping maps keys to groups, remembering first-seen order.
type Grouping struct {
	order []string
	index map[string]*Group
}

// Aggregate groups subs in a single pass.
func Aggregate(subs []*models.Submission, key KeyFunc, rules Rules) *Grouping {
	g := &Grouping{index: make(map[string]*Group)}
	for _, s := range subs {
		if s == nil {
			continue
		}
		dims := key(s)
		k := dims.Key()
		grp, ok := g.index[k]
		if !ok {
			grp = &Group{Key: k, Dimensions: dims, ByLeadType: make(map[models.LeadType]int)}
			g.index[k] = grp
			g.order = append(g.order, k)
		}
		grp.Add(s, rules)
	}
	return g
}

// Len returns the number of groups.
func (g *Grouping) Len() int { return len(g.order) }

// Get returns the group for key, or nil.
func (g *Grouping) Get(key string) *Group { return g.index[key] }

// Groups returns the groups in first-seen order.
func (g *Grouping) Groups() []*Group {
	out := make([]*Group, 0, len(g.order))
	for _, k := range g.order {
		out = append(out, g.index[k])
	}
	return out
}

// AttachBudgets joins budgets onto every group.
func (g *Grouping) AttachBudgets(budgets []*models.CampaignBudget) {
	for _, grp := range g.index {
		matched := DedupeByName(MatchBudgets(budgets, grp.Dimensions))
		grp.Budget = SumBudgets(matched)
		grp.BudgetNames = grp.BudgetNames[:0]
		for _, b := range matched {
			grp.BudgetNames = append(grp.BudgetNames, b.CampaignName)
		}
	}
}

// Totals folds every group into a single accumulator.  Budgets are summed
// across groups as they stand.
func (g *Grouping) Totals() *Group {
	t := &Group{Key: "total", ByLeadType: make(map[models.LeadType]int)}
	for _, k := range g.order {
		grp := g.index[k]
		t.Total += grp.Total
		t.Qualified += grp.Qualified
		t.MQL += grp.MQL
		t.SalesQualified += grp.SalesQualified
		t.Converted += grp.Converted
		t.Budget += grp.Budget
		for lt, n := range grp.ByLeadType {
			t.ByLeadType[lt] += n
		}
	}
	return t
}

// CampaignNumber extracts the last run of digits in a campaign name.
func CampaignNumber(name string) (int, bool) {
	end := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] >= '0' && name[i] <= '9' {
			end = i + 1
			break
		}
	}
	if end < 0 {
		return 0, false
	}
	start := end - 1
	for start > 0 && name[start-1] >= '0' && name[start-1] <= '9' {
		start--
	}
	n, err := strconv.Atoi(name[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// SortByCampaignNumber orders groups by the numeric suffix of their campaign
// name.  Groups without a number, or the Unknown bucket, go last.
func SortByCampaignNumber(groups []*Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		ni, oki := campaignOrder(groups[i])
		nj, okj := campaignOrder(groups[j])
		if oki != okj {
			return oki
		}
		return oki && ni < nj
	})
}

func campaignOrder(g *Group) (int, bool) {
	if g.Dimensions.Campaign == "" || g.Dimensions.Campaign == Unknown {
		return 0, false
	}
	return CampaignNumber(g.Dimensions.Campaign)
}

// SortByTotal orders groups by lead volume, largest first.
func SortByTotal(groups []*Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Total > groups[j].Total
	})
}
