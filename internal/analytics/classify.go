// Package analytics turns flat submission, budget and ad-performance rows
// into the grouped summaries shown on the admin dashboards.  Everything in
// here is pure: callers fetch rows, analytics groups and derives.
package analytics

import (
	"strings"
	"unicode"

	"github.com/radiusdt/leadgen-analytics/internal/models"
)

// Rules carries the business rules that differ between dashboards.
type Rules struct {
	// SQLExcludedTypes are lead magnets that never count as sales-qualified,
	// whatever their quality verdict.
	SQLExcludedTypes []models.LeadType
}

// DefaultRules excludes the trend e-guide from SQL counts.
func DefaultRules() Rules {
	return Rules{SQLExcludedTypes: []models.LeadType{models.LeadTypeTrendGuide}}
}

// Qualified reports whether the submission's quality is in the qualified set.
func (r Rules) Qualified(s *models.Submission) bool {
	return s.Quality.Qualified()
}

// MQLOrAbove reports marketing-qualified membership.
func (r Rules) MQLOrAbove(s *models.Submission) bool {
	return s.Quality.MQLOrAbove()
}

// SalesQualified reports SQL membership: an SQL-eligible quality on a lead
// magnet that is not excluded.
func (r Rules) SalesQualified(s *models.Submission) bool {
	if !s.Quality.SQLEligible() {
		return false
	}
	for _, t := range r.SQLExcludedTypes {
		if s.Type == t {
			return false
		}
	}
	return true
}

// emailSourceKeywords identify newsletter and CRM tools in utm_source.
var emailSourceKeywords = []string{"email", "activecampaign", "lemlist", "mailchimp", "sendgrid", "hubspot"}

// IsEmailSource reports whether a utm_source belongs to an email tool.
func IsEmailSource(source string) bool {
	s := strings.ToLower(source)
	if s == "" {
		return false
	}
	for _, kw := range emailSourceKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Market is the locale a campaign targets.
type Market string

const (
	MarketNL Market = "nl"
	MarketFR Market = "fr"
)

// Audience is the targeting strategy encoded in an adset name.
type Audience string

const (
	AudienceLookalikeScraping     Audience = "lookalike_scraping"
	AudienceRetargetingEngagement Audience = "retargeting_engagement"
	AudienceLookalikeLeads        Audience = "lookalike_leads"
	AudienceLookalikeCustomers    Audience = "lookalike_customers"
	AudienceUnknown               Audience = "unknown"
)

// ClassifyAudience guesses market and audience from a utm_content or adset
// name.  It is a keyword heuristic; anything unmatched is nl/unknown.
func ClassifyAudience(name string) (Market, Audience) {
	s := strings.ToLower(strings.TrimSpace(name))

	market := MarketNL
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		if tok == "fr" {
			market = MarketFR
			break
		}
	}

	audience := AudienceUnknown
	switch {
	case strings.Contains(s, "retarget") || strings.Contains(s, "engag"):
		audience = AudienceRetargetingEngagement
	case strings.Contains(s, "customer") || strings.Contains(s, "klant") || strings.Contains(s, "client"):
		audience = AudienceLookalikeCustomers
	case strings.Contains(s, "lead"):
		audience = AudienceLookalikeLeads
	case strings.Contains(s, "scrap"):
		audience = AudienceLookalikeScraping
	}
	return market, audience
}
