package models

import (
	"sort"
	"strings"
	"time"
)

// LeadType identifies the lead magnet a visitor asked for.
type LeadType string

const (
	LeadTypeSamplePack   LeadType = "sample_pack"
	LeadTypeLookbook     LeadType = "lookbook"
	LeadTypeDiscountCode LeadType = "discount_code"
	LeadTypeTrendGuide   LeadType = "trend_guide"
)

// LeadTypes lists every lead magnet in display order.
var LeadTypes = []LeadType{LeadTypeSamplePack, LeadTypeLookbook, LeadTypeDiscountCode, LeadTypeTrendGuide}

// Valid reports whether t is a known lead magnet.
func (t LeadType) Valid() bool {
	for _, lt := range LeadTypes {
		if lt == t {
			return true
		}
	}
	return false
}

// SalesStatus tracks a lead through the sales kanban.
type SalesStatus string

const (
	SalesToContact        SalesStatus = "to_contact"
	SalesContacted        SalesStatus = "contacted"
	SalesMeetingScheduled SalesStatus = "meeting_scheduled"
	SalesRejected         SalesStatus = "rejected"
	SalesNotRelevant      SalesStatus = "not_relevant"
)

var salesStatuses = map[SalesStatus]struct{}{
	SalesToContact:        {},
	SalesContacted:        {},
	SalesMeetingScheduled: {},
	SalesRejected:         {},
	SalesNotRelevant:      {},
}

// Valid reports whether s is a known kanban column.
func (s SalesStatus) Valid() bool {
	_, ok := salesStatuses[s]
	return ok
}

// Converted is true once a meeting has been scheduled.
func (s SalesStatus) Converted() bool { return s == SalesMeetingScheduled }

// Generation selects one of the two parallel submission tables.
type Generation string

const (
	GenerationV1 Generation = "v1"
	GenerationV2 Generation = "v2"
)

// Table returns the storage table backing the generation.
func (g Generation) Table() string {
	if g == GenerationV2 {
		return "submissions_v2"
	}
	return "submissions"
}

// ParseGeneration defaults to v1 for empty or unknown input.
func ParseGeneration(s string) Generation {
	if strings.EqualFold(s, string(GenerationV2)) {
		return GenerationV2
	}
	return GenerationV1
}

// UTM holds the five attribution parameters captured from the landing URL.
type UTM struct {
	Source   string `json:"utm_source"`
	Medium   string `json:"utm_medium"`
	Campaign string `json:"utm_campaign"`
	Content  string `json:"utm_content"`
	Term     string `json:"utm_term"`
}

// Submission is one lead-capture event.
type Submission struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Company          string      `json:"company,omitempty"`
	Email            string      `json:"email"`
	Phone            string      `json:"phone,omitempty"`
	Address          string      `json:"address,omitempty"`
	Type             LeadType    `json:"type"`
	Quality          Quality     `json:"quality"`
	SalesStatus      SalesStatus `json:"sales_status"`
	SalesRep         string      `json:"sales_rep,omitempty"`
	UTM              UTM         `json:"utm"`
	Language         string      `json:"language"`
	Consent          bool        `json:"consent"`
	MarketingConsent bool        `json:"marketing_consent"`
	Country          string      `json:"country,omitempty"`
	LandingPage      string      `json:"landing_page,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Validate runs the lead form rules.  All failing fields are reported at
// once so the form can mark each of them inline.
func (s *Submission) Validate() error {
	errs := ValidationErrors{}
	if s == nil {
		errs.Add("submission", "is required")
		return errs
	}
	if strings.TrimSpace(s.Name) == "" {
		errs.Add("name", "is required")
	}
	email := strings.TrimSpace(s.Email)
	switch {
	case email == "":
		errs.Add("email", "is required")
	case !strings.Contains(email, "@"):
		errs.Add("email", "is not a valid address")
	}
	if !s.Consent {
		errs.Add("consent", "must be accepted")
	}
	if !s.Type.Valid() {
		errs.Add("type", "is not a known lead magnet")
	}
	if s.Type == LeadTypeSamplePack {
		if strings.TrimSpace(s.Phone) == "" {
			errs.Add("phone", "is required for a sample pack")
		}
		if strings.TrimSpace(s.Address) == "" {
			errs.Add("address", "is required for a sample pack")
		}
	}
	if s.Language != "nl" && s.Language != "fr" {
		errs.Add("language", "must be nl or fr")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SubmissionUpdate carries the admin-editable fields.  Nil means unchanged.
type SubmissionUpdate struct {
	Quality     *Quality     `json:"quality,omitempty"`
	SalesStatus *SalesStatus `json:"sales_status,omitempty"`
	SalesRep    *string      `json:"sales_rep,omitempty"`
}

// Validate rejects unknown enum values.
func (u *SubmissionUpdate) Validate() error {
	errs := ValidationErrors{}
	if u.Quality != nil && !u.Quality.Valid() {
		errs.Add("quality", "is not a known quality")
	}
	if u.SalesStatus != nil && !u.SalesStatus.Valid() {
		errs.Add("sales_status", "is not a known sales status")
	}
	if u.Quality == nil && u.SalesStatus == nil && u.SalesRep == nil {
		errs.Add("update", "has no fields")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Apply copies the set fields onto s.
func (u *SubmissionUpdate) Apply(s *Submission) {
	if u.Quality != nil {
		s.Quality = *u.Quality
	}
	if u.SalesStatus != nil {
		s.SalesStatus = *u.SalesStatus
	}
	if u.SalesRep != nil {
		s.SalesRep = strings.TrimSpace(*u.SalesRep)
	}
}

// SubmissionFilter narrows submission listings.
type SubmissionFilter struct {
	Generation  Generation
	From        time.Time
	To          time.Time
	Language    string
	SalesStatus SalesStatus
	Type        LeadType
}

// Match reports whether s passes the in-memory filter.
func (f SubmissionFilter) Match(s *Submission) bool {
	if !f.From.IsZero() && s.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !s.CreatedAt.Before(f.To) {
		return false
	}
	if f.Language != "" && s.Language != f.Language {
		return false
	}
	if f.SalesStatus != "" && s.SalesStatus != f.SalesStatus {
		return false
	}
	if f.Type != "" && s.Type != f.Type {
		return false
	}
	return true
}

// ValidationErrors maps field names to messages.
type ValidationErrors map[string]string

// Add records the first message for a field.
func (v ValidationErrors) Add(field, msg string) {
	if _, ok := v[field]; !ok {
		v[field] = msg
	}
}

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+" "+v[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
