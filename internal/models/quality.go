package models

import (
	"encoding/json"
	"fmt"
)

// Quality is the qualification verdict an admin puts on a submission.  The
// storage column holds free text written by two generations of the admin
// tool (English and Dutch labels); ParseQuality folds both vocabularies onto
// this closed set.
type Quality string

const (
	QualityUnqualified  Quality = "unqualified"
	QualityGood         Quality = "good"
	QualityGoodCustomer Quality = "good_customer"
	QualityReasonable   Quality = "reasonable"
	QualityPoor         Quality = "poor"
	QualityMQL          Quality = "mql"
)

// qualityMembership is the single source of truth for category membership.
type qualityMembership struct {
	label       string
	qualified   bool
	mqlOrAbove  bool
	sqlEligible bool
}

var qualityTable = map[Quality]qualityMembership{
	QualityUnqualified:  {label: "", qualified: false, mqlOrAbove: false, sqlEligible: false},
	QualityGood:         {label: "Good", qualified: true, mqlOrAbove: true, sqlEligible: true},
	QualityGoodCustomer: {label: "Good-Customer", qualified: true, mqlOrAbove: true, sqlEligible: true},
	QualityReasonable:   {label: "Reasonable", qualified: true, mqlOrAbove: true, sqlEligible: true},
	QualityPoor:         {label: "Poor", qualified: false, mqlOrAbove: false, sqlEligible: false},
	QualityMQL:          {label: "MQL", qualified: true, mqlOrAbove: true, sqlEligible: false},
}

// qualityLabels maps stored labels to variants.  Matching is exact and
// case-sensitive.
var qualityLabels = map[string]Quality{
	"":              QualityUnqualified,
	"Unqualified":   QualityUnqualified,
	"Good":          QualityGood,
	"Goed":          QualityGood,
	"Good-Customer": QualityGoodCustomer,
	"Goed-Klant":    QualityGoodCustomer,
	"Reasonable":    QualityReasonable,
	"Redelijk":      QualityReasonable,
	"Poor":          QualityPoor,
	"Slecht":        QualityPoor,
	"MQL":           QualityMQL,
}

// ParseQuality maps a stored label onto a Quality.  Unknown labels yield
// QualityUnqualified and ok=false.
func ParseQuality(label string) (Quality, bool) {
	q, ok := qualityLabels[label]
	if !ok {
		return QualityUnqualified, false
	}
	return q, true
}

// Label returns the canonical stored label.
func (q Quality) Label() string {
	return qualityTable[q.normalize()].label
}

// Qualified reports membership in {Good, MQL, Good-Customer, Reasonable}.
func (q Quality) Qualified() bool { return qualityTable[q.normalize()].qualified }

// MQLOrAbove reports whether the lead passed marketing screening.
func (q Quality) MQLOrAbove() bool { return qualityTable[q.normalize()].mqlOrAbove }

// SQLEligible reports whether the quality alone allows a sales-qualified
// verdict.  The lead type may still exclude it.
func (q Quality) SQLEligible() bool { return qualityTable[q.normalize()].sqlEligible }

// Valid reports whether q is one of the declared variants.
func (q Quality) Valid() bool {
	_, ok := qualityTable[q]
	return ok
}

func (q Quality) normalize() Quality {
	if q == "" {
		return QualityUnqualified
	}
	if _, ok := qualityTable[q]; ok {
		return q
	}
	return QualityUnqualified
}

// MarshalJSON writes the canonical label, "" for unqualified.
func (q Quality) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Label())
}

// UnmarshalJSON accepts either a stored label or a variant name.
func (q *Quality) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("quality must be a string: %w", err)
	}
	if parsed, ok := ParseQuality(s); ok {
		*q = parsed
		return nil
	}
	if Quality(s).Valid() {
		*q = Quality(s)
		return nil
	}
	return fmt.Errorf("unknown quality %q", s)
}
