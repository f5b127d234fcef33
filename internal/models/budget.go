package models

import (
	"errors"
	"time"
)

// CampaignBudget is a manually entered spend line.  One budget can cover
// several UTM values, e.g. a single paid-social budget spread over the
// "fb" and "ig" sources.
type CampaignBudget struct {
	ID           string     `json:"id"`
	CampaignName string     `json:"campaign_name"`
	UTMCampaigns []string   `json:"utm_campaigns"`
	UTMSources   []string   `json:"utm_sources"`
	UTMMediums   []string   `json:"utm_mediums"`
	Budget       float64    `json:"budget"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	EmailsSent   int        `json:"emails_sent,omitempty"`
	OpenRate     float64    `json:"open_rate,omitempty"`
	ClickRate    float64    `json:"click_rate,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Validate checks the admin-entered fields.
func (b *CampaignBudget) Validate() error {
	if b == nil {
		return errors.New("budget is nil")
	}
	if b.CampaignName == "" {
		return errors.New("campaign_name is required")
	}
	if b.Budget < 0 {
		return errors.New("budget must be >= 0")
	}
	if b.StartDate != nil && b.EndDate != nil && b.EndDate.Before(*b.StartDate) {
		return errors.New("end_date must not be before start_date")
	}
	if b.OpenRate < 0 || b.OpenRate > 1 {
		return errors.New("open_rate must be within [0,1]")
	}
	if b.ClickRate < 0 || b.ClickRate > 1 {
		return errors.New("click_rate must be within [0,1]")
	}
	if b.EmailsSent < 0 {
		return errors.New("emails_sent must be >= 0")
	}
	return nil
}

// AdPerformanceRow is one (date, ad) observation imported from Meta.
type AdPerformanceRow struct {
	Date         time.Time `json:"date"`
	CampaignName string    `json:"campaign_name"`
	AdsetName    string    `json:"adset_name"`
	AdName       string    `json:"ad_name"`
	Spent        float64   `json:"spent"`
	Frequency    float64   `json:"frequency"`
	SyncedAt     time.Time `json:"synced_at"`
}

// Key returns the natural key rows are upserted on.
func (r AdPerformanceRow) Key() string {
	return r.Date.Format("2006-01-02") + "|" + r.CampaignName + "|" + r.AdsetName + "|" + r.AdName
}

// SyncCampaign is a Meta campaign selected for automatic syncing.
type SyncCampaign struct {
	CampaignID   string    `json:"campaign_id"`
	CampaignName string    `json:"campaign_name"`
	Enabled      bool      `json:"enabled"`
	UpdatedAt    time.Time `json:"updated_at"`
}
