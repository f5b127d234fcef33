package storage

import (
	"context"
	"errors"
	"time"

	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/realtime"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Table names, shared with the change feed.
const (
	TableSubmissions   = "submissions"
	TableSubmissionsV2 = "submissions_v2"
	TableBudgets       = "campaign_budgets"
	TableAdPerformance = "ad_performance"
	TableSyncCampaigns = "meta_sync_campaigns"
)

// =============================================
// SUBMISSION REPOSITORY
// =============================================

// SubmissionRepo stores lead form submissions across both generations.
type SubmissionRepo interface {
	Insert(ctx context.Context, gen models.Generation, s *models.Submission) error
	Get(ctx context.Context, gen models.Generation, id string) (*models.Submission, error)
	List(ctx context.Context, filter models.SubmissionFilter) ([]*models.Submission, error)
	Update(ctx context.Context, gen models.Generation, id string, upd *models.SubmissionUpdate) (*models.Submission, error)
}

// =============================================
// BUDGET REPOSITORY
// =============================================

// BudgetRepo stores admin-entered campaign budgets.
type BudgetRepo interface {
	List(ctx context.Context) ([]*models.CampaignBudget, error)
	Insert(ctx context.Context, b *models.CampaignBudget) error
	Delete(ctx context.Context, id string) error
}

// =============================================
// AD PERFORMANCE REPOSITORY
// =============================================

// AdPerformanceRepo stores Meta insight rows keyed by
// (date, campaign_name, adset_name, ad_name).
type AdPerformanceRepo interface {
	// UpsertBatch writes all rows atomically and returns the number written.
	UpsertBatch(ctx context.Context, rows []*models.AdPerformanceRow) (int, error)
	// List returns rows dated within [from, to]; zero bounds are open.
	List(ctx context.Context, from, to time.Time) ([]*models.AdPerformanceRow, error)
}

// =============================================
// SYNC CAMPAIGN REPOSITORY
// =============================================

// SyncCampaignRepo stores which Meta campaigns the auto sync covers.
type SyncCampaignRepo interface {
	List(ctx context.Context) ([]*models.SyncCampaign, error)
	Upsert(ctx context.Context, campaigns []*models.SyncCampaign) error
}

// Publisher receives change events from repositories that do not have a
// database-side change feed.
type Publisher interface {
	Publish(ev realtime.Event)
}

// Repos bundles the repositories the services need.
type Repos struct {
	Submissions   SubmissionRepo
	Budgets       BudgetRepo
	AdPerformance AdPerformanceRepo
	SyncCampaigns SyncCampaignRepo
}

// EnabledCampaigns filters a selection down to enabled campaigns.
func EnabledCampaigns(list []*models.SyncCampaign) []*models.SyncCampaign {
	out := make([]*models.SyncCampaign, 0, len(list))
	for _, c := range list {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}
