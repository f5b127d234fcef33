package metasync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/radiusdt/leadgen-analytics/internal/metrics"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/storage"
	"go.uber.org/zap"
)

// Actions accepted by Handle.
const (
	ActionListCampaigns   = "list_campaigns"
	ActionSyncPerformance = "sync_performance"
	ActionAutoSync        = "auto_sync"
)

var (
	// ErrUnknownAction is returned for an unsupported action.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidParam means a request field is present but malformed.
	ErrInvalidParam = errors.New("invalid parameter")
)

const dateLayout = "2006-01-02"

// Request is the JSON body of a sync invocation.
type Request struct {
	Action      string   `json:"action"`
	CampaignIDs []string `json:"campaign_ids,omitempty"`
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
}

// Response is the success/error envelope returned to callers.
type Response struct {
	Success          bool       `json:"success"`
	Campaigns        []Campaign `json:"campaigns,omitempty"`
	SyncedRows       *int       `json:"synced_rows,omitempty"`
	SkippedCampaigns []string   `json:"skipped_campaigns,omitempty"`
	Error            string     `json:"error,omitempty"`
	Message          string     `json:"message,omitempty"`
}

// Service runs sync actions.
type Service struct {
	client       *Client
	perf         storage.AdPerformanceRepo
	selection    storage.SyncCampaignRepo
	secrets      func() (Credentials, error)
	autoSyncDays int
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates a sync service.  m may be nil.
func NewService(client *Client, repos *storage.Repos, autoSyncDays int, m *metrics.Metrics, logger *zap.Logger) *Service {
	if autoSyncDays < 1 {
		autoSyncDays = 7
	}
	return &Service{
		client:       client,
		perf:         repos.AdPerformance,
		selection:    repos.SyncCampaigns,
		secrets:      CredentialsFromEnv,
		autoSyncDays: autoSyncDays,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// Handle runs one invocation and returns the envelope with its HTTP status.
// Configuration errors (secrets, required fields) are fatal and map to 500.
func (s *Service) Handle(ctx context.Context, req Request) (Response, int) {
	start := time.Now()
	resp, err := s.handle(ctx, req)

	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
		if errors.Is(err, ErrUnknownAction) || errors.Is(err, ErrInvalidParam) {
			status = http.StatusBadRequest
		}
		resp = Response{Success: false, Error: err.Error()}
		s.logger.Error("meta sync failed", zap.String("action", req.Action), zap.Error(err))
	}

	if s.metrics != nil {
		rows := 0
		if resp.SyncedRows != nil {
			rows = *resp.SyncedRows
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.RecordSync(req.Action, outcome, rows, time.Since(start))
	}
	return resp, status
}

func (s *Service) handle(ctx context.Context, req Request) (Response, error) {
	switch req.Action {
	case ActionListCampaigns, ActionSyncPerformance, ActionAutoSync:
	case "":
		return Response{}, fmt.Errorf("%w: action", ErrMissingParam)
	default:
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
	}

	creds, err := s.secrets()
	if err != nil {
		return Response{}, err
	}

	switch req.Action {
	case ActionListCampaigns:
		campaigns, err := s.client.ListCampaigns(ctx, creds)
		if err != nil {
			return Response{}, fmt.Errorf("failed to list campaigns: %w", err)
		}
		return Response{Success: true, Campaigns: campaigns}, nil

	case ActionSyncPerformance:
		ids := cleanIDs(req.CampaignIDs)
		if len(ids) == 0 {
			return Response{}, fmt.Errorf("%w: campaign_ids", ErrMissingParam)
		}
		since, until, err := parseRange(req.StartDate, req.EndDate)
		if err != nil {
			return Response{}, err
		}
		return s.sync(ctx, creds, ids, since, until)

	case ActionAutoSync:
		selected, err := s.selection.List(ctx)
		if err != nil {
			return Response{}, fmt.Errorf("failed to load campaign selection: %w", err)
		}
		enabled := storage.EnabledCampaigns(selected)
		if len(enabled) == 0 {
			zero := 0
			return Response{Success: true, SyncedRows: &zero, Message: "no campaigns selected for auto sync"}, nil
		}
		ids := make([]string, 0, len(enabled))
		for _, c := range enabled {
			ids = append(ids, c.CampaignID)
		}
		since, until := s.autoSyncWindow()
		return s.sync(ctx, creds, ids, since, until)
	}
	return Response{}, fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
}

// autoSyncWindow is the trailing autoSyncDays ending yesterday (UTC).
func (s *Service) autoSyncWindow() (time.Time, time.Time) {
	y, m, d := s.now().UTC().Date()
	until := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	since := until.AddDate(0, 0, -(s.autoSyncDays - 1))
	return since, until
}

// sync fetches every campaign and upserts the rows in one batch.  A campaign
// whose fetch fails is logged and skipped.
func (s *Service) sync(ctx context.Context, creds Credentials, ids []string, since, until time.Time) (Response, error) {
	var (
		rows    []*models.AdPerformanceRow
		index   = make(map[string]int)
		skipped []string
	)
	for _, id := range ids {
		insights, err := s.client.Insights(ctx, creds, id, since, until)
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			s.logger.Warn("skipping campaign after insight fetch failure",
				zap.String("campaign_id", id),
				zap.Error(err),
			)
			if s.metrics != nil {
				s.metrics.RecordSyncError(id)
			}
			skipped = append(skipped, id)
			continue
		}
		for _, in := range insights {
			row, err := toRow(in)
			if err != nil {
				s.logger.Warn("skipping malformed insight row", zap.String("campaign_id", id), zap.Error(err))
				continue
			}
			if i, ok := index[row.Key()]; ok {
				rows[i] = row
				continue
			}
			index[row.Key()] = len(rows)
			rows = append(rows, row)
		}
	}

	n, err := s.perf.UpsertBatch(ctx, rows)
	if err != nil {
		return Response{}, fmt.Errorf("failed to store ad performance: %w", err)
	}

	s.logger.Info("meta sync completed",
		zap.Int("campaigns", len(ids)),
		zap.Int("skipped", len(skipped)),
		zap.Int("rows", n),
		zap.String("since", since.Format(dateLayout)),
		zap.String("until", until.Format(dateLayout)),
	)

	resp := Response{Success: true, SyncedRows: &n, SkippedCampaigns: skipped}
	resp.Message = fmt.Sprintf("synced %d rows from %d campaigns", n, len(ids)-len(skipped))
	return resp, nil
}

// Selection returns the stored auto-sync campaign selection.
func (s *Service) Selection(ctx context.Context) ([]*models.SyncCampaign, error) {
	return s.selection.List(ctx)
}

// SaveSelection stores which campaigns auto sync covers.
func (s *Service) SaveSelection(ctx context.Context, campaigns []*models.SyncCampaign) error {
	for _, c := range campaigns {
		if strings.TrimSpace(c.CampaignID) == "" {
			return fmt.Errorf("%w: campaign_id", ErrInvalidParam)
		}
	}
	return s.selection.Upsert(ctx, campaigns)
}

// RunAutoSync invokes auto_sync every interval until ctx is done.
func (s *Service) RunAutoSync(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("auto sync scheduled", zap.Duration("interval", interval), zap.Int("days", s.autoSyncDays))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			resp, status := s.Handle(ctx, Request{Action: ActionAutoSync})
			if status != http.StatusOK {
				continue
			}
			s.logger.Info("auto sync run finished", zap.String("message", resp.Message))
		}
	}
}

func toRow(in Insight) (*models.AdPerformanceRow, error) {
	date, err := time.Parse(dateLayout, in.DateStart)
	if err != nil {
		return nil, fmt.Errorf("bad date_start %q: %w", in.DateStart, err)
	}
	return &models.AdPerformanceRow{
		Date:         date,
		CampaignName: in.CampaignName,
		AdsetName:    in.AdsetName,
		AdName:       in.AdName,
		Spent:        parseNumber(in.Spend),
		Frequency:    parseNumber(in.Frequency),
	}, nil
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	if start == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start_date", ErrMissingParam)
	}
	if end == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date", ErrMissingParam)
	}
	since, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start_date %q", ErrInvalidParam, start)
	}
	until, err := time.Parse(dateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date %q", ErrInvalidParam, end)
	}
	if until.Before(since) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date before start_date", ErrInvalidParam)
	}
	return since, until, nil
}
