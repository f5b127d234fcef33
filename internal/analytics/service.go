package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/radiusdt/leadgen-analytics/internal/metrics"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/realtime"
	"github.com/radiusdt/leadgen-analytics/internal/storage"
	"go.uber.org/zap"
)

// Report names accepted by Service.Report.
const (
	ReportOverview    = "overview"
	ReportChannels    = "channels"
	ReportCampaigns   = "campaigns"
	ReportLeadMagnets = "lead-magnets"
	ReportAudiences   = "audiences"
	ReportEmail       = "email"
	ReportWeekly      = "weekly"
	ReportTop         = "top"
)

// TopN is how many groups the top-performer report lists per dimension.
const TopN = 3

// ErrUnknownReport is returned by Report for an unrecognised name.
var ErrUnknownReport = errors.New("unknown report")

// ErrNoPlan is returned by Weekly when no plan start date is configured.
var ErrNoPlan = errors.New("pacing plan has no start date")

// Filter narrows the rows a report is computed over.
type Filter struct {
	Generation models.Generation `json:"generation"`
	From       time.Time         `json:"from"`
	To         time.Time         `json:"to"`
	Language   string            `json:"language,omitempty"`
}

func (f Filter) normalize() Filter {
	f.Generation = models.ParseGeneration(string(f.Generation))
	if !f.From.IsZero() {
		f.From = f.From.UTC()
	}
	if !f.To.IsZero() {
		f.To = f.To.UTC()
	}
	return f
}

func (f Filter) hash() uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s|%d|%d|%s",
		f.Generation, f.From.UnixNano(), f.To.UnixNano(), f.Language))
}

// Overview is the headline dashboard.
type Overview struct {
	Filter    Filter  `json:"filter"`
	Totals    Row     `json:"totals"`
	Paid      Row     `json:"paid"`
	Email     Row     `json:"email"`
	AdSpend   float64 `json:"ad_spend"`
	LeadTypes []Row   `json:"lead_types"`
	Languages []Row   `json:"languages"`
}

// WeeklyReport is the pacing view.
type WeeklyReport struct {
	Plan     Plan      `json:"plan"`
	Weeks    []WeekRow `json:"weeks"`
	Forecast Forecast  `json:"forecast"`
}

// TopReport ranks the best performers per dimension.
type TopReport struct {
	Channels    []Row `json:"channels"`
	Campaigns   []Row `json:"campaigns"`
	LeadMagnets []Row `json:"lead_magnets"`
}

// ServiceConfig holds the business settings of the reports.
type ServiceConfig struct {
	Rules    Rules
	Plan     Plan
	CacheTTL time.Duration
}

// Service computes dashboard reports from the repositories and caches them
// until the underlying tables change.
type Service struct {
	repos   *storage.Repos
	cfg     ServiceConfig
	cache   Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a report service.  cache and m may be nil.
func NewService(repos *storage.Repos, cfg ServiceConfig, cache Cache, m *metrics.Metrics, logger *zap.Logger) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Service{
		repos:   repos,
		cfg:     cfg,
		cache:   cache,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Reports lists the names Report accepts.
func Reports() []string {
	return []string{ReportOverview, ReportChannels, ReportCampaigns, ReportLeadMagnets,
		ReportAudiences, ReportEmail, ReportWeekly, ReportTop}
}

// Report dispatches by name.
func (s *Service) Report(ctx context.Context, name string, f Filter) (any, error) {
	switch name {
	case ReportOverview:
		return s.Overview(ctx, f)
	case ReportChannels:
		return s.Channels(ctx, f)
	case ReportCampaigns:
		return s.Campaigns(ctx, f)
	case ReportLeadMagnets:
		return s.LeadMagnets(ctx, f)
	case ReportAudiences:
		return s.Audiences(ctx, f)
	case ReportEmail:
		return s.Email(ctx, f)
	case ReportWeekly:
		return s.Weekly(ctx, f)
	case ReportTop:
		return s.Top(ctx, f)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownReport, name)
}

// Overview totals every lead and splits paid from email.
func (s *Service) Overview(ctx context.Context, f Filter) (*Overview, error) {
	return cached(ctx, s, ReportOverview, f, func(ctx context.Context, f Filter) (*Overview, error) {
		d, err := s.load(ctx, f, true)
		if err != nil {
			return nil, err
		}
		email, paid := SplitEmail(d.subs)

		all := Aggregate(d.subs, ByLeadType, s.cfg.Rules)
		totals := all.Totals()
		totals.Budget = SumBudgets(DedupeByName(d.budgets))

		paidGroups := Aggregate(paid, BySourceMediumCampaign, s.cfg.Rules)
		paidTotals := paidGroups.Totals()
		paidTotals.Key = "paid"
		paidTotals.Budget = SumBudgets(matchedBudgets(paidGroups.Groups(), d.budgets))

		emailGroups := Aggregate(email, ByCampaign, s.cfg.Rules)
		emailTotals := emailGroups.Totals()
		emailTotals.Key = "email"
		emailTotals.Budget = SumBudgets(matchedBudgets(emailGroups.Groups(), d.budgets))

		leadTypes := all.Groups()
		SortByTotal(leadTypes)
		languages := Aggregate(d.subs, ByLanguage, s.cfg.Rules).Groups()
		SortByTotal(languages)

		var spend float64
		for _, row := range d.perf {
			spend += row.Spent
		}

		return &Overview{
			Filter:    f,
			Totals:    Row{Group: totals, Metrics: Derive(totals)},
			Paid:      Row{Group: paidTotals, Metrics: Derive(paidTotals)},
			Email:     Row{Group: emailTotals, Metrics: Derive(emailTotals)},
			AdSpend:   spend,
			LeadTypes: Rows(leadTypes),
			Languages: Rows(languages),
		}, nil
	})
}

// Channels breaks paid leads down by utm_source.  Email sources are
// reported separately by Email.
func (s *Service) Channels(ctx context.Context, f Filter) ([]Row, error) {
	return cached(ctx, s, ReportChannels, f, func(ctx context.Context, f Filter) ([]Row, error) {
		d, err := s.load(ctx, f, false)
		if err != nil {
			return nil, err
		}
		_, paid := SplitEmail(d.subs)
		g := Aggregate(paid, ByChannel, s.cfg.Rules)
		g.AttachBudgets(d.budgets)
		groups := g.Groups()
		SortByTotal(groups)
		return Rows(groups), nil
	})
}

// Campaigns breaks paid leads down by campaign, source and medium, ordered
// by campaign number.
func (s *Service) Campaigns(ctx context.Context, f Filter) ([]Row, error) {
	return cached(ctx, s, ReportCampaigns, f, func(ctx context.Context, f Filter) ([]Row, error) {
		d, err := s.load(ctx, f, false)
		if err != nil {
			return nil, err
		}
		_, paid := SplitEmail(d.subs)
		g := Aggregate(paid, BySourceMediumCampaign, s.cfg.Rules)
		g.AttachBudgets(d.budgets)
		groups := g.Groups()
		SortByCampaignNumber(groups)
		return Rows(groups), nil
	})
}

// LeadMagnets breaks every lead down by offer.
func (s *Service) LeadMagnets(ctx context.Context, f Filter) ([]Row, error) {
	return cached(ctx, s, ReportLeadMagnets, f, func(ctx context.Context, f Filter) ([]Row, error) {
		d, err := s.load(ctx, f, false)
		if err != nil {
			return nil, err
		}
		groups := Aggregate(d.subs, ByLeadType, s.cfg.Rules).Groups()
		SortByTotal(groups)
		return Rows(groups), nil
	})
}

// Audiences breaks paid leads down by market and audience, with the Meta
// spend of adsets classified the same way as budget.
func (s *Service) Audiences(ctx context.Context, f Filter) ([]Row, error) {
	return cached(ctx, s, ReportAudiences, f, func(ctx context.Context, f Filter) ([]Row, error) {
		d, err := s.load(ctx, f, true)
		if err != nil {
			return nil, err
		}
		_, paid := SplitEmail(d.subs)
		g := Aggregate(paid, ByAudience, s.cfg.Rules)

		spend := make(map[string]float64)
		for _, row := range d.perf {
			m, a := ClassifyAudience(row.AdsetName)
			spend[Dimensions{Market: string(m), Audience: string(a)}.Key()] += row.Spent
		}
		groups := g.Groups()
		for _, grp := range groups {
			grp.Budget = spend[grp.Key]
		}
		SortByTotal(groups)
		return Rows(groups), nil
	})
}

// Email reports email-sourced leads per campaign.
func (s *Service) Email(ctx context.Context, f Filter) ([]EmailRow, error) {
	return cached(ctx, s, ReportEmail, f, func(ctx context.Context, f Filter) ([]EmailRow, error) {
		d, err := s.load(ctx, f, false)
		if err != nil {
			return nil, err
		}
		return EmailReport(d.subs, d.budgets, s.cfg.Rules), nil
	})
}

// Weekly lays the plan window onto actual SQLs and Meta spend.  Without an
// explicit date range the plan window is used.
func (s *Service) Weekly(ctx context.Context, f Filter) (*WeeklyReport, error) {
	if s.cfg.Plan.Start.IsZero() {
		return nil, ErrNoPlan
	}
	return cached(ctx, s, ReportWeekly, f, func(ctx context.Context, f Filter) (*WeeklyReport, error) {
		plan := s.cfg.Plan
		if f.From.IsZero() {
			f.From = dayStart(plan.Start)
		}
		if f.To.IsZero() {
			f.To = dayStart(plan.Start).AddDate(0, 0, 7*plan.weeks())
		}
		d, err := s.load(ctx, f, true)
		if err != nil {
			return nil, err
		}
		weeks := Weekly(plan, d.subs, d.perf, s.cfg.Rules)
		return &WeeklyReport{
			Plan:     plan,
			Weeks:    weeks,
			Forecast: Project(plan, weeks, s.now()),
		}, nil
	})
}

// Top ranks channels, campaigns and lead magnets by score.
func (s *Service) Top(ctx context.Context, f Filter) (*TopReport, error) {
	return cached(ctx, s, ReportTop, f, func(ctx context.Context, f Filter) (*TopReport, error) {
		d, err := s.load(ctx, f, false)
		if err != nil {
			return nil, err
		}
		_, paid := SplitEmail(d.subs)
		campaigns := Aggregate(paid, ByCampaign, s.cfg.Rules)
		campaigns.AttachBudgets(d.budgets)
		return &TopReport{
			Channels:    Rank(Aggregate(paid, ByChannel, s.cfg.Rules).Groups(), TopN),
			Campaigns:   Rank(campaigns.Groups(), TopN),
			LeadMagnets: Rank(Aggregate(d.subs, ByLeadType, s.cfg.Rules).Groups(), TopN),
		}, nil
	})
}

// Invalidate moves the cache to a new data version.
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("failed to invalidate report cache", zap.Error(err))
	}
}

// Watch invalidates the cache on every change to a reported table until
// ctx is done.
func (s *Service) Watch(ctx context.Context, hub *realtime.Hub) error {
	events, cancel := hub.Subscribe(
		storage.TableSubmissions,
		storage.TableSubmissionsV2,
		storage.TableBudgets,
		storage.TableAdPerformance,
	)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.logger.Debug("report data changed", zap.String("table", ev.Table), zap.String("type", string(ev.Type)))
			s.Invalidate(ctx)
		}
	}
}

type dataset struct {
	subs    []*models.Submission
	budgets []*models.CampaignBudget
	perf    []*models.AdPerformanceRow
}

func (s *Service) load(ctx context.Context, f Filter, withPerf bool) (*dataset, error) {
	subs, err := s.repos.Submissions.List(ctx, models.SubmissionFilter{
		Generation: f.Generation,
		From:       f.From,
		To:         f.To,
		Language:   f.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions: %w", err)
	}
	budgets, err := s.repos.Budgets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load budgets: %w", err)
	}
	d := &dataset{subs: subs, budgets: BudgetsInRange(budgets, f.From, f.To)}
	if withPerf {
		to := f.To
		if !to.IsZero() {
			to = to.Add(-time.Nanosecond)
		}
		d.perf, err = s.repos.AdPerformance.List(ctx, f.From, to)
		if err != nil {
			return nil, fmt.Errorf("failed to load ad performance: %w", err)
		}
	}
	return d, nil
}

// matchedBudgets collects the distinct budgets matched by any of groups.
func matchedBudgets(groups []*Group, budgets []*models.CampaignBudget) []*models.CampaignBudget {
	var all []*models.CampaignBudget
	for _, g := range groups {
		all = append(all, MatchBudgets(budgets, g.Dimensions)...)
	}
	return DedupeByName(all)
}

func cached[T any](ctx context.Context, s *Service, report string, f Filter, build func(context.Context, Filter) (T, error)) (T, error) {
	start := time.Now()
	f = f.normalize()

	var key string
	if s.cache != nil {
		version, err := s.cache.Version(ctx)
		if err != nil {
			s.logger.Warn("report cache unavailable", zap.Error(err))
		} else {
			key = fmt.Sprintf("%s:%d:%016x", report, version, f.hash())
			if b, ok, err := s.cache.Get(ctx, key); err != nil {
				s.logger.Warn("report cache read failed", zap.String("report", report), zap.Error(err))
			} else if ok {
				var out T
				if err := json.Unmarshal(b, &out); err == nil {
					s.record(report, true, start)
					return out, nil
				}
			}
		}
	}

	out, err := build(ctx, f)
	if err != nil {
		return out, err
	}

	if key != "" {
		if b, err := json.Marshal(out); err == nil {
			if err := s.cache.Set(ctx, key, b, s.cfg.CacheTTL); err != nil {
				s.logger.Warn("report cache write failed", zap.String("report", report), zap.Error(err))
			}
		}
	}
	s.record(report, false, start)
	return out, nil
}

func (s *Service) record(report string, hit bool, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordReport(report, hit, time.Since(start))
	}
}
