package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/realtime"
)

// In-memory implementations, used when PostgreSQL is not configured and in
// tests.  They publish change events themselves.

type nopPublisher struct{}

func (nopPublisher) Publish(realtime.Event) {}

func publisherOrNop(p Publisher) Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

// InMemorySubmissionRepo stores submissions in memory.
type InMemorySubmissionRepo struct {
	mu    sync.RWMutex
	rows  map[models.Generation]map[string]*models.Submission
	order map[models.Generation][]string
	pub   Publisher
}

// NewInMemorySubmissionRepo creates an empty repo.  pub may be nil.
func NewInMemorySubmissionRepo(pub Publisher) *InMemorySubmissionRepo {
	return &InMemorySubmissionRepo{
		rows: map[models.Generation]map[string]*models.Submission{
			models.GenerationV1: {},
			models.GenerationV2: {},
		},
		order: map[models.Generation][]string{},
		pub:   publisherOrNop(pub),
	}
}

func (r *InMemorySubmissionRepo) Insert(ctx context.Context, gen models.Generation, s *models.Submission) error {
	gen = models.ParseGeneration(string(gen))
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	r.mu.Lock()
	cp := *s
	if _, exists := r.rows[gen][s.ID]; !exists {
		r.order[gen] = append(r.order[gen], s.ID)
	}
	r.rows[gen][s.ID] = &cp
	r.mu.Unlock()

	r.pub.Publish(realtime.NewEvent(gen.Table(), realtime.OpInsert, s.ID, &cp))
	return nil
}

func (r *InMemorySubmissionRepo) Get(ctx context.Context, gen models.Generation, id string) (*models.Submission, error) {
	gen = models.ParseGeneration(string(gen))
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rows[gen][id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// List returns matching submissions, newest first.
func (r *InMemorySubmissionRepo) List(ctx context.Context, filter models.SubmissionFilter) ([]*models.Submission, error) {
	gen := models.ParseGeneration(string(filter.Generation))
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.Submission, 0, len(r.order[gen]))
	for _, id := range r.order[gen] {
		s := r.rows[gen][id]
		if !filter.Match(s) {
			continue
		}
		cp := *s
		res = append(res, &cp)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (r *InMemorySubmissionRepo) Update(ctx context.Context, gen models.Generation, id string, upd *models.SubmissionUpdate) (*models.Submission, error) {
	gen = models.ParseGeneration(string(gen))
	r.mu.Lock()
	s, ok := r.rows[gen][id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	upd.Apply(s)
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	r.mu.Unlock()

	r.pub.Publish(realtime.NewEvent(gen.Table(), realtime.OpUpdate, id, &cp))
	return &cp, nil
}

// InMemoryBudgetRepo stores budgets in memory.
type InMemoryBudgetRepo struct {
	mu      sync.RWMutex
	budgets []*models.CampaignBudget
	pub     Publisher
}

// NewInMemoryBudgetRepo creates an empty repo.  pub may be nil.
func NewInMemoryBudgetRepo(pub Publisher) *InMemoryBudgetRepo {
	return &InMemoryBudgetRepo{pub: publisherOrNop(pub)}
}

func (r *InMemoryBudgetRepo) List(ctx context.Context) ([]*models.CampaignBudget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.CampaignBudget, 0, len(r.budgets))
	for _, b := range r.budgets {
		cp := *b
		res = append(res, &cp)
	}
	return res, nil
}

func (r *InMemoryBudgetRepo) Insert(ctx context.Context, b *models.CampaignBudget) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	cp := *b
	r.budgets = append(r.budgets, &cp)
	r.mu.Unlock()

	r.pub.Publish(realtime.NewEvent(TableBudgets, realtime.OpInsert, b.ID, &cp))
	return nil
}

func (r *InMemoryBudgetRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	idx := -1
	for i, b := range r.budgets {
		if b.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return ErrNotFound
	}
	r.budgets = append(r.budgets[:idx], r.budgets[idx+1:]...)
	r.mu.Unlock()

	r.pub.Publish(realtime.NewEvent(TableBudgets, realtime.OpDelete, id, nil))
	return nil
}

// InMemoryAdPerformanceRepo stores insight rows keyed by their natural key.
type InMemoryAdPerformanceRepo struct {
	mu   sync.RWMutex
	rows map[string]*models.AdPerformanceRow
	pub  Publisher
}

// NewInMemoryAdPerformanceRepo creates an empty repo.  pub may be nil.
func NewInMemoryAdPerformanceRepo(pub Publisher) *InMemoryAdPerformanceRepo {
	return &InMemoryAdPerformanceRepo{rows: make(map[string]*models.AdPerformanceRow), pub: publisherOrNop(pub)}
}

func (r *InMemoryAdPerformanceRepo) UpsertBatch(ctx context.Context, rows []*models.AdPerformanceRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	r.mu.Lock()
	for _, row := range rows {
		cp := *row
		cp.SyncedAt = now
		r.rows[cp.Key()] = &cp
	}
	r.mu.Unlock()

	r.pub.Publish(realtime.NewEvent(TableAdPerformance, realtime.OpUpdate, "", nil))
	return len(rows), nil
}

// List returns rows ordered by date then campaign, adset and ad.
func (r *InMemoryAdPerformanceRepo) List(ctx context.Context, from, to time.Time) ([]*models.AdPerformanceRow, error) {
	r.mu.RLock()
	res := make([]*models.AdPerformanceRow, 0, len(r.rows))
	for _, row := range r.rows {
		if !from.IsZero() && row.Date.Before(from) {
			continue
		}
		if !to.IsZero() && row.Date.After(to) {
			continue
		}
		cp := *row
		res = append(res, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].Key() < res[j].Key() })
	return res, nil
}

// InMemorySyncCampaignRepo stores the auto-sync selection in memory.
type InMemorySyncCampaignRepo struct {
	mu        sync.RWMutex
	campaigns map[string]*models.SyncCampaign
}

// NewInMemorySyncCampaignRepo creates an empty repo.
func NewInMemorySyncCampaignRepo() *InMemorySyncCampaignRepo {
	return &InMemorySyncCampaignRepo{campaigns: make(map[string]*models.SyncCampaign)}
}

func (r *InMemorySyncCampaignRepo) List(ctx context.Context) ([]*models.SyncCampaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.SyncCampaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		cp := *c
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CampaignID < res[j].CampaignID })
	return res, nil
}

func (r *InMemorySyncCampaignRepo) Upsert(ctx context.Context, campaigns []*models.SyncCampaign) error {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range campaigns {
		cp := *c
		cp.UpdatedAt = now
		r.campaigns[c.CampaignID] = &cp
	}
	return nil
}

// NewInMemoryRepos wires a full in-memory repository set.
func NewInMemoryRepos(pub Publisher) *Repos {
	return &Repos{
		Submissions:   NewInMemorySubmissionRepo(pub),
		Budgets:       NewInMemoryBudgetRepo(pub),
		AdPerformance: NewInMemoryAdPerformanceRepo(pub),
		SyncCampaigns: NewInMemorySyncCampaignRepo(),
	}
}
