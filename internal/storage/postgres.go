package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/leadgen-analytics/internal/models"
)

// Postgres repositories.  Change events come from the table triggers (see
// migrations), so these repos do not publish themselves.

const submissionColumns = `id, name, company, email, phone, address, type, quality,
	sales_status, sales_rep, utm_source, utm_medium, utm_campaign, utm_content,
	utm_term, language, consent, marketing_consent, country, landing_page,
	created_at, updated_at`

// PostgresSubmissionRepo implements SubmissionRepo using PostgreSQL.
type PostgresSubmissionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSubmissionRepo(pool *pgxpool.Pool) *PostgresSubmissionRepo {
	return &PostgresSubmissionRepo{pool: pool}
}

func (r *PostgresSubmissionRepo) Insert(ctx context.Context, gen models.Generation, s *models.Submission) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.SalesStatus == "" {
		s.SalesStatus = models.SalesToContact
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO `+gen.Table()+` (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`,
		s.ID, s.Name, s.Company, s.Email, s.Phone, s.Address, string(s.Type), s.Quality.Label(),
		string(s.SalesStatus), s.SalesRep, s.UTM.Source, s.UTM.Medium, s.UTM.Campaign, s.UTM.Content,
		s.UTM.Term, s.Language, s.Consent, s.MarketingConsent, s.Country, s.LandingPage,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

func (r *PostgresSubmissionRepo) Get(ctx context.Context, gen models.Generation, id string) (*models.Submission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM `+gen.Table()+` WHERE id = $1`, id)
	s, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return s, nil
}

func (r *PostgresSubmissionRepo) List(ctx context.Context, filter models.SubmissionFilter) ([]*models.Submission, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	if filter.Language != "" {
		add("language = $%d", filter.Language)
	}
	if filter.SalesStatus != "" {
		add("sales_status = $%d", string(filter.SalesStatus))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}

	q := `SELECT ` + submissionColumns + ` FROM ` + filter.Generation.Table()
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var res []*models.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r *PostgresSubmissionRepo) Update(ctx context.Context, gen models.Generation, id string, upd *models.SubmissionUpdate) (*models.Submission, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Quality != nil {
		set("quality", upd.Quality.Label())
	}
	if upd.SalesStatus != nil {
		set("sales_status", string(*upd.SalesStatus))
	}
	if upd.SalesRep != nil {
		set("sales_rep", strings.TrimSpace(*upd.SalesRep))
	}
	set("updated_at", time.Now().UTC())
	args = append(args, id)

	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET %s WHERE id = $%d RETURNING %s
	`, gen.Table(), strings.Join(sets, ", "), len(args), submissionColumns), args...)
	s, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update submission: %w", err)
	}
	return s, nil
}

func scanSubmission(row pgx.Row) (*models.Submission, error) {
	var (
		s                                 models.Submission
		leadType, quality, salesStatus    string
		company, phone, address, salesRep *string
		country, landingPage              *string
	)
	if err := row.Scan(
		&s.ID, &s.Name, &company, &s.Email, &phone, &address, &leadType, &quality,
		&salesStatus, &salesRep, &s.UTM.Source, &s.UTM.Medium, &s.UTM.Campaign, &s.UTM.Content,
		&s.UTM.Term, &s.Language, &s.Consent, &s.MarketingConsent, &country, &landingPage,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Type = models.LeadType(leadType)
	s.Quality, _ = models.ParseQuality(quality)
	s.SalesStatus = models.SalesStatus(salesStatus)
	s.Company = deref(company)
	s.Phone = deref(phone)
	s.Address = deref(address)
	s.SalesRep = deref(salesRep)
	s.Country = deref(country)
	s.LandingPage = deref(landingPage)
	return &s, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// PostgresBudgetRepo implements BudgetRepo using PostgreSQL.
type PostgresBudgetRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresBudgetRepo(pool *pgxpool.Pool) *PostgresBudgetRepo {
	return &PostgresBudgetRepo{pool: pool}
}

func (r *PostgresBudgetRepo) List(ctx context.Context) ([]*models.CampaignBudget, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, campaign_name, utm_campaigns, utm_sources, utm_mediums, budget,
			   start_date, end_date, emails_sent, open_rate, click_rate, created_at
		FROM campaign_budgets ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	defer rows.Close()

	var res []*models.CampaignBudget
	for rows.Next() {
		var (
			b                   models.CampaignBudget
			emailsSent          *int32
			openRate, clickRate *float64
		)
		if err := rows.Scan(
			&b.ID, &b.CampaignName, &b.UTMCampaigns, &b.UTMSources, &b.UTMMediums, &b.Budget,
			&b.StartDate, &b.EndDate, &emailsSent, &openRate, &clickRate, &b.CreatedAt,
		); err != nil {
			return nil, err
		}
		if emailsSent != nil {
			b.EmailsSent = int(*emailsSent)
		}
		if openRate != nil {
			b.OpenRate = *openRate
		}
		if clickRate != nil {
			b.ClickRate = *clickRate
		}
		res = append(res, &b)
	}
	return res, rows.Err()
}

func (r *PostgresBudgetRepo) Insert(ctx context.Context, b *models.CampaignBudget) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_budgets (
			id, campaign_name, utm_campaigns, utm_sources, utm_mediums, budget,
			start_date, end_date, emails_sent, open_rate, click_rate, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, b.ID, b.CampaignName, nonNil(b.UTMCampaigns), nonNil(b.UTMSources), nonNil(b.UTMMediums), b.Budget,
		b.StartDate, b.EndDate, int32(b.EmailsSent), b.OpenRate, b.ClickRate, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert budget: %w", err)
	}
	return nil
}

func (r *PostgresBudgetRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM campaign_budgets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// PostgresAdPerformanceRepo implements AdPerformanceRepo using PostgreSQL.
type PostgresAdPerformanceRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAdPerformanceRepo(pool *pgxpool.Pool) *PostgresAdPerformanceRepo {
	return &PostgresAdPerformanceRepo{pool: pool}
}

// UpsertBatch writes every row in one transaction.  A failure rolls the
// whole batch back, leaving previously synced rows untouched.
func (r *PostgresAdPerformanceRepo) UpsertBatch(ctx context.Context, rows []*models.AdPerformanceRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO ad_performance (date, campaign_name, adset_name, ad_name, spent, frequency, synced_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (date, campaign_name, adset_name, ad_name) DO UPDATE SET
				spent = EXCLUDED.spent,
				frequency = EXCLUDED.frequency,
				synced_at = EXCLUDED.synced_at
		`, row.Date, row.CampaignName, row.AdsetName, row.AdName, row.Spent, row.Frequency, now)
	}

	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("failed to upsert ad performance: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit ad performance: %w", err)
	}
	return len(rows), nil
}

func (r *PostgresAdPerformanceRepo) List(ctx context.Context, from, to time.Time) ([]*models.AdPerformanceRow, error) {
	var (
		where []string
		args  []any
	)
	if !from.IsZero() {
		args = append(args, dateParam(from))
		where = append(where, fmt.Sprintf("date >= $%d::date", len(args)))
	}
	if !to.IsZero() {
		args = append(args, dateParam(to))
		where = append(where, fmt.Sprintf("date <= $%d::date", len(args)))
	}
	q := `SELECT date, campaign_name, adset_name, ad_name, spent, frequency, synced_at FROM ad_performance`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY date, campaign_name, adset_name, ad_name`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ad performance: %w", err)
	}
	defer rows.Close()

	var res []*models.AdPerformanceRow
	for rows.Next() {
		var row models.AdPerformanceRow
		if err := rows.Scan(&row.Date, &row.CampaignName, &row.AdsetName, &row.AdName, &row.Spent, &row.Frequency, &row.SyncedAt); err != nil {
			return nil, err
		}
		res = append(res, &row)
	}
	return res, rows.Err()
}

// dateParam renders the UTC calendar day of t so DATE comparisons do not
// depend on the session TimeZone.
func dateParam(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// PostgresSyncCampaignRepo implements SyncCampaignRepo using PostgreSQL.
type PostgresSyncCampaignRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSyncCampaignRepo(pool *pgxpool.Pool) *PostgresSyncCampaignRepo {
	return &PostgresSyncCampaignRepo{pool: pool}
}

func (r *PostgresSyncCampaignRepo) List(ctx context.Context) ([]*models.SyncCampaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT campaign_id, campaign_name, enabled, updated_at
		FROM meta_sync_campaigns ORDER BY campaign_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync campaigns: %w", err)
	}
	defer rows.Close()

	var res []*models.SyncCampaign
	for rows.Next() {
		var c models.SyncCampaign
		if err := rows.Scan(&c.CampaignID, &c.CampaignName, &c.Enabled, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &c)
	}
	return res, rows.Err()
}

func (r *PostgresSyncCampaignRepo) Upsert(ctx context.Context, campaigns []*models.SyncCampaign) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, c := range campaigns {
		_, err := tx.Exec(ctx, `
			INSERT INTO meta_sync_campaigns (campaign_id, campaign_name, enabled, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (campaign_id) DO UPDATE SET
				campaign_name = EXCLUDED.campaign_name,
				enabled = EXCLUDED.enabled,
				updated_at = EXCLUDED.updated_at
		`, c.CampaignID, c.CampaignName, c.Enabled, now)
		if err != nil {
			return fmt.Errorf("failed to upsert sync campaign: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// NewPostgresRepos wires a full Postgres repository set.
func NewPostgresRepos(pool *pgxpool.Pool) *Repos {
	return &Repos{
		Submissions:   NewPostgresSubmissionRepo(pool),
		Budgets:       NewPostgresBudgetRepo(pool),
		AdPerformance: NewPostgresAdPerformanceRepo(pool),
		SyncCampaigns: NewPostgresSyncCampaignRepo(pool),
	}
}
