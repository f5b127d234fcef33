package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/realtime"
)

// clickHouseSchema keeps the newest row per natural key; synced_at is the
// version column so a re-sync replaces the earlier import on merge.
const clickHouseSchema = `
CREATE TABLE IF NOT EXISTS ad_performance (
	date          Date,
	campaign_name String,
	adset_name    String,
	ad_name       String,
	spent         Float64,
	frequency     Float64,
	synced_at     DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(synced_at)
ORDER BY (date, campaign_name, adset_name, ad_name)
`

// ClickHouseAdPerformanceRepo implements AdPerformanceRepo using ClickHouse.
type ClickHouseAdPerformanceRepo struct {
	conn driver.Conn
	pub  Publisher
}

// NewClickHouseAdPerformanceRepo creates the repo.  pub may be nil.
func NewClickHouseAdPerformanceRepo(conn driver.Conn, pub Publisher) *ClickHouseAdPerformanceRepo {
	return &ClickHouseAdPerformanceRepo{conn: conn, pub: publisherOrNop(pub)}
}

// EnsureSchema creates the table when missing.
func (r *ClickHouseAdPerformanceRepo) EnsureSchema(ctx context.Context) error {
	if err := r.conn.Exec(ctx, clickHouseSchema); err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

// UpsertBatch sends every row in one insert block.  ClickHouse either
// accepts the whole block or none of it.
func (r *ClickHouseAdPerformanceRepo) UpsertBatch(ctx context.Context, rows []*models.AdPerformanceRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO ad_performance")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	now := time.Now().UTC()
	for _, row := range rows {
		if err := batch.Append(
			row.Date,
			row.CampaignName,
			row.AdsetName,
			row.AdName,
			row.Spent,
			row.Frequency,
			now,
		); err != nil {
			batch.Abort()
			return 0, fmt.Errorf("failed to append row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	r.pub.Publish(realtime.NewEvent(TableAdPerformance, realtime.OpUpdate, "", nil))
	return len(rows), nil
}

// List reads with FINAL so replaced rows are collapsed at query time.
func (r *ClickHouseAdPerformanceRepo) List(ctx context.Context, from, to time.Time) ([]*models.AdPerformanceRow, error) {
	if from.IsZero() {
		from = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = time.Date(2149, 6, 6, 0, 0, 0, 0, time.UTC)
	}

	rows, err := r.conn.Query(ctx, `
		SELECT date, campaign_name, adset_name, ad_name, spent, frequency, synced_at
		FROM ad_performance FINAL
		WHERE date >= ? AND date <= ?
		ORDER BY date, campaign_name, adset_name, ad_name
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query ad performance: %w", err)
	}
	defer rows.Close()

	var res []*models.AdPerformanceRow
	for rows.Next() {
		var row models.AdPerformanceRow
		if err := rows.Scan(&row.Date, &row.CampaignName, &row.AdsetName, &row.AdName, &row.Spent, &row.Frequency, &row.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ad performance: %w", err)
		}
		res = append(res, &row)
	}
	return res, rows.Err()
}
