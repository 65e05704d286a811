package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// defaultUpsertBatchSize bounds one multi-row INSERT when the caller does not
// configure a batch size. 500 rows * ~21 placeholders stays well under the
// 65535 bind-parameter limit of the PostgreSQL protocol.
const defaultUpsertBatchSize = 500

// PerformanceRepository writes parsed report rows into the two performance
// tables. All writes are idempotent upserts keyed by the bucket identity, so
// re-processing an export (duplicate SQS delivery, restated data) converges
// instead of duplicating.
type PerformanceRepository struct {
	db        DBTX
	batchSize int
}

// NewPerformanceRepository creates a new PerformanceRepository backed by the
// given database connection. batchSize caps rows per INSERT statement; values
// <= 0 fall back to the default.
func NewPerformanceRepository(db DBTX, batchSize int) *PerformanceRepository {
	if batchSize <= 0 {
		batchSize = defaultUpsertBatchSize
	}
	return &PerformanceRepository{db: db, batchSize: batchSize}
}

// metricColumns is the shared metric column list of both performance tables.
const metricColumns = `impressions, clicks, cost,
	purchases_1d, purchases_7d, purchases_14d, purchases_30d,
	sales_1d, sales_7d, sales_14d, sales_30d,
	units_sold_14d`

// metricUpdateSet assigns every metric column from EXCLUDED, for the
// ON CONFLICT DO UPDATE arm of the upserts.
const metricUpdateSet = `impressions = EXCLUDED.impressions,
	clicks = EXCLUDED.clicks,
	cost = EXCLUDED.cost,
	purchases_1d = EXCLUDED.purchases_1d,
	purchases_7d = EXCLUDED.purchases_7d,
	purchases_14d = EXCLUDED.purchases_14d,
	purchases_30d = EXCLUDED.purchases_30d,
	sales_1d = EXCLUDED.sales_1d,
	sales_7d = EXCLUDED.sales_7d,
	sales_14d = EXCLUDED.sales_14d,
	sales_30d = EXCLUDED.sales_30d,
	units_sold_14d = EXCLUDED.units_sold_14d`

// UpsertTargetRows writes target-level performance rows in batches. Each
// batch is a single multi-row INSERT ... ON CONFLICT DO UPDATE keyed by
// (account_id, country_code, aggregation, bucket_start, target_id).
func (r *PerformanceRepository) UpsertTargetRows(ctx context.Context, rows []types.TargetPerformanceRow) error {
	for start := 0; start < len(rows); start += r.batchSize {
		end := start + r.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := r.upsertTargetBatch(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *PerformanceRepository) upsertTargetBatch(ctx context.Context, rows []types.TargetPerformanceRow) error {
	if len(rows) == 0 {
		return nil
	}

	const colCount = 21
	var sb strings.Builder
	sb.WriteString(`INSERT INTO target_performance (
		account_id, country_code, aggregation, bucket_start,
		target_id, campaign_id, ad_group_id, expression, match_type,
		` + metricColumns + `
	) VALUES `)

	args := make([]any, 0, len(rows)*colCount)
	for i := range rows {
		row := &rows[i]
		if i > 0 {
			sb.WriteString(", ")
		}
		writePlaceholderRow(&sb, i*colCount, colCount)

		args = append(args,
			row.AccountID,
			row.CountryCode,
			row.Aggregation,
			row.BucketStart,
			row.TargetID,
			row.CampaignID,
			row.AdGroupID,
			row.Expression,
			row.MatchType,
			row.Impressions,
			row.Clicks,
			row.Cost,
			row.Purchases1D,
			row.Purchases7D,
			row.Purchases14D,
			row.Purchases30D,
			row.Sales1D,
			row.Sales7D,
			row.Sales14D,
			row.Sales30D,
			row.UnitsSold14D,
		)
	}

	sb.WriteString(` ON CONFLICT (account_id, country_code, aggregation, bucket_start, target_id)
		DO UPDATE SET
		campaign_id = EXCLUDED.campaign_id,
		ad_group_id = EXCLUDED.ad_group_id,
		expression = EXCLUDED.expression,
		match_type = EXCLUDED.match_type,
		` + metricUpdateSet + `,
		updated_at = NOW()`)

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert target performance rows", err)
	}
	return nil
}

// UpsertProductRows writes advertised-product performance rows in batches,
// keyed by (account_id, country_code, aggregation, bucket_start, ad_id).
func (r *PerformanceRepository) UpsertProductRows(ctx context.Context, rows []types.ProductPerformanceRow) error {
	for start := 0; start < len(rows); start += r.batchSize {
		end := start + r.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := r.upsertProductBatch(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *PerformanceRepository) upsertProductBatch(ctx context.Context, rows []types.ProductPerformanceRow) error {
	if len(rows) == 0 {
		return nil
	}

	const colCount = 21
	var sb strings.Builder
	sb.WriteString(`INSERT INTO product_performance (
		account_id, country_code, aggregation, bucket_start,
		ad_id, campaign_id, ad_group_id, asin, sku,
		` + metricColumns + `
	) VALUES `)

	args := make([]any, 0, len(rows)*colCount)
	for i := range rows {
		row := &rows[i]
		if i > 0 {
			sb.WriteString(", ")
		}
		writePlaceholderRow(&sb, i*colCount, colCount)

		args = append(args,
			row.AccountID,
			row.CountryCode,
			row.Aggregation,
			row.BucketStart,
			row.AdID,
			row.CampaignID,
			row.AdGroupID,
			row.ASIN,
			row.SKU,
			row.Impressions,
			row.Clicks,
			row.Cost,
			row.Purchases1D,
			row.Purchases7D,
			row.Purchases14D,
			row.Purchases30D,
			row.Sales1D,
			row.Sales7D,
			row.Sales14D,
			row.Sales30D,
			row.UnitsSold14D,
		)
	}

	sb.WriteString(` ON CONFLICT (account_id, country_code, aggregation, bucket_start, ad_id)
		DO UPDATE SET
		campaign_id = EXCLUDED.campaign_id,
		ad_group_id = EXCLUDED.ad_group_id,
		asin = EXCLUDED.asin,
		sku = EXCLUDED.sku,
		` + metricUpdateSet + `,
		updated_at = NOW()`)

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert product performance rows", err)
	}
	return nil
}

// writePlaceholderRow appends "($n, $n+1, ...)" for one VALUES tuple.
func writePlaceholderRow(sb *strings.Builder, base, colCount int) {
	sb.WriteString("(")
	for j := 0; j < colCount; j++ {
		if j > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "$%d", base+j+1)
	}
	sb.WriteString(")")
}
