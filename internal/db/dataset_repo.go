package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// datasetColumns is the canonical column list for dataset_periods reads.
// Keep in sync with scanDatasetPeriod.
const datasetColumns = `account_id, country_code, aggregation, entity_type, period_start,
	status, report_id, last_report_created_at, last_processed_report_id,
	next_refresh_at, refreshing, error,
	total_records, success_records, error_records,
	created_at, updated_at`

// DatasetPeriodRepository provides data access for the dataset_periods table,
// the metadata backbone of the refresh lifecycle. One row per
// (account, country, aggregation, entity type, period start); the refreshing
// flag on each row is the claim that serializes pipeline executions.
type DatasetPeriodRepository struct {
	db DBTX
}

// NewDatasetPeriodRepository creates a new DatasetPeriodRepository backed by
// the given database connection (pool or transaction).
func NewDatasetPeriodRepository(db DBTX) *DatasetPeriodRepository {
	return &DatasetPeriodRepository{db: db}
}

// scanDatasetPeriod scans one row in datasetColumns order.
func scanDatasetPeriod(row pgx.Row) (*types.DatasetPeriod, error) {
	var p types.DatasetPeriod
	err := row.Scan(
		&p.AccountID,
		&p.CountryCode,
		&p.Aggregation,
		&p.EntityType,
		&p.PeriodStart,
		&p.Status,
		&p.ReportID,
		&p.LastReportCreatedAt,
		&p.LastProcessedReportID,
		&p.NextRefreshAt,
		&p.Refreshing,
		&p.Error,
		&p.TotalRecords,
		&p.SuccessRecords,
		&p.ErrorRecords,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureExists inserts a missing dataset period row if none exists for the
// key. Returns true when a row was inserted, false when the key was already
// present. Existing rows are never modified, so repeated backfill passes are
// idempotent and never clobber in-progress state.
//
// SQL pattern:
//
//	INSERT INTO dataset_periods (...)
//	VALUES (..., 'missing', $6, false)
//	ON CONFLICT (account_id, country_code, aggregation, entity_type, period_start)
//	DO NOTHING
func (r *DatasetPeriodRepository) EnsureExists(ctx context.Context, key types.DatasetKey, nextRefreshAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO dataset_periods
		 (account_id, country_code, aggregation, entity_type, period_start,
		  status, next_refresh_at, refreshing, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'missing', $6, false, NOW(), NOW())
		 ON CONFLICT (account_id, country_code, aggregation, entity_type, period_start)
		 DO NOTHING`,
		key.AccountID,
		key.CountryCode,
		key.Aggregation,
		key.EntityType,
		key.PeriodStart,
		nextRefreshAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to ensure dataset period", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByKey returns the dataset period for the composite key.
func (r *DatasetPeriodRepository) GetByKey(ctx context.Context, key types.DatasetKey) (*types.DatasetPeriod, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+datasetColumns+`
		 FROM dataset_periods
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3
		   AND entity_type = $4 AND period_start = $5`,
		key.AccountID,
		key.CountryCode,
		key.Aggregation,
		key.EntityType,
		key.PeriodStart,
	)

	p, err := scanDatasetPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundDataset, "dataset period not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get dataset period", err)
	}
	return p, nil
}

// ListDueInFlight returns unclaimed rows with an outstanding export whose
// next_refresh_at has passed, newest period first. These rows bypass the
// concurrency cap: the remote report is already paid for and must be driven
// to completion or failure.
func (r *DatasetPeriodRepository) ListDueInFlight(ctx context.Context, accountID, countryCode string, agg types.Aggregation, entity types.EntityType, now time.Time) ([]*types.DatasetPeriod, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+datasetColumns+`
		 FROM dataset_periods
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3 AND entity_type = $4
		   AND report_id IS NOT NULL
		   AND refreshing = false
		   AND next_refresh_at <= $5
		 ORDER BY period_start DESC`,
		accountID, countryCode, agg, entity, now,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query in-flight dataset periods", err)
	}
	defer rows.Close()

	return collectDatasetPeriods(rows)
}

// ListDueFresh returns unclaimed rows without an outstanding export whose
// next_refresh_at has passed, newest period first, capped at limit. The limit
// is the remaining concurrency budget for the scope after in-flight rows are
// accounted for.
func (r *DatasetPeriodRepository) ListDueFresh(ctx context.Context, accountID, countryCode string, agg types.Aggregation, entity types.EntityType, now time.Time, limit int) ([]*types.DatasetPeriod, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+datasetColumns+`
		 FROM dataset_periods
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3 AND entity_type = $4
		   AND report_id IS NULL
		   AND refreshing = false
		   AND next_refresh_at <= $5
		 ORDER BY period_start DESC
		 LIMIT $6`,
		accountID, countryCode, agg, entity, now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query fresh dataset periods", err)
	}
	defer rows.Close()

	return collectDatasetPeriods(rows)
}

// CountRefreshing returns the number of currently claimed rows in a scope.
// The scheduler subtracts this from the scope's concurrency cap before
// dispatching new work.
func (r *DatasetPeriodRepository) CountRefreshing(ctx context.Context, accountID, countryCode string, agg types.Aggregation, entity types.EntityType) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM dataset_periods
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3 AND entity_type = $4
		   AND refreshing = true`,
		accountID, countryCode, agg, entity,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count refreshing dataset periods", err)
	}
	return count, nil
}

// Claim atomically sets refreshing=true on an unclaimed row and returns the
// row's state as of the claim. Claim-and-read is a single statement so two
// concurrent claimers can never both win, and the winner acts on exactly the
// state it locked.
//
// SQL pattern:
//
//	UPDATE dataset_periods
//	SET refreshing = true, updated_at = NOW()
//	WHERE <key> AND refreshing = false
//	RETURNING <columns>
//
// Returns ErrCodeConflictClaimLost when the row is already claimed or gone;
// callers treat that as "someone else is handling it" and move on.
func (r *DatasetPeriodRepository) Claim(ctx context.Context, key types.DatasetKey) (*types.DatasetPeriod, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE dataset_periods
		 SET refreshing = true, updated_at = NOW()
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3
		   AND entity_type = $4 AND period_start = $5
		   AND refreshing = false
		 RETURNING `+datasetColumns,
		key.AccountID,
		key.CountryCode,
		key.Aggregation,
		key.EntityType,
		key.PeriodStart,
	)

	p, err := scanDatasetPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeConflictClaimLost, "dataset period already claimed or missing", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim dataset period", err)
	}
	return p, nil
}

// ConfirmClaim verifies the row still holds the claim the scheduler took
// before dispatch and returns its state. The touch on updated_at restarts the
// stuck-claim age, so a slow queue does not get a live worker's claim swept
// out from under it.
//
// SQL pattern:
//
//	UPDATE dataset_periods
//	SET updated_at = NOW()
//	WHERE <key> AND refreshing = true
//	RETURNING <columns>
//
// Returns ErrCodeConflictClaimLost when the claim is gone: the usual cause is
// a duplicate queue delivery arriving after the first one released the row.
func (r *DatasetPeriodRepository) ConfirmClaim(ctx context.Context, key types.DatasetKey) (*types.DatasetPeriod, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE dataset_periods
		 SET updated_at = NOW()
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3
		   AND entity_type = $4 AND period_start = $5
		   AND refreshing = true
		 RETURNING `+datasetColumns,
		key.AccountID,
		key.CountryCode,
		key.Aggregation,
		key.EntityType,
		key.PeriodStart,
	)

	p, err := scanDatasetPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeConflictClaimLost, "dataset period claim not held", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to confirm dataset period claim", err)
	}
	return p, nil
}

// MarkParsing updates the descriptive status to 'parsing' while the claim is
// held. Purely observational; the claim itself does not change.
func (r *DatasetPeriodRepository) MarkParsing(ctx context.Context, key types.DatasetKey) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dataset_periods
		 SET status = 'parsing', updated_at = NOW()
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3
		   AND entity_type = $4 AND period_start = $5
		   AND refreshing = true`,
		key.AccountID,
		key.CountryCode,
		key.Aggregation,
		key.EntityType,
		key.PeriodStart,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark dataset period parsing", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictClaimLost, "dataset period claim no longer held", nil)
	}
	return nil
}

// ReleaseAfterCreate releases the claim after a successful export creation:
// status 'fetching', the new report linkage recorded, error cleared, and the
// poll time scheduled.
func (r *DatasetPeriodRepository) ReleaseAfterCreate(ctx context.Context, key types.DatasetKey, reportID string, reportCreatedAt, nextRefreshAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dataset_periods
		 SET status = 'fetching',
		     report_id = $6,
		     last_report_created_at = $7,
		     error = NULL,
		     refreshing = false,
		     next_refresh_at = $8,
		     updated_at = NOW()
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3
		   AND entity_type = $4 AND period_start = $5`,
		key.AccountID,
		key.CountryCode,
		key.Aggregation,
		key.EntityType,
		key.PeriodStart,
		reportID,
		reportCreatedAt,
		nextRefreshAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record created export", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDataset, "dataset period not found", nil)
	}
	return nil
}

// ReleaseCompleted releases the claim after a fully processed export:
// status 'completed', report linkage cleared, record counters stored, and the
// next cadence instant scheduled.
func (r *DatasetPeriodRepository) ReleaseCompleted(ctx context.Context, key types.DatasetKey, counts types.RecordCounts, processedReportID string, nextRefreshAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dataset_periods
		 SET status = 'completed',
		     report_id = NULL,
		     last_processed_report_id = $6,
		     total_records = $7,
		     success_records = $8,
		     error_records = $9,
		     error = NULL,
		     refreshing = false,
		     next_refresh_at = $10,
		     updated_at = NOW()
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3
		   AND entity_type = $4 AND period_start = $5`,
		key.AccountID,
		key.CountryCode,
		key.Aggregation,
		key.EntityType,
		key.PeriodStart,
		processedReportID,
		counts.Total,
		counts.Success,
		counts.Error,
		nextRefreshAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record completed refresh", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDataset, "dataset period not found", nil)
	}
	return nil
}

// ReleaseError releases the claim after a failed execution: status 'error',
// the message stored, and the retry scheduled. clearReport additionally
// severs the report linkage so the next attempt starts a fresh export;
// transient failures keep it so polling can resume.
func (r *DatasetPeriodRepository) ReleaseError(ctx context.Context, key types.DatasetKey, errMsg string, clearReport bool, nextRefreshAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dataset_periods
		 SET status = 'error',
		     error = $6,
		     report_id = CASE WHEN $7 THEN NULL ELSE report_id END,
		     refreshing = false,
		     next_refresh_at = $8,
		     updated_at = NOW()
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3
		   AND entity_type = $4 AND period_start = $5`,
		key.AccountID,
		key.CountryCode,
		key.Aggregation,
		key.EntityType,
		key.PeriodStart,
		errMsg,
		clearReport,
		nextRefreshAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record refresh error", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDataset, "dataset period not found", nil)
	}
	return nil
}

// ReleaseUnchanged releases the claim without altering status or report
// linkage. Used when a poll observed the export still processing.
func (r *DatasetPeriodRepository) ReleaseUnchanged(ctx context.Context, key types.DatasetKey, nextRefreshAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dataset_periods
		 SET refreshing = false,
		     next_refresh_at = $6,
		     updated_at = NOW()
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3
		   AND entity_type = $4 AND period_start = $5`,
		key.AccountID,
		key.CountryCode,
		key.Aggregation,
		key.EntityType,
		key.PeriodStart,
		nextRefreshAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release dataset period", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDataset, "dataset period not found", nil)
	}
	return nil
}

// DeleteStale removes rows older than the retention cutoff that never reached
// completed. Completed rows outside the window are kept: their data has been
// paid for and remains queryable.
func (r *DatasetPeriodRepository) DeleteStale(ctx context.Context, accountID, countryCode string, agg types.Aggregation, entity types.EntityType, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM dataset_periods
		 WHERE account_id = $1 AND country_code = $2 AND aggregation = $3 AND entity_type = $4
		   AND period_start < $5
		   AND status <> 'completed'`,
		accountID, countryCode, agg, entity, cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete stale dataset periods", err)
	}
	return tag.RowsAffected(), nil
}

// RequeueStuck force-releases rows whose claim predates the threshold. A
// claim that old means the worker died between claim and release (Lambda
// timeout, OOM); the row lands in the error state and is rescheduled so the
// sweep retries it. The report linkage is kept as-is: if the crash happened
// after export creation the next cycle polls it, otherwise it creates one.
func (r *DatasetPeriodRepository) RequeueStuck(ctx context.Context, claimedBefore, nextRefreshAt time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE dataset_periods
		 SET refreshing = false,
		     status = 'error',
		     error = 'refresh claim expired before the worker released it',
		     next_refresh_at = $2,
		     updated_at = NOW()
		 WHERE refreshing = true
		   AND updated_at < $1`,
		claimedBefore,
		nextRefreshAt,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to requeue stuck dataset periods", err)
	}
	return tag.RowsAffected(), nil
}

// StatusCounts returns a per-status row count across all dataset periods,
// used by the stats snapshot task.
func (r *DatasetPeriodRepository) StatusCounts(ctx context.Context) ([]types.DatasetStats, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*)
		 FROM dataset_periods
		 GROUP BY status
		 ORDER BY status`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query dataset status counts", err)
	}
	defer rows.Close()

	var stats []types.DatasetStats
	for rows.Next() {
		var s types.DatasetStats
		if err := rows.Scan(&s.Status, &s.Count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dataset status count", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating dataset status counts", err)
	}

	return stats, nil
}

// collectDatasetPeriods drains a result set in datasetColumns order.
func collectDatasetPeriods(rows pgx.Rows) ([]*types.DatasetPeriod, error) {
	var periods []*types.DatasetPeriod
	for rows.Next() {
		p, err := scanDatasetPeriod(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dataset period", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating dataset periods", err)
	}
	return periods, nil
}
