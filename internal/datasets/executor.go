// Package datasets implements the dataset refresh lifecycle for the BidBeacon
// platform: reconciling the period inventory against retention windows,
// sweeping due rows into claimed refresh jobs, resolving each claimed row's
// next lifecycle action, and running the report pipeline that turns completed
// exports into performance rows. Maintenance tasks that keep the lifecycle
// healthy (stuck-claim recovery, side-table purges, stats snapshots) live
// here too.
package datasets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/metrics"
	"github.com/merchbaseco/bidbeacon-sub001/internal/notifications"
	"github.com/merchbaseco/bidbeacon-sub001/internal/periods"
	"github.com/merchbaseco/bidbeacon-sub001/internal/reports"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// PeriodStore is the slice of the dataset period repository the executor
// needs for its confirm-act-release cycle.
type PeriodStore interface {
	// ConfirmClaim verifies the dispatched row still holds its claim and
	// returns its state. Fails with ErrCodeConflictClaimLost when the
	// claim is gone (duplicate queue delivery).
	ConfirmClaim(ctx context.Context, key types.DatasetKey) (*types.DatasetPeriod, error)

	// MarkParsing flips the descriptive status to 'parsing' while the
	// claim is held.
	MarkParsing(ctx context.Context, key types.DatasetKey) error

	// ReleaseAfterCreate releases with the new report linkage recorded.
	ReleaseAfterCreate(ctx context.Context, key types.DatasetKey, reportID string, reportCreatedAt, nextRefreshAt time.Time) error

	// ReleaseCompleted releases with the linkage cleared and counters set.
	ReleaseCompleted(ctx context.Context, key types.DatasetKey, counts types.RecordCounts, processedReportID string, nextRefreshAt time.Time) error

	// ReleaseError releases into the error state, optionally clearing the
	// report linkage.
	ReleaseError(ctx context.Context, key types.DatasetKey, errMsg string, clearReport bool, nextRefreshAt time.Time) error

	// ReleaseUnchanged releases with only the schedule moved forward.
	ReleaseUnchanged(ctx context.Context, key types.DatasetKey, nextRefreshAt time.Time) error
}

// RowSink persists parsed performance rows.
type RowSink interface {
	UpsertTargetRows(ctx context.Context, rows []types.TargetPerformanceRow) error
	UpsertProductRows(ctx context.Context, rows []types.ProductPerformanceRow) error
}

// FailureSink records per-row parse failures diverted off the pipeline.
type FailureSink interface {
	InsertBatch(ctx context.Context, failures []types.ParseFailure) error
}

// ProfileSource resolves the external API profile handle for an account
// scope. A miss is a configuration error, not a transient one.
type ProfileSource interface {
	Get(ctx context.Context, accountID, countryCode string) (*types.AdAccount, error)
}

// PayloadDecoder turns a downloaded export payload into typed rows.
// Implemented by reports.PayloadParser.
type PayloadDecoder interface {
	Parse(r io.Reader, key types.DatasetKey, reportID string) (*reports.ParseResult, error)
}

// Executor runs the report pipeline for one claimed dataset period at a time:
// confirm the claim, resolve the lifecycle action, perform it, release the
// claim with the next schedule. Work within a row is sequential; parallelism
// lives in the worker pool above.
type Executor struct {
	store    PeriodStore
	rows     RowSink
	failures FailureSink
	profiles ProfileSource
	exports  reports.ReportExportAPI
	parser   PayloadDecoder
	notifier notifications.Notifier
	metrics  metrics.RefreshMetrics
	policy   periods.RefreshPolicy
	clock    types.Clock
	logger   *slog.Logger
}

// ExecutorConfig wires an Executor. Notifier, Metrics, Clock, and Logger may
// be nil; a zero Policy falls back to periods.DefaultRefreshPolicy.
type ExecutorConfig struct {
	Store    PeriodStore
	Rows     RowSink
	Failures FailureSink
	Profiles ProfileSource
	Exports  reports.ReportExportAPI
	Parser   PayloadDecoder
	Notifier notifications.Notifier
	Metrics  metrics.RefreshMetrics
	Policy   periods.RefreshPolicy
	Clock    types.Clock
	Logger   *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Notifier == nil {
		cfg.Notifier = notifications.NopNotifier{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy.PollInterval == 0 {
		cfg.Policy = periods.DefaultRefreshPolicy()
	}
	return &Executor{
		store:    cfg.Store,
		rows:     cfg.Rows,
		failures: cfg.Failures,
		profiles: cfg.Profiles,
		exports:  cfg.Exports,
		parser:   cfg.Parser,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		policy:   cfg.Policy,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
}

// Execute runs one refresh cycle for the dataset period a dispatched job
// names.
//
// The returned error is non-nil only when the row's claim state could not be
// written (claim confirmation or release failed); callers surface those so
// the queue redelivers the message. Pipeline failures (upstream API, payload
// validation, row persistence) are absorbed into the row's error state,
// notified, and reported as ResultError with a nil error, so the message is
// acknowledged and the retry happens on the row's own schedule.
func (e *Executor) Execute(ctx context.Context, key types.DatasetKey) (types.RefreshResult, error) {
	started := e.clock.Now()
	logger := e.logger.With(
		"account_id", key.AccountID,
		"country_code", key.CountryCode,
		"aggregation", key.Aggregation,
		"entity_type", key.EntityType,
		"period_start", key.PeriodStart,
	)

	period, err := e.store.ConfirmClaim(ctx, key)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeConflictClaimLost {
			logger.InfoContext(ctx, "claim no longer held, skipping duplicate delivery")
			return types.ResultNoop, nil
		}
		return types.ResultError, fmt.Errorf("confirming dataset period claim: %w", err)
	}

	e.notify(ctx, types.EventUpdated, key, period.Status, true, "")

	result, err := e.run(ctx, logger, key, period, started)
	if err != nil {
		return e.releaseFailure(ctx, logger, key, err, started)
	}

	e.metrics.RecordOutcome(ctx, key.Aggregation, key.EntityType, result)
	e.metrics.RecordDuration(ctx, key.Aggregation, key.EntityType, e.clock.Now().Sub(started))
	return result, nil
}

func (e *Executor) run(ctx context.Context, logger *slog.Logger, key types.DatasetKey, period *types.DatasetPeriod, now time.Time) (types.RefreshResult, error) {
	account, err := e.profiles.Get(ctx, key.AccountID, key.CountryCode)
	if err != nil {
		return types.ResultError, err
	}

	var remote *types.ExportStatus
	if period.ReportID != nil && *period.ReportID != "" {
		remote, err = e.exports.GetExportStatus(ctx, account.ProfileID, *period.ReportID)
		if err != nil {
			return types.ResultError, err
		}
		if remote.State == types.ExportProcessing && period.LastReportCreatedAt != nil {
			if waited := now.Sub(*period.LastReportCreatedAt); waited > e.policy.ExportTimeout {
				return types.ResultError, types.NewAppError(
					types.ErrCodeUpstreamReportTimeout,
					fmt.Sprintf("export %s still processing after %s", *period.ReportID, waited.Round(time.Second)),
					nil,
				)
			}
		}
	}

	action, err := ResolveAction(period, remote)
	if err != nil {
		return types.ResultError, err
	}

	nextAt := e.nextRefreshAt(action, period, now)

	switch action {
	case ActionCreate:
		return e.runCreate(ctx, logger, key, account.ProfileID, nextAt)
	case ActionProcess:
		return e.runProcess(ctx, logger, key, period, remote, nextAt)
	default:
		if err := e.store.ReleaseUnchanged(ctx, key, nextAt); err != nil {
			return types.ResultError, fmt.Errorf("releasing unchanged dataset period: %w", err)
		}
		e.notify(ctx, types.EventUpdated, key, period.Status, false, "")
		logger.InfoContext(ctx, "export still processing remotely",
			"report_id", *period.ReportID,
			"next_refresh_at", nextAt,
		)
		return types.ResultNoop, nil
	}
}

// nextRefreshAt computes the schedule for the row state the action leaves
// behind at release: create and none both release with an export outstanding,
// so the row polls again shortly; process clears the linkage and drops the
// row back onto the age ladder.
func (e *Executor) nextRefreshAt(action Action, period *types.DatasetPeriod, now time.Time) time.Time {
	in := periods.EligibilityInput{
		PeriodStart: period.PeriodStart,
		Aggregation: period.Aggregation,
		CountryCode: period.CountryCode,
	}

	switch action {
	case ActionProcess:
		in.LastReportCreatedAt = period.LastReportCreatedAt
		if in.LastReportCreatedAt == nil {
			in.LastReportCreatedAt = &now
		}
	case ActionCreate, ActionNone:
		// Which export is outstanding does not matter to the cadence,
		// only that one is; for create the ID is not known yet.
		reportID := "pending"
		if period.ReportID != nil && *period.ReportID != "" {
			reportID = *period.ReportID
		}
		in.ReportID = &reportID
		in.LastReportCreatedAt = period.LastReportCreatedAt
	}

	return e.policy.NextRefreshAt(in, now)
}

func (e *Executor) runCreate(ctx context.Context, logger *slog.Logger, key types.DatasetKey, profileID string, nextAt time.Time) (types.RefreshResult, error) {
	loc := periods.Location(key.CountryCode)
	filters := types.ExportFilters{
		StartTime:   key.PeriodStart,
		EndTime:     periods.PeriodEnd(key.PeriodStart, key.Aggregation, loc),
		Aggregation: key.Aggregation,
		EntityType:  key.EntityType,
	}

	handle, err := e.exports.CreateExport(ctx, profileID, filters)
	if err != nil {
		return types.ResultError, err
	}

	if err := e.store.ReleaseAfterCreate(ctx, key, handle.ExportID, e.clock.Now(), nextAt); err != nil {
		return types.ResultError, fmt.Errorf("recording created export %s: %w", handle.ExportID, err)
	}

	e.notify(ctx, types.EventUpdated, key, types.DatasetFetching, false, "")
	logger.InfoContext(ctx, "export created",
		"report_id", handle.ExportID,
		"next_refresh_at", nextAt,
	)
	return types.ResultCreated, nil
}

func (e *Executor) runProcess(ctx context.Context, logger *slog.Logger, key types.DatasetKey, period *types.DatasetPeriod, remote *types.ExportStatus, nextAt time.Time) (types.RefreshResult, error) {
	reportID := *period.ReportID

	if remote.URL == "" {
		return types.ResultError, types.NewAppError(
			types.ErrCodeUpstreamReportFailed,
			fmt.Sprintf("export %s completed without a download URL", reportID),
			nil,
		)
	}

	if err := e.store.MarkParsing(ctx, key); err != nil {
		return types.ResultError, err
	}
	e.notify(ctx, types.EventUpdated, key, types.DatasetParsing, true, "")

	body, err := e.exports.DownloadPayload(ctx, remote.URL)
	if err != nil {
		return types.ResultError, err
	}
	defer body.Close()

	parsed, err := e.parser.Parse(body, key, reportID)
	if err != nil {
		return types.ResultError, err
	}

	if len(parsed.Failures) > 0 {
		if err := e.failures.InsertBatch(ctx, parsed.Failures); err != nil {
			return types.ResultError, fmt.Errorf("recording parse failures: %w", err)
		}
	}
	if len(parsed.TargetRows) > 0 {
		if err := e.rows.UpsertTargetRows(ctx, parsed.TargetRows); err != nil {
			return types.ResultError, fmt.Errorf("upserting target performance rows: %w", err)
		}
	}
	if len(parsed.ProductRows) > 0 {
		if err := e.rows.UpsertProductRows(ctx, parsed.ProductRows); err != nil {
			return types.ResultError, fmt.Errorf("upserting product performance rows: %w", err)
		}
	}

	if err := e.store.ReleaseCompleted(ctx, key, parsed.Counts, reportID, nextAt); err != nil {
		return types.ResultError, fmt.Errorf("releasing completed dataset period: %w", err)
	}

	e.metrics.RecordRows(ctx, key.Aggregation, key.EntityType, parsed.Counts.Success, parsed.Counts.Error)
	e.notify(ctx, types.EventUpdated, key, types.DatasetCompleted, false, "")
	logger.InfoContext(ctx, "export processed",
		"report_id", reportID,
		"total_records", parsed.Counts.Total,
		"success_records", parsed.Counts.Success,
		"error_records", parsed.Counts.Error,
		"next_refresh_at", nextAt,
	)
	return types.ResultProcessed, nil
}

// releaseFailure lands a pipeline failure in the row: status error, claim
// released, retry scheduled, one error notification. Error codes that
// invalidate the export also clear the report linkage so the retry starts a
// fresh export instead of polling a dead one.
func (e *Executor) releaseFailure(ctx context.Context, logger *slog.Logger, key types.DatasetKey, execErr error, started time.Time) (types.RefreshResult, error) {
	code := types.CodeOf(execErr)
	if code == types.ErrCodeConflictClaimLost {
		// The claim moved mid-flight: a stuck-claim requeue raced a slow
		// worker. The new owner drives the row now; touching it here
		// would fight them.
		logger.WarnContext(ctx, "claim lost mid-execution", "error", execErr)
		return types.ResultNoop, nil
	}

	retryAt := e.clock.Now().Add(e.policy.RetryDelay)
	if err := e.store.ReleaseError(ctx, key, execErr.Error(), code.InvalidatesExport(), retryAt); err != nil {
		logger.ErrorContext(ctx, "failed to release dataset period after error",
			"cause", execErr,
			"error", err,
		)
		// The claim stays held; redelivery or the stuck-claim sweep picks
		// the row back up.
		return types.ResultError, fmt.Errorf("releasing dataset period after error: %w", err)
	}

	e.notify(ctx, types.EventError, key, types.DatasetError, false, execErr.Error())
	e.metrics.RecordOutcome(ctx, key.Aggregation, key.EntityType, types.ResultError)
	e.metrics.RecordDuration(ctx, key.Aggregation, key.EntityType, e.clock.Now().Sub(started))
	logger.ErrorContext(ctx, "dataset refresh failed",
		"error_code", code,
		"error", execErr,
		"retry_at", retryAt,
	)
	return types.ResultError, nil
}

func (e *Executor) notify(ctx context.Context, kind types.EventKind, key types.DatasetKey, status types.DatasetStatus, refreshing bool, errMsg string) {
	evt := types.DatasetEvent{
		Kind:       kind,
		Key:        key,
		NewStatus:  status,
		Refreshing: refreshing,
		Error:      errMsg,
	}
	if err := e.notifier.Publish(ctx, evt); err != nil {
		e.logger.WarnContext(ctx, "dataset event publish failed",
			"kind", kind,
			"error", err,
		)
	}
}
