package datasets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/metrics"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// MaintenanceStore is the slice of the dataset period repository the
// maintenance tasks need.
type MaintenanceStore interface {
	// RequeueStuck force-releases claims older than claimedBefore into the
	// error state, rescheduled at nextRefreshAt. Returns how many.
	RequeueStuck(ctx context.Context, claimedBefore, nextRefreshAt time.Time) (int64, error)

	// StatusCounts returns per-status dataset period counts.
	StatusCounts(ctx context.Context) ([]types.DatasetStats, error)
}

// Purger deletes rows older than a cutoff, returning how many went.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// MaintenanceService implements the scheduled maintenance tasks that keep the
// refresh lifecycle healthy: recovering claims orphaned by crashed workers,
// pruning operational side tables, and snapshotting dataset health.
//
// Every task takes its reference time as a parameter so runs are
// deterministic under test and operators can replay a task against a past
// instant.
type MaintenanceService struct {
	store    MaintenanceStore
	failures Purger
	history  Purger
	metrics  metrics.RefreshMetrics
	logger   *slog.Logger
}

// MaintenanceConfig wires a MaintenanceService. Metrics and Logger may be nil.
type MaintenanceConfig struct {
	Store    MaintenanceStore
	Failures Purger
	History  Purger
	Metrics  metrics.RefreshMetrics
	Logger   *slog.Logger
}

// NewMaintenanceService creates a MaintenanceService.
func NewMaintenanceService(cfg MaintenanceConfig) *MaintenanceService {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MaintenanceService{
		store:    cfg.Store,
		failures: cfg.Failures,
		history:  cfg.History,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// RequeueStuckRefreshes releases claims held longer than the threshold. A
// claim that old means its worker died between claim and release; the rows
// land in the error state and are rescheduled retryDelay out, the same way an
// ordinary pipeline failure is. This is the recovery path the whole claim
// protocol leans on, so it must run on a schedule comfortably shorter than
// the threshold itself.
//
// Returns the number of claims released.
func (m *MaintenanceService) RequeueStuckRefreshes(ctx context.Context, now time.Time, threshold, retryDelay time.Duration) (int64, error) {
	claimedBefore := now.Add(-threshold)

	requeued, err := m.store.RequeueStuck(ctx, claimedBefore, now.Add(retryDelay))
	if err != nil {
		return 0, fmt.Errorf("requeuing stuck refreshes: %w", err)
	}

	if requeued > 0 {
		m.logger.WarnContext(ctx, "released stuck refresh claims",
			"count", requeued,
			"claimed_before", claimedBefore.Format(time.RFC3339),
		)
	}

	return requeued, nil
}

// PurgeParseFailures deletes parse-failure rows past retention. The side
// channel exists for debugging recent payload trouble, not as an archive.
//
// Returns the number of rows deleted.
func (m *MaintenanceService) PurgeParseFailures(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	count, err := m.failures.Purge(ctx, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purging parse failures: %w", err)
	}

	if count > 0 {
		m.logger.InfoContext(ctx, "purged parse failures", "count", count)
	}

	return count, nil
}

// PurgeJobHistory deletes finished job history rows past retention.
//
// Returns the number of rows deleted.
func (m *MaintenanceService) PurgeJobHistory(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	count, err := m.history.Purge(ctx, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purging job history: %w", err)
	}

	if count > 0 {
		m.logger.InfoContext(ctx, "purged job history", "count", count)
	}

	return count, nil
}

// SnapshotDatasetStats counts dataset periods per status and emits the counts
// as metrics. A growing error count or a flatlined completed count is the
// operator's first signal that the lifecycle stalled.
//
// Returns the counts it emitted.
func (m *MaintenanceService) SnapshotDatasetStats(ctx context.Context) (map[types.DatasetStatus]int, error) {
	stats, err := m.store.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting dataset statuses: %w", err)
	}

	counts := make(map[types.DatasetStatus]int, len(stats))
	for _, s := range stats {
		counts[s.Status] = int(s.Count)
	}
	m.metrics.RecordDatasetCounts(ctx, counts)

	m.logger.InfoContext(ctx, "dataset stats snapshot", "statuses", len(counts))
	return counts, nil
}
