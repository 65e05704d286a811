// Package metrics emits refresh pipeline telemetry. The CloudWatch
// implementation is fire-and-forget: a failed emit is logged and the refresh
// carries on.
package metrics

import (
	"context"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// RefreshMetrics is the telemetry surface of the refresh pipeline.
// Implementations never return errors; metric delivery must not affect the
// dataset lifecycle.
type RefreshMetrics interface {
	// RecordOutcome counts one refresh execution with its result.
	RecordOutcome(ctx context.Context, agg types.Aggregation, entity types.EntityType, result types.RefreshResult)

	// RecordRows reports the row counts of one parsed payload: rows upserted
	// and records diverted to the parse-failure side channel.
	RecordRows(ctx context.Context, agg types.Aggregation, entity types.EntityType, upserted, failed int)

	// RecordDuration reports the wall time of one refresh execution.
	RecordDuration(ctx context.Context, agg types.Aggregation, entity types.EntityType, d time.Duration)

	// RecordQueueLag reports the time between claim and worker pickup.
	RecordQueueLag(ctx context.Context, lag time.Duration)

	// RecordSweepClaims counts rows claimed by one scheduler sweep.
	RecordSweepClaims(ctx context.Context, claimed int)

	// RecordDatasetCounts reports a per-status census of dataset periods.
	RecordDatasetCounts(ctx context.Context, counts map[types.DatasetStatus]int)
}

// NopMetrics discards all telemetry. Used by CLI tools and tests.
type NopMetrics struct{}

func (NopMetrics) RecordOutcome(context.Context, types.Aggregation, types.EntityType, types.RefreshResult) {
}
func (NopMetrics) RecordRows(context.Context, types.Aggregation, types.EntityType, int, int) {}
func (NopMetrics) RecordDuration(context.Context, types.Aggregation, types.EntityType, time.Duration) {
}
func (NopMetrics) RecordQueueLag(context.Context, time.Duration)                 {}
func (NopMetrics) RecordSweepClaims(context.Context, int)                        {}
func (NopMetrics) RecordDatasetCounts(context.Context, map[types.DatasetStatus]int) {}

var _ RefreshMetrics = NopMetrics{}
