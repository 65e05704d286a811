package metrics

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRefreshMetrics emits refresh telemetry to AWS CloudWatch.
//
// Metrics emitted:
//   - RefreshOutcome: Dims {Aggregation, EntityType, Result} -- one per refresh
//   - RefreshDuration: Dims {Aggregation, EntityType} -- wall time in ms
//   - RowsUpserted / ParseFailures: Dims {Aggregation, EntityType} -- per payload
//   - RefreshQueueLag: no dims -- claim-to-pickup delay in ms
//   - SweepClaims: no dims -- rows claimed per scheduler sweep
//   - DatasetStatusCount: Dims {Status} -- per-status census
type CloudWatchRefreshMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRefreshMetrics creates a publisher for the given namespace.
// An empty namespace falls back to the platform default.
func NewCloudWatchRefreshMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRefreshMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchRefreshMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func scopeDimensions(agg types.Aggregation, entity types.EntityType) []cwtypes.Dimension {
	return []cwtypes.Dimension{
		{
			Name:  aws.String(types.DimAggregation),
			Value: aws.String(string(agg)),
		},
		{
			Name:  aws.String(types.DimEntityType),
			Value: aws.String(string(entity)),
		},
	}
}

// RecordOutcome emits a RefreshOutcome count with Aggregation, EntityType and
// Result dimensions.
func (m *CloudWatchRefreshMetrics) RecordOutcome(ctx context.Context, agg types.Aggregation, entity types.EntityType, result types.RefreshResult) {
	dims := append(scopeDimensions(agg, entity), cwtypes.Dimension{
		Name:  aws.String(types.DimResult),
		Value: aws.String(string(result)),
	})

	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricRefreshOutcome),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
	})
}

// RecordRows emits RowsUpserted and ParseFailures for one parsed payload in a
// single PutMetricData call.
func (m *CloudWatchRefreshMetrics) RecordRows(ctx context.Context, agg types.Aggregation, entity types.EntityType, upserted, failed int) {
	dims := scopeDimensions(agg, entity)

	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricRowsUpserted),
			Value:      aws.Float64(float64(upserted)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		{
			MetricName: aws.String(types.MetricParseFailures),
			Value:      aws.Float64(float64(failed)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
	})
}

// RecordDuration emits the refresh wall time in milliseconds.
func (m *CloudWatchRefreshMetrics) RecordDuration(ctx context.Context, agg types.Aggregation, entity types.EntityType, d time.Duration) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricRefreshDuration),
			Value:      aws.Float64(float64(d.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: scopeDimensions(agg, entity),
		},
	})
}

// RecordQueueLag emits the time between scheduler claim and worker pickup.
func (m *CloudWatchRefreshMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricQueueLag),
			Value:      aws.Float64(float64(lag.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
		},
	})
}

// RecordSweepClaims emits the number of rows one sweep claimed.
func (m *CloudWatchRefreshMetrics) RecordSweepClaims(ctx context.Context, claimed int) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricSweepClaims),
			Value:      aws.Float64(float64(claimed)),
			Unit:       cwtypes.StandardUnitCount,
		},
	})
}

// RecordDatasetCounts emits one DatasetStatusCount datum per status. Statuses
// are emitted in sorted order so call shapes are stable for tests and for
// CloudWatch request de-duplication.
func (m *CloudWatchRefreshMetrics) RecordDatasetCounts(ctx context.Context, counts map[types.DatasetStatus]int) {
	if len(counts) == 0 {
		return
	}

	statuses := make([]types.DatasetStatus, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

	data := make([]cwtypes.MetricDatum, 0, len(statuses))
	for _, status := range statuses {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricDatasetStatusCount),
			Value:      aws.Float64(float64(counts[status])),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{
					Name:  aws.String(types.DimStatus),
					Value: aws.String(string(status)),
				},
			},
		})
	}

	m.put(ctx, data)
}

func (m *CloudWatchRefreshMetrics) put(ctx context.Context, data []cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to put metric data",
			"error", err.Error(),
			"namespace", m.namespace,
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

var _ RefreshMetrics = (*CloudWatchRefreshMetrics)(nil)
