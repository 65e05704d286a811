package metrics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics(cw *mockCloudWatchClient) *CloudWatchRefreshMetrics {
	return NewCloudWatchRefreshMetrics(cw, "", discardLogger())
}

func assertDimension(t *testing.T, dims []cwtypes.Dimension, name, expectedValue string) {
	t.Helper()
	for _, d := range dims {
		if *d.Name == name {
			if *d.Value != expectedValue {
				t.Errorf("dimension %q: expected value %q, got %q", name, expectedValue, *d.Value)
			}
			return
		}
	}
	t.Errorf("dimension %q not found in %v", name, dims)
}

func TestRecordOutcome_EmitsCountWithDimensions(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordOutcome(context.Background(), types.AggregationHourly, types.EntityTarget, types.ResultProcessed)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}

	input := cw.calls[0]
	if *input.Namespace != types.MetricNamespace {
		t.Errorf("expected namespace %q, got %q", types.MetricNamespace, *input.Namespace)
	}
	if len(input.MetricData) != 1 {
		t.Fatalf("expected 1 metric datum, got %d", len(input.MetricData))
	}

	datum := input.MetricData[0]
	if *datum.MetricName != types.MetricRefreshOutcome {
		t.Errorf("expected metric name %q, got %q", types.MetricRefreshOutcome, *datum.MetricName)
	}
	if *datum.Value != 1.0 {
		t.Errorf("expected value 1.0, got %f", *datum.Value)
	}
	if datum.Unit != cwtypes.StandardUnitCount {
		t.Errorf("expected unit Count, got %s", datum.Unit)
	}

	assertDimension(t, datum.Dimensions, types.DimAggregation, string(types.AggregationHourly))
	assertDimension(t, datum.Dimensions, types.DimEntityType, string(types.EntityTarget))
	assertDimension(t, datum.Dimensions, types.DimResult, string(types.ResultProcessed))
}

func TestRecordRows_EmitsUpsertedAndFailuresTogether(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordRows(context.Background(), types.AggregationDaily, types.EntityProduct, 240, 3)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	data := cw.calls[0].MetricData
	if len(data) != 2 {
		t.Fatalf("expected 2 metric data, got %d", len(data))
	}

	if *data[0].MetricName != types.MetricRowsUpserted {
		t.Errorf("expected first metric %q, got %q", types.MetricRowsUpserted, *data[0].MetricName)
	}
	if *data[0].Value != 240 {
		t.Errorf("expected upserted 240, got %f", *data[0].Value)
	}
	if *data[1].MetricName != types.MetricParseFailures {
		t.Errorf("expected second metric %q, got %q", types.MetricParseFailures, *data[1].MetricName)
	}
	if *data[1].Value != 3 {
		t.Errorf("expected failures 3, got %f", *data[1].Value)
	}

	assertDimension(t, data[0].Dimensions, types.DimAggregation, string(types.AggregationDaily))
	assertDimension(t, data[1].Dimensions, types.DimEntityType, string(types.EntityProduct))
}

func TestRecordDuration_MillisecondUnit(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordDuration(context.Background(), types.AggregationHourly, types.EntityProduct, 2500*time.Millisecond)

	datum := cw.calls[0].MetricData[0]
	if *datum.MetricName != types.MetricRefreshDuration {
		t.Errorf("expected metric name %q, got %q", types.MetricRefreshDuration, *datum.MetricName)
	}
	if *datum.Value != 2500 {
		t.Errorf("expected 2500 ms, got %f", *datum.Value)
	}
	if datum.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("expected unit Milliseconds, got %s", datum.Unit)
	}
}

func TestRecordQueueLag_NoDimensions(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordQueueLag(context.Background(), 45*time.Second)

	datum := cw.calls[0].MetricData[0]
	if *datum.MetricName != types.MetricQueueLag {
		t.Errorf("expected metric name %q, got %q", types.MetricQueueLag, *datum.MetricName)
	}
	if *datum.Value != 45000 {
		t.Errorf("expected 45000 ms, got %f", *datum.Value)
	}
	if len(datum.Dimensions) != 0 {
		t.Errorf("expected no dimensions, got %v", datum.Dimensions)
	}
}

func TestRecordSweepClaims_Count(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordSweepClaims(context.Background(), 17)

	datum := cw.calls[0].MetricData[0]
	if *datum.MetricName != types.MetricSweepClaims {
		t.Errorf("expected metric name %q, got %q", types.MetricSweepClaims, *datum.MetricName)
	}
	if *datum.Value != 17 {
		t.Errorf("expected 17, got %f", *datum.Value)
	}
}

func TestRecordDatasetCounts_OneDatumPerStatusSorted(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordDatasetCounts(context.Background(), map[types.DatasetStatus]int{
		types.DatasetCompleted: 120,
		types.DatasetError:     4,
		types.DatasetMissing:   9,
	})

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	data := cw.calls[0].MetricData
	if len(data) != 3 {
		t.Fatalf("expected 3 metric data, got %d", len(data))
	}

	// Sorted by status string: completed, error, missing.
	expected := []struct {
		status types.DatasetStatus
		value  float64
	}{
		{types.DatasetCompleted, 120},
		{types.DatasetError, 4},
		{types.DatasetMissing, 9},
	}
	for i, exp := range expected {
		if *data[i].MetricName != types.MetricDatasetStatusCount {
			t.Errorf("datum %d: expected metric name %q, got %q", i, types.MetricDatasetStatusCount, *data[i].MetricName)
		}
		if *data[i].Value != exp.value {
			t.Errorf("datum %d: expected value %f, got %f", i, exp.value, *data[i].Value)
		}
		assertDimension(t, data[i].Dimensions, types.DimStatus, string(exp.status))
	}
}

func TestRecordDatasetCounts_EmptyMapSkipsCall(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := newTestMetrics(cw)

	m.RecordDatasetCounts(context.Background(), nil)

	if len(cw.calls) != 0 {
		t.Errorf("expected no PutMetricData calls for empty counts, got %d", len(cw.calls))
	}
}

func TestPut_CloudWatchErrorIsSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: fmt.Errorf("cloudwatch unavailable")}
	m := newTestMetrics(cw)

	// Must not panic or propagate; the emit is fire-and-forget.
	m.RecordOutcome(context.Background(), types.AggregationHourly, types.EntityTarget, types.ResultError)
	m.RecordQueueLag(context.Background(), time.Second)

	if len(cw.calls) != 2 {
		t.Errorf("expected 2 attempted calls, got %d", len(cw.calls))
	}
}

func TestNewCloudWatchRefreshMetrics_CustomNamespace(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchRefreshMetrics(cw, "BidBeacon/Staging", discardLogger())

	m.RecordSweepClaims(context.Background(), 1)

	if *cw.calls[0].Namespace != "BidBeacon/Staging" {
		t.Errorf("expected custom namespace, got %q", *cw.calls[0].Namespace)
	}
}

func TestNopMetrics_ImplementsInterface(t *testing.T) {
	var m RefreshMetrics = NopMetrics{}

	// All methods are no-ops; just exercise them.
	m.RecordOutcome(context.Background(), types.AggregationHourly, types.EntityTarget, types.ResultNoop)
	m.RecordRows(context.Background(), types.AggregationHourly, types.EntityTarget, 1, 0)
	m.RecordDuration(context.Background(), types.AggregationHourly, types.EntityTarget, time.Second)
	m.RecordQueueLag(context.Background(), time.Second)
	m.RecordSweepClaims(context.Background(), 1)
	m.RecordDatasetCounts(context.Background(), map[types.DatasetStatus]int{types.DatasetCompleted: 1})
}
