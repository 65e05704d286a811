package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// =============================================================================
// Mock implementations for the handler interfaces
// =============================================================================

// mockService records which methods were called and their arguments.
type mockService struct {
	requeueCalled  bool
	failuresCalled bool
	historyCalled  bool
	statsCalled    bool

	lastNow        time.Time
	lastThreshold  time.Duration
	lastRetryDelay time.Duration
	lastRetention  time.Duration

	returnCount int64
	statsCounts map[types.DatasetStatus]int
	returnErr   error
}

func (m *mockService) RequeueStuckRefreshes(_ context.Context, now time.Time, threshold, retryDelay time.Duration) (int64, error) {
	m.requeueCalled = true
	m.lastNow = now
	m.lastThreshold = threshold
	m.lastRetryDelay = retryDelay
	return m.returnCount, m.returnErr
}

func (m *mockService) PurgeParseFailures(_ context.Context, now time.Time, retention time.Duration) (int64, error) {
	m.failuresCalled = true
	m.lastNow = now
	m.lastRetention = retention
	return m.returnCount, m.returnErr
}

func (m *mockService) PurgeJobHistory(_ context.Context, now time.Time, retention time.Duration) (int64, error) {
	m.historyCalled = true
	m.lastNow = now
	m.lastRetention = retention
	return m.returnCount, m.returnErr
}

func (m *mockService) SnapshotDatasetStats(_ context.Context) (map[types.DatasetStatus]int, error) {
	m.statsCalled = true
	return m.statsCounts, m.returnErr
}

// mockJobLocker returns a configurable lock acquisition result.
type mockJobLocker struct {
	acquired   bool
	acquireErr error
	lastLockID string
}

func (m *mockJobLocker) Acquire(_ context.Context, lockID string, _ string, _ time.Duration) (bool, error) {
	m.lastLockID = lockID
	return m.acquired, m.acquireErr
}

// mockJobHistorian tracks Start/Finish calls.
type mockJobHistorian struct {
	startCalled  bool
	finishCalled bool
	lastJobType  string
	lastStatus   string
	lastItems    int
	returnID     int64
	startErr     error
	finishErr    error
}

func (m *mockJobHistorian) Start(_ context.Context, jobType string) (int64, error) {
	m.startCalled = true
	m.lastJobType = jobType
	return m.returnID, m.startErr
}

func (m *mockJobHistorian) Finish(_ context.Context, _ int64, status string, items int, _ error) error {
	m.finishCalled = true
	m.lastStatus = status
	m.lastItems = items
	return m.finishErr
}

// =============================================================================
// Helper to build a fully-wired handler with mocks
// =============================================================================

type testDeps struct {
	service      *mockService
	jobLocker    *mockJobLocker
	jobHistorian *mockJobHistorian
}

func newTestHandler() (*Handler, *testDeps) {
	deps := &testDeps{
		service: &mockService{
			returnCount: 7,
			statsCounts: map[types.DatasetStatus]int{
				types.DatasetCompleted: 1200,
				types.DatasetError:     4,
			},
		},
		jobLocker:    &mockJobLocker{acquired: true},
		jobHistorian: &mockJobHistorian{returnID: 42},
	}

	h := &Handler{
		Service:    deps.service,
		JobLock:    deps.jobLocker,
		JobHistory: deps.jobHistorian,
		Thresholds: Thresholds{
			StuckClaimAfter:       45 * time.Minute,
			RetryDelay:            10 * time.Minute,
			ParseFailureRetention: 14 * 24 * time.Hour,
			JobHistoryRetention:   90 * 24 * time.Hour,
		},
		WorkerID: "test-worker-001",
		Logger:   nil, // Uses slog.Default() in handler
	}

	return h, deps
}

// =============================================================================
// Routing tests
// =============================================================================

func TestHandle_RoutesRequeueStuckRefreshes(t *testing.T) {
	h, deps := newTestHandler()
	ctx := context.Background()

	result, err := h.Handle(ctx, types.MaintenancePayload{
		Task: types.TaskRequeueStuckRefreshes,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.service.requeueCalled {
		t.Error("expected RequeueStuckRefreshes to be called")
	}
	if deps.service.lastThreshold != 45*time.Minute {
		t.Errorf("threshold = %v, want 45m", deps.service.lastThreshold)
	}
	if deps.service.lastRetryDelay != 10*time.Minute {
		t.Errorf("retry delay = %v, want 10m", deps.service.lastRetryDelay)
	}
	if !strings.Contains(result, "requeue_stuck_refreshes") {
		t.Errorf("result should mention task name, got: %s", result)
	}
	if !strings.Contains(result, "7 items") {
		t.Errorf("result should mention item count, got: %s", result)
	}
}

func TestHandle_RoutesPurgeParseFailures(t *testing.T) {
	h, deps := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, types.MaintenancePayload{
		Task: types.TaskPurgeParseFailures,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.service.failuresCalled {
		t.Error("expected PurgeParseFailures to be called")
	}
	if deps.service.lastRetention != 14*24*time.Hour {
		t.Errorf("retention = %v, want 336h", deps.service.lastRetention)
	}
}

func TestHandle_RoutesPurgeJobHistory(t *testing.T) {
	h, deps := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, types.MaintenancePayload{
		Task: types.TaskPurgeJobHistory,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.service.historyCalled {
		t.Error("expected PurgeJobHistory to be called")
	}
	if deps.service.lastRetention != 90*24*time.Hour {
		t.Errorf("retention = %v, want 2160h", deps.service.lastRetention)
	}
}

func TestHandle_RoutesSnapshotDatasetStats(t *testing.T) {
	h, deps := newTestHandler()
	ctx := context.Background()

	result, err := h.Handle(ctx, types.MaintenancePayload{
		Task: types.TaskSnapshotDatasetStats,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.service.statsCalled {
		t.Error("expected SnapshotDatasetStats to be called")
	}
	// Items is the total periods counted: 1200 completed + 4 error.
	if !strings.Contains(result, "1204 items") {
		t.Errorf("result should mention total period count, got: %s", result)
	}
}

func TestHandle_AllTaskTypesRouteCorrectly(t *testing.T) {
	allTasks := []types.TaskType{
		types.TaskRequeueStuckRefreshes,
		types.TaskPurgeParseFailures,
		types.TaskPurgeJobHistory,
		types.TaskSnapshotDatasetStats,
	}

	for _, task := range allTasks {
		t.Run(string(task), func(t *testing.T) {
			h, _ := newTestHandler()
			ctx := context.Background()

			_, err := h.Handle(ctx, types.MaintenancePayload{Task: task})
			if err != nil {
				t.Errorf("task %q returned unexpected error: %v", task, err)
			}
		})
	}
}

// =============================================================================
// Lock behavior tests
// =============================================================================

func TestHandle_SkipsWhenLockNotAcquired(t *testing.T) {
	h, deps := newTestHandler()
	deps.jobLocker.acquired = false
	ctx := context.Background()

	result, err := h.Handle(ctx, types.MaintenancePayload{
		Task: types.TaskRequeueStuckRefreshes,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "skipped") {
		t.Errorf("expected skip message, got: %s", result)
	}
	if deps.service.requeueCalled {
		t.Error("service should not be called when lock is not acquired")
	}
	if deps.jobHistorian.startCalled {
		t.Error("job history should not be started when lock is not acquired")
	}
}

func TestHandle_ReturnsErrorWhenLockFails(t *testing.T) {
	h, deps := newTestHandler()
	deps.jobLocker.acquireErr = errors.New("database connection lost")
	ctx := context.Background()

	_, err := h.Handle(ctx, types.MaintenancePayload{
		Task: types.TaskRequeueStuckRefreshes,
	})

	if err == nil {
		t.Fatal("expected error when lock acquisition fails")
	}
	if !strings.Contains(err.Error(), "acquiring job lock") {
		t.Errorf("error should mention lock acquisition, got: %v", err)
	}
}

func TestHandle_LockIDFormatIsCorrect(t *testing.T) {
	h, deps := newTestHandler()
	ctx := context.Background()

	refTime := time.Date(2026, 2, 6, 3, 15, 30, 0, time.UTC)
	_, _ = h.Handle(ctx, types.MaintenancePayload{
		Task:          types.TaskRequeueStuckRefreshes,
		ReferenceTime: &refTime,
	})

	// Lock ID should be "task:truncated_hour".
	expected := "requeue_stuck_refreshes:2026-02-06T03"
	if deps.jobLocker.lastLockID != expected {
		t.Errorf("lock ID = %q, want %q", deps.jobLocker.lastLockID, expected)
	}
}

// =============================================================================
// Reference time tests
// =============================================================================

func TestHandle_UsesReferenceTimeWhenProvided(t *testing.T) {
	h, deps := newTestHandler()
	ctx := context.Background()

	refTime := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	_, err := h.Handle(ctx, types.MaintenancePayload{
		Task:          types.TaskPurgeParseFailures,
		ReferenceTime: &refTime,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.service.lastNow.Equal(refTime) {
		t.Errorf("service now = %v, want reference time %v", deps.service.lastNow, refTime)
	}
}

// =============================================================================
// Error handling tests
// =============================================================================

func TestHandle_EmptyTaskTypeReturnsError(t *testing.T) {
	h, _ := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, types.MaintenancePayload{Task: ""})

	if err == nil {
		t.Fatal("expected error for empty task type")
	}
	if !strings.Contains(err.Error(), "empty task type") {
		t.Errorf("error should mention empty task type, got: %v", err)
	}
}

func TestHandle_UnknownTaskTypeReturnsError(t *testing.T) {
	h, _ := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, types.MaintenancePayload{Task: "nonexistent_task"})

	if err == nil {
		t.Fatal("expected error for unknown task type")
	}
	if !strings.Contains(err.Error(), "unknown task type") {
		t.Errorf("error should mention unknown task, got: %v", err)
	}
}

func TestHandle_ServiceErrorRecordedInHistory(t *testing.T) {
	h, deps := newTestHandler()
	deps.service.returnErr = errors.New("database timeout")
	ctx := context.Background()

	_, err := h.Handle(ctx, types.MaintenancePayload{
		Task: types.TaskRequeueStuckRefreshes,
	})

	if err == nil {
		t.Fatal("expected error from service failure")
	}
	if !deps.jobHistorian.finishCalled {
		t.Error("expected job history Finish to be called even on error")
	}
	if deps.jobHistorian.lastStatus != "failed" {
		t.Errorf("job history status = %q, want %q", deps.jobHistorian.lastStatus, "failed")
	}
}

func TestHandle_SuccessRecordedInHistory(t *testing.T) {
	h, deps := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, types.MaintenancePayload{
		Task: types.TaskRequeueStuckRefreshes,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.jobHistorian.finishCalled {
		t.Error("expected job history Finish to be called on success")
	}
	if deps.jobHistorian.lastStatus != "success" {
		t.Errorf("job history status = %q, want %q", deps.jobHistorian.lastStatus, "success")
	}
	if deps.jobHistorian.lastItems != 7 {
		t.Errorf("job history items = %d, want 7", deps.jobHistorian.lastItems)
	}
	if deps.jobHistorian.lastJobType != "requeue_stuck_refreshes" {
		t.Errorf("job type = %q, want %q", deps.jobHistorian.lastJobType, "requeue_stuck_refreshes")
	}
}

func TestHandle_JobHistoryStartFailureIsNonFatal(t *testing.T) {
	h, deps := newTestHandler()
	deps.jobHistorian.startErr = errors.New("history db error")
	ctx := context.Background()

	result, err := h.Handle(ctx, types.MaintenancePayload{
		Task: types.TaskRequeueStuckRefreshes,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.service.requeueCalled {
		t.Error("service should still be called when history start fails")
	}
	if deps.jobHistorian.finishCalled {
		t.Error("Finish should not be called when Start failed (jobID=0)")
	}
	if !strings.Contains(result, "complete") {
		t.Errorf("result should indicate completion, got: %s", result)
	}
}
