package datasets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

type mockMaintenanceStore struct {
	claimedBefore time.Time
	nextRefreshAt time.Time
	requeued      int64
	requeueErr    error

	stats    []types.DatasetStats
	statsErr error
}

func (m *mockMaintenanceStore) RequeueStuck(_ context.Context, claimedBefore, nextRefreshAt time.Time) (int64, error) {
	if m.requeueErr != nil {
		return 0, m.requeueErr
	}
	m.claimedBefore = claimedBefore
	m.nextRefreshAt = nextRefreshAt
	return m.requeued, nil
}

func (m *mockMaintenanceStore) StatusCounts(_ context.Context) ([]types.DatasetStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return m.stats, nil
}

type mockPurger struct {
	olderThan time.Time
	deleted   int64
	err       error
}

func (m *mockPurger) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.olderThan = olderThan
	return m.deleted, nil
}

type maintenanceFixture struct {
	store    *mockMaintenanceStore
	failures *mockPurger
	history  *mockPurger
	metrics  *countingMetrics
	svc      *MaintenanceService
}

func newMaintenanceFixture() *maintenanceFixture {
	f := &maintenanceFixture{
		store:    &mockMaintenanceStore{},
		failures: &mockPurger{},
		history:  &mockPurger{},
		metrics:  &countingMetrics{},
	}
	f.svc = NewMaintenanceService(MaintenanceConfig{
		Store:    f.store,
		Failures: f.failures,
		History:  f.history,
		Metrics:  f.metrics,
		Logger:   discardLogger(),
	})
	return f
}

func TestRequeueStuckRefreshes(t *testing.T) {
	f := newMaintenanceFixture()
	f.store.requeued = 3

	now := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	count, err := f.svc.RequeueStuckRefreshes(context.Background(), now, 45*time.Minute, 10*time.Minute)
	if err != nil {
		t.Fatalf("RequeueStuckRefreshes returned error: %v", err)
	}
	if count != 3 {
		t.Errorf("requeued = %d, want 3", count)
	}
	if want := now.Add(-45 * time.Minute); !f.store.claimedBefore.Equal(want) {
		t.Errorf("claimedBefore = %v, want %v", f.store.claimedBefore, want)
	}
	if want := now.Add(10 * time.Minute); !f.store.nextRefreshAt.Equal(want) {
		t.Errorf("nextRefreshAt = %v, want %v", f.store.nextRefreshAt, want)
	}
}

func TestRequeueStuckRefreshesError(t *testing.T) {
	f := newMaintenanceFixture()
	f.store.requeueErr = errors.New("db down")

	_, err := f.svc.RequeueStuckRefreshes(context.Background(), time.Now(), time.Hour, time.Minute)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestPurgeParseFailures(t *testing.T) {
	f := newMaintenanceFixture()
	f.failures.deleted = 120

	now := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	count, err := f.svc.PurgeParseFailures(context.Background(), now, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeParseFailures returned error: %v", err)
	}
	if count != 120 {
		t.Errorf("deleted = %d, want 120", count)
	}
	if want := now.Add(-14 * 24 * time.Hour); !f.failures.olderThan.Equal(want) {
		t.Errorf("cutoff = %v, want %v", f.failures.olderThan, want)
	}
	if !f.history.olderThan.IsZero() {
		t.Error("job history purger must not be touched")
	}
}

func TestPurgeJobHistory(t *testing.T) {
	f := newMaintenanceFixture()
	f.history.deleted = 9

	now := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	count, err := f.svc.PurgeJobHistory(context.Background(), now, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeJobHistory returned error: %v", err)
	}
	if count != 9 {
		t.Errorf("deleted = %d, want 9", count)
	}
	if want := now.Add(-90 * 24 * time.Hour); !f.history.olderThan.Equal(want) {
		t.Errorf("cutoff = %v, want %v", f.history.olderThan, want)
	}
}

func TestSnapshotDatasetStats(t *testing.T) {
	f := newMaintenanceFixture()
	f.store.stats = []types.DatasetStats{
		{Status: types.DatasetCompleted, Count: 1200},
		{Status: types.DatasetError, Count: 4},
		{Status: types.DatasetMissing, Count: 31},
	}

	counts, err := f.svc.SnapshotDatasetStats(context.Background())
	if err != nil {
		t.Fatalf("SnapshotDatasetStats returned error: %v", err)
	}
	if counts[types.DatasetCompleted] != 1200 || counts[types.DatasetError] != 4 || counts[types.DatasetMissing] != 31 {
		t.Errorf("counts = %v", counts)
	}
}

func TestSnapshotDatasetStatsError(t *testing.T) {
	f := newMaintenanceFixture()
	f.store.statsErr = errors.New("db down")

	if _, err := f.svc.SnapshotDatasetStats(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
