package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

func makeTargetRows(n int) []types.TargetPerformanceRow {
	bucket := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	rows := make([]types.TargetPerformanceRow, n)
	for i := range rows {
		rows[i] = types.TargetPerformanceRow{
			AccountID:   "acc_100",
			CountryCode: "US",
			Aggregation: types.AggregationHourly,
			BucketStart: bucket,
			TargetID:    "tgt_" + string(rune('a'+i)),
			CampaignID:  "cmp_1",
			AdGroupID:   "adg_1",
			Expression:  "keyword=\"wireless charger\"",
			MatchType:   "EXACT",
			PerformanceMetrics: types.PerformanceMetrics{
				Impressions: int64(1000 + i),
				Clicks:      int64(10 + i),
				Cost:        12.34,
				Sales14D:    99.95,
			},
		}
	}
	return rows
}

func makeProductRows(n int) []types.ProductPerformanceRow {
	bucket := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rows := make([]types.ProductPerformanceRow, n)
	for i := range rows {
		rows[i] = types.ProductPerformanceRow{
			AccountID:   "acc_100",
			CountryCode: "US",
			Aggregation: types.AggregationDaily,
			BucketStart: bucket,
			AdID:        "ad_" + string(rune('a'+i)),
			CampaignID:  "cmp_1",
			AdGroupID:   "adg_1",
			ASIN:        "B08XYZ1234",
			SKU:         "SKU-RED-L",
			PerformanceMetrics: types.PerformanceMetrics{
				Impressions:  int64(500 + i),
				UnitsSold14D: int64(i),
			},
		}
	}
	return rows
}

func TestPerformanceRepository_UpsertTargetRows_SingleBatch(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPerformanceRepository(db, 500)
	ctx := context.Background()

	rows := makeTargetRows(2)

	// 2 rows * 21 columns = 42 bind parameters in one statement.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 42 &&
			args[0] == "acc_100" &&
			args[4] == "tgt_a" &&
			args[21] == "acc_100" &&
			args[25] == "tgt_b"
	})).Return(pgconn.NewCommandTag("INSERT 0 2"), nil)

	err := repo.UpsertTargetRows(ctx, rows)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPerformanceRepository_UpsertTargetRows_ChunksByBatchSize(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPerformanceRepository(db, 2)
	ctx := context.Background()

	// 5 rows with batch size 2 -> 2 + 2 + 1.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 42
	})).Return(pgconn.NewCommandTag("INSERT 0 2"), nil).Times(2)
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 21
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Times(1)

	err := repo.UpsertTargetRows(ctx, makeTargetRows(5))
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPerformanceRepository_UpsertTargetRows_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPerformanceRepository(db, 500)

	err := repo.UpsertTargetRows(context.Background(), nil)
	require.NoError(t, err)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestPerformanceRepository_UpsertTargetRows_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPerformanceRepository(db, 500)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("deadlock detected"))

	err := repo.UpsertTargetRows(context.Background(), makeTargetRows(1))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestPerformanceRepository_UpsertProductRows_SingleBatch(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPerformanceRepository(db, 500)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 21 &&
			args[4] == "ad_a" &&
			args[7] == "B08XYZ1234" &&
			args[8] == "SKU-RED-L"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.UpsertProductRows(ctx, makeProductRows(1))
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPerformanceRepository_UpsertProductRows_StopsOnBatchError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPerformanceRepository(db, 2)
	ctx := context.Background()

	// First batch succeeds, second fails; the third must never run.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 2"), nil).Once()
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused")).Once()

	err := repo.UpsertProductRows(ctx, makeProductRows(6))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertNumberOfCalls(t, "Exec", 2)
}

func TestPerformanceRepository_DefaultBatchSize(t *testing.T) {
	repo := NewPerformanceRepository(new(mockDBTX), 0)
	assert.Equal(t, defaultUpsertBatchSize, repo.batchSize)

	repo = NewPerformanceRepository(new(mockDBTX), -5)
	assert.Equal(t, defaultUpsertBatchSize, repo.batchSize)

	repo = NewPerformanceRepository(new(mockDBTX), 100)
	assert.Equal(t, 100, repo.batchSize)
}
