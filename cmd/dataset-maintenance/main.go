// Package main is the entrypoint for the Dataset Maintenance Lambda function.
//
// The Dataset Maintenance Lambda acts as a maintenance multiplexer.
// EventBridge rules send JSON payloads naming a TaskType, and the handler
// routes execution to the appropriate MaintenanceService method. This
// consolidates low-frequency maintenance tasks into a single Lambda to reduce
// cold starts and infrastructure sprawl.
//
// Handler flow per invocation:
//  1. Parse MaintenancePayload from EventBridge.
//  2. Acquire a distributed job lock to prevent concurrent execution.
//  3. Switch on TaskType and call the appropriate service method.
//  4. Record job history for operational visibility.
//
// Tasks:
//
//	requeue_stuck_refreshes - release refresh claims orphaned by dead workers
//	purge_parse_failures    - prune the parse-failure side table past retention
//	purge_job_history       - prune finished job history rows past retention
//	snapshot_dataset_stats  - emit per-status dataset period counts as metrics
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchbaseco/bidbeacon-sub001/internal/config"
	"github.com/merchbaseco/bidbeacon-sub001/internal/datasets"
	"github.com/merchbaseco/bidbeacon-sub001/internal/db"
	"github.com/merchbaseco/bidbeacon-sub001/internal/metrics"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// lockTTL is the time-to-live for job locks. Set to 15 minutes to cover the
// typical Lambda execution duration with margin.
const lockTTL = 15 * time.Minute

// MaintenanceService provides the dataset maintenance operations the
// multiplexer routes to. Implemented by datasets.MaintenanceService.
type MaintenanceService interface {
	RequeueStuckRefreshes(ctx context.Context, now time.Time, threshold, retryDelay time.Duration) (int64, error)
	PurgeParseFailures(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
	PurgeJobHistory(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
	SnapshotDatasetStats(ctx context.Context) (map[types.DatasetStatus]int, error)
}

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Thresholds carries the configured retention and recovery windows the
// handler passes through to the service methods.
type Thresholds struct {
	StuckClaimAfter       time.Duration
	RetryDelay            time.Duration
	ParseFailureRetention time.Duration
	JobHistoryRetention   time.Duration
}

// Handler holds the dependencies for the dataset maintenance Lambda handler.
type Handler struct {
	Service    MaintenanceService
	JobLock    JobLocker
	JobHistory JobHistorian
	Thresholds Thresholds
	WorkerID   string
	Logger     *slog.Logger
}

// Handle processes a MaintenancePayload from EventBridge, routing to the
// appropriate service method based on the TaskType.
//
// The job lock is keyed "task_type:timestamp_hour", so each task runs at most
// once per hour across all workers while distinct tasks never contend.
func (h *Handler) Handle(ctx context.Context, payload types.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Determine reference time. Operators may pin it for deterministic
	// replays.
	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "dataset maintenance invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock",
			"lock_id", lockID,
			"error", err,
		)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is processing",
			"lock_id", lockID,
		)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	jobID, err := h.JobHistory.Start(ctx, taskStr)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history",
			"task", taskStr,
			"error", err,
		)
		// Non-fatal: proceed with execution even if history tracking fails.
		// jobID=0 signals that Finish should be skipped.
		jobID = 0
	}

	items, execErr := h.dispatch(ctx, payload.Task, now)

	status := "success"
	if execErr != nil {
		status = "failed"
	}

	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"task", taskStr,
				"error", finishErr,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", execErr,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result,
		"task", taskStr,
		"items", items,
	)

	return result, nil
}

// dispatch routes a TaskType to the appropriate service method.
// Returns the number of items processed and any error.
func (h *Handler) dispatch(ctx context.Context, task types.TaskType, now time.Time) (int, error) {
	switch task {
	case types.TaskRequeueStuckRefreshes:
		count, err := h.Service.RequeueStuckRefreshes(ctx, now, h.Thresholds.StuckClaimAfter, h.Thresholds.RetryDelay)
		return int(count), err

	case types.TaskPurgeParseFailures:
		count, err := h.Service.PurgeParseFailures(ctx, now, h.Thresholds.ParseFailureRetention)
		return int(count), err

	case types.TaskPurgeJobHistory:
		count, err := h.Service.PurgeJobHistory(ctx, now, h.Thresholds.JobHistoryRetention)
		return int(count), err

	case types.TaskSnapshotDatasetStats:
		counts, err := h.Service.SnapshotDatasetStats(ctx)
		total := 0
		for _, n := range counts {
			total += n
		}
		return total, err

	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func main() {
	// Initialize structured logger at startup (Cold Start).
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Dataset Maintenance Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = newLogger(cfg.LogLevel)

	ctx := context.Background()

	// Load AWS SDK configuration.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	// Initialize database connection pool.
	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}

	// Verify database connectivity.
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Initialize database repositories.
	periodRepo := db.NewDatasetPeriodRepository(pool)
	failureRepo := db.NewParseFailureRepository(pool)
	jobLockRepo := db.NewJobLockRepository(pool)
	jobHistoryRepo := db.NewJobHistoryRepository(pool)

	// Initialize CloudWatch metrics for the stats snapshot task.
	cwClient := cloudwatch.NewFromConfig(awsCfg)
	refreshMetrics := metrics.NewCloudWatchRefreshMetrics(cwClient, cfg.Observability.MetricNamespace, logger)

	service := datasets.NewMaintenanceService(datasets.MaintenanceConfig{
		Store:    periodRepo,
		Failures: failureRepo,
		History:  jobHistoryRepo,
		Metrics:  refreshMetrics,
		Logger:   logger,
	})

	// Generate a unique worker ID for this Lambda instance.
	// Used for distributed lock ownership tracking.
	workerID := uuid.New().String()

	handler := &Handler{
		Service:    service,
		JobLock:    jobLockRepo,
		JobHistory: jobHistoryRepo,
		Thresholds: Thresholds{
			StuckClaimAfter:       cfg.Refresh.StuckClaimAfter,
			RetryDelay:            cfg.Refresh.RetryDelay,
			ParseFailureRetention: cfg.Refresh.ParseFailureRetention,
			JobHistoryRetention:   cfg.Refresh.JobHistoryRetention,
		},
		WorkerID: workerID,
		Logger:   logger,
	}

	logger.Info("Dataset Maintenance Lambda initialized",
		"worker_id", workerID,
		"stuck_claim_after", cfg.Refresh.StuckClaimAfter.String(),
		"parse_failure_retention", cfg.Refresh.ParseFailureRetention.String(),
		"job_history_retention", cfg.Refresh.JobHistoryRetention.String(),
	)

	lambda.Start(handler.Handle)
}

// newLogger creates a JSON slog logger honoring the configured level.
func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
