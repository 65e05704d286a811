// Package main is the entrypoint for the Refresh Scheduler Lambda function.
//
// The Refresh Scheduler runs every minute via an EventBridge rule. One sweep
// reconciles the dataset period inventory of every active ad account against
// its retention window, selects due rows per (aggregation, entity type)
// scope, claims them atomically, and dispatches one refresh job per claim to
// the refresh job queue. The heavy lifting (report export, download, parse,
// upsert) happens in the refresh worker; the sweep only decides WHAT runs.
//
// Cold Start (main):
//  1. Initialize structured logger.
//  2. Load configuration (SSM secrets, dotenv, env, validation).
//  3. Load AWS SDK configuration.
//  4. Initialize database connection pool.
//  5. Initialize SQS dispatcher and CloudWatch metrics.
//  6. Wire the Reconciler and Scheduler services.
//  7. Register handler and call lambda.Start.
//
// Handler flow per invocation:
//  1. Seed a trace ID so dispatched jobs are correlatable across Lambdas.
//  2. Acquire a distributed job lock keyed to the current minute.
//  3. Record job start in job_history.
//  4. Run one scheduler sweep.
//  5. Record job completion with status and dispatched count.
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
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchbaseco/bidbeacon-sub001/internal/config"
	"github.com/merchbaseco/bidbeacon-sub001/internal/datasets"
	"github.com/merchbaseco/bidbeacon-sub001/internal/db"
	"github.com/merchbaseco/bidbeacon-sub001/internal/metrics"
	"github.com/merchbaseco/bidbeacon-sub001/internal/queue"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

const (
	// sweepLockTTL covers one sweep execution with margin. A sweep normally
	// finishes in seconds; if a Lambda dies mid-sweep the lock expires well
	// before the claimed rows are recovered by the stuck-claim maintenance.
	sweepLockTTL = 5 * time.Minute

	// jobTypeRefreshSweep is the job_history job type and the lock ID prefix
	// for scheduler sweeps.
	jobTypeRefreshSweep = "refresh_sweep"
)

// SweepInput is the optional EventBridge payload for a scheduler invocation.
// The scheduled rule sends an empty object; operators may set TraceID when
// invoking manually to correlate the sweep with an investigation.
type SweepInput struct {
	TraceID string `json:"trace_id,omitempty"`
}

// Sweeper runs one scheduler pass over all active accounts.
type Sweeper interface {
	Sweep(ctx context.Context) (*datasets.SweepResult, error)
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

// Handler holds the dependencies for the refresh scheduler Lambda handler.
type Handler struct {
	Sweeper    Sweeper
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Logger     *slog.Logger
}

// Handle runs one guarded scheduler sweep.
//
// The lock ID carries the current minute, so a duplicate invocation within
// the same minute (EventBridge retry, manual replay) is skipped while the
// next minute's rule fires normally.
func (h *Handler) Handle(ctx context.Context, input SweepInput) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	traceID := input.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}
	ctx = types.WithTraceID(ctx, traceID)

	now := time.Now().UTC()
	logger.InfoContext(ctx, "refresh scheduler invoked",
		"trace_id", traceID,
		"worker_id", h.WorkerID,
	)

	lockID := fmt.Sprintf("%s:%s", jobTypeRefreshSweep, now.Truncate(time.Minute).Format("2006-01-02T15:04"))
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, sweepLockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock",
			"lock_id", lockID,
			"error", err,
		)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is sweeping",
			"lock_id", lockID,
		)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	jobID, err := h.JobHistory.Start(ctx, jobTypeRefreshSweep)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history",
			"job_type", jobTypeRefreshSweep,
			"error", err,
		)
		// Non-fatal: proceed with the sweep even if history tracking fails.
		// jobID=0 signals that Finish should be skipped.
		jobID = 0
	}

	result, sweepErr := h.Sweeper.Sweep(ctx)

	items := 0
	if result != nil {
		items = result.Dispatched
	}

	status := "success"
	if sweepErr != nil {
		status = "failed"
	}

	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, items, sweepErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"error", finishErr,
			)
		}
	}

	if sweepErr != nil {
		logger.ErrorContext(ctx, "refresh sweep failed",
			"error", sweepErr,
		)
		return "", fmt.Errorf("refresh sweep failed: %w", sweepErr)
	}

	summary := fmt.Sprintf("sweep complete: %d accounts, %d inserted, %d deleted, %d claimed, %d dispatched",
		result.Accounts, result.Inserted, result.Deleted, result.Claimed, result.Dispatched)
	logger.InfoContext(ctx, summary,
		"accounts", result.Accounts,
		"inserted", result.Inserted,
		"deleted", result.Deleted,
		"claimed", result.Claimed,
		"dispatched", result.Dispatched,
	)

	return summary, nil
}

func main() {
	// Initialize structured logger at startup (Cold Start).
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Refresh Scheduler Lambda initializing (cold start)")

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
	accountRepo := db.NewAdAccountRepository(pool)
	periodRepo := db.NewDatasetPeriodRepository(pool)
	jobLockRepo := db.NewJobLockRepository(pool)
	jobHistoryRepo := db.NewJobHistoryRepository(pool)

	// Initialize AWS clients.
	sqsClient := sqs.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	dispatcher := queue.NewRefreshDispatcher(sqsClient, cfg.AWS, logger)
	refreshMetrics := metrics.NewCloudWatchRefreshMetrics(cwClient, cfg.Observability.MetricNamespace, logger)

	// Wire the reconciler and scheduler services.
	reconciler := datasets.NewReconciler(datasets.ReconcilerConfig{
		Store:                periodRepo,
		HourlyRetentionDays:  cfg.Refresh.HourlyRetentionDays,
		DailyRetentionMonths: cfg.Refresh.DailyRetentionMonths,
		Logger:               logger,
	})

	scheduler := datasets.NewScheduler(datasets.SchedulerConfig{
		Accounts:              accountRepo,
		Store:                 periodRepo,
		Reconciler:            reconciler,
		Dispatcher:            dispatcher,
		Metrics:               refreshMetrics,
		MaxConcurrentPerScope: cfg.Refresh.MaxConcurrentPerScope,
		Logger:                logger,
	})

	// Generate a unique worker ID for this Lambda instance.
	// Used for distributed lock ownership tracking.
	workerID := uuid.New().String()

	handler := &Handler{
		Sweeper:    scheduler,
		JobLock:    jobLockRepo,
		JobHistory: jobHistoryRepo,
		WorkerID:   workerID,
		Logger:     logger,
	}

	logger.Info("Refresh Scheduler Lambda initialized",
		"worker_id", workerID,
		"refresh_queue", cfg.AWS.RefreshQueueURL,
		"max_concurrent_per_scope", cfg.Refresh.MaxConcurrentPerScope,
		"hourly_retention_days", cfg.Refresh.HourlyRetentionDays,
		"daily_retention_months", cfg.Refresh.DailyRetentionMonths,
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
