// Package main is the entrypoint for the Refresh Worker Lambda function.
//
// The Refresh Worker consumes refresh jobs from the refresh SQS queue. Each
// job names one claimed dataset period; the worker runs one lifecycle step
// for it: confirm the claim, resolve the next action (create an export, poll
// an outstanding one, or download/parse/upsert a completed one), and release
// the claim with the row's next schedule.
//
// Cold Start (main):
//  1. Initialize structured logger.
//  2. Load configuration (SSM secrets, dotenv, env, validation).
//  3. Load AWS SDK configuration.
//  4. Initialize database connection pool.
//  5. Initialize report-export API clients (stubs in local/test mode).
//  6. Initialize SQS event publisher and CloudWatch metrics.
//  7. Wire the pipeline Executor.
//  8. Register handler and call lambda.Start.
//
// Handler flow per SQS record:
//  1. Unmarshal the RefreshJob from the message body. A malformed body is
//     logged and acknowledged; redelivery cannot fix it.
//  2. Restore the trace ID the scheduler seeded.
//  3. Record queue lag from the job's claim timestamp.
//  4. Run the executor. Pipeline failures are absorbed into the row's error
//     state and acknowledged; only claim-write failures are returned to SQS
//     as batch item failures so the message is redelivered.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchbaseco/bidbeacon-sub001/internal/config"
	"github.com/merchbaseco/bidbeacon-sub001/internal/datasets"
	"github.com/merchbaseco/bidbeacon-sub001/internal/db"
	"github.com/merchbaseco/bidbeacon-sub001/internal/metrics"
	"github.com/merchbaseco/bidbeacon-sub001/internal/notifications"
	"github.com/merchbaseco/bidbeacon-sub001/internal/periods"
	"github.com/merchbaseco/bidbeacon-sub001/internal/reports"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// RefreshRunner runs one refresh cycle for a claimed dataset period.
// Implemented by datasets.Executor.
type RefreshRunner interface {
	Execute(ctx context.Context, key types.DatasetKey) (types.RefreshResult, error)
}

// Handler holds the dependencies for the refresh worker Lambda handler.
type Handler struct {
	runner  RefreshRunner
	metrics metrics.RefreshMetrics
	logger  *slog.Logger
}

// Handle processes an SQS event containing one or more refresh jobs. Each
// job is processed independently. Lambda SQS integration uses partial batch
// responses: messages whose claim state could not be written are returned in
// batchItemFailures so SQS redelivers only those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process SQS message",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord runs one refresh job through the pipeline executor.
//
// The returned error is non-nil only when the executor could not write the
// row's claim state; everything else resolves to nil so the message is
// acknowledged and the row retries on its own schedule.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var job types.RefreshJob
	if err := json.Unmarshal([]byte(record.Body), &job); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal refresh job",
			"message_id", record.MessageId,
			"error", err,
		)
		// Permanent parse failure - do not retry (return nil to ACK).
		return nil
	}

	// Restore the trace ID seeded by the scheduler sweep so one refresh
	// cycle is correlatable across Lambdas.
	if job.TraceID != "" {
		ctx = types.WithTraceID(ctx, job.TraceID)
	}

	logger := h.logger.With(
		"job_id", job.JobID,
		"trace_id", job.TraceID,
		"account_id", job.AccountID,
		"country_code", job.CountryCode,
		"period_start", job.PeriodStart.Format(time.RFC3339),
		"aggregation", string(job.Aggregation),
		"entity_type", string(job.EntityType),
	)

	logger.InfoContext(ctx, "processing refresh job")

	// Record queue lag (claim to worker pickup) for observability.
	if !job.ClaimedAt.IsZero() {
		h.metrics.RecordQueueLag(ctx, time.Since(job.ClaimedAt))
	}

	result, err := h.runner.Execute(ctx, job.Key())
	if err != nil {
		return fmt.Errorf("executing refresh job %s: %w", job.JobID, err)
	}

	logger.InfoContext(ctx, "refresh job finished",
		"result", string(result),
	)

	return nil
}

func main() {
	// Initialize structured logger at startup (Cold Start).
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Refresh Worker Lambda initializing (cold start)")

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
	accountRepo := db.NewAdAccountRepository(pool)
	failureRepo := db.NewParseFailureRepository(pool)
	performanceRepo := db.NewPerformanceRepository(pool, cfg.Refresh.UpsertBatchSize)

	// Initialize AWS clients.
	sqsClient := sqs.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	// Initialize the report-export API clients. In local/test mode the
	// registry returns stubs that never call the vendor.
	registry, err := reports.NewClientRegistry(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize report clients", "error", err)
		os.Exit(1)
	}

	publisher := notifications.NewEventPublisher(sqsClient, cfg.AWS.EventQueueURL, logger)
	refreshMetrics := metrics.NewCloudWatchRefreshMetrics(cwClient, cfg.Observability.MetricNamespace, logger)

	// Apply the configured cadence overrides on top of the default ladder.
	policy := periods.DefaultRefreshPolicy()
	policy.PollInterval = cfg.Refresh.PollInterval
	policy.RetryDelay = cfg.Refresh.RetryDelay
	policy.ExportTimeout = cfg.Refresh.ExportTimeout

	executor := datasets.NewExecutor(datasets.ExecutorConfig{
		Store:    periodRepo,
		Rows:     performanceRepo,
		Failures: failureRepo,
		Profiles: accountRepo,
		Exports:  registry.Exports,
		Parser:   reports.NewPayloadParser(),
		Notifier: publisher,
		Metrics:  refreshMetrics,
		Policy:   policy,
		Logger:   logger,
	})

	handler := &Handler{
		runner:  executor,
		metrics: refreshMetrics,
		logger:  logger,
	}

	logger.Info("Refresh Worker Lambda initialized",
		"refresh_queue", cfg.AWS.RefreshQueueURL,
		"event_queue", cfg.AWS.EventQueueURL,
		"upsert_batch_size", cfg.Refresh.UpsertBatchSize,
		"poll_interval", cfg.Refresh.PollInterval.String(),
		"retry_delay", cfg.Refresh.RetryDelay.String(),
		"export_timeout", cfg.Refresh.ExportTimeout.String(),
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
