// Package main implements the job-runner CLI tool for invoking dataset
// maintenance tasks directly, bypassing the AWS Lambda shim.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging. It constructs a types.MaintenancePayload and invokes
// the same dispatch logic as the dataset-maintenance Lambda.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=requeue_stuck_refreshes
//	go run ./cmd/tools/job-runner --task=purge_parse_failures --reference-time=2026-01-15T02:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=purge_job_history
//	go run ./cmd/tools/job-runner --list
//
// The tool reads DATABASE_URL from environment variables (or .env file via
// godotenv, or an SSM pointer via DATABASE_URL_SSM_PARAM). In --dry-run mode,
// it prints the constructed JSON payload without executing. When DATABASE_URL
// is available, it acquires the distributed job lock, records job history,
// and dispatches to the maintenance service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/merchbaseco/bidbeacon-sub001/internal/config"
	"github.com/merchbaseco/bidbeacon-sub001/internal/datasets"
	"github.com/merchbaseco/bidbeacon-sub001/internal/db"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// validTasks is the exhaustive set of TaskType values the dataset-maintenance
// multiplexer supports. This is maintained in sync with the constants in
// internal/types/enums.go and the dispatch table in cmd/dataset-maintenance.
var validTasks = map[types.TaskType]string{
	types.TaskRequeueStuckRefreshes: "Release refresh claims orphaned by dead workers",
	types.TaskPurgeParseFailures:    "Prune the parse-failure side table past retention",
	types.TaskPurgeJobHistory:       "Prune finished job history rows past retention",
	types.TaskSnapshotDatasetStats:  "Emit per-status dataset period counts as metrics",
}

// tasksRequiringExternalServices lists tasks that cannot be executed locally
// because they depend on external services not available in the CLI context.
var tasksRequiringExternalServices = map[types.TaskType]string{
	types.TaskSnapshotDatasetStats: "CloudWatch metrics client",
}

// Operational constants matching the dataset-maintenance Lambda defaults.
// Duplicated here because cmd/dataset-maintenance is a main package and
// cannot be imported.
const (
	stuckClaimAfter       = 45 * time.Minute
	stuckRetryDelay       = 10 * time.Minute
	parseFailureRetention = 14 * 24 * time.Hour
	jobHistoryRetention   = 90 * 24 * time.Hour
	lockTTL               = 15 * time.Minute
)

func main() {
	// Parse command-line flags.
	taskFlag := flag.String("task", "", "Task type to execute (e.g., requeue_stuck_refreshes)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-01-15T02:00:00Z)")
	listFlag := flag.Bool("list", false, "List all available task types and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Print the JSON payload without executing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke dataset maintenance tasks directly, bypassing Lambda.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available task types.\n")
	}

	flag.Parse()

	// Handle --list: print available tasks and exit.
	if *listFlag {
		printAvailableTasks()
		return
	}

	// Validate --task is provided.
	if *taskFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --task is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// Validate the task type.
	taskType := types.TaskType(*taskFlag)
	if _, ok := validTasks[taskType]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown task type %q\n\n", *taskFlag)
		printAvailableTasks()
		os.Exit(1)
	}

	// Parse optional reference time.
	var refTime *time.Time
	if *refTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --reference-time %q: %v\n", *refTimeFlag, err)
			fmt.Fprintf(os.Stderr, "  expected RFC3339 format, e.g., 2026-01-15T02:00:00Z\n")
			os.Exit(1)
		}
		refTime = &t
	}

	// Construct the maintenance payload.
	payload := types.MaintenancePayload{
		Task:          taskType,
		ReferenceTime: refTime,
	}

	// Initialize structured logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// If dry-run, print the JSON payload and exit.
	if *dryRunFlag {
		printPayload(payload)
		return
	}

	// Check if the task requires external services that are unavailable locally.
	if reason, ok := tasksRequiringExternalServices[taskType]; ok {
		fmt.Fprintf(os.Stderr, "error: task %q requires %s which is not available in CLI context\n", taskType, reason)
		fmt.Fprintf(os.Stderr, "  use --dry-run to generate the JSON payload for manual invocation\n")
		os.Exit(1)
	}

	// Load .env file for local development (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded (this is fine in production)", "error", err)
	}

	// Resolve SSM secrets into environment variables before reading DATABASE_URL.
	// In deployed environments the connection string is stored in SSM Parameter
	// Store and referenced via a DATABASE_URL_SSM_PARAM pointer variable.
	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
		logger.Error("Failed to resolve SSM secrets", "error", err)
		os.Exit(1)
	}

	// Set up cancellation context with signal handling.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Execute the task.
	result, err := executeTask(ctx, payload, logger)
	if err != nil {
		logger.Error("task execution failed",
			"task", string(payload.Task),
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("task execution succeeded",
		"task", string(payload.Task),
		"result", result,
	)
}

// executeTask wires up the database and service dependencies, then invokes
// the maintenance dispatch logic directly (bypassing Lambda).
//
// This function mirrors the cold-start wiring in cmd/dataset-maintenance and
// the Handle method flow:
//  1. Connect to the database.
//  2. Determine reference time.
//  3. Acquire distributed job lock.
//  4. Record job history start.
//  5. Dispatch to the maintenance service.
//  6. Record job history completion.
func executeTask(ctx context.Context, payload types.MaintenancePayload, logger *slog.Logger) (string, error) {
	// Read DATABASE_URL from environment.
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL environment variable is required")
	}

	// Initialize database connection pool.
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return "", fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	// Verify database connectivity.
	if err := pool.Ping(ctx); err != nil {
		return "", fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("database connection established")

	// Initialize job infrastructure repositories.
	jobLockRepo := db.NewJobLockRepository(pool)
	jobHistoryRepo := db.NewJobHistoryRepository(pool)

	// Generate a unique worker ID for lock ownership.
	workerID := fmt.Sprintf("job-runner-%s", uuid.New().String())

	// Determine reference time.
	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.Info("executing task",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", workerID,
	)

	// Acquire distributed lock (same pattern as the Lambda handler).
	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	acquired, err := jobLockRepo.Acquire(ctx, lockID, workerID, lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}
	logger.Info("job lock acquired", "lock_id", lockID)

	// Record job start.
	jobID, err := jobHistoryRepo.Start(ctx, taskStr)
	if err != nil {
		logger.Warn("failed to record job start (continuing anyway)", "error", err)
		jobID = 0
	}

	// Dispatch to the maintenance service.
	items, execErr := dispatch(ctx, payload.Task, now, pool, logger)

	// Record job completion.
	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := jobHistoryRepo.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.Error("failed to record job completion", "job_id", jobID, "error", finishErr)
		}
	}

	if execErr != nil {
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	return fmt.Sprintf("task %s complete: %d items processed", taskStr, items), nil
}

// dispatch routes a TaskType to the appropriate maintenance service method.
//
// This mirrors the routing in cmd/dataset-maintenance Handler.dispatch. The
// service runs with NopMetrics since no CloudWatch client exists in the CLI
// context; the one metric-dependent task (snapshot_dataset_stats) is blocked
// at the argument validation stage before reaching this function.
func dispatch(ctx context.Context, task types.TaskType, now time.Time, pool *pgxpool.Pool, logger *slog.Logger) (int, error) {
	service := datasets.NewMaintenanceService(datasets.MaintenanceConfig{
		Store:    db.NewDatasetPeriodRepository(pool),
		Failures: db.NewParseFailureRepository(pool),
		History:  db.NewJobHistoryRepository(pool),
		Logger:   logger,
	})

	switch task {
	case types.TaskRequeueStuckRefreshes:
		count, err := service.RequeueStuckRefreshes(ctx, now, stuckClaimAfter, stuckRetryDelay)
		return int(count), err

	case types.TaskPurgeParseFailures:
		count, err := service.PurgeParseFailures(ctx, now, parseFailureRetention)
		return int(count), err

	case types.TaskPurgeJobHistory:
		count, err := service.PurgeJobHistory(ctx, now, jobHistoryRetention)
		return int(count), err

	default:
		// Metric-dependent tasks are caught in main() before reaching here.
		// This is a defensive fallback.
		return 0, fmt.Errorf("task %q cannot be dispatched in CLI context", task)
	}
}

// printAvailableTasks prints all valid task types and their descriptions to
// stderr, sorted alphabetically by task name.
func printAvailableTasks() {
	fmt.Fprintf(os.Stderr, "Available task types:\n\n")

	// Sort task types for stable output.
	tasks := make([]types.TaskType, 0, len(validTasks))
	for t := range validTasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return string(tasks[i]) < string(tasks[j])
	})

	// Find the longest task name for alignment.
	maxLen := 0
	for _, t := range tasks {
		if len(string(t)) > maxLen {
			maxLen = len(string(t))
		}
	}

	for _, t := range tasks {
		fmt.Fprintf(os.Stderr, "  %-*s  %s\n", maxLen, string(t), validTasks[t])
	}
	fmt.Fprintln(os.Stderr)
}

// printPayload marshals the MaintenancePayload to pretty-printed JSON and
// writes it to stdout for inspection or piping.
func printPayload(payload types.MaintenancePayload) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to marshal payload: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(data))

	// Also log the description for context on stderr.
	if desc, ok := validTasks[payload.Task]; ok {
		fmt.Fprintf(os.Stderr, "\nTask: %s\nDescription: %s\n", payload.Task, desc)
		if payload.ReferenceTime != nil {
			fmt.Fprintf(os.Stderr, "Reference time: %s\n", payload.ReferenceTime.Format(time.RFC3339))
		} else {
			fmt.Fprintf(os.Stderr, "Reference time: (current UTC time will be used)\n")
		}
	}
}
