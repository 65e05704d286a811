// Package config defines the global configuration structure for the BidBeacon
// dataset platform. Configuration is loaded once at process initialization
// (Lambda cold start) and is immutable thereafter. It follows 12-Factor App
// principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails the process immediately
// on startup.
package config

import (
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the dataset platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"bidbeacon-datasets"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	// Domain Configurations
	Database      DatabaseConfig
	AWS           AWSConfig
	Reports       ReportsConfig
	Refresh       RefreshConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Resource Identifiers
	RefreshQueueURL string `envconfig:"SQS_REFRESH_JOBS" validate:"required,url"`
	EventQueueURL   string `envconfig:"SQS_DATASET_EVENTS" validate:"required,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ReportsConfig holds credentials and tuning for the advertising report
// export API.
type ReportsConfig struct {
	BaseURL  string `envconfig:"REPORTS_BASE_URL" validate:"required,url"`
	TokenURL string `envconfig:"REPORTS_TOKEN_URL" validate:"required,url"`

	ClientID     string       `envconfig:"REPORTS_CLIENT_ID" validate:"required"`
	ClientSecret SecretString `envconfig:"REPORTS_CLIENT_SECRET" validate:"required"`
	RefreshToken SecretString `envconfig:"REPORTS_REFRESH_TOKEN" validate:"required"`

	RequestTimeout  time.Duration `envconfig:"REPORTS_REQUEST_TIMEOUT" default:"30s"`
	DownloadTimeout time.Duration `envconfig:"REPORTS_DOWNLOAD_TIMEOUT" default:"2m"`
	MaxRetries      int           `envconfig:"REPORTS_MAX_RETRIES" default:"3"`
}

// RefreshConfig holds the dataset refresh lifecycle knobs: retention windows,
// scheduling capacity, cadence overrides, and maintenance thresholds.
type RefreshConfig struct {
	// MaxConcurrentPerScope caps in-flight refreshes per
	// (account, country, aggregation, entity) scope. Backpressure, not
	// fairness: rows are picked newest first within a scope.
	MaxConcurrentPerScope int `envconfig:"REFRESH_MAX_CONCURRENT" default:"5"`

	// Retention windows. Hourly datasets are kept for a number of days,
	// daily datasets for a number of calendar months.
	HourlyRetentionDays  int `envconfig:"RETENTION_HOURLY_DAYS" default:"60"`
	DailyRetentionMonths int `envconfig:"RETENTION_DAILY_MONTHS" default:"24"`

	// Cadence overrides applied on top of the built-in tier ladder.
	PollInterval  time.Duration `envconfig:"REFRESH_POLL_INTERVAL" default:"2m"`
	RetryDelay    time.Duration `envconfig:"REFRESH_RETRY_DELAY" default:"10m"`
	ExportTimeout time.Duration `envconfig:"REFRESH_EXPORT_TIMEOUT" default:"30m"`

	// StuckClaimAfter is how long a row may hold refreshing=true before the
	// maintenance sweep treats the claim as orphaned and releases it.
	StuckClaimAfter time.Duration `envconfig:"REFRESH_STUCK_CLAIM_AFTER" default:"45m"`

	// UpsertBatchSize bounds the number of performance rows written per
	// multi-row INSERT statement.
	UpsertBatchSize int `envconfig:"REFRESH_UPSERT_BATCH_SIZE" default:"500"`

	// Maintenance retention for operational side tables.
	ParseFailureRetention time.Duration `envconfig:"PARSE_FAILURE_RETENTION" default:"336h"`
	JobHistoryRetention   time.Duration `envconfig:"JOB_HISTORY_RETENTION" default:"2160h"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"BidBeacon/Datasets"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
