package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// DatasetKey is the composite identity of one dataset period. Every row in
// dataset_periods, every refresh job message, and every lifecycle event is
// addressed by this five-part key.
type DatasetKey struct {
	AccountID   string      `json:"account_id" db:"account_id"`
	CountryCode string      `json:"country_code" db:"country_code"`
	PeriodStart time.Time   `json:"period_start" db:"period_start"`
	Aggregation Aggregation `json:"aggregation" db:"aggregation"`
	EntityType  EntityType  `json:"entity_type" db:"entity_type"`
}

// String renders the key in a stable, log-friendly form.
func (k DatasetKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s",
		k.AccountID, k.CountryCode, k.Aggregation, k.EntityType,
		k.PeriodStart.UTC().Format(time.RFC3339))
}

// DatasetPeriod is the central entity: one time bucket of reportable
// performance data for one account, country, granularity, and entity type.
// The metadata row is the synchronization point for the whole pipeline; the
// refreshing flag plus the composite unique key act as an advisory lock.
type DatasetPeriod struct {
	AccountID   string      `json:"account_id" db:"account_id"`
	CountryCode string      `json:"country_code" db:"country_code"`
	PeriodStart time.Time   `json:"period_start" db:"period_start"`
	Aggregation Aggregation `json:"aggregation" db:"aggregation"`
	EntityType  EntityType  `json:"entity_type" db:"entity_type"`

	Status DatasetStatus `json:"status" db:"status"`

	// Report linkage. ReportID is non-null exactly while an export is
	// outstanding: created on the external API but not yet parsed locally.
	ReportID              *string    `json:"report_id,omitempty" db:"report_id"`
	LastReportCreatedAt   *time.Time `json:"last_report_created_at,omitempty" db:"last_report_created_at"`
	LastProcessedReportID *string    `json:"last_processed_report_id,omitempty" db:"last_processed_report_id"`

	// Scheduling state. NextRefreshAt only moves forward in time.
	NextRefreshAt *time.Time `json:"next_refresh_at,omitempty" db:"next_refresh_at"`
	Refreshing    bool       `json:"refreshing" db:"refreshing"`

	// Outcome of the last pipeline execution.
	Error          *string `json:"error,omitempty" db:"error"`
	TotalRecords   int     `json:"total_records" db:"total_records"`
	SuccessRecords int     `json:"success_records" db:"success_records"`
	ErrorRecords   int     `json:"error_records" db:"error_records"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Key returns the composite identity of this period.
func (p *DatasetPeriod) Key() DatasetKey {
	return DatasetKey{
		AccountID:   p.AccountID,
		CountryCode: p.CountryCode,
		PeriodStart: p.PeriodStart,
		Aggregation: p.Aggregation,
		EntityType:  p.EntityType,
	}
}

// RecordCounts carries the row counters produced by one parse run.
type RecordCounts struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Error   int `json:"error"`
}

// ReconcileResult reports what one backfill pass changed.
type ReconcileResult struct {
	Inserted int `json:"inserted"`
	Deleted  int `json:"deleted"`
}

// AdAccount is one advertising account the refresh sweep iterates.
// ProfileID is the tenant handle the external reporting API expects.
type AdAccount struct {
	AccountID   string    `json:"account_id" db:"account_id"`
	CountryCode string    `json:"country_code" db:"country_code"`
	ProfileID   string    `json:"profile_id" db:"profile_id"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// PerformanceMetrics is the metric block shared by both performance tables.
// Purchases and sales are broken out by attribution window because the source
// restates recent periods as conversions attribute over time.
type PerformanceMetrics struct {
	Impressions  int64   `json:"impressions" db:"impressions"`
	Clicks       int64   `json:"clicks" db:"clicks"`
	Cost         float64 `json:"cost" db:"cost"`
	Purchases1D  int64   `json:"purchases_1d" db:"purchases_1d"`
	Purchases7D  int64   `json:"purchases_7d" db:"purchases_7d"`
	Purchases14D int64   `json:"purchases_14d" db:"purchases_14d"`
	Purchases30D int64   `json:"purchases_30d" db:"purchases_30d"`
	Sales1D      float64 `json:"sales_1d" db:"sales_1d"`
	Sales7D      float64 `json:"sales_7d" db:"sales_7d"`
	Sales14D     float64 `json:"sales_14d" db:"sales_14d"`
	Sales30D     float64 `json:"sales_30d" db:"sales_30d"`
	UnitsSold14D int64   `json:"units_sold_14d" db:"units_sold_14d"`
}

// TargetPerformanceRow is one upserted row of target-level performance data.
// BucketStart is the UTC instant of the local hour or local midnight the row
// aggregates, depending on Aggregation.
type TargetPerformanceRow struct {
	AccountID   string      `json:"account_id" db:"account_id"`
	CountryCode string      `json:"country_code" db:"country_code"`
	Aggregation Aggregation `json:"aggregation" db:"aggregation"`
	BucketStart time.Time   `json:"bucket_start" db:"bucket_start"`

	TargetID   string `json:"target_id" db:"target_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	AdGroupID  string `json:"ad_group_id" db:"ad_group_id"`
	Expression string `json:"expression,omitempty" db:"expression"`
	MatchType  string `json:"match_type,omitempty" db:"match_type"`

	PerformanceMetrics
}

// ProductPerformanceRow is one upserted row of advertised-product performance.
type ProductPerformanceRow struct {
	AccountID   string      `json:"account_id" db:"account_id"`
	CountryCode string      `json:"country_code" db:"country_code"`
	Aggregation Aggregation `json:"aggregation" db:"aggregation"`
	BucketStart time.Time   `json:"bucket_start" db:"bucket_start"`

	AdID       string `json:"ad_id" db:"ad_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	AdGroupID  string `json:"ad_group_id" db:"ad_group_id"`
	ASIN       string `json:"asin,omitempty" db:"asin"`
	SKU        string `json:"sku,omitempty" db:"sku"`

	PerformanceMetrics
}

// ParseFailure is one diverted payload record: a row that decoded but could
// not be transformed into a performance row. Stored append-only so one bad
// record never blocks the rest of the export.
type ParseFailure struct {
	ID          int64           `json:"id" db:"id"`
	AccountID   string          `json:"account_id" db:"account_id"`
	CountryCode string          `json:"country_code" db:"country_code"`
	PeriodStart time.Time       `json:"period_start" db:"period_start"`
	Aggregation Aggregation     `json:"aggregation" db:"aggregation"`
	EntityType  EntityType      `json:"entity_type" db:"entity_type"`
	ReportID    string          `json:"report_id" db:"report_id"`
	RecordIndex int             `json:"record_index" db:"record_index"`
	Reason      string          `json:"reason" db:"reason"`
	Raw         json.RawMessage `json:"raw,omitempty" db:"raw"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// ExportFilters is the request body for export creation on the reporting API.
type ExportFilters struct {
	StartTime   time.Time   `json:"start_time"`
	EndTime     time.Time   `json:"end_time"`
	Aggregation Aggregation `json:"aggregation"`
	EntityType  EntityType  `json:"entity_type"`
	Columns     []string    `json:"columns,omitempty"`
}

// ExportHandle is the reporting API's acknowledgement of a created export.
type ExportHandle struct {
	ExportID string      `json:"export_id"`
	State    ExportState `json:"state"`
}

// ExportStatus is one remote status observation for an outstanding export.
// URL is populated once the export reaches COMPLETED; FailureReason once it
// reaches FAILED.
type ExportStatus struct {
	ExportID      string      `json:"export_id"`
	State         ExportState `json:"state"`
	URL           string      `json:"url,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
}

// JobRun tracks scheduled job execution history.
type JobRun struct {
	ID         int64           `json:"id" db:"id"`
	JobType    string          `json:"job_type" db:"job_type"`
	StartedAt  time.Time       `json:"started_at" db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at" db:"finished_at"`
	Status     string          `json:"status" db:"status"`
	ItemsCount int             `json:"items_count" db:"items_count"`
	Error      string          `json:"error,omitempty" db:"error"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"`
}

// DatasetStats is a per-status row count snapshot used by the stats task.
type DatasetStats struct {
	Status DatasetStatus `json:"status" db:"status"`
	Count  int64         `json:"count" db:"count"`
}
