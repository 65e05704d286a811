package types

// Aggregation identifies the time-bucket granularity of a dataset.
type Aggregation string

const (
	AggregationHourly Aggregation = "hourly"
	AggregationDaily  Aggregation = "daily"
)

// AllAggregations lists every supported granularity, in refresh priority order.
var AllAggregations = []Aggregation{AggregationHourly, AggregationDaily}

// EntityType identifies the advertising entity a dataset reports on.
type EntityType string

const (
	EntityTarget  EntityType = "target"
	EntityProduct EntityType = "product"
)

// AllEntityTypes lists every supported entity type.
var AllEntityTypes = []EntityType{EntityTarget, EntityProduct}

// DatasetStatus is the descriptive lifecycle state of a dataset period.
// It reflects the pipeline's last action; scheduling decisions are driven by
// report linkage and next_refresh_at, never by this value alone.
type DatasetStatus string

const (
	DatasetMissing   DatasetStatus = "missing"
	DatasetFetching  DatasetStatus = "fetching"
	DatasetParsing   DatasetStatus = "parsing"
	DatasetCompleted DatasetStatus = "completed"
	DatasetError     DatasetStatus = "error"
)

// ExportState is the remote status of a report export on the external API.
// These values MUST match the reporting API contract verbatim.
type ExportState string

const (
	ExportProcessing ExportState = "PROCESSING"
	ExportCompleted  ExportState = "COMPLETED"
	ExportFailed     ExportState = "FAILED"
)

// EventKind classifies a dataset lifecycle event for downstream consumers.
type EventKind string

const (
	EventUpdated EventKind = "updated"
	EventError   EventKind = "error"
)

// TaskType identifies a maintenance task routed by the dataset-maintenance
// multiplexer. EventBridge rules send one of these in the invocation payload.
type TaskType string

const (
	TaskRequeueStuckRefreshes TaskType = "requeue_stuck_refreshes"
	TaskPurgeParseFailures    TaskType = "purge_parse_failures"
	TaskPurgeJobHistory       TaskType = "purge_job_history"
	TaskSnapshotDatasetStats  TaskType = "snapshot_dataset_stats"
)

// RefreshResult labels the outcome of one pipeline execution for metrics.
type RefreshResult string

const (
	ResultCreated   RefreshResult = "created"
	ResultProcessed RefreshResult = "processed"
	ResultNoop      RefreshResult = "noop"
	ResultError     RefreshResult = "error"
)
