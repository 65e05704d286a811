package types

import "time"

// RefreshJob is the SQS payload sent from the refresh scheduler to the
// refresh workers. One message advances exactly one claimed dataset period
// one lifecycle step. JSON tags use snake_case to match the platform's
// message conventions.
type RefreshJob struct {
	// JobID uniquely identifies this dispatch for idempotency and logging.
	JobID string `json:"job_id"`

	// TraceID correlates the message with the sweep that produced it.
	TraceID string `json:"trace_id"`

	// Dataset identity.
	AccountID   string      `json:"account_id"`
	CountryCode string      `json:"country_code"`
	PeriodStart time.Time   `json:"period_start"`
	Aggregation Aggregation `json:"aggregation"`
	EntityType  EntityType  `json:"entity_type"`

	// ClaimedAt is when the scheduler claimed the row. Workers use it to
	// measure queue lag.
	ClaimedAt time.Time `json:"claimed_at"`
}

// Key returns the dataset identity carried by the job.
func (j RefreshJob) Key() DatasetKey {
	return DatasetKey{
		AccountID:   j.AccountID,
		CountryCode: j.CountryCode,
		PeriodStart: j.PeriodStart,
		Aggregation: j.Aggregation,
		EntityType:  j.EntityType,
	}
}

// DatasetEvent is the lifecycle transition event published to downstream
// consumers. One event per state transition, errors included.
type DatasetEvent struct {
	Kind       EventKind     `json:"kind"`
	Key        DatasetKey    `json:"dataset_key"`
	NewStatus  DatasetStatus `json:"new_status"`
	Refreshing bool          `json:"refreshing"`
	Error      string        `json:"error,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// MaintenancePayload is the EventBridge invocation payload for the
// dataset-maintenance multiplexer. ReferenceTime overrides "now" for
// deterministic manual replays.
type MaintenancePayload struct {
	Task          TaskType   `json:"task"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
