package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricRefreshOutcome     = "RefreshOutcome"
	MetricRefreshDuration    = "RefreshDuration"
	MetricRowsUpserted       = "RowsUpserted"
	MetricParseFailures      = "ParseFailures"
	MetricDatasetStatusCount = "DatasetStatusCount"
	MetricQueueLag           = "RefreshQueueLag"
	MetricSweepClaims        = "SweepClaims"

	// Dimension Keys
	DimAggregation = "Aggregation"
	DimEntityType  = "EntityType"
	DimResult      = "Result"
	DimStatus      = "Status"
	DimCountry     = "Country"

	// Metric Namespace
	MetricNamespace = "BidBeacon/Datasets"
)
