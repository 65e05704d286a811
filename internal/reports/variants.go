package reports

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// The payload pipeline is one parameterized loop; the only things that differ
// between the four dataset flavors are the record schema, the bucket
// alignment, and the entity identity resolution. Each combination is a
// PipelineVariant value in a four-entry table, not a separate handler.

// variantKey indexes the variant table.
type variantKey struct {
	Aggregation types.Aggregation
	EntityType  types.EntityType
}

// recordInput is everything a variant needs to process one payload record.
type recordInput struct {
	raw   json.RawMessage
	index int
	key   types.DatasetKey
	loc   *time.Location
}

// rowOutput holds the single transformed row a record produces. Exactly one
// of the two pointers is set, matching the variant's entity type.
type rowOutput struct {
	target  *types.TargetPerformanceRow
	product *types.ProductPerformanceRow
}

// recordFailure is a per-record resolution miss, diverted to the side channel
// instead of failing the payload.
type recordFailure struct {
	reason string
}

// PipelineVariant binds one aggregation and entity type combination to its
// typed record schema and transform. decode strictly decodes and validates
// one record; schema violations abort the whole payload (non-nil error),
// resolution misses divert the record (non-nil recordFailure).
type PipelineVariant struct {
	Aggregation types.Aggregation
	EntityType  types.EntityType

	decode func(p *PayloadParser, in recordInput) (*rowOutput, *recordFailure, error)
}

var variantTable = map[variantKey]PipelineVariant{
	{types.AggregationHourly, types.EntityTarget}: {
		Aggregation: types.AggregationHourly,
		EntityType:  types.EntityTarget,
		decode:      decodeTargetHourly,
	},
	{types.AggregationDaily, types.EntityTarget}: {
		Aggregation: types.AggregationDaily,
		EntityType:  types.EntityTarget,
		decode:      decodeTargetDaily,
	},
	{types.AggregationHourly, types.EntityProduct}: {
		Aggregation: types.AggregationHourly,
		EntityType:  types.EntityProduct,
		decode:      decodeProductHourly,
	},
	{types.AggregationDaily, types.EntityProduct}: {
		Aggregation: types.AggregationDaily,
		EntityType:  types.EntityProduct,
		decode:      decodeProductDaily,
	},
}

// VariantFor returns the pipeline variant for an aggregation and entity type.
func VariantFor(agg types.Aggregation, entity types.EntityType) (PipelineVariant, error) {
	v, ok := variantTable[variantKey{Aggregation: agg, EntityType: entity}]
	if !ok {
		return PipelineVariant{}, types.NewAppError(
			types.ErrCodeValidationConfig,
			fmt.Sprintf("no pipeline variant for %s/%s", agg, entity),
			nil,
		)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Raw record schemas
//
// One typed shape per variant, decoded with DisallowUnknownFields so schema
// drift in the vendor payload surfaces as a hard failure instead of silently
// dropped fields. Hourly shapes require the hour column; daily shapes reject
// it.
// ---------------------------------------------------------------------------

// rawMetrics is the metric block shared by all record shapes.
type rawMetrics struct {
	Impressions  int64   `json:"impressions" validate:"gte=0"`
	Clicks       int64   `json:"clicks" validate:"gte=0"`
	Cost         float64 `json:"cost" validate:"gte=0"`
	Purchases1D  int64   `json:"purchases1d" validate:"gte=0"`
	Purchases7D  int64   `json:"purchases7d" validate:"gte=0"`
	Purchases14D int64   `json:"purchases14d" validate:"gte=0"`
	Purchases30D int64   `json:"purchases30d" validate:"gte=0"`
	Sales1D      float64 `json:"sales1d" validate:"gte=0"`
	Sales7D      float64 `json:"sales7d" validate:"gte=0"`
	Sales14D     float64 `json:"sales14d" validate:"gte=0"`
	Sales30D     float64 `json:"sales30d" validate:"gte=0"`
	UnitsSold14D int64   `json:"unitsSold14d" validate:"gte=0"`
}

func (m rawMetrics) toMetrics() types.PerformanceMetrics {
	return types.PerformanceMetrics{
		Impressions:  m.Impressions,
		Clicks:       m.Clicks,
		Cost:         m.Cost,
		Purchases1D:  m.Purchases1D,
		Purchases7D:  m.Purchases7D,
		Purchases14D: m.Purchases14D,
		Purchases30D: m.Purchases30D,
		Sales1D:      m.Sales1D,
		Sales7D:      m.Sales7D,
		Sales14D:     m.Sales14D,
		Sales30D:     m.Sales30D,
		UnitsSold14D: m.UnitsSold14D,
	}
}

type rawTargetHourly struct {
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Hour       *int   `json:"hour" validate:"required,gte=0,lte=23"`
	TargetID   string `json:"targetId"`
	KeywordID  string `json:"keywordId"`
	CampaignID string `json:"campaignId" validate:"required"`
	AdGroupID  string `json:"adGroupId" validate:"required"`
	Targeting  string `json:"targeting"`
	MatchType  string `json:"matchType"`
	rawMetrics
}

type rawTargetDaily struct {
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	TargetID   string `json:"targetId"`
	KeywordID  string `json:"keywordId"`
	CampaignID string `json:"campaignId" validate:"required"`
	AdGroupID  string `json:"adGroupId" validate:"required"`
	Targeting  string `json:"targeting"`
	MatchType  string `json:"matchType"`
	rawMetrics
}

type rawProductHourly struct {
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Hour       *int   `json:"hour" validate:"required,gte=0,lte=23"`
	AdID       string `json:"adId"`
	CampaignID string `json:"campaignId" validate:"required"`
	AdGroupID  string `json:"adGroupId" validate:"required"`
	ASIN       string `json:"asin"`
	SKU        string `json:"sku"`
	rawMetrics
}

type rawProductDaily struct {
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	AdID       string `json:"adId"`
	CampaignID string `json:"campaignId" validate:"required"`
	AdGroupID  string `json:"adGroupId" validate:"required"`
	ASIN       string `json:"asin"`
	SKU        string `json:"sku"`
	rawMetrics
}

// ---------------------------------------------------------------------------
// Bucket alignment strategies
// ---------------------------------------------------------------------------

// alignHourlyBucket resolves the record's local date and hour into the
// absolute bucket instant.
func alignHourlyBucket(date string, hour int, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable record date %q: %w", date, err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc), nil
}

// alignDailyBucket resolves the record's local date into local midnight.
func alignDailyBucket(date string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable record date %q: %w", date, err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc), nil
}

// checkBucket verifies the resolved bucket is the period this export was
// requested for. The export filter covers exactly one period, so any other
// instant means the vendor returned a record we did not ask for.
func checkBucket(bucket time.Time, key types.DatasetKey) *recordFailure {
	if !bucket.Equal(key.PeriodStart) {
		return &recordFailure{reason: fmt.Sprintf(
			"record bucket %s outside requested period %s",
			bucket.UTC().Format(time.RFC3339),
			key.PeriodStart.UTC().Format(time.RFC3339),
		)}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Entity identity resolution strategies
// ---------------------------------------------------------------------------

// resolveTargetIdentity picks the target identifier: targetId when present,
// keywordId otherwise. Legacy keyword campaigns report only keywordId.
func resolveTargetIdentity(targetID, keywordID string) (string, *recordFailure) {
	if targetID != "" {
		return targetID, nil
	}
	if keywordID != "" {
		return keywordID, nil
	}
	return "", &recordFailure{reason: "missing targetId and keywordId"}
}

// resolveProductIdentity requires the ad identifier.
func resolveProductIdentity(adID string) (string, *recordFailure) {
	if adID == "" {
		return "", &recordFailure{reason: "missing adId"}
	}
	return adID, nil
}

// ---------------------------------------------------------------------------
// Variant decode functions
// ---------------------------------------------------------------------------

func decodeTargetHourly(p *PayloadParser, in recordInput) (*rowOutput, *recordFailure, error) {
	var rec rawTargetHourly
	if err := p.decodeRecord(in.raw, in.index, &rec); err != nil {
		return nil, nil, err
	}

	bucket, err := alignHourlyBucket(rec.Date, *rec.Hour, in.loc)
	if err != nil {
		return nil, &recordFailure{reason: err.Error()}, nil
	}
	if f := checkBucket(bucket, in.key); f != nil {
		return nil, f, nil
	}

	targetID, f := resolveTargetIdentity(rec.TargetID, rec.KeywordID)
	if f != nil {
		return nil, f, nil
	}

	return &rowOutput{target: &types.TargetPerformanceRow{
		AccountID:          in.key.AccountID,
		CountryCode:        in.key.CountryCode,
		Aggregation:        in.key.Aggregation,
		BucketStart:        bucket.UTC(),
		TargetID:           targetID,
		CampaignID:         rec.CampaignID,
		AdGroupID:          rec.AdGroupID,
		Expression:         rec.Targeting,
		MatchType:          rec.MatchType,
		PerformanceMetrics: rec.toMetrics(),
	}}, nil, nil
}

func decodeTargetDaily(p *PayloadParser, in recordInput) (*rowOutput, *recordFailure, error) {
	var rec rawTargetDaily
	if err := p.decodeRecord(in.raw, in.index, &rec); err != nil {
		return nil, nil, err
	}

	bucket, err := alignDailyBucket(rec.Date, in.loc)
	if err != nil {
		return nil, &recordFailure{reason: err.Error()}, nil
	}
	if f := checkBucket(bucket, in.key); f != nil {
		return nil, f, nil
	}

	targetID, f := resolveTargetIdentity(rec.TargetID, rec.KeywordID)
	if f != nil {
		return nil, f, nil
	}

	return &rowOutput{target: &types.TargetPerformanceRow{
		AccountID:          in.key.AccountID,
		CountryCode:        in.key.CountryCode,
		Aggregation:        in.key.Aggregation,
		BucketStart:        bucket.UTC(),
		TargetID:           targetID,
		CampaignID:         rec.CampaignID,
		AdGroupID:          rec.AdGroupID,
		Expression:         rec.Targeting,
		MatchType:          rec.MatchType,
		PerformanceMetrics: rec.toMetrics(),
	}}, nil, nil
}

func decodeProductHourly(p *PayloadParser, in recordInput) (*rowOutput, *recordFailure, error) {
	var rec rawProductHourly
	if err := p.decodeRecord(in.raw, in.index, &rec); err != nil {
		return nil, nil, err
	}

	bucket, err := alignHourlyBucket(rec.Date, *rec.Hour, in.loc)
	if err != nil {
		return nil, &recordFailure{reason: err.Error()}, nil
	}
	if f := checkBucket(bucket, in.key); f != nil {
		return nil, f, nil
	}

	adID, f := resolveProductIdentity(rec.AdID)
	if f != nil {
		return nil, f, nil
	}

	return &rowOutput{product: &types.ProductPerformanceRow{
		AccountID:          in.key.AccountID,
		CountryCode:        in.key.CountryCode,
		Aggregation:        in.key.Aggregation,
		BucketStart:        bucket.UTC(),
		AdID:               adID,
		CampaignID:         rec.CampaignID,
		AdGroupID:          rec.AdGroupID,
		ASIN:               rec.ASIN,
		SKU:                rec.SKU,
		PerformanceMetrics: rec.toMetrics(),
	}}, nil, nil
}

func decodeProductDaily(p *PayloadParser, in recordInput) (*rowOutput, *recordFailure, error) {
	var rec rawProductDaily
	if err := p.decodeRecord(in.raw, in.index, &rec); err != nil {
		return nil, nil, err
	}

	bucket, err := alignDailyBucket(rec.Date, in.loc)
	if err != nil {
		return nil, &recordFailure{reason: err.Error()}, nil
	}
	if f := checkBucket(bucket, in.key); f != nil {
		return nil, f, nil
	}

	adID, f := resolveProductIdentity(rec.AdID)
	if f != nil {
		return nil, f, nil
	}

	return &rowOutput{product: &types.ProductPerformanceRow{
		AccountID:          in.key.AccountID,
		CountryCode:        in.key.CountryCode,
		Aggregation:        in.key.Aggregation,
		BucketStart:        bucket.UTC(),
		AdID:               adID,
		CampaignID:         rec.CampaignID,
		AdGroupID:          rec.AdGroupID,
		ASIN:               rec.ASIN,
		SKU:                rec.SKU,
		PerformanceMetrics: rec.toMetrics(),
	}}, nil, nil
}
