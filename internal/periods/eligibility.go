package periods

import (
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// CadenceTier maps a period's age (time since the bucket closed) to the
// interval before the next refresh. Tiers are evaluated in order; the first
// tier whose MaxAge covers the age wins.
type CadenceTier struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// RefreshPolicy holds the cadence knobs for eligibility computation. The
// numbers are tuning configuration, not correctness logic: tests assert the
// shape of the policy (recent periods refresh more often than old ones,
// outstanding reports poll faster than idle rows), never exact values.
type RefreshPolicy struct {
	// PollInterval is the re-check delay while an export is outstanding.
	PollInterval time.Duration

	// RetryDelay is the fixed reschedule delay after any pipeline error.
	RetryDelay time.Duration

	// ExportTimeout bounds how long an export may stay PROCESSING, counted
	// from last_report_created_at, before it is failed as timed out.
	ExportTimeout time.Duration

	// InitialDelayHourly / InitialDelayDaily model the source's data latency:
	// a never-requested bucket becomes due this long after it closes.
	InitialDelayHourly time.Duration
	InitialDelayDaily  time.Duration

	// HourlyTiers / DailyTiers are the age ladders for previously requested
	// periods. Intervals must be non-decreasing with age.
	HourlyTiers []CadenceTier
	DailyTiers  []CadenceTier

	// SettledBackoff reschedules periods older than the last tier. Settled
	// periods effectively stop refreshing but keep a future next_refresh_at
	// so every row stays addressable by the scheduler.
	SettledBackoff time.Duration
}

// DefaultRefreshPolicy returns the production cadence ladder.
func DefaultRefreshPolicy() RefreshPolicy {
	return RefreshPolicy{
		PollInterval:       2 * time.Minute,
		RetryDelay:         10 * time.Minute,
		ExportTimeout:      30 * time.Minute,
		InitialDelayHourly: 30 * time.Minute,
		InitialDelayDaily:  6 * time.Hour,
		HourlyTiers: []CadenceTier{
			{MaxAge: 6 * time.Hour, Interval: 30 * time.Minute},
			{MaxAge: 24 * time.Hour, Interval: time.Hour},
			{MaxAge: 3 * 24 * time.Hour, Interval: 6 * time.Hour},
			{MaxAge: 7 * 24 * time.Hour, Interval: 24 * time.Hour},
			{MaxAge: 30 * 24 * time.Hour, Interval: 3 * 24 * time.Hour},
		},
		DailyTiers: []CadenceTier{
			{MaxAge: 2 * 24 * time.Hour, Interval: 6 * time.Hour},
			{MaxAge: 7 * 24 * time.Hour, Interval: 12 * time.Hour},
			{MaxAge: 14 * 24 * time.Hour, Interval: 24 * time.Hour},
			{MaxAge: 35 * 24 * time.Hour, Interval: 3 * 24 * time.Hour},
			{MaxAge: 65 * 24 * time.Hour, Interval: 7 * 24 * time.Hour},
		},
		SettledBackoff: 365 * 24 * time.Hour,
	}
}

// EligibilityInput is the dataset state the cadence decision depends on.
type EligibilityInput struct {
	PeriodStart         time.Time
	Aggregation         types.Aggregation
	CountryCode         string
	ReportID            *string
	LastReportCreatedAt *time.Time
}

// NextRefreshAt computes the instant after which the dataset becomes eligible
// for another scheduling pass. The function is pure and total: unknown
// country codes resolve to UTC and no input combination fails.
//
// Decision order:
//  1. an outstanding report polls again after PollInterval;
//  2. a never-requested bucket becomes due once the source plausibly has its
//     data (period end plus the aggregation's initial delay, floored at now
//     so old backfilled buckets are due immediately);
//  3. a previously requested bucket follows the age ladder, ending in the
//     settled backoff once it outgrows the last tier.
func (p RefreshPolicy) NextRefreshAt(in EligibilityInput, now time.Time) time.Time {
	now = now.UTC()

	if in.ReportID != nil && *in.ReportID != "" {
		return now.Add(p.PollInterval)
	}

	loc := Location(in.CountryCode)
	end := PeriodEnd(in.PeriodStart, in.Aggregation, loc)

	if in.LastReportCreatedAt == nil {
		due := end.Add(p.initialDelay(in.Aggregation))
		if due.Before(now) {
			return now
		}
		return due
	}

	age := now.Sub(end)
	if age < 0 {
		age = 0
	}
	interval, settled := p.tierInterval(in.Aggregation, age)
	if settled {
		return now.Add(p.SettledBackoff)
	}
	return now.Add(interval)
}

func (p RefreshPolicy) initialDelay(agg types.Aggregation) time.Duration {
	if agg == types.AggregationDaily {
		return p.InitialDelayDaily
	}
	return p.InitialDelayHourly
}

// tierInterval resolves the refresh interval for a period of the given age.
// The second return value reports that the age is past every tier.
func (p RefreshPolicy) tierInterval(agg types.Aggregation, age time.Duration) (time.Duration, bool) {
	tiers := p.HourlyTiers
	if agg == types.AggregationDaily {
		tiers = p.DailyTiers
	}
	for _, tier := range tiers {
		if age <= tier.MaxAge {
			return tier.Interval, false
		}
	}
	return 0, true
}
