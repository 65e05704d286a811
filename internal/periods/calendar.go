// Package periods implements the dataset period calendar and the refresh
// cadence policy for the BidBeacon platform.
//
// Period starts are UTC instants aligned to the marketplace's local
// top-of-hour or local midnight. All alignment goes through time.Date in the
// marketplace location so DST transitions resolve to real wall-clock buckets
// rather than naive UTC arithmetic.
package periods

import (
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// EnumeratePeriods computes the expected period starts for a dataset scope,
// most recent first. The current, still-open bucket is included; eligibility
// keeps it dormant until the source plausibly has data for it.
//
// retention is expressed in days for hourly aggregation and in months for
// daily aggregation. The daily window is resolved by calendar-month
// subtraction (AddDate(0, -retention, 0) from the current local midnight),
// with Go's date normalization on short months.
//
// The sequence is deterministic and idempotent: two calls with the same now
// truncated to the aggregation's resolution yield the same set.
func EnumeratePeriods(now time.Time, loc *time.Location, agg types.Aggregation, retention int) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	switch agg {
	case types.AggregationDaily:
		return enumerateDaily(now, loc, retention)
	default:
		return enumerateHourly(now, loc, retention)
	}
}

// enumerateHourly walks back from the current local top-of-hour to the hour
// aligned retentionDays calendar days earlier. Iteration subtracts absolute
// hours, so a DST fall-back day contributes 25 buckets and a spring-forward
// day 23, matching the hours that actually occurred.
func enumerateHourly(now time.Time, loc *time.Location, retentionDays int) []time.Time {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	cutoff := start.AddDate(0, 0, -retentionDays)

	out := make([]time.Time, 0, retentionDays*24+1)
	for t := start; !t.Before(cutoff); t = t.Add(-time.Hour) {
		out = append(out, t.UTC())
	}
	return out
}

// enumerateDaily walks back local midnights from today to the midnight
// retentionMonths calendar months earlier. AddDate re-normalizes through
// time.Date, so midnights stay aligned across DST days of 23 or 25 hours.
func enumerateDaily(now time.Time, loc *time.Location, retentionMonths int) []time.Time {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	cutoff := start.AddDate(0, -retentionMonths, 0)

	out := make([]time.Time, 0, retentionMonths*31+1)
	for t := start; !t.Before(cutoff); t = t.AddDate(0, 0, -1) {
		out = append(out, t.UTC())
	}
	return out
}

// RetentionCutoff returns the oldest period start the calendar still expects
// for the given scope. Rows older than this are deletion candidates for the
// backfill reconciler unless their status is completed.
func RetentionCutoff(now time.Time, loc *time.Location, agg types.Aggregation, retention int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	switch agg {
	case types.AggregationDaily:
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return start.AddDate(0, -retention, 0).UTC()
	default:
		start := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
		return start.AddDate(0, 0, -retention).UTC()
	}
}

// PeriodEnd returns the instant the bucket closes: one absolute hour after an
// hourly period start, or the next local midnight after a daily one.
func PeriodEnd(periodStart time.Time, agg types.Aggregation, loc *time.Location) time.Time {
	if agg == types.AggregationDaily {
		if loc == nil {
			loc = time.UTC
		}
		local := periodStart.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
		return next.UTC()
	}
	return periodStart.Add(time.Hour).UTC()
}
