package datasets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/periods"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// Default retention windows, overridable via ReconcilerConfig.
const (
	DefaultHourlyRetentionDays  = 60
	DefaultDailyRetentionMonths = 24
)

// ReconcileStore is the slice of the dataset period repository the
// reconciler needs.
type ReconcileStore interface {
	// EnsureExists inserts the period row if absent, seeding it with the
	// given nextRefreshAt. Existing rows are left untouched. Returns true
	// when a row was inserted.
	EnsureExists(ctx context.Context, key types.DatasetKey, nextRefreshAt time.Time) (bool, error)

	// DeleteStale prunes rows of the scope whose period_start fell before
	// the cutoff, keeping completed ones for their data.
	DeleteStale(ctx context.Context, accountID, countryCode string, agg types.Aggregation, entity types.EntityType, cutoff time.Time) (int64, error)
}

// Reconciler aligns the stored dataset period rows of an account with its
// retention window: every bucket inside the window gets a row, buckets that
// aged out are pruned. Reconciliation is idempotent; rerunning it against an
// already aligned account changes nothing.
type Reconciler struct {
	store                ReconcileStore
	policy               periods.RefreshPolicy
	hourlyRetentionDays  int
	dailyRetentionMonths int
	logger               *slog.Logger
}

// ReconcilerConfig wires a Reconciler. Zero retention values fall back to the
// package defaults; a zero Policy falls back to periods.DefaultRefreshPolicy.
type ReconcilerConfig struct {
	Store                ReconcileStore
	Policy               periods.RefreshPolicy
	HourlyRetentionDays  int
	DailyRetentionMonths int
	Logger               *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy.PollInterval == 0 {
		cfg.Policy = periods.DefaultRefreshPolicy()
	}
	if cfg.HourlyRetentionDays <= 0 {
		cfg.HourlyRetentionDays = DefaultHourlyRetentionDays
	}
	if cfg.DailyRetentionMonths <= 0 {
		cfg.DailyRetentionMonths = DefaultDailyRetentionMonths
	}
	return &Reconciler{
		store:                cfg.Store,
		policy:               cfg.Policy,
		hourlyRetentionDays:  cfg.HourlyRetentionDays,
		dailyRetentionMonths: cfg.DailyRetentionMonths,
		logger:               cfg.Logger,
	}
}

// Reconcile backfills missing period rows and prunes aged-out ones for every
// (aggregation, entity type) scope of one account. Buckets are enumerated in
// the account's marketplace timezone, so hour rows track local clock hours
// and day rows local calendar days.
//
// New rows are seeded with the cadence the eligibility policy assigns a
// never-requested period, which keeps just-closed buckets out of the sweep
// until their initial delay has passed.
//
// Returns what changed. On error the counts cover the work done before the
// failure; the next pass picks up the rest.
func (r *Reconciler) Reconcile(ctx context.Context, account types.AdAccount, now time.Time) (types.ReconcileResult, error) {
	loc := periods.Location(account.CountryCode)

	var result types.ReconcileResult
	for _, agg := range types.AllAggregations {
		retention := r.retention(agg)

		for _, entity := range types.AllEntityTypes {
			for _, start := range periods.EnumeratePeriods(now, loc, agg, retention) {
				key := types.DatasetKey{
					AccountID:   account.AccountID,
					CountryCode: account.CountryCode,
					PeriodStart: start,
					Aggregation: agg,
					EntityType:  entity,
				}
				nextAt := r.policy.NextRefreshAt(periods.EligibilityInput{
					PeriodStart: start,
					Aggregation: agg,
					CountryCode: account.CountryCode,
				}, now)

				inserted, err := r.store.EnsureExists(ctx, key, nextAt)
				if err != nil {
					return result, fmt.Errorf("ensuring %s/%s period %s: %w",
						agg, entity, start.Format(time.RFC3339), err)
				}
				if inserted {
					result.Inserted++
				}
			}

			cutoff := periods.RetentionCutoff(now, loc, agg, retention)
			deleted, err := r.store.DeleteStale(ctx, account.AccountID, account.CountryCode, agg, entity, cutoff)
			if err != nil {
				return result, fmt.Errorf("pruning stale %s/%s periods: %w", agg, entity, err)
			}
			result.Deleted += int(deleted)
		}
	}

	if result.Inserted > 0 || result.Deleted > 0 {
		r.logger.InfoContext(ctx, "dataset periods reconciled",
			"account_id", account.AccountID,
			"country_code", account.CountryCode,
			"inserted", result.Inserted,
			"deleted", result.Deleted,
		)
	}

	return result, nil
}

func (r *Reconciler) retention(agg types.Aggregation) int {
	if agg == types.AggregationDaily {
		return r.dailyRetentionMonths
	}
	return r.hourlyRetentionDays
}
