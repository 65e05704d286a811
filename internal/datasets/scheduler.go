package datasets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/merchbaseco/bidbeacon-sub001/internal/metrics"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

const (
	// DefaultScopeCapacity caps concurrent refreshes per
	// (account, country, aggregation, entity) scope.
	DefaultScopeCapacity = 5

	// DefaultAccountParallelism bounds how many accounts one sweep works
	// concurrently.
	DefaultAccountParallelism = 4
)

// AccountSource lists the ad accounts a sweep iterates.
type AccountSource interface {
	ListActive(ctx context.Context) ([]types.AdAccount, error)
}

// SweepStore is the slice of the dataset period repository the scheduler
// needs for selection and claiming.
type SweepStore interface {
	// CountRefreshing returns how many rows of the scope currently hold a
	// claim.
	CountRefreshing(ctx context.Context, accountID, countryCode string, agg types.Aggregation, entity types.EntityType) (int, error)

	// ListDueInFlight returns unclaimed due rows with an outstanding
	// export, newest period first.
	ListDueInFlight(ctx context.Context, accountID, countryCode string, agg types.Aggregation, entity types.EntityType, now time.Time) ([]*types.DatasetPeriod, error)

	// ListDueFresh returns unclaimed due rows without an outstanding
	// export, newest period first, at most limit of them.
	ListDueFresh(ctx context.Context, accountID, countryCode string, agg types.Aggregation, entity types.EntityType, now time.Time, limit int) ([]*types.DatasetPeriod, error)

	// Claim atomically marks the row refreshing and returns its state.
	// Fails with ErrCodeConflictClaimLost when already claimed.
	Claim(ctx context.Context, key types.DatasetKey) (*types.DatasetPeriod, error)
}

// Dispatcher hands claimed periods to the refresh workers.
type Dispatcher interface {
	Enqueue(ctx context.Context, job types.RefreshJob) error
}

// SweepResult summarizes one scheduler pass.
type SweepResult struct {
	Accounts   int `json:"accounts"`
	Inserted   int `json:"inserted"`
	Deleted    int `json:"deleted"`
	Claimed    int `json:"claimed"`
	Dispatched int `json:"dispatched"`
}

// Scheduler runs the periodic refresh sweep: reconcile each active account's
// period rows, select due work per scope, claim it, and dispatch one refresh
// job per claim.
//
// The scheduler never refreshes anything itself. Claiming here and executing
// in the worker keeps the sweep fast and makes a crashed worker's claim
// recoverable by the stuck-claim maintenance instead of blocking the scope.
type Scheduler struct {
	accounts    AccountSource
	store       SweepStore
	reconciler  *Reconciler
	dispatcher  Dispatcher
	metrics     metrics.RefreshMetrics
	capacity    int
	parallelism int
	clock       types.Clock
	logger      *slog.Logger
}

// SchedulerConfig wires a Scheduler. Metrics, Clock, and Logger may be nil;
// zero capacity and parallelism fall back to the package defaults.
type SchedulerConfig struct {
	Accounts              AccountSource
	Store                 SweepStore
	Reconciler            *Reconciler
	Dispatcher            Dispatcher
	Metrics               metrics.RefreshMetrics
	MaxConcurrentPerScope int
	AccountParallelism    int
	Clock                 types.Clock
	Logger                *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConcurrentPerScope <= 0 {
		cfg.MaxConcurrentPerScope = DefaultScopeCapacity
	}
	if cfg.AccountParallelism <= 0 {
		cfg.AccountParallelism = DefaultAccountParallelism
	}
	return &Scheduler{
		accounts:    cfg.Accounts,
		store:       cfg.Store,
		reconciler:  cfg.Reconciler,
		dispatcher:  cfg.Dispatcher,
		metrics:     cfg.Metrics,
		capacity:    cfg.MaxConcurrentPerScope,
		parallelism: cfg.AccountParallelism,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
}

// Sweep executes one scheduler pass over all active accounts. Accounts are
// swept concurrently and independently: one account's failure is logged and
// never blocks the others. The returned error covers only the account
// listing itself.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepResult, error) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active ad accounts: %w", err)
	}

	now := s.clock.Now()
	result := &SweepResult{Accounts: len(accounts)}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for _, account := range accounts {
		g.Go(func() error {
			acc := s.sweepAccount(gCtx, account, now)
			mu.Lock()
			result.Inserted += acc.inserted
			result.Deleted += acc.deleted
			result.Claimed += acc.claimed
			result.Dispatched += acc.dispatched
			mu.Unlock()
			// Account failures were logged in place; never abort the group.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	s.metrics.RecordSweepClaims(ctx, result.Claimed)
	s.logger.InfoContext(ctx, "refresh sweep complete",
		"accounts", result.Accounts,
		"inserted", result.Inserted,
		"deleted", result.Deleted,
		"claimed", result.Claimed,
		"dispatched", result.Dispatched,
	)

	return result, nil
}

type accountSweep struct {
	inserted   int
	deleted    int
	claimed    int
	dispatched int
}

func (s *Scheduler) sweepAccount(ctx context.Context, account types.AdAccount, now time.Time) accountSweep {
	var out accountSweep

	rec, err := s.reconciler.Reconcile(ctx, account, now)
	out.inserted = rec.Inserted
	out.deleted = rec.Deleted
	if err != nil {
		s.logger.ErrorContext(ctx, "period reconciliation failed",
			"account_id", account.AccountID,
			"country_code", account.CountryCode,
			"error", err,
		)
		// Selection still runs: rows that already exist can refresh even
		// when the backfill failed.
	}

	for _, agg := range types.AllAggregations {
		for _, entity := range types.AllEntityTypes {
			claimed, dispatched := s.sweepScope(ctx, account, agg, entity, now)
			out.claimed += claimed
			out.dispatched += dispatched
		}
	}

	return out
}

// sweepScope selects, claims, and dispatches the due work of one
// (account, country, aggregation, entity) scope.
//
// Due in-flight rows are polls of exports already requested upstream; they
// are always selected so a full scope can still drain. Only fresh work
// competes for the capacity left after running claims and in-flight polls.
func (s *Scheduler) sweepScope(ctx context.Context, account types.AdAccount, agg types.Aggregation, entity types.EntityType, now time.Time) (claimed, dispatched int) {
	logger := s.logger.With(
		"account_id", account.AccountID,
		"country_code", account.CountryCode,
		"aggregation", agg,
		"entity_type", entity,
	)

	refreshing, err := s.store.CountRefreshing(ctx, account.AccountID, account.CountryCode, agg, entity)
	if err != nil {
		logger.ErrorContext(ctx, "failed to count running refreshes", "error", err)
		return 0, 0
	}

	inFlight, err := s.store.ListDueInFlight(ctx, account.AccountID, account.CountryCode, agg, entity, now)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list due in-flight periods", "error", err)
		return 0, 0
	}

	budget := s.capacity - refreshing - len(inFlight)
	if budget < 0 {
		budget = 0
	}

	fresh, err := s.store.ListDueFresh(ctx, account.AccountID, account.CountryCode, agg, entity, now, budget)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list due fresh periods", "error", err)
		fresh = nil // in-flight polls still go out
	}

	for _, period := range append(inFlight, fresh...) {
		if ctx.Err() != nil {
			return claimed, dispatched
		}

		row, err := s.store.Claim(ctx, period.Key())
		if err != nil {
			if types.CodeOf(err) == types.ErrCodeConflictClaimLost {
				// Another sweep got there first.
				continue
			}
			logger.ErrorContext(ctx, "failed to claim dataset period",
				"period_start", period.PeriodStart,
				"error", err,
			)
			continue
		}
		claimed++

		job := types.RefreshJob{
			JobID:       uuid.NewString(),
			TraceID:     types.GetTraceID(ctx),
			AccountID:   account.AccountID,
			CountryCode: account.CountryCode,
			PeriodStart: row.PeriodStart,
			Aggregation: agg,
			EntityType:  entity,
			ClaimedAt:   s.clock.Now(),
		}
		if job.TraceID == "" {
			job.TraceID = uuid.NewString()
		}

		if err := s.dispatcher.Enqueue(ctx, job); err != nil {
			// The row stays claimed and the message is gone. The
			// stuck-claim sweep releases it after the threshold.
			logger.ErrorContext(ctx, "failed to dispatch refresh job",
				"period_start", row.PeriodStart,
				"job_id", job.JobID,
				"error", err,
			)
			continue
		}
		dispatched++
	}

	return claimed, dispatched
}
