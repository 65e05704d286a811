package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// AdAccountRepository provides read access to the ad_accounts table: the
// advertising accounts whose datasets this platform maintains. Account
// onboarding is owned by another service; this repository only consumes.
type AdAccountRepository struct {
	db DBTX
}

// NewAdAccountRepository creates a new AdAccountRepository backed by the
// given database connection (pool or transaction).
func NewAdAccountRepository(db DBTX) *AdAccountRepository {
	return &AdAccountRepository{db: db}
}

// ListActive returns all active accounts in stable (account_id, country_code)
// order. The refresh sweep iterates this list.
func (r *AdAccountRepository) ListActive(ctx context.Context) ([]types.AdAccount, error) {
	rows, err := r.db.Query(ctx,
		`SELECT account_id, country_code, profile_id, active, created_at
		 FROM ad_accounts
		 WHERE active = true
		 ORDER BY account_id, country_code`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query active accounts", err)
	}
	defer rows.Close()

	var accounts []types.AdAccount
	for rows.Next() {
		var a types.AdAccount
		if err := rows.Scan(&a.AccountID, &a.CountryCode, &a.ProfileID, &a.Active, &a.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan account", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating accounts", err)
	}

	return accounts, nil
}

// Get returns one account by its (account_id, country_code) identity. The
// worker resolves the profile handle for API calls through this lookup.
func (r *AdAccountRepository) Get(ctx context.Context, accountID, countryCode string) (*types.AdAccount, error) {
	var a types.AdAccount
	err := r.db.QueryRow(ctx,
		`SELECT account_id, country_code, profile_id, active, created_at
		 FROM ad_accounts
		 WHERE account_id = $1 AND country_code = $2`,
		accountID, countryCode,
	).Scan(&a.AccountID, &a.CountryCode, &a.ProfileID, &a.Active, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get account", err)
	}
	return &a, nil
}
