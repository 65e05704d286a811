package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// ParseFailureRepository provides append-only storage for payload records
// that decoded but could not be transformed into performance rows. The side
// channel keeps a single malformed record from failing the whole export while
// preserving the evidence for debugging.
type ParseFailureRepository struct {
	db DBTX
}

// NewParseFailureRepository creates a new ParseFailureRepository backed by
// the given database connection (pool or transaction).
func NewParseFailureRepository(db DBTX) *ParseFailureRepository {
	return &ParseFailureRepository{db: db}
}

// InsertBatch stores diverted records in a single multi-row INSERT.
// A nil or empty slice is a no-op.
func (r *ParseFailureRepository) InsertBatch(ctx context.Context, failures []types.ParseFailure) error {
	if len(failures) == 0 {
		return nil
	}

	const colCount = 10
	var sb strings.Builder
	sb.WriteString(`INSERT INTO dataset_parse_failures (
		account_id, country_code, aggregation, entity_type, period_start,
		report_id, record_index, reason, raw, created_at
	) VALUES `)

	args := make([]any, 0, len(failures)*colCount)
	for i := range failures {
		f := &failures[i]
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * colCount
		sb.WriteString("(")
		for j := 0; j < colCount; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			if j == colCount-1 { // created_at
				fmt.Fprintf(&sb, "COALESCE($%d, NOW())", base+j+1)
			} else {
				fmt.Fprintf(&sb, "$%d", base+j+1)
			}
		}
		sb.WriteString(")")

		args = append(args,
			f.AccountID,
			f.CountryCode,
			f.Aggregation,
			f.EntityType,
			f.PeriodStart,
			f.ReportID,
			f.RecordIndex,
			f.Reason,
			f.Raw,
			nilIfZeroTime(f.CreatedAt),
		)
	}

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert parse failures", err)
	}
	return nil
}

// Purge deletes parse failures recorded before the cutoff and returns the
// number of rows removed.
func (r *ParseFailureRepository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM dataset_parse_failures WHERE created_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge parse failures", err)
	}
	return tag.RowsAffected(), nil
}
