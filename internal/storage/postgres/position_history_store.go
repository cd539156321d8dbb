package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/storage"
)

// PositionHistoryStore implements storage.PositionHistoryStore using
// PostgreSQL.
type PositionHistoryStore struct {
	pool *Pool
}

// NewPositionHistoryStore creates a new PositionHistoryStore.
func NewPositionHistoryStore(pool *Pool) *PositionHistoryStore {
	return &PositionHistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionHistoryStore = (*PositionHistoryStore)(nil)

const positionHistoryColumns = `
	record_id, token, origin, entry_price, exit_price,
	quantity, committed_usd, final_usd, pnl_usd,
	close_reason, opened_at, closed_at
`

// Insert adds a new record. Returns ErrDuplicateKey if record_id exists.
func (s *PositionHistoryStore) Insert(ctx context.Context, r *domain.PositionRecord) error {
	query := `
		INSERT INTO position_history (` + positionHistoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Token, r.Origin, r.EntryPrice, r.ExitPrice,
		r.Quantity, r.CommittedUSD, r.FinalUSD, r.PnLUSD,
		r.CloseReason, r.OpenedAt, r.ClosedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position record: %w", err)
	}
	return nil
}

// GetByToken retrieves all records for a token, ordered by closed_at ASC.
func (s *PositionHistoryStore) GetByToken(ctx context.Context, token string) ([]*domain.PositionRecord, error) {
	query := `
		SELECT ` + positionHistoryColumns + `
		FROM position_history
		WHERE token = $1
		ORDER BY closed_at ASC, record_id ASC
	`

	rows, err := s.pool.Query(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("get position history by token: %w", err)
	}
	defer rows.Close()

	return scanPositionRecords(rows)
}

// GetByTimeRange retrieves records closed within [start, end] (inclusive).
func (s *PositionHistoryStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.PositionRecord, error) {
	query := `
		SELECT ` + positionHistoryColumns + `
		FROM position_history
		WHERE closed_at >= $1 AND closed_at <= $2
		ORDER BY closed_at ASC, record_id ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get position history by time range: %w", err)
	}
	defer rows.Close()

	return scanPositionRecords(rows)
}

// scanPositionRecords scans multiple rows into a slice of PositionRecord.
func scanPositionRecords(rows pgx.Rows) ([]*domain.PositionRecord, error) {
	var records []*domain.PositionRecord

	for rows.Next() {
		var r domain.PositionRecord
		err := rows.Scan(
			&r.ID, &r.Token, &r.Origin, &r.EntryPrice, &r.ExitPrice,
			&r.Quantity, &r.CommittedUSD, &r.FinalUSD, &r.PnLUSD,
			&r.CloseReason, &r.OpenedAt, &r.ClosedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position record row: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position record rows: %w", err)
	}
	return records, nil
}
