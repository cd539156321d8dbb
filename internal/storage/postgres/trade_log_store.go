package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/storage"
)

// TradeLogStore implements storage.TradeLogStore using PostgreSQL.
type TradeLogStore struct {
	pool *Pool
}

// NewTradeLogStore creates a new TradeLogStore.
func NewTradeLogStore(pool *Pool) *TradeLogStore {
	return &TradeLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeLogStore = (*TradeLogStore)(nil)

const tradeLogColumns = `
	entry_id, ts, action, token, account,
	amount_usd, tx_hash, status, reason
`

// Insert adds a new entry. Returns ErrDuplicateKey if entry_id exists.
func (s *TradeLogStore) Insert(ctx context.Context, e *domain.TradeLogEntry) error {
	query := `
		INSERT INTO trade_log (` + tradeLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Timestamp, e.Action, e.Token, e.Account,
		e.AmountUSD, e.TxHash, e.Status, e.Reason,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade log entry: %w", err)
	}
	return nil
}

// GetByToken retrieves all entries for a token, ordered by timestamp ASC.
func (s *TradeLogStore) GetByToken(ctx context.Context, token string) ([]*domain.TradeLogEntry, error) {
	query := `
		SELECT ` + tradeLogColumns + `
		FROM trade_log
		WHERE token = $1
		ORDER BY ts ASC, entry_id ASC
	`

	rows, err := s.pool.Query(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("get trade log by token: %w", err)
	}
	defer rows.Close()

	return scanTradeLogEntries(rows)
}

// GetByTimeRange retrieves entries within [start, end] (inclusive).
func (s *TradeLogStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.TradeLogEntry, error) {
	query := `
		SELECT ` + tradeLogColumns + `
		FROM trade_log
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts ASC, entry_id ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get trade log by time range: %w", err)
	}
	defer rows.Close()

	return scanTradeLogEntries(rows)
}

// scanTradeLogEntries scans multiple rows into a slice of TradeLogEntry.
func scanTradeLogEntries(rows pgx.Rows) ([]*domain.TradeLogEntry, error) {
	var entries []*domain.TradeLogEntry

	for rows.Next() {
		var e domain.TradeLogEntry
		err := rows.Scan(
			&e.ID, &e.Timestamp, &e.Action, &e.Token, &e.Account,
			&e.AmountUSD, &e.TxHash, &e.Status, &e.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade log row: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade log rows: %w", err)
	}
	return entries, nil
}
