package storage

import (
	"context"
	"time"

	"mempool-mirror/internal/domain"
)

// TradeLogStore provides access to the append-only trade log. One row
// is written per terminal venue order.
type TradeLogStore interface {
	// Insert adds a new entry. Returns ErrDuplicateKey if entry_id exists.
	Insert(ctx context.Context, e *domain.TradeLogEntry) error

	// GetByToken retrieves all entries for a token, ordered by timestamp ASC.
	GetByToken(ctx context.Context, token string) ([]*domain.TradeLogEntry, error)

	// GetByTimeRange retrieves entries within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.TradeLogEntry, error)
}

// PositionHistoryStore provides access to closed-position history.
type PositionHistoryStore interface {
	// Insert adds a new record. Returns ErrDuplicateKey if record_id exists.
	Insert(ctx context.Context, r *domain.PositionRecord) error

	// GetByToken retrieves all records for a token, ordered by closed_at ASC.
	GetByToken(ctx context.Context, token string) ([]*domain.PositionRecord, error)

	// GetByTimeRange retrieves records closed within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.PositionRecord, error)
}
