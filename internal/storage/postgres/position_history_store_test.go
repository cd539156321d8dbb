package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/storage"
)

func createTestRecord(id, token string, closedAt time.Time) *domain.PositionRecord {
	return &domain.PositionRecord{
		ID:           id,
		Token:        token,
		Origin:       "0xae2fc483527b8ef99eb5d9b44875f005ba1fae13",
		EntryPrice:   decimal.NewFromFloat(0.0001),
		ExitPrice:    decimal.NewFromFloat(0.0005),
		Quantity:     decimal.NewFromInt(1_000_000),
		CommittedUSD: decimal.NewFromInt(100),
		FinalUSD:     decimal.NewFromInt(500),
		PnLUSD:       decimal.NewFromInt(400),
		CloseReason:  domain.CloseReasonTakeProfit,
		OpenedAt:     closedAt.Add(-2 * time.Hour),
		ClosedAt:     closedAt,
	}
}

func TestPositionHistoryStore_InsertAndGetByToken(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionHistoryStore(pool)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, createTestRecord("p2", "0xaaa", base.Add(time.Hour))))
	require.NoError(t, store.Insert(ctx, createTestRecord("p1", "0xaaa", base)))

	records, err := store.GetByToken(ctx, "0xaaa")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "p1", records[0].ID)
	assert.Equal(t, domain.CloseReasonTakeProfit, records[0].CloseReason)
	assert.True(t, records[0].PnLUSD.Equal(decimal.NewFromInt(400)),
		"pnl mismatch: %s", records[0].PnLUSD)
	assert.True(t, records[0].ClosedAt.Equal(base))
}

func TestPositionHistoryStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionHistoryStore(pool)

	record := createTestRecord("p1", "0xaaa", time.Now().UTC())
	require.NoError(t, store.Insert(ctx, record))

	err := store.Insert(ctx, record)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestPositionHistoryStore_GetByTimeRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionHistoryStore(pool)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, store.Insert(ctx, createTestRecord(id, "0xaaa", base.Add(time.Duration(i)*24*time.Hour))))
	}

	records, err := store.GetByTimeRange(ctx, base.Add(12*time.Hour), base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
