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

func createTestEntry(id, token string, ts time.Time) *domain.TradeLogEntry {
	return &domain.TradeLogEntry{
		ID:        id,
		Timestamp: ts,
		Action:    domain.TradeSideBuy,
		Token:     token,
		Account:   "0xae2fc483527b8ef99eb5d9b44875f005ba1fae13",
		AmountUSD: decimal.NewFromFloat(420.50),
		TxHash:    "0xswap",
		Status:    domain.OrderStatusConfirmed,
	}
}

func TestTradeLogStore_InsertAndGetByToken(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeLogStore(pool)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, createTestEntry("e2", "0xaaa", base.Add(time.Minute))))
	require.NoError(t, store.Insert(ctx, createTestEntry("e1", "0xaaa", base)))
	require.NoError(t, store.Insert(ctx, createTestEntry("e3", "0xbbb", base)))

	entries, err := store.GetByToken(ctx, "0xaaa")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "e1", entries[0].ID)
	assert.Equal(t, "e2", entries[1].ID)
	assert.Equal(t, domain.TradeSideBuy, entries[0].Action)
	assert.True(t, entries[0].AmountUSD.Equal(decimal.NewFromFloat(420.50)),
		"amount mismatch: %s", entries[0].AmountUSD)
	assert.True(t, entries[0].Timestamp.Equal(base))
}

func TestTradeLogStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeLogStore(pool)

	entry := createTestEntry("e1", "0xaaa", time.Now().UTC())
	require.NoError(t, store.Insert(ctx, entry))

	err := store.Insert(ctx, entry)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestTradeLogStore_GetByTimeRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeLogStore(pool)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, store.Insert(ctx, createTestEntry(id, "0xaaa", base.Add(time.Duration(i)*time.Hour))))
	}

	entries, err := store.GetByTimeRange(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "range bounds are inclusive")
}
