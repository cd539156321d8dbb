package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/storage"
)

func TestPositionHistoryStore_InsertAndGetByToken(t *testing.T) {
	store := NewPositionHistoryStore()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	records := []*domain.PositionRecord{
		{ID: "p2", Token: "0xaaa", CloseReason: domain.CloseReasonStopLoss, OpenedAt: base.Add(time.Hour), ClosedAt: base.Add(3 * time.Hour)},
		{ID: "p1", Token: "0xaaa", CloseReason: domain.CloseReasonTakeProfit, PnLUSD: decimal.NewFromInt(400), OpenedAt: base, ClosedAt: base.Add(2 * time.Hour)},
	}
	for _, r := range records {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetByToken(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("GetByToken failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	if got[0].ID != "p1" || got[1].ID != "p2" {
		t.Errorf("Records not ordered by closed_at: %s, %s", got[0].ID, got[1].ID)
	}
	if !got[0].PnLUSD.Equal(decimal.NewFromInt(400)) {
		t.Errorf("PnL mismatch: got %s", got[0].PnLUSD)
	}
}

func TestPositionHistoryStore_DuplicateKey(t *testing.T) {
	store := NewPositionHistoryStore()
	ctx := context.Background()

	record := &domain.PositionRecord{ID: "p1", Token: "0xaaa", ClosedAt: time.Now()}
	if err := store.Insert(ctx, record); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, record)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestPositionHistoryStore_GetByTimeRange(t *testing.T) {
	store := NewPositionHistoryStore()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"p1", "p2", "p3"} {
		record := &domain.PositionRecord{ID: id, Token: "0xaaa", ClosedAt: base.Add(time.Duration(i) * 24 * time.Hour)}
		if err := store.Insert(ctx, record); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetByTimeRange(ctx, base.Add(12*time.Hour), base.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 records in range, got %d", len(got))
	}
}
