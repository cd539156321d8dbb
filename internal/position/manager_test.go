package position

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/storage/memory"
)

type fakeValuer struct {
	mu     sync.Mutex
	values map[string]decimal.Decimal
}

func (f *fakeValuer) TokenValueUSD(_ context.Context, token string, _ *big.Int) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[token]
	if !ok {
		return decimal.Zero, errors.New("no price")
	}
	return v, nil
}

func (f *fakeValuer) set(token string, v decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = make(map[string]decimal.Decimal)
	}
	f.values[token] = v
}

type fakeBroker struct {
	mu     sync.Mutex
	calls  []string // tokens in close order
	fail   bool
	status string
}

func (f *fakeBroker) Close(_ context.Context, pos *domain.Position) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pos.Token)
	if f.fail {
		return nil, errors.New("venue down")
	}
	status := f.status
	if status == "" {
		status = domain.OrderStatusConfirmed
	}
	return &domain.Order{
		ID:     "order-" + pos.Token,
		Side:   domain.TradeSideSell,
		Token:  pos.Token,
		TxHash: "0xclose",
		Status: status,
	}, nil
}

func (f *fakeBroker) closeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testManagerConfig() Config {
	return Config{
		TakeProfitMultiplier: 5.0,
		StopLossMultiplier:   0.2,
		MaxHold:              24 * time.Hour,
		TickInterval:         time.Second,
		CapitalUSD:           1000.0,
		MaxCapitalFraction:   0.30,
	}
}

func newTestManager(valuer Valuer, broker Broker) *Manager {
	return NewManager(testManagerConfig(), valuer, broker,
		memory.NewPositionHistoryStore(), memory.NewTradeLogStore(), nil, nil, nil)
}

func open(t *testing.T, m *Manager, token string, sizeUSD int64) {
	t.Helper()
	if err := m.Reserve(token, decimal.NewFromInt(sizeUSD)); err != nil {
		t.Fatalf("Reserve %s failed: %v", token, err)
	}
	err := m.Confirm(context.Background(), &domain.Position{
		Token:      token,
		EntryPrice: decimal.NewFromFloat(0.001),
		EntryTime:  time.Now(),
		Quantity:   decimal.NewFromInt(100_000),
		Origin:     "0xtracked",
		OpenTxHash: "0xbuy-" + token,
	})
	if err != nil {
		t.Fatalf("Confirm %s failed: %v", token, err)
	}
}

func TestManager_ReserveConfirmCancel(t *testing.T) {
	m := newTestManager(&fakeValuer{}, &fakeBroker{})

	if err := m.Reserve("0xaaa", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !m.Committed().Equal(decimal.NewFromInt(100)) {
		t.Errorf("reservation must count as committed, got %s", m.Committed())
	}

	// A second reservation for the same token must fail.
	if err := m.Reserve("0xaaa", decimal.NewFromInt(50)); !errors.Is(err, ErrPositionExists) {
		t.Errorf("expected ErrPositionExists, got %v", err)
	}

	m.Cancel("0xaaa")
	if !m.Committed().IsZero() {
		t.Errorf("cancel must release capital, got %s", m.Committed())
	}
}

func TestManager_CapitalLimit(t *testing.T) {
	m := newTestManager(&fakeValuer{}, &fakeBroker{})

	// Limit is 1000 × 0.30 = $300.
	if err := m.Reserve("0xaaa", decimal.NewFromInt(200)); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := m.Reserve("0xbbb", decimal.NewFromInt(150)); !errors.Is(err, ErrCapitalExhausted) {
		t.Errorf("expected ErrCapitalExhausted, got %v", err)
	}
	if err := m.Reserve("0xbbb", decimal.NewFromInt(100)); err != nil {
		t.Errorf("reservation within the limit must succeed: %v", err)
	}
}

func TestManager_TakeProfitCloses(t *testing.T) {
	valuer := &fakeValuer{}
	broker := &fakeBroker{}
	m := newTestManager(valuer, broker)

	open(t, m, "0xaaa", 100)
	valuer.set("0xaaa", decimal.NewFromInt(500)) // exactly 5x

	m.Revalue(context.Background())

	if m.Has("0xaaa") {
		t.Error("position must be closed after take-profit")
	}
	if !m.Committed().IsZero() {
		t.Errorf("capital must be released, got %s", m.Committed())
	}
	if calls := broker.closeCalls(); len(calls) != 1 || calls[0] != "0xaaa" {
		t.Errorf("expected one close call, got %v", calls)
	}

	records, err := m.history.GetByToken(context.Background(), "0xaaa")
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one history record, got %v (%v)", records, err)
	}
	if records[0].CloseReason != domain.CloseReasonTakeProfit {
		t.Errorf("expected TAKE_PROFIT, got %s", records[0].CloseReason)
	}
	if !records[0].PnLUSD.Equal(decimal.NewFromInt(400)) {
		t.Errorf("expected pnl 400, got %s", records[0].PnLUSD)
	}
}

func TestManager_StopLossCloses(t *testing.T) {
	valuer := &fakeValuer{}
	broker := &fakeBroker{}
	m := newTestManager(valuer, broker)

	open(t, m, "0xaaa", 100)
	valuer.set("0xaaa", decimal.NewFromInt(15)) // below 0.2x

	m.Revalue(context.Background())

	records, _ := m.history.GetByToken(context.Background(), "0xaaa")
	if len(records) != 1 || records[0].CloseReason != domain.CloseReasonStopLoss {
		t.Fatalf("expected one STOP_LOSS record, got %v", records)
	}
}

func TestManager_ExitPriority(t *testing.T) {
	valuer := &fakeValuer{}
	broker := &fakeBroker{}
	cfg := testManagerConfig()
	cfg.MaxHold = time.Nanosecond // every position is instantly over-age
	m := NewManager(cfg, valuer, broker, memory.NewPositionHistoryStore(), memory.NewTradeLogStore(), nil, nil, nil)

	open(t, m, "0xaaa", 100)
	valuer.set("0xaaa", decimal.NewFromInt(500)) // satisfies take-profit too

	time.Sleep(time.Millisecond)
	m.Revalue(context.Background())

	records, _ := m.history.GetByToken(context.Background(), "0xaaa")
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0].CloseReason != domain.CloseReasonTakeProfit {
		t.Errorf("take-profit must win over max-hold, got %s", records[0].CloseReason)
	}
}

func TestManager_MaxHoldCloses(t *testing.T) {
	valuer := &fakeValuer{}
	broker := &fakeBroker{}
	cfg := testManagerConfig()
	cfg.MaxHold = time.Nanosecond
	m := NewManager(cfg, valuer, broker, memory.NewPositionHistoryStore(), memory.NewTradeLogStore(), nil, nil, nil)

	open(t, m, "0xaaa", 100)
	valuer.set("0xaaa", decimal.NewFromInt(100)) // flat: neither TP nor SL

	time.Sleep(time.Millisecond)
	m.Revalue(context.Background())

	records, _ := m.history.GetByToken(context.Background(), "0xaaa")
	if len(records) != 1 || records[0].CloseReason != domain.CloseReasonMaxHold {
		t.Fatalf("expected one MAX_HOLD record, got %v", records)
	}
}

func TestManager_FailedCloseRetriesWithSameReason(t *testing.T) {
	valuer := &fakeValuer{}
	broker := &fakeBroker{fail: true}
	m := newTestManager(valuer, broker)

	open(t, m, "0xaaa", 100)
	valuer.set("0xaaa", decimal.NewFromInt(500))

	m.Revalue(context.Background())
	if !m.Has("0xaaa") {
		t.Fatal("failed close must leave the position live")
	}
	if !m.Committed().Equal(decimal.NewFromInt(100)) {
		t.Errorf("capital stays committed while CLOSING, got %s", m.Committed())
	}

	// Price collapses while CLOSING; the recorded reason must still be
	// the one that triggered the close.
	valuer.set("0xaaa", decimal.NewFromInt(1))
	broker.mu.Lock()
	broker.fail = false
	broker.mu.Unlock()

	m.Revalue(context.Background())

	if m.Has("0xaaa") {
		t.Error("retry must close the position")
	}
	if len(broker.closeCalls()) != 2 {
		t.Errorf("expected 2 close attempts, got %d", len(broker.closeCalls()))
	}
	records, _ := m.history.GetByToken(context.Background(), "0xaaa")
	if len(records) != 1 || records[0].CloseReason != domain.CloseReasonTakeProfit {
		t.Fatalf("expected the original TAKE_PROFIT reason, got %v", records)
	}
}

func TestManager_CloseAll(t *testing.T) {
	valuer := &fakeValuer{}
	broker := &fakeBroker{}
	m := newTestManager(valuer, broker)

	open(t, m, "0xaaa", 100)
	open(t, m, "0xbbb", 100)
	valuer.set("0xaaa", decimal.NewFromInt(100))
	valuer.set("0xbbb", decimal.NewFromInt(100))

	m.CloseAll(context.Background(), domain.CloseReasonEmergencyStop)

	if m.Has("0xaaa") || m.Has("0xbbb") {
		t.Error("all positions must be closed")
	}
	for _, token := range []string{"0xaaa", "0xbbb"} {
		records, _ := m.history.GetByToken(context.Background(), token)
		if len(records) != 1 || records[0].CloseReason != domain.CloseReasonEmergencyStop {
			t.Errorf("expected EMERGENCY_STOP record for %s, got %v", token, records)
		}
	}
}

// Randomized sequence of reserve/cancel/confirm/close events: the
// committed-capital invariant must hold at every step.
func TestManager_CapitalInvariantRandomized(t *testing.T) {
	valuer := &fakeValuer{}
	broker := &fakeBroker{}
	m := newTestManager(valuer, broker)
	rng := rand.New(rand.NewSource(42))
	limit := decimal.NewFromInt(300)

	tokens := []string{"0x1", "0x2", "0x3", "0x4", "0x5", "0x6"}
	for step := 0; step < 500; step++ {
		token := tokens[rng.Intn(len(tokens))]
		size := decimal.NewFromInt(int64(10 + rng.Intn(120)))

		switch rng.Intn(4) {
		case 0:
			if err := m.Reserve(token, size); err == nil {
				if rng.Intn(2) == 0 {
					m.Cancel(token)
				} else {
					err := m.Confirm(context.Background(), &domain.Position{
						Token:     token,
						EntryTime: time.Now(),
						Quantity:  decimal.NewFromInt(1000),
					})
					if err != nil {
						t.Fatalf("Confirm after Reserve failed: %v", err)
					}
				}
			}
		case 1:
			m.Cancel(token)
		case 2:
			valuer.set(token, decimal.NewFromInt(int64(rng.Intn(1000))))
		case 3:
			m.Revalue(context.Background())
		}

		if m.Committed().GreaterThan(limit) {
			t.Fatalf("step %d: committed %s exceeds limit %s", step, m.Committed(), limit)
		}
		if m.Committed().IsNegative() {
			t.Fatalf("step %d: committed went negative: %s", step, m.Committed())
		}
	}
}
