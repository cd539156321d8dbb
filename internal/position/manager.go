// Package position owns the per-asset position lifecycle and the
// capital accounting invariant.
package position

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/notify"
	"mempool-mirror/internal/observability"
	"mempool-mirror/internal/storage"
)

// ErrPositionExists is returned by Reserve when the token already has a
// live position or reservation.
var ErrPositionExists = errors.New("position already exists for token")

// ErrCapitalExhausted is returned by Reserve when committing the size
// would exceed the configured capital fraction.
var ErrCapitalExhausted = errors.New("committed capital limit reached")

// Valuer prices a token holding in USD.
type Valuer interface {
	TokenValueUSD(ctx context.Context, token string, amount *big.Int) (decimal.Decimal, error)
}

// Broker sells a position back to the quote asset and confirms the
// order. Implementations route through the risk gate and the execution
// client.
type Broker interface {
	Close(ctx context.Context, pos *domain.Position) (*domain.Order, error)
}

// Config holds exit rules and capital limits.
type Config struct {
	TakeProfitMultiplier float64
	StopLossMultiplier   float64
	MaxHold              time.Duration
	TickInterval         time.Duration
	CapitalUSD           float64
	MaxCapitalFraction   float64
}

// Manager enforces the position invariants: at most one live position per
// token, and committed capital across OPEN and CLOSING positions never
// above the configured fraction of total capital. All capital mutations
// happen inside one mutex and never across a blocking call.
type Manager struct {
	cfg      Config
	valuer   Valuer
	broker   Broker
	history  storage.PositionHistoryStore
	tradeLog storage.TradeLogStore
	notifier notify.Notifier
	logger   *log.Logger
	metrics  *observability.Metrics

	maxCommitted decimal.Decimal

	mu           sync.Mutex
	positions    map[string]*domain.Position
	reserved     map[string]decimal.Decimal // pre-confirmation holds
	closeReasons map[string]string          // pending close reason per token
	committed    decimal.Decimal
}

func NewManager(cfg Config, valuer Valuer, broker Broker, history storage.PositionHistoryStore,
	tradeLog storage.TradeLogStore, notifier notify.Notifier, logger *log.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Manager{
		cfg:          cfg,
		valuer:       valuer,
		broker:       broker,
		history:      history,
		tradeLog:     tradeLog,
		notifier:     notifier,
		logger:       logger,
		metrics:      metrics,
		maxCommitted: decimal.NewFromFloat(cfg.CapitalUSD).Mul(decimal.NewFromFloat(cfg.MaxCapitalFraction)),
		positions:    make(map[string]*domain.Position),
		reserved:     make(map[string]decimal.Decimal),
		closeReasons: make(map[string]string),
	}
}

// Reserve holds sizeUSD of capital for a prospective position. The hold
// counts against the committed-capital limit immediately, so a burst of
// concurrent mirrors cannot overshoot it. Callers must Confirm or
// Cancel every successful reservation.
func (m *Manager) Reserve(token string, sizeUSD decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.positions[token]; exists {
		return fmt.Errorf("%w: %s", ErrPositionExists, token)
	}
	if _, exists := m.reserved[token]; exists {
		return fmt.Errorf("%w: %s", ErrPositionExists, token)
	}
	if m.committed.Add(sizeUSD).GreaterThan(m.maxCommitted) {
		return fmt.Errorf("%w: committed $%s + $%s > limit $%s",
			ErrCapitalExhausted, m.committed, sizeUSD, m.maxCommitted)
	}

	m.reserved[token] = sizeUSD
	m.committed = m.committed.Add(sizeUSD)
	m.gauges()
	return nil
}

// Cancel releases a reservation after a failed or rejected buy.
func (m *Manager) Cancel(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size, ok := m.reserved[token]
	if !ok {
		return
	}
	delete(m.reserved, token)
	m.committed = m.committed.Sub(size)
	m.gauges()
}

// Confirm converts a reservation into an OPEN position after the buy
// confirmed on chain.
func (m *Manager) Confirm(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	size, ok := m.reserved[pos.Token]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no reservation for token %s", pos.Token)
	}
	delete(m.reserved, pos.Token)

	p := *pos
	p.Status = domain.PositionStatusOpen
	p.CommittedUSD = size
	m.positions[p.Token] = &p
	m.gauges()
	m.mu.Unlock()

	m.logger.Printf("Opened %s: committed $%s qty=%s from %s (tx %s)",
		p.Token, p.CommittedUSD.StringFixed(2), p.Quantity, p.Origin, p.OpenTxHash)
	m.notifier.PositionOpened(ctx, &p)
	return nil
}

// Has reports whether token has a live (OPEN or CLOSING) position.
func (m *Manager) Has(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[token]
	return ok
}

// Committed returns the capital currently committed, reservations
// included.
func (m *Manager) Committed() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

// Run drives the revaluation loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Revalue(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Revalue evaluates every live position once: OPEN positions against the
// exit rules in priority order, CLOSING positions for a retry of the
// close order.
func (m *Manager) Revalue(ctx context.Context) {
	for _, pos := range m.snapshot() {
		value, err := m.valuer.TokenValueUSD(ctx, pos.Token, pos.Quantity.BigInt())
		if err != nil {
			m.logger.Printf("Valuing %s failed, skipping this tick: %v", pos.Token, err)
			continue
		}

		reason := m.decide(pos, value)
		if reason == "" {
			continue
		}
		m.close(ctx, pos, reason, value)
	}
}

// decide returns the close reason for a position, or "" to hold. Exit
// rules are checked in priority order: take-profit, stop-loss, max-hold.
func (m *Manager) decide(pos *domain.Position, value decimal.Decimal) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pos.Status == domain.PositionStatusClosing {
		return m.closeReasons[pos.Token]
	}

	entry := pos.CommittedUSD
	switch {
	case value.GreaterThanOrEqual(entry.Mul(decimal.NewFromFloat(m.cfg.TakeProfitMultiplier))):
		return m.markClosing(pos, domain.CloseReasonTakeProfit)
	case value.LessThanOrEqual(entry.Mul(decimal.NewFromFloat(m.cfg.StopLossMultiplier))):
		return m.markClosing(pos, domain.CloseReasonStopLoss)
	case time.Since(pos.EntryTime) > m.cfg.MaxHold:
		return m.markClosing(pos, domain.CloseReasonMaxHold)
	}
	return ""
}

// markClosing transitions OPEN -> CLOSING. Caller holds the mutex.
func (m *Manager) markClosing(pos *domain.Position, reason string) string {
	live, ok := m.positions[pos.Token]
	if !ok || live.Status != domain.PositionStatusOpen {
		return ""
	}
	live.Status = domain.PositionStatusClosing
	pos.Status = domain.PositionStatusClosing
	m.closeReasons[pos.Token] = reason
	m.logger.Printf("%s -> CLOSING (%s)", pos.Token, reason)
	return reason
}

// close sells the position. A failed close leaves the position CLOSING;
// the next tick retries. Repeated full-balance sells are idempotent in
// effect, the execution client dedupes them by origin tx.
func (m *Manager) close(ctx context.Context, pos *domain.Position, reason string, value decimal.Decimal) {
	order, err := m.broker.Close(ctx, pos)
	if err != nil {
		m.logger.Printf("Close of %s (%s) failed, will retry: %v", pos.Token, reason, err)
		return
	}
	if order.Status != domain.OrderStatusConfirmed {
		m.logger.Printf("Close order for %s is %s, will retry", pos.Token, order.Status)
		return
	}
	m.finalize(ctx, pos, reason, value, order)
}

// finalize releases capital and appends the history record.
func (m *Manager) finalize(ctx context.Context, pos *domain.Position, reason string, value decimal.Decimal, order *domain.Order) {
	m.mu.Lock()
	live, ok := m.positions[pos.Token]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.positions, pos.Token)
	delete(m.closeReasons, pos.Token)
	m.committed = m.committed.Sub(live.CommittedUSD)
	m.gauges()
	m.mu.Unlock()

	now := time.Now()
	exitPrice := decimal.Zero
	if !live.Quantity.IsZero() {
		exitPrice = value.Div(live.Quantity)
	}
	rec := &domain.PositionRecord{
		ID:           uuid.NewString(),
		Token:        live.Token,
		Origin:       live.Origin,
		EntryPrice:   live.EntryPrice,
		ExitPrice:    exitPrice,
		Quantity:     live.Quantity,
		CommittedUSD: live.CommittedUSD,
		FinalUSD:     value,
		PnLUSD:       value.Sub(live.CommittedUSD),
		CloseReason:  reason,
		OpenedAt:     live.EntryTime,
		ClosedAt:     now,
	}

	if m.history != nil {
		if err := m.history.Insert(ctx, rec); err != nil {
			m.logger.Printf("Recording close of %s failed: %v", live.Token, err)
		}
	}
	if m.tradeLog != nil {
		entry := &domain.TradeLogEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			Action:    domain.TradeSideSell,
			Token:     live.Token,
			AmountUSD: value,
			TxHash:    order.TxHash,
			Status:    order.Status,
			Reason:    reason,
		}
		if err := m.tradeLog.Insert(ctx, entry); err != nil {
			m.logger.Printf("Logging close of %s failed: %v", live.Token, err)
		}
	}

	if m.metrics != nil {
		m.metrics.PositionsClosed.WithLabelValues(reason).Inc()
	}
	m.logger.Printf("Closed %s (%s): committed $%s -> $%s, pnl $%s",
		live.Token, reason, rec.CommittedUSD.StringFixed(2), rec.FinalUSD.StringFixed(2), rec.PnLUSD.StringFixed(2))
	m.notifier.PositionClosed(ctx, rec)
}

// CloseAll marks every live position CLOSING with the given reason and
// runs one close pass immediately. Positions whose close fails remain
// CLOSING and retry on the normal tick.
func (m *Manager) CloseAll(ctx context.Context, reason string) {
	m.mu.Lock()
	for token, pos := range m.positions {
		if pos.Status == domain.PositionStatusOpen {
			pos.Status = domain.PositionStatusClosing
			m.closeReasons[token] = reason
		}
	}
	m.mu.Unlock()

	m.logger.Printf("Close-all requested (%s)", reason)
	m.Revalue(ctx)
}

// snapshot copies the live positions so valuation and close calls run
// outside the mutex.
func (m *Manager) snapshot() []*domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		p := *pos
		out = append(out, &p)
	}
	return out
}

// gauges refreshes the capital metrics. Caller holds the mutex.
func (m *Manager) gauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.OpenPositions.Set(float64(len(m.positions)))
	committed, _ := m.committed.Float64()
	m.metrics.CommittedCapital.Set(committed)
}
