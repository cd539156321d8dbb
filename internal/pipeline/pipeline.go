// Package pipeline wires the mirror stages together: feed, resolve,
// decode, filter, execute, and the position revaluation loop.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"mempool-mirror/internal/decoder"
	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/executor"
	"mempool-mirror/internal/filter"
	"mempool-mirror/internal/observability"
	"mempool-mirror/internal/position"
	"mempool-mirror/internal/resolver"
	"mempool-mirror/internal/risk"
	"mempool-mirror/internal/storage"
)

// RefSource delivers pending transaction references from the feed.
type RefSource interface {
	Refs() <-chan domain.PendingTxRef
}

// Config tunes the stage queues and shutdown behavior.
type Config struct {
	QueueSize     int
	ShutdownGrace time.Duration
}

// Pipeline runs the mirror flow end to end. Channels between stages are
// bounded; a full downstream stage blocks the upstream one rather than
// dropping work.
type Pipeline struct {
	cfg       Config
	feed      RefSource
	resolver  *resolver.Resolver
	decoder   *decoder.Decoder
	filter    *filter.Filter
	risk      *risk.Validator
	executor  *executor.Executor
	positions *position.Manager
	tradeLog  storage.TradeLogStore
	logger    *log.Logger
	metrics   *observability.Metrics

	halted   atomic.Bool
	closeAll bool // close positions when the emergency stop fires
}

func New(cfg Config, feed RefSource, res *resolver.Resolver, dec *decoder.Decoder, fil *filter.Filter,
	val *risk.Validator, exec *executor.Executor, positions *position.Manager,
	tradeLog storage.TradeLogStore, logger *log.Logger, metrics *observability.Metrics) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Pipeline{
		cfg:       cfg,
		feed:      feed,
		resolver:  res,
		decoder:   dec,
		filter:    fil,
		risk:      val,
		executor:  exec,
		positions: positions,
		tradeLog:  tradeLog,
		logger:    logger,
		metrics:   metrics,
	}
}

// SetCloseAllOnStop makes the emergency stop close every live position.
func (p *Pipeline) SetCloseAllOnStop(v bool) { p.closeAll = v }

// Run blocks until ctx is cancelled and all stages have drained. The
// execution stage keeps a grace period after cancellation so in-flight
// confirmation polls can finish.
func (p *Pipeline) Run(ctx context.Context) error {
	resolved := make(chan *domain.ResolvedTransaction, p.cfg.QueueSize)
	intents := make(chan *domain.MirrorIntent, p.cfg.QueueSize)

	// Outlives ctx by the shutdown grace so outstanding submissions can
	// complete their receipt polls.
	execCtx, execCancel := context.WithCancel(context.Background())
	defer execCancel()
	go func() {
		<-ctx.Done()
		if p.cfg.ShutdownGrace > 0 {
			time.Sleep(p.cfg.ShutdownGrace)
		}
		execCancel()
	}()

	g, ctx := errgroup.WithContext(ctx)

	// The resolver owns resolved and closes it on return.
	g.Go(func() error {
		p.resolver.Run(ctx, p.feed.Refs(), resolved)
		return nil
	})

	g.Go(func() error {
		defer close(intents)
		p.decodeStage(ctx, resolved, intents)
		return nil
	})

	g.Go(func() error {
		p.executeStage(ctx, execCtx, intents)
		return nil
	})

	g.Go(func() error {
		p.positions.Run(ctx)
		return nil
	})

	return g.Wait()
}

// decodeStage turns resolved transactions into mirror intents.
func (p *Pipeline) decodeStage(ctx context.Context, in <-chan *domain.ResolvedTransaction, out chan<- *domain.MirrorIntent) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-in:
			if !ok {
				return
			}
			trade := p.decoder.Decode(tx)
			if trade == nil {
				if p.metrics != nil {
					p.metrics.DecodeMisses.Inc()
				}
				continue
			}
			if p.metrics != nil {
				p.metrics.DecodeHits.Inc()
			}

			intent := p.filter.Evaluate(trade)
			if intent == nil {
				continue
			}
			select {
			case out <- intent:
			case <-ctx.Done():
				return
			}
		}
	}
}

// executeStage runs intents through the risk gate and the execution
// client, serialized per call. ctx stops intake; execCtx governs the
// in-flight venue work.
func (p *Pipeline) executeStage(ctx context.Context, execCtx context.Context, in <-chan *domain.MirrorIntent) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent, ok := <-in:
			if !ok {
				return
			}
			p.handleIntent(execCtx, intent)
		}
	}
}

func (p *Pipeline) handleIntent(ctx context.Context, intent *domain.MirrorIntent) {
	if p.halted.Load() {
		p.logger.Printf("Emergency stop active, dropping intent for %s", intent.Trade.Token)
		return
	}

	// Exits are governed by the position manager's rules; a tracked
	// account selling is informational only.
	if intent.Trade.Side == domain.TradeSideSell {
		if p.positions.Has(intent.Trade.Token) {
			p.logger.Printf("Tracked account %s is exiting %s while we hold it",
				intent.Account.Address, intent.Trade.Token)
		}
		return
	}

	token := intent.Trade.Token
	if err := p.positions.Reserve(token, intent.SizeUSD); err != nil {
		if errors.Is(err, position.ErrPositionExists) || errors.Is(err, position.ErrCapitalExhausted) {
			p.logger.Printf("Not mirroring %s: %v", token, err)
			return
		}
		p.logger.Printf("Reserving capital for %s failed: %v", token, err)
		return
	}

	order, err := p.risk.ValidateBuy(ctx, intent)
	if err != nil {
		p.positions.Cancel(token)
		var rej *risk.Rejection
		if !errors.As(err, &rej) {
			p.logger.Printf("Validating %s failed: %v", token, err)
		}
		return
	}

	result, err := p.executor.Submit(ctx, order)
	if err != nil {
		p.positions.Cancel(token)
		p.logger.Printf("Submitting buy for %s failed: %v", token, err)
		return
	}
	p.logTrade(ctx, intent, result)

	if result.Status != domain.OrderStatusConfirmed {
		p.positions.Cancel(token)
		p.logger.Printf("Buy for %s ended %s, capital released", token, result.Status)
		return
	}

	quantity := decimal.NewFromBigInt(order.Quote.ToAmount, 0)
	entryPrice := decimal.Zero
	if !quantity.IsZero() {
		entryPrice = intent.SizeUSD.Div(quantity)
	}
	err = p.positions.Confirm(ctx, &domain.Position{
		Token:      token,
		EntryPrice: entryPrice,
		EntryTime:  time.Now(),
		Quantity:   quantity,
		Origin:     intent.Account.Address,
		OpenTxHash: result.TxHash,
	})
	if err != nil {
		p.logger.Printf("Opening position for %s failed: %v", token, err)
	}
}

func (p *Pipeline) logTrade(ctx context.Context, intent *domain.MirrorIntent, order *domain.Order) {
	if p.tradeLog == nil {
		return
	}
	entry := &domain.TradeLogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    domain.TradeSideBuy,
		Token:     intent.Trade.Token,
		Account:   intent.Account.Address,
		AmountUSD: intent.SizeUSD,
		TxHash:    order.TxHash,
		Status:    order.Status,
	}
	if err := p.tradeLog.Insert(ctx, entry); err != nil {
		p.logger.Printf("Logging buy for %s failed: %v", intent.Trade.Token, err)
	}
}

// EmergencyStop halts new order submission. When close-all is
// configured, every live position is closed with EMERGENCY_STOP.
func (p *Pipeline) EmergencyStop(ctx context.Context) {
	if p.halted.Swap(true) {
		return
	}
	p.logger.Printf("EMERGENCY STOP: new submissions halted")
	if p.closeAll {
		p.positions.CloseAll(ctx, domain.CloseReasonEmergencyStop)
	}
}

// Resume lifts an emergency stop.
func (p *Pipeline) Resume() {
	if p.halted.Swap(false) {
		p.logger.Printf("Emergency stop lifted, submissions resume")
	}
}

// Halted reports whether the emergency stop is active.
func (p *Pipeline) Halted() bool { return p.halted.Load() }
