// Package executor submits validated orders to the venue exactly once
// per idempotency key and tracks them to a terminal status.
package executor

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/ethereum"
	"mempool-mirror/internal/observability"
	"mempool-mirror/internal/venue"
)

// SwapClient submits swaps and refreshes quotes.
type SwapClient interface {
	Swap(ctx context.Context, order *domain.ValidatedOrder) (*venue.SwapResult, error)
	GetQuote(ctx context.Context, fromToken, toToken string, amount *big.Int) (*domain.Quote, error)
}

// ReceiptReader polls for on-chain confirmation.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, hash string) (*ethereum.Receipt, error)
}

// Config tunes submission retries and confirmation polling.
type Config struct {
	MaxAttempts    int
	RetryBase      time.Duration
	RetryMax       time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	QuoteTTL       time.Duration
}

// Executor owns order state. One instance serves the whole pipeline;
// Submit is safe for concurrent use.
type Executor struct {
	cfg     Config
	swaps   SwapClient
	chain   ReceiptReader
	logger  *log.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	orders   map[string]*domain.Order // by idempotency key
	inflight map[string]bool
}

func New(cfg Config, swaps SwapClient, chain ReceiptReader, logger *log.Logger, metrics *observability.Metrics) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Executor{
		cfg:      cfg,
		swaps:    swaps,
		chain:    chain,
		logger:   logger,
		metrics:  metrics,
		orders:   make(map[string]*domain.Order),
		inflight: make(map[string]bool),
	}
}

// Submit executes order and blocks until it reaches a terminal status.
// A key that already produced an accepted submission is never re-sent:
// a duplicate returns the stored order (for TIMED_OUT, after one more
// round of confirmation polling). Only a previously FAILED key may be
// submitted again.
func (e *Executor) Submit(ctx context.Context, order *domain.ValidatedOrder) (*domain.Order, error) {
	key := order.IdempotencyKey()

	e.mu.Lock()
	if e.inflight[key] {
		e.mu.Unlock()
		return nil, fmt.Errorf("order %s already in flight", key)
	}
	if existing, ok := e.orders[key]; ok {
		switch existing.Status {
		case domain.OrderStatusFailed:
			// The venue never executed this one; allow a fresh attempt.
			delete(e.orders, key)
		case domain.OrderStatusTimedOut:
			e.mu.Unlock()
			e.logger.Printf("Duplicate submit for timed-out order %s, re-polling receipt %s",
				existing.ID, existing.TxHash)
			return e.confirm(ctx, existing)
		default:
			e.mu.Unlock()
			e.logger.Printf("Duplicate submit suppressed for key %s (order %s is %s)",
				key, existing.ID, existing.Status)
			return existing, nil
		}
	}
	e.inflight[key] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
	}()

	if err := e.refreshQuote(ctx, order); err != nil {
		return nil, err
	}

	result, err := e.submitWithRetry(ctx, order)
	if err != nil {
		return nil, err
	}

	rec := &domain.Order{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		Side:           order.Side,
		Token:          order.Token,
		AmountUSD:      order.SizeUSD,
		TxHash:         result.TxHash,
		Status:         domain.OrderStatusPending,
		SubmittedAt:    time.Now(),
	}
	e.mu.Lock()
	e.orders[key] = rec
	e.mu.Unlock()

	e.logger.Printf("Submitted %s %s order %s tx=%s", rec.Side, rec.Token, rec.ID, rec.TxHash)
	return e.confirm(ctx, rec)
}

// refreshQuote replaces a quote older than the TTL. The risk gate has
// already passed; a stale quote only risks slippage, not policy.
func (e *Executor) refreshQuote(ctx context.Context, order *domain.ValidatedOrder) error {
	if e.cfg.QuoteTTL <= 0 || time.Since(order.Quote.IssuedAt) <= e.cfg.QuoteTTL {
		return nil
	}
	fresh, err := e.swaps.GetQuote(ctx, order.Quote.FromToken, order.Quote.ToToken, order.AmountInWei)
	if err != nil {
		return fmt.Errorf("refreshing stale quote failed: %w", err)
	}
	e.logger.Printf("Refreshed stale quote for %s (was %s old)",
		order.Token, time.Since(order.Quote.IssuedAt).Round(time.Millisecond))
	order.Quote = fresh
	return nil
}

// submitWithRetry sends the swap, retrying with exponential backoff only
// on failures where the venue cannot have acted: rate limiting and
// transport timeouts before any response. An accepted response is
// terminal; any other error propagates at once.
func (e *Executor) submitWithRetry(ctx context.Context, order *domain.ValidatedOrder) (*venue.SwapResult, error) {
	delay := e.cfg.RetryBase
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		result, err := e.swaps.Swap(ctx, order)
		if err == nil {
			return result, nil
		}
		if !venue.IsRetryable(err) {
			return nil, fmt.Errorf("swap submission failed: %w", err)
		}
		lastErr = err

		if attempt == e.cfg.MaxAttempts {
			break
		}
		if e.metrics != nil {
			e.metrics.OrderRetries.Inc()
		}
		e.logger.Printf("Retryable swap failure (attempt %d/%d): %v",
			attempt, e.cfg.MaxAttempts, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > e.cfg.RetryMax {
			delay = e.cfg.RetryMax
		}
	}
	return nil, fmt.Errorf("swap submission failed after %d attempts: %w", e.cfg.MaxAttempts, lastErr)
}

// confirm polls the chain for the order's receipt until it is mined or
// the confirmation window closes.
func (e *Executor) confirm(ctx context.Context, rec *domain.Order) (*domain.Order, error) {
	deadline := time.Now().Add(e.cfg.ConfirmTimeout)

	for {
		receipt, err := e.chain.TransactionReceipt(ctx, rec.TxHash)
		if err != nil {
			e.logger.Printf("Receipt poll for %s failed: %v", rec.TxHash, err)
		} else if receipt != nil {
			status := domain.OrderStatusConfirmed
			if receipt.Status == ethereum.ReceiptStatusFailed {
				status = domain.OrderStatusFailed
			}
			return e.finish(rec, status), nil
		}

		if time.Now().After(deadline) {
			return e.finish(rec, domain.OrderStatusTimedOut), nil
		}
		select {
		case <-time.After(e.cfg.PollInterval):
		case <-ctx.Done():
			return e.finish(rec, domain.OrderStatusTimedOut), ctx.Err()
		}
	}
}

func (e *Executor) finish(rec *domain.Order, status string) *domain.Order {
	e.mu.Lock()
	rec.Status = status
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.OrdersSubmitted.WithLabelValues(status).Inc()
	}
	e.logger.Printf("Order %s (%s %s) -> %s", rec.ID, rec.Side, rec.Token, status)
	return rec
}

// Lookup returns the order recorded for an idempotency key.
func (e *Executor) Lookup(key string) (*domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[key]
	return o, ok
}
