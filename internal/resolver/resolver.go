// Package resolver turns pending transaction refs into full records.
//
// Refs are batched (size and time bounded) and fetched concurrently. A
// ref that fails to resolve is discarded, not retried: pending
// transactions are transient and correctness only needs enough of them
// resolved fast enough.
package resolver

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/ethereum"
	"mempool-mirror/internal/observability"
)

// ChainReader is the chain query endpoint the resolver fetches from.
type ChainReader interface {
	TransactionByHash(ctx context.Context, hash string) (*ethereum.Transaction, error)
}

// Config tunes batching behavior.
type Config struct {
	// BatchSize flushes a batch when this many refs accumulated.
	BatchSize int
	// BatchWindow flushes a batch after this much time regardless of size.
	BatchWindow time.Duration
	// Concurrency bounds parallel fetches within one batch.
	Concurrency int
}

// DefaultConfig returns default batching configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:   50,
		BatchWindow: 100 * time.Millisecond,
		Concurrency: 10,
	}
}

// Resolver batches and resolves pending transaction refs.
type Resolver struct {
	chain   ChainReader
	config  Config
	logger  *log.Logger
	metrics *observability.Metrics
}

// New creates a Resolver. metrics may be nil.
func New(chain ChainReader, config Config, logger *log.Logger, metrics *observability.Metrics) *Resolver {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.BatchWindow <= 0 {
		config.BatchWindow = DefaultConfig().BatchWindow
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{chain: chain, config: config, logger: logger, metrics: metrics}
}

// Run consumes refs, resolves them in batches and sends resolved
// transactions to out, preserving intra-batch arrival order. Returns when
// ctx is cancelled or in closes. out is closed on return.
func (r *Resolver) Run(ctx context.Context, in <-chan domain.PendingTxRef, out chan<- *domain.ResolvedTransaction) {
	defer close(out)

	batch := make([]domain.PendingTxRef, 0, r.config.BatchSize)
	timer := time.NewTimer(r.config.BatchWindow)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		resolved := r.Resolve(ctx, batch)
		for _, tx := range resolved {
			select {
			case out <- tx:
			case <-ctx.Done():
				return
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ref, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ref)
			if len(batch) >= r.config.BatchSize {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.config.BatchWindow)
			}

		case <-timer.C:
			flush()
			timer.Reset(r.config.BatchWindow)
		}
	}
}

// Resolve fetches a batch of refs concurrently. Refs that cannot be
// resolved (not yet visible, dropped from the mempool) are discarded and
// counted. The returned slice preserves the batch's arrival order.
func (r *Resolver) Resolve(ctx context.Context, refs []domain.PendingTxRef) []*domain.ResolvedTransaction {
	if r.metrics != nil {
		r.metrics.BatchSize.Observe(float64(len(refs)))
	}

	results := make([]*domain.ResolvedTransaction, len(refs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	for i, ref := range refs {
		g.Go(func() error {
			tx, err := r.chain.TransactionByHash(gctx, ref.Hash)
			if err != nil || tx == nil {
				// Best effort: drop and count, never retry.
				return nil
			}
			resolved := &domain.ResolvedTransaction{
				Hash:       tx.Hash,
				From:       tx.From,
				To:         tx.To,
				Input:      tx.Input,
				Value:      tx.Value,
				GasPrice:   tx.GasPrice,
				Nonce:      tx.Nonce,
				ObservedAt: ref.ObservedAt,
			}
			mu.Lock()
			results[i] = resolved
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	out := make([]*domain.ResolvedTransaction, 0, len(results))
	for _, tx := range results {
		if tx != nil {
			out = append(out, tx)
		}
	}

	if r.metrics != nil {
		r.metrics.RefsResolved.Add(float64(len(out)))
		r.metrics.RefsDropped.Add(float64(len(refs) - len(out)))
	}
	return out
}
