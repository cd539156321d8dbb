package pipeline

import (
	"context"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/executor"
	"mempool-mirror/internal/position"
	"mempool-mirror/internal/risk"
)

// CloseBroker sells positions through the same risk gate and execution
// client as mirrored buys.
type CloseBroker struct {
	risk *risk.Validator
	exec *executor.Executor
}

func NewCloseBroker(v *risk.Validator, e *executor.Executor) *CloseBroker {
	return &CloseBroker{risk: v, exec: e}
}

var _ position.Broker = (*CloseBroker)(nil)

// Close validates and submits a full-balance sell for the position. The
// order is keyed by the position's opening transaction, so retried
// closes dedupe at the execution client.
func (b *CloseBroker) Close(ctx context.Context, pos *domain.Position) (*domain.Order, error) {
	order, err := b.risk.ValidateClose(ctx, pos.Token, pos.Quantity.BigInt(), pos.OpenTxHash)
	if err != nil {
		return nil, err
	}
	return b.exec.Submit(ctx, order)
}
