package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. PENDING means accepted by the venue but not yet seen
// on chain; the remaining statuses are terminal.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusFailed    = "FAILED"
	OrderStatusTimedOut  = "TIMED_OUT"
)

// Order is a swap submitted to the venue. Owned by the execution client;
// callers only ever observe terminal status.
type Order struct {
	ID             string // client-generated order id
	IdempotencyKey string
	Side           string
	Token          string
	AmountUSD      decimal.Decimal
	TxHash         string // venue-reported transaction hash
	Status         string
	SubmittedAt    time.Time
}

// Terminal reports whether the order reached a final status.
func (o *Order) Terminal() bool {
	return o.Status == OrderStatusConfirmed ||
		o.Status == OrderStatusFailed ||
		o.Status == OrderStatusTimedOut
}
