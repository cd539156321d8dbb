package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	TradeSideBuy  = "buy"
	TradeSideSell = "sell"
)

// DecodedTrade is a swap extracted from router call-data.
// Derived deterministically from a ResolvedTransaction; call-data that is
// not a recognized swap yields no DecodedTrade rather than an error.
type DecodedTrade struct {
	Sender     string   // originating account
	Router     string   // router the swap was sent to
	Token      string   // traded asset: acquired token on buys, sold token on sells
	Side       string   // TradeSideBuy | TradeSideSell
	AmountIn   *big.Int // input amount in wei (or token base units)
	TxHash     string   // originating transaction reference
	ObservedAt time.Time
}

// MirrorIntent is a candidate mirrored trade pending risk validation.
type MirrorIntent struct {
	Trade   DecodedTrade
	Account TrackedAccount
	// SizeUSD is the recommended position size, monotonic in the tracked
	// account's confidence and bounded by the sizing cap.
	SizeUSD decimal.Decimal
}

// Quote is a venue estimate for a candidate swap. Time-sensitive: the
// executor refuses to use a quote older than the configured TTL.
type Quote struct {
	FromToken      string
	ToToken        string
	FromAmount     *big.Int // input amount in base units
	ToAmount       *big.Int // estimated output in base units
	EstimatedGas   int64
	PriceImpactPct float64
	Route          []string // venue-specific routing path
	IssuedAt       time.Time
}

// ValidatedOrder is a mirror intent that passed the risk gate, bound to
// the quote it was validated against.
type ValidatedOrder struct {
	Side        string // TradeSideBuy | TradeSideSell
	Token       string
	AmountInWei *big.Int // input amount for the venue swap call
	SizeUSD     decimal.Decimal
	Quote       *Quote
	OriginTx    string // the tracked transaction (buys) or open tx (sells)
	Account     string // tracked account address, empty for closes
}

// IdempotencyKey identifies the logical order across retries. Two submit
// calls with the same key must never both execute at the venue.
func (o *ValidatedOrder) IdempotencyKey() string {
	return o.Side + ":" + o.Token + ":" + o.OriginTx
}
