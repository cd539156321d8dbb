package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position statuses.
const (
	PositionStatusOpen    = "OPEN"
	PositionStatusClosing = "CLOSING"
	PositionStatusClosed  = "CLOSED"
)

// Close reason codes, in evaluation priority order.
const (
	CloseReasonTakeProfit    = "TAKE_PROFIT"
	CloseReasonStopLoss      = "STOP_LOSS"
	CloseReasonMaxHold       = "MAX_HOLD"
	CloseReasonEmergencyStop = "EMERGENCY_STOP"
	CloseReasonOperator      = "OPERATOR"
)

// Position is an open mirrored holding. The position manager exclusively
// owns the lifecycle; at most one non-CLOSED position exists per token.
type Position struct {
	Token        string
	Symbol       string
	EntryPrice   decimal.Decimal // USD per token base unit
	EntryTime    time.Time
	Quantity     decimal.Decimal // token units held
	CommittedUSD decimal.Decimal // capital committed at entry
	Origin       string          // tracked account that triggered the mirror
	OpenTxHash   string          // confirmed buy transaction
	Status       string
}

// PositionRecord is the append-only history row written when a position
// closes.
type PositionRecord struct {
	ID           string // client-generated record id
	Token        string
	Origin       string
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	Quantity     decimal.Decimal
	CommittedUSD decimal.Decimal
	FinalUSD     decimal.Decimal
	PnLUSD       decimal.Decimal
	CloseReason  string
	OpenedAt     time.Time
	ClosedAt     time.Time
}

// TradeLogEntry is the append-only audit row written for every confirmed
// venue order.
type TradeLogEntry struct {
	ID        string // client-generated entry id
	Timestamp time.Time
	Action    string // TradeSideBuy | TradeSideSell
	Token     string
	Account   string // tracked account, empty for closes
	AmountUSD decimal.Decimal
	TxHash    string
	Status    string // terminal order status
	Reason    string // close reason, empty for buys
}
