package domain

import (
	"math/big"
	"time"
)

// PendingTxRef is an opaque transaction hash emitted by the pending feed.
// Refs are ephemeral: discarded once resolved or after the batch window.
type PendingTxRef struct {
	Hash       string // 0x-hex transaction hash
	ObservedAt time.Time
}

// ResolvedTransaction is the full record behind a pending ref.
// Immutable once constructed.
type ResolvedTransaction struct {
	Hash       string
	From       string   // sender, lowercase 0x-hex
	To         string   // recipient (router) address, lowercase 0x-hex
	Input      []byte   // raw call-data
	Value      *big.Int // wei attached to the call
	GasPrice   *big.Int // wei
	Nonce      uint64
	ObservedAt time.Time // when the ref arrived on the feed
}
