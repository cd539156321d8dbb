// Package filter gates decoded trades against the tracked-account
// registry and produces sized mirror intents.
package filter

import (
	"log"
	"math/big"

	"github.com/shopspring/decimal"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/observability"
)

// AccountLookup resolves a sender address to a tracked account.
type AccountLookup interface {
	Lookup(addr string) (domain.TrackedAccount, bool)
}

// RouterPolicy reports whether a router address may be mirrored.
type RouterPolicy interface {
	RouterAllowed(addr string) bool
}

// Config holds the gating thresholds and the sizing parameters.
type Config struct {
	ConfidenceFloor float64
	BaseFraction    float64 // of total capital
	CapMultiplier   float64
	MinNotionalUSD  float64
	MinAmountInWei  *big.Int // nil disables the floor
	CapitalUSD      float64
}

// Filter turns decoded trades into mirror intents. Every rejection is a
// normal outcome: Evaluate returns nil, never an error.
type Filter struct {
	cfg      Config
	accounts AccountLookup
	routers  RouterPolicy
	logger   *log.Logger
	metrics  *observability.Metrics
}

func New(cfg Config, accounts AccountLookup, routers RouterPolicy, logger *log.Logger, metrics *observability.Metrics) *Filter {
	if logger == nil {
		logger = log.Default()
	}
	return &Filter{
		cfg:      cfg,
		accounts: accounts,
		routers:  routers,
		logger:   logger,
		metrics:  metrics,
	}
}

// Evaluate decides whether trade should be mirrored. It returns an
// intent with a recommended USD size, or nil when any gate fails.
func (f *Filter) Evaluate(trade *domain.DecodedTrade) *domain.MirrorIntent {
	if trade == nil {
		return nil
	}

	account, ok := f.accounts.Lookup(trade.Sender)
	if !ok {
		return nil
	}
	if !f.routers.RouterAllowed(trade.Router) {
		f.logger.Printf("Tracked sender %s used unlisted router %s, skipping tx %s",
			trade.Sender, trade.Router, trade.TxHash)
		return nil
	}
	if account.Confidence < f.cfg.ConfidenceFloor {
		f.logger.Printf("Account %s confidence %.2f below floor %.2f, skipping tx %s",
			account.Address, account.Confidence, f.cfg.ConfidenceFloor, trade.TxHash)
		return nil
	}
	if f.cfg.MinAmountInWei != nil && trade.AmountIn.Cmp(f.cfg.MinAmountInWei) < 0 {
		return nil
	}

	size := f.recommendedSize(account.Confidence)
	if size.LessThan(decimal.NewFromFloat(f.cfg.MinNotionalUSD)) {
		f.logger.Printf("Sized %s below minimum notional $%.2f for tx %s, skipping",
			size.StringFixed(2), f.cfg.MinNotionalUSD, trade.TxHash)
		return nil
	}

	if f.metrics != nil {
		f.metrics.MirrorIntents.Inc()
	}
	f.logger.Printf("Mirroring %s %s by %s (%s, confidence=%.2f) size=$%s tx=%s",
		trade.Side, trade.Token, account.Address, account.Category, account.Confidence,
		size.StringFixed(2), trade.TxHash)

	return &domain.MirrorIntent{
		Trade:   *trade,
		Account: account,
		SizeUSD: size,
	}
}

// recommendedSize scales the base allocation by confidence. The
// multiplier 0.5+confidence is clamped at the configured cap, so the
// size is monotonic in confidence and bounded above.
func (f *Filter) recommendedSize(confidence float64) decimal.Decimal {
	mult := 0.5 + confidence
	if mult > f.cfg.CapMultiplier {
		mult = f.cfg.CapMultiplier
	}
	base := decimal.NewFromFloat(f.cfg.CapitalUSD).Mul(decimal.NewFromFloat(f.cfg.BaseFraction))
	return base.Mul(decimal.NewFromFloat(mult))
}
