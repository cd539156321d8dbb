// Package risk gates mirror intents against venue quotes before any
// order is submitted.
package risk

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/shopspring/decimal"

	"mempool-mirror/internal/decoder"
	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/observability"
)

// Rejection reasons.
const (
	ReasonPriceImpact = "price_impact"
	ReasonGas         = "gas"
	ReasonIlliquid    = "illiquid"
)

// Rejection is a risk gate refusal. It is an expected outcome, logged
// and counted, never escalated.
type Rejection struct {
	Reason string
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk rejection (%s): %s", r.Reason, r.Detail)
}

// QuoteClient provides venue estimates. The validator only reads quotes;
// it never submits anything.
type QuoteClient interface {
	GetQuote(ctx context.Context, fromToken, toToken string, amount *big.Int) (*domain.Quote, error)
	TokenValueUSD(ctx context.Context, token string, amount *big.Int) (decimal.Decimal, error)
}

// Config holds the gate ceilings.
type Config struct {
	MaxPriceImpactPct float64
	MaxGasEstimate    int64
}

// Validator applies the risk gate. Stateless and safe to call
// repeatedly for the same intent.
type Validator struct {
	cfg     Config
	quotes  QuoteClient
	logger  *log.Logger
	metrics *observability.Metrics
}

func NewValidator(cfg Config, quotes QuoteClient, logger *log.Logger, metrics *observability.Metrics) *Validator {
	if logger == nil {
		logger = log.Default()
	}
	return &Validator{cfg: cfg, quotes: quotes, logger: logger, metrics: metrics}
}

var weiPerEth = decimal.New(1, 18)

// ValidateBuy sizes the intent in wei, fetches a fresh quote and applies
// the gate. A *Rejection error means the trade was refused on risk
// grounds; any other error is an infrastructure failure.
func (v *Validator) ValidateBuy(ctx context.Context, intent *domain.MirrorIntent) (*domain.ValidatedOrder, error) {
	ethPrice, err := v.quotes.TokenValueUSD(ctx, decoder.WETH, weiPerEth.BigInt())
	if err != nil {
		return nil, fmt.Errorf("pricing ETH failed: %w", err)
	}
	if ethPrice.IsZero() {
		return nil, v.reject(ReasonIlliquid, "ETH valuation returned zero")
	}

	amountWei := intent.SizeUSD.Div(ethPrice).Mul(weiPerEth).Floor().BigInt()
	if amountWei.Sign() <= 0 {
		return nil, v.reject(ReasonIlliquid, fmt.Sprintf("size $%s rounds to zero wei", intent.SizeUSD))
	}

	quote, err := v.quotes.GetQuote(ctx, decoder.WETH, intent.Trade.Token, amountWei)
	if err != nil {
		return nil, fmt.Errorf("quoting buy failed: %w", err)
	}
	if rej := v.gate(quote); rej != nil {
		v.logger.Printf("Rejected buy of %s mirroring tx %s: %v",
			intent.Trade.Token, intent.Trade.TxHash, rej)
		return nil, rej
	}

	return &domain.ValidatedOrder{
		Side:        domain.TradeSideBuy,
		Token:       intent.Trade.Token,
		AmountInWei: amountWei,
		SizeUSD:     intent.SizeUSD,
		Quote:       quote,
		OriginTx:    intent.Trade.TxHash,
		Account:     intent.Account.Address,
	}, nil
}

// ValidateClose quotes selling amount of token back to WETH and applies
// the same gate. originTx ties the order to the position being closed.
func (v *Validator) ValidateClose(ctx context.Context, token string, amount *big.Int, originTx string) (*domain.ValidatedOrder, error) {
	quote, err := v.quotes.GetQuote(ctx, token, decoder.WETH, amount)
	if err != nil {
		return nil, fmt.Errorf("quoting close failed: %w", err)
	}
	if rej := v.gate(quote); rej != nil {
		v.logger.Printf("Rejected close of %s (position %s): %v", token, originTx, rej)
		return nil, rej
	}

	return &domain.ValidatedOrder{
		Side:        domain.TradeSideSell,
		Token:       token,
		AmountInWei: new(big.Int).Set(amount),
		Quote:       quote,
		OriginTx:    originTx,
	}, nil
}

func (v *Validator) gate(quote *domain.Quote) *Rejection {
	if quote.ToAmount == nil || quote.ToAmount.Sign() == 0 {
		return v.count(&Rejection{Reason: ReasonIlliquid, Detail: "quote output amount is zero"})
	}
	if quote.PriceImpactPct > v.cfg.MaxPriceImpactPct {
		return v.count(&Rejection{
			Reason: ReasonPriceImpact,
			Detail: fmt.Sprintf("impact %.2f%% exceeds ceiling %.2f%%", quote.PriceImpactPct, v.cfg.MaxPriceImpactPct),
		})
	}
	if quote.EstimatedGas > v.cfg.MaxGasEstimate {
		return v.count(&Rejection{
			Reason: ReasonGas,
			Detail: fmt.Sprintf("gas estimate %d exceeds ceiling %d", quote.EstimatedGas, v.cfg.MaxGasEstimate),
		})
	}
	return nil
}

func (v *Validator) count(rej *Rejection) *Rejection {
	if v.metrics != nil {
		v.metrics.RiskRejections.WithLabelValues(rej.Reason).Inc()
	}
	return rej
}

func (v *Validator) reject(reason, detail string) *Rejection {
	return v.count(&Rejection{Reason: reason, Detail: detail})
}
