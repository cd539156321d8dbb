package filter

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mempool-mirror/internal/domain"
)

type fakeAccounts map[string]domain.TrackedAccount

func (f fakeAccounts) Lookup(addr string) (domain.TrackedAccount, bool) {
	a, ok := f[addr]
	return a, ok
}

type fakeRouters map[string]bool

func (f fakeRouters) RouterAllowed(addr string) bool { return f[addr] }

const (
	trackedAddr = "0xae2fc483527b8ef99eb5d9b44875f005ba1fae13"
	routerAddr  = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
	tokenAddr   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

func testConfig() Config {
	return Config{
		ConfidenceFloor: 0.7,
		BaseFraction:    0.30,
		CapMultiplier:   1.5,
		MinNotionalUSD:  50.0,
		MinAmountInWei:  big.NewInt(1000),
		CapitalUSD:      1000.0,
	}
}

func newTestFilter(cfg Config, confidence float64) *Filter {
	accounts := fakeAccounts{
		trackedAddr: {
			Address:    trackedAddr,
			Category:   domain.AccountCategoryEarlyBuyer,
			Confidence: confidence,
		},
	}
	routers := fakeRouters{routerAddr: true}
	return New(cfg, accounts, routers, nil, nil)
}

func makeTrade(sender, router string) *domain.DecodedTrade {
	return &domain.DecodedTrade{
		Sender:     sender,
		Router:     router,
		Token:      tokenAddr,
		Side:       domain.TradeSideBuy,
		AmountIn:   big.NewInt(1_000_000),
		TxHash:     "0xabc",
		ObservedAt: time.Now(),
	}
}

func TestEvaluate_TrackedSenderProducesIntent(t *testing.T) {
	f := newTestFilter(testConfig(), 0.9)

	intent := f.Evaluate(makeTrade(trackedAddr, routerAddr))
	if intent == nil {
		t.Fatal("expected intent")
	}
	if intent.Account.Address != trackedAddr {
		t.Errorf("unexpected account %s", intent.Account.Address)
	}
	// 1000 × 0.30 × (0.5 + 0.9) = 420
	want := decimal.NewFromInt(420)
	if !intent.SizeUSD.Equal(want) {
		t.Errorf("expected size %s, got %s", want, intent.SizeUSD)
	}
}

func TestEvaluate_UntrackedSenderIgnored(t *testing.T) {
	f := newTestFilter(testConfig(), 0.9)

	if intent := f.Evaluate(makeTrade("0x1111111111111111111111111111111111111111", routerAddr)); intent != nil {
		t.Errorf("expected nil for untracked sender, got %+v", intent)
	}
}

func TestEvaluate_UnlistedRouterIgnored(t *testing.T) {
	f := newTestFilter(testConfig(), 0.9)

	if intent := f.Evaluate(makeTrade(trackedAddr, "0x2222222222222222222222222222222222222222")); intent != nil {
		t.Errorf("expected nil for unlisted router, got %+v", intent)
	}
}

func TestEvaluate_ConfidenceBelowFloor(t *testing.T) {
	f := newTestFilter(testConfig(), 0.5)

	if intent := f.Evaluate(makeTrade(trackedAddr, routerAddr)); intent != nil {
		t.Errorf("expected nil below confidence floor, got %+v", intent)
	}
}

func TestEvaluate_AmountBelowMinimum(t *testing.T) {
	f := newTestFilter(testConfig(), 0.9)

	trade := makeTrade(trackedAddr, routerAddr)
	trade.AmountIn = big.NewInt(999)
	if intent := f.Evaluate(trade); intent != nil {
		t.Errorf("expected nil below minimum amount-in, got %+v", intent)
	}
}

func TestEvaluate_SizeBelowNotionalMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.CapitalUSD = 100.0 // 100 × 0.30 × 1.4 = $42 < $50
	f := newTestFilter(cfg, 0.9)

	if intent := f.Evaluate(makeTrade(trackedAddr, routerAddr)); intent != nil {
		t.Errorf("expected nil below minimum notional, got %+v", intent)
	}
}

func TestRecommendedSize_MonotonicAndCapped(t *testing.T) {
	f := newTestFilter(testConfig(), 0.9)

	prev := decimal.Zero
	for _, c := range []float64{0.70, 0.75, 0.80, 0.90, 0.95, 1.0} {
		size := f.recommendedSize(c)
		if size.LessThan(prev) {
			t.Errorf("size not monotonic: confidence %.2f gave %s after %s", c, size, prev)
		}
		prev = size
	}

	// 0.5 + 1.0 = 1.5 exactly hits the cap; the size must never exceed
	// base × cap.
	max := decimal.NewFromFloat(1000.0 * 0.30 * 1.5)
	if prev.GreaterThan(max) {
		t.Errorf("size %s exceeds cap %s", prev, max)
	}
	if !f.recommendedSize(1.0).Equal(f.recommendedSize(2.0)) {
		t.Error("cap must bound the multiplier for any confidence")
	}
}
