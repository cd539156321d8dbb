package decoder

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"

	"mempool-mirror/internal/domain"
)

const (
	tokenA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	tokenB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	sender = "0xae2fc483527b8ef99eb5d9b44875f005ba1fae13"
)

func addressWord(addr string) []byte {
	w := make([]byte, wordSize)
	b, _ := hex.DecodeString(strings.TrimPrefix(addr, "0x"))
	copy(w[wordSize-addressSize:], b)
	return w
}

func uintWord(v int64) []byte {
	w := make([]byte, wordSize)
	big.NewInt(v).FillBytes(w)
	return w
}

// encodeETHSwap builds swapExactETHForTokens call-data.
func encodeETHSwap(path ...string) []byte {
	data := []byte{0x7f, 0xf3, 0x6a, 0xb5}
	data = append(data, uintWord(0)...)          // amountOutMin
	data = append(data, uintWord(4*wordSize)...) // path offset
	data = append(data, addressWord(sender)...)  // to
	data = append(data, uintWord(9999999999)...) // deadline
	data = append(data, uintWord(int64(len(path)))...)
	for _, p := range path {
		data = append(data, addressWord(p)...)
	}
	return data
}

// encodeTokenSwap builds swapExactTokensForETH or ...ForTokens call-data.
func encodeTokenSwap(sel [4]byte, amountIn int64, path ...string) []byte {
	data := sel[:]
	data = append(data, uintWord(amountIn)...)   // amountIn
	data = append(data, uintWord(0)...)          // amountOutMin
	data = append(data, uintWord(5*wordSize)...) // path offset
	data = append(data, addressWord(sender)...)  // to
	data = append(data, uintWord(9999999999)...) // deadline
	data = append(data, uintWord(int64(len(path)))...)
	for _, p := range path {
		data = append(data, addressWord(p)...)
	}
	return data
}

func makeTx(input []byte, value int64) *domain.ResolvedTransaction {
	return &domain.ResolvedTransaction{
		Hash:       "0xdeadbeef",
		From:       sender,
		To:         UniswapV2Router,
		Input:      input,
		Value:      big.NewInt(value),
		GasPrice:   big.NewInt(20_000_000_000),
		ObservedAt: time.Now(),
	}
}

func TestDecode_ExactInputETHSwap(t *testing.T) {
	d := New()
	tx := makeTx(encodeETHSwap(WETH, tokenA), 1_000_000_000_000_000_000)

	trade := d.Decode(tx)
	if trade == nil {
		t.Fatal("expected trade")
	}
	if trade.Side != domain.TradeSideBuy {
		t.Errorf("expected buy, got %s", trade.Side)
	}
	if trade.Token != tokenA {
		t.Errorf("expected token %s, got %s", tokenA, trade.Token)
	}
	if trade.AmountIn.String() != "1000000000000000000" {
		t.Errorf("expected amount from tx value, got %s", trade.AmountIn)
	}
	if trade.Sender != sender {
		t.Errorf("unexpected sender: %s", trade.Sender)
	}
}

func TestDecode_MultiHopTakesLastHop(t *testing.T) {
	d := New()

	// Three-hop path: the acquired asset is the final element, whatever
	// the path length.
	tx := makeTx(encodeETHSwap(WETH, tokenA, tokenB), 1)
	trade := d.Decode(tx)
	if trade == nil {
		t.Fatal("expected trade")
	}
	if trade.Token != tokenB {
		t.Errorf("expected last hop %s, got %s", tokenB, trade.Token)
	}

	// Four hops still resolve to the last element.
	tx = makeTx(encodeETHSwap(WETH, tokenB, tokenB, tokenA), 1)
	trade = d.Decode(tx)
	if trade == nil {
		t.Fatal("expected trade")
	}
	if trade.Token != tokenA {
		t.Errorf("expected last hop %s, got %s", tokenA, trade.Token)
	}
}

func TestDecode_TokensForETHIsSell(t *testing.T) {
	d := New()
	sel := [4]byte{0x18, 0xcb, 0xaf, 0xe5}
	tx := makeTx(encodeTokenSwap(sel, 5000, tokenA, WETH), 0)

	trade := d.Decode(tx)
	if trade == nil {
		t.Fatal("expected trade")
	}
	if trade.Side != domain.TradeSideSell {
		t.Errorf("expected sell, got %s", trade.Side)
	}
	if trade.Token != tokenA {
		t.Errorf("sell should report the sold token, got %s", trade.Token)
	}
	if trade.AmountIn.Int64() != 5000 {
		t.Errorf("expected amountIn 5000, got %s", trade.AmountIn)
	}
}

func TestDecode_TokensForTokensIsBuy(t *testing.T) {
	d := New()
	sel := [4]byte{0x38, 0xed, 0x17, 0x39}
	tx := makeTx(encodeTokenSwap(sel, 7000, tokenA, tokenB), 0)

	trade := d.Decode(tx)
	if trade == nil {
		t.Fatal("expected trade")
	}
	if trade.Side != domain.TradeSideBuy {
		t.Errorf("expected buy, got %s", trade.Side)
	}
	if trade.Token != tokenB {
		t.Errorf("expected acquired token %s, got %s", tokenB, trade.Token)
	}
}

func TestDecode_MissesReturnNil(t *testing.T) {
	d := New()

	cases := []struct {
		name string
		tx   *domain.ResolvedTransaction
	}{
		{"nil tx", nil},
		{"empty input", makeTx(nil, 1)},
		{"unknown selector", makeTx([]byte{0xde, 0xad, 0xbe, 0xef}, 1)},
		{"truncated args", makeTx(encodeETHSwap(WETH, tokenA)[:68], 1)},
		{"ragged args", makeTx(append(encodeETHSwap(WETH, tokenA), 0x01), 1)},
		{"single-hop path", makeTx(encodeETHSwap(tokenA), 1)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if trade := d.Decode(tc.tx); trade != nil {
				t.Errorf("expected nil, got %+v", trade)
			}
		})
	}
}

func TestDecode_BadPathOffset(t *testing.T) {
	d := New()

	// Point the path offset past the end of the call-data.
	data := encodeETHSwap(WETH, tokenA)
	copy(data[4+wordSize:4+2*wordSize], uintWord(100000))

	if trade := d.Decode(makeTx(data, 1)); trade != nil {
		t.Errorf("expected nil for out-of-range offset, got %+v", trade)
	}
}

func TestDecode_OverlongPathLength(t *testing.T) {
	d := New()

	// Claim a path longer than the elements actually present.
	data := encodeETHSwap(WETH, tokenA)
	copy(data[4+4*wordSize:4+5*wordSize], uintWord(6))

	if trade := d.Decode(makeTx(data, 1)); trade != nil {
		t.Errorf("expected nil for overlong path, got %+v", trade)
	}
}

func TestRouterAllowed(t *testing.T) {
	d := New()
	for _, r := range []string{UniswapV2Router, UniswapV3Router, SushiSwapRouter, OneInchRouter} {
		if !d.RouterAllowed(r) {
			t.Errorf("expected %s on the allow-list", r)
		}
	}
	if d.RouterAllowed("0x0000000000000000000000000000000000000001") {
		t.Error("unknown router must not be allowed")
	}
	if !d.RouterAllowed("0x7A250D5630B4CF539739DF2C5DACB4C659F2488D") {
		t.Error("allow-list lookup should be case-insensitive")
	}
}
