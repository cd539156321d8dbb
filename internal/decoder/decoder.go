// Package decoder extracts swap trades from router call-data.
//
// Decoding failures are expected: most call-data on the feed is
// irrelevant, so any unrecognized selector or length/offset mismatch
// yields no trade rather than an error. The acquired asset is always the
// last hop of the swap path, read through the ABI dynamic-array header so
// multi-hop paths of any length decode correctly.
package decoder

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"strings"

	"mempool-mirror/internal/domain"
)

const (
	wordSize    = 32
	addressSize = 20
	// maxPathLen bounds swap paths; anything longer is treated as
	// unrecognized call-data.
	maxPathLen = 8
)

// selectorSpec describes how to extract a trade for one router method.
type selectorSpec struct {
	name string
	// pathArg is the argument index of the address[] path.
	pathArg int
	// amountArg is the argument index of amountIn; -1 means the input
	// amount is the transaction value (ETH-funded swaps).
	amountArg int
}

// Method selectors for recognized swap entry points.
var defaultSelectors = map[[4]byte]selectorSpec{
	// swapExactETHForTokens(uint256,address[],address,uint256)
	{0x7f, 0xf3, 0x6a, 0xb5}: {name: "swapExactETHForTokens", pathArg: 1, amountArg: -1},
	// swapExactTokensForETH(uint256,uint256,address[],address,uint256)
	{0x18, 0xcb, 0xaf, 0xe5}: {name: "swapExactTokensForETH", pathArg: 2, amountArg: 0},
	// swapExactTokensForTokens(uint256,uint256,address[],address,uint256)
	{0x38, 0xed, 0x17, 0x39}: {name: "swapExactTokensForTokens", pathArg: 2, amountArg: 0},
}

// Decoder recognizes a fixed table of router method selectors.
type Decoder struct {
	selectors map[[4]byte]selectorSpec
	routers   map[string]bool
}

// New creates a Decoder with the default selector table and router
// allow-list.
func New() *Decoder {
	return &Decoder{
		selectors: defaultSelectors,
		routers:   DefaultRouters(),
	}
}

// Decode extracts a trade from a resolved transaction's call-data.
// Returns nil for anything that is not a recognized, well-formed swap.
func (d *Decoder) Decode(tx *domain.ResolvedTransaction) *domain.DecodedTrade {
	if tx == nil || len(tx.Input) < 4 || tx.To == "" {
		return nil
	}

	var sel [4]byte
	copy(sel[:], tx.Input[:4])
	spec, ok := d.selectors[sel]
	if !ok {
		return nil
	}

	args := tx.Input[4:]
	if len(args)%wordSize != 0 {
		return nil
	}

	path, ok := readAddressPath(args, spec.pathArg)
	if !ok {
		return nil
	}

	amountIn := new(big.Int)
	if spec.amountArg < 0 {
		if tx.Value == nil {
			return nil
		}
		amountIn.Set(tx.Value)
	} else {
		w, ok := word(args, spec.amountArg)
		if !ok {
			return nil
		}
		amountIn.SetBytes(w)
	}

	trade := &domain.DecodedTrade{
		Sender:     strings.ToLower(tx.From),
		Router:     strings.ToLower(tx.To),
		AmountIn:   amountIn,
		TxHash:     tx.Hash,
		ObservedAt: tx.ObservedAt,
	}

	// The last hop is the asset being acquired. A path ending in WETH is
	// an exit from the first-hop token.
	last := path[len(path)-1]
	if last == WETH {
		trade.Side = domain.TradeSideSell
		trade.Token = path[0]
	} else {
		trade.Side = domain.TradeSideBuy
		trade.Token = last
	}
	return trade
}

// word returns argument word i, or false if args is too short.
func word(args []byte, i int) ([]byte, bool) {
	start := i * wordSize
	if start < 0 || start+wordSize > len(args) {
		return nil, false
	}
	return args[start : start+wordSize], true
}

// readAddressPath follows the dynamic-array header at argument index
// pathArg and returns the address path. Any offset or length that does
// not fit the call-data yields false.
func readAddressPath(args []byte, pathArg int) ([]string, bool) {
	offsetWord, ok := word(args, pathArg)
	if !ok {
		return nil, false
	}
	offset := new(big.Int).SetBytes(offsetWord)
	if !offset.IsInt64() {
		return nil, false
	}
	pos := int(offset.Int64())
	if pos < 0 || pos+wordSize > len(args) {
		return nil, false
	}

	length := new(big.Int).SetBytes(args[pos : pos+wordSize])
	if !length.IsInt64() {
		return nil, false
	}
	n := int(length.Int64())
	if n < 2 || n > maxPathLen {
		return nil, false
	}

	elemStart := pos + wordSize
	if elemStart+n*wordSize > len(args) {
		return nil, false
	}

	path := make([]string, 0, n)
	for i := 0; i < n; i++ {
		w := args[elemStart+i*wordSize : elemStart+(i+1)*wordSize]
		// Address words must be left-padded with zeros.
		if !bytes.Equal(w[:wordSize-addressSize], make([]byte, wordSize-addressSize)) {
			return nil, false
		}
		path = append(path, "0x"+hex.EncodeToString(w[wordSize-addressSize:]))
	}
	return path, true
}
