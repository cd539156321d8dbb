package ethereum

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Transaction is a full transaction record from the chain query endpoint.
type Transaction struct {
	Hash     string
	From     string
	To       string // empty for contract creation
	Input    []byte
	Value    *big.Int
	GasPrice *big.Int
	Nonce    uint64
}

// Receipt statuses.
const (
	ReceiptStatusFailed  = 0
	ReceiptStatusSuccess = 1
)

// Receipt is a mined-transaction receipt.
type Receipt struct {
	TxHash      string
	Status      uint64
	BlockNumber uint64
}

// parseHexBig parses a 0x-prefixed hex quantity into a big.Int.
func parseHexBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return v, nil
}

// parseHexUint64 parses a 0x-prefixed hex quantity into a uint64.
func parseHexUint64(s string) (uint64, error) {
	v, err := parseHexBig(s)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("hex quantity %q overflows uint64", s)
	}
	return v.Uint64(), nil
}

// parseHexBytes parses 0x-prefixed hex data into bytes.
func parseHexBytes(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return b, nil
}
