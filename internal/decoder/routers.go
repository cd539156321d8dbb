package decoder

import "strings"

// Known swap-router entry points (Ethereum mainnet, lowercase).
const (
	UniswapV2Router = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
	UniswapV3Router = "0xe592427a0aece92de3edee1f18e0157c05861564"
	SushiSwapRouter = "0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f"
	OneInchRouter   = "0x1111111254eeb25477b68fb85ed929f73a960582"
)

// WETH is the wrapped native token; a swap path ending in WETH is an
// exit to the native asset.
const WETH = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"

// DefaultRouters returns the default router allow-list.
func DefaultRouters() map[string]bool {
	return map[string]bool{
		UniswapV2Router: true,
		UniswapV3Router: true,
		SushiSwapRouter: true,
		OneInchRouter:   true,
	}
}

// RouterAllowed reports whether addr is on the allow-list.
func (d *Decoder) RouterAllowed(addr string) bool {
	return d.routers[strings.ToLower(addr)]
}
