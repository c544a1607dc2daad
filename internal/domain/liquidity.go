package domain

import "math/big"

// LiquiditySource tags where a liquidity figure came from.
type LiquiditySource string

const (
	// LiquidityLive means the value was read from the chain.
	LiquidityLive LiquiditySource = "live"
	// LiquidityFallback means the read failed and the documented constant
	// was used instead.
	LiquidityFallback LiquiditySource = "fallback"
)

// LiquidityValue is total pool liquidity together with its provenance, so
// callers (and tests) can tell a live read from the fallback constant.
type LiquidityValue struct {
	Amount *big.Int
	Source LiquiditySource
}
