package report

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MinDisplayPercent is the smallest share rendered exactly; anything
// positive below it displays as "<0.01%".
const MinDisplayPercent = 0.01

// ShortenAddress renders 0x1234…abcd for display.
func ShortenAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "…" + hex[len(hex)-4:]
}

// FormatUnits converts a base-unit balance to a whole-unit decimal string
// with two fractional digits, without going through floating point.
func FormatUnits(balance *big.Int, decimals int) string {
	if balance == nil {
		return "0.00"
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, rem := new(big.Int).QuoRem(balance, unit, new(big.Int))

	// Two fractional digits, truncated.
	cents := new(big.Int).Div(new(big.Int).Mul(rem.Abs(rem), big.NewInt(100)), unit)
	return fmt.Sprintf("%s.%02d", whole.String(), cents.Int64())
}

// FormatPercent renders a pool share, collapsing tiny positive shares to
// "<0.01%".
func FormatPercent(pct float64) string {
	if pct > 0 && pct < MinDisplayPercent {
		return "<0.01%"
	}
	return fmt.Sprintf("%.2f%%", pct)
}
