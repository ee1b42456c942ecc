package server

import (
	"StableVault/internal/fixedpoint"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// The API speaks human-readable decimal strings ("15.5" units); the engine
// speaks wads. The codec converts between the two, rejecting anything that
// does not land exactly on the 18-decimal grid.

// ParseAmount converts a decimal string into a wad.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	scaled := d.Shift(fixedpoint.WadDecimals)
	if scaled.Exponent() < 0 && !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, fixedpoint.WadDecimals)
	}
	return scaled.BigInt(), nil
}

// FormatAmount renders a wad as a decimal string.
func FormatAmount(wad *big.Int) string {
	return decimal.NewFromBigInt(wad, -fixedpoint.WadDecimals).String()
}
