package engine

import (
	"StableVault/internal/fixedpoint"
	"math/big"
)

// Protocol parameters, fixed for the life of the process. Threshold and
// bonus are percentages over LiquidationPrecision.
const (
	// LiquidationThreshold counts 50% of raw collateral value toward the
	// health factor, which requires at least 200% collateralization.
	LiquidationThreshold = 50

	// LiquidationBonus is the extra collateral share paid to a liquidator
	// on top of the covered debt's asset value.
	LiquidationBonus = 10

	LiquidationPrecision = 100
)

var (
	// Precision is the 18-decimal scaling unit shared by all amounts.
	Precision = fixedpoint.Wad

	// MinHealthFactor is 1.0 in wad scale. Strictly below it a position is
	// liquidatable.
	MinHealthFactor = fixedpoint.Clone(fixedpoint.Wad)

	// MaxHealthFactor is the value reported for debt-free positions,
	// 2^256 - 1. Nothing compares above it.
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)
