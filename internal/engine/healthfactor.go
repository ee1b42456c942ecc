package engine

import (
	"StableVault/internal/fixedpoint"
	"math/big"
)

// HealthFactor derives the solvency ratio of a position from its debt and
// raw collateral USD value, both in wad scale.
//
// A debt-free position reports MaxHealthFactor: without debt there is
// nothing to liquidate, whatever the collateral (including none).
// Otherwise only LiquidationThreshold percent of the collateral value
// counts, and the result is that adjusted value over the debt, wad-scaled:
//
//	adjusted = collateralUsd * LiquidationThreshold / LiquidationPrecision
//	factor   = adjusted * 1e18 / debt
func HealthFactor(debt, collateralUsd *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return fixedpoint.Clone(MaxHealthFactor)
	}
	adjusted := fixedpoint.MulDiv(collateralUsd, big.NewInt(LiquidationThreshold), big.NewInt(LiquidationPrecision))
	return fixedpoint.DivWad(adjusted, debt)
}

// healthy reports factor >= MinHealthFactor.
func healthy(factor *big.Int) bool {
	return factor.Cmp(MinHealthFactor) >= 0
}
