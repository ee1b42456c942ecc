package fixedpoint

import (
	"math/big"
	"sync"
)

// All engine-internal values are scaled integers with 18 decimal places (wad).
// Amounts regularly exceed int64 (e.g. 30000 USD = 3*10^22), so wads are
// *big.Int throughout.
const WadDecimals = 18

// Wad is the 18-decimal scaling unit, 10^18. Treat as read-only.
var Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)

var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv computes a * b / denom with truncation toward zero.
// Truncation is the single rounding direction used everywhere in the engine;
// using it in both the value->usd and usd->value directions keeps the
// round-trip error bounded by one unit of internal precision and leaves no
// exploitable rounding drift.
func MulDiv(a, b, denom *big.Int) *big.Int {
	product := getInt()
	product.Mul(a, b)

	result := new(big.Int).Quo(product, denom)

	putInt(product)
	return result
}

// MulWad computes a * b / Wad (truncating), for two wad-scaled operands.
func MulWad(a, b *big.Int) *big.Int {
	return MulDiv(a, b, Wad)
}

// DivWad computes a * Wad / b (truncating), the wad-scaled quotient a/b.
func DivWad(a, b *big.Int) *big.Int {
	return MulDiv(a, Wad, b)
}

// FromUnits returns n whole units as a wad (n * 10^18).
func FromUnits(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Wad)
}

// Clone returns an independent copy of v. Book and token code returns clones
// so callers can never alias internal state.
func Clone(v *big.Int) *big.Int {
	return new(big.Int).Set(v)
}

// IsPositive reports v > 0.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
