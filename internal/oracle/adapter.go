package oracle

import (
	"StableVault/internal/fixedpoint"
	"fmt"
	"math/big"
	"time"
)

// FeedDecimals is the decimal precision of feed prices. Feeds commonly
// publish 8-decimal USD prices; the adapter normalizes to the engine's
// 18-decimal wads before any multiplication.
const FeedDecimals = 8

// DefaultStaleAfter is the staleness timeout applied when none is configured.
const DefaultStaleAfter = 3 * time.Hour

// Adapter wraps one price feed for one collateral asset. It normalizes feed
// precision and rejects stale observations; the engine only ever consumes
// wad-scaled USD values from it.
type Adapter struct {
	asset      string
	source     PriceSource
	staleAfter time.Duration
	scaleUp    *big.Int // 10^(18 - FeedDecimals)

	now func() time.Time // injectable clock
}

func NewAdapter(asset string, source PriceSource, staleAfter time.Duration) *Adapter {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Adapter{
		asset:      asset,
		source:     source,
		staleAfter: staleAfter,
		scaleUp:    new(big.Int).Exp(big.NewInt(10), big.NewInt(fixedpoint.WadDecimals-FeedDecimals), nil),
		now:        time.Now,
	}
}

// Asset returns the collateral asset this adapter prices.
func (a *Adapter) Asset() string {
	return a.asset
}

// wadPrice fetches the latest feed price, enforces the staleness timeout,
// and returns the price scaled to 18 decimals.
func (a *Adapter) wadPrice() (*big.Int, error) {
	price, updatedAt, err := a.source.LatestPrice(a.asset)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", a.asset, err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("feed %s: %w", a.asset, ErrInvalidPrice)
	}
	if a.now().Sub(updatedAt) > a.staleAfter {
		return nil, fmt.Errorf("feed %s (updated %s): %w", a.asset, updatedAt.UTC().Format(time.RFC3339), ErrStalePrice)
	}
	return new(big.Int).Mul(big.NewInt(price), a.scaleUp), nil
}

// UsdValue converts a wad asset amount into its wad USD value:
// usd = price * amount / 1e18, truncating toward zero.
func (a *Adapter) UsdValue(amount *big.Int) (*big.Int, error) {
	price, err := a.wadPrice()
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulWad(price, amount), nil
}

// AssetAmountFromUsd is the inverse of UsdValue:
// amount = usd * 1e18 / price, truncating toward zero. Truncating in both
// directions keeps the pair free of exploitable rounding drift.
func (a *Adapter) AssetAmountFromUsd(usd *big.Int) (*big.Int, error) {
	price, err := a.wadPrice()
	if err != nil {
		return nil, err
	}
	return fixedpoint.DivWad(usd, price), nil
}
