package ledger

import (
	"StableVault/internal/fixedpoint"
	"StableVault/internal/oracle"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// CollateralBook is the per-user, per-asset record of deposited collateral.
// It is pure bookkeeping: token movement is the orchestrator's job, and the
// book is mutated before any external transfer is attempted
// (checks-effects-interactions). Only the engine mutates the book.
type CollateralBook struct {
	mu       sync.RWMutex
	assets   []string // registration order, fixed at construction
	adapters map[string]*oracle.Adapter
	deposits map[uuid.UUID]map[string]*big.Int
}

func NewCollateralBook(assets []string, adapters map[string]*oracle.Adapter) *CollateralBook {
	registered := make([]string, len(assets))
	copy(registered, assets)
	return &CollateralBook{
		assets:   registered,
		adapters: adapters,
		deposits: make(map[uuid.UUID]map[string]*big.Int),
	}
}

// Supported reports whether asset is in the registered set.
func (cb *CollateralBook) Supported(asset string) bool {
	_, ok := cb.adapters[asset]
	return ok
}

// Assets returns the registered assets in registration order.
func (cb *CollateralBook) Assets() []string {
	out := make([]string, len(cb.assets))
	copy(out, cb.assets)
	return out
}

// Deposit increments a user's entry. Positions are created implicitly on
// first deposit.
func (cb *CollateralBook) Deposit(user uuid.UUID, asset string, amount *big.Int) error {
	if !fixedpoint.IsPositive(amount) {
		return ErrNonPositiveAmount
	}
	if !cb.Supported(asset) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	entry := cb.entry(user, asset)
	entry.Add(entry, amount)
	return nil
}

// Withdraw decrements a user's entry. The subtraction is checked, never
// wrapping: if the entry is smaller than amount the book is left untouched
// and ErrInsufficientCollateral is returned.
func (cb *CollateralBook) Withdraw(user uuid.UUID, asset string, amount *big.Int) error {
	if !fixedpoint.IsPositive(amount) {
		return ErrNonPositiveAmount
	}
	if !cb.Supported(asset) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	entry := cb.entry(user, asset)
	if entry.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s %s", ErrInsufficientCollateral, entry, amount, asset)
	}
	entry.Sub(entry, amount)
	return nil
}

// Balance returns a copy of a user's deposited amount for one asset.
func (cb *CollateralBook) Balance(user uuid.UUID, asset string) *big.Int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if byAsset, ok := cb.deposits[user]; ok {
		if b, ok := byAsset[asset]; ok {
			return fixedpoint.Clone(b)
		}
	}
	return new(big.Int)
}

// TotalUsd values a user's collateral across all registered assets at the
// current oracle prices. View-only; O(registered assets).
func (cb *CollateralBook) TotalUsd(user uuid.UUID) (*big.Int, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	total := new(big.Int)
	byAsset := cb.deposits[user]

	for _, asset := range cb.assets {
		b, ok := byAsset[asset]
		if !ok || b.Sign() == 0 {
			continue
		}
		usd, err := cb.adapters[asset].UsdValue(b)
		if err != nil {
			return nil, err
		}
		total.Add(total, usd)
	}
	return total, nil
}

// TotalDeposited sums all users' entries for one asset. The conservation
// invariant ties this to the engine's custodied balance of the asset.
func (cb *CollateralBook) TotalDeposited(asset string) *big.Int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	total := new(big.Int)
	for _, byAsset := range cb.deposits {
		if b, ok := byAsset[asset]; ok {
			total.Add(total, b)
		}
	}
	return total
}

// Snapshot returns a deep copy of all entries, for persistence.
func (cb *CollateralBook) Snapshot() map[uuid.UUID]map[string]*big.Int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	out := make(map[uuid.UUID]map[string]*big.Int, len(cb.deposits))
	for user, byAsset := range cb.deposits {
		userCopy := make(map[string]*big.Int, len(byAsset))
		for asset, b := range byAsset {
			if b.Sign() == 0 {
				continue
			}
			userCopy[asset] = fixedpoint.Clone(b)
		}
		if len(userCopy) > 0 {
			out[user] = userCopy
		}
	}
	return out
}

// Restore overwrites the book from a snapshot. Unregistered assets in the
// snapshot are rejected.
func (cb *CollateralBook) Restore(entries map[uuid.UUID]map[string]*big.Int) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	restored := make(map[uuid.UUID]map[string]*big.Int, len(entries))
	for user, byAsset := range entries {
		userCopy := make(map[string]*big.Int, len(byAsset))
		for asset, b := range byAsset {
			if _, ok := cb.adapters[asset]; !ok {
				return fmt.Errorf("%w: %s in snapshot", ErrUnsupportedAsset, asset)
			}
			if b.Sign() < 0 {
				return fmt.Errorf("negative snapshot entry for %s/%s: %s", user, asset, b)
			}
			userCopy[asset] = fixedpoint.Clone(b)
		}
		restored[user] = userCopy
	}
	cb.deposits = restored
	return nil
}

// Users returns every user with at least one entry (including zeroed ones).
func (cb *CollateralBook) Users() []uuid.UUID {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(cb.deposits))
	for user := range cb.deposits {
		out = append(out, user)
	}
	return out
}

// entry returns the mutable entry for (user, asset), creating it at zero.
// Caller must hold cb.mu.
func (cb *CollateralBook) entry(user uuid.UUID, asset string) *big.Int {
	byAsset, ok := cb.deposits[user]
	if !ok {
		byAsset = make(map[string]*big.Int, len(cb.assets))
		cb.deposits[user] = byAsset
	}
	b, ok := byAsset[asset]
	if !ok {
		b = new(big.Int)
		byAsset[asset] = b
	}
	return b
}
