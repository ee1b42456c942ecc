package ledger

import (
	"StableVault/internal/fixedpoint"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// DebtBook records stable-token debt per user. Like the collateral book it
// is pure bookkeeping; the token mint and burn happen in the orchestrator.
type DebtBook struct {
	mu    sync.RWMutex
	debts map[uuid.UUID]*big.Int
}

func NewDebtBook() *DebtBook {
	return &DebtBook{debts: make(map[uuid.UUID]*big.Int)}
}

func (db *DebtBook) Increase(user uuid.UUID, amount *big.Int) error {
	if !fixedpoint.IsPositive(amount) {
		return ErrNonPositiveAmount
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	d, ok := db.debts[user]
	if !ok {
		d = new(big.Int)
		db.debts[user] = d
	}
	d.Add(d, amount)
	return nil
}

// Decrease reduces a user's debt. Checked subtraction: reducing below zero
// leaves the book untouched and returns ErrInsufficientDebt.
func (db *DebtBook) Decrease(user uuid.UUID, amount *big.Int) error {
	if !fixedpoint.IsPositive(amount) {
		return ErrNonPositiveAmount
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	d, ok := db.debts[user]
	if !ok || d.Cmp(amount) < 0 {
		have := new(big.Int)
		if ok {
			have = d
		}
		return fmt.Errorf("%w: have %s, repaying %s", ErrInsufficientDebt, have, amount)
	}
	d.Sub(d, amount)
	return nil
}

// Debt returns a copy of a user's outstanding debt.
func (db *DebtBook) Debt(user uuid.UUID) *big.Int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if d, ok := db.debts[user]; ok {
		return fixedpoint.Clone(d)
	}
	return new(big.Int)
}

// Total sums all outstanding debt. The conservation invariant ties this to
// the stable token's total supply.
func (db *DebtBook) Total() *big.Int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	total := new(big.Int)
	for _, d := range db.debts {
		total.Add(total, d)
	}
	return total
}

func (db *DebtBook) Snapshot() map[uuid.UUID]*big.Int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make(map[uuid.UUID]*big.Int, len(db.debts))
	for user, d := range db.debts {
		if d.Sign() == 0 {
			continue
		}
		out[user] = fixedpoint.Clone(d)
	}
	return out
}

func (db *DebtBook) Restore(entries map[uuid.UUID]*big.Int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	restored := make(map[uuid.UUID]*big.Int, len(entries))
	for user, d := range entries {
		if d.Sign() < 0 {
			return fmt.Errorf("negative snapshot debt for %s: %s", user, d)
		}
		restored[user] = fixedpoint.Clone(d)
	}
	db.debts = restored
	return nil
}
