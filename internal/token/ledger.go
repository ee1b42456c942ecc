package token

import (
	"StableVault/internal/fixedpoint"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// Ledger is a minimal in-memory fungible-token ledger: supply, balances,
// allowances. One type serves both roles the engine consumes — the stable
// token (mint/burn gated to the authority) and collateral assets.
//
// Invariant: sum of all balances equals the total supply. Every mutation is
// a guarded all-or-nothing step; a false return leaves the ledger unchanged.
type Ledger struct {
	mu         sync.RWMutex
	symbol     string
	authority  uuid.UUID // holder allowed to mint/burn; also "self" for Transfer
	supply     *big.Int
	balances   map[uuid.UUID]*big.Int
	allowances map[uuid.UUID]map[uuid.UUID]*big.Int // holder -> spender -> remaining
}

func NewLedger(symbol string, authority uuid.UUID) *Ledger {
	return &Ledger{
		symbol:     symbol,
		authority:  authority,
		supply:     new(big.Int),
		balances:   make(map[uuid.UUID]*big.Int),
		allowances: make(map[uuid.UUID]map[uuid.UUID]*big.Int),
	}
}

func (l *Ledger) Symbol() string {
	return l.symbol
}

// TotalSupply returns a copy of the current supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fixedpoint.Clone(l.supply)
}

// BalanceOf returns a copy of a holder's balance (zero if unknown).
func (l *Ledger) BalanceOf(holder uuid.UUID) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[holder]; ok {
		return fixedpoint.Clone(b)
	}
	return new(big.Int)
}

// Allowance returns the remaining amount spender may pull from holder.
func (l *Ledger) Allowance(holder, spender uuid.UUID) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if m, ok := l.allowances[holder]; ok {
		if a, ok := m[spender]; ok {
			return fixedpoint.Clone(a)
		}
	}
	return new(big.Int)
}

// Approve sets the allowance spender may pull from holder.
func (l *Ledger) Approve(holder, spender uuid.UUID, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.allowances[holder]
	if !ok {
		m = make(map[uuid.UUID]*big.Int)
		l.allowances[holder] = m
	}
	m[spender] = fixedpoint.Clone(amount)
}

// Mint creates amount for a recipient. Only meaningful for the ledger's
// authority (the engine); callers other than the authority are modeled by
// not exposing the ledger to them.
func (l *Ledger) Mint(to uuid.UUID, amount *big.Int) bool {
	if !fixedpoint.IsPositive(amount) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(to, amount)
	l.supply.Add(l.supply, amount)
	return true
}

// Burn destroys amount from the authority's own balance.
func (l *Ledger) Burn(amount *big.Int) bool {
	if !fixedpoint.IsPositive(amount) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.debit(l.authority, amount) {
		return false
	}
	l.supply.Sub(l.supply, amount)
	return true
}

// Transfer moves amount from the authority's holdings to a recipient.
func (l *Ledger) Transfer(to uuid.UUID, amount *big.Int) bool {
	if !fixedpoint.IsPositive(amount) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.debit(l.authority, amount) {
		return false
	}
	l.credit(to, amount)
	return true
}

// TransferFrom pulls amount from a holder that approved the authority.
// Allowance and balance are both checked before any state changes.
func (l *Ledger) TransferFrom(from, to uuid.UUID, amount *big.Int) bool {
	if !fixedpoint.IsPositive(amount) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining, ok := l.allowances[from][l.authority]
	if !ok || remaining.Cmp(amount) < 0 {
		return false
	}
	if !l.debit(from, amount) {
		return false
	}
	remaining.Sub(remaining, amount)
	l.credit(to, amount)
	return true
}

// Seed credits a holder directly, growing supply. Bootstrap/test helper for
// collateral assets whose real issuance lives outside this system.
func (l *Ledger) Seed(holder uuid.UUID, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(holder, amount)
	l.supply.Add(l.supply, amount)
}

// Balances returns a copy of all balances, for snapshots.
func (l *Ledger) Balances() map[uuid.UUID]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[uuid.UUID]*big.Int, len(l.balances))
	for holder, b := range l.balances {
		out[holder] = fixedpoint.Clone(b)
	}
	return out
}

// Restore overwrites balances and supply from a snapshot.
func (l *Ledger) Restore(balances map[uuid.UUID]*big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[uuid.UUID]*big.Int, len(balances))
	supply := new(big.Int)
	for holder, b := range balances {
		l.balances[holder] = fixedpoint.Clone(b)
		supply.Add(supply, b)
	}
	l.supply = supply
}

func (l *Ledger) credit(holder uuid.UUID, amount *big.Int) {
	b, ok := l.balances[holder]
	if !ok {
		b = new(big.Int)
		l.balances[holder] = b
	}
	b.Add(b, amount)
}

// debit subtracts amount from holder, failing (untouched) on insufficient
// balance. Balances can never go negative.
func (l *Ledger) debit(holder uuid.UUID, amount *big.Int) bool {
	b, ok := l.balances[holder]
	if !ok || b.Cmp(amount) < 0 {
		return false
	}
	b.Sub(b, amount)
	return true
}
