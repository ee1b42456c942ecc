package token

import (
	"math/big"

	"github.com/google/uuid"
)

// FungibleAsset is the capability interface the engine needs from a
// collateral asset. Calls follow fungible-token semantics: mutations report
// success as a bool, and the engine treats false as a transfer failure.
type FungibleAsset interface {
	// Transfer moves amount from the engine's own holdings to a recipient.
	Transfer(to uuid.UUID, amount *big.Int) bool

	// TransferFrom pulls amount from a holder that approved the engine.
	TransferFrom(from, to uuid.UUID, amount *big.Int) bool

	BalanceOf(holder uuid.UUID) *big.Int
}

// MintableBurnable is the capability interface the engine needs from the
// stable token: mint debt tokens to borrowers and burn what it collects.
type MintableBurnable interface {
	Mint(to uuid.UUID, amount *big.Int) bool

	// Burn destroys amount from the engine's own balance (after a pull).
	Burn(amount *big.Int) bool

	// Transfer moves amount from the engine's own balance back to a
	// holder, used to return a pulled amount when a later step fails.
	Transfer(to uuid.UUID, amount *big.Int) bool

	TransferFrom(from, to uuid.UUID, amount *big.Int) bool
}
