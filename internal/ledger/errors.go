package ledger

import "errors"

var (
	// ErrNonPositiveAmount rejects zero or negative amounts on any book
	// mutation.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")

	// ErrUnsupportedAsset rejects assets outside the registered set.
	ErrUnsupportedAsset = errors.New("ledger: unsupported collateral asset")

	// ErrInsufficientCollateral means a withdrawal would take a collateral
	// entry below zero. Entries never wrap; the operation fails whole.
	ErrInsufficientCollateral = errors.New("ledger: insufficient collateral")

	// ErrInsufficientDebt means a decrease would take a debt entry below
	// zero. A correct caller never triggers this; it is a hard guard, not
	// an assumption.
	ErrInsufficientDebt = errors.New("ledger: insufficient debt")
)
