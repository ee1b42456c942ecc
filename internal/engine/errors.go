package engine

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrLengthMismatch means the constructor's asset and oracle lists
	// differ in length; the 1:1 asset-to-feed pairing cannot be built.
	ErrLengthMismatch = errors.New("engine: asset and oracle lists differ in length")

	// ErrBusy means a mutating operation was invoked while another was in
	// flight. Re-entry is rejected outright, never queued.
	ErrBusy = errors.New("engine: mutating operation already in flight")

	// ErrHealthFactorOk means a liquidation targeted a position that is
	// not liquidatable.
	ErrHealthFactorOk = errors.New("engine: target health factor is not below minimum")

	// ErrHealthFactorNotImproved means a liquidation did not lift the
	// target strictly above the minimum; its effects were undone.
	ErrHealthFactorNotImproved = errors.New("engine: liquidation did not restore target health")

	// Token collaborators report failure as a bool; these give the false
	// branch a typed reason.
	ErrTransferFailed = errors.New("engine: asset transfer failed")
	ErrMintFailed     = errors.New("engine: stable token mint failed")
	ErrBurnFailed     = errors.New("engine: stable token burn failed")
)

// BreaksHealthFactorError reports the offending factor so callers can see
// how far below the minimum the operation would have left the position.
type BreaksHealthFactorError struct {
	Factor *big.Int
}

func (e *BreaksHealthFactorError) Error() string {
	return fmt.Sprintf("engine: operation breaks health factor (%s < %s)", e.Factor, MinHealthFactor)
}

// IsBreaksHealthFactor reports whether err is a health-factor violation.
func IsBreaksHealthFactor(err error) bool {
	var target *BreaksHealthFactorError
	return errors.As(err, &target)
}
