package engine

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Operation kinds recorded in the audit log.
const (
	OpDeposit        = "deposit_collateral"
	OpMint           = "mint_debt"
	OpDepositAndMint = "deposit_and_mint"
	OpRedeem         = "redeem_collateral"
	OpBurn           = "burn_debt"
	OpRedeemForDebt  = "redeem_for_debt"
	OpLiquidate      = "liquidate"
)

// Record is the audit trail of one committed operation. Records are
// emitted after commit; a failed operation leaves no record.
type Record struct {
	ID         uuid.UUID
	Kind       string
	User       uuid.UUID
	Liquidator uuid.UUID // zero unless Kind is liquidate
	Asset      string    // empty for pure debt operations
	Amount     *big.Int  // collateral amount moved, nil if none
	Debt       *big.Int  // debt amount minted/burned/covered, nil if none
	Seized     *big.Int  // collateral paid to the liquidator, nil otherwise
	Health     *big.Int  // acting user's health factor after commit
	At         time.Time
}
