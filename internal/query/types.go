package query

import (
	"time"

	"github.com/google/uuid"
)

// AccountResponse is the full view of one user's position. Amounts are wad
// decimal strings rendered human-readable by the API layer.
type AccountResponse struct {
	UserID        uuid.UUID         `json:"user_id"`
	Debt          string            `json:"debt"`
	CollateralUsd string            `json:"collateral_usd"`
	HealthFactor  string            `json:"health_factor"`
	Collateral    map[string]string `json:"collateral"`
}

// OperationResponse is one audit-log entry for API queries.
type OperationResponse struct {
	OpID       uuid.UUID `json:"op_id"`
	Kind       string    `json:"kind"`
	UserID     uuid.UUID `json:"user_id"`
	Liquidator string    `json:"liquidator,omitempty"`
	Asset      string    `json:"asset,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Debt       string    `json:"debt,omitempty"`
	Seized     string    `json:"seized,omitempty"`
	Health     string    `json:"health,omitempty"`
	At         time.Time `json:"at"`
}

// ConstantsResponse exposes the protocol parameters.
type ConstantsResponse struct {
	Precision            string `json:"precision"`
	LiquidationThreshold int64  `json:"liquidation_threshold"`
	LiquidationBonus     int64  `json:"liquidation_bonus"`
	LiquidationPrecision int64  `json:"liquidation_precision"`
	MinHealthFactor      string `json:"min_health_factor"`
}
