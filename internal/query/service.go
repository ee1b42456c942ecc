package query

import (
	"StableVault/internal/engine"
	"StableVault/internal/persistence"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service serves read-only views: live position state straight from the
// engine's books, operation history from the Postgres audit log.
type Service struct {
	eng   *engine.Engine
	oplog *persistence.OperationLogWriter
}

func NewService(eng *engine.Engine, oplog *persistence.OperationLogWriter) *Service {
	return &Service{eng: eng, oplog: oplog}
}

// GetAccount returns the full position view for one user.
func (s *Service) GetAccount(user uuid.UUID) (*AccountResponse, error) {
	debt, collateralUsd, err := s.eng.AccountInformation(user)
	if err != nil {
		return nil, fmt.Errorf("account information: %w", err)
	}
	factor, err := s.eng.HealthFactor(user)
	if err != nil {
		return nil, fmt.Errorf("health factor: %w", err)
	}

	collateral := make(map[string]string)
	for _, asset := range s.eng.Assets() {
		if b := s.eng.CollateralBalance(user, asset); b.Sign() > 0 {
			collateral[asset] = b.String()
		}
	}

	return &AccountResponse{
		UserID:        user,
		Debt:          debt.String(),
		CollateralUsd: collateralUsd.String(),
		HealthFactor:  factor.String(),
		Collateral:    collateral,
	}, nil
}

// GetOperations returns a user's operation history, newest first.
func (s *Service) GetOperations(ctx context.Context, user uuid.UUID, limit int) ([]OperationResponse, error) {
	rows, err := s.oplog.ListByUser(ctx, user, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return toResponses(rows), nil
}

// GetRecentOperations returns the newest operations across all users.
func (s *Service) GetRecentOperations(ctx context.Context, limit int) ([]OperationResponse, error) {
	rows, err := s.oplog.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return toResponses(rows), nil
}

// Constants returns the protocol parameters.
func (s *Service) Constants() ConstantsResponse {
	return ConstantsResponse{
		Precision:            engine.Precision.String(),
		LiquidationThreshold: engine.LiquidationThreshold,
		LiquidationBonus:     engine.LiquidationBonus,
		LiquidationPrecision: engine.LiquidationPrecision,
		MinHealthFactor:      engine.MinHealthFactor.String(),
	}
}

func toResponses(rows []persistence.OperationRow) []OperationResponse {
	out := make([]OperationResponse, 0, len(rows))
	for _, r := range rows {
		resp := OperationResponse{
			OpID:   r.OpID,
			Kind:   r.Kind,
			UserID: r.UserID,
			At:     r.At,
		}
		if r.Liquidator != nil {
			resp.Liquidator = r.Liquidator.String()
		}
		if r.Asset != nil {
			resp.Asset = *r.Asset
		}
		if r.Amount != nil {
			resp.Amount = *r.Amount
		}
		if r.Debt != nil {
			resp.Debt = *r.Debt
		}
		if r.Seized != nil {
			resp.Seized = *r.Seized
		}
		if r.Health != nil {
			resp.Health = *r.Health
		}
		out = append(out, resp)
	}
	return out
}
