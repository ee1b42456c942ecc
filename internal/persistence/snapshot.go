package persistence

import (
	"StableVault/internal/engine"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager stores and loads full-state snapshots. Restart recovery
// is snapshot-only: operations priced off a live feed cannot be replayed
// deterministically, so the books are restored wholesale and the operation
// log stays what it is, an audit trail.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized process state: both engine books plus
// every token ledger's balances. All amounts are wad decimal strings.
type SnapshotData struct {
	Collateral    map[string]map[string]string `json:"collateral"`     // user -> asset -> amount
	Debts         map[string]string            `json:"debts"`          // user -> amount
	TokenBalances map[string]map[string]string `json:"token_balances"` // symbol -> holder -> amount
	CreatedAt     time.Time                    `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// Save persists one snapshot row.
func (sm *SnapshotManager) Save(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO vault.snapshots (snapshot_id, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), data, len(data), snap.CreatedAt)
	return err
}

// LoadLatest returns the most recent snapshot, or nil on a cold start.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM vault.snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Prune deletes all but the newest keep snapshots.
func (sm *SnapshotManager) Prune(ctx context.Context, keep int) error {
	_, err := sm.db.ExecContext(ctx, `
		DELETE FROM vault.snapshots
		WHERE snapshot_id NOT IN (
			SELECT snapshot_id FROM vault.snapshots
			ORDER BY created_at DESC
			LIMIT $1
		)
	`, keep)
	return err
}

// EncodeState converts live engine state and token balances into
// serializable form.
func EncodeState(state engine.State, tokens map[string]map[uuid.UUID]*big.Int) *SnapshotData {
	snap := &SnapshotData{
		Collateral:    make(map[string]map[string]string, len(state.Collateral)),
		Debts:         make(map[string]string, len(state.Debts)),
		TokenBalances: make(map[string]map[string]string, len(tokens)),
		CreatedAt:     time.Now().UTC(),
	}
	for user, byAsset := range state.Collateral {
		entry := make(map[string]string, len(byAsset))
		for asset, amount := range byAsset {
			entry[asset] = amount.String()
		}
		snap.Collateral[user.String()] = entry
	}
	for user, debt := range state.Debts {
		snap.Debts[user.String()] = debt.String()
	}
	for symbol, balances := range tokens {
		entry := make(map[string]string, len(balances))
		for holder, amount := range balances {
			entry[holder.String()] = amount.String()
		}
		snap.TokenBalances[symbol] = entry
	}
	return snap
}

// DecodeState is the inverse of EncodeState.
func (snap *SnapshotData) DecodeState() (engine.State, map[string]map[uuid.UUID]*big.Int, error) {
	state := engine.State{
		Collateral: make(map[uuid.UUID]map[string]*big.Int, len(snap.Collateral)),
		Debts:      make(map[uuid.UUID]*big.Int, len(snap.Debts)),
	}
	for userStr, byAsset := range snap.Collateral {
		user, err := uuid.Parse(userStr)
		if err != nil {
			return engine.State{}, nil, fmt.Errorf("collateral user %q: %w", userStr, err)
		}
		entry := make(map[string]*big.Int, len(byAsset))
		for asset, s := range byAsset {
			amount, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return engine.State{}, nil, fmt.Errorf("collateral amount %q for %s/%s", s, userStr, asset)
			}
			entry[asset] = amount
		}
		state.Collateral[user] = entry
	}
	for userStr, s := range snap.Debts {
		user, err := uuid.Parse(userStr)
		if err != nil {
			return engine.State{}, nil, fmt.Errorf("debt user %q: %w", userStr, err)
		}
		debt, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return engine.State{}, nil, fmt.Errorf("debt amount %q for %s", s, userStr)
		}
		state.Debts[user] = debt
	}

	tokens := make(map[string]map[uuid.UUID]*big.Int, len(snap.TokenBalances))
	for symbol, balances := range snap.TokenBalances {
		entry := make(map[uuid.UUID]*big.Int, len(balances))
		for holderStr, s := range balances {
			holder, err := uuid.Parse(holderStr)
			if err != nil {
				return engine.State{}, nil, fmt.Errorf("token holder %q: %w", holderStr, err)
			}
			amount, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return engine.State{}, nil, fmt.Errorf("token balance %q for %s/%s", s, symbol, holderStr)
			}
			entry[holder] = amount
		}
		tokens[symbol] = entry
	}
	return state, tokens, nil
}
