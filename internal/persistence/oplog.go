package persistence

import (
	"StableVault/internal/engine"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperationRow is one row in vault.operations, the append-only audit log of
// committed engine operations. Amounts are stored as decimal strings; wads
// exceed every native integer column.
type OperationRow struct {
	OpID       uuid.UUID
	Kind       string
	UserID     uuid.UUID
	Liquidator *uuid.UUID
	Asset      *string
	Amount     *string
	Debt       *string
	Seized     *string
	Health     *string
	At         time.Time
}

// RowFromRecord converts a committed engine record into its storage row.
func RowFromRecord(rec engine.Record) OperationRow {
	row := OperationRow{
		OpID:   rec.ID,
		Kind:   rec.Kind,
		UserID: rec.User,
		At:     rec.At,
	}
	if rec.Liquidator != uuid.Nil {
		liq := rec.Liquidator
		row.Liquidator = &liq
	}
	if rec.Asset != "" {
		asset := rec.Asset
		row.Asset = &asset
	}
	if rec.Amount != nil {
		s := rec.Amount.String()
		row.Amount = &s
	}
	if rec.Debt != nil {
		s := rec.Debt.String()
		row.Debt = &s
	}
	if rec.Seized != nil {
		s := rec.Seized.String()
		row.Seized = &s
	}
	if rec.Health != nil {
		s := rec.Health.String()
		row.Health = &s
	}
	return row
}

// OperationLogWriter batch-inserts operation rows using multi-row INSERT.
type OperationLogWriter struct {
	db *sql.DB
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// WriteBatch inserts rows in one statement. Conflicting op_ids are skipped,
// so a retried batch never duplicates.
func (w *OperationLogWriter) WriteBatch(ctx context.Context, rows []OperationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO vault.operations
		(op_id, kind, user_id, liquidator_id, asset, amount, debt, seized, health, at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*10)

	for i, r := range rows {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			r.OpID, r.Kind, r.UserID, r.Liquidator,
			r.Asset, r.Amount, r.Debt, r.Seized, r.Health, r.At,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (op_id) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// ListByUser returns a user's operations, newest first.
func (w *OperationLogWriter) ListByUser(ctx context.Context, user uuid.UUID, limit int) ([]OperationRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT op_id, kind, user_id, liquidator_id, asset, amount, debt, seized, health, at
		FROM vault.operations
		WHERE user_id = $1 OR liquidator_id = $1
		ORDER BY at DESC
		LIMIT $2
	`, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOperations(rows)
}

// ListRecent returns the newest operations across all users.
func (w *OperationLogWriter) ListRecent(ctx context.Context, limit int) ([]OperationRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT op_id, kind, user_id, liquidator_id, asset, amount, debt, seized, health, at
		FROM vault.operations
		ORDER BY at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOperations(rows)
}

func scanOperations(rows *sql.Rows) ([]OperationRow, error) {
	var out []OperationRow
	for rows.Next() {
		var r OperationRow
		if err := rows.Scan(
			&r.OpID, &r.Kind, &r.UserID, &r.Liquidator,
			&r.Asset, &r.Amount, &r.Debt, &r.Seized, &r.Health, &r.At,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
