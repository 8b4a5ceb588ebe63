package journal

import (
	"context"
	"database/sql"
	"fmt"

	"gridbot/internal/core"
)

// LevelRepo persists grid level lattices per symbol
type LevelRepo struct {
	j *Journal
}

// ReplaceGrid swaps the whole lattice for a symbol in one transaction.
// Called on initialization and after a trailing shift.
func (r *LevelRepo) ReplaceGrid(ctx context.Context, symbol string, levels []core.GridLevel) error {
	tx, err := r.j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM grid_levels WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to clear levels for %s: %w", symbol, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO grid_levels (symbol, idx, price, side, status, venue_order_id) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare level insert: %w", err)
	}
	defer stmt.Close()

	for _, lv := range levels {
		var oid sql.NullString
		if lv.VenueOrderID != "" {
			oid = sql.NullString{String: lv.VenueOrderID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, symbol, lv.Index, decToDB(lv.Price), string(lv.Side), string(lv.Status), oid); err != nil {
			return fmt.Errorf("failed to insert level %d: %w", lv.Index, err)
		}
	}

	return tx.Commit()
}

// UpdateLevel persists one level's state transition
func (r *LevelRepo) UpdateLevel(ctx context.Context, symbol string, lv core.GridLevel) error {
	var oid sql.NullString
	if lv.VenueOrderID != "" {
		oid = sql.NullString{String: lv.VenueOrderID, Valid: true}
	}
	query := `UPDATE grid_levels SET price = ?, side = ?, status = ?, venue_order_id = ? WHERE symbol = ? AND idx = ?`
	_, err := r.j.db.ExecContext(ctx, query, decToDB(lv.Price), string(lv.Side), string(lv.Status), oid, symbol, lv.Index)
	if err != nil {
		return fmt.Errorf("failed to update level %s/%d: %w", symbol, lv.Index, err)
	}
	return nil
}

// GetLevels returns the lattice for a symbol in index order
func (r *LevelRepo) GetLevels(ctx context.Context, symbol string) ([]core.GridLevel, error) {
	query := `SELECT idx, price, side, status, venue_order_id FROM grid_levels WHERE symbol = ? ORDER BY idx`
	rows, err := r.j.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query levels: %w", err)
	}
	defer rows.Close()

	var levels []core.GridLevel
	for rows.Next() {
		var lv core.GridLevel
		var price, side, status string
		var oid sql.NullString
		if err := rows.Scan(&lv.Index, &price, &side, &status, &oid); err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		lv.Price = decFromDB(price)
		lv.Side = core.OrderSide(side)
		lv.Status = core.LevelStatus(status)
		if oid.Valid {
			lv.VenueOrderID = oid.String
		}
		levels = append(levels, lv)
	}
	return levels, rows.Err()
}
