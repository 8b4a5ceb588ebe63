package journal

import (
	"context"
	"fmt"
	"time"

	"gridbot/internal/core"
)

// TradeRepo persists recorded fills
type TradeRepo struct {
	j *Journal
}

// Insert appends one trade
func (r *TradeRepo) Insert(ctx context.Context, t *core.Trade) error {
	query := `INSERT INTO trades (symbol, side, amount, price, fee, pnl, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.j.db.ExecContext(ctx, query,
		t.Symbol, string(t.Side), decToDB(t.Amount), decToDB(t.Price),
		decToDB(t.Fee), decToDB(t.Pnl), t.Ts.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		t.ID = id
	}
	return nil
}

// ListBySymbol returns the most recent trades for a symbol
func (r *TradeRepo) ListBySymbol(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, symbol, side, amount, price, fee, pnl, ts FROM trades
		WHERE symbol = ? ORDER BY ts DESC LIMIT ?`
	rows, err := r.j.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []core.Trade
	for rows.Next() {
		var t core.Trade
		var side, amount, price, fee, pnl string
		var ts int64
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &amount, &price, &fee, &pnl, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = core.OrderSide(side)
		t.Amount = decFromDB(amount)
		t.Price = decFromDB(price)
		t.Fee = decFromDB(fee)
		t.Pnl = decFromDB(pnl)
		t.Ts = time.Unix(0, ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Count returns the total number of recorded trades
func (r *TradeRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}
