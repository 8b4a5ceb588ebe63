package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gridbot/internal/core"
)

// OrderRepo persists venue orders, unique by venue order id
type OrderRepo struct {
	j *Journal
}

// Upsert inserts the order or refreshes its mutable fields
func (r *OrderRepo) Upsert(ctx context.Context, o *core.Order) error {
	query := `INSERT INTO orders
		(venue_order_id, symbol, side, price, amount, filled_amount, avg_fill_price, fee, status, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(venue_order_id) DO UPDATE SET
			filled_amount  = excluded.filled_amount,
			avg_fill_price = excluded.avg_fill_price,
			fee            = excluded.fee,
			status         = excluded.status`
	_, err := r.j.db.ExecContext(ctx, query,
		o.VenueOrderID, o.Symbol, string(o.Side),
		decToDB(o.Price), decToDB(o.Amount), decToDB(o.FilledAmount),
		nullDecToDB(o.AvgFillPrice), decToDB(o.Fee),
		string(o.Status), o.Ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", o.VenueOrderID, err)
	}
	return nil
}

// MarkCancelled sets a terminal cancelled status
func (r *OrderRepo) MarkCancelled(ctx context.Context, venueOrderID string) error {
	query := `UPDATE orders SET status = ? WHERE venue_order_id = ? AND status NOT IN (?, ?)`
	_, err := r.j.db.ExecContext(ctx, query,
		string(core.OrderCancelled), venueOrderID,
		string(core.OrderFilled), string(core.OrderCancelled),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", venueOrderID, err)
	}
	return nil
}

// Get returns one order by venue id, or nil when absent
func (r *OrderRepo) Get(ctx context.Context, venueOrderID string) (*core.Order, error) {
	query := `SELECT venue_order_id, symbol, side, price, amount, filled_amount, avg_fill_price, fee, status, ts
		FROM orders WHERE venue_order_id = ?`
	row := r.j.db.QueryRowContext(ctx, query, venueOrderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// ListOpen returns all non-terminal orders for a symbol. Used to seed
// the live-order set during startup recovery.
func (r *OrderRepo) ListOpen(ctx context.Context, symbol string) ([]*core.Order, error) {
	query := `SELECT venue_order_id, symbol, side, price, amount, filled_amount, avg_fill_price, fee, status, ts
		FROM orders WHERE symbol = ? AND status IN (?, ?) ORDER BY ts`
	rows, err := r.j.db.QueryContext(ctx, query, symbol,
		string(core.OrderOpen), string(core.OrderPartiallyFilled))
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	defer rows.Close()

	var orders []*core.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*core.Order, error) {
	var o core.Order
	var side, price, amount, filled, fee, status string
	var avgFill sql.NullString
	var ts int64

	if err := row.Scan(&o.VenueOrderID, &o.Symbol, &side, &price, &amount, &filled, &avgFill, &fee, &status, &ts); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	o.Side = core.OrderSide(side)
	o.Price = decFromDB(price)
	o.Amount = decFromDB(amount)
	o.FilledAmount = decFromDB(filled)
	o.AvgFillPrice = nullDecFromDB(avgFill)
	o.Fee = decFromDB(fee)
	o.Status = core.OrderStatus(status)
	o.Ts = time.Unix(0, ts)
	return &o, nil
}
