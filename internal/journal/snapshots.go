package journal

import (
	"context"
	"fmt"
	"time"

	"gridbot/internal/core"
)

// SnapshotRepo persists the equity time series
type SnapshotRepo struct {
	j *Journal
}

// Insert appends one per-pair equity observation
func (r *SnapshotRepo) Insert(ctx context.Context, s *core.EquitySnapshot) error {
	query := `INSERT INTO position_snapshots
		(ts, symbol, base_balance, quote_balance, avg_entry, price, unrealized_pnl, realized_pnl, secured_profits, total_equity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.j.db.ExecContext(ctx, query,
		s.Ts.UnixNano(), s.Symbol,
		decToDB(s.BaseBalance), decToDB(s.QuoteBalance), decToDB(s.AvgEntry), decToDB(s.Price),
		decToDB(s.UnrealizedPnl), decToDB(s.RealizedPnl), decToDB(s.SecuredProfits), decToDB(s.TotalEquity))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// ListRecent returns the newest snapshots for a symbol, oldest first
func (r *SnapshotRepo) ListRecent(ctx context.Context, symbol string, limit int) ([]core.EquitySnapshot, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT ts, symbol, base_balance, quote_balance, avg_entry, price, unrealized_pnl, realized_pnl, secured_profits, total_equity
		FROM position_snapshots WHERE symbol = ? ORDER BY ts DESC LIMIT ?`
	rows, err := r.j.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []core.EquitySnapshot
	for rows.Next() {
		var s core.EquitySnapshot
		var ts int64
		var base, quote, entry, price, upnl, rpnl, secured, equity string
		if err := rows.Scan(&ts, &s.Symbol, &base, &quote, &entry, &price, &upnl, &rpnl, &secured, &equity); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Ts = time.Unix(0, ts)
		s.BaseBalance = decFromDB(base)
		s.QuoteBalance = decFromDB(quote)
		s.AvgEntry = decFromDB(entry)
		s.Price = decFromDB(price)
		s.UnrealizedPnl = decFromDB(upnl)
		s.RealizedPnl = decFromDB(rpnl)
		s.SecuredProfits = decFromDB(secured)
		s.TotalEquity = decFromDB(equity)
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, k := 0, len(snaps)-1; i < k; i, k = i+1, k-1 {
		snaps[i], snaps[k] = snaps[k], snaps[i]
	}
	return snaps, nil
}
