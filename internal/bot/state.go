package bot

import (
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// PairState is the dashboard view of one trading pair
type PairState struct {
	Symbol         string           `json:"symbol"`
	Price          decimal.Decimal  `json:"price"`
	BaseBalance    decimal.Decimal  `json:"base_balance"`
	AvgEntryPrice  decimal.Decimal  `json:"avg_entry_price"`
	RealizedPnl    decimal.Decimal  `json:"realized_pnl"`
	UnrealizedPnl  decimal.Decimal  `json:"unrealized_pnl"`
	TradeCount     int64            `json:"trade_count"`
	Paused         bool             `json:"paused"`
	Halted         bool             `json:"halted"`
	GridLower      float64          `json:"grid_lower"`
	GridUpper      float64          `json:"grid_upper"`
	TrailingShifts int              `json:"trailing_shifts"`
	Levels         []core.GridLevel `json:"levels"`
}

// Snapshot is the full dashboard state, serialized and pushed to every
// connected websocket client.
type Snapshot struct {
	Ts           time.Time       `json:"ts"`
	Status       core.BotStatus  `json:"status"`
	PaperTrading bool            `json:"paper_trading"`
	TotalEquity  decimal.Decimal `json:"total_equity"`
	PeakEquity   decimal.Decimal `json:"peak_equity"`
	Pool         core.PoolState  `json:"pool"`
	GlobalHalt   bool            `json:"global_halt"`
	Pairs        []PairState     `json:"pairs"`
}

// StateSnapshot assembles the dashboard view. Safe to call from any
// goroutine; it reads each subsystem through its own lock.
func (o *Orchestrator) StateSnapshot() Snapshot {
	o.mu.Lock()
	status := o.status
	prices := make(map[string]decimal.Decimal, len(o.lastPrices))
	for sym, p := range o.lastPrices {
		prices[sym] = p
	}
	o.mu.Unlock()

	snap := Snapshot{
		Ts:           time.Now().UTC(),
		Status:       status,
		PaperTrading: o.cfg.PaperTrading.Enabled,
	}
	if o.gridTracker == nil {
		return snap
	}

	snap.TotalEquity = o.totalEquity()
	snap.PeakEquity = o.supervisor.PeakEquity()
	snap.Pool = o.gridTracker.Pool()
	snap.GlobalHalt = o.supervisor.IsHalted()

	for _, symbol := range o.symbols {
		ps := PairState{
			Symbol: symbol,
			Price:  prices[symbol],
			Halted: o.supervisor.IsPairHalted(symbol),
		}
		if o.rotator != nil {
			ps.Paused = o.rotator.IsPaused(symbol)
		}
		if pair, ok := o.gridTracker.PairSnapshot(symbol); ok {
			ps.BaseBalance = pair.BaseBalance
			ps.AvgEntryPrice = pair.AvgEntryPrice
			ps.RealizedPnl = pair.RealizedPnl
			ps.UnrealizedPnl = pair.UnrealizedPnl
			ps.TradeCount = pair.TradeCount
		}
		if eng, ok := o.engines[symbol]; ok {
			cfg := eng.Config()
			ps.GridLower = cfg.Lower
			ps.GridUpper = cfg.Upper
			ps.TrailingShifts = eng.TrailingShiftCount()
			ps.Levels = eng.Levels()
		}
		snap.Pairs = append(snap.Pairs, ps)
	}
	return snap
}
