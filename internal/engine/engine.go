// Package engine drives one pair's grid: level placement, fill
// mirroring and trailing shifts.
package engine

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/journal"
	"gridbot/internal/orders"
	"gridbot/internal/strategy"
	"gridbot/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// GridEngine is the per-pair level state machine. Levels go
// pending -> placed -> filled, or placed -> cancelled; a level is
// never resurrected in place. A trailing shift tears the lattice down
// and rebuilds it on the new bounds.
type GridEngine struct {
	mu       sync.Mutex
	cfg      core.GridConfig
	manager  *orders.Manager
	admitter core.OrderAdmitter
	adapter  core.ExchangeAdapter
	journal  *journal.Journal
	logger   core.ILogger

	levels     []core.GridLevel
	byOrderID  map[string]int
	shiftCount int
	lastShift  time.Time
	now        func() time.Time
}

// NewGridEngine builds an engine for one pair's grid config
func NewGridEngine(cfg core.GridConfig, manager *orders.Manager, admitter core.OrderAdmitter, adapter core.ExchangeAdapter, j *journal.Journal, logger core.ILogger) *GridEngine {
	return &GridEngine{
		cfg:       cfg,
		manager:   manager,
		admitter:  admitter,
		adapter:   adapter,
		journal:   j,
		logger:    logger.WithField("component", "grid_engine").WithField("symbol", cfg.Symbol),
		byOrderID: make(map[string]int),
		now:       time.Now,
	}
}

// InitializeGrid computes the lattice around the current price and
// places every admitted level. A single level's failure leaves that
// level pending; initialization never aborts.
func (e *GridEngine) InitializeGrid(ctx context.Context) error {
	ticker, err := e.adapter.GetTicker(ctx, e.cfg.Symbol)
	if err != nil {
		return err
	}

	prices, err := strategy.GridLevels(e.cfg.Lower, e.cfg.Upper, e.cfg.NumLevels, e.cfg.Spacing)
	if err != nil {
		return err
	}
	sides := strategy.GridSides(prices, ticker.Last)

	e.mu.Lock()
	e.levels = make([]core.GridLevel, len(prices))
	e.byOrderID = make(map[string]int)
	for i := range prices {
		e.levels[i] = core.GridLevel{
			Index:  i,
			Price:  prices[i],
			Side:   sides[i],
			Status: core.LevelPending,
		}
	}
	e.mu.Unlock()

	placed := 0
	for i := range prices {
		if e.placeLevel(ctx, i) {
			placed++
		}
	}

	e.persistGrid(ctx)
	e.logger.Info("Grid initialized",
		"levels", len(prices), "placed", placed,
		"lower", e.cfg.Lower, "upper", e.cfg.Upper, "price", ticker.Last)
	return nil
}

// placeLevel asks the risk supervisor and places one level's order.
// Returns true when the level reached placed.
func (e *GridEngine) placeLevel(ctx context.Context, idx int) bool {
	e.mu.Lock()
	lv := e.levels[idx]
	e.mu.Unlock()

	if lv.Status != core.LevelPending {
		return false
	}

	amount, err := strategy.OrderAmount(e.cfg.OrderSizeQuote, e.cfg.OrderSizeBase, lv.Price)
	if err != nil {
		e.logger.Error("Cannot size level order", "level", idx, "error", err)
		return false
	}

	if !e.admitter.CanPlaceOrder(ctx, e.cfg.Symbol, lv.Side, lv.Price, amount) {
		return false
	}

	order, err := e.manager.PlaceGridOrder(ctx, e.cfg.Symbol, lv.Side, amount, lv.Price, idx)
	if err != nil {
		e.logger.Warn("Level placement failed, leaving pending",
			"level", idx, "side", lv.Side, "price", lv.Price, "error", err)
		return false
	}

	e.mu.Lock()
	e.levels[idx].Status = core.LevelPlaced
	e.levels[idx].VenueOrderID = order.VenueOrderID
	e.byOrderID[order.VenueOrderID] = idx
	e.mu.Unlock()

	e.persistLevel(ctx, idx)
	if m := telemetry.GetGlobalMetrics(); m.OrdersPlacedTotal != nil {
		m.OrdersPlacedTotal.Add(ctx, 1)
	}
	return true
}

// CheckAndProcessFills polls for fills and mirrors each one. Returns
// the fills applied this tick, in processing order.
func (e *GridEngine) CheckAndProcessFills(ctx context.Context) ([]*core.Order, error) {
	filled, err := e.manager.CheckFills(ctx, e.cfg.Symbol)
	if err != nil {
		return nil, err
	}

	var processed []*core.Order
	for _, order := range filled {
		e.mu.Lock()
		idx, ok := e.byOrderID[order.VenueOrderID]
		e.mu.Unlock()
		if !ok {
			e.logger.Warn("Fill for unknown level", "order_id", order.VenueOrderID)
			continue
		}
		e.onFill(ctx, idx, order)
		processed = append(processed, order)
	}
	return processed, nil
}

// onFill marks the level filled and places the mirrored order one
// level away: a buy fill arms a sell at idx+1, a sell fill arms a buy
// at idx-1. A mirror outside the lattice pools capital at the edge.
func (e *GridEngine) onFill(ctx context.Context, idx int, order *core.Order) {
	e.mu.Lock()
	e.levels[idx].Status = core.LevelFilled
	delete(e.byOrderID, order.VenueOrderID)
	n := len(e.levels)
	e.mu.Unlock()

	e.persistLevel(ctx, idx)
	e.logger.Info("Level filled",
		"level", idx, "side", order.Side, "price", order.Price, "amount", order.FilledAmount)

	mirror := idx + 1
	if order.Side == core.SideSell {
		mirror = idx - 1
	}
	if mirror < 0 || mirror >= n {
		e.logger.Debug("Fill at grid edge, no mirror", "level", idx)
		return
	}

	mirrorSide := order.Side.Opposite()

	e.mu.Lock()
	mirrorPrice := e.levels[mirror].Price
	mirrorBusy := e.levels[mirror].Status == core.LevelPlaced
	e.mu.Unlock()

	if mirrorBusy {
		e.logger.Debug("Mirror level already holds an order", "level", mirror)
		return
	}

	amount, err := strategy.OrderAmount(e.cfg.OrderSizeQuote, e.cfg.OrderSizeBase, mirrorPrice)
	if err != nil {
		e.logger.Error("Cannot size mirror order", "level", mirror, "error", err)
		return
	}

	// A vetoed mirror is silently dropped; the level stays available
	// for the next pass over the lattice.
	if !e.admitter.CanPlaceOrder(ctx, e.cfg.Symbol, mirrorSide, mirrorPrice, amount) {
		e.logger.Debug("Mirror rejected by risk supervisor", "level", mirror, "side", mirrorSide)
		return
	}

	placedOrder, err := e.manager.PlaceGridOrder(ctx, e.cfg.Symbol, mirrorSide, amount, mirrorPrice, mirror)
	if err != nil {
		e.logger.Warn("Mirror placement failed", "level", mirror, "error", err)
		return
	}

	e.mu.Lock()
	e.levels[mirror].Side = mirrorSide
	e.levels[mirror].Status = core.LevelPlaced
	e.levels[mirror].VenueOrderID = placedOrder.VenueOrderID
	e.byOrderID[placedOrder.VenueOrderID] = mirror
	e.mu.Unlock()

	e.persistLevel(ctx, mirror)
	if m := telemetry.GetGlobalMetrics(); m.FillsMirroredTotal != nil {
		m.FillsMirroredTotal.Add(ctx, 1)
	}
	e.logger.Info("Fill mirrored",
		"from_level", idx, "to_level", mirror, "side", mirrorSide, "price", mirrorPrice)
}

// CancelAllGridOrders cancels every placed level. Cancel errors are
// logged, not raised; the level is marked cancelled either way so a
// rebuild starts clean.
func (e *GridEngine) CancelAllGridOrders(ctx context.Context) int {
	e.mu.Lock()
	var toCancel []int
	for i := range e.levels {
		if e.levels[i].Status == core.LevelPlaced {
			toCancel = append(toCancel, i)
		}
	}
	e.mu.Unlock()

	cancelled := 0
	for _, idx := range toCancel {
		e.mu.Lock()
		orderID := e.levels[idx].VenueOrderID
		e.mu.Unlock()

		if _, err := e.manager.Cancel(ctx, orderID, e.cfg.Symbol); err != nil {
			e.logger.Warn("Cancel failed", "level", idx, "order_id", orderID, "error", err)
		}

		e.mu.Lock()
		e.levels[idx].Status = core.LevelCancelled
		delete(e.byOrderID, orderID)
		e.levels[idx].VenueOrderID = ""
		e.mu.Unlock()

		e.persistLevel(ctx, idx)
		cancelled++
	}
	if cancelled > 0 {
		e.logger.Info("Grid orders cancelled", "count", cancelled)
	}
	return cancelled
}

// CheckTrailing shifts the grid when price nears an edge of the band.
// Returns true when a shift happened this call.
func (e *GridEngine) CheckTrailing(ctx context.Context, currentPrice decimal.Decimal) bool {
	if !e.cfg.Trailing.Enabled {
		return false
	}

	e.mu.Lock()
	cooldown := time.Duration(e.cfg.Trailing.CooldownSecs * float64(time.Second))
	inCooldown := !e.lastShift.IsZero() && e.now().Sub(e.lastShift) < cooldown
	e.mu.Unlock()
	if inCooldown {
		return false
	}

	lower := decimal.NewFromFloat(e.cfg.Lower)
	upper := decimal.NewFromFloat(e.cfg.Upper)
	span := upper.Sub(lower)
	if span.LessThanOrEqual(decimal.Zero) {
		return false
	}

	pos := currentPrice.Sub(lower).Div(span)
	trigger := decimal.NewFromFloat(e.cfg.Trailing.TriggerPct / 100)
	shift := span.Mul(decimal.NewFromFloat(e.cfg.Trailing.RebalancePct / 100))

	var newLower, newUpper decimal.Decimal
	switch {
	case pos.GreaterThanOrEqual(trigger):
		newLower = lower.Add(shift)
		newUpper = upper.Add(shift)
	case pos.LessThanOrEqual(decimal.NewFromInt(1).Sub(trigger)):
		newLower = lower.Sub(shift)
		newUpper = upper.Sub(shift)
	default:
		return false
	}

	if newLower.LessThanOrEqual(decimal.Zero) {
		e.logger.Warn("Trailing shift rejected, lower bound would be non-positive",
			"new_lower", newLower)
		return false
	}

	e.logger.Info("Trailing shift",
		"old_lower", e.cfg.Lower, "old_upper", e.cfg.Upper,
		"new_lower", newLower, "new_upper", newUpper, "price", currentPrice)

	e.CancelAllGridOrders(ctx)

	e.mu.Lock()
	e.cfg.Lower = newLower.InexactFloat64()
	e.cfg.Upper = newUpper.InexactFloat64()
	e.shiftCount++
	e.lastShift = e.now()
	e.mu.Unlock()

	if e.journal != nil {
		cfg := e.cfg
		if err := e.journal.GridConfigs.Save(ctx, &cfg); err != nil {
			e.logger.Error("Failed to persist shifted bounds", "error", err)
		}
	}
	if err := e.InitializeGrid(ctx); err != nil {
		e.logger.Error("Reinitialization after shift failed", "error", err)
	}
	if m := telemetry.GetGlobalMetrics(); m.TrailingShiftsTotal != nil {
		m.TrailingShiftsTotal.Add(ctx, 1)
	}
	return true
}

// TrailingShiftCount returns the number of shifts this engine made
func (e *GridEngine) TrailingShiftCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shiftCount
}

// Levels returns a copy of the lattice
func (e *GridEngine) Levels() []core.GridLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.GridLevel, len(e.levels))
	copy(out, e.levels)
	return out
}

// Config returns the engine's current grid config, including any
// trailing shifts applied since construction.
func (e *GridEngine) Config() core.GridConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Symbol returns the pair this engine trades
func (e *GridEngine) Symbol() string {
	return e.cfg.Symbol
}

// SetClock overrides the time source, for tests
func (e *GridEngine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *GridEngine) persistGrid(ctx context.Context) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Levels.ReplaceGrid(ctx, e.cfg.Symbol, e.Levels()); err != nil {
		e.logger.Error("Failed to persist grid levels", "error", err)
	}
	cfg := e.Config()
	if err := e.journal.GridConfigs.Save(ctx, &cfg); err != nil {
		e.logger.Error("Failed to persist grid config", "error", err)
	}
}

func (e *GridEngine) persistLevel(ctx context.Context, idx int) {
	if e.journal == nil {
		return
	}
	e.mu.Lock()
	lv := e.levels[idx]
	e.mu.Unlock()
	if err := e.journal.Levels.UpdateLevel(ctx, e.cfg.Symbol, lv); err != nil {
		e.logger.Error("Failed to persist level", "level", idx, "error", err)
	}
}
