package risk

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/position"

	"github.com/shopspring/decimal"
)

// StopLossConfig tunes the per-position stop
type StopLossConfig struct {
	ThresholdPct float64
	CooldownSecs float64
}

// PositionStopLoss liquidates a pair's whole position when its
// unrealized loss exceeds a percentage of its cost basis, then keeps
// the pair out of the market for a cooldown window.
type PositionStopLoss struct {
	mu        sync.Mutex
	cfg       StopLossConfig
	tracker   *position.Tracker
	logger    core.ILogger
	cooldowns map[string]time.Time
	now       func() time.Time
}

// NewPositionStopLoss creates the stop over the tracker's positions
func NewPositionStopLoss(cfg StopLossConfig, tracker *position.Tracker, logger core.ILogger) *PositionStopLoss {
	return &PositionStopLoss{
		cfg:       cfg,
		tracker:   tracker,
		logger:    logger.WithField("component", "position_stop_loss"),
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// ShouldTrigger reports whether the pair's unrealized loss crosses
// the threshold. Pairs in cooldown or without a position never
// trigger.
func (p *PositionStopLoss) ShouldTrigger(symbol string) bool {
	if p.InCooldown(symbol) {
		return false
	}
	pair, ok := p.tracker.PairSnapshot(symbol)
	if !ok || pair.BaseBalance.LessThanOrEqual(decimal.Zero) || !pair.UnrealizedPnl.IsNegative() {
		return false
	}

	costBasis := pair.BaseBalance.Mul(pair.AvgEntryPrice)
	if costBasis.LessThanOrEqual(decimal.Zero) {
		return false
	}
	lossPct := pair.UnrealizedPnl.Abs().Div(costBasis).Mul(decimal.NewFromInt(100))
	return lossPct.GreaterThanOrEqual(decimal.NewFromFloat(p.cfg.ThresholdPct))
}

// Execute market-sells the entire base position and starts the
// cooldown. The fill is recorded through the tracker.
func (p *PositionStopLoss) Execute(ctx context.Context, symbol string, adapter core.ExchangeAdapter) error {
	pair, ok := p.tracker.PairSnapshot(symbol)
	if !ok || pair.BaseBalance.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	p.logger.Warn("Executing position stop-loss",
		"symbol", symbol, "base", pair.BaseBalance, "unrealized", pair.UnrealizedPnl)

	order, err := adapter.PlaceMarketOrder(ctx, symbol, core.SideSell, pair.BaseBalance)
	if err != nil {
		return err
	}
	if err := p.tracker.RecordFill(ctx, symbol, core.SideSell,
		order.FilledAmount, order.AvgFillPrice, order.Fee); err != nil {
		return err
	}

	p.mu.Lock()
	p.cooldowns[symbol] = p.now().Add(time.Duration(p.cfg.CooldownSecs * float64(time.Second)))
	p.mu.Unlock()
	return nil
}

// InCooldown reports whether the pair is still being skipped
func (p *PositionStopLoss) InCooldown(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.cooldowns[symbol]
	if !ok {
		return false
	}
	if p.now().After(until) {
		delete(p.cooldowns, symbol)
		return false
	}
	return true
}

// SetClock overrides the time source, for tests
func (p *PositionStopLoss) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}
