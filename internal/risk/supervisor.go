// Package risk gates every order placement and owns the halt bits.
package risk

import (
	"context"
	"sync"

	"gridbot/internal/core"
	"gridbot/internal/position"
	"gridbot/internal/strategy"
	"gridbot/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// OrderCounter reports the number of live orders. Implemented by the
// order manager.
type OrderCounter interface {
	OpenOrderCount() int
}

// Limits are the supervisor's configured ceilings
type Limits struct {
	MaxPositionQuote        decimal.Decimal
	MaxPositionQuotePerPair decimal.Decimal
	MaxOpenOrders           int
	StopLossPct             float64
	TakeProfitPct           float64
	MaxDrawdownPct          float64
	// Buys are vetoed while the fear-greed index is at or below this.
	// Zero disables the gate.
	ExtremeFearThreshold int
}

// Supervisor implements core.OrderAdmitter. Checks run in a fixed
// order so a rejection reason is deterministic for a given state.
type Supervisor struct {
	mu         sync.Mutex
	limits     Limits
	orders     OrderCounter
	tracker    *position.Tracker
	trend      *strategy.TrendFilter
	sentiment  core.SentimentProvider
	logger     core.ILogger
	globalHalt bool
	pairHalts  map[string]bool
	peakEquity decimal.Decimal
}

// NewSupervisor wires the supervisor over its signal sources. trend
// and sentiment may be nil when the corresponding gate is disabled.
func NewSupervisor(limits Limits, orders OrderCounter, tracker *position.Tracker, trend *strategy.TrendFilter, sentiment core.SentimentProvider, logger core.ILogger) *Supervisor {
	return &Supervisor{
		limits:    limits,
		orders:    orders,
		tracker:   tracker,
		trend:     trend,
		sentiment: sentiment,
		logger:    logger.WithField("component", "risk_supervisor"),
		pairHalts: make(map[string]bool),
	}
}

// CanPlaceOrder runs the admission checks in order: global halt, pair
// halt, open-order cap, then for buys only the trend veto, sentiment
// gate, affordability and position ceilings.
func (s *Supervisor) CanPlaceOrder(ctx context.Context, symbol string, side core.OrderSide, price, amount decimal.Decimal) bool {
	s.mu.Lock()
	globalHalt := s.globalHalt
	pairHalt := s.pairHalts[symbol]
	s.mu.Unlock()

	if globalHalt {
		s.logger.Debug("Order rejected: global halt", "symbol", symbol)
		return false
	}
	if pairHalt {
		s.logger.Debug("Order rejected: pair halted", "symbol", symbol)
		return false
	}
	if s.orders != nil && s.orders.OpenOrderCount() >= s.limits.MaxOpenOrders {
		s.logger.Debug("Order rejected: open order cap",
			"symbol", symbol, "cap", s.limits.MaxOpenOrders)
		return false
	}

	if side != core.SideBuy {
		return true
	}

	if s.trend != nil && !s.trend.ShouldAllowBuy(symbol) {
		s.logger.Info("Buy rejected: downtrend", "symbol", symbol)
		return false
	}
	if s.sentiment != nil && s.limits.ExtremeFearThreshold > 0 {
		if idx, ok := s.sentiment.Index(); ok && idx <= s.limits.ExtremeFearThreshold {
			s.logger.Info("Buy rejected: extreme fear",
				"symbol", symbol, "index", idx, "threshold", s.limits.ExtremeFearThreshold)
			return false
		}
	}

	cost := amount.Mul(price)
	if !s.tracker.CanAffordBuy(cost) {
		s.logger.Debug("Buy rejected: insufficient pool", "symbol", symbol, "cost", cost)
		return false
	}

	if s.limits.MaxPositionQuotePerPair.GreaterThan(decimal.Zero) &&
		s.tracker.PairValueQuote(symbol).GreaterThanOrEqual(s.limits.MaxPositionQuotePerPair) {
		s.logger.Info("Buy rejected: pair position ceiling", "symbol", symbol)
		return false
	}
	if s.limits.MaxPositionQuote.GreaterThan(decimal.Zero) &&
		s.tracker.TotalPositionValueQuote().GreaterThanOrEqual(s.limits.MaxPositionQuote) {
		s.logger.Info("Buy rejected: global position ceiling", "symbol", symbol)
		return false
	}
	return true
}

// AllowsBuyEntry runs the signal gates that apply to a market entry
// outside the grid: the halt bits, the trend veto and the sentiment
// gate. Affordability stays with the entering strategy's own tracker.
func (s *Supervisor) AllowsBuyEntry(symbol string) bool {
	s.mu.Lock()
	halted := s.globalHalt || s.pairHalts[symbol]
	s.mu.Unlock()

	if halted {
		s.logger.Debug("Entry rejected: halted", "symbol", symbol)
		return false
	}
	if s.trend != nil && !s.trend.ShouldAllowBuy(symbol) {
		s.logger.Info("Entry rejected: downtrend", "symbol", symbol)
		return false
	}
	if s.sentiment != nil && s.limits.ExtremeFearThreshold > 0 {
		if idx, ok := s.sentiment.Index(); ok && idx <= s.limits.ExtremeFearThreshold {
			s.logger.Info("Entry rejected: extreme fear",
				"symbol", symbol, "index", idx, "threshold", s.limits.ExtremeFearThreshold)
			return false
		}
	}
	return true
}

// CheckStopLoss trips the pair halt when price breaches the band's
// lower bound by stopLossPct.
func (s *Supervisor) CheckStopLoss(symbol string, price, lower decimal.Decimal) bool {
	threshold := lower.Mul(decimal.NewFromFloat(1 - s.limits.StopLossPct/100))
	if price.GreaterThan(threshold) {
		return false
	}
	s.haltPair(symbol, "stop_loss", price, threshold)
	return true
}

// CheckTakeProfit trips the pair halt when price exceeds the band's
// upper bound by takeProfitPct.
func (s *Supervisor) CheckTakeProfit(symbol string, price, upper decimal.Decimal) bool {
	threshold := upper.Mul(decimal.NewFromFloat(1 + s.limits.TakeProfitPct/100))
	if price.LessThan(threshold) {
		return false
	}
	s.haltPair(symbol, "take_profit", price, threshold)
	return true
}

// CheckDrawdown tracks peak equity and sets the global halt when the
// drop from the peak reaches maxDrawdownPct.
func (s *Supervisor) CheckDrawdown(totalEquity decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if totalEquity.GreaterThan(s.peakEquity) {
		s.peakEquity = totalEquity
	}
	if s.peakEquity.LessThanOrEqual(decimal.Zero) {
		return false
	}

	drawdown := s.peakEquity.Sub(totalEquity).
		Div(s.peakEquity).
		Mul(decimal.NewFromInt(100))
	if drawdown.LessThan(decimal.NewFromFloat(s.limits.MaxDrawdownPct)) {
		return false
	}

	s.globalHalt = true
	telemetry.GetGlobalMetrics().SetHalt("global", true)
	s.logger.Error("Max drawdown breached, global halt",
		"peak_equity", s.peakEquity, "total_equity", totalEquity, "drawdown_pct", drawdown)
	return true
}

// IsHalted reports the global halt bit
func (s *Supervisor) IsHalted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalHalt
}

// IsPairHalted reports a per-pair halt
func (s *Supervisor) IsPairHalted(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairHalts[symbol]
}

// HaltedPairs lists pairs with the halt bit set
func (s *Supervisor) HaltedPairs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pairs []string
	for sym, halted := range s.pairHalts {
		if halted {
			pairs = append(pairs, sym)
		}
	}
	return pairs
}

// SetGlobalHalt forces the global halt bit. Used by the emergency
// shutdown path and the dashboard controls.
func (s *Supervisor) SetGlobalHalt(reason string) {
	s.mu.Lock()
	s.globalHalt = true
	s.mu.Unlock()
	telemetry.GetGlobalMetrics().SetHalt("global", true)
	s.logger.Error("Global halt set", "reason", reason)
}

// ResetHalt clears the global bit and every per-pair halt
func (s *Supervisor) ResetHalt() {
	s.mu.Lock()
	s.globalHalt = false
	for sym := range s.pairHalts {
		delete(s.pairHalts, sym)
		telemetry.GetGlobalMetrics().SetHalt(sym, false)
	}
	s.mu.Unlock()
	telemetry.GetGlobalMetrics().SetHalt("global", false)
	s.logger.Warn("Halts reset by operator")
}

// PeakEquity returns the high-water mark used for drawdown
func (s *Supervisor) PeakEquity() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakEquity
}

// RestorePeakEquity seeds the high-water mark from persisted state
func (s *Supervisor) RestorePeakEquity(peak decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peak.GreaterThan(s.peakEquity) {
		s.peakEquity = peak
	}
}

func (s *Supervisor) haltPair(symbol, reason string, price, threshold decimal.Decimal) {
	s.mu.Lock()
	s.pairHalts[symbol] = true
	s.mu.Unlock()
	telemetry.GetGlobalMetrics().SetHalt(symbol, true)
	s.logger.Warn("Pair halted",
		"symbol", symbol, "reason", reason, "price", price, "threshold", threshold)
}
