package strategy

import (
	"sync"

	"gridbot/internal/core"
	"gridbot/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Signal is an entry or exit emitted by an ancillary strategy. The
// orchestrator executes it as a market order through the shared pool.
type Signal struct {
	Symbol string
	Side   core.OrderSide
	Reason string
}

// MomentumConfig tunes the momentum rider
type MomentumRiderConfig struct {
	Lookback      int
	EntryPct      float64
	TakeProfitPct float64
	StopLossPct   float64
	OrderQuote    float64
}

type ridePosition struct {
	amount decimal.Decimal
	entry  float64
}

// MomentumRider enters on sustained short-term upward momentum and
// exits on profit target, stop, or reversal. At most one open ride
// per symbol.
type MomentumRider struct {
	mu        sync.Mutex
	cfg       MomentumRiderConfig
	logger    core.ILogger
	prices    map[string][]float64
	positions map[string]*ridePosition
}

// NewMomentumRider creates the strategy
func NewMomentumRider(cfg MomentumRiderConfig, logger core.ILogger) *MomentumRider {
	if cfg.Lookback <= 1 {
		cfg.Lookback = 10
	}
	return &MomentumRider{
		cfg:       cfg,
		logger:    logger.WithField("component", "momentum_rider"),
		prices:    make(map[string][]float64),
		positions: make(map[string]*ridePosition),
	}
}

// Observe feeds one price and returns a signal when action is due
func (m *MomentumRider) Observe(symbol string, price float64) *Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := append(m.prices[symbol], price)
	if len(buf) > m.cfg.Lookback {
		buf = buf[len(buf)-m.cfg.Lookback:]
	}
	m.prices[symbol] = buf

	if pos, open := m.positions[symbol]; open {
		gain := tradingutils.PctChange(pos.entry, price)
		switch {
		case gain >= m.cfg.TakeProfitPct:
			return &Signal{Symbol: symbol, Side: core.SideSell, Reason: "take_profit"}
		case gain <= -m.cfg.StopLossPct:
			return &Signal{Symbol: symbol, Side: core.SideSell, Reason: "stop_loss"}
		case len(buf) >= 2 && tradingutils.PctChange(buf[0], price) < 0:
			return &Signal{Symbol: symbol, Side: core.SideSell, Reason: "reversal"}
		}
		return nil
	}

	if len(buf) < m.cfg.Lookback {
		return nil
	}
	if tradingutils.PctChange(buf[0], price) >= m.cfg.EntryPct {
		return &Signal{Symbol: symbol, Side: core.SideBuy, Reason: "momentum"}
	}
	return nil
}

// OrderQuote returns the fixed entry size in quote currency
func (m *MomentumRider) OrderQuote() decimal.Decimal {
	return decimal.NewFromFloat(m.cfg.OrderQuote)
}

// MarkEntered records a completed entry fill
func (m *MomentumRider) MarkEntered(symbol string, amount decimal.Decimal, entryPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[symbol] = &ridePosition{amount: amount, entry: entryPrice}
	m.logger.Info("Momentum ride opened", "symbol", symbol, "amount", amount, "entry", entryPrice)
}

// MarkExited clears the position after the exit fill
func (m *MomentumRider) MarkExited(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
	m.logger.Info("Momentum ride closed", "symbol", symbol)
}

// Position returns the open ride amount, zero when flat
func (m *MomentumRider) Position(symbol string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[symbol]; ok {
		return pos.amount
	}
	return decimal.Zero
}
