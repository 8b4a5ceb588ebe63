package strategy

import (
	"sync"

	"gridbot/internal/core"
	"gridbot/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// DipSniperConfig tunes the dip sniper
type DipSniperConfig struct {
	Window      int
	DipPct      float64
	ReboundPct  float64
	StopLossPct float64
	OrderQuote  float64
}

type snipePosition struct {
	amount decimal.Decimal
	entry  float64
}

// DipSniper buys sharp drops below the rolling high and exits on
// rebound or stop. At most one open snipe per symbol.
type DipSniper struct {
	mu        sync.Mutex
	cfg       DipSniperConfig
	logger    core.ILogger
	highs     map[string][]float64
	positions map[string]*snipePosition
}

// NewDipSniper creates the strategy
func NewDipSniper(cfg DipSniperConfig, logger core.ILogger) *DipSniper {
	if cfg.Window <= 1 {
		cfg.Window = 60
	}
	return &DipSniper{
		cfg:       cfg,
		logger:    logger.WithField("component", "dip_sniper"),
		highs:     make(map[string][]float64),
		positions: make(map[string]*snipePosition),
	}
}

// Observe feeds one price and returns a signal when action is due
func (d *DipSniper) Observe(symbol string, price float64) *Signal {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := append(d.highs[symbol], price)
	if len(buf) > d.cfg.Window {
		buf = buf[len(buf)-d.cfg.Window:]
	}
	d.highs[symbol] = buf

	if pos, open := d.positions[symbol]; open {
		change := tradingutils.PctChange(pos.entry, price)
		switch {
		case change >= d.cfg.ReboundPct:
			return &Signal{Symbol: symbol, Side: core.SideSell, Reason: "rebound"}
		case change <= -d.cfg.StopLossPct:
			return &Signal{Symbol: symbol, Side: core.SideSell, Reason: "stop_loss"}
		}
		return nil
	}

	if len(buf) < d.cfg.Window {
		return nil
	}
	high := rollingHigh(buf)
	if high > 0 && tradingutils.PctChange(high, price) <= -d.cfg.DipPct {
		return &Signal{Symbol: symbol, Side: core.SideBuy, Reason: "dip"}
	}
	return nil
}

// OrderQuote returns the fixed entry size in quote currency
func (d *DipSniper) OrderQuote() decimal.Decimal {
	return decimal.NewFromFloat(d.cfg.OrderQuote)
}

// MarkEntered records a completed entry fill
func (d *DipSniper) MarkEntered(symbol string, amount decimal.Decimal, entryPrice float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.positions[symbol] = &snipePosition{amount: amount, entry: entryPrice}
	d.logger.Info("Dip snipe opened", "symbol", symbol, "amount", amount, "entry", entryPrice)
}

// MarkExited clears the position after the exit fill
func (d *DipSniper) MarkExited(symbol string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.positions, symbol)
	d.logger.Info("Dip snipe closed", "symbol", symbol)
}

// Position returns the open snipe amount, zero when flat
func (d *DipSniper) Position(symbol string) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos, ok := d.positions[symbol]; ok {
		return pos.amount
	}
	return decimal.Zero
}

func rollingHigh(values []float64) float64 {
	var high float64
	for _, v := range values {
		if v > high {
			high = v
		}
	}
	return high
}
