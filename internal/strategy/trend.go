package strategy

import (
	"sync"

	"gridbot/internal/core"
)

// TrendFilter keeps a bounded ring of polled prices per symbol and
// classifies the trend by SMA crossover. It stays NEUTRAL until the
// long window has filled.
type TrendFilter struct {
	mu          sync.RWMutex
	shortWindow int
	longWindow  int
	prices      map[string][]float64
}

// NewTrendFilter creates a filter with the given SMA windows
func NewTrendFilter(shortWindow, longWindow int) *TrendFilter {
	if shortWindow <= 0 {
		shortWindow = 10
	}
	if longWindow <= shortWindow {
		longWindow = shortWindow * 3
	}
	return &TrendFilter{
		shortWindow: shortWindow,
		longWindow:  longWindow,
		prices:      make(map[string][]float64),
	}
}

// AddPrice records one polled price for a symbol
func (f *TrendFilter) AddPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := append(f.prices[symbol], price)
	if len(buf) > f.longWindow {
		buf = buf[len(buf)-f.longWindow:]
	}
	f.prices[symbol] = buf
}

// Trend returns UP when the short SMA is above the long SMA, DOWN when
// below, and NEUTRAL otherwise or while data is insufficient.
func (f *TrendFilter) Trend(symbol string) core.TrendSignal {
	f.mu.RLock()
	defer f.mu.RUnlock()

	buf := f.prices[symbol]
	if len(buf) < f.longWindow {
		return core.TrendNeutral
	}

	shortSMA := sma(buf[len(buf)-f.shortWindow:])
	longSMA := sma(buf)

	switch {
	case shortSMA > longSMA:
		return core.TrendUp
	case shortSMA < longSMA:
		return core.TrendDown
	default:
		return core.TrendNeutral
	}
}

// ShouldAllowBuy vetoes buys only in a confirmed downtrend
func (f *TrendFilter) ShouldAllowBuy(symbol string) bool {
	return f.Trend(symbol) != core.TrendDown
}

// DataPoints reports how many prices are buffered for a symbol
func (f *TrendFilter) DataPoints(symbol string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.prices[symbol])
}

func sma(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
