package strategy

import (
	"sync"
	"time"

	"gridbot/internal/core"
)

// PairStatsProvider supplies per-pair P&L figures for scoring.
// Implemented by the position tracker.
type PairStatsProvider interface {
	PairSnapshot(symbol string) (core.PairPosition, bool)
}

// RotatorConfig controls scoring cadence and the pause threshold
type RotatorConfig struct {
	Interval       time.Duration
	MinTrades      int64
	PauseThreshold float64
}

// PairRotator periodically scores each pair and pauses chronic losers.
// A paused pair's grid is torn down by the orchestrator and the pair
// is excluded from ticks until manually resumed.
type PairRotator struct {
	mu      sync.Mutex
	cfg     RotatorConfig
	stats   PairStatsProvider
	trend   *TrendFilter
	logger  core.ILogger
	paused  map[string]bool
	lastRun time.Time
	now     func() time.Time
}

// NewPairRotator creates a rotator over the given stats source. trend
// may be nil when the trend filter is disabled.
func NewPairRotator(cfg RotatorConfig, stats PairStatsProvider, trend *TrendFilter, logger core.ILogger) *PairRotator {
	return &PairRotator{
		cfg:    cfg,
		stats:  stats,
		trend:  trend,
		logger: logger.WithField("component", "pair_rotator"),
		paused: make(map[string]bool),
		now:    time.Now,
	}
}

// Score computes realized + unrealized + 0.01*trades + trend bonus.
// Without a trend filter the bonus term is neutral.
func (r *PairRotator) Score(symbol string) (float64, bool) {
	pair, ok := r.stats.PairSnapshot(symbol)
	if !ok || pair.TradeCount < r.cfg.MinTrades {
		return 0, false
	}

	score := pair.RealizedPnl.InexactFloat64() +
		pair.UnrealizedPnl.InexactFloat64() +
		0.01*float64(pair.TradeCount)

	if r.trend != nil {
		switch r.trend.Trend(symbol) {
		case core.TrendUp:
			score += 0.5
		case core.TrendDown:
			score -= 0.5
		}
	}
	return score, true
}

// Evaluate scores all symbols when the interval has elapsed and
// returns the pairs newly falling below the pause threshold. The
// caller tears down their grids and liquidates their positions.
func (r *PairRotator) Evaluate(symbols []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.lastRun.IsZero() && now.Sub(r.lastRun) < r.cfg.Interval {
		return nil
	}
	r.lastRun = now

	var toPause []string
	for _, sym := range symbols {
		if r.paused[sym] {
			continue
		}
		score, ok := r.Score(sym)
		if !ok {
			continue
		}
		if score < r.cfg.PauseThreshold {
			r.paused[sym] = true
			toPause = append(toPause, sym)
			r.logger.Warn("Pausing underperforming pair", "symbol", sym, "score", score, "threshold", r.cfg.PauseThreshold)
		} else {
			r.logger.Debug("Pair score", "symbol", sym, "score", score)
		}
	}
	return toPause
}

// IsPaused reports whether a pair is excluded from ticks
func (r *PairRotator) IsPaused(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused[symbol]
}

// Resume manually re-admits a paused pair
func (r *PairRotator) Resume(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused[symbol] {
		delete(r.paused, symbol)
		r.logger.Info("Pair resumed", "symbol", symbol)
	}
}

// PausedPairs returns the currently paused symbols
func (r *PairRotator) PausedPairs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	pairs := make([]string, 0, len(r.paused))
	for sym := range r.paused {
		pairs = append(pairs, sym)
	}
	return pairs
}

// RestorePaused seeds the pause set from persisted state
func (r *PairRotator) RestorePaused(symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sym := range symbols {
		if sym != "" {
			r.paused[sym] = true
		}
	}
}

// SetClock overrides the time source, for tests
func (r *PairRotator) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
