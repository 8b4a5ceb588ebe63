package backtest

import (
	"context"
	"fmt"
	"time"

	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/position"
	"gridbot/internal/strategy"

	"github.com/shopspring/decimal"
)

// RunnerConfig parameterizes one backtest run
type RunnerConfig struct {
	Grid         core.GridConfig
	InitialQuote float64
	InitialBase  float64
	FeePct       float64 // fraction of notional (0.006 = 0.6%)
	SlippageBps  float64
}

// Runner replays candles through the grid: the first candle's close
// seeds the level sides, every fill is mirrored to the adjacent level,
// and the tracker keeps the ledger for pnl statistics.
type Runner struct {
	cfg    RunnerConfig
	logger core.ILogger
}

// NewRunner validates the grid and creates a runner
func NewRunner(cfg RunnerConfig, logger core.ILogger) (*Runner, error) {
	if err := config.ValidateGrid(&cfg.Grid); err != nil {
		return nil, err
	}
	if cfg.InitialQuote <= 0 {
		cfg.InitialQuote = 10000
	}
	return &Runner{cfg: cfg, logger: logger.WithField("component", "backtest")}, nil
}

// Run executes the backtest over the candle series
func (r *Runner) Run(ctx context.Context, candles []core.Candle) (*Report, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles to run")
	}

	grid := r.cfg.Grid
	levels, err := strategy.GridLevels(grid.Lower, grid.Upper, grid.NumLevels, grid.Spacing)
	if err != nil {
		return nil, err
	}
	ref := candles[0].Close
	sides := strategy.GridSides(levels, ref)

	sim := NewSimulator(r.cfg.FeePct, r.cfg.SlippageBps)
	initialBase := decimal.NewFromFloat(r.cfg.InitialBase)
	initialQuote := decimal.NewFromFloat(r.cfg.InitialQuote)
	sim.SetBalances(initialBase, initialQuote)

	// The tracker pool must cover the opening inventory buy below
	trackerFunding := initialQuote.Add(initialBase.Mul(ref))
	tracker := position.NewTracker("backtest", trackerFunding, nil, nil, r.logger)
	if initialBase.GreaterThan(decimal.Zero) {
		if err := tracker.RecordFill(ctx, grid.Symbol, core.SideBuy, initialBase, ref, decimal.Zero); err != nil {
			return nil, err
		}
	}

	orderLevel := make(map[string]int)
	for i, price := range levels {
		amount, err := strategy.OrderAmount(grid.OrderSizeQuote, grid.OrderSizeBase, price)
		if err != nil {
			return nil, err
		}
		id := sim.PlaceOrder(sides[i], price, amount)
		orderLevel[id] = i
	}

	report := &Report{
		InitialEquity: initialQuote.Add(initialBase.Mul(ref)),
		Symbol:        grid.Symbol,
	}
	prevRealized := decimal.Zero

	for _, candle := range candles {
		for _, fill := range sim.ProcessCandle(candle.High, candle.Low) {
			if err := tracker.RecordFill(ctx, grid.Symbol, fill.Side,
				fill.Amount, fill.FillPrice, fill.Fee); err != nil {
				return nil, fmt.Errorf("ledger rejected simulated fill: %w", err)
			}

			report.Trades = append(report.Trades, TradeRecord{Ts: candle.Ts, Fill: fill})
			report.TotalFees = report.TotalFees.Add(fill.Fee)
			if fill.Side == core.SideBuy {
				report.BuyFills++
			} else {
				report.SellFills++
				if pair, ok := tracker.PairSnapshot(grid.Symbol); ok {
					if pair.RealizedPnl.GreaterThan(prevRealized) {
						report.WinningTrades++
					} else {
						report.LosingTrades++
					}
					prevRealized = pair.RealizedPnl
				}
			}

			r.mirror(sim, orderLevel, levels, fill)
		}

		tracker.UpdateUnrealizedAt(grid.Symbol, candle.Close)
		equity := sim.Quote().Add(sim.Base().Mul(candle.Close))
		report.EquityCurve = append(report.EquityCurve, EquityPoint{
			Ts: candle.Ts, Price: candle.Close, TotalEquity: equity,
		})
	}

	report.finalize()
	r.logger.Info("Backtest complete",
		"candles", len(candles), "trades", len(report.Trades),
		"return_pct", report.TotalReturnPct, "max_drawdown_pct", report.MaxDrawdownPct)
	return report, nil
}

// mirror rests the opposite order one level away from the filled one
func (r *Runner) mirror(sim *Simulator, orderLevel map[string]int, levels []decimal.Decimal, fill Fill) {
	idx := orderLevel[fill.OrderID]
	opposite := core.SideSell
	target := idx + 1
	if fill.Side == core.SideSell {
		opposite = core.SideBuy
		target = idx - 1
	}
	if target < 0 || target >= len(levels) {
		return
	}
	amount, err := strategy.OrderAmount(r.cfg.Grid.OrderSizeQuote, r.cfg.Grid.OrderSizeBase, levels[target])
	if err != nil {
		return
	}
	id := sim.PlaceOrder(opposite, levels[target], amount)
	orderLevel[id] = target
}

// RunFromCSV loads candles from path and runs the backtest
func RunFromCSV(ctx context.Context, cfg RunnerConfig, path string, logger core.ILogger) (*Report, error) {
	candles, err := LoadCandlesCSV(path)
	if err != nil {
		return nil, err
	}
	runner, err := NewRunner(cfg, logger)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, candles)
}

// TradeRecord is one fill with its candle timestamp
type TradeRecord struct {
	Ts time.Time
	Fill
}
