// Package bot owns the main loop and wires every subsystem together.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/engine"
	"gridbot/internal/exchange"
	"gridbot/internal/feed"
	"gridbot/internal/intelligence"
	"gridbot/internal/journal"
	"gridbot/internal/orders"
	"gridbot/internal/position"
	"gridbot/internal/risk"
	"gridbot/internal/strategy"
	"gridbot/pkg/concurrency"
	"gridbot/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Loop cadences. Paper runs snapshot faster so short sessions still
// leave a usable equity series.
const (
	PollInterval          = 3 * time.Second
	SnapshotInterval      = 60 * time.Second
	PaperSnapshotInterval = 15 * time.Second
)

type commandKind int

const (
	cmdReconfigure commandKind = iota
	cmdPausePair
	cmdResumePair
	cmdResetHalt
)

type command struct {
	kind    commandKind
	symbol  string
	gridCfg *core.GridConfig
	done    chan error
}

// Options inject the pieces the orchestrator cannot build itself. In
// live mode Adapter is required; in paper mode both may be nil and the
// simulator plus a random-walk feed are built from config.
type Options struct {
	Adapter core.ExchangeAdapter
	Feed    feed.PriceSource
}

// Orchestrator owns all subsystems and runs the single-threaded tick
// loop. Trading state is mutated only from the loop goroutine or the
// command drain at the start of each tick.
type Orchestrator struct {
	cfg    *config.Config
	opts   Options
	logger core.ILogger

	journal *journal.Journal
	adapter core.ExchangeAdapter
	paper   *exchange.PaperExchange
	feed    feed.PriceSource
	manager *orders.Manager

	gridTracker     *position.Tracker
	momentumTracker *position.Tracker
	dipTracker      *position.Tracker

	supervisor *risk.Supervisor
	trend      *strategy.TrendFilter
	stopLoss   *risk.PositionStopLoss
	rotator    *strategy.PairRotator
	momentum   *strategy.MomentumRider
	dip        *strategy.DipSniper
	sentiment  *intelligence.FearGreedProvider

	engines map[string]*engine.GridEngine
	symbols []string
	workers *concurrency.WorkerPool

	mu           sync.Mutex
	status       core.BotStatus
	lastPrices   map[string]decimal.Decimal
	lastSnapshot time.Time

	commands chan command
	cancel   context.CancelFunc
	done     chan struct{}

	pollInterval     time.Duration
	snapshotInterval time.Duration
}

// New creates an orchestrator in IDLE state
func New(cfg *config.Config, opts Options, logger core.ILogger) *Orchestrator {
	snapInterval := SnapshotInterval
	if cfg.PaperTrading.Enabled {
		snapInterval = PaperSnapshotInterval
	}
	return &Orchestrator{
		cfg:              cfg,
		opts:             opts,
		logger:           logger.WithField("component", "orchestrator"),
		engines:          make(map[string]*engine.GridEngine),
		status:           core.StatusIdle,
		lastPrices:       make(map[string]decimal.Decimal),
		commands:         make(chan command, 16),
		done:             make(chan struct{}),
		pollInterval:     PollInterval,
		snapshotInterval: snapInterval,
	}
}

// SetIntervals overrides the loop cadences, for tests
func (o *Orchestrator) SetIntervals(poll, snapshot time.Duration) {
	o.pollInterval = poll
	o.snapshotInterval = snapshot
}

// Start builds every subsystem, recovers persisted state, initializes
// the grids and spawns the loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.setStatus(core.StatusStarting)
	o.logger.Info("Starting", "pairs", len(o.cfg.Grids), "paper", o.cfg.PaperTrading.Enabled)

	if err := o.buildSubsystems(ctx); err != nil {
		o.setStatus(core.StatusError)
		return err
	}

	if err := o.recoverState(ctx); err != nil {
		o.setStatus(core.StatusError)
		return err
	}

	// Prime one round of prices so engines can read a ticker
	prices, err := o.feed.Prices(ctx, o.symbols)
	if err != nil {
		o.setStatus(core.StatusError)
		return fmt.Errorf("initial price fetch failed: %w", err)
	}
	if o.paper != nil {
		o.paper.SimulatePrices(prices)
	}
	o.storePrices(prices)

	for _, gridCfg := range o.cfg.Grids {
		symbol := gridCfg.Symbol
		if err := o.manager.RestoreFromJournal(ctx, symbol); err != nil {
			o.logger.Warn("Journal restore failed", "symbol", symbol, "error", err)
		}
		if err := o.manager.ReconcileWithExchange(ctx, symbol); err != nil {
			o.logger.Warn("Startup reconcile failed", "symbol", symbol, "error", err)
		}

		effective := o.effectiveGridConfig(ctx, gridCfg, prices[symbol])
		eng := engine.NewGridEngine(effective, o.manager, o.supervisor, o.adapter, o.journal, o.logger)
		if err := eng.InitializeGrid(ctx); err != nil {
			o.logger.Error("Grid initialization failed", "symbol", symbol, "error", err)
		}
		o.engines[symbol] = eng
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	go o.run(loopCtx)

	o.setStatus(core.StatusRunning)
	o.logger.Info("Running")
	return nil
}

func (o *Orchestrator) buildSubsystems(ctx context.Context) error {
	j, err := journal.Open(o.cfg.Database.Path, o.logger)
	if err != nil {
		return err
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return err
	}
	o.journal = j

	if o.cfg.PaperTrading.Enabled {
		o.paper = exchange.NewPaperExchange(exchange.PaperConfig{
			InitialBalanceQuote: o.cfg.PaperTrading.InitialBalanceQuote,
			InitialBalanceBase:  o.cfg.PaperTrading.InitialBalanceBase,
			SimulatedFeePct:     o.cfg.PaperTrading.SimulatedFeePct,
		}, o.logger)
		o.seedPaperBalances()
		o.adapter = o.paper
	} else {
		if o.opts.Adapter == nil {
			return fmt.Errorf("live mode requires a venue adapter")
		}
		o.adapter = o.opts.Adapter
	}
	if err := o.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("venue connect failed: %w", err)
	}

	for _, g := range o.cfg.Grids {
		o.symbols = append(o.symbols, g.Symbol)
	}

	o.feed = o.opts.Feed
	if o.feed == nil {
		o.feed = feed.NewVenueSource(o.adapter, o.logger)
	}

	o.manager = orders.NewManager(o.adapter, o.journal, o.logger)
	o.workers = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "grid_fanout",
		MaxWorkers: 4,
	}, o.logger)

	total := decimal.NewFromFloat(o.cfg.Pool.InitialBalanceQuote)
	alloc := o.cfg.Allocation
	share := func(pct float64) decimal.Decimal {
		return total.Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	}
	o.gridTracker = position.NewTracker("grid", share(alloc.GridPct), o.adapter, o.journal, o.logger)
	if o.cfg.Momentum.Enabled {
		o.momentumTracker = position.NewTracker("momentum", share(alloc.MomentumPct), o.adapter, o.journal, o.logger)
		o.momentum = strategy.NewMomentumRider(strategy.MomentumRiderConfig{
			Lookback:      o.cfg.Momentum.Lookback,
			EntryPct:      o.cfg.Momentum.EntryPct,
			TakeProfitPct: o.cfg.Momentum.TakeProfitPct,
			StopLossPct:   o.cfg.Momentum.StopLossPct,
			OrderQuote:    o.cfg.Momentum.OrderQuote,
		}, o.logger)
	}
	if o.cfg.DipSniper.Enabled {
		o.dipTracker = position.NewTracker("dip_sniper", share(alloc.DipSniperPct), o.adapter, o.journal, o.logger)
		o.dip = strategy.NewDipSniper(strategy.DipSniperConfig{
			Window:      o.cfg.DipSniper.Window,
			DipPct:      o.cfg.DipSniper.DipPct,
			ReboundPct:  o.cfg.DipSniper.ReboundPct,
			StopLossPct: o.cfg.DipSniper.StopLossPct,
			OrderQuote:  o.cfg.DipSniper.OrderQuote,
		}, o.logger)
	}

	if o.cfg.TrendFilter.Enabled {
		o.trend = strategy.NewTrendFilter(o.cfg.TrendFilter.ShortWindow, o.cfg.TrendFilter.LongWindow)
	}
	if o.cfg.Sentiment.Enabled {
		ttl := time.Duration(o.cfg.Sentiment.CacheTTLSecs * float64(time.Second))
		o.sentiment = intelligence.NewFearGreedProvider("", ttl, o.logger)
	}

	limits := risk.Limits{
		MaxPositionQuote:        decimal.NewFromFloat(o.cfg.Risk.MaxPositionQuote),
		MaxPositionQuotePerPair: decimal.NewFromFloat(o.cfg.Risk.MaxPositionQuotePerPair),
		MaxOpenOrders:           o.cfg.Risk.MaxOpenOrders,
		StopLossPct:             o.cfg.Risk.StopLossPct,
		TakeProfitPct:           o.cfg.Risk.TakeProfitPct,
		MaxDrawdownPct:          o.cfg.Risk.MaxDrawdownPct,
	}
	if o.cfg.Sentiment.Enabled {
		limits.ExtremeFearThreshold = o.cfg.Sentiment.ExtremeFearThreshold
	}
	var sentiment core.SentimentProvider
	if o.sentiment != nil {
		sentiment = o.sentiment
	}
	o.supervisor = risk.NewSupervisor(limits, o.manager, o.gridTracker, o.trend, sentiment, o.logger)

	if o.cfg.StopLoss.Enabled {
		o.stopLoss = risk.NewPositionStopLoss(risk.StopLossConfig{
			ThresholdPct: o.cfg.StopLoss.ThresholdPct,
			CooldownSecs: o.cfg.StopLoss.CooldownSecs,
		}, o.gridTracker, o.logger)
	}
	if o.cfg.PairRotation.Enabled {
		o.rotator = strategy.NewPairRotator(strategy.RotatorConfig{
			Interval:       time.Duration(o.cfg.PairRotation.IntervalSecs * float64(time.Second)),
			MinTrades:      o.cfg.PairRotation.MinTrades,
			PauseThreshold: o.cfg.PairRotation.PauseThreshold,
		}, o.gridTracker, o.trend, o.logger)
	}
	return nil
}

func (o *Orchestrator) seedPaperBalances() {
	quoteSeeded := make(map[string]bool)
	for _, g := range o.cfg.Grids {
		base, quote := splitSymbol(g.Symbol)
		if !quoteSeeded[quote] {
			o.paper.SeedBalance(quote, decimal.NewFromFloat(o.cfg.PaperTrading.InitialBalanceQuote))
			quoteSeeded[quote] = true
		}
		if o.cfg.PaperTrading.InitialBalanceBase > 0 {
			o.paper.SeedBalance(base, decimal.NewFromFloat(o.cfg.PaperTrading.InitialBalanceBase))
		}
	}
}

// recoverState restores peak equity and rotator pauses from bot_state
func (o *Orchestrator) recoverState(ctx context.Context) error {
	if peak, ok, err := o.journal.BotState.Get(ctx, journal.StateKeyPeakEquity); err != nil {
		return err
	} else if ok {
		if v, err := decimal.NewFromString(peak); err == nil {
			o.supervisor.RestorePeakEquity(v)
			o.logger.Info("Restored peak equity", "peak", v)
		}
	}

	if o.rotator != nil {
		if paused, ok, err := o.journal.BotState.Get(ctx, journal.StateKeyPausedPairs); err != nil {
			return err
		} else if ok && paused != "" {
			pairs := strings.Split(paused, ",")
			o.rotator.RestorePaused(pairs)
			o.logger.Info("Restored paused pairs", "pairs", pairs)
		}
	}
	return nil
}

// effectiveGridConfig prefers journaled bounds (a restart resumes the
// shifted grid) and re-centers a stale band around the live price in
// paper mode.
func (o *Orchestrator) effectiveGridConfig(ctx context.Context, cfg core.GridConfig, price decimal.Decimal) core.GridConfig {
	if stored, err := o.journal.GridConfigs.Get(ctx, cfg.Symbol); err == nil && stored != nil {
		if stored.NumLevels == cfg.NumLevels && stored.Spacing == cfg.Spacing {
			cfg.Lower = stored.Lower
			cfg.Upper = stored.Upper
			o.logger.Info("Resuming journaled grid bounds",
				"symbol", cfg.Symbol, "lower", cfg.Lower, "upper", cfg.Upper)
		}
	}

	if o.paper != nil && !price.IsZero() {
		p := price.InexactFloat64()
		if p < cfg.Lower || p > cfg.Upper {
			span := cfg.Upper - cfg.Lower
			cfg.Lower = p - span/2
			cfg.Upper = p + span/2
			if cfg.Lower <= 0 {
				cfg.Upper -= cfg.Lower
				cfg.Lower = span * 0.01
			}
			o.logger.Info("Re-centered grid around live price",
				"symbol", cfg.Symbol, "price", p, "lower", cfg.Lower, "upper", cfg.Upper)
		}
	}
	return cfg
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// Tick runs one loop iteration. Exported for the backtest runner and
// tests; live operation drives it from the internal ticker.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.tick(ctx)
}

func (o *Orchestrator) tick(ctx context.Context) {
	start := time.Now()
	o.drainCommands(ctx)

	prices, err := o.feed.Prices(ctx, o.symbols)
	if err != nil {
		o.logger.Warn("Price refresh failed, skipping tick", "error", err)
		return
	}
	if o.paper != nil {
		o.paper.SimulatePrices(prices)
	}
	o.storePrices(prices)

	if o.sentiment != nil {
		if err := o.sentiment.Refresh(ctx); err != nil {
			o.logger.Debug("Sentiment refresh failed", "error", err)
		}
	}

	for symbol, price := range prices {
		if o.trend != nil {
			o.trend.AddPrice(symbol, price.InexactFloat64())
		}
		o.gridTracker.UpdateUnrealizedAt(symbol, price)
	}

	for _, symbol := range o.symbols {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		if err := o.pairTick(ctx, symbol, price); err != nil {
			o.logger.Error("Pair tick failed, skipping pair", "symbol", symbol, "error", err)
		}
	}

	o.runRotation(ctx)
	o.runAncillary(ctx, prices)

	equity := o.totalEquity()
	pool := o.gridTracker.Pool()
	telemetry.GetGlobalMetrics().SetEquity(
		equity.InexactFloat64(),
		pool.AvailableQuote.InexactFloat64(),
		pool.SecuredProfits.InexactFloat64())

	if o.cfg.Risk.MaxDrawdownPct > 0 && o.supervisor.CheckDrawdown(equity) {
		o.emergencyShutdown(ctx, "drawdown")
		return
	}

	o.maybeSnapshot(ctx)

	if m := telemetry.GetGlobalMetrics(); m.TickDuration != nil {
		m.TickDuration.Record(ctx, time.Since(start).Seconds())
	}
}

func (o *Orchestrator) pairTick(ctx context.Context, symbol string, price decimal.Decimal) error {
	eng, ok := o.engines[symbol]
	if !ok {
		return nil
	}
	if o.rotator != nil && o.rotator.IsPaused(symbol) {
		return nil
	}
	if o.stopLoss != nil && o.stopLoss.InCooldown(symbol) {
		return nil
	}

	if o.stopLoss != nil && o.stopLoss.ShouldTrigger(symbol) {
		eng.CancelAllGridOrders(ctx)
		if err := o.stopLoss.Execute(ctx, symbol, o.adapter); err != nil {
			return fmt.Errorf("stop-loss execution failed: %w", err)
		}
		return nil
	}

	cfg := eng.Config()
	if !cfg.Trailing.Enabled {
		lower := decimal.NewFromFloat(cfg.Lower)
		upper := decimal.NewFromFloat(cfg.Upper)
		if o.supervisor.CheckStopLoss(symbol, price, lower) ||
			o.supervisor.CheckTakeProfit(symbol, price, upper) {
			eng.CancelAllGridOrders(ctx)
			return nil
		}
	}

	fills, err := eng.CheckAndProcessFills(ctx)
	if err != nil {
		return err
	}
	for _, fill := range fills {
		fillPrice := fill.AvgFillPrice
		if fillPrice.IsZero() {
			fillPrice = fill.Price
		}
		if err := o.gridTracker.RecordFill(ctx, symbol, fill.Side,
			fill.FilledAmount, fillPrice, fill.Fee); err != nil {
			o.emergencyShutdown(ctx, "invariant")
			return err
		}
	}

	if cfg.Trailing.Enabled {
		eng.CheckTrailing(ctx, price)
	}
	return nil
}

// runRotation pauses chronic losers: cancel their grid and liquidate
// their base position back into the pool.
func (o *Orchestrator) runRotation(ctx context.Context) {
	if o.rotator == nil {
		return
	}
	for _, symbol := range o.rotator.Evaluate(o.symbols) {
		if eng, ok := o.engines[symbol]; ok {
			eng.CancelAllGridOrders(ctx)
		}
		pair, ok := o.gridTracker.PairSnapshot(symbol)
		if !ok || pair.BaseBalance.LessThanOrEqual(decimal.Zero) {
			continue
		}
		order, err := o.adapter.PlaceMarketOrder(ctx, symbol, core.SideSell, pair.BaseBalance)
		if err != nil {
			o.logger.Error("Rotation liquidation failed", "symbol", symbol, "error", err)
			continue
		}
		if err := o.gridTracker.RecordFill(ctx, symbol, core.SideSell,
			order.FilledAmount, order.AvgFillPrice, order.Fee); err != nil {
			o.emergencyShutdown(ctx, "invariant")
			return
		}
	}
}

// runAncillary steps the momentum and dip strategies. Each spends only
// its own allocation tracker; entries pass the supervisor's signal
// gates and the stop-loss cooldown first.
func (o *Orchestrator) runAncillary(ctx context.Context, prices map[string]decimal.Decimal) {
	if o.supervisor.IsHalted() {
		return
	}
	for _, symbol := range o.symbols {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		p := price.InexactFloat64()
		if o.momentum != nil {
			o.executeSignal(ctx, o.momentum.Observe(symbol, p), o.momentumTracker,
				o.momentum.OrderQuote(), o.momentum.Position(symbol), price,
				func(amt decimal.Decimal, entry float64) { o.momentum.MarkEntered(symbol, amt, entry) },
				func() { o.momentum.MarkExited(symbol) })
		}
		if o.dip != nil {
			o.executeSignal(ctx, o.dip.Observe(symbol, p), o.dipTracker,
				o.dip.OrderQuote(), o.dip.Position(symbol), price,
				func(amt decimal.Decimal, entry float64) { o.dip.MarkEntered(symbol, amt, entry) },
				func() { o.dip.MarkExited(symbol) })
		}
	}
}

func (o *Orchestrator) executeSignal(ctx context.Context, sig *strategy.Signal, tracker *position.Tracker,
	orderQuote, openAmount, price decimal.Decimal,
	markEntered func(decimal.Decimal, float64), markExited func()) {
	if sig == nil || tracker == nil {
		return
	}

	switch sig.Side {
	case core.SideBuy:
		if !o.supervisor.AllowsBuyEntry(sig.Symbol) {
			o.logger.Debug("Ancillary buy vetoed",
				"symbol", sig.Symbol, "reason", sig.Reason)
			return
		}
		if o.stopLoss != nil && o.stopLoss.InCooldown(sig.Symbol) {
			return
		}
		if !tracker.CanAffordBuy(orderQuote) {
			o.logger.Debug("Ancillary buy skipped, allocation exhausted",
				"symbol", sig.Symbol, "reason", sig.Reason)
			return
		}
		amount := orderQuote.Div(price)
		order, err := o.adapter.PlaceMarketOrder(ctx, sig.Symbol, core.SideBuy, amount)
		if err != nil {
			o.logger.Warn("Ancillary entry failed", "symbol", sig.Symbol, "error", err)
			return
		}
		if err := tracker.RecordFill(ctx, sig.Symbol, core.SideBuy,
			order.FilledAmount, order.AvgFillPrice, order.Fee); err != nil {
			o.emergencyShutdown(ctx, "invariant")
			return
		}
		markEntered(order.FilledAmount, order.AvgFillPrice.InexactFloat64())

	case core.SideSell:
		if openAmount.LessThanOrEqual(decimal.Zero) {
			return
		}
		order, err := o.adapter.PlaceMarketOrder(ctx, sig.Symbol, core.SideSell, openAmount)
		if err != nil {
			o.logger.Warn("Ancillary exit failed", "symbol", sig.Symbol, "error", err)
			return
		}
		if err := tracker.RecordFill(ctx, sig.Symbol, core.SideSell,
			order.FilledAmount, order.AvgFillPrice, order.Fee); err != nil {
			o.emergencyShutdown(ctx, "invariant")
			return
		}
		markExited()
		o.logger.Info("Ancillary position closed",
			"symbol", sig.Symbol, "reason", sig.Reason, "amount", openAmount)
	}
}

func (o *Orchestrator) totalEquity() decimal.Decimal {
	equity := o.gridTracker.TotalEquityQuote()
	if o.momentumTracker != nil {
		equity = equity.Add(o.momentumTracker.TotalEquityQuote())
	}
	if o.dipTracker != nil {
		equity = equity.Add(o.dipTracker.TotalEquityQuote())
	}
	return equity
}

func (o *Orchestrator) maybeSnapshot(ctx context.Context) {
	o.mu.Lock()
	due := time.Since(o.lastSnapshot) >= o.snapshotInterval
	if due {
		o.lastSnapshot = time.Now()
	}
	o.mu.Unlock()
	if !due {
		return
	}
	o.persistState(ctx)
}

func (o *Orchestrator) persistState(ctx context.Context) {
	if err := o.gridTracker.SaveSnapshot(ctx); err != nil {
		o.logger.Error("Snapshot write failed", "error", err)
	}
	for _, t := range []*position.Tracker{o.momentumTracker, o.dipTracker} {
		if t == nil {
			continue
		}
		if err := t.SaveSnapshot(ctx); err != nil {
			o.logger.Error("Snapshot write failed", "error", err)
		}
	}

	if err := o.journal.BotState.Set(ctx, journal.StateKeyPeakEquity,
		o.supervisor.PeakEquity().String()); err != nil {
		o.logger.Error("Failed to persist peak equity", "error", err)
	}
	if o.rotator != nil {
		if err := o.journal.BotState.Set(ctx, journal.StateKeyPausedPairs,
			strings.Join(o.rotator.PausedPairs(), ",")); err != nil {
			o.logger.Error("Failed to persist paused pairs", "error", err)
		}
	}
	if err := o.journal.BotState.Set(ctx, journal.StateKeyLastRun,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		o.logger.Error("Failed to persist last run", "error", err)
	}
}

// emergencyShutdown cancels every grid, persists state and parks the
// bot in ERROR. Only drawdown and ledger invariant violations reach
// this path.
func (o *Orchestrator) emergencyShutdown(ctx context.Context, reason string) {
	o.logger.Error("EMERGENCY SHUTDOWN", "reason", reason)
	o.supervisor.SetGlobalHalt(reason)
	o.cancelAllEngines(ctx)
	o.persistState(ctx)
	o.setStatus(core.StatusError)
	if o.cancel != nil {
		o.cancel()
	}
}

// cancelAllEngines pulls every pair's grid at once. Engines are
// independent, so the cancellations fan out over the worker pool.
func (o *Orchestrator) cancelAllEngines(ctx context.Context) {
	if o.workers == nil || len(o.engines) <= 1 {
		for _, eng := range o.engines {
			eng.CancelAllGridOrders(ctx)
		}
		return
	}
	group := o.workers.Group()
	for _, eng := range o.engines {
		eng := eng
		group.Submit(func() { eng.CancelAllGridOrders(ctx) })
	}
	group.Wait()
}

// Stop shuts the loop down, cancels every resting order, writes a
// final snapshot and closes the journal.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.Status() == core.StatusStopped {
		return nil
	}
	o.setStatus(core.StatusStopping)
	o.logger.Info("Stopping")

	if o.cancel != nil {
		o.cancel()
		<-o.done
	}

	o.cancelAllEngines(ctx)
	o.persistState(ctx)

	if o.workers != nil {
		o.workers.Stop()
	}
	if err := o.adapter.Close(); err != nil {
		o.logger.Warn("Adapter close failed", "error", err)
	}
	if err := o.journal.Close(); err != nil {
		o.logger.Warn("Journal close failed", "error", err)
	}

	o.setStatus(core.StatusStopped)
	o.logger.Info("Stopped")
	return nil
}

// Reconfigure swaps one pair's grid config. The request is executed
// between ticks by the loop's command drain.
func (o *Orchestrator) Reconfigure(ctx context.Context, gridCfg core.GridConfig) error {
	return o.sendCommand(ctx, command{kind: cmdReconfigure, symbol: gridCfg.Symbol, gridCfg: &gridCfg})
}

// PausePair excludes a pair from ticks until resumed
func (o *Orchestrator) PausePair(ctx context.Context, symbol string) error {
	return o.sendCommand(ctx, command{kind: cmdPausePair, symbol: symbol})
}

// ResumePair re-admits a rotator-paused pair
func (o *Orchestrator) ResumePair(ctx context.Context, symbol string) error {
	return o.sendCommand(ctx, command{kind: cmdResumePair, symbol: symbol})
}

// ResetHalt clears the global and per-pair halt bits
func (o *Orchestrator) ResetHalt(ctx context.Context) error {
	return o.sendCommand(ctx, command{kind: cmdResetHalt})
}

func (o *Orchestrator) sendCommand(ctx context.Context, cmd command) error {
	cmd.done = make(chan error, 1)
	select {
	case o.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-o.commands:
			cmd.done <- o.executeCommand(ctx, cmd)
		default:
			return
		}
	}
}

func (o *Orchestrator) executeCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdReconfigure:
		eng, ok := o.engines[cmd.symbol]
		if !ok {
			return fmt.Errorf("unknown pair %s", cmd.symbol)
		}
		if err := config.ValidateGrid(cmd.gridCfg); err != nil {
			return err
		}
		eng.CancelAllGridOrders(ctx)
		newEng := engine.NewGridEngine(*cmd.gridCfg, o.manager, o.supervisor, o.adapter, o.journal, o.logger)
		if err := newEng.InitializeGrid(ctx); err != nil {
			return err
		}
		o.engines[cmd.symbol] = newEng
		o.logger.Info("Pair reconfigured", "symbol", cmd.symbol)
		return nil

	case cmdPausePair:
		if o.rotator == nil {
			return fmt.Errorf("pair rotation is disabled")
		}
		o.rotator.RestorePaused([]string{cmd.symbol})
		if eng, ok := o.engines[cmd.symbol]; ok {
			eng.CancelAllGridOrders(ctx)
		}
		return nil

	case cmdResumePair:
		if o.rotator == nil {
			return fmt.Errorf("pair rotation is disabled")
		}
		o.rotator.Resume(cmd.symbol)
		if eng, ok := o.engines[cmd.symbol]; ok {
			return eng.InitializeGrid(ctx)
		}
		return nil

	case cmdResetHalt:
		o.supervisor.ResetHalt()
		return nil
	}
	return nil
}

// Done is closed when the loop goroutine exits, whether through Stop
// or an emergency shutdown. main selects on it so a self-halted bot
// terminates the process instead of idling.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Status returns the orchestrator lifecycle state
func (o *Orchestrator) Status() core.BotStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) setStatus(s core.BotStatus) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

func (o *Orchestrator) storePrices(prices map[string]decimal.Decimal) {
	o.mu.Lock()
	for sym, p := range prices {
		o.lastPrices[sym] = p
	}
	o.mu.Unlock()
}

func splitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return symbol, "USD"
	}
	return parts[0], parts[1]
}
