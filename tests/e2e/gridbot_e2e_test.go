package e2e

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gridbot/internal/bot"
	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/exchange"
	"gridbot/internal/journal"
	"gridbot/internal/orders"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFeed replays a fixed price sequence, repeating the last step
type scriptedFeed struct {
	mu    sync.Mutex
	steps []map[string]decimal.Decimal
	idx   int
}

func (s *scriptedFeed) Prices(_ context.Context, _ []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.steps[s.idx]
	if s.idx < len(s.steps)-1 {
		s.idx++
	}
	return step, nil
}

func btcStep(p int64) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{"BTC/USD": decimal.NewFromInt(p)}
}

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Grids: []core.GridConfig{{
			Symbol:         "BTC/USD",
			Lower:          55000,
			Upper:          65000,
			NumLevels:      5,
			Spacing:        core.SpacingArithmetic,
			OrderSizeQuote: 100,
		}},
		Risk: config.RiskConfig{MaxOpenOrders: 50},
		Pool: config.PoolConfig{InitialBalanceQuote: 10000},
		PaperTrading: config.PaperTradingConfig{
			Enabled:             true,
			InitialBalanceQuote: 100000,
			SimulatedFeePct:     0.006,
		},
		Allocation: config.AllocationConfig{GridPct: 100},
		Database:   config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "e2e.db")},
	}
}

func startBot(t *testing.T, cfg *config.Config, feed *scriptedFeed) *bot.Orchestrator {
	t.Helper()
	o := bot.New(cfg, bot.Options{Feed: feed}, logging.GetGlobalLogger())
	// Park the internal ticker; tests drive Tick directly
	o.SetIntervals(time.Hour, 0)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() { _ = o.Stop(context.Background()) })
	return o
}

func pairState(t *testing.T, o *bot.Orchestrator, symbol string) bot.PairState {
	t.Helper()
	for _, p := range o.StateSnapshot().Pairs {
		if p.Symbol == symbol {
			return p
		}
	}
	t.Fatalf("pair %s missing from snapshot", symbol)
	return bot.PairState{}
}

func countLevels(levels []core.GridLevel, status core.LevelStatus) int {
	n := 0
	for _, lv := range levels {
		if lv.Status == status {
			n++
		}
	}
	return n
}

// A long oscillation between two adjacent levels: each dip fills the
// 57500 buy, each rally fills the 60000 sell, and every fill arms the
// adjacent level. The ledger must stay balanced the whole way through.
func TestE2E_OscillationKeepsLedgerBalanced(t *testing.T) {
	steps := []map[string]decimal.Decimal{btcStep(58000)}
	for i := 0; i < 100; i++ {
		steps = append(steps, btcStep(57400), btcStep(60100))
	}
	feed := &scriptedFeed{steps: steps}
	o := startBot(t, baseConfig(t), feed)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		o.Tick(ctx)
		require.Equal(t, core.StatusRunning, o.Status(), "tick %d", i)
	}

	snap := o.StateSnapshot()
	require.Len(t, snap.Pairs, 1)
	pair := snap.Pairs[0]

	assert.False(t, snap.GlobalHalt)
	assert.GreaterOrEqual(t, pair.TradeCount, int64(100), "both sides traded")
	assert.True(t, pair.RealizedPnl.GreaterThan(decimal.Zero),
		"buy-low sell-high cycles realize profit, got %s", pair.RealizedPnl)
	assert.True(t, snap.Pool.TotalFees.GreaterThan(decimal.Zero))

	// Conservation: available + secured + base cost - realized equals
	// the initial pool minus the buy-side fees. Sell fees are already
	// netted inside realized pnl.
	ledger := snap.Pool.AvailableQuote.
		Add(snap.Pool.SecuredProfits).
		Add(pair.BaseBalance.Mul(pair.AvgEntryPrice)).
		Sub(pair.RealizedPnl)
	initial := decimal.NewFromInt(10000)
	assert.True(t, ledger.LessThanOrEqual(initial),
		"ledger %s must not exceed the initial pool", ledger)
	assert.True(t, ledger.GreaterThanOrEqual(initial.Sub(snap.Pool.TotalFees)),
		"ledger %s drifted below initial minus fees", ledger)

	// The last tick was a sell fill; its mirror re-arms the buy below
	levels := pair.Levels
	require.Len(t, levels, 5)
	assert.Equal(t, core.LevelPlaced, levels[1].Status)
	assert.Equal(t, core.SideBuy, levels[1].Side)
}

// A crash through one pair's band floor halts that pair and cancels its
// grid. The other pair keeps trading.
func TestE2E_StopLossIsolatesThePair(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Risk.StopLossPct = 5
	cfg.Grids = append(cfg.Grids, core.GridConfig{
		Symbol:         "ETH/USD",
		Lower:          3000,
		Upper:          4000,
		NumLevels:      5,
		Spacing:        core.SpacingArithmetic,
		OrderSizeQuote: 100,
	})

	step := func(btc, eth int64) map[string]decimal.Decimal {
		return map[string]decimal.Decimal{
			"BTC/USD": decimal.NewFromInt(btc),
			"ETH/USD": decimal.NewFromInt(eth),
		}
	}
	feed := &scriptedFeed{steps: []map[string]decimal.Decimal{
		step(58000, 3400),
		step(57400, 3400), // BTC buy fills
		step(51700, 3400), // below 55000 x 0.95, BTC trips
		step(51700, 3200), // ETH keeps trading
	}}
	o := startBot(t, cfg, feed)
	ctx := context.Background()

	o.Tick(ctx)
	o.Tick(ctx)

	btc := pairState(t, o, "BTC/USD")
	assert.True(t, btc.Halted, "BTC pair halted by stop loss")
	assert.Zero(t, countLevels(btc.Levels, core.LevelPlaced), "BTC grid cancelled")

	o.Tick(ctx)

	snap := o.StateSnapshot()
	assert.Equal(t, core.StatusRunning, snap.Status)
	assert.False(t, snap.GlobalHalt, "one pair's stop loss never halts the bot")

	eth := pairState(t, o, "ETH/USD")
	assert.False(t, eth.Halted)
	assert.GreaterOrEqual(t, eth.TradeCount, int64(1), "ETH filled a buy after BTC halted")
	assert.Greater(t, countLevels(eth.Levels, core.LevelPlaced), 0, "ETH grid still live")
}

// Equity falling 11% below peak trips the drawdown breaker: global
// halt, every grid cancelled, status ERROR. The 5% dip must not trip.
func TestE2E_DrawdownTriggersGlobalHalt(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Risk.MaxDrawdownPct = 10
	cfg.Risk.StopLossPct = 90 // park the band floor far away
	cfg.Grids[0].OrderSizeQuote = 2000
	cfg.PaperTrading.SimulatedFeePct = 0

	feed := &scriptedFeed{steps: []map[string]decimal.Decimal{
		btcStep(58000),
		btcStep(58000), // peak observed at full equity
		btcStep(54900), // both buys fill, ~4000 deployed
		btcStep(49200), // equity ~9500, 5% down: no trip
		btcStep(40800), // equity ~8900, 11% down: trip
	}}
	o := startBot(t, cfg, feed)
	ctx := context.Background()

	o.Tick(ctx)
	o.Tick(ctx)
	o.Tick(ctx)
	assert.Equal(t, core.StatusRunning, o.Status(), "5%% drawdown is below the limit")
	assert.False(t, o.StateSnapshot().GlobalHalt)

	o.Tick(ctx)

	snap := o.StateSnapshot()
	assert.Equal(t, core.StatusError, snap.Status)
	assert.True(t, snap.GlobalHalt)
	for _, pair := range snap.Pairs {
		assert.Zero(t, countLevels(pair.Levels, core.LevelPlaced),
			"no resting orders survive an emergency halt")
	}
}

// Price pushing into the top of the band shifts the whole grid up by
// the rebalance fraction; a second excursion inside the cooldown is
// ignored.
func TestE2E_TrailingShiftMovesTheBand(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Grids[0].Trailing = core.TrailingConfig{
		Enabled:      true,
		TriggerPct:   75,
		RebalancePct: 50,
		CooldownSecs: 300,
	}

	feed := &scriptedFeed{steps: []map[string]decimal.Decimal{
		btcStep(63750), // pos = 0.875 of [55000, 65000]
		btcStep(63750),
		btcStep(60500), // pos = 0.05 of the shifted band: blocked by cooldown
	}}
	o := startBot(t, cfg, feed)
	ctx := context.Background()

	o.Tick(ctx)

	pair := pairState(t, o, "BTC/USD")
	assert.Equal(t, 1, pair.TrailingShifts)
	assert.InDelta(t, 60000, pair.GridLower, 0.01)
	assert.InDelta(t, 70000, pair.GridUpper, 0.01)

	o.Tick(ctx)

	pair = pairState(t, o, "BTC/USD")
	assert.Equal(t, 1, pair.TrailingShifts, "cooldown suppresses the next shift")
	assert.InDelta(t, 60000, pair.GridLower, 0.01)
	assert.InDelta(t, 70000, pair.GridUpper, 0.01)
}

// Restart recovery: the journal remembers three resting orders but the
// venue only knows two. Reconciliation drops the vanished one, journals
// it as cancelled, and running it again changes nothing.
func TestE2E_ReconcileAfterRestart(t *testing.T) {
	ctx := context.Background()
	logger := logging.GetGlobalLogger()
	dbPath := filepath.Join(t.TempDir(), "reconcile.db")

	j, err := journal.Open(dbPath, logger)
	require.NoError(t, err)
	require.NoError(t, j.Migrate(ctx))
	t.Cleanup(func() { _ = j.Close() })

	paper := exchange.NewPaperExchange(exchange.PaperConfig{}, logger)
	require.NoError(t, paper.Connect(ctx))
	paper.SeedBalance("USD", decimal.NewFromInt(10000))

	mgr := orders.NewManager(paper, j, logger)
	var ids []string
	for i, price := range []int64{50000, 51000, 52000} {
		order, err := mgr.PlaceGridOrder(ctx, "BTC/USD", core.SideBuy,
			decimal.NewFromFloat(0.001), decimal.NewFromInt(price), i)
		require.NoError(t, err)
		ids = append(ids, order.VenueOrderID)
	}

	// One order vanishes at the venue behind the manager's back
	gone, err := paper.CancelOrder(ctx, ids[1], "BTC/USD")
	require.NoError(t, err)
	require.True(t, gone)

	// Restart: a fresh manager sees three in the journal, two live
	restarted := orders.NewManager(paper, j, logger)
	require.NoError(t, restarted.RestoreFromJournal(ctx, "BTC/USD"))
	assert.Equal(t, 3, restarted.OpenOrderCount())

	require.NoError(t, restarted.ReconcileWithExchange(ctx, "BTC/USD"))
	assert.Equal(t, 2, restarted.OpenOrderCount())
	assert.True(t, restarted.IsLive(ids[0]))
	assert.False(t, restarted.IsLive(ids[1]))
	assert.True(t, restarted.IsLive(ids[2]))

	// Idempotent: a second pass with no venue change is a no-op
	require.NoError(t, restarted.ReconcileWithExchange(ctx, "BTC/USD"))
	assert.Equal(t, 2, restarted.OpenOrderCount())
	assert.True(t, restarted.IsLive(ids[0]))
	assert.True(t, restarted.IsLive(ids[2]))

	// The vanished order reached the journal as cancelled
	row, err := j.Orders.Get(ctx, ids[1])
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, core.OrderCancelled, row.Status)
}

// A grid wanting ten orders against a cap of five gets exactly five
// placed levels; the rest stay pending without any error.
func TestE2E_MaxOpenOrdersCapsPlacement(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Risk.MaxOpenOrders = 5
	cfg.Grids[0].Lower = 50000
	cfg.Grids[0].Upper = 59000
	cfg.Grids[0].NumLevels = 10

	feed := &scriptedFeed{steps: []map[string]decimal.Decimal{btcStep(54500)}}
	o := startBot(t, cfg, feed)

	assert.Equal(t, core.StatusRunning, o.Status())

	pair := pairState(t, o, "BTC/USD")
	require.Len(t, pair.Levels, 10)
	assert.Equal(t, 5, countLevels(pair.Levels, core.LevelPlaced))
	assert.Equal(t, 5, countLevels(pair.Levels, core.LevelPending))
}
