package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/exchange"
	"gridbot/internal/journal"
	"gridbot/internal/orders"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAll struct{}

func (allowAll) CanPlaceOrder(context.Context, string, core.OrderSide, decimal.Decimal, decimal.Decimal) bool {
	return true
}

// capAdmitter admits the first n placements
type capAdmitter struct {
	remaining int
}

func (c *capAdmitter) CanPlaceOrder(context.Context, string, core.OrderSide, decimal.Decimal, decimal.Decimal) bool {
	if c.remaining <= 0 {
		return false
	}
	c.remaining--
	return true
}

func testGridConfig() core.GridConfig {
	return core.GridConfig{
		Symbol:         "BTC/USD",
		Lower:          55000,
		Upper:          65000,
		NumLevels:      5,
		Spacing:        core.SpacingArithmetic,
		OrderSizeQuote: 100,
		Trailing: core.TrailingConfig{
			Enabled:      true,
			TriggerPct:   75,
			RebalancePct: 50,
			CooldownSecs: 300,
		},
	}
}

func newTestEngine(t *testing.T, admitter core.OrderAdmitter) (*GridEngine, *exchange.PaperExchange, *journal.Journal) {
	t.Helper()
	ctx := context.Background()

	j, err := journal.Open(filepath.Join(t.TempDir(), "engine_test.db"), logging.GetGlobalLogger())
	require.NoError(t, err)
	require.NoError(t, j.Migrate(ctx))
	t.Cleanup(func() { _ = j.Close() })

	paper := exchange.NewPaperExchange(exchange.PaperConfig{SimulatedFeePct: 0.001}, logging.GetGlobalLogger())
	require.NoError(t, paper.Connect(ctx))
	paper.SeedBalance("USD", decimal.NewFromInt(100000))
	paper.SeedBalance("BTC", decimal.NewFromInt(10))

	manager := orders.NewManager(paper, j, logging.GetGlobalLogger())
	e := NewGridEngine(testGridConfig(), manager, admitter, paper, j, logging.GetGlobalLogger())
	return e, paper, j
}

func tick(p *exchange.PaperExchange, price int64) []*core.Order {
	return p.SimulatePrices(map[string]decimal.Decimal{"BTC/USD": decimal.NewFromInt(price)})
}

func TestEngine_InitializeGridPlacesAllLevels(t *testing.T) {
	e, paper, j := newTestEngine(t, allowAll{})
	ctx := context.Background()

	tick(paper, 60000)
	require.NoError(t, e.InitializeGrid(ctx))

	levels := e.Levels()
	require.Len(t, levels, 5)
	// Levels below the 60000 print are buys, the rest sells
	wantSides := []core.OrderSide{core.SideBuy, core.SideBuy, core.SideSell, core.SideSell, core.SideSell}
	for i, lv := range levels {
		assert.Equal(t, core.LevelPlaced, lv.Status, "level %d", i)
		assert.Equal(t, wantSides[i], lv.Side, "level %d", i)
		assert.NotEmpty(t, lv.VenueOrderID, "level %d", i)
	}
	assert.Equal(t, 5, paper.OpenOrderCount())

	// Lattice persisted
	stored, err := j.Levels.GetLevels(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestEngine_AdmissionCapLeavesLevelsPending(t *testing.T) {
	e, paper, _ := newTestEngine(t, &capAdmitter{remaining: 3})
	ctx := context.Background()

	tick(paper, 60000)
	require.NoError(t, e.InitializeGrid(ctx))

	placed, pending := 0, 0
	for _, lv := range e.Levels() {
		switch lv.Status {
		case core.LevelPlaced:
			placed++
		case core.LevelPending:
			pending++
		}
	}
	assert.Equal(t, 3, placed)
	assert.Equal(t, 2, pending)
}

func TestEngine_FillIsMirroredToAdjacentLevel(t *testing.T) {
	e, paper, _ := newTestEngine(t, allowAll{})
	ctx := context.Background()

	tick(paper, 60000)
	require.NoError(t, e.InitializeGrid(ctx))

	// Drop through the 57500 buy
	fills := tick(paper, 57400)
	require.Len(t, fills, 1)

	processed, err := e.CheckAndProcessFills(ctx)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, core.SideBuy, processed[0].Side)

	levels := e.Levels()
	assert.Equal(t, core.LevelFilled, levels[1].Status)
	// Mirror target (idx 2, sell) already holds its init order
	assert.Equal(t, core.LevelPlaced, levels[2].Status)

	// Rise through the 60000 sell; its mirror re-arms the filled buy level
	fills = tick(paper, 60100)
	require.Len(t, fills, 1)
	processed, err = e.CheckAndProcessFills(ctx)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, core.SideSell, processed[0].Side)

	levels = e.Levels()
	assert.Equal(t, core.LevelFilled, levels[2].Status)
	assert.Equal(t, core.LevelPlaced, levels[1].Status)
	assert.Equal(t, core.SideBuy, levels[1].Side)
	assert.NotEmpty(t, levels[1].VenueOrderID)
}

func TestEngine_EdgeFillHasNoMirror(t *testing.T) {
	_, paper, j := newTestEngine(t, allowAll{})
	ctx := context.Background()

	// Two-level grid, price above the band: both levels are buys
	cfg := testGridConfig()
	cfg.NumLevels = 2
	e := NewGridEngine(cfg, orders.NewManager(paper, j, logging.GetGlobalLogger()),
		allowAll{}, paper, j, logging.GetGlobalLogger())

	tick(paper, 66000)
	require.NoError(t, e.InitializeGrid(ctx))

	// Fill only the top buy; its mirror (idx 2) is out of range
	fills := tick(paper, 64000)
	require.Len(t, fills, 1)
	processed, err := e.CheckAndProcessFills(ctx)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, 1, paper.OpenOrderCount())

	// Fill the bottom buy; its mirror re-arms the filled top level as a sell
	fills = tick(paper, 54000)
	require.Len(t, fills, 1)
	processed, err = e.CheckAndProcessFills(ctx)
	require.NoError(t, err)
	require.Len(t, processed, 1)

	levels := e.Levels()
	assert.Equal(t, core.LevelFilled, levels[0].Status)
	assert.Equal(t, core.LevelPlaced, levels[1].Status)
	assert.Equal(t, core.SideSell, levels[1].Side)
}

func TestEngine_CancelAllGridOrders(t *testing.T) {
	e, paper, _ := newTestEngine(t, allowAll{})
	ctx := context.Background()

	tick(paper, 60000)
	require.NoError(t, e.InitializeGrid(ctx))
	require.Equal(t, 5, paper.OpenOrderCount())

	cancelled := e.CancelAllGridOrders(ctx)
	assert.Equal(t, 5, cancelled)
	assert.Equal(t, 0, paper.OpenOrderCount())
	for _, lv := range e.Levels() {
		assert.Equal(t, core.LevelCancelled, lv.Status)
		assert.Empty(t, lv.VenueOrderID)
	}

	// Idempotent
	assert.Equal(t, 0, e.CancelAllGridOrders(ctx))
}

func TestEngine_TrailingShiftUp(t *testing.T) {
	e, paper, j := newTestEngine(t, allowAll{})
	ctx := context.Background()

	tick(paper, 60000)
	require.NoError(t, e.InitializeGrid(ctx))

	current := time.Now()
	e.SetClock(func() time.Time { return current })

	// pos = (63750-55000)/10000 = 0.875 >= 0.75: shift up by 5000
	tick(paper, 63750)
	assert.True(t, e.CheckTrailing(ctx, decimal.NewFromInt(63750)))

	cfg := e.Config()
	assert.InDelta(t, 60000, cfg.Lower, 1e-9)
	assert.InDelta(t, 70000, cfg.Upper, 1e-9)
	assert.Equal(t, 1, e.TrailingShiftCount())

	// Fresh lattice on the new bounds, all placed
	for _, lv := range e.Levels() {
		assert.Equal(t, core.LevelPlaced, lv.Status)
	}

	// Within the cooldown no further shift fires
	assert.False(t, e.CheckTrailing(ctx, decimal.NewFromInt(69000)))
	assert.Equal(t, 1, e.TrailingShiftCount())

	// After the cooldown it can shift again
	current = current.Add(301 * time.Second)
	assert.True(t, e.CheckTrailing(ctx, decimal.NewFromInt(69000)))
	assert.Equal(t, 2, e.TrailingShiftCount())

	// Shifted bounds are persisted for restart recovery
	stored, err := j.GridConfigs.Get(ctx, "BTC/USD")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.InDelta(t, 65000, stored.Lower, 1e-9)
}

func TestEngine_TrailingShiftDownRejectsNonPositiveLower(t *testing.T) {
	e, paper, _ := newTestEngine(t, allowAll{})
	ctx := context.Background()

	cfg := testGridConfig()
	cfg.Lower = 1000
	cfg.Upper = 11000
	cfg.Trailing.RebalancePct = 100
	e = NewGridEngine(cfg, orders.NewManager(paper, nil, logging.GetGlobalLogger()),
		allowAll{}, paper, nil, logging.GetGlobalLogger())

	tick(paper, 6000)
	require.NoError(t, e.InitializeGrid(ctx))

	// pos = (1100-1000)/10000 = 0.01 <= 0.25: wants to shift down by
	// the full 10000 span, which would put lower at -9000
	assert.False(t, e.CheckTrailing(ctx, decimal.NewFromInt(1100)))
	assert.Equal(t, 0, e.TrailingShiftCount())
}

func TestEngine_NoTrailingWhenDisabled(t *testing.T) {
	cfg := testGridConfig()
	cfg.Trailing.Enabled = false

	paper := exchange.NewPaperExchange(exchange.PaperConfig{}, logging.GetGlobalLogger())
	require.NoError(t, paper.Connect(context.Background()))
	e := NewGridEngine(cfg, orders.NewManager(paper, nil, logging.GetGlobalLogger()), allowAll{}, paper, nil, logging.GetGlobalLogger())

	assert.False(t, e.CheckTrailing(context.Background(), decimal.NewFromInt(64999)))
}
