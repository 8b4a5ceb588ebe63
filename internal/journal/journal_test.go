package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gridbot/internal/core"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "test.db"), logging.GetGlobalLogger())
	require.NoError(t, err)
	require.NoError(t, j.Migrate(context.Background()))
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestMigrate_Idempotent(t *testing.T) {
	j := openTestJournal(t)
	// Re-running migrations, including the additive ALTERs, must not fail
	assert.NoError(t, j.Migrate(context.Background()))
}

func TestOrderRepo_UpsertAndGet(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	order := &core.Order{
		VenueOrderID: "abc-1",
		Symbol:       "BTC/USD",
		Side:         core.SideBuy,
		Price:        decimal.NewFromInt(57500),
		Amount:       decimal.NewFromFloat(0.0017),
		Status:       core.OrderOpen,
		Ts:           time.Now(),
	}
	require.NoError(t, j.Orders.Upsert(ctx, order))

	got, err := j.Orders.Get(ctx, "abc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.OrderOpen, got.Status)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(57500)))
	assert.True(t, got.AvgFillPrice.IsZero())

	// Upsert again with fill data
	order.Status = core.OrderFilled
	order.FilledAmount = order.Amount
	order.AvgFillPrice = decimal.NewFromInt(57490)
	order.Fee = decimal.NewFromFloat(0.59)
	require.NoError(t, j.Orders.Upsert(ctx, order))

	got, err = j.Orders.Get(ctx, "abc-1")
	require.NoError(t, err)
	assert.Equal(t, core.OrderFilled, got.Status)
	assert.True(t, got.AvgFillPrice.Equal(decimal.NewFromInt(57490)))
}

func TestOrderRepo_GetMissing(t *testing.T) {
	j := openTestJournal(t)
	got, err := j.Orders.Get(context.Background(), "no-such-order")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOrderRepo_ListOpenAndMarkCancelled(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i, status := range []core.OrderStatus{core.OrderOpen, core.OrderPartiallyFilled, core.OrderFilled} {
		require.NoError(t, j.Orders.Upsert(ctx, &core.Order{
			VenueOrderID: string(rune('a' + i)),
			Symbol:       "BTC/USD",
			Side:         core.SideBuy,
			Price:        decimal.NewFromInt(100),
			Amount:       decimal.NewFromInt(1),
			Status:       status,
			Ts:           time.Now(),
		}))
	}

	open, err := j.Orders.ListOpen(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Len(t, open, 2)

	require.NoError(t, j.Orders.MarkCancelled(ctx, "a"))
	open, err = j.Orders.ListOpen(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Len(t, open, 1)

	// Terminal statuses never regress
	require.NoError(t, j.Orders.MarkCancelled(ctx, "c"))
	got, err := j.Orders.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, core.OrderFilled, got.Status)
}

func TestLevelRepo_ReplaceAndUpdate(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	// FK: the config row must exist before its levels
	require.NoError(t, j.GridConfigs.Save(ctx, &core.GridConfig{
		Symbol: "BTC/USD", Lower: 55000, Upper: 65000, NumLevels: 3,
		Spacing: core.SpacingArithmetic, OrderSizeQuote: 100,
	}))

	levels := []core.GridLevel{
		{Index: 0, Price: decimal.NewFromInt(55000), Side: core.SideBuy, Status: core.LevelPlaced, VenueOrderID: "o-0"},
		{Index: 1, Price: decimal.NewFromInt(60000), Side: core.SideBuy, Status: core.LevelPending},
		{Index: 2, Price: decimal.NewFromInt(65000), Side: core.SideSell, Status: core.LevelPlaced, VenueOrderID: "o-2"},
	}
	require.NoError(t, j.Levels.ReplaceGrid(ctx, "BTC/USD", levels))

	got, err := j.Levels.GetLevels(ctx, "BTC/USD")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "o-0", got[0].VenueOrderID)
	assert.Equal(t, "", got[1].VenueOrderID)

	// Mirror transition: level 0 fills, flips side
	levels[0].Status = core.LevelFilled
	require.NoError(t, j.Levels.UpdateLevel(ctx, "BTC/USD", levels[0]))

	got, err = j.Levels.GetLevels(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, core.LevelFilled, got[0].Status)
}

func TestTradeRepo_InsertAndList(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	trade := &core.Trade{
		Symbol: "ETH/USD",
		Side:   core.SideSell,
		Amount: decimal.NewFromFloat(0.5),
		Price:  decimal.NewFromInt(3000),
		Fee:    decimal.NewFromFloat(0.9),
		Pnl:    decimal.NewFromFloat(12.5),
		Ts:     time.Now(),
	}
	require.NoError(t, j.Trades.Insert(ctx, trade))
	assert.Positive(t, trade.ID)

	trades, err := j.Trades.ListBySymbol(ctx, "ETH/USD", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Pnl.Equal(decimal.NewFromFloat(12.5)))

	n, err := j.Trades.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSnapshotRepo_RoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, j.Snapshots.Insert(ctx, &core.EquitySnapshot{
			Ts:          time.Now().Add(time.Duration(i) * time.Second),
			Symbol:      "BTC/USD",
			TotalEquity: decimal.NewFromInt(int64(10000 + i)),
		}))
	}

	snaps, err := j.Snapshots.ListRecent(ctx, "BTC/USD", 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	// Chronological order, newest pair of observations
	assert.True(t, snaps[0].TotalEquity.LessThan(snaps[1].TotalEquity))
}

func TestBotStateRepo_SetGet(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	_, ok, err := j.BotState.Get(ctx, StateKeyPeakEquity)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, j.BotState.Set(ctx, StateKeyPeakEquity, "10250.75"))
	require.NoError(t, j.BotState.Set(ctx, StateKeyPeakEquity, "10500.00"))

	v, ok, err := j.BotState.Get(ctx, StateKeyPeakEquity)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10500.00", v)
}

func TestGridConfigRepo_SaveGet(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	cfg := &core.GridConfig{
		Symbol: "BTC/USD", Lower: 55000, Upper: 65000, NumLevels: 5,
		Spacing: core.SpacingGeometric, OrderSizeQuote: 100,
		Trailing: core.TrailingConfig{Enabled: true},
	}
	require.NoError(t, j.GridConfigs.Save(ctx, cfg))

	// Trailing shift updates the bounds in place
	cfg.Lower, cfg.Upper = 60000, 70000
	require.NoError(t, j.GridConfigs.Save(ctx, cfg))

	got, err := j.GridConfigs.Get(ctx, "BTC/USD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 60000.0, got.Lower)
	assert.Equal(t, 70000.0, got.Upper)
	assert.True(t, got.Trailing.Enabled)

	missing, err := j.GridConfigs.Get(ctx, "XRP/USD")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
