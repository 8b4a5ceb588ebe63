package feed

import (
	"context"
	"testing"

	"gridbot/internal/exchange"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVenueSource_FetchesAllSymbols(t *testing.T) {
	ctx := context.Background()
	paper := exchange.NewPaperExchange(exchange.PaperConfig{}, logging.GetGlobalLogger())
	require.NoError(t, paper.Connect(ctx))
	paper.SimulatePrices(map[string]decimal.Decimal{
		"BTC/USD": decimal.NewFromInt(60000),
		"ETH/USD": decimal.NewFromInt(3000),
	})

	src := NewVenueSource(paper, logging.GetGlobalLogger())
	prices, err := src.Prices(ctx, []string{"BTC/USD", "ETH/USD"})
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices["BTC/USD"].Equal(decimal.NewFromInt(60000)))
	assert.True(t, prices["ETH/USD"].Equal(decimal.NewFromInt(3000)))
}

func TestVenueSource_SkipsFailingSymbol(t *testing.T) {
	ctx := context.Background()
	paper := exchange.NewPaperExchange(exchange.PaperConfig{}, logging.GetGlobalLogger())
	require.NoError(t, paper.Connect(ctx))
	paper.SimulatePrices(map[string]decimal.Decimal{"BTC/USD": decimal.NewFromInt(60000)})

	src := NewVenueSource(paper, logging.GetGlobalLogger())
	// NOPE/USD has no tape; it is dropped, not fatal
	prices, err := src.Prices(ctx, []string{"BTC/USD", "NOPE/USD"})
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Contains(t, prices, "BTC/USD")
}

func TestRandomWalk_StaysPositiveAndBounded(t *testing.T) {
	src := NewRandomWalkSource(map[string]float64{"BTC/USD": 60000}, 1.0, 0, 7, logging.GetGlobalLogger())
	ctx := context.Background()

	prev := 60000.0
	for i := 0; i < 200; i++ {
		prices, err := src.Prices(ctx, []string{"BTC/USD"})
		require.NoError(t, err)
		require.Contains(t, prices, "BTC/USD")

		cur := prices["BTC/USD"].InexactFloat64()
		assert.Greater(t, cur, 0.0)
		// One step moves at most 1%
		assert.InDelta(t, prev, cur, prev*0.0101)
		prev = cur
	}
}

func TestRandomWalk_UnknownSymbolOmitted(t *testing.T) {
	src := NewRandomWalkSource(map[string]float64{"BTC/USD": 60000}, 1.0, 0, 7, logging.GetGlobalLogger())
	prices, err := src.Prices(context.Background(), []string{"ETH/USD"})
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestRandomWalk_Deterministic(t *testing.T) {
	a := NewRandomWalkSource(map[string]float64{"BTC/USD": 60000}, 1.0, 0, 42, logging.GetGlobalLogger())
	b := NewRandomWalkSource(map[string]float64{"BTC/USD": 60000}, 1.0, 0, 42, logging.GetGlobalLogger())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		pa, err := a.Prices(ctx, []string{"BTC/USD"})
		require.NoError(t, err)
		pb, err := b.Prices(ctx, []string{"BTC/USD"})
		require.NoError(t, err)
		assert.True(t, pa["BTC/USD"].Equal(pb["BTC/USD"]), "step %d", i)
	}
}
