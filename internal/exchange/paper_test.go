package exchange

import (
	"context"
	"testing"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaper(t *testing.T) *PaperExchange {
	t.Helper()
	p := NewPaperExchange(PaperConfig{
		InitialBalanceQuote: 10000,
		SimulatedFeePct:     0.001,
	}, logging.GetGlobalLogger())
	require.NoError(t, p.Connect(context.Background()))
	p.SeedBalance("USD", decimal.NewFromInt(10000))
	return p
}

func tape(price float64) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{"BTC/USD": decimal.NewFromFloat(price)}
}

func TestPaper_LimitBuyFillsWhenCrossed(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()

	order, err := p.PlaceLimitOrder(ctx, "BTC/USD", core.SideBuy, decimal.NewFromFloat(0.1), decimal.NewFromInt(50000))
	require.NoError(t, err)
	assert.Equal(t, core.OrderOpen, order.Status)
	assert.NotEmpty(t, order.VenueOrderID)

	// Price above the limit: no fill
	assert.Empty(t, p.SimulatePrices(tape(51000)))

	// Price crosses: complete fill at the limit price
	filled := p.SimulatePrices(tape(49900))
	require.Len(t, filled, 1)
	assert.Equal(t, order.VenueOrderID, filled[0].VenueOrderID)
	assert.Equal(t, core.OrderFilled, filled[0].Status)
	assert.True(t, filled[0].AvgFillPrice.Equal(decimal.NewFromInt(50000)))
	assert.True(t, filled[0].FilledAmount.Equal(decimal.NewFromFloat(0.1)))

	// notional 5000, fee 0.1% = 5
	assert.True(t, filled[0].Fee.Equal(decimal.NewFromInt(5)), "fee %s", filled[0].Fee)

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Free["USD"].Equal(decimal.NewFromInt(4995)), "usd %s", bal.Free["USD"])
	assert.True(t, bal.Free["BTC"].Equal(decimal.NewFromFloat(0.1)))
	assert.Equal(t, 0, p.OpenOrderCount())
}

func TestPaper_LimitSellFillsWhenCrossed(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()
	p.SeedBalance("BTC", decimal.NewFromInt(1))

	_, err := p.PlaceLimitOrder(ctx, "BTC/USD", core.SideSell, decimal.NewFromFloat(0.5), decimal.NewFromInt(60000))
	require.NoError(t, err)

	assert.Empty(t, p.SimulatePrices(tape(59000)))
	filled := p.SimulatePrices(tape(60500))
	require.Len(t, filled, 1)

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	// proceeds 30000 minus 0.1% fee of 30
	assert.True(t, bal.Free["USD"].Equal(decimal.NewFromInt(39970)), "usd %s", bal.Free["USD"])
	assert.True(t, bal.Free["BTC"].Equal(decimal.NewFromFloat(0.5)))
}

func TestPaper_MarketOrderFillsAtLastPrice(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()

	// No tape yet: rejected
	_, err := p.PlaceMarketOrder(ctx, "BTC/USD", core.SideBuy, decimal.NewFromFloat(0.1))
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)

	p.SimulatePrices(tape(58000))
	order, err := p.PlaceMarketOrder(ctx, "BTC/USD", core.SideBuy, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, core.OrderFilled, order.Status)
	assert.True(t, order.AvgFillPrice.Equal(decimal.NewFromInt(58000)))
}

func TestPaper_CancelSemantics(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()

	order, err := p.PlaceLimitOrder(ctx, "BTC/USD", core.SideBuy, decimal.NewFromFloat(0.1), decimal.NewFromInt(50000))
	require.NoError(t, err)

	ok, err := p.CancelOrder(ctx, order.VenueOrderID, "BTC/USD")
	require.NoError(t, err)
	assert.True(t, ok)

	// Unknown id: false, nil
	ok, err = p.CancelOrder(ctx, "no-such-order", "BTC/USD")
	require.NoError(t, err)
	assert.False(t, ok)

	// Cancelled order no longer fills
	assert.Empty(t, p.SimulatePrices(tape(49000)))
}

func TestPaper_GetTickerAndOpenOrders(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()

	_, err := p.GetTicker(ctx, "BTC/USD")
	assert.ErrorIs(t, err, apperrors.ErrExchangeUnavailable)

	p.SimulatePrices(tape(58000))
	ticker, err := p.GetTicker(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.True(t, ticker.Last.Equal(decimal.NewFromInt(58000)))

	_, err = p.PlaceLimitOrder(ctx, "BTC/USD", core.SideBuy, decimal.NewFromFloat(0.1), decimal.NewFromInt(50000))
	require.NoError(t, err)
	_, err = p.PlaceLimitOrder(ctx, "ETH/USD", core.SideBuy, decimal.NewFromFloat(1), decimal.NewFromInt(3000))
	require.NoError(t, err)

	btcOrders, err := p.GetOpenOrders(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Len(t, btcOrders, 1)

	all, err := p.GetOpenOrders(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPaper_NotConnected(t *testing.T) {
	p := NewPaperExchange(PaperConfig{}, logging.GetGlobalLogger())
	_, err := p.GetBalance(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
}
