package exchange

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVenue scripts per-call failures before succeeding
type fakeVenue struct {
	tickerCalls  atomic.Int64
	cancelCalls  atomic.Int64
	limitCalls   atomic.Int64
	failTicker   int64
	failWith     error
	cancelErr    error
	marketFill   decimal.Decimal
	rejectLimits bool
}

func (f *fakeVenue) Connect(ctx context.Context) error { return nil }
func (f *fakeVenue) Close() error                      { return nil }

func (f *fakeVenue) FetchTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	n := f.tickerCalls.Add(1)
	if n <= f.failTicker {
		return nil, f.failWith
	}
	return &core.Ticker{Symbol: symbol, Last: decimal.NewFromInt(60000), Ts: time.Now()}, nil
}

func (f *fakeVenue) FetchBalance(ctx context.Context) (*core.Balance, error) {
	return &core.Balance{Free: map[string]decimal.Decimal{"USD": decimal.NewFromInt(1000)}}, nil
}

func (f *fakeVenue) CreateLimitOrder(ctx context.Context, symbol string, side core.OrderSide, amount, price decimal.Decimal) (*core.Order, error) {
	f.limitCalls.Add(1)
	if f.rejectLimits {
		return nil, apperrors.ErrOrderRejected
	}
	return &core.Order{VenueOrderID: "v-1", Symbol: symbol, Side: side, Amount: amount, Price: price, Status: core.OrderOpen}, nil
}

func (f *fakeVenue) CreateMarketOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal) (*core.Order, error) {
	return &core.Order{
		VenueOrderID: "v-2", Symbol: symbol, Side: side, Amount: amount,
		FilledAmount: amount, AvgFillPrice: f.marketFill, Status: core.OrderFilled,
	}, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, orderID, symbol string) error {
	f.cancelCalls.Add(1)
	return f.cancelErr
}

func (f *fakeVenue) FetchOrder(ctx context.Context, orderID, symbol string) (*core.Order, error) {
	return nil, apperrors.ErrOrderNotFound
}

func (f *fakeVenue) FetchOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	return nil, nil
}

func (f *fakeVenue) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]core.Candle, error) {
	return []core.Candle{{Ts: time.Now(), Close: decimal.NewFromInt(60000)}}, nil
}

func newTestLive(t *testing.T, venue VenueClient) *LiveExchange {
	t.Helper()
	l, err := NewLiveExchange(venue, 1, logging.GetGlobalLogger())
	require.NoError(t, err)
	return l
}

func TestLive_TransientErrorRetried(t *testing.T) {
	venue := &fakeVenue{failTicker: 1, failWith: apperrors.ErrNetwork}
	l := newTestLive(t, venue)

	ticker, err := l.GetTicker(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.True(t, ticker.Last.Equal(decimal.NewFromInt(60000)))
	assert.Equal(t, int64(2), venue.tickerCalls.Load())
}

func TestLive_TransientErrorExhaustsAttempts(t *testing.T) {
	venue := &fakeVenue{failTicker: 100, failWith: apperrors.ErrExchangeUnavailable}
	l := newTestLive(t, venue)

	_, err := l.GetTicker(context.Background(), "BTC/USD")
	assert.ErrorIs(t, err, apperrors.ErrExchangeUnavailable)
	assert.Equal(t, int64(3), venue.tickerCalls.Load())
}

func TestLive_PermanentErrorNotRetried(t *testing.T) {
	venue := &fakeVenue{rejectLimits: true}
	l := newTestLive(t, venue)

	_, err := l.PlaceLimitOrder(context.Background(), "BTC/USD", core.SideBuy,
		decimal.NewFromFloat(0.1), decimal.NewFromInt(50000))
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
	assert.Equal(t, int64(1), venue.limitCalls.Load())
}

func TestLive_CancelNotFoundIsNotAnError(t *testing.T) {
	venue := &fakeVenue{cancelErr: apperrors.ErrOrderNotFound}
	l := newTestLive(t, venue)

	ok, err := l.CancelOrder(context.Background(), "gone", "BTC/USD")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), venue.cancelCalls.Load())
}

func TestLive_CancelSuccess(t *testing.T) {
	venue := &fakeVenue{}
	l := newTestLive(t, venue)

	ok, err := l.CancelOrder(context.Background(), "v-1", "BTC/USD")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLive_MarketOrderRequiresAvgFillPrice(t *testing.T) {
	venue := &fakeVenue{}
	l := newTestLive(t, venue)

	_, err := l.PlaceMarketOrder(context.Background(), "BTC/USD", core.SideBuy, decimal.NewFromFloat(0.1))
	assert.ErrorIs(t, err, apperrors.ErrInvariantViolation)

	venue.marketFill = decimal.NewFromInt(60000)
	order, err := l.PlaceMarketOrder(context.Background(), "BTC/USD", core.SideSell, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.True(t, order.AvgFillPrice.Equal(decimal.NewFromInt(60000)))
}

func TestLive_InvalidRateLimit(t *testing.T) {
	_, err := NewLiveExchange(&fakeVenue{}, 0, logging.GetGlobalLogger())
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}
