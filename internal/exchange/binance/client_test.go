package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(Config{APIKey: "key", APISecret: "secret", BaseURL: ts.URL}, logging.GetGlobalLogger())
}

func TestFetchTicker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		switch r.URL.Path {
		case "/api/v3/ticker/price":
			w.Write([]byte(`{"symbol":"BTCUSDT","price":"60000.50"}`))
		case "/api/v3/ticker/bookTicker":
			w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"60000.00","askPrice":"60001.00"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	ticker, err := client.FetchTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", ticker.Symbol)
	assert.True(t, ticker.Last.Equal(decimal.NewFromFloat(60000.50)))
	assert.True(t, ticker.Bid.Equal(decimal.NewFromInt(60000)))
	assert.True(t, ticker.Ask.Equal(decimal.NewFromInt(60001)))
}

func TestCreateLimitOrder_SignsRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))

		q := r.URL.Query()
		assert.Equal(t, "LIMIT", q.Get("type"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "GTC", q.Get("timeInForce"))
		assert.Equal(t, "0.001", q.Get("quantity"))
		assert.Equal(t, "60000", q.Get("price"))
		assert.NotEmpty(t, q.Get("timestamp"))
		assert.NotEmpty(t, q.Get("signature"))

		w.Write([]byte(`{"orderId":12345,"status":"NEW","side":"BUY","price":"60000","origQty":"0.001","executedQty":"0","transactTime":1700000000000}`))
	})

	order, err := client.CreateLimitOrder(context.Background(), "BTC/USDT", core.SideBuy,
		decimal.NewFromFloat(0.001), decimal.NewFromInt(60000))
	require.NoError(t, err)
	assert.Equal(t, "12345", order.VenueOrderID)
	assert.Equal(t, core.OrderOpen, order.Status)
	assert.Equal(t, "BTC/USDT", order.Symbol)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), order.Ts)
}

func TestCreateMarketOrder_DerivesAvgFillPrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":7,"status":"FILLED","side":"SELL","price":"0",` +
			`"origQty":"0.002","executedQty":"0.002","cummulativeQuoteQty":"120.50",` +
			`"fills":[{"commission":"0.06"},{"commission":"0.04"}],"transactTime":1700000000000}`))
	})

	order, err := client.CreateMarketOrder(context.Background(), "BTC/USDT", core.SideSell,
		decimal.NewFromFloat(0.002))
	require.NoError(t, err)
	assert.Equal(t, core.OrderFilled, order.Status)
	// 120.50 / 0.002 = 60250
	assert.True(t, order.AvgFillPrice.Equal(decimal.NewFromInt(60250)), "got %s", order.AvgFillPrice)
	assert.True(t, order.Fee.Equal(decimal.NewFromFloat(0.1)))
}

func TestCancelOrder_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	})

	err := client.CancelOrder(context.Background(), "999", "BTC/USDT")
	assert.True(t, errors.Is(err, apperrors.ErrOrderNotFound))
}

func TestFetchOpenOrders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/openOrders", r.URL.Path)
		w.Write([]byte(`[
			{"orderId":1,"status":"NEW","side":"BUY","price":"59000","origQty":"0.001","executedQty":"0","time":1700000000000},
			{"orderId":2,"status":"PARTIALLY_FILLED","side":"SELL","price":"61000","origQty":"0.002","executedQty":"0.001","time":1700000000000}
		]`))
	})

	orders, err := client.FetchOpenOrders(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, core.SideBuy, orders[0].Side)
	assert.Equal(t, core.OrderPartiallyFilled, orders[1].Status)
}

func TestFetchOHLCV(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		w.Write([]byte(`[[1700000000000,"100","110","95","105","12.5",1700000059999,"0",0,"0","0","0"]]`))
	})

	candles, err := client.FetchOHLCV(context.Background(), "BTC/USDT", "1m", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.True(t, candles[0].High.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), candles[0].Ts)
}

func TestFetchBalance_SkipsEmptyAssets(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/account", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		w.Write([]byte(`{"balances":[
			{"asset":"BTC","free":"0.5","locked":"0.1"},
			{"asset":"DUST","free":"0","locked":"0"}
		]}`))
	})

	balance, err := client.FetchBalance(context.Background())
	require.NoError(t, err)
	require.Contains(t, balance.Free, "BTC")
	assert.NotContains(t, balance.Free, "DUST")
	assert.True(t, balance.Total["BTC"].Equal(decimal.NewFromFloat(0.6)))
}

func TestMapError_InsufficientFundsIsRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance."}`))
	})

	_, err := client.CreateLimitOrder(context.Background(), "BTC/USDT", core.SideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(60000))
	assert.True(t, errors.Is(err, apperrors.ErrOrderRejected))
	assert.False(t, apperrors.IsTransient(err))
}
