// Package binance implements the venue client for Binance spot.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	apphttp "gridbot/pkg/http"

	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL = "https://api.binance.com"
	sandboxBaseURL = "https://testnet.binance.vision"

	httpTimeout = 10 * time.Second
)

// signer adds the API key header and the HMAC-SHA256 signature over
// the query string, Binance style.
type signer struct {
	apiKey string
	secret string
}

func (s *signer) SignRequest(req *http.Request) error {
	req.Header.Set("X-MBX-APIKEY", s.apiKey)

	q := req.URL.Query()
	if q.Get("timestamp") == "" {
		q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(q.Encode()))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	req.URL.RawQuery = q.Encode()
	return nil
}

// Client talks to the Binance spot REST API. Public market data goes
// unsigned; account and order endpoints are signed.
type Client struct {
	public  *apphttp.Client
	private *apphttp.Client
	logger  core.ILogger
}

// Config holds venue credentials and environment selection
type Config struct {
	APIKey    string
	APISecret string
	Sandbox   bool
	BaseURL   string // overrides the environment default when set
}

// NewClient creates a Binance spot client
func NewClient(cfg Config, logger core.ILogger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
		if cfg.Sandbox {
			baseURL = sandboxBaseURL
		}
	}
	return &Client{
		public:  apphttp.NewClient(baseURL, httpTimeout, nil),
		private: apphttp.NewClient(baseURL, httpTimeout, &signer{apiKey: cfg.APIKey, secret: cfg.APISecret}),
		logger:  logger.WithField("component", "binance"),
	}
}

// Connect verifies connectivity with an unsigned ping
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.public.Get(ctx, "/api/v3/ping", nil); err != nil {
		return mapError(err)
	}
	c.logger.Info("Connected to Binance spot")
	return nil
}

// Close releases nothing; the HTTP clients are stateless
func (c *Client) Close() error {
	return nil
}

// FetchTicker reads the last trade price and the top of book
func (c *Client) FetchTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	venueSym := venueSymbol(symbol)

	body, err := c.public.Get(ctx, "/api/v3/ticker/price", map[string]string{"symbol": venueSym})
	if err != nil {
		return nil, mapError(err)
	}
	var last struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(body, &last); err != nil {
		return nil, fmt.Errorf("bad ticker payload: %w", err)
	}

	body, err = c.public.Get(ctx, "/api/v3/ticker/bookTicker", map[string]string{"symbol": venueSym})
	if err != nil {
		return nil, mapError(err)
	}
	var book struct {
		BidPrice decimal.Decimal `json:"bidPrice"`
		AskPrice decimal.Decimal `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &book); err != nil {
		return nil, fmt.Errorf("bad book ticker payload: %w", err)
	}

	return &core.Ticker{
		Symbol: symbol,
		Last:   last.Price,
		Bid:    book.BidPrice,
		Ask:    book.AskPrice,
		Ts:     time.Now(),
	}, nil
}

// FetchBalance reads the spot account balances
func (c *Client) FetchBalance(ctx context.Context) (*core.Balance, error) {
	body, err := c.private.Get(ctx, "/api/v3/account", nil)
	if err != nil {
		return nil, mapError(err)
	}
	var account struct {
		Balances []struct {
			Asset  string          `json:"asset"`
			Free   decimal.Decimal `json:"free"`
			Locked decimal.Decimal `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("bad account payload: %w", err)
	}

	balance := &core.Balance{
		Free:  make(map[string]decimal.Decimal),
		Used:  make(map[string]decimal.Decimal),
		Total: make(map[string]decimal.Decimal),
	}
	for _, b := range account.Balances {
		if b.Free.IsZero() && b.Locked.IsZero() {
			continue
		}
		balance.Free[b.Asset] = b.Free
		balance.Used[b.Asset] = b.Locked
		balance.Total[b.Asset] = b.Free.Add(b.Locked)
	}
	return balance, nil
}

// CreateLimitOrder places a GTC limit order
func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side core.OrderSide, amount, price decimal.Decimal) (*core.Order, error) {
	params := map[string]string{
		"symbol":      venueSymbol(symbol),
		"side":        venueSide(side),
		"type":        "LIMIT",
		"timeInForce": "GTC",
		"quantity":    amount.String(),
		"price":       price.String(),
	}
	body, err := c.private.PostForm(ctx, "/api/v3/order", params)
	if err != nil {
		return nil, mapError(err)
	}
	return parseOrder(body, symbol, side)
}

// CreateMarketOrder places a market order and derives the average fill
// price from the cumulative quote quantity.
func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal) (*core.Order, error) {
	params := map[string]string{
		"symbol":   venueSymbol(symbol),
		"side":     venueSide(side),
		"type":     "MARKET",
		"quantity": amount.String(),
	}
	body, err := c.private.PostForm(ctx, "/api/v3/order", params)
	if err != nil {
		return nil, mapError(err)
	}
	return parseOrder(body, symbol, side)
}

// CancelOrder cancels by venue order id. An unknown id maps to
// apperrors.ErrOrderNotFound.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]string{
		"symbol":  venueSymbol(symbol),
		"orderId": orderID,
	}
	if _, err := c.private.Delete(ctx, "/api/v3/order", params); err != nil {
		return mapError(err)
	}
	return nil
}

// FetchOrder reads one order's current state
func (c *Client) FetchOrder(ctx context.Context, orderID, symbol string) (*core.Order, error) {
	params := map[string]string{
		"symbol":  venueSymbol(symbol),
		"orderId": orderID,
	}
	body, err := c.private.Get(ctx, "/api/v3/order", params)
	if err != nil {
		return nil, mapError(err)
	}
	return parseOrder(body, symbol, "")
}

// FetchOpenOrders lists the resting orders for one symbol
func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	params := map[string]string{"symbol": venueSymbol(symbol)}
	body, err := c.private.Get(ctx, "/api/v3/openOrders", params)
	if err != nil {
		return nil, mapError(err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("bad open orders payload: %w", err)
	}
	orders := make([]*core.Order, 0, len(raws))
	for _, raw := range raws {
		order, err := parseOrder(raw, symbol, "")
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// FetchOHLCV reads klines. Binance returns them as positional arrays.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]core.Candle, error) {
	params := map[string]string{
		"symbol":   venueSymbol(symbol),
		"interval": timeframe,
	}
	if !since.IsZero() {
		params["startTime"] = strconv.FormatInt(since.UnixMilli(), 10)
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	body, err := c.public.Get(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, mapError(err)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("bad klines payload: %w", err)
	}
	candles := make([]core.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("short kline row: %d fields", len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("bad kline timestamp: %w", err)
		}
		candle := core.Candle{Ts: time.UnixMilli(openTime).UTC()}
		for i, dst := range []*decimal.Decimal{&candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.Volume} {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				return nil, fmt.Errorf("bad kline field: %w", err)
			}
			v, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("bad kline value %q: %w", s, err)
			}
			*dst = v
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

type rawOrder struct {
	OrderID            int64           `json:"orderId"`
	Status             string          `json:"status"`
	Side               string          `json:"side"`
	Price              decimal.Decimal `json:"price"`
	OrigQty            decimal.Decimal `json:"origQty"`
	ExecutedQty        decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	TransactTime       int64           `json:"transactTime"`
	Time               int64           `json:"time"`
	Fills              []struct {
		Commission decimal.Decimal `json:"commission"`
	} `json:"fills"`
}

func parseOrder(body []byte, symbol string, side core.OrderSide) (*core.Order, error) {
	var raw rawOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("bad order payload: %w", err)
	}

	if side == "" {
		if raw.Side == "SELL" {
			side = core.SideSell
		} else {
			side = core.SideBuy
		}
	}

	order := &core.Order{
		VenueOrderID: strconv.FormatInt(raw.OrderID, 10),
		Symbol:       symbol,
		Side:         side,
		Price:        raw.Price,
		Amount:       raw.OrigQty,
		FilledAmount: raw.ExecutedQty,
		Status:       mapStatus(raw.Status),
	}
	if raw.ExecutedQty.GreaterThan(decimal.Zero) && raw.CummulativeQuoteQty.GreaterThan(decimal.Zero) {
		order.AvgFillPrice = raw.CummulativeQuoteQty.Div(raw.ExecutedQty)
	}
	for _, fill := range raw.Fills {
		order.Fee = order.Fee.Add(fill.Commission)
	}
	ts := raw.TransactTime
	if ts == 0 {
		ts = raw.Time
	}
	if ts > 0 {
		order.Ts = time.UnixMilli(ts).UTC()
	}
	return order, nil
}

func mapStatus(s string) core.OrderStatus {
	switch s {
	case "NEW":
		return core.OrderOpen
	case "PARTIALLY_FILLED":
		return core.OrderPartiallyFilled
	case "FILLED":
		return core.OrderFilled
	default:
		// CANCELED, REJECTED, EXPIRED
		return core.OrderCancelled
	}
}

// mapError folds venue error codes into the app sentinels so the
// retry layer can tell transient from permanent.
func mapError(err error) error {
	var apiErr *apphttp.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	if apiErr.StatusCode >= 500 {
		return fmt.Errorf("%w: %v", apperrors.ErrExchangeUnavailable, err)
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", apperrors.ErrRateLimitExceeded, err)
	}

	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if jsonErr := json.Unmarshal(apiErr.Body, &payload); jsonErr == nil {
		switch payload.Code {
		case -2011, -2013:
			return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, payload.Msg)
		case -2010:
			return fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, payload.Msg)
		case -1003:
			return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, payload.Msg)
		case -1013, -1111:
			return fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, payload.Msg)
		}
	}
	return err
}

// venueSymbol turns "BTC/USDT" into Binance's "BTCUSDT"
func venueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func venueSide(side core.OrderSide) string {
	if side == core.SideSell {
		return "SELL"
	}
	return "BUY"
}
