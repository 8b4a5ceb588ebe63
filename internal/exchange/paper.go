package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/tradingutils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperConfig tunes the in-memory simulator
type PaperConfig struct {
	InitialBalanceQuote float64
	InitialBalanceBase  float64
	// Fee charged on every fill as a fraction of notional (0.006 = 0.6%)
	SimulatedFeePct float64
}

// PaperExchange is an in-memory venue. Limit orders rest in a book and
// fill when SimulatePrices crosses their price; market orders fill at
// the last simulated price. Implements core.ExchangeAdapter.
type PaperExchange struct {
	mu        sync.Mutex
	logger    core.ILogger
	feePct    decimal.Decimal
	connected bool

	balances     map[string]decimal.Decimal
	openOrders   map[string]*core.Order
	closedOrders map[string]*core.Order
	lastPrices   map[string]decimal.Decimal
	history      map[string][]core.Candle

	initialQuote float64
	initialBase  float64
}

// NewPaperExchange creates a simulator seeded with the configured balances
func NewPaperExchange(cfg PaperConfig, logger core.ILogger) *PaperExchange {
	return &PaperExchange{
		logger:       logger.WithField("component", "paper_exchange"),
		feePct:       decimal.NewFromFloat(cfg.SimulatedFeePct),
		balances:     make(map[string]decimal.Decimal),
		openOrders:   make(map[string]*core.Order),
		closedOrders: make(map[string]*core.Order),
		lastPrices:   make(map[string]decimal.Decimal),
		history:      make(map[string][]core.Candle),
		initialQuote: cfg.InitialBalanceQuote,
		initialBase:  cfg.InitialBalanceBase,
	}
}

// Connect seeds balances and marks the venue reachable
func (p *PaperExchange) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	p.logger.Info("Paper exchange connected",
		"initial_quote", p.initialQuote, "initial_base", p.initialBase)
	return nil
}

// Close cancels nothing; resting paper orders simply stop mattering
func (p *PaperExchange) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// SeedBalance sets the free balance for one asset. Used at startup and
// by tests to arrange scenarios.
func (p *PaperExchange) SeedBalance(asset string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[asset] = amount
}

// SimulatePrices advances the tape by one tick. Every open limit order
// whose price is crossed fills completely at its limit price, with the
// configured fee deducted from the quote side. Returns the newly
// filled orders.
func (p *PaperExchange) SimulatePrices(prices map[string]decimal.Decimal) []*core.Order {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for symbol, price := range prices {
		p.lastPrices[symbol] = price
		p.appendCandleLocked(symbol, price, now)
	}

	var filled []*core.Order
	for id, order := range p.openOrders {
		price, ok := prices[order.Symbol]
		if !ok {
			continue
		}
		crossed := (order.Side == core.SideBuy && price.LessThanOrEqual(order.Price)) ||
			(order.Side == core.SideSell && price.GreaterThanOrEqual(order.Price))
		if !crossed {
			continue
		}

		p.settleLocked(order, order.Price)
		delete(p.openOrders, id)
		p.closedOrders[id] = order
		filled = append(filled, order)
		p.logger.Debug("Paper order filled",
			"order_id", id, "symbol", order.Symbol, "side", order.Side, "price", order.Price)
	}
	return filled
}

// settleLocked applies a complete fill at execPrice to the balances
func (p *PaperExchange) settleLocked(order *core.Order, execPrice decimal.Decimal) {
	base, quote := splitSymbol(order.Symbol)
	notional := order.Amount.Mul(execPrice)
	fee := notional.Mul(p.feePct)

	if order.Side == core.SideBuy {
		p.balances[quote] = p.bal(quote).Sub(notional).Sub(fee)
		p.balances[base] = p.bal(base).Add(order.Amount)
	} else {
		p.balances[base] = p.bal(base).Sub(order.Amount)
		p.balances[quote] = p.bal(quote).Add(notional).Sub(fee)
	}

	order.FilledAmount = order.Amount
	order.AvgFillPrice = execPrice
	order.Fee = fee
	order.Status = core.OrderFilled
}

func (p *PaperExchange) bal(asset string) decimal.Decimal {
	if v, ok := p.balances[asset]; ok {
		return v
	}
	return decimal.Zero
}

// GetTicker returns the last simulated price for the symbol
func (p *PaperExchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, apperrors.ErrNotConnected
	}
	price, ok := p.lastPrices[symbol]
	if !ok {
		return nil, fmt.Errorf("no simulated price for %s: %w", symbol, apperrors.ErrExchangeUnavailable)
	}
	return &core.Ticker{
		Symbol: symbol,
		Last:   price,
		Bid:    price,
		Ask:    price,
		Ts:     time.Now(),
	}, nil
}

// GetBalance returns the simulated account balances
func (p *PaperExchange) GetBalance(ctx context.Context) (*core.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, apperrors.ErrNotConnected
	}

	free := make(map[string]decimal.Decimal, len(p.balances))
	total := make(map[string]decimal.Decimal, len(p.balances))
	for asset, v := range p.balances {
		free[asset] = v
		total[asset] = v
	}
	return &core.Balance{
		Free:  free,
		Used:  map[string]decimal.Decimal{},
		Total: total,
	}, nil
}

// PlaceLimitOrder rests an order in the book
func (p *PaperExchange) PlaceLimitOrder(ctx context.Context, symbol string, side core.OrderSide, amount, price decimal.Decimal) (*core.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, apperrors.ErrNotConnected
	}
	if amount.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount and price must be positive: %w", apperrors.ErrOrderRejected)
	}

	order := &core.Order{
		VenueOrderID: uuid.NewString(),
		Symbol:       symbol,
		Side:         side,
		Price:        tradingutils.RoundPrice(price, tradingutils.AmountDecimals),
		Amount:       tradingutils.RoundAmount(amount),
		Status:       core.OrderOpen,
		Ts:           time.Now(),
	}
	p.openOrders[order.VenueOrderID] = order

	copied := *order
	return &copied, nil
}

// PlaceMarketOrder fills immediately at the last simulated price
func (p *PaperExchange) PlaceMarketOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal) (*core.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, apperrors.ErrNotConnected
	}
	price, ok := p.lastPrices[symbol]
	if !ok {
		return nil, fmt.Errorf("no simulated price for %s: %w", symbol, apperrors.ErrOrderRejected)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be positive: %w", apperrors.ErrOrderRejected)
	}

	order := &core.Order{
		VenueOrderID: uuid.NewString(),
		Symbol:       symbol,
		Side:         side,
		Price:        price,
		Amount:       tradingutils.RoundAmount(amount),
		Status:       core.OrderOpen,
		Ts:           time.Now(),
	}
	p.settleLocked(order, price)

	copied := *order
	return &copied, nil
}

// CancelOrder removes a resting order. Returns false without error
// when the order is unknown or already terminal.
func (p *PaperExchange) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return false, apperrors.ErrNotConnected
	}
	order, ok := p.openOrders[orderID]
	if !ok {
		return false, nil
	}
	order.Status = core.OrderCancelled
	delete(p.openOrders, orderID)
	p.closedOrders[orderID] = order
	return true, nil
}

// GetOrder looks up an order by id, open or terminal
func (p *PaperExchange) GetOrder(ctx context.Context, orderID, symbol string) (*core.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.openOrders[orderID]
	if !ok {
		order, ok = p.closedOrders[orderID]
	}
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	copied := *order
	return &copied, nil
}

// GetOpenOrders lists resting orders, optionally filtered by symbol
func (p *PaperExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var orders []*core.Order
	for _, order := range p.openOrders {
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		copied := *order
		orders = append(orders, &copied)
	}
	return orders, nil
}

// FetchOHLCV replays candles synthesized from the simulated tape
func (p *PaperExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]core.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []core.Candle
	for _, c := range p.history[symbol] {
		if !since.IsZero() && c.Ts.Before(since) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// OpenOrderCount reports the resting order count, for tests
func (p *PaperExchange) OpenOrderCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.openOrders)
}

func (p *PaperExchange) appendCandleLocked(symbol string, price decimal.Decimal, ts time.Time) {
	c := core.Candle{Ts: ts, Open: price, High: price, Low: price, Close: price}
	buf := append(p.history[symbol], c)
	if len(buf) > 1000 {
		buf = buf[len(buf)-1000:]
	}
	p.history[symbol] = buf
}

// splitSymbol breaks "BTC/USD" into base and quote assets
func splitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return symbol, "USD"
	}
	return parts[0], parts[1]
}
