// Package core defines the shared types and interfaces of the grid bot
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeAdapter is the capability contract over a trading venue.
// Both the live adapter and the paper simulator satisfy it.
type ExchangeAdapter interface {
	Connect(ctx context.Context) error
	Close() error

	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetBalance(ctx context.Context) (*Balance, error)

	PlaceLimitOrder(ctx context.Context, symbol string, side OrderSide, amount, price decimal.Decimal) (*Order, error)
	// PlaceMarketOrder executes immediately at the current price. The
	// returned order carries AvgFillPrice.
	PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, amount decimal.Decimal) (*Order, error)

	// CancelOrder returns false without error when the venue reports the
	// order as not found.
	CancelOrder(ctx context.Context, orderID, symbol string) (bool, error)
	GetOrder(ctx context.Context, orderID, symbol string) (*Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error)

	FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]Candle, error)
}

// OrderAdmitter gates every order placement. Implemented by the risk
// supervisor; engines never place without asking it first.
type OrderAdmitter interface {
	CanPlaceOrder(ctx context.Context, symbol string, side OrderSide, price, amount decimal.Decimal) bool
}

// SentimentProvider supplies an external market-sentiment reading.
// Ok is false while no reading has been obtained yet.
type SentimentProvider interface {
	Index() (value int, ok bool)
	Classification() string
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
