package backtest

import (
	"fmt"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// Fill is one executed simulated order
type Fill struct {
	OrderID    string
	Side       core.OrderSide
	LevelPrice decimal.Decimal
	FillPrice  decimal.Decimal
	Amount     decimal.Decimal
	Fee        decimal.Decimal
}

type simOrder struct {
	id     string
	side   core.OrderSide
	price  decimal.Decimal
	amount decimal.Decimal
	open   bool
}

// Simulator fills resting limit orders against candle extremes. Buys
// fill when the candle low reaches the level, sells when the high
// does. Slippage moves the fill price against the order. A fill that
// the balances cannot cover is skipped and the order stays open.
type Simulator struct {
	feePct      decimal.Decimal
	slippageBps decimal.Decimal
	orders      []*simOrder
	nextID      int
	base        decimal.Decimal
	quote       decimal.Decimal
}

// NewSimulator creates a simulator. feePct is a fraction of notional
// (0.006 = 0.6%); slippageBps is in basis points.
func NewSimulator(feePct, slippageBps float64) *Simulator {
	return &Simulator{
		feePct:      decimal.NewFromFloat(feePct),
		slippageBps: decimal.NewFromFloat(slippageBps),
	}
}

// SetBalances initializes the starting inventory
func (s *Simulator) SetBalances(base, quote decimal.Decimal) {
	s.base = base
	s.quote = quote
}

// PlaceOrder rests a limit order and returns its id
func (s *Simulator) PlaceOrder(side core.OrderSide, price, amount decimal.Decimal) string {
	s.nextID++
	id := fmt.Sprintf("sim-%d", s.nextID)
	s.orders = append(s.orders, &simOrder{id: id, side: side, price: price, amount: amount, open: true})
	return id
}

// ProcessCandle fills every open order the candle's range crosses
func (s *Simulator) ProcessCandle(high, low decimal.Decimal) []Fill {
	var fills []Fill
	for _, order := range s.orders {
		if !order.open {
			continue
		}

		slip := order.price.Mul(s.slippageBps).Div(decimal.NewFromInt(10000))
		switch {
		case order.side == core.SideBuy && low.LessThanOrEqual(order.price):
			fillPrice := order.price.Add(slip)
			fee := fillPrice.Mul(order.amount).Mul(s.feePct)
			cost := fillPrice.Mul(order.amount).Add(fee)
			if s.quote.LessThan(cost) {
				continue
			}
			s.base = s.base.Add(order.amount)
			s.quote = s.quote.Sub(cost)
			order.open = false
			fills = append(fills, Fill{
				OrderID: order.id, Side: order.side, LevelPrice: order.price,
				FillPrice: fillPrice, Amount: order.amount, Fee: fee,
			})

		case order.side == core.SideSell && high.GreaterThanOrEqual(order.price):
			if s.base.LessThan(order.amount) {
				continue
			}
			fillPrice := order.price.Sub(slip)
			fee := fillPrice.Mul(order.amount).Mul(s.feePct)
			s.base = s.base.Sub(order.amount)
			s.quote = s.quote.Add(fillPrice.Mul(order.amount).Sub(fee))
			order.open = false
			fills = append(fills, Fill{
				OrderID: order.id, Side: order.side, LevelPrice: order.price,
				FillPrice: fillPrice, Amount: order.amount, Fee: fee,
			})
		}
	}
	return fills
}

// CancelOrder closes a resting order
func (s *Simulator) CancelOrder(id string) bool {
	for _, order := range s.orders {
		if order.id == id && order.open {
			order.open = false
			return true
		}
	}
	return false
}

// OpenOrders counts resting orders
func (s *Simulator) OpenOrders() int {
	n := 0
	for _, order := range s.orders {
		if order.open {
			n++
		}
	}
	return n
}

// Base returns the base inventory
func (s *Simulator) Base() decimal.Decimal { return s.base }

// Quote returns the quote balance
func (s *Simulator) Quote() decimal.Decimal { return s.quote }
