// Package tradingutils contains small shared decimal helpers
package tradingutils

import (
	"github.com/shopspring/decimal"
)

// AmountDecimals bounds order amounts to the precision venues accept
const AmountDecimals = 8

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// RoundAmount rounds an order amount to the standard precision
func RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(AmountDecimals)
}

// AmountFromQuote converts a quote-denominated order size to a base
// amount at the given price.
func AmountFromQuote(sizeQuote, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return RoundAmount(sizeQuote.Div(price))
}

// TradeProfit computes per-trade realized P&L for a sell:
// (price - avgEntry) * amount - fee
func TradeProfit(price, avgEntry, amount, fee decimal.Decimal) decimal.Decimal {
	return price.Sub(avgEntry).Mul(amount).Sub(fee)
}

// PctChange returns the percentage move from one price to another
func PctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}
