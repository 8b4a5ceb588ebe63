package backtest

import (
	"fmt"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// EquityPoint is one mark-to-market observation at a candle close
type EquityPoint struct {
	Ts          time.Time
	Price       decimal.Decimal
	TotalEquity decimal.Decimal
}

// Report holds the outcome of one backtest run
type Report struct {
	Symbol        string
	InitialEquity decimal.Decimal
	FinalEquity   decimal.Decimal

	TotalReturnPct float64
	MaxDrawdownPct float64
	SharpeRatio    float64

	BuyFills      int
	SellFills     int
	WinningTrades int
	LosingTrades  int
	WinRatePct    float64
	TotalFees     decimal.Decimal

	EquityCurve []EquityPoint
	Trades      []TradeRecord
}

// finalize computes the derived statistics from the equity curve
func (r *Report) finalize() {
	if len(r.EquityCurve) > 0 {
		r.FinalEquity = r.EquityCurve[len(r.EquityCurve)-1].TotalEquity
	}
	if r.InitialEquity.GreaterThan(decimal.Zero) {
		r.TotalReturnPct = r.FinalEquity.Sub(r.InitialEquity).
			Div(r.InitialEquity).
			Mul(decimal.NewFromInt(100)).
			InexactFloat64()
	}

	peak := r.InitialEquity
	maxDD := decimal.Zero
	for _, pt := range r.EquityCurve {
		if pt.TotalEquity.GreaterThan(peak) {
			peak = pt.TotalEquity
		}
		if peak.GreaterThan(decimal.Zero) {
			dd := peak.Sub(pt.TotalEquity).Div(peak).Mul(decimal.NewFromInt(100))
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	r.MaxDrawdownPct = maxDD.InexactFloat64()

	if closed := r.WinningTrades + r.LosingTrades; closed > 0 {
		r.WinRatePct = float64(r.WinningTrades) / float64(closed) * 100
	}
	r.SharpeRatio = r.sharpe()
}

// sharpe annualizes per-candle returns assuming daily bars
func (r *Report) sharpe() float64 {
	if len(r.EquityCurve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(r.EquityCurve)-1)
	for i := 1; i < len(r.EquityCurve); i++ {
		prev := r.EquityCurve[i-1].TotalEquity.InexactFloat64()
		if prev == 0 {
			continue
		}
		cur := r.EquityCurve[i].TotalEquity.InexactFloat64()
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, ret := range returns {
		mean += ret
	}
	mean /= float64(len(returns))

	var variance float64
	for _, ret := range returns {
		variance += (ret - mean) * (ret - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(252)
}

// TotalTrades counts every fill, both sides
func (r *Report) TotalTrades() int {
	return len(r.Trades)
}

// Summary renders the report as aligned plain text
func (r *Report) Summary() string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Symbol\t%s\n", r.Symbol)
	fmt.Fprintf(w, "Initial equity\t%s\n", r.InitialEquity.StringFixed(2))
	fmt.Fprintf(w, "Final equity\t%s\n", r.FinalEquity.StringFixed(2))
	fmt.Fprintf(w, "Total return\t%.2f%%\n", r.TotalReturnPct)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", r.MaxDrawdownPct)
	fmt.Fprintf(w, "Sharpe ratio\t%.3f\n", r.SharpeRatio)
	fmt.Fprintf(w, "Trades\t%d (%d buys / %d sells)\n", r.TotalTrades(), r.BuyFills, r.SellFills)
	fmt.Fprintf(w, "Win rate\t%.1f%% (%d wins / %d losses)\n", r.WinRatePct, r.WinningTrades, r.LosingTrades)
	fmt.Fprintf(w, "Total fees\t%s\n", r.TotalFees.StringFixed(4))
	_ = w.Flush()
	return sb.String()
}
