// Package position holds the pooled capital ledger. One tracker owns
// one strategy allocation's quote pool and the per-pair positions it
// funds.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/journal"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Tracker is a fill-driven state machine over the shared pool. It
// never touches the venue except for ticker reads when refreshing
// unrealized P&L. Secured profits are physically moved out of the
// available bucket so winning streaks cannot inflate buying power.
type Tracker struct {
	mu      sync.Mutex
	name    string
	adapter core.ExchangeAdapter
	journal *journal.Journal
	logger  core.ILogger

	pool  core.PoolState
	pairs map[string]*core.PairPosition

	initialQuote decimal.Decimal
	lastPrices   map[string]decimal.Decimal
}

// NewTracker creates a tracker funded with the allocation's share of
// the initial pool.
func NewTracker(name string, initialQuote decimal.Decimal, adapter core.ExchangeAdapter, j *journal.Journal, logger core.ILogger) *Tracker {
	return &Tracker{
		name:    name,
		adapter: adapter,
		journal: j,
		logger:  logger.WithField("component", "position_tracker").WithField("allocation", name),
		pool: core.PoolState{
			AvailableQuote: initialQuote,
		},
		pairs:        make(map[string]*core.PairPosition),
		initialQuote: initialQuote,
		lastPrices:   make(map[string]decimal.Decimal),
	}
}

// RecordFill applies one fill to the ledger. A fill that would drive
// the pool or a pair's base negative is an invariant violation; the
// caller must treat it as fatal.
func (t *Tracker) RecordFill(ctx context.Context, symbol string, side core.OrderSide, amount, price, fee decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pair := t.pairLocked(symbol)
	var pnl decimal.Decimal

	switch side {
	case core.SideBuy:
		costBefore := pair.BaseBalance.Mul(pair.AvgEntryPrice)
		costAfter := costBefore.Add(amount.Mul(price))
		pair.BaseBalance = pair.BaseBalance.Add(amount)
		t.pool.AvailableQuote = t.pool.AvailableQuote.Sub(amount.Mul(price)).Sub(fee)
		if pair.BaseBalance.GreaterThan(decimal.Zero) {
			pair.AvgEntryPrice = costAfter.Div(pair.BaseBalance)
		}

	case core.SideSell:
		profit := price.Sub(pair.AvgEntryPrice).Mul(amount).Sub(fee)
		pair.RealizedPnl = pair.RealizedPnl.Add(profit)
		pair.BaseBalance = pair.BaseBalance.Sub(amount)
		t.pool.AvailableQuote = t.pool.AvailableQuote.Add(amount.Mul(price)).Sub(fee)
		if profit.GreaterThan(decimal.Zero) {
			t.pool.SecuredProfits = t.pool.SecuredProfits.Add(profit)
			t.pool.AvailableQuote = t.pool.AvailableQuote.Sub(profit)
		}
		if pair.BaseBalance.IsZero() {
			pair.AvgEntryPrice = decimal.Zero
		}
		pnl = profit
	}

	t.pool.TotalFees = t.pool.TotalFees.Add(fee)
	pair.TradeCount++
	t.pool.TotalTradeCount++

	if t.pool.AvailableQuote.IsNegative() || pair.BaseBalance.IsNegative() {
		t.logger.Error("Ledger invariant violated",
			"symbol", symbol, "side", side,
			"pool_available", t.pool.AvailableQuote, "pair_base", pair.BaseBalance)
		return fmt.Errorf("fill drove ledger negative for %s: %w", symbol, apperrors.ErrInvariantViolation)
	}

	trade := &core.Trade{
		Symbol: symbol,
		Side:   side,
		Amount: amount,
		Price:  price,
		Fee:    fee,
		Pnl:    pnl,
		Ts:     time.Now(),
	}
	if t.journal != nil {
		if err := t.journal.Trades.Insert(ctx, trade); err != nil {
			t.logger.Error("Failed to journal trade", "symbol", symbol, "error", err)
		}
	}

	if m := telemetry.GetGlobalMetrics(); m.PnLRealizedTotal != nil && pnl.GreaterThan(decimal.Zero) {
		m.PnLRealizedTotal.Add(ctx, pnl.InexactFloat64())
	}
	t.logger.Debug("Fill recorded",
		"symbol", symbol, "side", side, "amount", amount, "price", price,
		"fee", fee, "pnl", pnl, "pool_available", t.pool.AvailableQuote)
	return nil
}

// CanAffordBuy reports whether the pool covers a buy of costQuote
func (t *Tracker) CanAffordBuy(costQuote decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pool.AvailableQuote.GreaterThanOrEqual(costQuote)
}

// UpdateUnrealized refreshes a pair's unrealized P&L from the ticker
func (t *Tracker) UpdateUnrealized(ctx context.Context, symbol string) error {
	ticker, err := t.adapter.GetTicker(ctx, symbol)
	if err != nil {
		return err
	}
	t.UpdateUnrealizedAt(symbol, ticker.Last)
	return nil
}

// UpdateUnrealizedAt recomputes unrealized P&L at a known price.
// Used on every tick where the price was just polled anyway.
func (t *Tracker) UpdateUnrealizedAt(symbol string, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastPrices[symbol] = price
	pair := t.pairLocked(symbol)
	if pair.BaseBalance.IsZero() {
		pair.UnrealizedPnl = decimal.Zero
	} else {
		pair.UnrealizedPnl = price.Sub(pair.AvgEntryPrice).Mul(pair.BaseBalance)
	}
	telemetry.GetGlobalMetrics().SetUnrealizedPnL(symbol, pair.UnrealizedPnl.InexactFloat64())
}

// SaveSnapshot writes one equity row per tracked pair
func (t *Tracker) SaveSnapshot(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.journal == nil {
		return nil
	}
	now := time.Now()
	equity := t.totalEquityLocked()
	for symbol, pair := range t.pairs {
		snap := &core.EquitySnapshot{
			Ts:             now,
			Symbol:         symbol,
			BaseBalance:    pair.BaseBalance,
			QuoteBalance:   t.pool.AvailableQuote,
			AvgEntry:       pair.AvgEntryPrice,
			Price:          t.lastPrices[symbol],
			UnrealizedPnl:  pair.UnrealizedPnl,
			RealizedPnl:    pair.RealizedPnl,
			SecuredProfits: t.pool.SecuredProfits,
			TotalEquity:    equity,
		}
		if err := t.journal.Snapshots.Insert(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// TotalEquityQuote is available + secured + Σ(base·avgEntry + unrealized)
func (t *Tracker) TotalEquityQuote() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalEquityLocked()
}

func (t *Tracker) totalEquityLocked() decimal.Decimal {
	equity := t.pool.AvailableQuote.Add(t.pool.SecuredProfits)
	for _, pair := range t.pairs {
		equity = equity.Add(pair.BaseBalance.Mul(pair.AvgEntryPrice)).Add(pair.UnrealizedPnl)
	}
	return equity
}

// PairSnapshot returns a copy of one pair's state. Satisfies the
// rotator's stats contract.
func (t *Tracker) PairSnapshot(symbol string) (core.PairPosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pair, ok := t.pairs[symbol]
	if !ok {
		return core.PairPosition{}, false
	}
	return *pair, true
}

// PairValueQuote is base·avgEntry for one pair
func (t *Tracker) PairValueQuote(symbol string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	pair, ok := t.pairs[symbol]
	if !ok {
		return decimal.Zero
	}
	return pair.BaseBalance.Mul(pair.AvgEntryPrice)
}

// TotalPositionValueQuote is Σ base·avgEntry across pairs
func (t *Tracker) TotalPositionValueQuote() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := decimal.Zero
	for _, pair := range t.pairs {
		total = total.Add(pair.BaseBalance.Mul(pair.AvgEntryPrice))
	}
	return total
}

// Pool returns a copy of the pool state
func (t *Tracker) Pool() core.PoolState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pool
}

// InitialQuote returns the allocation this tracker was funded with
func (t *Tracker) InitialQuote() decimal.Decimal {
	return t.initialQuote
}

// Symbols lists pairs the tracker has seen fills or price updates for
func (t *Tracker) Symbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	syms := make([]string, 0, len(t.pairs))
	for s := range t.pairs {
		syms = append(syms, s)
	}
	return syms
}

func (t *Tracker) pairLocked(symbol string) *core.PairPosition {
	pair, ok := t.pairs[symbol]
	if !ok {
		pair = &core.PairPosition{Symbol: symbol}
		t.pairs[symbol] = pair
	}
	return pair
}
