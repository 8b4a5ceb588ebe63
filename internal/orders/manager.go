// Package orders tracks the set of live venue orders and keeps the
// journal in sync with what the venue reports.
package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/journal"
	"gridbot/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Manager owns liveIds, the set of venue order ids believed open. The
// journal is the log; the venue is the source of truth; liveIds is a
// cache rebuilt by ReconcileWithExchange.
type Manager struct {
	mu      sync.Mutex
	adapter core.ExchangeAdapter
	journal *journal.Journal
	logger  core.ILogger
	liveIds map[string]string // venue order id -> symbol
}

// NewManager creates an order manager over the adapter and journal
func NewManager(adapter core.ExchangeAdapter, j *journal.Journal, logger core.ILogger) *Manager {
	return &Manager{
		adapter: adapter,
		journal: j,
		logger:  logger.WithField("component", "order_manager"),
		liveIds: make(map[string]string),
	}
}

// PlaceGridOrder places one resting limit order for a grid level,
// journals it as open and adds it to the live set.
func (m *Manager) PlaceGridOrder(ctx context.Context, symbol string, side core.OrderSide, amount, price decimal.Decimal, levelIndex int) (*core.Order, error) {
	order, err := m.adapter.PlaceLimitOrder(ctx, symbol, side, amount, price)
	if err != nil {
		return nil, err
	}
	if order.Ts.IsZero() {
		order.Ts = time.Now()
	}

	if m.journal != nil {
		if err := m.journal.Orders.Upsert(ctx, order); err != nil {
			m.logger.Error("Failed to journal placed order",
				"order_id", order.VenueOrderID, "symbol", symbol, "error", err)
		}
	}

	m.mu.Lock()
	m.liveIds[order.VenueOrderID] = symbol
	m.mu.Unlock()

	telemetry.GetGlobalMetrics().SetActiveOrders(symbol, int64(m.openOrderCountFor(symbol)))
	m.logger.Info("Grid order placed",
		"symbol", symbol, "side", side, "price", price, "amount", amount,
		"level", levelIndex, "order_id", order.VenueOrderID)
	return order, nil
}

// CheckFills polls every live order for the symbol and returns those
// that reached filled. Partially filled orders are refreshed in place
// and stay live. Poll errors leave the order for the next tick.
func (m *Manager) CheckFills(ctx context.Context, symbol string) ([]*core.Order, error) {
	ids := m.liveIDsFor(symbol)

	var filled []*core.Order
	for _, id := range ids {
		order, err := m.adapter.GetOrder(ctx, id, symbol)
		if err != nil {
			m.logger.Warn("Failed to poll order", "order_id", id, "symbol", symbol, "error", err)
			continue
		}

		switch order.Status {
		case core.OrderFilled:
			m.journalUpsert(ctx, order)
			m.mu.Lock()
			delete(m.liveIds, id)
			m.mu.Unlock()
			filled = append(filled, order)
		case core.OrderPartiallyFilled:
			m.journalUpsert(ctx, order)
		}
	}

	if len(filled) > 0 {
		if h := telemetry.GetGlobalMetrics(); h.OrdersFilledTotal != nil {
			h.OrdersFilledTotal.Add(ctx, int64(len(filled)))
		}
		telemetry.GetGlobalMetrics().SetActiveOrders(symbol, int64(m.openOrderCountFor(symbol)))
	}
	return filled, nil
}

// Cancel cancels one live order. A venue not-found is treated as
// already cancelled.
func (m *Manager) Cancel(ctx context.Context, orderID, symbol string) (bool, error) {
	ok, err := m.adapter.CancelOrder(ctx, orderID, symbol)
	if err != nil {
		return false, err
	}
	if !ok {
		m.logger.Warn("Cancel target not found at venue, treating as cancelled",
			"order_id", orderID, "symbol", symbol)
	}

	if m.journal != nil {
		if err := m.journal.Orders.MarkCancelled(ctx, orderID); err != nil {
			m.logger.Error("Failed to journal cancellation", "order_id", orderID, "error", err)
		}
	}
	m.mu.Lock()
	delete(m.liveIds, orderID)
	m.mu.Unlock()

	if h := telemetry.GetGlobalMetrics(); h.OrdersCancelled != nil {
		h.OrdersCancelled.Add(ctx, 1)
	}
	telemetry.GetGlobalMetrics().SetActiveOrders(symbol, int64(m.openOrderCountFor(symbol)))
	return true, nil
}

// ReconcileWithExchange makes liveIds exactly the venue's open set for
// the symbol. Orders the venue no longer knows are journaled as
// cancelled. Called on startup recovery.
func (m *Manager) ReconcileWithExchange(ctx context.Context, symbol string) error {
	venueOrders, err := m.adapter.GetOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}

	venueSet := make(map[string]bool, len(venueOrders))
	for _, o := range venueOrders {
		venueSet[o.VenueOrderID] = true
	}

	for _, id := range m.liveIDsFor(symbol) {
		if venueSet[id] {
			continue
		}
		m.logger.Warn("Order vanished from venue, marking cancelled",
			"order_id", id, "symbol", symbol)
		if m.journal != nil {
			if err := m.journal.Orders.MarkCancelled(ctx, id); err != nil {
				m.logger.Error("Failed to journal vanished order", "order_id", id, "error", err)
			}
		}
	}

	m.mu.Lock()
	for id, sym := range m.liveIds {
		if sym == symbol {
			delete(m.liveIds, id)
		}
	}
	for _, o := range venueOrders {
		m.liveIds[o.VenueOrderID] = symbol
		m.journalUpsert(ctx, o)
	}
	m.mu.Unlock()

	telemetry.GetGlobalMetrics().SetActiveOrders(symbol, int64(len(venueOrders)))
	m.logger.Info("Reconciled with venue", "symbol", symbol, "open_orders", len(venueOrders))
	return nil
}

func (m *Manager) journalUpsert(ctx context.Context, o *core.Order) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Orders.Upsert(ctx, o); err != nil {
		m.logger.Error("Failed to journal order", "order_id", o.VenueOrderID, "error", err)
	}
}

// RestoreFromJournal seeds liveIds from non-terminal journal rows.
// Run before ReconcileWithExchange so vanished orders get noticed.
func (m *Manager) RestoreFromJournal(ctx context.Context, symbol string) error {
	if m.journal == nil {
		return nil
	}
	open, err := m.journal.Orders.ListOpen(ctx, symbol)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for _, o := range open {
		m.liveIds[o.VenueOrderID] = symbol
	}
	m.mu.Unlock()
	return nil
}

// OpenOrderCount returns the total number of live orders across pairs
func (m *Manager) OpenOrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.liveIds)
}

// IsLive reports whether an id is in the live set
func (m *Manager) IsLive(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.liveIds[orderID]
	return ok
}

func (m *Manager) liveIDsFor(symbol string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, sym := range m.liveIds {
		if sym == symbol {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) openOrderCountFor(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sym := range m.liveIds {
		if sym == symbol {
			n++
		}
	}
	return n
}
