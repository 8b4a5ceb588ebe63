package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPnLRealizedTotal    = "gridbot_pnl_realized_total"
	MetricPnLUnrealized       = "gridbot_pnl_unrealized"
	MetricOrdersActive        = "gridbot_orders_active"
	MetricOrdersPlacedTotal   = "gridbot_orders_placed_total"
	MetricOrdersFilledTotal   = "gridbot_orders_filled_total"
	MetricOrdersCancelled     = "gridbot_orders_cancelled_total"
	MetricFillsMirroredTotal  = "gridbot_fills_mirrored_total"
	MetricTrailingShiftsTotal = "gridbot_trailing_shifts_total"
	MetricTotalEquity         = "gridbot_total_equity"
	MetricPoolAvailable       = "gridbot_pool_available_quote"
	MetricSecuredProfits      = "gridbot_pool_secured_profits"
	MetricHaltActive          = "gridbot_halt_active"
	MetricTickDuration        = "gridbot_tick_duration_seconds"
	MetricLatencyExchange     = "gridbot_latency_exchange_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	PnLRealizedTotal    metric.Float64Counter
	PnLUnrealized       metric.Float64ObservableGauge
	OrdersActive        metric.Int64ObservableGauge
	OrdersPlacedTotal   metric.Int64Counter
	OrdersFilledTotal   metric.Int64Counter
	OrdersCancelled     metric.Int64Counter
	FillsMirroredTotal  metric.Int64Counter
	TrailingShiftsTotal metric.Int64Counter
	TotalEquity         metric.Float64ObservableGauge
	PoolAvailable       metric.Float64ObservableGauge
	SecuredProfits      metric.Float64ObservableGauge
	HaltActive          metric.Int64ObservableGauge
	TickDuration        metric.Float64Histogram
	LatencyExchange     metric.Float64Histogram

	// State for observable gauges
	mu               sync.RWMutex
	unrealizedPnLMap map[string]float64
	activeOrdersMap  map[string]int64
	haltMap          map[string]int64
	totalEquity      float64
	poolAvailable    float64
	securedProfits   float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			unrealizedPnLMap: make(map[string]float64),
			activeOrdersMap:  make(map[string]int64),
			haltMap:          make(map[string]int64),
		}
		// Instruments are created in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized profit/loss"))
	if err != nil {
		return err
	}

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders placed"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders filled"))
	if err != nil {
		return err
	}

	m.OrdersCancelled, err = meter.Int64Counter(MetricOrdersCancelled, metric.WithDescription("Total orders cancelled"))
	if err != nil {
		return err
	}

	m.FillsMirroredTotal, err = meter.Int64Counter(MetricFillsMirroredTotal, metric.WithDescription("Total fills mirrored to the adjacent level"))
	if err != nil {
		return err
	}

	m.TrailingShiftsTotal, err = meter.Int64Counter(MetricTrailingShiftsTotal, metric.WithDescription("Total trailing grid shifts"))
	if err != nil {
		return err
	}

	m.TickDuration, err = meter.Float64Histogram(MetricTickDuration, metric.WithDescription("Duration of one orchestrator tick"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of venue API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.PnLUnrealized, err = meter.Float64ObservableGauge(MetricPnLUnrealized, metric.WithDescription("Current unrealized PnL"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.unrealizedPnLMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("Number of currently open orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.HaltActive, err = meter.Int64ObservableGauge(MetricHaltActive, metric.WithDescription("Halt state per scope (1=halted)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for scope, val := range m.haltMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("scope", scope)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.TotalEquity, err = meter.Float64ObservableGauge(MetricTotalEquity, metric.WithDescription("Total equity in quote currency"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.totalEquity)
			return nil
		}))
	if err != nil {
		return err
	}

	m.PoolAvailable, err = meter.Float64ObservableGauge(MetricPoolAvailable, metric.WithDescription("Tradable quote capital in the pool"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.poolAvailable)
			return nil
		}))
	if err != nil {
		return err
	}

	m.SecuredProfits, err = meter.Float64ObservableGauge(MetricSecuredProfits, metric.WithDescription("Realized profits retained outside the pool"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.securedProfits)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetUnrealizedPnL(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrealizedPnLMap[symbol] = value
}

func (m *MetricsHolder) SetActiveOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[symbol] = count
}

func (m *MetricsHolder) SetHalt(scope string, halted bool) {
	val := int64(0)
	if halted {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltMap[scope] = val
}

func (m *MetricsHolder) SetEquity(total, poolAvailable, secured float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalEquity = total
	m.poolAvailable = poolAvailable
	m.securedProfits = secured
}

func (m *MetricsHolder) GetActiveOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activeOrdersMap {
		res[k] = v
	}
	return res
}
