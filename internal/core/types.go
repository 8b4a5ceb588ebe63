package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Opposite returns the mirrored side
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the venue-side lifecycle state of an order.
// Filled and Cancelled are terminal.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// SpacingType selects how grid level prices are distributed
type SpacingType string

const (
	SpacingArithmetic SpacingType = "arithmetic"
	SpacingGeometric  SpacingType = "geometric"
)

// LevelStatus is the lifecycle state of one grid level
type LevelStatus string

const (
	LevelPending   LevelStatus = "pending"
	LevelPlaced    LevelStatus = "placed"
	LevelFilled    LevelStatus = "filled"
	LevelCancelled LevelStatus = "cancelled"
)

// BotStatus is the orchestrator lifecycle state
type BotStatus string

const (
	StatusIdle     BotStatus = "IDLE"
	StatusStarting BotStatus = "STARTING"
	StatusRunning  BotStatus = "RUNNING"
	StatusStopping BotStatus = "STOPPING"
	StatusStopped  BotStatus = "STOPPED"
	StatusError    BotStatus = "ERROR"
)

// TrendSignal is the output of the moving-average trend filter
type TrendSignal string

const (
	TrendUp      TrendSignal = "UP"
	TrendDown    TrendSignal = "DOWN"
	TrendNeutral TrendSignal = "NEUTRAL"
)

// Ticker is a point-in-time market quote
type Ticker struct {
	Symbol string
	Last   decimal.Decimal
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Ts     time.Time
}

// Balance holds per-asset account balances
type Balance struct {
	Free  map[string]decimal.Decimal
	Used  map[string]decimal.Decimal
	Total map[string]decimal.Decimal
}

// Order is the journal/runtime representation of a venue order.
// Unique by VenueOrderID.
type Order struct {
	VenueOrderID string
	Symbol       string
	Side         OrderSide
	Price        decimal.Decimal
	Amount       decimal.Decimal
	FilledAmount decimal.Decimal
	AvgFillPrice decimal.Decimal
	Fee          decimal.Decimal
	Status       OrderStatus
	Ts           time.Time
}

// Candle is one OHLCV bar
type Candle struct {
	Ts     time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// GridLevel is one rung of a grid. A level holds at most one live
// order at a time; VenueOrderID is set iff the level is placed.
type GridLevel struct {
	Index        int
	Price        decimal.Decimal
	Side         OrderSide
	Status       LevelStatus
	VenueOrderID string
}

// TrailingConfig controls grid shifting when price nears an edge
type TrailingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	TriggerPct   float64 `yaml:"trigger_pct"`
	RebalancePct float64 `yaml:"rebalance_pct"`
	CooldownSecs float64 `yaml:"cooldown_secs"`
}

// GridConfig defines one pair's grid. Exactly one of OrderSizeQuote
// and OrderSizeBase must be positive.
type GridConfig struct {
	Symbol         string         `yaml:"symbol"`
	Lower          float64        `yaml:"lower"`
	Upper          float64        `yaml:"upper"`
	NumLevels      int            `yaml:"num_levels"`
	Spacing        SpacingType    `yaml:"spacing"`
	OrderSizeQuote float64        `yaml:"order_size_quote"`
	OrderSizeBase  float64        `yaml:"order_size_base"`
	Trailing       TrailingConfig `yaml:"trailing"`
}

// PairPosition is the per-pair slice of the pooled tracker state
type PairPosition struct {
	Symbol        string
	BaseBalance   decimal.Decimal
	AvgEntryPrice decimal.Decimal
	RealizedPnl   decimal.Decimal
	UnrealizedPnl decimal.Decimal
	TradeCount    int64
}

// PoolState is the shared quote capital for one strategy allocation
type PoolState struct {
	AvailableQuote  decimal.Decimal
	SecuredProfits  decimal.Decimal
	TotalFees       decimal.Decimal
	TotalTradeCount int64
}

// EquitySnapshot is one persisted per-pair equity observation
type EquitySnapshot struct {
	Ts             time.Time
	Symbol         string
	BaseBalance    decimal.Decimal
	QuoteBalance   decimal.Decimal
	AvgEntry       decimal.Decimal
	Price          decimal.Decimal
	UnrealizedPnl  decimal.Decimal
	RealizedPnl    decimal.Decimal
	SecuredProfits decimal.Decimal
	TotalEquity    decimal.Decimal
}

// Trade is one recorded fill as seen by the position tracker
type Trade struct {
	ID     int64
	Symbol string
	Side   OrderSide
	Amount decimal.Decimal
	Price  decimal.Decimal
	Fee    decimal.Decimal
	Pnl    decimal.Decimal
	Ts     time.Time
}
