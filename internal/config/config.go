// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gridbot/internal/core"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "GRIDBOT_"

// Config represents the complete configuration structure
type Config struct {
	Exchange     ExchangeConfig     `yaml:"exchange"`
	Grid         *core.GridConfig   `yaml:"grid"`  // Legacy: single grid, wrapped into Grids
	Grids        []core.GridConfig  `yaml:"grids"`
	Risk         RiskConfig         `yaml:"risk"`
	Pool         PoolConfig         `yaml:"pool"`
	PaperTrading PaperTradingConfig `yaml:"paper_trading"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`
	TrendFilter  TrendFilterConfig  `yaml:"trend_filter"`
	StopLoss     StopLossConfig     `yaml:"position_stop_loss"`
	PairRotation PairRotationConfig `yaml:"pair_rotation"`
	Allocation   AllocationConfig   `yaml:"strategy_allocation"`
	Momentum     MomentumConfig     `yaml:"momentum_rider"`
	DipSniper    DipSniperConfig    `yaml:"dip_sniper"`
	Sentiment    SentimentConfig    `yaml:"sentiment"`
	Database     DatabaseConfig     `yaml:"database"`
	System       SystemConfig       `yaml:"system"`
}

// ExchangeConfig contains venue connection settings
type ExchangeConfig struct {
	Name        string `yaml:"name"`
	APIKey      Secret `yaml:"api_key"`
	APISecret   Secret `yaml:"api_secret"`
	Sandbox     bool   `yaml:"sandbox"`
	RateLimitMs int    `yaml:"rate_limit_ms"`
}

// RiskConfig contains the supervisor's limits
type RiskConfig struct {
	MaxPositionQuote        float64 `yaml:"max_position_quote"`
	MaxPositionQuotePerPair float64 `yaml:"max_position_quote_per_pair"`
	MaxOpenOrders           int     `yaml:"max_open_orders"`
	StopLossPct             float64 `yaml:"stop_loss_pct"`
	TakeProfitPct           float64 `yaml:"take_profit_pct"`
	MaxDrawdownPct          float64 `yaml:"max_drawdown_pct"`
}

// PoolConfig sizes the shared quote capital
type PoolConfig struct {
	InitialBalanceQuote float64 `yaml:"initial_balance_quote"`
}

// PaperTradingConfig controls the simulator
type PaperTradingConfig struct {
	Enabled             bool    `yaml:"enabled"`
	InitialBalanceQuote float64 `yaml:"initial_balance_quote"`
	InitialBalanceBase  float64 `yaml:"initial_balance_base"`
	SimulatedFeePct     float64 `yaml:"simulated_fee_pct"`
}

// DashboardConfig controls the HTTP/WebSocket dashboard
type DashboardConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	EnableControls bool   `yaml:"enable_controls"`
}

// TrendFilterConfig controls the SMA crossover filter
type TrendFilterConfig struct {
	Enabled     bool `yaml:"enabled"`
	ShortWindow int  `yaml:"short_window"`
	LongWindow  int  `yaml:"long_window"`
}

// StopLossConfig controls the per-position stop loss
type StopLossConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ThresholdPct float64 `yaml:"threshold_pct"`
	CooldownSecs float64 `yaml:"cooldown_secs"`
}

// PairRotationConfig controls periodic pair scoring and pausing
type PairRotationConfig struct {
	Enabled        bool    `yaml:"enabled"`
	IntervalSecs   float64 `yaml:"interval_secs"`
	MinTrades      int64   `yaml:"min_trades"`
	PauseThreshold float64 `yaml:"pause_threshold"`
}

// AllocationConfig splits pool capital across strategies.
// Percents must sum to 100.
type AllocationConfig struct {
	GridPct      float64 `yaml:"grid_pct"`
	MomentumPct  float64 `yaml:"momentum_pct"`
	DipSniperPct float64 `yaml:"dip_sniper_pct"`
}

// MomentumConfig controls the momentum rider strategy
type MomentumConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Lookback      int     `yaml:"lookback"`
	EntryPct      float64 `yaml:"entry_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	OrderQuote    float64 `yaml:"order_quote"`
}

// DipSniperConfig controls the dip sniper strategy
type DipSniperConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Window      int     `yaml:"window"`
	DipPct      float64 `yaml:"dip_pct"`
	ReboundPct  float64 `yaml:"rebound_pct"`
	StopLossPct float64 `yaml:"stop_loss_pct"`
	OrderQuote  float64 `yaml:"order_quote"`
}

// SentimentConfig controls the external fear & greed gate
type SentimentConfig struct {
	Enabled              bool    `yaml:"enabled"`
	ExtremeFearThreshold int     `yaml:"extreme_fear_threshold"`
	CacheTTLSecs         float64 `yaml:"cache_ttl_secs"`
}

// DatabaseConfig points at the journal store
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SystemConfig contains process-level settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment
// variable expansion, applies GRIDBOT_ overrides and defaults, and
// validates the result.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvOverrides()
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides maps GRIDBOT_ environment variables onto fields
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvPrefix + "API_KEY"); v != "" {
		c.Exchange.APIKey = Secret(v)
	}
	if v := os.Getenv(EnvPrefix + "API_SECRET"); v != "" {
		c.Exchange.APISecret = Secret(v)
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.System.LogLevel = v
	}
}

// ApplyDefaults fills unset fields and wraps the legacy single grid
func (c *Config) ApplyDefaults() {
	// Legacy single grid block becomes a one-element list
	if c.Grid != nil && len(c.Grids) == 0 {
		c.Grids = []core.GridConfig{*c.Grid}
		c.Grid = nil
	}

	for i := range c.Grids {
		if c.Grids[i].Spacing == "" {
			c.Grids[i].Spacing = core.SpacingArithmetic
		}
		if c.Grids[i].Trailing.TriggerPct == 0 {
			c.Grids[i].Trailing.TriggerPct = 80
		}
		if c.Grids[i].Trailing.RebalancePct == 0 {
			c.Grids[i].Trailing.RebalancePct = 50
		}
		if c.Grids[i].Trailing.CooldownSecs == 0 {
			c.Grids[i].Trailing.CooldownSecs = 300
		}
	}

	if c.Exchange.RateLimitMs <= 0 {
		c.Exchange.RateLimitMs = 200
	}
	if c.Risk.MaxOpenOrders <= 0 {
		c.Risk.MaxOpenOrders = 50
	}
	if c.Pool.InitialBalanceQuote == 0 && c.PaperTrading.InitialBalanceQuote > 0 {
		c.Pool.InitialBalanceQuote = c.PaperTrading.InitialBalanceQuote
	}
	if c.Dashboard.Host == "" {
		c.Dashboard.Host = "127.0.0.1"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.TrendFilter.ShortWindow <= 0 {
		c.TrendFilter.ShortWindow = 10
	}
	if c.TrendFilter.LongWindow <= 0 {
		c.TrendFilter.LongWindow = 30
	}
	if c.StopLoss.ThresholdPct <= 0 {
		c.StopLoss.ThresholdPct = 8
	}
	if c.StopLoss.CooldownSecs <= 0 {
		c.StopLoss.CooldownSecs = 600
	}
	if c.PairRotation.IntervalSecs <= 0 {
		c.PairRotation.IntervalSecs = 3600
	}
	if c.PairRotation.MinTrades <= 0 {
		c.PairRotation.MinTrades = 5
	}
	if c.Allocation.GridPct == 0 && c.Allocation.MomentumPct == 0 && c.Allocation.DipSniperPct == 0 {
		c.Allocation.GridPct = 100
	}
	if c.Momentum.Lookback <= 0 {
		c.Momentum.Lookback = 10
	}
	if c.DipSniper.Window <= 0 {
		c.DipSniper.Window = 60
	}
	if c.Sentiment.CacheTTLSecs <= 0 {
		c.Sentiment.CacheTTLSecs = 300
	}
	if c.Database.Path == "" {
		c.Database.Path = "gridbot.db"
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateExchange(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateGrids(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRisk(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateAllocation(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.Name == "" {
		return ValidationError{
			Field:   "exchange.name",
			Message: "exchange name is required",
		}
	}
	if !c.PaperTrading.Enabled {
		if c.Exchange.APIKey == "" {
			return ValidationError{
				Field:   "exchange.api_key",
				Message: "API key is required for live trading",
			}
		}
		if c.Exchange.APISecret == "" {
			return ValidationError{
				Field:   "exchange.api_secret",
				Message: "API secret is required for live trading",
			}
		}
	}
	return nil
}

func (c *Config) validateGrids() error {
	if len(c.Grids) == 0 {
		return ValidationError{
			Field:   "grids",
			Message: "at least one grid must be configured",
		}
	}

	seen := make(map[string]bool)
	for _, g := range c.Grids {
		if err := ValidateGrid(&g); err != nil {
			return err
		}
		if seen[g.Symbol] {
			return ValidationError{
				Field:   "grids",
				Value:   g.Symbol,
				Message: "duplicate grid symbol",
			}
		}
		seen[g.Symbol] = true
	}
	return nil
}

// ValidateGrid checks one grid definition. Also used when a grid is
// swapped at runtime through reconfigure.
func ValidateGrid(g *core.GridConfig) error {
	if g.Symbol == "" {
		return ValidationError{
			Field:   "grid.symbol",
			Message: "symbol is required",
		}
	}
	if g.Lower <= 0 || g.Upper <= g.Lower {
		return ValidationError{
			Field:   "grid.lower",
			Value:   fmt.Sprintf("lower=%v upper=%v", g.Lower, g.Upper),
			Message: "bounds must satisfy 0 < lower < upper",
		}
	}
	if g.NumLevels < 2 || g.NumLevels > 200 {
		return ValidationError{
			Field:   "grid.num_levels",
			Value:   g.NumLevels,
			Message: "must be between 2 and 200",
		}
	}
	if g.Spacing != core.SpacingArithmetic && g.Spacing != core.SpacingGeometric {
		return ValidationError{
			Field:   "grid.spacing",
			Value:   g.Spacing,
			Message: "must be arithmetic or geometric",
		}
	}
	hasQuote := g.OrderSizeQuote > 0
	hasBase := g.OrderSizeBase > 0
	if hasQuote == hasBase {
		return ValidationError{
			Field:   "grid.order_size",
			Value:   fmt.Sprintf("quote=%v base=%v", g.OrderSizeQuote, g.OrderSizeBase),
			Message: "exactly one of order_size_quote and order_size_base must be set",
		}
	}
	if g.Trailing.Enabled {
		if g.Trailing.TriggerPct < 50 || g.Trailing.TriggerPct > 95 {
			return ValidationError{
				Field:   "grid.trailing.trigger_pct",
				Value:   g.Trailing.TriggerPct,
				Message: "must be between 50 and 95",
			}
		}
		if g.Trailing.RebalancePct < 10 || g.Trailing.RebalancePct > 100 {
			return ValidationError{
				Field:   "grid.trailing.rebalance_pct",
				Value:   g.Trailing.RebalancePct,
				Message: "must be between 10 and 100",
			}
		}
	}
	return nil
}

func (c *Config) validateRisk() error {
	if c.Risk.MaxDrawdownPct < 0 || c.Risk.MaxDrawdownPct > 100 {
		return ValidationError{
			Field:   "risk.max_drawdown_pct",
			Value:   c.Risk.MaxDrawdownPct,
			Message: "must be between 0 and 100",
		}
	}
	if c.Risk.StopLossPct < 0 || c.Risk.TakeProfitPct < 0 {
		return ValidationError{
			Field:   "risk.stop_loss_pct",
			Value:   c.Risk.StopLossPct,
			Message: "percentages must be non-negative",
		}
	}
	if c.Pool.InitialBalanceQuote <= 0 {
		return ValidationError{
			Field:   "pool.initial_balance_quote",
			Value:   c.Pool.InitialBalanceQuote,
			Message: "initial pool balance must be positive",
		}
	}
	return nil
}

func (c *Config) validateAllocation() error {
	total := c.Allocation.GridPct + c.Allocation.MomentumPct + c.Allocation.DipSniperPct
	if total < 99.999 || total > 100.001 {
		return ValidationError{
			Field:   "strategy_allocation",
			Value:   total,
			Message: "allocation percents must sum to 100",
		}
	}
	if c.Momentum.Enabled && c.Allocation.MomentumPct <= 0 {
		return ValidationError{
			Field:   "strategy_allocation.momentum_pct",
			Value:   c.Allocation.MomentumPct,
			Message: "momentum rider enabled but has no allocation",
		}
	}
	if c.DipSniper.Enabled && c.Allocation.DipSniperPct <= 0 {
		return ValidationError{
			Field:   "strategy_allocation.dip_sniper_pct",
			Value:   c.Allocation.DipSniperPct,
			Message: "dip sniper enabled but has no allocation",
		}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// String returns the configuration as YAML; Secret fields redact
// themselves during marshaling.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a paper-trading configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		Exchange: ExchangeConfig{
			Name:        "paper",
			RateLimitMs: 200,
		},
		Grids: []core.GridConfig{
			{
				Symbol:         "BTC/USD",
				Lower:          55000,
				Upper:          65000,
				NumLevels:      5,
				Spacing:        core.SpacingArithmetic,
				OrderSizeQuote: 100,
			},
		},
		Risk: RiskConfig{
			MaxPositionQuote:        8000,
			MaxPositionQuotePerPair: 4000,
			MaxOpenOrders:           50,
			StopLossPct:             5,
			TakeProfitPct:           10,
			MaxDrawdownPct:          10,
		},
		Pool: PoolConfig{InitialBalanceQuote: 10000},
		PaperTrading: PaperTradingConfig{
			Enabled:             true,
			InitialBalanceQuote: 10000,
			SimulatedFeePct:     0.006,
		},
		System: SystemConfig{LogLevel: "INFO"},
	}
	cfg.ApplyDefaults()
	return cfg
}
