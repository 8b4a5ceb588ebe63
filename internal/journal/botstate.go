package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gridbot/internal/core"
)

// Well-known bot_state keys
const (
	StateKeyPeakEquity  = "peak_equity"
	StateKeyPausedPairs = "paused_pairs"
	StateKeyLastRun     = "last_run"
)

// BotStateRepo is a small key-value store for orchestrator state that
// must survive restarts (drawdown peak, rotator pauses).
type BotStateRepo struct {
	j *Journal
}

// Set upserts one key
func (r *BotStateRepo) Set(ctx context.Context, key, value string) error {
	query := `INSERT INTO bot_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	_, err := r.j.db.ExecContext(ctx, query, key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to set bot state %q: %w", key, err)
	}
	return nil
}

// Get returns the value and whether the key exists
func (r *BotStateRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.j.db.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get bot state %q: %w", key, err)
	}
	return value, true, nil
}

// GridConfigRepo persists the active grid bounds per symbol so a
// restart resumes from the shifted grid, not the configured one.
type GridConfigRepo struct {
	j *Journal
}

// Save upserts the active config for a symbol
func (r *GridConfigRepo) Save(ctx context.Context, cfg *core.GridConfig) error {
	trailing := 0
	if cfg.Trailing.Enabled {
		trailing = 1
	}
	query := `INSERT INTO grid_configs
		(symbol, lower, upper, num_levels, spacing, order_size_quote, order_size_base, trailing_enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			lower = excluded.lower, upper = excluded.upper,
			num_levels = excluded.num_levels, spacing = excluded.spacing,
			order_size_quote = excluded.order_size_quote, order_size_base = excluded.order_size_base,
			trailing_enabled = excluded.trailing_enabled, updated_at = excluded.updated_at`
	_, err := r.j.db.ExecContext(ctx, query,
		cfg.Symbol, cfg.Lower, cfg.Upper, cfg.NumLevels, string(cfg.Spacing),
		cfg.OrderSizeQuote, cfg.OrderSizeBase, trailing, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save grid config %s: %w", cfg.Symbol, err)
	}
	return nil
}

// Get returns the stored config for a symbol, or nil when absent
func (r *GridConfigRepo) Get(ctx context.Context, symbol string) (*core.GridConfig, error) {
	query := `SELECT symbol, lower, upper, num_levels, spacing, order_size_quote, order_size_base, trailing_enabled
		FROM grid_configs WHERE symbol = ?`
	var cfg core.GridConfig
	var spacing string
	var trailing int
	err := r.j.db.QueryRowContext(ctx, query, symbol).Scan(
		&cfg.Symbol, &cfg.Lower, &cfg.Upper, &cfg.NumLevels, &spacing,
		&cfg.OrderSizeQuote, &cfg.OrderSizeBase, &trailing)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grid config %s: %w", symbol, err)
	}
	cfg.Spacing = core.SpacingType(spacing)
	cfg.Trailing.Enabled = trailing == 1
	return &cfg, nil
}
