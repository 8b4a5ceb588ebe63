// Package journal is the durable write-through log backing the bot.
// All writes are committed before the in-memory state machine treats
// them as effective; on restart the journal is the recovery source.
package journal

import (
	"context"
	"database/sql"
	"fmt"

	"gridbot/internal/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Journal wraps the SQLite store and exposes the repositories
type Journal struct {
	db     *sql.DB
	logger core.ILogger

	Orders      *OrderRepo
	Levels      *LevelRepo
	Trades      *TradeRepo
	Snapshots   *SnapshotRepo
	GridConfigs *GridConfigRepo
	BotState    *BotStateRepo
}

// Open opens (or creates) the journal database in WAL mode with
// foreign keys enforced.
func Open(dbPath string, logger core.ILogger) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL for crash recovery, FK enforcement, bounded lock waits
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	j := &Journal{
		db:     db,
		logger: logger.WithField("component", "journal"),
	}
	j.Orders = &OrderRepo{j}
	j.Levels = &LevelRepo{j}
	j.Trades = &TradeRepo{j}
	j.Snapshots = &SnapshotRepo{j}
	j.GridConfigs = &GridConfigRepo{j}
	j.BotState = &BotStateRepo{j}

	return j, nil
}

// Migrate applies the schema. Base DDL is idempotent; the additive
// ALTER statements fail harmlessly once the column exists.
func (j *Journal) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	for _, stmt := range additiveMigrations {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			j.logger.Debug("Additive migration skipped", "stmt", stmt, "error", err)
		}
	}

	j.logger.Info("Journal schema up to date")
	return nil
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}

// DB exposes the handle for read-only dashboard queries
func (j *Journal) DB() *sql.DB {
	return j.db
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS grid_configs (
		symbol           TEXT PRIMARY KEY,
		lower            REAL NOT NULL,
		upper            REAL NOT NULL,
		num_levels       INTEGER NOT NULL,
		spacing          TEXT NOT NULL,
		order_size_quote REAL NOT NULL DEFAULT 0,
		order_size_base  REAL NOT NULL DEFAULT 0,
		trailing_enabled INTEGER NOT NULL DEFAULT 0,
		updated_at       INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grid_levels (
		symbol         TEXT NOT NULL,
		idx            INTEGER NOT NULL,
		price          TEXT NOT NULL,
		side           TEXT NOT NULL,
		status         TEXT NOT NULL,
		venue_order_id TEXT,
		PRIMARY KEY (symbol, idx),
		FOREIGN KEY (symbol) REFERENCES grid_configs(symbol) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		venue_order_id TEXT PRIMARY KEY,
		symbol         TEXT NOT NULL,
		side           TEXT NOT NULL,
		price          TEXT NOT NULL,
		amount         TEXT NOT NULL,
		filled_amount  TEXT NOT NULL DEFAULT '0',
		avg_fill_price TEXT,
		fee            TEXT NOT NULL DEFAULT '0',
		status         TEXT NOT NULL,
		ts             INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders(symbol, status)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side   TEXT NOT NULL,
		amount TEXT NOT NULL,
		price  TEXT NOT NULL,
		fee    TEXT NOT NULL,
		pnl    TEXT NOT NULL,
		ts     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
	`CREATE TABLE IF NOT EXISTS position_snapshots (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		ts              INTEGER NOT NULL,
		symbol          TEXT NOT NULL,
		base_balance    TEXT NOT NULL,
		quote_balance   TEXT NOT NULL,
		avg_entry       TEXT NOT NULL,
		price           TEXT NOT NULL,
		unrealized_pnl  TEXT NOT NULL,
		realized_pnl    TEXT NOT NULL,
		secured_profits TEXT NOT NULL,
		total_equity    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON position_snapshots(ts)`,
	`CREATE TABLE IF NOT EXISTS bot_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// Columns added after the initial release. Failures mean the column
// already exists.
var additiveMigrations = []string{
	`ALTER TABLE position_snapshots ADD COLUMN secured_profits TEXT NOT NULL DEFAULT '0'`,
	`ALTER TABLE grid_configs ADD COLUMN trailing_enabled INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE orders ADD COLUMN avg_fill_price TEXT`,
}

// decimal column helpers

func decToDB(d decimal.Decimal) string {
	return d.String()
}

func decFromDB(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullDecToDB(d decimal.Decimal) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullDecFromDB(ns sql.NullString) decimal.Decimal {
	if !ns.Valid {
		return decimal.Zero
	}
	return decFromDB(ns.String)
}
