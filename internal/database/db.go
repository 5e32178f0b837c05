package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Bots are managed by the operator tooling; the core only reads
		// them, but owns the schema so it can run standalone.
		`CREATE TABLE IF NOT EXISTS bots (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			strategy_type VARCHAR(30) NOT NULL,
			strategy_config JSONB NOT NULL DEFAULT '{}',
			products JSONB NOT NULL DEFAULT '[]',
			quote_currency VARCHAR(10) NOT NULL DEFAULT 'USD',
			budget_percentage DECIMAL(6, 3) NOT NULL DEFAULT 0,
			reserved_usd_balance DECIMAL(20, 8) NOT NULL DEFAULT 0,
			reserved_btc_balance DECIMAL(20, 8) NOT NULL DEFAULT 0,
			reserved_usd_for_longs DECIMAL(20, 8) NOT NULL DEFAULT 0,
			reserved_btc_for_shorts DECIMAL(20, 8) NOT NULL DEFAULT 0,
			max_concurrent_deals INT NOT NULL DEFAULT 1,
			split_budget_across_pairs BOOLEAN NOT NULL DEFAULT FALSE,
			deal_cooldown_seconds INT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bots_active ON bots(is_active)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id SERIAL PRIMARY KEY,
			bot_id BIGINT NOT NULL REFERENCES bots(id),
			product_id VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL DEFAULT 'long',
			status VARCHAR(10) NOT NULL DEFAULT 'open',
			total_base_acquired DECIMAL(20, 8) NOT NULL DEFAULT 0,
			total_quote_spent DECIMAL(20, 8) NOT NULL DEFAULT 0,
			average_buy_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			max_quote_allowed DECIMAL(20, 8) NOT NULL DEFAULT 0,
			highest_price_since_entry DECIMAL(20, 8) NOT NULL DEFAULT 0,
			trailing_stop_loss_price DECIMAL(20, 8),
			entry_stop_loss DECIMAL(20, 8),
			entry_take_profit_target DECIMAL(20, 8),
			closing_via_limit BOOLEAN NOT NULL DEFAULT FALSE,
			limit_close_order_id VARCHAR(64),
			last_error TEXT,
			opened_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			closed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_bot ON positions(bot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_bot_product_status ON positions(bot_id, product_id, status)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			position_id BIGINT NOT NULL REFERENCES positions(id),
			side VARCHAR(4) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			quote_amount DECIMAL(20, 8) NOT NULL,
			base_amount DECIMAL(20, 8) NOT NULL,
			trade_type VARCHAR(20) NOT NULL,
			order_id VARCHAR(64),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id)`,

		`CREATE TABLE IF NOT EXISTS signals (
			id SERIAL PRIMARY KEY,
			bot_id BIGINT NOT NULL REFERENCES bots(id),
			position_id BIGINT REFERENCES positions(id),
			product_id VARCHAR(20) NOT NULL,
			signal_type VARCHAR(30) NOT NULL,
			action_taken VARCHAR(30) NOT NULL,
			reason TEXT NOT NULL,
			price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_bot_product ON signals(bot_id, product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created ON signals(created_at)`,

		`CREATE TABLE IF NOT EXISTS order_history (
			id SERIAL PRIMARY KEY,
			bot_id BIGINT NOT NULL REFERENCES bots(id),
			product_id VARCHAR(20) NOT NULL,
			trade_type VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			status VARCHAR(10) NOT NULL,
			error TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_history_bot_product ON order_history(bot_id, product_id, trade_type)`,

		// Previous-cycle indicator snapshots, one row per bot/product pair.
		`CREATE TABLE IF NOT EXISTS indicator_states (
			bot_id BIGINT NOT NULL REFERENCES bots(id),
			product_id VARCHAR(20) NOT NULL,
			snapshot JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (bot_id, product_id)
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
