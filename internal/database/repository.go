package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// BOTS
// ============================================================================

// GetActiveBots retrieves all bots scheduled for evaluation
func (r *Repository) GetActiveBots(ctx context.Context) ([]*Bot, error) {
	query := `
		SELECT id, name, strategy_type, strategy_config, products, quote_currency,
		       budget_percentage, reserved_usd_balance, reserved_btc_balance,
		       reserved_usd_for_longs, reserved_btc_for_shorts,
		       max_concurrent_deals, split_budget_across_pairs, deal_cooldown_seconds,
		       is_active, created_at, updated_at
		FROM bots
		WHERE is_active = TRUE
		ORDER BY id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// GetBotByID retrieves one bot
func (r *Repository) GetBotByID(ctx context.Context, id int64) (*Bot, error) {
	query := `
		SELECT id, name, strategy_type, strategy_config, products, quote_currency,
		       budget_percentage, reserved_usd_balance, reserved_btc_balance,
		       reserved_usd_for_longs, reserved_btc_for_shorts,
		       max_concurrent_deals, split_budget_across_pairs, deal_cooldown_seconds,
		       is_active, created_at, updated_at
		FROM bots
		WHERE id = $1
	`
	rows, err := r.db.Pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	return scanBot(rows)
}

// UpdateBotReservations persists recomputed bidirectional carve-outs
func (r *Repository) UpdateBotReservations(ctx context.Context, botID int64, usdForLongs, btcForShorts float64) error {
	query := `
		UPDATE bots
		SET reserved_usd_for_longs = $2, reserved_btc_for_shorts = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, botID, usdForLongs, btcForShorts)
	return err
}

func scanBot(rows pgx.Rows) (*Bot, error) {
	bot := &Bot{}
	var configRaw, productsRaw []byte
	err := rows.Scan(
		&bot.ID, &bot.Name, &bot.StrategyType, &configRaw, &productsRaw, &bot.QuoteCurrency,
		&bot.BudgetPercentage, &bot.ReservedUSDBalance, &bot.ReservedBTCBalance,
		&bot.ReservedUSDForLongs, &bot.ReservedBTCForShorts,
		&bot.MaxConcurrentDeals, &bot.SplitBudgetAcrossPairs, &bot.DealCooldownSeconds,
		&bot.IsActive, &bot.CreatedAt, &bot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	bot.StrategyConfig = json.RawMessage(configRaw)
	if err := json.Unmarshal(productsRaw, &bot.Products); err != nil {
		return nil, fmt.Errorf("invalid products for bot %d: %w", bot.ID, err)
	}
	return bot, nil
}

// ============================================================================
// POSITIONS
// ============================================================================

// CreatePosition inserts a new position
func (r *Repository) CreatePosition(ctx context.Context, p *Position) error {
	query := `
		INSERT INTO positions (bot_id, product_id, direction, status, total_base_acquired,
			total_quote_spent, average_buy_price, max_quote_allowed, highest_price_since_entry,
			entry_stop_loss, entry_take_profit_target, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		p.BotID, p.ProductID, p.Direction, p.Status, p.TotalBaseAcquired,
		p.TotalQuoteSpent, p.AverageBuyPrice, p.MaxQuoteAllowed, p.HighestPriceSinceEntry,
		p.EntryStopLoss, p.EntryTakeProfitTarget, p.OpenedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// UpdatePosition persists the mutable position fields
func (r *Repository) UpdatePosition(ctx context.Context, p *Position) error {
	query := `
		UPDATE positions
		SET status = $2, total_base_acquired = $3, total_quote_spent = $4,
		    average_buy_price = $5, highest_price_since_entry = $6,
		    trailing_stop_loss_price = $7, closing_via_limit = $8,
		    limit_close_order_id = $9, last_error = $10, closed_at = $11,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		p.ID, p.Status, p.TotalBaseAcquired, p.TotalQuoteSpent,
		p.AverageBuyPrice, p.HighestPriceSinceEntry,
		p.TrailingStopLossPrice, p.ClosingViaLimit,
		p.LimitCloseOrderID, p.LastError, p.ClosedAt,
	)
	return err
}

// GetOpenPosition retrieves the open position for a bot/product pair in the
// given direction, with its trades loaded. An empty direction matches either
// leg. Returns nil without error when no position is open.
func (r *Repository) GetOpenPosition(ctx context.Context, botID int64, productID, direction string) (*Position, error) {
	query := positionSelect + `
		WHERE bot_id = $1 AND product_id = $2 AND status = 'open'
		  AND ($3 = '' OR direction = $3)
		ORDER BY opened_at DESC
		LIMIT 1
	`
	positions, err := r.queryPositions(ctx, query, botID, productID, direction)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	return positions[0], nil
}

// GetOpenPositionsByBot retrieves all open positions for a bot across products
func (r *Repository) GetOpenPositionsByBot(ctx context.Context, botID int64) ([]*Position, error) {
	query := positionSelect + `
		WHERE bot_id = $1 AND status = 'open'
		ORDER BY opened_at
	`
	return r.queryPositions(ctx, query, botID)
}

// GetOpenPositions retrieves open positions across all bots
func (r *Repository) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	query := positionSelect + `
		WHERE status = 'open'
		ORDER BY opened_at
	`
	return r.queryPositions(ctx, query)
}

// CountOpenPositions counts open deals for admission control
func (r *Repository) CountOpenPositions(ctx context.Context, botID int64) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE bot_id = $1 AND status = 'open'`,
		botID,
	).Scan(&count)
	return count, err
}

// LastCloseTime returns when the bot last closed a position on the product,
// or nil if it never has. Used for the deal cooldown window.
func (r *Repository) LastCloseTime(ctx context.Context, botID int64, productID string) (*time.Time, error) {
	var closedAt *time.Time
	err := r.db.Pool.QueryRow(ctx,
		`SELECT MAX(closed_at) FROM positions
		 WHERE bot_id = $1 AND product_id = $2 AND status IN ('closed', 'cancelled')`,
		botID, productID,
	).Scan(&closedAt)
	if err != nil {
		return nil, err
	}
	return closedAt, nil
}

const positionSelect = `
	SELECT id, bot_id, product_id, direction, status, total_base_acquired,
	       total_quote_spent, average_buy_price, max_quote_allowed,
	       highest_price_since_entry, trailing_stop_loss_price, entry_stop_loss,
	       entry_take_profit_target, closing_via_limit, limit_close_order_id,
	       last_error, opened_at, closed_at, created_at, updated_at
	FROM positions`

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*Position, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p := &Position{}
		err := rows.Scan(
			&p.ID, &p.BotID, &p.ProductID, &p.Direction, &p.Status, &p.TotalBaseAcquired,
			&p.TotalQuoteSpent, &p.AverageBuyPrice, &p.MaxQuoteAllowed,
			&p.HighestPriceSinceEntry, &p.TrailingStopLossPrice, &p.EntryStopLoss,
			&p.EntryTakeProfitTarget, &p.ClosingViaLimit, &p.LimitCloseOrderID,
			&p.LastError, &p.OpenedAt, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range positions {
		trades, err := r.GetTradesByPosition(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Trades = trades
	}
	return positions, nil
}

// ============================================================================
// TRADES
// ============================================================================

// CreateTrade appends a fill record to its position
func (r *Repository) CreateTrade(ctx context.Context, t *Trade) error {
	query := `
		INSERT INTO trades (position_id, side, price, quote_amount, base_amount, trade_type, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		t.PositionID, t.Side, t.Price, t.QuoteAmount, t.BaseAmount, t.TradeType, t.OrderID,
	).Scan(&t.ID, &t.CreatedAt)
}

// GetTradesByPosition retrieves a position's trades in fill order
func (r *Repository) GetTradesByPosition(ctx context.Context, positionID int64) ([]*Trade, error) {
	query := `
		SELECT id, position_id, side, price, quote_amount, base_amount, trade_type, order_id, created_at
		FROM trades
		WHERE position_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t := &Trade{}
		err := rows.Scan(
			&t.ID, &t.PositionID, &t.Side, &t.Price, &t.QuoteAmount,
			&t.BaseAmount, &t.TradeType, &t.OrderID, &t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetTradeSummary aggregates realized results over a bot's closed positions
func (r *Repository) GetTradeSummary(ctx context.Context, botID int64) (*TradeSummary, error) {
	query := `
		SELECT COUNT(DISTINCT p.id),
		       COALESCE(SUM(CASE WHEN t.side = 'BUY' THEN t.quote_amount ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN t.side = 'SELL' THEN t.quote_amount ELSE 0 END), 0)
		FROM positions p
		LEFT JOIN trades t ON t.position_id = p.id
		WHERE p.bot_id = $1 AND p.status = 'closed'
	`
	s := &TradeSummary{}
	err := r.db.Pool.QueryRow(ctx, query, botID).Scan(
		&s.ClosedPositions, &s.TotalQuoteSpent, &s.TotalQuoteOut,
	)
	if err != nil {
		return nil, err
	}
	s.RealizedPnL = s.TotalQuoteOut - s.TotalQuoteSpent
	return s, nil
}

// ============================================================================
// SIGNALS
// ============================================================================

// CreateSignal appends an audit record. Signals are never updated or deleted.
func (r *Repository) CreateSignal(ctx context.Context, s *Signal) error {
	query := `
		INSERT INTO signals (bot_id, position_id, product_id, signal_type, action_taken, reason, price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		s.BotID, s.PositionID, s.ProductID, s.SignalType, s.ActionTaken, s.Reason, s.Price,
	).Scan(&s.ID, &s.CreatedAt)
}

// GetRecentSignals retrieves the latest audit records, newest first
func (r *Repository) GetRecentSignals(ctx context.Context, limit int) ([]*Signal, error) {
	query := `
		SELECT id, bot_id, position_id, product_id, signal_type, action_taken, reason, price, created_at
		FROM signals
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		s := &Signal{}
		err := rows.Scan(
			&s.ID, &s.BotID, &s.PositionID, &s.ProductID,
			&s.SignalType, &s.ActionTaken, &s.Reason, &s.Price, &s.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// ============================================================================
// ORDER HISTORY
// ============================================================================

// RecordOrderResult appends an order outcome to the audit trail. A failure
// identical to the most recent entry for the same bot/product/trade type is
// suppressed so a stuck bot does not flood the table every cycle; the next
// different error text (or a success) resumes logging.
func (r *Repository) RecordOrderResult(ctx context.Context, h *OrderHistory) (bool, error) {
	if h.Status == OrderHistoryStatusFailed {
		var lastStatus string
		var lastError *string
		err := r.db.Pool.QueryRow(ctx,
			`SELECT status, error FROM order_history
			 WHERE bot_id = $1 AND product_id = $2 AND trade_type = $3
			 ORDER BY created_at DESC, id DESC
			 LIMIT 1`,
			h.BotID, h.ProductID, h.TradeType,
		).Scan(&lastStatus, &lastError)
		if err != nil && err != pgx.ErrNoRows {
			return false, err
		}
		if err == nil && lastStatus == OrderHistoryStatusFailed && equalText(lastError, h.Error) {
			return false, nil
		}
	}

	query := `
		INSERT INTO order_history (bot_id, product_id, trade_type, side, status, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(
		ctx, query,
		h.BotID, h.ProductID, h.TradeType, h.Side, h.Status, h.Error,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return false, err
	}
	return true, nil
}

func equalText(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ============================================================================
// INDICATOR STATES
// ============================================================================

// SaveIndicatorSnapshot upserts the previous-cycle snapshot for a bot/product
func (r *Repository) SaveIndicatorSnapshot(ctx context.Context, botID int64, productID string, snapshot map[string]float64) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal indicator snapshot: %w", err)
	}
	query := `
		INSERT INTO indicator_states (bot_id, product_id, snapshot, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (bot_id, product_id)
		DO UPDATE SET snapshot = $3, updated_at = CURRENT_TIMESTAMP
	`
	_, err = r.db.Pool.Exec(ctx, query, botID, productID, data)
	return err
}

// GetIndicatorSnapshot retrieves the previous-cycle snapshot, or nil if none
// has been saved yet (first cycle).
func (r *Repository) GetIndicatorSnapshot(ctx context.Context, botID int64, productID string) (map[string]float64, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT snapshot FROM indicator_states WHERE bot_id = $1 AND product_id = $2`,
		botID, productID,
	).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snapshot := map[string]float64{}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("invalid indicator snapshot for bot %d %s: %w", botID, productID, err)
	}
	return snapshot, nil
}
