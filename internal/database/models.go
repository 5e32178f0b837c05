package database

import (
	"encoding/json"
	"time"
)

// Position status constants
const (
	PositionStatusOpen      = "open"
	PositionStatusClosed    = "closed"
	PositionStatusCancelled = "cancelled" // Closed manually without a sell
	PositionStatusFailed    = "failed"    // Initial buy never confirmed
)

// Position direction constants
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// Trade type constants
const (
	TradeTypeInitial     = "initial"
	TradeTypeDCA         = "dca"
	TradeTypeSafetyOrder = "safety_order"
	TradeTypeClose       = "close"
	TradeTypeManual      = "manual"
)

// Signal action constants
const (
	ActionNone              = "none"
	ActionBuy               = "buy"
	ActionSell              = "sell"
	ActionHold              = "hold"
	ActionFailsafeSell      = "failsafe_sell"
	ActionLimitClosePending = "limit_close_pending"
)

// Bot is the operator-managed configuration entity. The core reads it and
// never writes it.
type Bot struct {
	ID                     int64           `json:"id"`
	Name                   string          `json:"name"`
	StrategyType           string          `json:"strategy_type"`
	StrategyConfig         json.RawMessage `json:"strategy_config"`
	Products               []string        `json:"products"`
	QuoteCurrency          string          `json:"quote_currency"`
	BudgetPercentage       float64         `json:"budget_percentage"`
	ReservedUSDBalance     float64         `json:"reserved_usd_balance"`
	ReservedBTCBalance     float64         `json:"reserved_btc_balance"`
	ReservedUSDForLongs    float64         `json:"reserved_usd_for_longs"`
	ReservedBTCForShorts   float64         `json:"reserved_btc_for_shorts"`
	MaxConcurrentDeals     int             `json:"max_concurrent_deals"`
	SplitBudgetAcrossPairs bool            `json:"split_budget_across_pairs"`
	DealCooldownSeconds    int             `json:"deal_cooldown_seconds"`
	IsActive               bool            `json:"is_active"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// Position represents one open deal on one trading pair
type Position struct {
	ID                     int64      `json:"id"`
	BotID                  int64      `json:"bot_id"`
	ProductID              string     `json:"product_id"`
	Direction              string     `json:"direction"`
	Status                 string     `json:"status"`
	TotalBaseAcquired      float64    `json:"total_base_acquired"`
	TotalQuoteSpent        float64    `json:"total_quote_spent"`
	AverageBuyPrice        float64    `json:"average_buy_price"`
	MaxQuoteAllowed        float64    `json:"max_quote_allowed"`
	HighestPriceSinceEntry float64    `json:"highest_price_since_entry"`
	TrailingStopLossPrice  *float64   `json:"trailing_stop_loss_price,omitempty"`
	EntryStopLoss          *float64   `json:"entry_stop_loss,omitempty"`
	EntryTakeProfitTarget  *float64   `json:"entry_take_profit_target,omitempty"`
	ClosingViaLimit        bool       `json:"closing_via_limit"`
	LimitCloseOrderID      *string    `json:"limit_close_order_id,omitempty"`
	LastError              *string    `json:"last_error,omitempty"`
	Trades                 []*Trade   `json:"trades,omitempty"`
	OpenedAt               time.Time  `json:"opened_at"`
	ClosedAt               *time.Time `json:"closed_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// IsLong reports whether the position is a long leg.
func (p *Position) IsLong() bool {
	return p.Direction != DirectionShort
}

// ProfitPercent returns unrealized profit at the given price relative to the
// quote-spent-weighted average buy price. Positive means in profit for the
// position's direction.
func (p *Position) ProfitPercent(currentPrice float64) float64 {
	if p.AverageBuyPrice == 0 {
		return 0
	}
	pct := (currentPrice - p.AverageBuyPrice) / p.AverageBuyPrice * 100
	if !p.IsLong() {
		return -pct
	}
	return pct
}

// ApplyFill folds a confirmed buy fill into the position aggregates.
func (p *Position) ApplyFill(quoteAmount, baseAmount float64) {
	p.TotalQuoteSpent += quoteAmount
	p.TotalBaseAcquired += baseAmount
	if p.TotalBaseAcquired > 0 {
		p.AverageBuyPrice = p.TotalQuoteSpent / p.TotalBaseAcquired
	}
}

// BuyCount returns the number of confirmed buy trades on the position.
func (p *Position) BuyCount() int {
	n := 0
	for _, t := range p.Trades {
		if t.Side == "BUY" {
			n++
		}
	}
	return n
}

// SafetyOrderCount returns the number of safety-order buys already filled.
func (p *Position) SafetyOrderCount() int {
	n := 0
	for _, t := range p.Trades {
		if t.TradeType == TradeTypeSafetyOrder || t.TradeType == TradeTypeDCA {
			n++
		}
	}
	return n
}

// LastBuyPrice returns the price of the most recent buy trade, or the average
// buy price if no trades are loaded.
func (p *Position) LastBuyPrice() float64 {
	for i := len(p.Trades) - 1; i >= 0; i-- {
		if p.Trades[i].Side == "BUY" {
			return p.Trades[i].Price
		}
	}
	return p.AverageBuyPrice
}

// Trade is an immutable record of one fill, owned by its position
type Trade struct {
	ID          int64     `json:"id"`
	PositionID  int64     `json:"position_id"`
	Side        string    `json:"side"`
	Price       float64   `json:"price"`
	QuoteAmount float64   `json:"quote_amount"`
	BaseAmount  float64   `json:"base_amount"`
	TradeType   string    `json:"trade_type"`
	OrderID     *string   `json:"order_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Signal is the append-only audit record of one evaluation cycle's outcome
type Signal struct {
	ID          int64     `json:"id"`
	BotID       int64     `json:"bot_id"`
	PositionID  *int64    `json:"position_id,omitempty"`
	ProductID   string    `json:"product_id"`
	SignalType  string    `json:"signal_type"`
	ActionTaken string    `json:"action_taken"`
	Reason      string    `json:"reason"`
	Price       float64   `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderHistory records order placement attempts and failures for the audit
// trail. Repeated identical failures for the same bot/product/trade type are
// suppressed on insert until the error text changes.
type OrderHistory struct {
	ID        int64     `json:"id"`
	BotID     int64     `json:"bot_id"`
	ProductID string    `json:"product_id"`
	TradeType string    `json:"trade_type"`
	Side      string    `json:"side"`
	Status    string    `json:"status"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderHistory status constants
const (
	OrderHistoryStatusFilled = "filled"
	OrderHistoryStatusFailed = "failed"
)

// IndicatorState holds the previous-cycle indicator snapshot per
// (bot, product) pair, used for crossing detection across check intervals.
type IndicatorState struct {
	BotID     int64              `json:"bot_id"`
	ProductID string             `json:"product_id"`
	Snapshot  map[string]float64 `json:"snapshot"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// TradeSummary aggregates realized results over closed positions
type TradeSummary struct {
	ClosedPositions int     `json:"closed_positions"`
	TotalQuoteSpent float64 `json:"total_quote_spent"`
	TotalQuoteOut   float64 `json:"total_quote_out"`
	RealizedPnL     float64 `json:"realized_pnl"`
}
