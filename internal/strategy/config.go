package strategy

import (
	"encoding/json"
	"fmt"

	"dca-trading-bot/internal/exchange"
	"dca-trading-bot/internal/rules"
)

// Safety-order reference price constants
const (
	ReferenceBaseOrder = "base_order" // first fill price
	ReferenceLastBuy   = "last_buy"   // most recent fill price
	ReferenceAverage   = "average"    // running average buy price
)

// Take-profit mode constants
const (
	TakeProfitFixed    = "fixed"    // sell the instant the target is reached
	TakeProfitTrailing = "trailing" // arm a trailing stop once the target is reached
	TakeProfitMinimum  = "minimum"  // indicator conditions time the exit, target is a floor
)

// RuleBasedConfig is the typed configuration for the rule-based strategy.
// It is parsed and validated once when the bot is activated.
type RuleBasedConfig struct {
	// Base order sizing. BaseOrderAmount (fixed quote) wins over
	// BaseOrderPercentage when both are set. AutoSizeBaseOrder derives the
	// percentage so base plus all safety orders consume the whole budget.
	BaseOrderPercentage float64 `json:"base_order_percentage"`
	BaseOrderAmount     float64 `json:"base_order_amount"`
	AutoSizeBaseOrder   bool    `json:"auto_size_base_order"`

	// Safety-order (DCA) ladder.
	MaxSafetyOrders       int     `json:"max_safety_orders"`
	SafetyOrderPercentage float64 `json:"safety_order_percentage"` // % of the base order
	VolumeScale           float64 `json:"volume_scale"`
	PriceDeviationPct     float64 `json:"price_deviation_pct"`
	StepScale             float64 `json:"step_scale"`
	SafetyOrderReference  string  `json:"safety_order_reference"`

	// Exit.
	TakeProfitMode       string  `json:"take_profit_mode"`
	TakeProfitPct        float64 `json:"take_profit_pct"`
	TrailingDeviationPct float64 `json:"trailing_deviation_pct"`
	StopLossPct          float64 `json:"stop_loss_pct"` // 0 disables
	TrailingStopLoss     bool    `json:"trailing_stop_loss"`

	// Bidirectional legs.
	Bidirectional bool    `json:"bidirectional"`
	LongSplitPct  float64 `json:"long_split_pct"`
	ShortSplitPct float64 `json:"short_split_pct"`

	// Entry and exit conditions.
	BaseOrderConditions   rules.Expression `json:"base_order_conditions"`
	SafetyOrderConditions rules.Expression `json:"safety_order_conditions"`
	TakeProfitConditions  rules.Expression `json:"take_profit_conditions"`
}

// ParseRuleBasedConfig decodes, defaults and validates a rule-based config
func ParseRuleBasedConfig(raw json.RawMessage) (*RuleBasedConfig, error) {
	cfg := &RuleBasedConfig{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("invalid rule-based config: %w", err)
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule-based config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with documented defaults
func (c *RuleBasedConfig) ApplyDefaults() {
	if c.BaseOrderPercentage == 0 && c.BaseOrderAmount == 0 && !c.AutoSizeBaseOrder {
		c.BaseOrderPercentage = 10
	}
	if c.SafetyOrderPercentage == 0 {
		c.SafetyOrderPercentage = 100
	}
	if c.VolumeScale == 0 {
		c.VolumeScale = 1
	}
	if c.StepScale == 0 {
		c.StepScale = 1
	}
	if c.PriceDeviationPct == 0 {
		c.PriceDeviationPct = 1.5
	}
	if c.SafetyOrderReference == "" {
		c.SafetyOrderReference = ReferenceLastBuy
	}
	if c.TakeProfitMode == "" {
		c.TakeProfitMode = TakeProfitFixed
	}
	if c.TakeProfitPct == 0 {
		c.TakeProfitPct = 2
	}
	if c.TrailingDeviationPct == 0 {
		c.TrailingDeviationPct = 0.5
	}
	if c.Bidirectional && c.LongSplitPct == 0 && c.ShortSplitPct == 0 {
		c.LongSplitPct = 50
		c.ShortSplitPct = 50
	}
}

// Validate rejects configurations that must never reach the evaluation loop
func (c *RuleBasedConfig) Validate() error {
	if c.BaseOrderConditions.IsZero() {
		return fmt.Errorf("base order conditions are required")
	}
	if c.BaseOrderPercentage < 0 || c.BaseOrderPercentage > 100 {
		return fmt.Errorf("base_order_percentage %.2f out of range", c.BaseOrderPercentage)
	}
	if c.BaseOrderAmount < 0 {
		return fmt.Errorf("base_order_amount must not be negative")
	}
	if c.AutoSizeBaseOrder && c.MaxSafetyOrders == 0 {
		return fmt.Errorf("auto_size_base_order requires safety orders")
	}
	if c.MaxSafetyOrders < 0 {
		return fmt.Errorf("max_safety_orders must not be negative")
	}
	if c.MaxSafetyOrders > 0 {
		if c.SafetyOrderPercentage <= 0 {
			return fmt.Errorf("safety_order_percentage must be positive")
		}
		if c.VolumeScale <= 0 || c.StepScale <= 0 {
			return fmt.Errorf("volume_scale and step_scale must be positive")
		}
		if c.PriceDeviationPct <= 0 {
			return fmt.Errorf("price_deviation_pct must be positive")
		}
		switch c.SafetyOrderReference {
		case ReferenceBaseOrder, ReferenceLastBuy, ReferenceAverage:
		default:
			return fmt.Errorf("unsupported safety_order_reference %q", c.SafetyOrderReference)
		}
	}
	switch c.TakeProfitMode {
	case TakeProfitFixed:
	case TakeProfitTrailing:
		if c.TrailingDeviationPct <= 0 {
			return fmt.Errorf("trailing_deviation_pct must be positive")
		}
		if c.TrailingStopLoss {
			return fmt.Errorf("trailing take profit and trailing stop loss cannot be combined")
		}
	case TakeProfitMinimum:
		if c.TakeProfitConditions.IsZero() {
			return fmt.Errorf("take_profit_mode %q requires take profit conditions", c.TakeProfitMode)
		}
	default:
		return fmt.Errorf("unsupported take_profit_mode %q", c.TakeProfitMode)
	}
	if c.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct must be positive")
	}
	if c.StopLossPct < 0 {
		return fmt.Errorf("stop_loss_pct must not be negative")
	}
	if c.TrailingStopLoss && c.StopLossPct == 0 {
		return fmt.Errorf("trailing_stop_loss requires stop_loss_pct")
	}
	if c.Bidirectional {
		if c.LongSplitPct <= 0 || c.ShortSplitPct <= 0 {
			return fmt.Errorf("bidirectional mode requires positive leg splits")
		}
		if c.LongSplitPct+c.ShortSplitPct > 100 {
			return fmt.Errorf("leg splits exceed 100%%")
		}
	}
	return nil
}

// AIConfig is the typed configuration for the AI-autonomous strategy
type AIConfig struct {
	Timeframes       []string `json:"timeframes"`
	MinConfidence    float64  `json:"min_confidence"`
	MinProfitPct     float64  `json:"min_profit_pct"` // sell floor, also the failsafe threshold
	MaxAllocationPct float64  `json:"max_allocation_pct"`
	StopLossPct      float64  `json:"stop_loss_pct"` // 0 disables
}

// ParseAIConfig decodes, defaults and validates an AI strategy config
func ParseAIConfig(raw json.RawMessage) (*AIConfig, error) {
	cfg := &AIConfig{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("invalid AI config: %w", err)
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with documented defaults
func (c *AIConfig) ApplyDefaults() {
	if len(c.Timeframes) == 0 {
		c.Timeframes = []string{"1h"}
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.6
	}
	if c.MinProfitPct == 0 {
		c.MinProfitPct = 0.5
	}
	if c.MaxAllocationPct == 0 {
		c.MaxAllocationPct = 50
	}
}

// Validate rejects configurations that must never reach the evaluation loop
func (c *AIConfig) Validate() error {
	for _, tf := range c.Timeframes {
		if _, ok := exchange.TimeframeDuration(tf); !ok {
			return fmt.Errorf("unsupported timeframe %q", tf)
		}
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %.2f out of range", c.MinConfidence)
	}
	if c.MinProfitPct < 0 {
		return fmt.Errorf("min_profit_pct must not be negative")
	}
	if c.MaxAllocationPct <= 0 || c.MaxAllocationPct > 100 {
		return fmt.Errorf("max_allocation_pct %.2f out of range", c.MaxAllocationPct)
	}
	if c.StopLossPct < 0 {
		return fmt.Errorf("stop_loss_pct must not be negative")
	}
	return nil
}
