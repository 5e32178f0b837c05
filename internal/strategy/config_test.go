package strategy

import (
	"encoding/json"
	"testing"
)

const validRuleBasedJSON = `{
	"base_order_percentage": 10,
	"max_safety_orders": 2,
	"safety_order_percentage": 100,
	"volume_scale": 2,
	"price_deviation_pct": 2,
	"step_scale": 1.5,
	"take_profit_mode": "fixed",
	"take_profit_pct": 2.5,
	"base_order_conditions": {
		"conditions": [
			{"indicator": "rsi", "timeframe": "1h", "period": 14, "operator": "less_than", "value": 30}
		],
		"logic": "AND"
	}
}`

func TestParseRuleBasedConfig(t *testing.T) {
	cfg, err := ParseRuleBasedConfig(json.RawMessage(validRuleBasedJSON))
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if cfg.TakeProfitPct != 2.5 {
		t.Errorf("take_profit_pct = %v, want 2.5", cfg.TakeProfitPct)
	}
	if len(cfg.BaseOrderConditions.Conditions) != 1 {
		t.Fatalf("expected 1 base order condition, got %d", len(cfg.BaseOrderConditions.Conditions))
	}
	if cfg.SafetyOrderReference != ReferenceLastBuy {
		t.Errorf("default safety_order_reference = %q, want %q", cfg.SafetyOrderReference, ReferenceLastBuy)
	}
}

func TestParseRuleBasedConfigRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty config", `{}`},
		{"missing conditions", `{"base_order_percentage": 10}`},
		{"bad take profit mode", `{
			"take_profit_mode": "instant",
			"base_order_conditions": {"conditions": [{"indicator": "rsi", "timeframe": "1h", "operator": "less_than", "value": 30}]}
		}`},
		{"minimum mode without conditions", `{
			"take_profit_mode": "minimum",
			"base_order_conditions": {"conditions": [{"indicator": "rsi", "timeframe": "1h", "operator": "less_than", "value": 30}]}
		}`},
		{"auto size without safety orders", `{
			"auto_size_base_order": true,
			"base_order_conditions": {"conditions": [{"indicator": "rsi", "timeframe": "1h", "operator": "less_than", "value": 30}]}
		}`},
		{"malformed json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRuleBasedConfig(json.RawMessage(tt.raw)); err == nil {
				t.Error("expected a configuration error")
			}
		})
	}
}

func TestParseAIConfigDefaults(t *testing.T) {
	cfg, err := ParseAIConfig(nil)
	if err != nil {
		t.Fatalf("empty AI config rejected: %v", err)
	}
	if len(cfg.Timeframes) != 1 || cfg.Timeframes[0] != "1h" {
		t.Errorf("default timeframes = %v, want [1h]", cfg.Timeframes)
	}
	if cfg.MinConfidence != 0.6 {
		t.Errorf("default min_confidence = %v, want 0.6", cfg.MinConfidence)
	}
}

func TestParseAIConfigRejectsBadTimeframe(t *testing.T) {
	if _, err := ParseAIConfig(json.RawMessage(`{"timeframes": ["7m"]}`)); err == nil {
		t.Error("expected rejection of unsupported timeframe")
	}
}
