package strategy

import (
	"math"
	"testing"

	"dca-trading-bot/internal/database"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTotalMultiplier(t *testing.T) {
	tests := []struct {
		name      string
		maxSO     int
		safetyPct float64
		volScale  float64
		expected  float64
	}{
		{"no safety orders", 0, 100, 2, 1},
		{"two at 100% doubling", 2, 100, 2, 4}, // 1 + 1 + 2
		{"three flat", 3, 50, 1, 2.5},          // 1 + 0.5×3
		{"scaled", 2, 100, 1.5, 3.5},           // 1 + 1 + 1.5
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TotalMultiplier(tt.maxSO, tt.safetyPct, tt.volScale)
			if !almostEqual(got, tt.expected) {
				t.Errorf("TotalMultiplier(%d, %v, %v) = %v, want %v", tt.maxSO, tt.safetyPct, tt.volScale, got, tt.expected)
			}
		})
	}
}

func TestAutoBaseOrderPct(t *testing.T) {
	// Two safety orders at 100% of base with volume scale 2 make the ladder
	// consume 4 base units, so the base order is 25% of the budget.
	got := AutoBaseOrderPct(2, 100, 2)
	if !almostEqual(got, 25) {
		t.Errorf("AutoBaseOrderPct(2, 100, 2) = %v, want 25", got)
	}
}

func TestBaseOrderQuote(t *testing.T) {
	auto := &RuleBasedConfig{AutoSizeBaseOrder: true, MaxSafetyOrders: 2, SafetyOrderPercentage: 100, VolumeScale: 2}
	if got := auto.BaseOrderQuote(500); !almostEqual(got, 125) {
		t.Errorf("auto-sized base on 500 budget = %v, want 125", got)
	}

	pct := &RuleBasedConfig{BaseOrderPercentage: 10}
	if got := pct.BaseOrderQuote(500); !almostEqual(got, 50) {
		t.Errorf("10%% base on 500 budget = %v, want 50", got)
	}

	fixed := &RuleBasedConfig{BaseOrderAmount: 75}
	if got := fixed.BaseOrderQuote(500); !almostEqual(got, 75) {
		t.Errorf("fixed base = %v, want 75", got)
	}

	// A fixed amount above the budget is clamped, never overspent.
	if got := fixed.BaseOrderQuote(60); !almostEqual(got, 60) {
		t.Errorf("fixed base above budget = %v, want 60", got)
	}
}

func TestSafetyOrderQuote(t *testing.T) {
	if got := SafetyOrderQuote(100, 100, 2, 1); !almostEqual(got, 100) {
		t.Errorf("safety order 1 = %v, want 100", got)
	}
	if got := SafetyOrderQuote(100, 100, 2, 2); !almostEqual(got, 200) {
		t.Errorf("safety order 2 = %v, want 200", got)
	}
	if got := SafetyOrderQuote(100, 50, 1.5, 3); !almostEqual(got, 112.5) {
		t.Errorf("safety order 3 = %v, want 112.5", got)
	}
	if got := SafetyOrderQuote(100, 100, 2, 0); got != 0 {
		t.Errorf("index 0 should size to 0, got %v", got)
	}
}

func TestSafetyOrderTriggerPrice(t *testing.T) {
	// Deviation 2% with step scale 1.5: order 2 accumulates 2% + 3% = 5%.
	got := SafetyOrderTriggerPrice(100, 2, 1.5, 2, database.DirectionLong)
	if !almostEqual(got, 95) {
		t.Errorf("long safety order 2 trigger = %v, want 95", got)
	}

	got = SafetyOrderTriggerPrice(100, 2, 1.5, 1, database.DirectionLong)
	if !almostEqual(got, 98) {
		t.Errorf("long safety order 1 trigger = %v, want 98", got)
	}

	// Shorts average into rallies: the trigger sits above the reference.
	got = SafetyOrderTriggerPrice(100, 2, 1.5, 2, database.DirectionShort)
	if !almostEqual(got, 105) {
		t.Errorf("short safety order 2 trigger = %v, want 105", got)
	}
}

func TestReferencePrice(t *testing.T) {
	pos := &database.Position{
		AverageBuyPrice: 97.5,
		Trades: []*database.Trade{
			{Side: "BUY", Price: 100, TradeType: database.TradeTypeInitial},
			{Side: "BUY", Price: 95, TradeType: database.TradeTypeSafetyOrder},
		},
	}

	tests := []struct {
		reference string
		expected  float64
	}{
		{ReferenceBaseOrder, 100},
		{ReferenceLastBuy, 95},
		{ReferenceAverage, 97.5},
	}
	for _, tt := range tests {
		cfg := &RuleBasedConfig{SafetyOrderReference: tt.reference}
		if got := cfg.referencePrice(pos); !almostEqual(got, tt.expected) {
			t.Errorf("reference %s = %v, want %v", tt.reference, got, tt.expected)
		}
	}
}
