package rules

import (
	"testing"

	"dca-trading-bot/internal/indicators"
)

func rsiCondition(op string, value float64) Condition {
	return Condition{
		Indicator: indicators.TypeRSI,
		Timeframe: "1h",
		Period:    14,
		Operator:  op,
		Value:     value,
	}
}

func TestSimpleComparisons(t *testing.T) {
	snap := indicators.Snapshot{"1h_rsi_14": 72.5}

	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{OpGreaterThan, 70, true},
		{OpGreaterThan, 72.5, false},
		{OpGreaterEqual, 72.5, true},
		{OpLessThan, 80, true},
		{OpLessThan, 70, false},
		{OpLessEqual, 72.5, true},
		{OpEqual, 72.5, true},
		{OpEqual, 72.6, false},
		{OpNotEqual, 70, true},
	}
	for _, tt := range tests {
		expr := Expression{Conditions: []Condition{rsiCondition(tt.op, tt.value)}}
		got, details := Evaluate(expr, snap, nil, "")
		if got != tt.want {
			t.Errorf("%s %v: got %v, want %v (reason: %s)", tt.op, tt.value, got, tt.want, details[0].Reason)
		}
	}
}

func TestLogicOperators(t *testing.T) {
	snap := indicators.Snapshot{"1h_rsi_14": 72.5}

	andExpr := Expression{
		Logic: LogicAnd,
		Conditions: []Condition{
			rsiCondition(OpGreaterThan, 70),
			rsiCondition(OpLessThan, 70),
		},
	}
	if got, _ := Evaluate(andExpr, snap, nil, ""); got {
		t.Error("AND with one failing condition should be false")
	}

	orExpr := andExpr
	orExpr.Logic = LogicOr
	if got, _ := Evaluate(orExpr, snap, nil, ""); !got {
		t.Error("OR with one passing condition should be true")
	}
}

func TestGroupedExpression(t *testing.T) {
	snap := indicators.Snapshot{"1h_rsi_14": 72.5, "1h_stoch_k_14": 15}

	expr := Expression{
		GroupLogic: LogicOr,
		Groups: map[string]Group{
			"overbought": {Conditions: []Condition{rsiCondition(OpGreaterThan, 80)}},
			"oversold": {Conditions: []Condition{{
				Indicator: indicators.TypeStochK, Timeframe: "1h", Period: 14,
				Operator: OpLessThan, Value: 20,
			}}},
		},
	}
	got, details := Evaluate(expr, snap, nil, "")
	if !got {
		t.Error("OR across groups: oversold group passes, expression should be true")
	}
	if len(details) != 2 {
		t.Errorf("expected details from both groups, got %d", len(details))
	}

	expr.GroupLogic = LogicAnd
	if got, _ := Evaluate(expr, snap, nil, ""); got {
		t.Error("AND across groups with one failing group should be false")
	}
}

func TestCrossingDualSource(t *testing.T) {
	// Candle-based values both below 90: no candle-based crossing. The
	// cycle-based previous sat above 90, so the value crossed below between
	// check cycles and crossing_below(90) must still fire.
	current := indicators.Snapshot{
		"1h_rsi_14":      80.84,
		"prev_1h_rsi_14": 83.83,
	}
	previousCycle := indicators.Snapshot{"1h_rsi_14": 90.08}

	expr := Expression{Conditions: []Condition{rsiCondition(OpCrossingBelow, 90)}}
	got, details := Evaluate(expr, current, previousCycle, "")
	if !got {
		t.Errorf("crossing_below(90) should fire via cycle-based previous: %s", details[0].Reason)
	}

	// Without the cycle source there is no crossing.
	if got, _ := Evaluate(expr, current, nil, ""); got {
		t.Error("crossing_below(90) should not fire from candle source alone")
	}
}

func TestCrossingAbove(t *testing.T) {
	current := indicators.Snapshot{
		"1h_rsi_14":      31.2,
		"prev_1h_rsi_14": 28.9,
	}
	expr := Expression{Conditions: []Condition{rsiCondition(OpCrossingAbove, 30)}}
	if got, _ := Evaluate(expr, current, nil, ""); !got {
		t.Error("crossing_above(30) should fire from candle-based previous")
	}

	// Already above on both sides: no crossing.
	flat := indicators.Snapshot{"1h_rsi_14": 31.2, "prev_1h_rsi_14": 30.5}
	if got, _ := Evaluate(expr, flat, nil, ""); got {
		t.Error("no crossing when previous value already above threshold")
	}
}

func TestCrossingFirstCycleNoPrevious(t *testing.T) {
	current := indicators.Snapshot{"1h_rsi_14": 95}
	expr := Expression{Conditions: []Condition{rsiCondition(OpCrossingAbove, 90)}}
	got, details := Evaluate(expr, current, nil, "")
	if got {
		t.Error("missing previous data must evaluate false, never fire")
	}
	if details[0].Reason == "" {
		t.Error("detail should explain the missing previous value")
	}
}

func TestCrossingNoiseFilter(t *testing.T) {
	current := indicators.Snapshot{
		"1h_rsi_14":      90.0,
		"prev_1h_rsi_14": 90.0 + 1e-12,
	}
	expr := Expression{Conditions: []Condition{rsiCondition(OpCrossingBelow, 90)}}
	if got, _ := Evaluate(expr, current, nil, ""); got {
		t.Error("values within floating-point noise must not register a crossing")
	}
}

func TestIncreasingDecreasing(t *testing.T) {
	snap := indicators.Snapshot{
		"1h_rsi_14":      55,
		"prev_1h_rsi_14": 50,
	}

	inc := Expression{Conditions: []Condition{rsiCondition(OpIncreasing, 0)}}
	if got, _ := Evaluate(inc, snap, nil, ""); !got {
		t.Error("55 from 50 is increasing")
	}

	dec := Expression{Conditions: []Condition{rsiCondition(OpDecreasing, 0)}}
	if got, _ := Evaluate(dec, snap, nil, ""); got {
		t.Error("55 from 50 is not decreasing")
	}
}

func TestIncreasingMinChangePct(t *testing.T) {
	snap := indicators.Snapshot{
		"1h_rsi_14":      50.5,
		"prev_1h_rsi_14": 50,
	}
	c := rsiCondition(OpIncreasing, 0)
	c.MinChangePct = 5 // 1% actual change, below the 5% floor
	expr := Expression{Conditions: []Condition{c}}
	if got, _ := Evaluate(expr, snap, nil, ""); got {
		t.Error("1%% change should not satisfy a 5%% minimum")
	}

	c.MinChangePct = 0.5
	expr = Expression{Conditions: []Condition{c}}
	if got, _ := Evaluate(expr, snap, nil, ""); !got {
		t.Error("1%% change satisfies a 0.5%% minimum")
	}
}

func TestDeltaZeroPreviousComparesSign(t *testing.T) {
	snap := indicators.Snapshot{
		"1h_ema_cross_20":      1.5,
		"prev_1h_ema_cross_20": 0,
	}
	c := Condition{Indicator: indicators.TypeEMACross, Timeframe: "1h", Period: 20, Operator: OpIncreasing}
	if got, _ := Evaluate(Expression{Conditions: []Condition{c}}, snap, nil, ""); !got {
		t.Error("zero previous with positive current counts as increasing")
	}

	c.Operator = OpDecreasing
	if got, _ := Evaluate(Expression{Conditions: []Condition{c}}, snap, nil, ""); got {
		t.Error("zero previous with positive current is not decreasing")
	}
}

func TestDirectionFiltering(t *testing.T) {
	snap := indicators.Snapshot{"1h_rsi_14": 75}

	c := rsiCondition(OpGreaterThan, 70)
	c.Direction = DirectionShort
	expr := Expression{Conditions: []Condition{c}}

	got, details := Evaluate(expr, snap, nil, DirectionLong)
	if got {
		t.Error("short-only condition must be forced false for a long position")
	}
	if details[0].Reason == "" {
		t.Error("direction mismatch should be reported in details")
	}

	// Same condition for a short position evaluates normally.
	if got, _ := Evaluate(expr, snap, nil, DirectionShort); !got {
		t.Error("short condition should evaluate for a short position")
	}

	// Unbound evaluator (no position direction) does not filter.
	if got, _ := Evaluate(expr, snap, nil, ""); !got {
		t.Error("no position direction: condition evaluates normally")
	}
}

func TestDirectionMismatchIsNotInvertedByNegate(t *testing.T) {
	snap := indicators.Snapshot{"1h_rsi_14": 75}
	c := rsiCondition(OpGreaterThan, 70)
	c.Direction = DirectionShort
	c.Negate = true
	expr := Expression{Conditions: []Condition{c}}
	if got, _ := Evaluate(expr, snap, nil, DirectionLong); got {
		t.Error("forced-false direction mismatch must not be inverted by negate")
	}
}

func TestNegate(t *testing.T) {
	snap := indicators.Snapshot{"1h_rsi_14": 75}
	c := rsiCondition(OpGreaterThan, 70)
	c.Negate = true
	expr := Expression{Conditions: []Condition{c}}
	if got, _ := Evaluate(expr, snap, nil, ""); got {
		t.Error("negate should invert a passing condition")
	}
}

func TestMissingIndicatorIsFalse(t *testing.T) {
	expr := Expression{Conditions: []Condition{rsiCondition(OpGreaterThan, 50)}}
	got, details := Evaluate(expr, indicators.Snapshot{}, nil, "")
	if got {
		t.Error("missing indicator must evaluate false")
	}
	if details[0].Reason != "indicator value not available" {
		t.Errorf("unexpected reason: %s", details[0].Reason)
	}
}

func TestEmptyExpression(t *testing.T) {
	if got, _ := Evaluate(Expression{}, indicators.Snapshot{}, nil, ""); got {
		t.Error("empty expression never fires")
	}
}

func TestRequiredIndicatorsAncillaryKeys(t *testing.T) {
	expr := Expression{Conditions: []Condition{
		{Indicator: indicators.TypeBBPercent, Timeframe: "15m", Period: 20, StdDev: 2, Operator: OpLessThan, Value: 10},
		{Indicator: indicators.TypeEMACross, Timeframe: "1h", Period: 50, Operator: OpCrossingAbove, Value: 0},
	}}

	keys := RequiredIndicators(expr)
	for _, want := range []string{
		"15m_bb_pct_20_2",
		"15m_bb_upper_20_2",
		"15m_bb_lower_20_2",
		"15m_price",
		"1h_ema_cross_50",
		"1h_price",
	} {
		if _, ok := keys[want]; !ok {
			t.Errorf("RequiredIndicators missing %s (have %v)", want, keys)
		}
	}
}

func TestRequiredSpecsDeduplicates(t *testing.T) {
	expr := Expression{Conditions: []Condition{
		rsiCondition(OpGreaterThan, 70),
		rsiCondition(OpLessThan, 90),
	}}
	specs := RequiredSpecs(expr)
	if len(specs["1h"]) != 1 {
		t.Errorf("identical conditions should share one spec, got %d", len(specs["1h"]))
	}
}
