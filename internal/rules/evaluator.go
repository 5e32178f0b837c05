package rules

import (
	"fmt"
	"math"

	"dca-trading-bot/internal/indicators"
)

// crossingEpsilon suppresses false crossings when the compared values differ
// only by floating-point noise.
const crossingEpsilon = 1e-9

// ConditionDetail records how one condition evaluated, for the audit trail.
type ConditionDetail struct {
	Key       string  `json:"key"`
	Operator  string  `json:"operator"`
	Target    float64 `json:"target"`
	Current   float64 `json:"current"`
	Met       bool    `json:"met"`
	Reason    string  `json:"reason,omitempty"`
	Direction string  `json:"direction,omitempty"`
}

// Evaluate evaluates an expression against the current snapshot. previousCycle
// is the snapshot persisted at the end of the last check cycle for the same
// (bot, product); it may be nil on the first cycle. positionDirection filters
// out conditions declared for the opposite direction. Missing data always
// evaluates to false, never errors.
func Evaluate(expr Expression, current, previousCycle indicators.Snapshot, positionDirection string) (bool, []ConditionDetail) {
	if len(expr.Groups) > 0 {
		return evaluateGroups(expr, current, previousCycle, positionDirection)
	}
	return evaluateSet(expr.Conditions, expr.Logic, current, previousCycle, positionDirection)
}

func evaluateGroups(expr Expression, current, previousCycle indicators.Snapshot, positionDirection string) (bool, []ConditionDetail) {
	groupLogic := normalizeLogic(expr.GroupLogic)
	var details []ConditionDetail

	result := groupLogic == LogicAnd
	evaluated := false
	for _, group := range expr.Groups {
		if len(group.Conditions) == 0 {
			continue
		}
		evaluated = true
		met, groupDetails := evaluateSet(group.Conditions, group.Logic, current, previousCycle, positionDirection)
		details = append(details, groupDetails...)
		if groupLogic == LogicAnd {
			result = result && met
		} else {
			result = result || met
		}
	}
	if !evaluated {
		return false, details
	}
	return result, details
}

func evaluateSet(conditions []Condition, logic string, current, previousCycle indicators.Snapshot, positionDirection string) (bool, []ConditionDetail) {
	if len(conditions) == 0 {
		return false, nil
	}

	logic = normalizeLogic(logic)
	details := make([]ConditionDetail, 0, len(conditions))
	result := logic == LogicAnd
	for _, c := range conditions {
		d := evaluateCondition(c, current, previousCycle, positionDirection)
		details = append(details, d)
		if logic == LogicAnd {
			result = result && d.Met
		} else {
			result = result || d.Met
		}
	}
	return result, details
}

func evaluateCondition(c Condition, current, previousCycle indicators.Snapshot, positionDirection string) ConditionDetail {
	detail := ConditionDetail{
		Key:       c.Key(),
		Operator:  c.Operator,
		Target:    c.Value,
		Direction: c.Direction,
	}

	// A condition bound to the opposite direction is forced false before any
	// indicator work, and is not inverted by negate: it encodes "not for this
	// leg", not a failed test.
	if c.Direction != "" && positionDirection != "" && c.Direction != positionDirection {
		detail.Met = false
		detail.Reason = fmt.Sprintf("direction mismatch: condition is %s, position is %s", c.Direction, positionDirection)
		return detail
	}

	cur, ok := current.Get(detail.Key)
	if !ok {
		detail.Met = false
		detail.Reason = "indicator value not available"
		return detail
	}
	detail.Current = cur

	met, reason := applyOperator(c, detail.Key, cur, current, previousCycle)
	if c.Negate {
		met = !met
		reason = "negated: " + reason
	}
	detail.Met = met
	detail.Reason = reason
	return detail
}

func applyOperator(c Condition, key string, cur float64, current, previousCycle indicators.Snapshot) (bool, string) {
	switch c.Operator {
	case OpGreaterThan:
		return cur > c.Value, fmt.Sprintf("%.4f > %.4f", cur, c.Value)
	case OpLessThan:
		return cur < c.Value, fmt.Sprintf("%.4f < %.4f", cur, c.Value)
	case OpGreaterEqual:
		return cur >= c.Value, fmt.Sprintf("%.4f >= %.4f", cur, c.Value)
	case OpLessEqual:
		return cur <= c.Value, fmt.Sprintf("%.4f <= %.4f", cur, c.Value)
	case OpEqual:
		return math.Abs(cur-c.Value) <= crossingEpsilon, fmt.Sprintf("%.4f == %.4f", cur, c.Value)
	case OpNotEqual:
		return math.Abs(cur-c.Value) > crossingEpsilon, fmt.Sprintf("%.4f != %.4f", cur, c.Value)
	case OpCrossingAbove, OpCrossingBelow:
		return evaluateCrossing(c, key, cur, current, previousCycle)
	case OpIncreasing, OpDecreasing:
		return evaluateDelta(c, key, cur, current, previousCycle)
	default:
		return false, fmt.Sprintf("unsupported operator %q", c.Operator)
	}
}

// evaluateCrossing resolves a crossing against two independent previous
// sources and reports true when either indicates one: the candle-based value
// (prev_ key, one candle back) and the cycle-based value (the snapshot saved
// at the end of the last check cycle). The cycle source exists because the
// value can cross the threshold and cross back within the candles between two
// check cycles, which the candle source alone would miss.
func evaluateCrossing(c Condition, key string, cur float64, current, previousCycle indicators.Snapshot) (bool, string) {
	above := c.Operator == OpCrossingAbove

	crossedFrom := func(prev float64) bool {
		if math.Abs(cur-prev) <= crossingEpsilon {
			return false // noise, not a crossing
		}
		if above {
			return prev <= c.Value && cur > c.Value
		}
		return prev >= c.Value && cur < c.Value
	}

	candlePrev, haveCandle := current.Get(indicators.PrevKey(key))
	var cyclePrev float64
	haveCycle := false
	if previousCycle != nil {
		cyclePrev, haveCycle = previousCycle.Get(key)
	}

	if !haveCandle && !haveCycle {
		return false, "no previous value for crossing detection"
	}

	if haveCandle && crossedFrom(candlePrev) {
		return true, fmt.Sprintf("crossed %.4f: candle prev %.4f, now %.4f", c.Value, candlePrev, cur)
	}
	if haveCycle && crossedFrom(cyclePrev) {
		return true, fmt.Sprintf("crossed %.4f: cycle prev %.4f, now %.4f", c.Value, cyclePrev, cur)
	}
	return false, fmt.Sprintf("no crossing of %.4f at %.4f", c.Value, cur)
}

// evaluateDelta handles increasing/decreasing: the sign of the change since
// the previous value, optionally requiring a minimum percentage magnitude.
// The candle-based previous is preferred, falling back to the cycle-based one.
func evaluateDelta(c Condition, key string, cur float64, current, previousCycle indicators.Snapshot) (bool, string) {
	prev, ok := current.Get(indicators.PrevKey(key))
	if !ok && previousCycle != nil {
		prev, ok = previousCycle.Get(key)
	}
	if !ok {
		return false, "no previous value for delta comparison"
	}

	increasing := c.Operator == OpIncreasing

	// A zero previous value makes percentage change undefined; compare the
	// sign of the current value only.
	if prev == 0 {
		if increasing {
			return cur > 0, fmt.Sprintf("previous 0, now %.4f", cur)
		}
		return cur < 0, fmt.Sprintf("previous 0, now %.4f", cur)
	}

	changePct := (cur - prev) / math.Abs(prev) * 100
	met := false
	if increasing {
		met = changePct > 0
	} else {
		met = changePct < 0
	}
	if met && c.MinChangePct > 0 && math.Abs(changePct) < c.MinChangePct {
		return false, fmt.Sprintf("change %.4f%% below required %.4f%%", changePct, c.MinChangePct)
	}
	return met, fmt.Sprintf("changed %.4f%% from %.4f", changePct, prev)
}
