package rules

import "dca-trading-bot/internal/indicators"

// Logic operators combine conditions within and across groups.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Comparison and temporal operators.
const (
	OpGreaterThan   = "greater_than"
	OpLessThan      = "less_than"
	OpGreaterEqual  = "greater_equal"
	OpLessEqual     = "less_equal"
	OpEqual         = "equal"
	OpNotEqual      = "not_equal"
	OpCrossingAbove = "crossing_above"
	OpCrossingBelow = "crossing_below"
	OpIncreasing    = "increasing"
	OpDecreasing    = "decreasing"
)

// Position directions referenced by condition filters.
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// Condition is one boolean test over an indicator value.
type Condition struct {
	Indicator string  `json:"indicator"`
	Timeframe string  `json:"timeframe"`
	Period    int     `json:"period,omitempty"`
	StdDev    float64 `json:"std_dev,omitempty"`
	Fast      int     `json:"fast,omitempty"`
	Slow      int     `json:"slow,omitempty"`
	Signal    int     `json:"signal,omitempty"`

	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
	// MinChangePct applies to increasing/decreasing: the delta magnitude in
	// percent that must be met before the condition fires.
	MinChangePct float64 `json:"min_change_pct,omitempty"`

	Negate    bool   `json:"negate,omitempty"`
	Direction string `json:"direction,omitempty"` // long or short; empty matches both
}

// Spec maps the condition to its indicator computation.
func (c Condition) Spec() indicators.Spec {
	s := indicators.Spec{
		Type:   c.Indicator,
		Period: c.Period,
		StdDev: c.StdDev,
		Fast:   c.Fast,
		Slow:   c.Slow,
		Signal: c.Signal,
	}
	s.ApplyDefaults()
	return s
}

// Key returns the snapshot key this condition reads.
func (c Condition) Key() string {
	return c.Spec().Key(c.Timeframe)
}

// Group is a named set of conditions combined with one logic operator.
type Group struct {
	Conditions []Condition `json:"conditions"`
	Logic      string      `json:"logic,omitempty"` // defaults to AND
}

// Expression is a boolean rule over indicator snapshots. Two forms are
// supported identically: the flat form (Conditions + Logic) and the grouped
// form (Groups combined with GroupLogic). When Groups is non-empty it takes
// precedence.
type Expression struct {
	Conditions []Condition      `json:"conditions,omitempty"`
	Logic      string           `json:"logic,omitempty"` // defaults to AND
	Groups     map[string]Group `json:"groups,omitempty"`
	GroupLogic string           `json:"group_logic,omitempty"` // defaults to AND
}

// IsZero reports whether the expression has no conditions at all.
func (e Expression) IsZero() bool {
	if len(e.Conditions) > 0 {
		return false
	}
	for _, g := range e.Groups {
		if len(g.Conditions) > 0 {
			return false
		}
	}
	return true
}

// AllConditions returns every condition in the expression, both forms.
func (e Expression) AllConditions() []Condition {
	out := make([]Condition, 0, len(e.Conditions))
	out = append(out, e.Conditions...)
	for _, g := range e.Groups {
		out = append(out, g.Conditions...)
	}
	return out
}

func normalizeLogic(logic string) string {
	if logic == LogicOr {
		return LogicOr
	}
	return LogicAnd
}
