package rules

import "dca-trading-bot/internal/indicators"

// RequiredIndicators statically extracts every snapshot key an expression
// needs, including the ancillary keys derived indicators implicitly depend on
// (BB% pulls both band keys and raw price; MA-cross values pull the MA and
// price). Used to minimize indicator computation per cycle.
func RequiredIndicators(expr Expression) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, c := range expr.AllConditions() {
		spec := c.Spec()
		keys[spec.Key(c.Timeframe)] = struct{}{}

		switch c.Indicator {
		case indicators.TypeBBPercent:
			upper := spec
			upper.Type = indicators.TypeBBUpper
			lower := spec
			lower.Type = indicators.TypeBBLower
			keys[upper.Key(c.Timeframe)] = struct{}{}
			keys[lower.Key(c.Timeframe)] = struct{}{}
			keys[indicators.Key(c.Timeframe, indicators.TypePrice)] = struct{}{}
		case indicators.TypeEMACross, indicators.TypeSMACross:
			keys[indicators.Key(c.Timeframe, indicators.TypePrice)] = struct{}{}
		}
	}
	return keys
}

// RequiredSpecs groups the expression's indicator computations by timeframe,
// deduplicated by key, in the shape the indicator engine consumes.
func RequiredSpecs(expr Expression) map[string][]indicators.Spec {
	seen := make(map[string]struct{})
	out := make(map[string][]indicators.Spec)

	add := func(timeframe string, spec indicators.Spec) {
		key := spec.Key(timeframe)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out[timeframe] = append(out[timeframe], spec)
	}

	for _, c := range expr.AllConditions() {
		spec := c.Spec()
		add(c.Timeframe, spec)

		switch c.Indicator {
		case indicators.TypeBBPercent:
			upper := spec
			upper.Type = indicators.TypeBBUpper
			lower := spec
			lower.Type = indicators.TypeBBLower
			add(c.Timeframe, upper)
			add(c.Timeframe, lower)
		}
	}
	return out
}

// Timeframes returns the distinct timeframes the expression references.
func Timeframes(expr Expression) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range expr.AllConditions() {
		if _, ok := seen[c.Timeframe]; ok {
			continue
		}
		seen[c.Timeframe] = struct{}{}
		out = append(out, c.Timeframe)
	}
	return out
}
