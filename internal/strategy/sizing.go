package strategy

import (
	"math"

	"dca-trading-bot/internal/database"
)

// TotalMultiplier returns how many base-order units the full ladder consumes:
// 1 for the base order plus one scaled unit per safety order.
//
//	total = 1 + Σ_{i=1..N} (safetyPct/100) × volumeScale^(i-1)
func TotalMultiplier(maxSafetyOrders int, safetyOrderPct, volumeScale float64) float64 {
	total := 1.0
	for i := 1; i <= maxSafetyOrders; i++ {
		total += safetyOrderPct / 100 * math.Pow(volumeScale, float64(i-1))
	}
	return total
}

// AutoBaseOrderPct solves the base-order percentage backward so the base
// order plus every scheduled safety order consumes exactly 100% of the
// position budget.
func AutoBaseOrderPct(maxSafetyOrders int, safetyOrderPct, volumeScale float64) float64 {
	return 100 / TotalMultiplier(maxSafetyOrders, safetyOrderPct, volumeScale)
}

// BaseOrderQuote returns the quote amount of the base order for a position
// budget, clamped to the budget.
func (c *RuleBasedConfig) BaseOrderQuote(positionBudget float64) float64 {
	var quote float64
	switch {
	case c.BaseOrderAmount > 0:
		quote = c.BaseOrderAmount
	case c.AutoSizeBaseOrder:
		quote = positionBudget * AutoBaseOrderPct(c.MaxSafetyOrders, c.SafetyOrderPercentage, c.VolumeScale) / 100
	default:
		quote = positionBudget * c.BaseOrderPercentage / 100
	}
	if quote > positionBudget {
		quote = positionBudget
	}
	return quote
}

// SafetyOrderQuote returns the quote amount of safety order index (1-based):
// baseQuote × (safetyPct/100) × volumeScale^(index-1).
func SafetyOrderQuote(baseQuote, safetyOrderPct, volumeScale float64, index int) float64 {
	if index < 1 {
		return 0
	}
	return baseQuote * safetyOrderPct / 100 * math.Pow(volumeScale, float64(index-1))
}

// SafetyOrderTriggerPrice returns the price at which safety order index
// (1-based) becomes eligible. Deviations accumulate with the step scale:
//
//	total deviation = Σ_{j=0..index-1} deviationPct × stepScale^j
//
// A long averages into dips (reference × (1 − total/100)); a short averages
// into rallies (reference × (1 + total/100)).
func SafetyOrderTriggerPrice(reference, deviationPct, stepScale float64, index int, direction string) float64 {
	total := 0.0
	for j := 0; j < index; j++ {
		total += deviationPct * math.Pow(stepScale, float64(j))
	}
	if direction == database.DirectionShort {
		return reference * (1 + total/100)
	}
	return reference * (1 - total/100)
}

// referencePrice resolves the configured safety-order reference against the
// position's fills.
func (c *RuleBasedConfig) referencePrice(p *database.Position) float64 {
	switch c.SafetyOrderReference {
	case ReferenceBaseOrder:
		for _, t := range p.Trades {
			if t.TradeType == database.TradeTypeInitial {
				return t.Price
			}
		}
		return p.AverageBuyPrice
	case ReferenceAverage:
		return p.AverageBuyPrice
	default:
		return p.LastBuyPrice()
	}
}
