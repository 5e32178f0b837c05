package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"dca-trading-bot/internal/database"
	"dca-trading-bot/internal/exchange"
	"dca-trading-bot/internal/indicators"
	"dca-trading-bot/internal/rules"
)

// RuleBased drives entries and exits from user-configured indicator
// conditions plus the DCA price ladder.
type RuleBased struct {
	cfg    *RuleBasedConfig
	engine *indicators.Engine
	logger zerolog.Logger
}

// NewRuleBased creates a rule-based strategy from a validated config
func NewRuleBased(cfg *RuleBasedConfig, logger zerolog.Logger) *RuleBased {
	return &RuleBased{
		cfg:    cfg,
		engine: indicators.NewEngine(),
		logger: logger.With().Str("component", "rule_based_strategy").Logger(),
	}
}

// Name returns the strategy name
func (s *RuleBased) Name() string {
	return TypeRuleBased
}

// AnalyzeSignal computes the snapshot and evaluates the entry conditions for
// every direction the bot trades, open position or not: a bidirectional bot
// holding one leg still needs to see the opposite entry. Safety order and
// take profit conditions are evaluated later, per leg. Too little candle data
// yields a nil result, not an error.
func (s *RuleBased) AnalyzeSignal(_ context.Context, in AnalyzeInput) (*SignalResult, error) {
	snap, err := s.computeSnapshot(in.Candles)
	if err != nil {
		if errors.Is(err, indicators.ErrInsufficientData) {
			s.logger.Debug().Str("product", in.ProductID).Msg("skipping cycle, insufficient candle data")
			return nil, nil
		}
		return nil, err
	}

	result := &SignalResult{
		Snapshot:      snap,
		PreviousCycle: in.PreviousCycle,
		CurrentPrice:  in.CurrentPrice,
		Direction:     database.DirectionLong,
	}

	longMet, longDetails := rules.Evaluate(s.cfg.BaseOrderConditions, snap, in.PreviousCycle, database.DirectionLong)
	result.Details = append(result.Details, longDetails...)
	result.BaseOrderMet = longMet

	if s.cfg.Bidirectional {
		shortMet, shortDetails := rules.Evaluate(s.cfg.BaseOrderConditions, snap, in.PreviousCycle, database.DirectionShort)
		result.Details = append(result.Details, shortDetails...)
		if longMet && shortMet {
			// Overlapping entry signals: stand aside rather than whipsaw
			// into both legs at once.
			result.NeutralZone = true
			result.BaseOrderMet = false
		} else if shortMet {
			result.BaseOrderMet = true
			result.Direction = database.DirectionShort
		}
	}

	return result, nil
}

// Timeframes returns every timeframe the configured conditions reference
func (s *RuleBased) Timeframes() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, expr := range s.expressions() {
		for _, tf := range rules.Timeframes(expr) {
			if _, ok := seen[tf]; ok {
				continue
			}
			seen[tf] = struct{}{}
			out = append(out, tf)
		}
	}
	return out
}

func (s *RuleBased) expressions() []rules.Expression {
	return []rules.Expression{
		s.cfg.BaseOrderConditions,
		s.cfg.SafetyOrderConditions,
		s.cfg.TakeProfitConditions,
	}
}

func (s *RuleBased) computeSnapshot(candles map[string][]exchange.Candle) (indicators.Snapshot, error) {
	snap := make(indicators.Snapshot)
	for tf, tfSpecs := range s.requiredSpecs() {
		series, ok := candles[tf]
		if !ok {
			return nil, fmt.Errorf("%w: no candles for timeframe %s", indicators.ErrInsufficientData, tf)
		}
		tfSnap, err := s.engine.Compute(series, tf, tfSpecs)
		if err != nil {
			return nil, err
		}
		snap.Merge(tfSnap)
	}
	return snap, nil
}

// requiredSpecs merges the computation sets of all three condition phases,
// deduplicated by snapshot key.
func (s *RuleBased) requiredSpecs() map[string][]indicators.Spec {
	merged := map[string][]indicators.Spec{}
	seen := map[string]struct{}{}
	for _, expr := range s.expressions() {
		for tf, specs := range rules.RequiredSpecs(expr) {
			for _, sp := range specs {
				key := sp.Key(tf)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				merged[tf] = append(merged[tf], sp)
			}
		}
	}
	return merged
}

// ShouldBuy decides base orders for new positions and safety orders for
// existing ones. The price trigger on safety orders is mandatory: indicator
// conditions alone never fire one.
func (s *RuleBased) ShouldBuy(signal *SignalResult, position *database.Position, availableBudget float64) (bool, float64, string) {
	if signal == nil {
		return false, 0, "no signal this cycle"
	}

	if position == nil {
		if signal.NeutralZone {
			return false, 0, "neutral zone: long and short entry signals overlap"
		}
		if !signal.BaseOrderMet {
			return false, 0, "base order conditions not met"
		}
		quote := s.cfg.BaseOrderQuote(availableBudget)
		if quote <= 0 {
			return false, 0, "no budget available for base order"
		}
		return true, quote, fmt.Sprintf("base order conditions met, %s entry", signal.Direction)
	}

	if s.cfg.MaxSafetyOrders == 0 {
		return false, 0, "safety orders disabled"
	}
	soIndex := position.SafetyOrderCount() + 1
	if soIndex > s.cfg.MaxSafetyOrders {
		return false, 0, fmt.Sprintf("all %d safety orders used", s.cfg.MaxSafetyOrders)
	}
	if !s.safetyConditionsMet(signal.Snapshot, signal.PreviousCycle, position.Direction) {
		return false, 0, "safety order conditions not met"
	}

	reference := s.cfg.referencePrice(position)
	trigger := SafetyOrderTriggerPrice(reference, s.cfg.PriceDeviationPct, s.cfg.StepScale, soIndex, position.Direction)
	price := signal.CurrentPrice
	if position.IsLong() {
		if price > trigger {
			return false, 0, fmt.Sprintf("price %.4f above safety order %d trigger %.4f", price, soIndex, trigger)
		}
	} else {
		if price < trigger {
			return false, 0, fmt.Sprintf("price %.4f below safety order %d trigger %.4f", price, soIndex, trigger)
		}
	}

	baseQuote := s.baseQuoteOf(position)
	quote := SafetyOrderQuote(baseQuote, s.cfg.SafetyOrderPercentage, s.cfg.VolumeScale, soIndex)
	remaining := position.MaxQuoteAllowed - position.TotalQuoteSpent
	if quote > remaining {
		quote = remaining
	}
	if quote > availableBudget {
		quote = availableBudget
	}
	if quote <= 0 {
		return false, 0, "position budget exhausted"
	}
	return true, quote, fmt.Sprintf("safety order %d triggered at %.4f (trigger %.4f)", soIndex, price, trigger)
}

// ShouldSell applies stop-loss first, then the never-sell-at-loss floor,
// then the configured take-profit mode. It may advance the position's peak
// price and trailing level; the caller persists those.
func (s *RuleBased) ShouldSell(signal *SignalResult, position *database.Position, currentPrice float64, _ MarketContext) (bool, string) {
	if position == nil || position.TotalBaseAcquired <= 0 {
		return false, "no position to sell"
	}

	profitPct := position.ProfitPercent(currentPrice)
	s.advancePeak(position, currentPrice)

	// Stop-loss is the one path allowed to sell at a loss.
	if s.cfg.StopLossPct > 0 {
		if s.cfg.TrailingStopLoss {
			stop := s.trailingStopPrice(position)
			position.TrailingStopLossPrice = &stop
			if breached(position, currentPrice, stop) {
				return true, fmt.Sprintf("trailing stop loss at %.4f breached (price %.4f)", stop, currentPrice)
			}
		} else if profitPct <= -s.cfg.StopLossPct {
			return true, fmt.Sprintf("stop loss triggered at %.2f%% (limit -%.2f%%)", profitPct, s.cfg.StopLossPct)
		}
	}

	if profitPct <= 0 {
		return false, fmt.Sprintf("refusing to sell at %.2f%% profit", profitPct)
	}

	switch s.cfg.TakeProfitMode {
	case TakeProfitTrailing:
		if position.TrailingStopLossPrice == nil {
			if profitPct >= s.cfg.TakeProfitPct {
				level := s.trailingExitPrice(position)
				position.TrailingStopLossPrice = &level
				return false, fmt.Sprintf("take profit target reached at %.2f%%, trailing exit armed at %.4f", profitPct, level)
			}
			return false, fmt.Sprintf("profit %.2f%% below target %.2f%%", profitPct, s.cfg.TakeProfitPct)
		}
		level := s.trailingExitPrice(position)
		if moreFavorableLevel(position, level, *position.TrailingStopLossPrice) {
			position.TrailingStopLossPrice = &level
		}
		if breached(position, currentPrice, *position.TrailingStopLossPrice) {
			return true, fmt.Sprintf("trailing exit at %.4f hit with %.2f%% profit", *position.TrailingStopLossPrice, profitPct)
		}
		return false, fmt.Sprintf("trailing exit armed at %.4f, price %.4f", *position.TrailingStopLossPrice, currentPrice)

	case TakeProfitMinimum:
		if signal == nil || !s.takeProfitConditionsMet(signal, position.Direction) {
			return false, "take profit conditions not met"
		}
		if profitPct < s.cfg.TakeProfitPct {
			return false, fmt.Sprintf("conditions met but profit %.2f%% below %.2f%% floor", profitPct, s.cfg.TakeProfitPct)
		}
		return true, fmt.Sprintf("take profit conditions met with %.2f%% profit", profitPct)

	default: // fixed
		if profitPct >= s.cfg.TakeProfitPct {
			return true, fmt.Sprintf("take profit target reached: %.2f%% >= %.2f%%", profitPct, s.cfg.TakeProfitPct)
		}
		return false, fmt.Sprintf("profit %.2f%% below target %.2f%%", profitPct, s.cfg.TakeProfitPct)
	}
}

func (s *RuleBased) safetyConditionsMet(snap indicators.Snapshot, prev indicators.Snapshot, direction string) bool {
	if s.cfg.SafetyOrderConditions.IsZero() {
		// No indicator gate configured: only the price trigger applies.
		return true
	}
	met, _ := rules.Evaluate(s.cfg.SafetyOrderConditions, snap, prev, direction)
	return met
}

func (s *RuleBased) takeProfitConditionsMet(signal *SignalResult, direction string) bool {
	if s.cfg.TakeProfitConditions.IsZero() {
		return false
	}
	met, _ := rules.Evaluate(s.cfg.TakeProfitConditions, signal.Snapshot, signal.PreviousCycle, direction)
	return met
}

// baseQuoteOf returns the quote size of the position's initial fill, the
// unit safety orders scale from.
func (s *RuleBased) baseQuoteOf(p *database.Position) float64 {
	for _, t := range p.Trades {
		if t.TradeType == database.TradeTypeInitial {
			return t.QuoteAmount
		}
	}
	if len(p.Trades) > 0 {
		return p.Trades[0].QuoteAmount
	}
	return p.TotalQuoteSpent
}

// advancePeak tracks the most favorable price seen since entry: highest for
// longs, lowest for shorts.
func (s *RuleBased) advancePeak(p *database.Position, currentPrice float64) {
	if p.HighestPriceSinceEntry == 0 {
		p.HighestPriceSinceEntry = currentPrice
		return
	}
	if p.IsLong() {
		if currentPrice > p.HighestPriceSinceEntry {
			p.HighestPriceSinceEntry = currentPrice
		}
	} else {
		if currentPrice < p.HighestPriceSinceEntry {
			p.HighestPriceSinceEntry = currentPrice
		}
	}
}

func (s *RuleBased) trailingStopPrice(p *database.Position) float64 {
	if p.IsLong() {
		return p.HighestPriceSinceEntry * (1 - s.cfg.StopLossPct/100)
	}
	return p.HighestPriceSinceEntry * (1 + s.cfg.StopLossPct/100)
}

func (s *RuleBased) trailingExitPrice(p *database.Position) float64 {
	if p.IsLong() {
		return p.HighestPriceSinceEntry * (1 - s.cfg.TrailingDeviationPct/100)
	}
	return p.HighestPriceSinceEntry * (1 + s.cfg.TrailingDeviationPct/100)
}

// breached reports whether price has fallen through the level for a long,
// or risen through it for a short.
func breached(p *database.Position, price, level float64) bool {
	if p.IsLong() {
		return price <= level
	}
	return price >= level
}

// moreFavorableLevel reports whether candidate is a tighter exit than the
// armed level: higher for longs, lower for shorts.
func moreFavorableLevel(p *database.Position, candidate, armed float64) bool {
	if p.IsLong() {
		return candidate > armed
	}
	return candidate < armed
}
