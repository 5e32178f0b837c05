package strategy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"dca-trading-bot/internal/ai/llm"
	"dca-trading-bot/internal/database"
	"dca-trading-bot/internal/exchange"
	"dca-trading-bot/internal/indicators"
	"dca-trading-bot/internal/rules"
)

// Strategy type constants
const (
	TypeRuleBased    = "rule_based"
	TypeAIAutonomous = "ai_autonomous"
)

// Strategy is the common contract both engine variants implement
type Strategy interface {
	// Name returns the strategy name
	Name() string

	// Timeframes returns every candle timeframe the strategy needs; the
	// scheduler derives the check interval from the shortest one.
	Timeframes() []string

	// AnalyzeSignal computes an indicator snapshot from the candles and
	// evaluates it. A nil result with nil error means "no decision this
	// cycle" (insufficient data, or an unreachable AI provider).
	AnalyzeSignal(ctx context.Context, in AnalyzeInput) (*SignalResult, error)

	// ShouldBuy decides whether to place a buy and for how much quote.
	// A nil position means the buy would open a new position.
	ShouldBuy(signal *SignalResult, position *database.Position, availableBudget float64) (bool, float64, string)

	// ShouldSell decides whether to close the position at the current price.
	ShouldSell(signal *SignalResult, position *database.Position, currentPrice float64, market MarketContext) (bool, string)
}

// AnalyzeInput carries one evaluation cycle's market view into a strategy
type AnalyzeInput struct {
	ProductID     string
	Candles       map[string][]exchange.Candle // keyed by timeframe
	CurrentPrice  float64
	Position      *database.Position
	PreviousCycle indicators.Snapshot // snapshot saved at the end of the last cycle
}

// SignalResult is the outcome of one AnalyzeSignal call
type SignalResult struct {
	Snapshot indicators.Snapshot
	// PreviousCycle is the snapshot the analysis was given for crossing
	// detection, carried along so per-leg condition checks see the same
	// history the entry evaluation did.
	PreviousCycle indicators.Snapshot
	CurrentPrice  float64

	// Direction is the entry direction a new position would take.
	Direction string

	// BaseOrderMet reports that the entry conditions fired for Direction.
	BaseOrderMet bool

	// NeutralZone is set when a bidirectional bot's long and short entry
	// signals fired in the same cycle; no entry is allowed this cycle.
	NeutralZone bool

	Details []rules.ConditionDetail

	// Decision is set by the AI strategy only.
	Decision *llm.Decision
}

// MarketContext carries optional live market state into sell decisions
type MarketContext struct {
	Ticker *exchange.Ticker
}

// New builds the strategy for a bot, parsing and validating its typed
// configuration once. Configuration errors are returned here so a
// misconfigured bot is rejected before it is ever scheduled.
func New(bot *database.Bot, analyzer *llm.Analyzer, logger zerolog.Logger) (Strategy, error) {
	switch bot.StrategyType {
	case TypeRuleBased:
		cfg, err := ParseRuleBasedConfig(bot.StrategyConfig)
		if err != nil {
			return nil, fmt.Errorf("bot %d: %w", bot.ID, err)
		}
		return NewRuleBased(cfg, logger), nil
	case TypeAIAutonomous:
		cfg, err := ParseAIConfig(bot.StrategyConfig)
		if err != nil {
			return nil, fmt.Errorf("bot %d: %w", bot.ID, err)
		}
		return NewAIAutonomous(cfg, analyzer, logger), nil
	default:
		return nil, fmt.Errorf("bot %d: unsupported strategy type %q", bot.ID, bot.StrategyType)
	}
}
