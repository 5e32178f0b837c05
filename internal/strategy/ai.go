package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"dca-trading-bot/internal/ai/llm"
	"dca-trading-bot/internal/database"
	"dca-trading-bot/internal/indicators"
)

// aiSpecs is the fixed indicator set presented to the model per timeframe.
var aiSpecs = []indicators.Spec{
	{Type: indicators.TypeRSI},
	{Type: indicators.TypeMACD},
	{Type: indicators.TypeMACDSignal},
	{Type: indicators.TypeMACDHistogram},
	{Type: indicators.TypeBBUpper},
	{Type: indicators.TypeBBLower},
	{Type: indicators.TypeBBPercent},
	{Type: indicators.TypeStochK},
	{Type: indicators.TypeEMACross},
	{Type: indicators.TypeVolumeRSI},
}

// AIAutonomous delegates the buy/sell decision to an LLM provider, wrapped
// by hard profit constraints the model cannot override.
type AIAutonomous struct {
	cfg      *AIConfig
	analyzer *llm.Analyzer
	engine   *indicators.Engine
	logger   zerolog.Logger
}

// NewAIAutonomous creates an AI-autonomous strategy from a validated config
func NewAIAutonomous(cfg *AIConfig, analyzer *llm.Analyzer, logger zerolog.Logger) *AIAutonomous {
	return &AIAutonomous{
		cfg:      cfg,
		analyzer: analyzer,
		engine:   indicators.NewEngine(),
		logger:   logger.With().Str("component", "ai_strategy").Logger(),
	}
}

// Name returns the strategy name
func (s *AIAutonomous) Name() string {
	return TypeAIAutonomous
}

// Timeframes returns the configured analysis timeframes
func (s *AIAutonomous) Timeframes() []string {
	return s.cfg.Timeframes
}

// AnalyzeSignal computes the snapshot and asks the provider for a decision.
// Provider and parse failures yield a nil result: the caller then applies
// the failsafe for open positions instead of treating it as an error.
func (s *AIAutonomous) AnalyzeSignal(ctx context.Context, in AnalyzeInput) (*SignalResult, error) {
	snap := make(indicators.Snapshot)
	for _, tf := range s.cfg.Timeframes {
		series, ok := in.Candles[tf]
		if !ok {
			s.logger.Debug().Str("product", in.ProductID).Str("timeframe", tf).Msg("skipping cycle, no candles")
			return nil, nil
		}
		tfSnap, err := s.engine.Compute(series, tf, aiSpecs)
		if err != nil {
			if errors.Is(err, indicators.ErrInsufficientData) {
				s.logger.Debug().Str("product", in.ProductID).Msg("skipping cycle, insufficient candle data")
				return nil, nil
			}
			return nil, err
		}
		snap.Merge(tfSnap)
	}

	prompt := llm.BuildDecisionPrompt(in.ProductID, in.CurrentPrice, map[string]float64(snap), positionSummary(in.Position, in.CurrentPrice))

	decision, err := s.analyzer.Analyze(ctx, prompt)
	if err != nil {
		// Never fatal: an unreachable provider means no decision, and the
		// failsafe covers any profitable open position.
		s.logger.Warn().Err(err).Str("product", in.ProductID).Msg("AI analysis failed")
		return nil, nil
	}

	s.logger.Info().
		Str("product", in.ProductID).
		Str("action", decision.Action).
		Float64("confidence", decision.Confidence).
		Msg("AI decision received")

	direction := database.DirectionLong
	if in.Position != nil {
		direction = in.Position.Direction
	}
	return &SignalResult{
		Snapshot:     snap,
		CurrentPrice: in.CurrentPrice,
		Direction:    direction,
		Decision:     decision,
	}, nil
}

// ShouldBuy admits a buy only for a confident AI buy decision, spending the
// suggested share of the available budget capped by the configured maximum.
func (s *AIAutonomous) ShouldBuy(signal *SignalResult, position *database.Position, availableBudget float64) (bool, float64, string) {
	if signal == nil || signal.Decision == nil {
		return false, 0, "no AI decision this cycle"
	}
	d := signal.Decision
	if d.Action != llm.ActionBuy {
		return false, 0, fmt.Sprintf("AI action is %s", d.Action)
	}
	if d.Confidence < s.cfg.MinConfidence {
		return false, 0, fmt.Sprintf("AI confidence %.2f below %.2f threshold", d.Confidence, s.cfg.MinConfidence)
	}

	allocPct := d.SuggestedAllocationPct
	if allocPct <= 0 {
		allocPct = 10
	}
	if allocPct > s.cfg.MaxAllocationPct {
		allocPct = s.cfg.MaxAllocationPct
	}
	quote := availableBudget * allocPct / 100
	if quote <= 0 {
		return false, 0, "no budget available for AI buy"
	}

	if position != nil {
		remaining := position.MaxQuoteAllowed - position.TotalQuoteSpent
		if quote > remaining {
			quote = remaining
		}
		if quote <= 0 {
			return false, 0, "position budget exhausted"
		}
	}
	return true, quote, fmt.Sprintf("AI buy at %.2f confidence: %s", d.Confidence, d.Reasoning)
}

// ShouldSell honors a confident AI sell decision, subject to the stop-loss
// override and the never-sell-at-loss floor.
func (s *AIAutonomous) ShouldSell(signal *SignalResult, position *database.Position, currentPrice float64, _ MarketContext) (bool, string) {
	if position == nil || position.TotalBaseAcquired <= 0 {
		return false, "no position to sell"
	}
	profitPct := position.ProfitPercent(currentPrice)

	if s.cfg.StopLossPct > 0 && profitPct <= -s.cfg.StopLossPct {
		return true, fmt.Sprintf("stop loss triggered at %.2f%% (limit -%.2f%%)", profitPct, s.cfg.StopLossPct)
	}

	if signal == nil || signal.Decision == nil {
		// No reachable decision: the failsafe path owns this case.
		return s.Failsafe(position, currentPrice)
	}
	d := signal.Decision
	if d.Action != llm.ActionSell {
		return false, fmt.Sprintf("AI action is %s", d.Action)
	}
	if d.Confidence < s.cfg.MinConfidence {
		return false, fmt.Sprintf("AI confidence %.2f below %.2f threshold", d.Confidence, s.cfg.MinConfidence)
	}
	if profitPct <= 0 {
		return false, fmt.Sprintf("refusing AI sell at %.2f%% profit", profitPct)
	}
	if profitPct < s.cfg.MinProfitPct {
		return false, fmt.Sprintf("profit %.2f%% below %.2f%% minimum", profitPct, s.cfg.MinProfitPct)
	}
	return true, fmt.Sprintf("AI sell at %.2f confidence with %.2f%% profit: %s", d.Confidence, profitPct, d.Reasoning)
}

// Failsafe is the protective exit used when the AI provider is unreachable:
// sell if and only if the position is already profitable above the minimum.
// A struggling provider must never strand a profitable position, and must
// never cause a sale at a loss either.
func (s *AIAutonomous) Failsafe(position *database.Position, currentPrice float64) (bool, string) {
	if position == nil || position.TotalBaseAcquired <= 0 {
		return false, "no position to protect"
	}
	profitPct := position.ProfitPercent(currentPrice)
	if profitPct > 0 && profitPct >= s.cfg.MinProfitPct {
		return true, fmt.Sprintf("failsafe sell: AI unreachable with %.2f%% profit secured", profitPct)
	}
	return false, fmt.Sprintf("failsafe hold: profit %.2f%% below %.2f%% minimum", profitPct, s.cfg.MinProfitPct)
}

func positionSummary(p *database.Position, currentPrice float64) *llm.PositionSummary {
	if p == nil {
		return nil
	}
	return &llm.PositionSummary{
		Direction:       p.Direction,
		TradeCount:      len(p.Trades),
		AverageBuyPrice: p.AverageBuyPrice,
		TotalQuoteSpent: p.TotalQuoteSpent,
		MaxQuoteAllowed: p.MaxQuoteAllowed,
		ProfitPct:       p.ProfitPercent(currentPrice),
	}
}
