package strategy

import (
	"testing"

	"github.com/rs/zerolog"

	"dca-trading-bot/internal/ai/llm"
)

func testAIStrategy(t *testing.T, mutate func(*AIConfig)) *AIAutonomous {
	t.Helper()
	cfg := &AIConfig{}
	cfg.ApplyDefaults()
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return NewAIAutonomous(cfg, llm.NewAnalyzer(llm.NewClient(nil)), zerolog.Nop())
}

func aiSignal(action string, confidence, allocationPct float64) *SignalResult {
	return &SignalResult{
		CurrentPrice: 100,
		Decision: &llm.Decision{
			Action:                 action,
			Confidence:             confidence,
			Reasoning:              "test",
			SuggestedAllocationPct: allocationPct,
		},
	}
}

func TestAIShouldBuy(t *testing.T) {
	s := testAIStrategy(t, nil)

	ok, quote, reason := s.ShouldBuy(aiSignal(llm.ActionBuy, 0.8, 30), nil, 500)
	if !ok {
		t.Fatalf("confident buy declined: %s", reason)
	}
	if !almostEqual(quote, 150) {
		t.Errorf("30%% of 500 should be 150, got %v", quote)
	}

	if ok, _, _ := s.ShouldBuy(aiSignal(llm.ActionBuy, 0.4, 30), nil, 500); ok {
		t.Error("buy admitted below the confidence threshold")
	}
	if ok, _, _ := s.ShouldBuy(aiSignal(llm.ActionHold, 0.9, 30), nil, 500); ok {
		t.Error("hold decision produced a buy")
	}
	if ok, _, _ := s.ShouldBuy(nil, nil, 500); ok {
		t.Error("missing decision produced a buy")
	}
}

func TestAIShouldBuyClampsAllocation(t *testing.T) {
	s := testAIStrategy(t, func(c *AIConfig) { c.MaxAllocationPct = 20 })

	ok, quote, _ := s.ShouldBuy(aiSignal(llm.ActionBuy, 0.9, 80), nil, 500)
	if !ok {
		t.Fatal("expected clamped buy")
	}
	if !almostEqual(quote, 100) {
		t.Errorf("allocation should clamp to 20%% of 500 = 100, got %v", quote)
	}
}

func TestAIShouldSellNeverAtLoss(t *testing.T) {
	s := testAIStrategy(t, nil)
	pos := openPosition(100, 50, 500)

	// Even a fully confident sell is refused at a loss.
	ok, reason := s.ShouldSell(aiSignal(llm.ActionSell, 1.0, 0), pos, 95, MarketContext{})
	if ok {
		t.Errorf("AI sell executed at a loss: %s", reason)
	}

	ok, reason = s.ShouldSell(aiSignal(llm.ActionSell, 0.9, 0), pos, 103, MarketContext{})
	if !ok {
		t.Errorf("profitable confident sell declined: %s", reason)
	}
}

func TestAIShouldSellMinProfitFloor(t *testing.T) {
	s := testAIStrategy(t, func(c *AIConfig) { c.MinProfitPct = 2 })
	pos := openPosition(100, 50, 500)

	if ok, _ := s.ShouldSell(aiSignal(llm.ActionSell, 0.9, 0), pos, 101, MarketContext{}); ok {
		t.Error("sell admitted below the minimum profit floor")
	}
}

func TestAIStopLossOverride(t *testing.T) {
	s := testAIStrategy(t, func(c *AIConfig) { c.StopLossPct = 5 })
	pos := openPosition(100, 50, 500)

	// The stop loss fires regardless of what the model says.
	ok, reason := s.ShouldSell(aiSignal(llm.ActionHold, 0.9, 0), pos, 94, MarketContext{})
	if !ok {
		t.Errorf("stop loss did not override the AI hold: %s", reason)
	}
}

func TestAIFailsafe(t *testing.T) {
	s := testAIStrategy(t, func(c *AIConfig) { c.MinProfitPct = 1 })
	pos := openPosition(100, 50, 500)

	// Profitable above the minimum: protect the gain.
	ok, reason := s.Failsafe(pos, 102)
	if !ok {
		t.Errorf("failsafe did not protect a profitable position: %s", reason)
	}

	// At a loss: never sell.
	if ok, _ := s.Failsafe(pos, 98); ok {
		t.Error("failsafe sold at a loss")
	}

	// Profitable but under the minimum: hold.
	if ok, _ := s.Failsafe(pos, 100.5); ok {
		t.Error("failsafe sold below the minimum profit")
	}

	// ShouldSell without a decision falls through to the failsafe.
	ok, _ = s.ShouldSell(nil, pos, 102, MarketContext{})
	if !ok {
		t.Error("decisionless ShouldSell should apply the failsafe")
	}
}
