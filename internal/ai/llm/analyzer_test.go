package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStripMarkdownCodeBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"json fence", "```json\n{\"action\": \"buy\"}\n```", `{"action": "buy"}`},
		{"bare fence", "```\n{\"action\": \"hold\"}\n```", `{"action": "hold"}`},
		{"no fence", `{"action": "sell"}`, `{"action": "sell"}`},
		{"surrounding whitespace", "  ```json\n{}\n```  ", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stripMarkdownCodeBlock(tt.input)
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDecisionValidate(t *testing.T) {
	valid := Decision{Action: ActionBuy, Confidence: 0.8, SuggestedAllocationPct: 25}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid decision rejected: %v", err)
	}

	tests := []struct {
		name string
		d    Decision
	}{
		{"unknown action", Decision{Action: "short", Confidence: 0.5}},
		{"confidence above 1", Decision{Action: ActionHold, Confidence: 1.5}},
		{"negative confidence", Decision{Action: ActionHold, Confidence: -0.1}},
		{"allocation above 100", Decision{Action: ActionBuy, Confidence: 0.5, SuggestedAllocationPct: 150}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.d.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDecisionParsing(t *testing.T) {
	raw := stripMarkdownCodeBlock("```json\n{\"action\": \"BUY\", \"confidence\": 0.72, \"reasoning\": \"oversold\", \"suggested_allocation_pct\": 30}\n```")
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	d.Action = strings.ToLower(d.Action)
	if err := d.Validate(); err != nil {
		t.Errorf("parsed decision invalid: %v", err)
	}
	if d.SuggestedAllocationPct != 30 {
		t.Errorf("expected allocation 30, got %v", d.SuggestedAllocationPct)
	}
}

func TestBuildDecisionPrompt(t *testing.T) {
	snapshot := map[string]float64{
		"1h_rsi_14": 28.4,
		"1h_price":  104500,
	}
	prompt := BuildDecisionPrompt("BTC-USD", 104500, snapshot, &PositionSummary{
		Direction:       "long",
		TradeCount:      2,
		AverageBuyPrice: 106000,
		TotalQuoteSpent: 300,
		MaxQuoteAllowed: 500,
		ProfitPct:       -1.4,
	})

	for _, want := range []string{"BTC-USD", "1h_rsi_14", "Average buy price", "300.00 of 500.00"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	noPos := BuildDecisionPrompt("BTC-USD", 104500, snapshot, nil)
	if !strings.Contains(noPos, "Position: none") {
		t.Error("prompt should state that no position is open")
	}
}
