package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Decision action constants
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// Decision is the parsed output of one trading analysis call
type Decision struct {
	Action                 string  `json:"action"`
	Confidence             float64 `json:"confidence"`
	Reasoning              string  `json:"reasoning"`
	SuggestedAllocationPct float64 `json:"suggested_allocation_pct"`
}

// Validate checks that the decision is usable
func (d *Decision) Validate() error {
	switch d.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %.2f out of range", d.Confidence)
	}
	if d.SuggestedAllocationPct < 0 || d.SuggestedAllocationPct > 100 {
		return fmt.Errorf("suggested allocation %.2f%% out of range", d.SuggestedAllocationPct)
	}
	return nil
}

// stripMarkdownCodeBlock removes markdown code block formatting from LLM responses
// Handles formats like: ```json\n{...}\n``` or ```\n{...}\n```
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)

	re := regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")
	if matches := re.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	return response
}

// Analyzer wraps the LLM client behind the single trading-decision call
type Analyzer struct {
	client *Client
}

// NewAnalyzer creates a new analyzer
func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client}
}

// IsConfigured reports whether the underlying client has credentials
func (a *Analyzer) IsConfigured() bool {
	return a.client.IsConfigured()
}

// Analyze asks the provider for one trading decision. Any transport, API or
// parse failure is returned as an error; callers treat it as "no decision"
// and apply their own failsafe.
func (a *Analyzer) Analyze(ctx context.Context, prompt string) (*Decision, error) {
	if !a.client.IsConfigured() {
		return nil, fmt.Errorf("LLM client not configured")
	}

	response, err := a.client.Complete(ctx, SystemPromptTradingDecision, prompt)
	if err != nil {
		return nil, fmt.Errorf("LLM request failed: %w", err)
	}

	cleanResponse := stripMarkdownCodeBlock(response)

	var decision Decision
	if err := json.Unmarshal([]byte(cleanResponse), &decision); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response: %w", err)
	}
	decision.Action = strings.ToLower(strings.TrimSpace(decision.Action))

	if err := decision.Validate(); err != nil {
		return nil, fmt.Errorf("invalid LLM decision: %w", err)
	}
	return &decision, nil
}
