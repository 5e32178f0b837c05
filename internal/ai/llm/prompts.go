package llm

import (
	"fmt"
	"sort"
	"strings"
)

// SystemPromptTradingDecision instructs the model to act as a DCA position
// manager and constrains the output to the decision JSON schema.
const SystemPromptTradingDecision = `You are an expert cryptocurrency position manager for an unattended dollar-cost-averaging trading bot. You receive a snapshot of technical indicators and the state of the current position, and you decide the next action.

Your response must be valid JSON with exactly this structure:
{
  "action": "buy" | "sell" | "hold",
  "confidence": 0.0-1.0,
  "reasoning": "brief explanation",
  "suggested_allocation_pct": 0-100
}

Rules:
- "buy" opens a new position or averages into the existing one; "suggested_allocation_pct" is the share of the remaining position budget to spend.
- "sell" closes the entire position at market.
- Never recommend "sell" when the position is at a loss; prefer "hold" or "buy".
- Be conservative with confidence. Only report confidence above 0.7 when multiple indicators align.
- Respond with the JSON object only, no surrounding text.`

// BuildDecisionPrompt renders the indicator snapshot and position state into
// the user prompt for one decision call.
func BuildDecisionPrompt(productID string, currentPrice float64, snapshot map[string]float64, position *PositionSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Product: %s\n", productID)
	fmt.Fprintf(&b, "Current price: %.8f\n\n", currentPrice)

	b.WriteString("Technical indicators:\n")
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %.6f\n", k, snapshot[k])
	}

	b.WriteString("\n")
	if position == nil {
		b.WriteString("Position: none (a buy would open a new position)\n")
	} else {
		fmt.Fprintf(&b, "Position: %s, opened with %d fill(s)\n", position.Direction, position.TradeCount)
		fmt.Fprintf(&b, "  Average buy price: %.8f\n", position.AverageBuyPrice)
		fmt.Fprintf(&b, "  Quote spent: %.2f of %.2f allowed\n", position.TotalQuoteSpent, position.MaxQuoteAllowed)
		fmt.Fprintf(&b, "  Unrealized profit: %.2f%%\n", position.ProfitPct)
	}

	b.WriteString("\nDecide the next action.")
	return b.String()
}

// PositionSummary is the position state included in the decision prompt
type PositionSummary struct {
	Direction       string
	TradeCount      int
	AverageBuyPrice float64
	TotalQuoteSpent float64
	MaxQuoteAllowed float64
	ProfitPct       float64
}
