package budget

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dca-trading-bot/internal/database"
)

// Bidirectional bots pre-reserve a USD pot for long entries and a BTC pot
// for short entries. Reservations are recomputed only when a bot is created
// or its budget edited, always with the cache bypassed, and validated
// against what every other active bot has already reserved.

// Reservations is one bot's bidirectional allocation.
type Reservations struct {
	USDForLongs  float64 `json:"usd_for_longs"`
	BTCForShorts float64 `json:"btc_for_shorts"`
}

// ComputeReservations derives the long/short pots from the bot's aggregate
// values: aggregate × budget% × leg-split%. Split percentages come from the
// bot's strategy config and are expressed in [0,100].
func (a *Allocator) ComputeReservations(ctx context.Context, bot *database.Bot, longSplitPct, shortSplitPct float64) (Reservations, error) {
	aggUSD, err := a.AggregateValue(ctx, bot.ID, "USD", true)
	if err != nil {
		return Reservations{}, fmt.Errorf("aggregate USD value: %w", err)
	}
	aggBTC, err := a.AggregateValue(ctx, bot.ID, "BTC", true)
	if err != nil {
		return Reservations{}, fmt.Errorf("aggregate BTC value: %w", err)
	}

	budgetPct := decimal.NewFromFloat(bot.BudgetPercentage).Div(decimal.NewFromInt(100))
	usd := decimal.NewFromFloat(aggUSD).
		Mul(budgetPct).
		Mul(decimal.NewFromFloat(longSplitPct)).
		Div(decimal.NewFromInt(100))
	btc := decimal.NewFromFloat(aggBTC).
		Mul(budgetPct).
		Mul(decimal.NewFromFloat(shortSplitPct)).
		Div(decimal.NewFromInt(100))

	return Reservations{
		USDForLongs:  usd.InexactFloat64(),
		BTCForShorts: btc.InexactFloat64(),
	}, nil
}

// ValidateReservations checks that the requested pots fit within the free
// balances after subtracting every other active bot's reservations.
func (a *Allocator) ValidateReservations(ctx context.Context, bot *database.Bot, r Reservations) error {
	balances, err := a.client.GetAccountBalances(ctx)
	if err != nil {
		return fmt.Errorf("fetching account balances: %w", err)
	}
	freeUSD, freeBTC := decimal.Zero, decimal.Zero
	for _, b := range balances {
		switch strings.ToUpper(b.Currency) {
		case "USD":
			freeUSD = freeUSD.Add(decimal.NewFromFloat(b.Available))
		case "BTC":
			freeBTC = freeBTC.Add(decimal.NewFromFloat(b.Available))
		}
	}

	bots, err := a.store.GetActiveBots(ctx)
	if err != nil {
		return fmt.Errorf("loading active bots: %w", err)
	}
	otherUSD, otherBTC := decimal.Zero, decimal.Zero
	for _, other := range bots {
		if other.ID == bot.ID {
			continue
		}
		otherUSD = otherUSD.Add(decimal.NewFromFloat(other.ReservedUSDForLongs))
		otherBTC = otherBTC.Add(decimal.NewFromFloat(other.ReservedBTCForShorts))
	}

	availUSD := freeUSD.Sub(otherUSD)
	availBTC := freeBTC.Sub(otherBTC)
	reqUSD := decimal.NewFromFloat(r.USDForLongs)
	reqBTC := decimal.NewFromFloat(r.BTCForShorts)

	if reqUSD.GreaterThan(availUSD) {
		return fmt.Errorf("%w: long reservation %.2f USD exceeds %.2f available after other bots",
			ErrInsufficientBudget, r.USDForLongs, availUSD.InexactFloat64())
	}
	if reqBTC.GreaterThan(availBTC) {
		return fmt.Errorf("%w: short reservation %.8f BTC exceeds %.8f available after other bots",
			ErrInsufficientBudget, r.BTCForShorts, availBTC.InexactFloat64())
	}
	return nil
}

// ApplyReservations computes, validates and persists the bot's bidirectional
// pots, then drops the stale aggregate cache entries.
func (a *Allocator) ApplyReservations(ctx context.Context, bot *database.Bot, longSplitPct, shortSplitPct float64) (Reservations, error) {
	r, err := a.ComputeReservations(ctx, bot, longSplitPct, shortSplitPct)
	if err != nil {
		return Reservations{}, err
	}
	if err := a.ValidateReservations(ctx, bot, r); err != nil {
		return Reservations{}, err
	}
	if err := a.store.UpdateBotReservations(ctx, bot.ID, r.USDForLongs, r.BTCForShorts); err != nil {
		return Reservations{}, fmt.Errorf("persisting reservations: %w", err)
	}
	bot.ReservedUSDForLongs = r.USDForLongs
	bot.ReservedBTCForShorts = r.BTCForShorts
	a.InvalidateCache(ctx, bot.ID, "USD")
	a.InvalidateCache(ctx, bot.ID, "BTC")

	a.logger.Info().
		Int64("bot_id", bot.ID).
		Float64("usd_for_longs", r.USDForLongs).
		Float64("btc_for_shorts", r.BTCForShorts).
		Msg("bidirectional reservations applied")
	return r, nil
}

// ReleaseReservations zeroes a bot's pots when bidirectional mode is turned
// off or the bot is deleted.
func (a *Allocator) ReleaseReservations(ctx context.Context, bot *database.Bot) error {
	if err := a.store.UpdateBotReservations(ctx, bot.ID, 0, 0); err != nil {
		return fmt.Errorf("releasing reservations: %w", err)
	}
	bot.ReservedUSDForLongs = 0
	bot.ReservedBTCForShorts = 0
	a.InvalidateCache(ctx, bot.ID, "USD")
	a.InvalidateCache(ctx, bot.ID, "BTC")
	return nil
}
