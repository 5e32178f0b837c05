package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dca-trading-bot/internal/cache"
	"dca-trading-bot/internal/database"
	"dca-trading-bot/internal/exchange"
)

// ============================================================================
// ERRORS
// ============================================================================

// Declines carry one of these sentinels so callers can classify the reason
// while the wrapped message stays operator-readable.
var (
	ErrMaxDealsReached    = errors.New("max concurrent deals reached")
	ErrCooldownActive     = errors.New("deal cooldown active")
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrBelowMinimum       = errors.New("amount below exchange minimum")
)

// ============================================================================
// STORE PORT
// ============================================================================

// Store is the slice of the repository the allocator needs.
type Store interface {
	GetActiveBots(ctx context.Context) ([]*database.Bot, error)
	GetOpenPositions(ctx context.Context) ([]*database.Position, error)
	GetOpenPositionsByBot(ctx context.Context, botID int64) ([]*database.Position, error)
	CountOpenPositions(ctx context.Context, botID int64) (int, error)
	LastCloseTime(ctx context.Context, botID int64, productID string) (*time.Time, error)
	UpdateBotReservations(ctx context.Context, botID int64, usdForLongs, btcForShorts float64) error
}

var _ Store = (*database.Repository)(nil)

// ============================================================================
// ALLOCATOR
// ============================================================================

// Config tunes the allocator.
type Config struct {
	MinOrderFunds float64       // exchange minimum order size in quote currency
	CacheTTL      time.Duration // aggregate value cache lifetime
}

// Allocator computes per-position spending budgets from the account's
// aggregate value and enforces admission control. Bot.BudgetPercentage is a
// percentage in [0,100]. Aggregate value lookups are served from a short-TTL
// cache unless the caller explicitly bypasses it.
type Allocator struct {
	store  Store
	client exchange.Client
	cache  cache.Store
	cfg    Config
	logger zerolog.Logger
}

func NewAllocator(store Store, client exchange.Client, cacheStore cache.Store, cfg Config, logger zerolog.Logger) *Allocator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &Allocator{
		store:  store,
		client: client,
		cache:  cacheStore,
		cfg:    cfg,
		logger: logger.With().Str("component", "budget_allocator").Logger(),
	}
}

// AggregateValue returns the account's total value denominated in
// quoteCurrency: free balance plus the mark value of every open position
// whose pair settles in that currency. bypassCache forces a fresh
// computation and refreshes the cache entry.
func (a *Allocator) AggregateValue(ctx context.Context, botID int64, quoteCurrency string, bypassCache bool) (float64, error) {
	key := cache.AggregateValueKey(botID, quoteCurrency)
	if !bypassCache {
		var cached float64
		if err := a.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	balances, err := a.client.GetAccountBalances(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching account balances: %w", err)
	}

	total := decimal.Zero
	for _, b := range balances {
		if strings.EqualFold(b.Currency, quoteCurrency) {
			total = total.Add(decimal.NewFromFloat(b.Available))
		}
	}

	positions, err := a.store.GetOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading open positions: %w", err)
	}
	prices := map[string]float64{}
	for _, p := range positions {
		_, quote := splitProduct(p.ProductID)
		if !strings.EqualFold(quote, quoteCurrency) {
			continue
		}
		price, ok := prices[p.ProductID]
		if !ok {
			price, err = a.client.GetCurrentPrice(ctx, p.ProductID)
			if err != nil {
				return 0, fmt.Errorf("pricing %s: %w", p.ProductID, err)
			}
			prices[p.ProductID] = price
		}
		mark := decimal.NewFromFloat(p.TotalBaseAcquired).Mul(decimal.NewFromFloat(price))
		total = total.Add(mark)
	}

	value := total.InexactFloat64()
	if err := a.cache.Set(ctx, key, value, a.cfg.CacheTTL); err != nil {
		a.logger.Debug().Err(err).Str("key", key).Msg("aggregate value cache write failed")
	}
	return value, nil
}

// PerPositionBudget is the quote amount one deal may draw. The base is the
// bot's fixed allocation in its quote currency when the operator pinned one,
// otherwise aggregate value times the bot's budget percentage. The base is
// divided across max_concurrent_deals when the bot splits its budget per
// pair.
func (a *Allocator) PerPositionBudget(ctx context.Context, bot *database.Bot, bypassCache bool) (float64, error) {
	base := decimal.NewFromFloat(fixedAllocation(bot))
	if !base.IsPositive() {
		aggregate, err := a.AggregateValue(ctx, bot.ID, bot.QuoteCurrency, bypassCache)
		if err != nil {
			return 0, err
		}
		base = decimal.NewFromFloat(aggregate).
			Mul(decimal.NewFromFloat(bot.BudgetPercentage)).
			Div(decimal.NewFromInt(100))
	}
	return splitAcrossDeals(base, bot).InexactFloat64(), nil
}

// AvailableBudget returns how much quote currency the given (bot, product)
// slot may still spend on a leg in the given direction. With an open position
// the headroom is the position's own max_quote_allowed minus what it already
// spent; without one it is the per-leg budget minus spend by open positions
// on the same pair and direction.
func (a *Allocator) AvailableBudget(ctx context.Context, bot *database.Bot, position *database.Position, productID, direction string, bypassCache bool) (float64, error) {
	if position != nil {
		remaining := decimal.NewFromFloat(position.MaxQuoteAllowed).
			Sub(decimal.NewFromFloat(position.TotalQuoteSpent))
		if remaining.IsNegative() {
			return 0, nil
		}
		return remaining.InexactFloat64(), nil
	}

	perLeg, err := a.perLegBudget(ctx, bot, productID, direction, bypassCache)
	if err != nil {
		return 0, err
	}

	open, err := a.store.GetOpenPositionsByBot(ctx, bot.ID)
	if err != nil {
		return 0, fmt.Errorf("loading bot positions: %w", err)
	}
	available := decimal.NewFromFloat(perLeg)
	for _, p := range open {
		if p.ProductID == productID && sameDirection(p.Direction, direction) {
			available = available.Sub(decimal.NewFromFloat(p.TotalQuoteSpent))
		}
	}
	if available.IsNegative() {
		return 0, nil
	}
	return available.InexactFloat64(), nil
}

// perLegBudget sizes one deal for a direction. Bidirectional pots take
// precedence: longs draw from the USD reservation, shorts from the BTC
// reservation marked to the pair's current price so the result stays in
// quote terms. Bots without pots fall back to the shared per-position budget.
func (a *Allocator) perLegBudget(ctx context.Context, bot *database.Bot, productID, direction string, bypassCache bool) (float64, error) {
	switch {
	case direction == database.DirectionShort && bot.ReservedBTCForShorts > 0:
		price, err := a.client.GetCurrentPrice(ctx, productID)
		if err != nil {
			return 0, fmt.Errorf("pricing %s: %w", productID, err)
		}
		pot := decimal.NewFromFloat(bot.ReservedBTCForShorts).
			Mul(decimal.NewFromFloat(price))
		return splitAcrossDeals(pot, bot).InexactFloat64(), nil
	case direction != database.DirectionShort && bot.ReservedUSDForLongs > 0:
		pot := decimal.NewFromFloat(bot.ReservedUSDForLongs)
		return splitAcrossDeals(pot, bot).InexactFloat64(), nil
	default:
		return a.PerPositionBudget(ctx, bot, bypassCache)
	}
}

func splitAcrossDeals(amount decimal.Decimal, bot *database.Bot) decimal.Decimal {
	if bot.SplitBudgetAcrossPairs && bot.MaxConcurrentDeals > 0 {
		return amount.Div(decimal.NewFromInt(int64(bot.MaxConcurrentDeals)))
	}
	return amount
}

// fixedAllocation returns the operator-pinned budget base in the bot's quote
// currency, zero when the bot budgets by percentage.
func fixedAllocation(bot *database.Bot) float64 {
	switch strings.ToUpper(bot.QuoteCurrency) {
	case "BTC":
		return bot.ReservedBTCBalance
	case "USD":
		return bot.ReservedUSDBalance
	default:
		return 0
	}
}

// sameDirection treats an unset direction as long; legacy rows predate the
// direction column.
func sameDirection(a, b string) bool {
	if a == "" {
		a = database.DirectionLong
	}
	if b == "" {
		b = database.DirectionLong
	}
	return a == b
}

// AdmitNewDeal decides whether a new position may be opened. The returned
// error message names the limit that blocked admission.
func (a *Allocator) AdmitNewDeal(ctx context.Context, bot *database.Bot, productID string, now time.Time) error {
	open, err := a.store.CountOpenPositions(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("counting open positions: %w", err)
	}
	if bot.MaxConcurrentDeals > 0 && open >= bot.MaxConcurrentDeals {
		return fmt.Errorf("%w: %d of %d deals open", ErrMaxDealsReached, open, bot.MaxConcurrentDeals)
	}

	if bot.DealCooldownSeconds > 0 {
		lastClose, err := a.store.LastCloseTime(ctx, bot.ID, productID)
		if err != nil {
			return fmt.Errorf("checking last close time: %w", err)
		}
		if lastClose != nil {
			cooldown := time.Duration(bot.DealCooldownSeconds) * time.Second
			elapsed := now.Sub(*lastClose)
			if elapsed < cooldown {
				remaining := (cooldown - elapsed).Round(time.Second)
				return fmt.Errorf("%w: %s remaining on %s", ErrCooldownActive, remaining, productID)
			}
		}
	}
	return nil
}

// ValidateOrderFunds checks a computed quote amount against the budget and
// the exchange minimum. Amounts that fail are never rounded up; the caller
// gets a decline with the numbers spelled out.
func (a *Allocator) ValidateOrderFunds(amount, available float64) error {
	if amount <= 0 || amount > available {
		return fmt.Errorf("%w: requested %.2f with %.2f available", ErrInsufficientBudget, amount, available)
	}
	if amount < a.cfg.MinOrderFunds {
		return fmt.Errorf("%w: %.2f below minimum order size %.2f", ErrBelowMinimum, amount, a.cfg.MinOrderFunds)
	}
	return nil
}

// InvalidateCache drops the cached aggregate value for a bot. Called on bot
// budget edits and reservation recomputes.
func (a *Allocator) InvalidateCache(ctx context.Context, botID int64, quoteCurrency string) {
	if err := a.cache.Invalidate(ctx, cache.AggregateValueKey(botID, quoteCurrency)); err != nil {
		a.logger.Debug().Err(err).Int64("bot_id", botID).Msg("cache invalidation failed")
	}
}

// splitProduct splits "BTC-USD" into base and quote currencies.
func splitProduct(productID string) (base, quote string) {
	parts := strings.SplitN(productID, "-", 2)
	if len(parts) != 2 {
		return productID, ""
	}
	return parts[0], parts[1]
}
