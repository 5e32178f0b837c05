package budget

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dca-trading-bot/internal/cache"
	"dca-trading-bot/internal/database"
	"dca-trading-bot/internal/exchange"
)

// fakeStore is an in-memory Store for allocator tests.
type fakeStore struct {
	bots          []*database.Bot
	positions     []*database.Position
	lastClose     *time.Time
	savedUSD      float64
	savedBTC      float64
	updatedBotIDs []int64
}

func (f *fakeStore) GetActiveBots(_ context.Context) ([]*database.Bot, error) {
	return f.bots, nil
}

func (f *fakeStore) GetOpenPositions(_ context.Context) ([]*database.Position, error) {
	return f.positions, nil
}

func (f *fakeStore) GetOpenPositionsByBot(_ context.Context, botID int64) ([]*database.Position, error) {
	var out []*database.Position
	for _, p := range f.positions {
		if p.BotID == botID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) CountOpenPositions(_ context.Context, botID int64) (int, error) {
	n := 0
	for _, p := range f.positions {
		if p.BotID == botID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) LastCloseTime(_ context.Context, _ int64, _ string) (*time.Time, error) {
	return f.lastClose, nil
}

func (f *fakeStore) UpdateBotReservations(_ context.Context, botID int64, usdForLongs, btcForShorts float64) error {
	f.savedUSD = usdForLongs
	f.savedBTC = btcForShorts
	f.updatedBotIDs = append(f.updatedBotIDs, botID)
	return nil
}

func testAllocator(store *fakeStore, client *exchange.MockClient) *Allocator {
	return NewAllocator(store, client, cache.NewMemoryStore(), Config{
		MinOrderFunds: 1.0,
		CacheTTL:      time.Minute,
	}, zerolog.Nop())
}

func testBot(budgetPct float64, maxDeals int, split bool) *database.Bot {
	return &database.Bot{
		ID:                     1,
		Name:                   "test-bot",
		QuoteCurrency:          "USD",
		BudgetPercentage:       budgetPct,
		MaxConcurrentDeals:     maxDeals,
		SplitBudgetAcrossPairs: split,
	}
}

func TestPerPositionBudgetSplitAcrossDeals(t *testing.T) {
	client := exchange.NewMockClient()
	client.SetBalance("USD", 10000)
	client.SetBalance("BTC", 0)
	alloc := testAllocator(&fakeStore{}, client)

	got, err := alloc.PerPositionBudget(context.Background(), testBot(20, 4, true), false)
	if err != nil {
		t.Fatalf("PerPositionBudget returned error: %v", err)
	}
	if got != 500.00 {
		t.Errorf("expected per-position budget 500.00, got %v", got)
	}
}

func TestPerPositionBudgetUnsplit(t *testing.T) {
	client := exchange.NewMockClient()
	client.SetBalance("USD", 10000)
	client.SetBalance("BTC", 0)
	alloc := testAllocator(&fakeStore{}, client)

	got, err := alloc.PerPositionBudget(context.Background(), testBot(20, 4, false), false)
	if err != nil {
		t.Fatalf("PerPositionBudget returned error: %v", err)
	}
	if got != 2000.00 {
		t.Errorf("expected unsplit budget 2000.00, got %v", got)
	}
}

func TestAggregateValueIncludesOpenPositionMarkValue(t *testing.T) {
	client := exchange.NewMockClient()
	client.SetBalance("USD", 1000)
	client.SetBalance("BTC", 0)
	client.SetPrice("BTC-USD", 50000)
	store := &fakeStore{positions: []*database.Position{
		{BotID: 1, ProductID: "BTC-USD", Status: database.PositionStatusOpen, TotalBaseAcquired: 0.01},
		{BotID: 2, ProductID: "ETH-BTC", Status: database.PositionStatusOpen, TotalBaseAcquired: 1.0},
	}}
	alloc := testAllocator(store, client)

	got, err := alloc.AggregateValue(context.Background(), 1, "USD", true)
	if err != nil {
		t.Fatalf("AggregateValue returned error: %v", err)
	}
	// 1000 free + 0.01 BTC at 50000; the ETH-BTC position settles in BTC
	// and must not count toward a USD aggregate.
	if got != 1500.00 {
		t.Errorf("expected aggregate value 1500.00, got %v", got)
	}
}

func TestAggregateValueServedFromCache(t *testing.T) {
	client := exchange.NewMockClient()
	client.SetBalance("USD", 1000)
	client.SetBalance("BTC", 0)
	alloc := testAllocator(&fakeStore{}, client)
	ctx := context.Background()

	first, err := alloc.AggregateValue(ctx, 1, "USD", false)
	if err != nil {
		t.Fatalf("first AggregateValue returned error: %v", err)
	}
	client.SetBalance("USD", 9999)

	cached, err := alloc.AggregateValue(ctx, 1, "USD", false)
	if err != nil {
		t.Fatalf("cached AggregateValue returned error: %v", err)
	}
	if cached != first {
		t.Errorf("expected cached value %v, got %v", first, cached)
	}

	fresh, err := alloc.AggregateValue(ctx, 1, "USD", true)
	if err != nil {
		t.Fatalf("bypass AggregateValue returned error: %v", err)
	}
	if fresh != 9999 {
		t.Errorf("expected bypass to recompute 9999, got %v", fresh)
	}
}

func TestAvailableBudgetForExistingPosition(t *testing.T) {
	alloc := testAllocator(&fakeStore{}, exchange.NewMockClient())
	pos := &database.Position{MaxQuoteAllowed: 500, TotalQuoteSpent: 300}

	got, err := alloc.AvailableBudget(context.Background(), testBot(20, 4, true), pos, "BTC-USD", database.DirectionLong, false)
	if err != nil {
		t.Fatalf("AvailableBudget returned error: %v", err)
	}
	if got != 200.00 {
		t.Errorf("expected remaining headroom 200.00, got %v", got)
	}
}

func TestAvailableBudgetNewPositionSubtractsPairSpend(t *testing.T) {
	client := exchange.NewMockClient()
	client.SetBalance("USD", 10000)
	client.SetBalance("BTC", 0)
	store := &fakeStore{positions: []*database.Position{
		{BotID: 1, ProductID: "BTC-USD", Status: database.PositionStatusOpen, TotalQuoteSpent: 150},
		{BotID: 1, ProductID: "ETH-USD", Status: database.PositionStatusOpen, TotalQuoteSpent: 400},
	}}
	alloc := testAllocator(store, client)

	// Aggregate stays 10000 because neither position holds base units.
	got, err := alloc.AvailableBudget(context.Background(), testBot(20, 4, true), nil, "BTC-USD", database.DirectionLong, true)
	if err != nil {
		t.Fatalf("AvailableBudget returned error: %v", err)
	}
	if got != 350.00 {
		t.Errorf("expected 500 budget minus 150 pair spend = 350.00, got %v", got)
	}
}

func TestAvailableBudgetBidirectionalPotsAreIndependent(t *testing.T) {
	client := exchange.NewMockClient()
	client.SetPrice("BTC-USD", 50000)
	store := &fakeStore{positions: []*database.Position{
		{BotID: 1, ProductID: "BTC-USD", Direction: database.DirectionLong,
			Status: database.PositionStatusOpen, TotalQuoteSpent: 150},
	}}
	alloc := testAllocator(store, client)
	bot := testBot(20, 4, false)
	bot.ReservedUSDForLongs = 2000
	bot.ReservedBTCForShorts = 0.05

	// The open long draws its pot down; the short pot is untouched.
	long, err := alloc.AvailableBudget(context.Background(), bot, nil, "BTC-USD", database.DirectionLong, true)
	if err != nil {
		t.Fatalf("AvailableBudget long returned error: %v", err)
	}
	if long != 1850.00 {
		t.Errorf("expected long pot 2000 minus 150 spent = 1850.00, got %v", long)
	}

	short, err := alloc.AvailableBudget(context.Background(), bot, nil, "BTC-USD", database.DirectionShort, true)
	if err != nil {
		t.Fatalf("AvailableBudget short returned error: %v", err)
	}
	// 0.05 BTC marked at 50000 gives the short leg its own quote budget.
	if short != 2500.00 {
		t.Errorf("expected short pot 2500.00, got %v", short)
	}
}

func TestPerPositionBudgetFixedAllocation(t *testing.T) {
	// No balances on the client: a pinned allocation must never reach for
	// the aggregate value.
	alloc := testAllocator(&fakeStore{}, exchange.NewMockClient())

	bot := testBot(20, 4, true)
	bot.ReservedUSDBalance = 4000
	got, err := alloc.PerPositionBudget(context.Background(), bot, false)
	if err != nil {
		t.Fatalf("PerPositionBudget returned error: %v", err)
	}
	if got != 1000.00 {
		t.Errorf("expected fixed 4000 split across 4 deals = 1000.00, got %v", got)
	}

	btcBot := testBot(20, 4, false)
	btcBot.QuoteCurrency = "BTC"
	btcBot.ReservedBTCBalance = 0.8
	got, err = alloc.PerPositionBudget(context.Background(), btcBot, false)
	if err != nil {
		t.Fatalf("PerPositionBudget returned error: %v", err)
	}
	if got != 0.8 {
		t.Errorf("expected fixed BTC allocation 0.8, got %v", got)
	}
}

func TestAdmitNewDealMaxConcurrentDeals(t *testing.T) {
	store := &fakeStore{positions: []*database.Position{
		{BotID: 1, ProductID: "BTC-USD", Status: database.PositionStatusOpen},
		{BotID: 1, ProductID: "ETH-USD", Status: database.PositionStatusOpen},
	}}
	alloc := testAllocator(store, exchange.NewMockClient())
	bot := testBot(20, 2, true)

	err := alloc.AdmitNewDeal(context.Background(), bot, "SOL-USD", time.Now())
	if !errors.Is(err, ErrMaxDealsReached) {
		t.Fatalf("expected ErrMaxDealsReached, got %v", err)
	}
	if !strings.Contains(err.Error(), "2 of 2") {
		t.Errorf("decline reason should name the deal counts, got %q", err.Error())
	}
}

func TestAdmitNewDealCooldown(t *testing.T) {
	now := time.Now()
	closed := now.Add(-30 * time.Second)
	store := &fakeStore{lastClose: &closed}
	alloc := testAllocator(store, exchange.NewMockClient())
	bot := testBot(20, 4, true)
	bot.DealCooldownSeconds = 60

	err := alloc.AdmitNewDeal(context.Background(), bot, "BTC-USD", now)
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive 30s after close, got %v", err)
	}

	if err := alloc.AdmitNewDeal(context.Background(), bot, "BTC-USD", now.Add(2*time.Minute)); err != nil {
		t.Errorf("expected admission after cooldown expiry, got %v", err)
	}
}

func TestAdmitNewDealNoHistory(t *testing.T) {
	alloc := testAllocator(&fakeStore{}, exchange.NewMockClient())
	bot := testBot(20, 4, true)
	bot.DealCooldownSeconds = 60

	if err := alloc.AdmitNewDeal(context.Background(), bot, "BTC-USD", time.Now()); err != nil {
		t.Errorf("expected admission with no close history, got %v", err)
	}
}

func TestValidateOrderFunds(t *testing.T) {
	alloc := testAllocator(&fakeStore{}, exchange.NewMockClient())

	tests := []struct {
		name      string
		amount    float64
		available float64
		wantErr   error
	}{
		{"valid amount", 50, 500, nil},
		{"zero amount", 0, 500, ErrInsufficientBudget},
		{"exceeds available", 600, 500, ErrInsufficientBudget},
		{"below exchange minimum", 0.50, 500, ErrBelowMinimum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := alloc.ValidateOrderFunds(tt.amount, tt.available)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected amount accepted, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateOrderFundsReasonText(t *testing.T) {
	alloc := testAllocator(&fakeStore{}, exchange.NewMockClient())

	err := alloc.ValidateOrderFunds(0.50, 500)
	if err == nil || !strings.Contains(err.Error(), "0.50") || !strings.Contains(err.Error(), "1.00") {
		t.Errorf("decline should spell out amount and minimum, got %v", err)
	}
}
