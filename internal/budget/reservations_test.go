package budget

import (
	"context"
	"errors"
	"testing"

	"dca-trading-bot/internal/database"
	"dca-trading-bot/internal/exchange"
)

func TestComputeReservations(t *testing.T) {
	client := exchange.NewMockClient()
	client.SetBalance("USD", 10000)
	client.SetBalance("BTC", 0.5)
	alloc := testAllocator(&fakeStore{}, client)
	bot := testBot(20, 4, true)

	r, err := alloc.ComputeReservations(context.Background(), bot, 50, 50)
	if err != nil {
		t.Fatalf("ComputeReservations returned error: %v", err)
	}
	// 10000 * 20% * 50% = 1000 USD; 0.5 * 20% * 50% = 0.05 BTC
	if r.USDForLongs != 1000.00 {
		t.Errorf("expected 1000.00 USD for longs, got %v", r.USDForLongs)
	}
	if r.BTCForShorts != 0.05 {
		t.Errorf("expected 0.05 BTC for shorts, got %v", r.BTCForShorts)
	}
}

func TestValidateReservationsAgainstOtherBots(t *testing.T) {
	client := exchange.NewMockClient()
	client.SetBalance("USD", 1000)
	client.SetBalance("BTC", 0.1)
	store := &fakeStore{bots: []*database.Bot{
		{ID: 1, ReservedUSDForLongs: 0, ReservedBTCForShorts: 0},
		{ID: 2, ReservedUSDForLongs: 900, ReservedBTCForShorts: 0.02},
	}}
	alloc := testAllocator(store, client)
	bot := store.bots[0]

	// Only 100 USD remains after bot 2's reservation.
	err := alloc.ValidateReservations(context.Background(), bot, Reservations{USDForLongs: 200})
	if !errors.Is(err, ErrInsufficientBudget) {
		t.Fatalf("expected ErrInsufficientBudget for oversubscribed USD, got %v", err)
	}

	if err := alloc.ValidateReservations(context.Background(), bot, Reservations{USDForLongs: 100, BTCForShorts: 0.08}); err != nil {
		t.Errorf("expected reservation within remaining balances to validate, got %v", err)
	}
}

func TestApplyReservationsPersistsAndUpdatesBot(t *testing.T) {
	client := exchange.NewMockClient()
	client.SetBalance("USD", 10000)
	client.SetBalance("BTC", 0.5)
	store := &fakeStore{}
	alloc := testAllocator(store, client)
	bot := testBot(20, 4, true)
	store.bots = []*database.Bot{bot}

	r, err := alloc.ApplyReservations(context.Background(), bot, 50, 50)
	if err != nil {
		t.Fatalf("ApplyReservations returned error: %v", err)
	}
	if store.savedUSD != r.USDForLongs || store.savedBTC != r.BTCForShorts {
		t.Errorf("store saved (%v, %v), want (%v, %v)", store.savedUSD, store.savedBTC, r.USDForLongs, r.BTCForShorts)
	}
	if bot.ReservedUSDForLongs != r.USDForLongs || bot.ReservedBTCForShorts != r.BTCForShorts {
		t.Errorf("bot fields not updated in place: (%v, %v)", bot.ReservedUSDForLongs, bot.ReservedBTCForShorts)
	}
}

func TestReleaseReservations(t *testing.T) {
	store := &fakeStore{savedUSD: 1000, savedBTC: 0.05}
	alloc := testAllocator(store, exchange.NewMockClient())
	bot := testBot(20, 4, true)
	bot.ReservedUSDForLongs = 1000
	bot.ReservedBTCForShorts = 0.05

	if err := alloc.ReleaseReservations(context.Background(), bot); err != nil {
		t.Fatalf("ReleaseReservations returned error: %v", err)
	}
	if store.savedUSD != 0 || store.savedBTC != 0 {
		t.Errorf("expected zeroed reservations in store, got (%v, %v)", store.savedUSD, store.savedBTC)
	}
	if bot.ReservedUSDForLongs != 0 || bot.ReservedBTCForShorts != 0 {
		t.Errorf("expected zeroed reservations on bot, got (%v, %v)", bot.ReservedUSDForLongs, bot.ReservedBTCForShorts)
	}
}
