package exchange

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterSpacesRequests(t *testing.T) {
	rl := NewRateLimiter(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	}
	elapsed := time.Since(start)

	// First request is immediate, the next two must each wait ~20ms.
	if elapsed < 35*time.Millisecond {
		t.Errorf("three requests completed in %v, expected at least 40ms of pacing", elapsed)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("disabled limiter should not block, took %v", elapsed)
	}
}

func TestRateLimiterContextCancel(t *testing.T) {
	rl := NewRateLimiter(time.Second)
	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait returned error: %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(cancelCtx); err == nil {
		t.Error("expected context deadline error while waiting for slot")
	}
}

func TestMockClientMarketOrderAdjustsBalances(t *testing.T) {
	mc := NewMockClient()
	mc.SetPrice("BTC-USD", 100000)
	mc.SetBalance("USD", 1000)
	mc.SetBalance("BTC", 0)

	order, err := mc.CreateMarketOrder(context.Background(), "BTC-USD", SideBuy, 0, 500, "test-1")
	if err != nil {
		t.Fatalf("CreateMarketOrder failed: %v", err)
	}
	if order.Status != OrderStatusFilled {
		t.Errorf("expected filled order, got %s", order.Status)
	}
	if order.ExecutedValue != 500 {
		t.Errorf("expected executed value 500, got %f", order.ExecutedValue)
	}

	balances, _ := mc.GetAccountBalances(context.Background())
	for _, b := range balances {
		if b.Currency == "USD" && b.Available != 500 {
			t.Errorf("expected USD balance 500 after buy, got %f", b.Available)
		}
	}
}

func TestMockClientFailNextOrder(t *testing.T) {
	mc := NewMockClient()
	mc.SetPrice("ETH-USD", 4000)
	mc.FailNextOrder = true

	if _, err := mc.CreateMarketOrder(context.Background(), "ETH-USD", SideBuy, 0, 100, "t"); err == nil {
		t.Error("expected injected order failure")
	}
	// Second attempt succeeds.
	if _, err := mc.CreateMarketOrder(context.Background(), "ETH-USD", SideBuy, 0, 100, "t"); err != nil {
		t.Errorf("second order should succeed, got %v", err)
	}
}
