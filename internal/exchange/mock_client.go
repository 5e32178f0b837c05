package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// MockClient provides simulated market data and order fills for development,
// dry-run mode and tests. Orders fill instantly at the simulated price.
type MockClient struct {
	mu         sync.RWMutex
	prices     map[string]float64
	balances   map[string]float64
	orders     map[string]*Order
	lastUpdate time.Time
	orderSeq   int64

	// FailNextOrder makes the next Create*Order call return an error,
	// for exercising rollback paths in tests.
	FailNextOrder bool
}

// NewMockClient creates a mock client seeded with realistic prices and a
// funded USD/BTC account.
func NewMockClient() *MockClient {
	return &MockClient{
		prices: map[string]float64{
			"BTC-USD":  104500.00,
			"ETH-USD":  3900.00,
			"SOL-USD":  220.00,
			"ADA-USD":  1.05,
			"DOGE-USD": 0.40,
			"LINK-USD": 28.00,
			"ETH-BTC":  0.0373,
		},
		balances: map[string]float64{
			"USD": 25000.00,
			"BTC": 0.5,
		},
		orders:     make(map[string]*Order),
		lastUpdate: time.Now(),
	}
}

// SetPrice pins a product price, disabling the random walk for tests.
func (mc *MockClient) SetPrice(productID string, price float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.prices[productID] = price
	mc.lastUpdate = time.Now().Add(time.Hour)
}

// SetBalance pins a currency balance.
func (mc *MockClient) SetBalance(currency string, available float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.balances[currency] = available
}

func (mc *MockClient) updatePrices() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if time.Since(mc.lastUpdate) < time.Second {
		return
	}
	for product, price := range mc.prices {
		change := (rand.Float64() - 0.5) * 0.01
		mc.prices[product] = price * (1 + change)
	}
	mc.lastUpdate = time.Now()
}

func (mc *MockClient) price(productID string) (float64, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	p, ok := mc.prices[productID]
	if !ok {
		return 0, fmt.Errorf("mock: unknown product %s", productID)
	}
	return p, nil
}

// GetCandles returns a synthetic random-walk candle series ending at the
// current simulated price.
func (mc *MockClient) GetCandles(_ context.Context, productID, timeframe string, r CandleRange) ([]Candle, error) {
	mc.updatePrices()
	base, err := mc.price(productID)
	if err != nil {
		return nil, err
	}
	interval, ok := TimeframeDuration(timeframe)
	if !ok {
		return nil, fmt.Errorf("mock: unknown timeframe %s", timeframe)
	}

	limit := r.Limit
	if limit <= 0 {
		limit = 100
	}

	candles := make([]Candle, 0, limit)
	price := base * (1 - 0.002*float64(limit))
	start := time.Now().Truncate(interval).Add(-interval * time.Duration(limit-1))
	for i := 0; i < limit; i++ {
		open := price
		change := (rand.Float64() - 0.48) * 0.008
		price = price * (1 + change)
		high := open
		if price > high {
			high = price
		}
		high *= 1 + rand.Float64()*0.002
		low := open
		if price < low {
			low = price
		}
		low *= 1 - rand.Float64()*0.002
		candles = append(candles, Candle{
			OpenTime: start.Add(interval * time.Duration(i)),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    price,
			Volume:   100 + rand.Float64()*900,
		})
	}
	// Last close tracks the simulated ticker price.
	candles[len(candles)-1].Close = base
	return candles, nil
}

// GetTicker returns a simulated bid/ask around the current price.
func (mc *MockClient) GetTicker(_ context.Context, productID string) (*Ticker, error) {
	mc.updatePrices()
	p, err := mc.price(productID)
	if err != nil {
		return nil, err
	}
	spread := p * 0.0005
	return &Ticker{ProductID: productID, Bid: p - spread, Ask: p + spread}, nil
}

// GetCurrentPrice returns the simulated last price.
func (mc *MockClient) GetCurrentPrice(_ context.Context, productID string) (float64, error) {
	mc.updatePrices()
	return mc.price(productID)
}

// GetAccountBalances returns the simulated account balances.
func (mc *MockClient) GetAccountBalances(_ context.Context) ([]Balance, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	out := make([]Balance, 0, len(mc.balances))
	for cur, avail := range mc.balances {
		out = append(out, Balance{Currency: cur, Available: avail})
	}
	return out, nil
}

// CreateMarketOrder fills immediately at the simulated price and adjusts the
// mock balances.
func (mc *MockClient) CreateMarketOrder(_ context.Context, productID string, side Side, size, funds float64, clientOrderID string) (*Order, error) {
	p, err := mc.price(productID)
	if err != nil {
		return nil, err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.FailNextOrder {
		mc.FailNextOrder = false
		return nil, fmt.Errorf("mock: exchange rejected order")
	}

	if size <= 0 && funds > 0 {
		size = funds / p
	}
	if size <= 0 {
		return nil, fmt.Errorf("mock: order size and funds both zero")
	}
	value := size * p

	base, quote := splitProduct(productID)
	if side == SideBuy {
		if mc.balances[quote] < value {
			return nil, fmt.Errorf("mock: insufficient %s balance", quote)
		}
		mc.balances[quote] -= value
		mc.balances[base] += size
	} else {
		if mc.balances[base] < size {
			return nil, fmt.Errorf("mock: insufficient %s balance", base)
		}
		mc.balances[base] -= size
		mc.balances[quote] += value
	}

	mc.orderSeq++
	order := &Order{
		ID:            fmt.Sprintf("mock-%d", mc.orderSeq),
		ClientOrderID: clientOrderID,
		ProductID:     productID,
		Side:          side,
		Type:          "MARKET",
		Size:          size,
		Funds:         funds,
		FilledSize:    size,
		ExecutedValue: value,
		Status:        OrderStatusFilled,
		CreatedAt:     time.Now(),
	}
	mc.orders[order.ID] = order
	return order, nil
}

// CreateLimitOrder registers an open limit order; it never fills on its own.
func (mc *MockClient) CreateLimitOrder(_ context.Context, productID string, side Side, price, size float64, timeInForce string, clientOrderID string) (*Order, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.FailNextOrder {
		mc.FailNextOrder = false
		return nil, fmt.Errorf("mock: exchange rejected order")
	}

	mc.orderSeq++
	order := &Order{
		ID:            fmt.Sprintf("mock-%d", mc.orderSeq),
		ClientOrderID: clientOrderID,
		ProductID:     productID,
		Side:          side,
		Type:          "LIMIT",
		Price:         price,
		Size:          size,
		Status:        OrderStatusNew,
		CreatedAt:     time.Now(),
	}
	mc.orders[order.ID] = order
	return order, nil
}

// GetOrderBook returns a synthetic book with liquidity tapering away from the
// mid price.
func (mc *MockClient) GetOrderBook(_ context.Context, productID string, depth int) (*OrderBook, error) {
	p, err := mc.price(productID)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 10
	}
	book := &OrderBook{ProductID: productID}
	for i := 1; i <= depth; i++ {
		step := p * 0.0005 * float64(i)
		book.Bids = append(book.Bids, BookLevel{Price: p - step, Size: 1.5 * float64(i)})
		book.Asks = append(book.Asks, BookLevel{Price: p + step, Size: 1.5 * float64(i)})
	}
	return book, nil
}

// GetOrder returns a previously created mock order.
func (mc *MockClient) GetOrder(_ context.Context, orderID string) (*Order, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	order, ok := mc.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("mock: order %s not found", orderID)
	}
	cp := *order
	return &cp, nil
}

// CancelOrder marks a mock order cancelled.
func (mc *MockClient) CancelOrder(_ context.Context, orderID string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	order, ok := mc.orders[orderID]
	if !ok {
		return fmt.Errorf("mock: order %s not found", orderID)
	}
	order.Status = OrderStatusCancelled
	return nil
}

func splitProduct(productID string) (base, quote string) {
	parts := strings.SplitN(productID, "-", 2)
	if len(parts) != 2 {
		return productID, "USD"
	}
	return parts[0], parts[1]
}
