package exchange

import "context"

// Client defines the exchange operations the trading core consumes.
// Implementations handle signing, pagination and transport concerns; every
// call is expected to pass through the shared rate limiter.
type Client interface {
	GetCandles(ctx context.Context, productID, timeframe string, r CandleRange) ([]Candle, error)
	GetTicker(ctx context.Context, productID string) (*Ticker, error)
	GetCurrentPrice(ctx context.Context, productID string) (float64, error)
	GetAccountBalances(ctx context.Context) ([]Balance, error)
	CreateMarketOrder(ctx context.Context, productID string, side Side, size, funds float64, clientOrderID string) (*Order, error)
	CreateLimitOrder(ctx context.Context, productID string, side Side, price, size float64, timeInForce string, clientOrderID string) (*Order, error)
	GetOrderBook(ctx context.Context, productID string, depth int) (*OrderBook, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

var _ Client = (*MockClient)(nil)
