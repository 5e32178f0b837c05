package exchange

import "time"

// Side is the order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order types accepted by CreateLimitOrder's time-in-force parameter.
const (
	TimeInForceGTC = "GTC"
	TimeInForceIOC = "IOC"
)

// Order status values reported by GetOrder.
const (
	OrderStatusNew             = "NEW"
	OrderStatusFilled          = "FILLED"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusRejected        = "REJECTED"
)

// Timeframe identifiers for candle requests.
const (
	Timeframe1m  = "1m"
	Timeframe3m  = "3m"
	Timeframe5m  = "5m"
	Timeframe15m = "15m"
	Timeframe30m = "30m"
	Timeframe1h  = "1h"
	Timeframe4h  = "4h"
	Timeframe1d  = "1d"
)

var timeframeDurations = map[string]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe3m:  3 * time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// TimeframeDuration returns the candle interval for a timeframe identifier.
// Unknown timeframes report ok=false.
func TimeframeDuration(tf string) (time.Duration, bool) {
	d, ok := timeframeDurations[tf]
	return d, ok
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Synthetic bool      `json:"synthetic,omitempty"` // inserted to fill a gap, zero volume
}

// Ticker is the current best bid/ask for a product.
type Ticker struct {
	ProductID string  `json:"product_id"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
}

// Mid returns the bid/ask midpoint, falling back to whichever side is set.
func (t Ticker) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	if t.Bid > 0 {
		return t.Bid
	}
	return t.Ask
}

// Balance is one currency balance on the account.
type Balance struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
	Hold      float64 `json:"hold"`
}

// Order is the exchange's view of an order.
type Order struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id"`
	ProductID     string    `json:"product_id"`
	Side          Side      `json:"side"`
	Type          string    `json:"type"` // MARKET or LIMIT
	Price         float64   `json:"price,omitempty"`
	Size          float64   `json:"size"`           // base units
	Funds         float64   `json:"funds"`          // quote units (market buys)
	FilledSize    float64   `json:"filled_size"`    // base units filled
	ExecutedValue float64   `json:"executed_value"` // quote units filled
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// AvgFillPrice returns the volume-weighted fill price, 0 when nothing filled.
func (o Order) AvgFillPrice() float64 {
	if o.FilledSize <= 0 {
		return 0
	}
	return o.ExecutedValue / o.FilledSize
}

// BookLevel is one price level of the order book.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	ProductID string      `json:"product_id"`
	Bids      []BookLevel `json:"bids"` // sorted best first
	Asks      []BookLevel `json:"asks"` // sorted best first
}

// CandleRange bounds a GetCandles request.
type CandleRange struct {
	Start time.Time
	End   time.Time
	Limit int
}
