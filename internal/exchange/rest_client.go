package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RESTClient talks to the Coinbase Exchange REST API. All requests pass
// through the shared rate limiter before hitting the wire.
type RESTClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
}

// NewRESTClient creates a live exchange client. The secret is the base64
// encoded API secret as issued by the exchange.
func NewRESTClient(apiKey, apiSecret, baseURL string, timeout time.Duration, limiter *RateLimiter) *RESTClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RESTClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

var _ Client = (*RESTClient)(nil)

// APIError is a non-2xx response from the exchange.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error %d: %s", e.StatusCode, e.Message)
}

func (c *RESTClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		if err := c.sign(req, method, path, payload); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiMsg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiMsg)
		if apiMsg.Message == "" {
			apiMsg.Message = string(raw)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiMsg.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// sign sets the CB-ACCESS-* headers. The signature is an HMAC-SHA256 of
// timestamp + method + path + body keyed by the decoded API secret.
func (c *RESTClient) sign(req *http.Request, method, path string, body []byte) error {
	key, err := base64.StdEncoding.DecodeString(c.apiSecret)
	if err != nil {
		return fmt.Errorf("decoding API secret: %w", err)
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts + method + path))
	mac.Write(body)

	req.Header.Set("CB-ACCESS-KEY", c.apiKey)
	req.Header.Set("CB-ACCESS-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	return nil
}

// GetCandles fetches OHLCV bars, returned oldest first. The exchange serves
// candles newest first in [time, low, high, open, close, volume] rows.
func (c *RESTClient) GetCandles(ctx context.Context, productID, timeframe string, r CandleRange) ([]Candle, error) {
	d, ok := TimeframeDuration(timeframe)
	if !ok {
		return nil, fmt.Errorf("unknown timeframe %q", timeframe)
	}

	params := url.Values{}
	params.Set("granularity", strconv.Itoa(int(d.Seconds())))
	end := r.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := r.Start
	if start.IsZero() {
		limit := r.Limit
		if limit <= 0 {
			limit = 300
		}
		start = end.Add(-time.Duration(limit) * d)
	}
	params.Set("start", start.Format(time.RFC3339))
	params.Set("end", end.Format(time.RFC3339))

	var rows [][]float64
	path := fmt.Sprintf("/products/%s/candles?%s", productID, params.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, Candle{
			OpenTime: time.Unix(int64(row[0]), 0).UTC(),
			Low:      row[1],
			High:     row[2],
			Open:     row[3],
			Close:    row[4],
			Volume:   row[5],
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })
	if r.Limit > 0 && len(candles) > r.Limit {
		candles = candles[len(candles)-r.Limit:]
	}
	return candles, nil
}

func (c *RESTClient) GetTicker(ctx context.Context, productID string) (*Ticker, error) {
	var raw struct {
		Bid string `json:"bid"`
		Ask string `json:"ask"`
	}
	if err := c.do(ctx, http.MethodGet, "/products/"+productID+"/ticker", nil, &raw); err != nil {
		return nil, err
	}
	return &Ticker{
		ProductID: productID,
		Bid:       parseFloat(raw.Bid),
		Ask:       parseFloat(raw.Ask),
	}, nil
}

func (c *RESTClient) GetCurrentPrice(ctx context.Context, productID string) (float64, error) {
	var raw struct {
		Price string `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, "/products/"+productID+"/ticker", nil, &raw); err != nil {
		return 0, err
	}
	p := parseFloat(raw.Price)
	if p <= 0 {
		return 0, fmt.Errorf("no trade price reported for %s", productID)
	}
	return p, nil
}

func (c *RESTClient) GetAccountBalances(ctx context.Context) ([]Balance, error) {
	var raw []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
		Hold      string `json:"hold"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts", nil, &raw); err != nil {
		return nil, err
	}
	balances := make([]Balance, 0, len(raw))
	for _, a := range raw {
		balances = append(balances, Balance{
			Currency:  a.Currency,
			Available: parseFloat(a.Available),
			Hold:      parseFloat(a.Hold),
		})
	}
	return balances, nil
}

type orderRequest struct {
	Type        string `json:"type"`
	Side        string `json:"side"`
	ProductID   string `json:"product_id"`
	ClientOID   string `json:"client_oid,omitempty"`
	Price       string `json:"price,omitempty"`
	Size        string `json:"size,omitempty"`
	Funds       string `json:"funds,omitempty"`
	TimeInForce string `json:"time_in_force,omitempty"`
}

type orderResponse struct {
	ID            string    `json:"id"`
	ClientOID     string    `json:"client_oid"`
	ProductID     string    `json:"product_id"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Price         string    `json:"price"`
	Size          string    `json:"size"`
	Funds         string    `json:"funds"`
	FilledSize    string    `json:"filled_size"`
	ExecutedValue string    `json:"executed_value"`
	Status        string    `json:"status"`
	DoneReason    string    `json:"done_reason"`
	CreatedAt     time.Time `json:"created_at"`
}

func (r orderResponse) toOrder() *Order {
	o := &Order{
		ID:            r.ID,
		ClientOrderID: r.ClientOID,
		ProductID:     r.ProductID,
		Side:          Side(strings.ToUpper(r.Side)),
		Type:          strings.ToUpper(r.Type),
		Price:         parseFloat(r.Price),
		Size:          parseFloat(r.Size),
		Funds:         parseFloat(r.Funds),
		FilledSize:    parseFloat(r.FilledSize),
		ExecutedValue: parseFloat(r.ExecutedValue),
		CreatedAt:     r.CreatedAt,
	}
	switch r.Status {
	case "done":
		if r.DoneReason == "canceled" {
			o.Status = OrderStatusCancelled
		} else {
			o.Status = OrderStatusFilled
		}
	case "rejected":
		o.Status = OrderStatusRejected
	default: // open, pending, active
		if o.FilledSize > 0 {
			o.Status = OrderStatusPartiallyFilled
		} else {
			o.Status = OrderStatusNew
		}
	}
	return o
}

// CreateMarketOrder places a market order. Buys are sized in quote funds,
// sells in base size; whichever of size/funds is positive is sent.
func (c *RESTClient) CreateMarketOrder(ctx context.Context, productID string, side Side, size, funds float64, clientOrderID string) (*Order, error) {
	req := orderRequest{
		Type:      "market",
		Side:      strings.ToLower(string(side)),
		ProductID: productID,
		ClientOID: clientOrderID,
	}
	switch {
	case size > 0:
		req.Size = formatFloat(size)
	case funds > 0:
		req.Funds = formatFloat(funds)
	default:
		return nil, fmt.Errorf("market order for %s needs a positive size or funds", productID)
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", req, &resp); err != nil {
		return nil, err
	}
	order := resp.toOrder()
	// Market orders settle almost immediately but the placement response often
	// reports zero fills. Poll once for the executed value.
	if order.FilledSize <= 0 {
		if settled, err := c.GetOrder(ctx, order.ID); err == nil {
			return settled, nil
		}
	}
	return order, nil
}

func (c *RESTClient) CreateLimitOrder(ctx context.Context, productID string, side Side, price, size float64, timeInForce string, clientOrderID string) (*Order, error) {
	if price <= 0 || size <= 0 {
		return nil, fmt.Errorf("limit order for %s needs a positive price and size", productID)
	}
	if timeInForce == "" {
		timeInForce = TimeInForceGTC
	}
	req := orderRequest{
		Type:        "limit",
		Side:        strings.ToLower(string(side)),
		ProductID:   productID,
		ClientOID:   clientOrderID,
		Price:       formatFloat(price),
		Size:        formatFloat(size),
		TimeInForce: timeInForce,
	}
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", req, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder(), nil
}

func (c *RESTClient) GetOrderBook(ctx context.Context, productID string, depth int) (*OrderBook, error) {
	var raw struct {
		Bids [][]json.RawMessage `json:"bids"`
		Asks [][]json.RawMessage `json:"asks"`
	}
	if err := c.do(ctx, http.MethodGet, "/products/"+productID+"/book?level=2", nil, &raw); err != nil {
		return nil, err
	}
	book := &OrderBook{
		ProductID: productID,
		Bids:      parseBookSide(raw.Bids, depth),
		Asks:      parseBookSide(raw.Asks, depth),
	}
	return book, nil
}

func parseBookSide(rows [][]json.RawMessage, depth int) []BookLevel {
	if depth > 0 && len(rows) > depth {
		rows = rows[:depth]
	}
	levels := make([]BookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		var price, size string
		if json.Unmarshal(row[0], &price) != nil || json.Unmarshal(row[1], &size) != nil {
			continue
		}
		levels = append(levels, BookLevel{Price: parseFloat(price), Size: parseFloat(size)})
	}
	return levels
}

func (c *RESTClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder(), nil
}

func (c *RESTClient) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+orderID, nil, nil)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
