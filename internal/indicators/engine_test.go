package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	"dca-trading-bot/internal/exchange"
)

func makeCandles(closes []float64, interval time.Duration) []exchange.Candle {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		candles[i] = exchange.Candle{
			OpenTime: start.Add(interval * time.Duration(i)),
			Open:     c,
			High:     c * 1.01,
			Low:      c * 0.99,
			Close:    c,
			Volume:   100,
		}
	}
	return candles
}

func TestComputeProducesCurrentAndPrevKeys(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	candles := makeCandles(closes, time.Hour)

	engine := NewEngine()
	snap, err := engine.Compute(candles, exchange.Timeframe1h, []Spec{
		{Type: TypeRSI, Period: 14},
		{Type: TypeSMACross, Period: 20},
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	rsi, ok := snap.Get("1h_rsi_14")
	if !ok {
		t.Fatal("missing current RSI key")
	}
	// Monotonically rising closes: RSI must be 100.
	if rsi != 100 {
		t.Errorf("expected RSI 100 on rising series, got %f", rsi)
	}
	if _, ok := snap.Get("prev_1h_rsi_14"); !ok {
		t.Error("missing prev RSI key")
	}
	if _, ok := snap.Get("1h_price"); !ok {
		t.Error("price key should always be present")
	}

	price, _ := snap.Get("1h_price")
	prevPrice, _ := snap.Get("prev_1h_price")
	if price != 139 || prevPrice != 138 {
		t.Errorf("expected price 139 / prev 138, got %f / %f", price, prevPrice)
	}
}

func TestComputeInsufficientData(t *testing.T) {
	candles := makeCandles([]float64{1, 2, 3}, time.Hour)
	_, err := NewEngine().Compute(candles, exchange.Timeframe1h, []Spec{{Type: TypeRSI}})
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestBollingerPercentCollapsedBands(t *testing.T) {
	bands := BollingerResult{Upper: 100, Middle: 100, Lower: 100}
	if pct := BollingerPercent(100, bands); pct != 50.0 {
		t.Errorf("collapsed bands should report 50.0, got %f", pct)
	}
}

func TestBollingerPercentScale(t *testing.T) {
	bands := BollingerResult{Upper: 110, Middle: 100, Lower: 90}
	if pct := BollingerPercent(90, bands); pct != 0 {
		t.Errorf("price at lower band should be 0%%, got %f", pct)
	}
	if pct := BollingerPercent(110, bands); pct != 100 {
		t.Errorf("price at upper band should be 100%%, got %f", pct)
	}
	if pct := BollingerPercent(100, bands); pct != 50 {
		t.Errorf("price at middle should be 50%%, got %f", pct)
	}
}

func TestMACDSignalTracksLine(t *testing.T) {
	// Long rising series: MACD line positive, histogram positive while the
	// signal EMA lags the line.
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 * math.Pow(1.005, float64(i))
	}
	candles := makeCandles(closes, time.Hour)

	res := CalculateMACD(candles, 12, 26, 9)
	if res.MACD <= 0 {
		t.Errorf("expected positive MACD line on uptrend, got %f", res.MACD)
	}
	if res.Signal == 0 {
		t.Error("signal line should not be zero with sufficient data")
	}
	if got := res.MACD - res.Signal; math.Abs(got-res.Histogram) > 1e-9 {
		t.Errorf("histogram %f should equal line-signal %f", res.Histogram, got)
	}
}

func TestFillGapsInsertsFlatCandles(t *testing.T) {
	interval := 5 * time.Minute
	candles := makeCandles([]float64{100, 101}, interval)
	// Create a 3-interval hole before a final candle.
	candles = append(candles, exchange.Candle{
		OpenTime: candles[1].OpenTime.Add(4 * interval),
		Open:     105, High: 106, Low: 104, Close: 105, Volume: 50,
	})

	filled, pct := FillGaps(candles, interval, DefaultMaxGapFill)
	if len(filled) != 6 {
		t.Fatalf("expected 6 candles after fill, got %d", len(filled))
	}
	for i := 2; i <= 4; i++ {
		c := filled[i]
		if !c.Synthetic {
			t.Errorf("candle %d should be synthetic", i)
		}
		if c.Volume != 0 {
			t.Errorf("synthetic candle %d should have zero volume", i)
		}
		if c.Open != 101 || c.Close != 101 || c.High != 101 || c.Low != 101 {
			t.Errorf("synthetic candle %d should be flat at previous close 101", i)
		}
	}
	if pct != 50.0 {
		t.Errorf("expected 50%% synthetic, got %f", pct)
	}
}

func TestFillGapsRespectsCap(t *testing.T) {
	interval := time.Minute
	candles := makeCandles([]float64{100}, interval)
	candles = append(candles, exchange.Candle{
		OpenTime: candles[0].OpenTime.Add(100 * interval),
		Open:     101, High: 101, Low: 101, Close: 101, Volume: 10,
	})

	filled, _ := FillGaps(candles, interval, 10)
	if len(filled) != 12 {
		t.Errorf("expected cap of 10 synthetic candles (12 total), got %d", len(filled))
	}
}

func TestAggregate(t *testing.T) {
	interval := 5 * time.Minute
	candles := makeCandles([]float64{100, 102, 101, 103, 104, 102, 99}, interval)

	agg := Aggregate(candles, 3)
	// Seven candles at factor 3: two full groups, trailing one dropped.
	if len(agg) != 2 {
		t.Fatalf("expected 2 aggregated candles, got %d", len(agg))
	}

	first := agg[0]
	if first.Open != 100 {
		t.Errorf("open should be first candle's open, got %f", first.Open)
	}
	if first.Close != 101 {
		t.Errorf("close should be last candle's close, got %f", first.Close)
	}
	if first.High != 102*1.01 {
		t.Errorf("high should be max of group highs, got %f", first.High)
	}
	if first.Low != 100*0.99 {
		t.Errorf("low should be min of group lows, got %f", first.Low)
	}
	if first.Volume != 300 {
		t.Errorf("volume should sum to 300, got %f", first.Volume)
	}
}

func TestAggregateFactorOne(t *testing.T) {
	candles := makeCandles([]float64{1, 2, 3}, time.Minute)
	if got := Aggregate(candles, 1); len(got) != 3 {
		t.Errorf("factor 1 should return the input unchanged, got %d candles", len(got))
	}
}

func TestVolumeRSIFlatVolume(t *testing.T) {
	candles := makeCandles([]float64{1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 2}, time.Minute)
	// All volumes identical: zero losses and zero gains; avgLoss==0 path.
	if got := CalculateVolumeRSI(candles, 14); got != 100.0 {
		t.Errorf("flat volume series reports 100, got %f", got)
	}
}
