package indicators

import (
	"math"

	"dca-trading-bot/internal/exchange"
)

// CalculateSMA calculates the Simple Moving Average of closes.
func CalculateSMA(candles []exchange.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// CalculateEMA calculates the Exponential Moving Average of closes, seeded
// with the SMA of the first period.
func CalculateEMA(candles []exchange.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	sma := CalculateSMA(candles[:period], period)
	multiplier := 2.0 / float64(period+1)

	ema := sma
	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// emaSeries computes the EMA over an arbitrary value series, returning one
// output per input from index period-1 onward. Returns nil when the series is
// too short.
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	multiplier := 2.0 / float64(period+1)

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out = append(out, ema)
	}
	return out
}

// CalculateRSI calculates the Relative Strength Index over the last period
// changes. Returns 50 (neutral) with insufficient data.
func CalculateRSI(candles []exchange.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateVolumeRSI applies the RSI formula to the volume series instead of
// closes. Returns 50 with insufficient data.
func CalculateVolumeRSI(candles []exchange.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Volume - candles[i-1].Volume
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACDResult holds MACD indicator values.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// CalculateMACD calculates the MACD line, a true EMA signal line over the
// MACD series, and the histogram.
func CalculateMACD(candles []exchange.Candle, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	if len(candles) < slowPeriod+signalPeriod {
		return MACDResult{}
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast := emaSeries(closes, fastPeriod)
	slow := emaSeries(closes, slowPeriod)
	if fast == nil || slow == nil {
		return MACDResult{}
	}

	// Align: slow series starts slowPeriod-fastPeriod entries later.
	offset := slowPeriod - fastPeriod
	macdLine := make([]float64, len(slow))
	for i := range slow {
		macdLine[i] = fast[i+offset] - slow[i]
	}

	signal := emaSeries(macdLine, signalPeriod)
	if signal == nil {
		return MACDResult{}
	}

	line := macdLine[len(macdLine)-1]
	sig := signal[len(signal)-1]
	return MACDResult{MACD: line, Signal: sig, Histogram: line - sig}
}

// BollingerResult holds Bollinger Bands values.
type BollingerResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollingerBands calculates Bollinger Bands around the SMA.
func CalculateBollingerBands(candles []exchange.Candle, period int, stdDevMultiplier float64) BollingerResult {
	if len(candles) < period || period <= 0 {
		return BollingerResult{}
	}

	middle := CalculateSMA(candles, period)

	variance := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		diff := candles[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return BollingerResult{
		Upper:  middle + stdDev*stdDevMultiplier,
		Middle: middle,
		Lower:  middle - stdDev*stdDevMultiplier,
	}
}

// BollingerPercent returns where price sits within the bands on a 0-100
// scale. A collapsed band (upper == lower) reports 50.
func BollingerPercent(price float64, bands BollingerResult) float64 {
	width := bands.Upper - bands.Lower
	if width == 0 {
		return 50.0
	}
	return (price - bands.Lower) / width * 100
}

// CalculateStochasticK calculates the raw stochastic %K over the period.
// Returns 50 with insufficient data or a flat range.
func CalculateStochasticK(candles []exchange.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 50.0
	}

	start := len(candles) - period
	highest := candles[start].High
	lowest := candles[start].Low
	for i := start; i < len(candles); i++ {
		if candles[i].High > highest {
			highest = candles[i].High
		}
		if candles[i].Low < lowest {
			lowest = candles[i].Low
		}
	}

	if highest == lowest {
		return 50.0
	}
	close := candles[len(candles)-1].Close
	return (close - lowest) / (highest - lowest) * 100
}
