package indicators

import (
	"errors"
	"fmt"
	"time"

	"dca-trading-bot/internal/exchange"
)

// MinCandles is the minimum series length AnalyzeSignal-style callers need
// before indicator values are trustworthy.
const MinCandles = 20

// DefaultMaxGapFill caps how many synthetic candles are inserted per gap.
const DefaultMaxGapFill = 10

// ErrInsufficientData is returned when a candle series is too short to
// compute the requested snapshot. Callers treat it as "no decision this
// cycle", not a failure.
var ErrInsufficientData = errors.New("insufficient candle data")

// Engine computes indicator snapshots from candle series.
type Engine struct {
	maxGapFill int
}

// NewEngine creates an indicator engine with the default gap-fill cap.
func NewEngine() *Engine {
	return &Engine{maxGapFill: DefaultMaxGapFill}
}

// Compute builds a snapshot for one timeframe: for every spec it stores the
// current value under {timeframe}_{name} and the same formula evaluated one
// candle earlier under prev_{timeframe}_{name}. Gaps in the series are filled
// with synthetic flat candles before computing.
func (e *Engine) Compute(candles []exchange.Candle, timeframe string, specs []Spec) (Snapshot, error) {
	if len(candles) < MinCandles {
		return nil, fmt.Errorf("%w: have %d candles on %s, need %d", ErrInsufficientData, len(candles), timeframe, MinCandles)
	}

	interval, ok := exchange.TimeframeDuration(timeframe)
	if !ok {
		return nil, fmt.Errorf("unknown timeframe %q", timeframe)
	}

	filled, syntheticPct := FillGaps(candles, interval, e.maxGapFill)

	snap := make(Snapshot, len(specs)*2+4)
	prev := filled[:len(filled)-1]

	for _, spec := range specs {
		spec.ApplyDefaults()
		key := spec.Key(timeframe)
		snap[key] = computeOne(filled, spec, syntheticPct)
		snap[PrevKey(key)] = computeOne(prev, spec, syntheticPct)
	}

	// Price is always present; several derived conditions need it.
	priceKey := Key(timeframe, TypePrice)
	snap[priceKey] = filled[len(filled)-1].Close
	snap[PrevKey(priceKey)] = prev[len(prev)-1].Close

	return snap, nil
}

func computeOne(candles []exchange.Candle, spec Spec, syntheticPct float64) float64 {
	price := candles[len(candles)-1].Close

	switch spec.Type {
	case TypeRSI:
		return CalculateRSI(candles, spec.Period)
	case TypeVolumeRSI:
		return CalculateVolumeRSI(candles, spec.Period)
	case TypeMACD:
		return CalculateMACD(candles, spec.Fast, spec.Slow, spec.Signal).MACD
	case TypeMACDSignal:
		return CalculateMACD(candles, spec.Fast, spec.Slow, spec.Signal).Signal
	case TypeMACDHistogram:
		return CalculateMACD(candles, spec.Fast, spec.Slow, spec.Signal).Histogram
	case TypeBBUpper:
		return CalculateBollingerBands(candles, spec.Period, spec.StdDev).Upper
	case TypeBBMiddle:
		return CalculateBollingerBands(candles, spec.Period, spec.StdDev).Middle
	case TypeBBLower:
		return CalculateBollingerBands(candles, spec.Period, spec.StdDev).Lower
	case TypeBBPercent:
		return BollingerPercent(price, CalculateBollingerBands(candles, spec.Period, spec.StdDev))
	case TypeEMACross:
		return price - CalculateEMA(candles, spec.Period)
	case TypeSMACross:
		return price - CalculateSMA(candles, spec.Period)
	case TypeStochK:
		return CalculateStochasticK(candles, spec.Period)
	case TypeVolume:
		return candles[len(candles)-1].Volume
	case TypePrice:
		return price
	case TypeGapFill:
		return syntheticPct
	default:
		return 0
	}
}

// FillGaps inserts synthetic flat candles (zero volume, OHLC = previous
// close) wherever consecutive candles are further apart than the expected
// interval, at most maxPerGap per gap. Returns the filled series and the
// percentage of synthetic candles in it.
func FillGaps(candles []exchange.Candle, interval time.Duration, maxPerGap int) ([]exchange.Candle, float64) {
	if len(candles) < 2 || interval <= 0 {
		return candles, syntheticPercent(candles)
	}

	out := make([]exchange.Candle, 0, len(candles))
	out = append(out, candles[0])

	for i := 1; i < len(candles); i++ {
		prev := out[len(out)-1]
		gap := candles[i].OpenTime.Sub(prev.OpenTime)
		if gap > interval {
			missing := int(gap/interval) - 1
			if missing > maxPerGap {
				missing = maxPerGap
			}
			for j := 1; j <= missing; j++ {
				out = append(out, exchange.Candle{
					OpenTime:  prev.OpenTime.Add(interval * time.Duration(j)),
					Open:      prev.Close,
					High:      prev.Close,
					Low:       prev.Close,
					Close:     prev.Close,
					Volume:    0,
					Synthetic: true,
				})
			}
		}
		out = append(out, candles[i])
	}
	return out, syntheticPercent(out)
}

func syntheticPercent(candles []exchange.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	n := 0
	for _, c := range candles {
		if c.Synthetic {
			n++
		}
	}
	return float64(n) / float64(len(candles)) * 100
}

// Aggregate builds higher-timeframe candles by grouping factor consecutive
// candles: open=first, high=max, low=min, close=last, volume=sum. An
// incomplete trailing group is dropped, never partially aggregated. An
// aggregated candle is marked synthetic only when every component was.
func Aggregate(candles []exchange.Candle, factor int) []exchange.Candle {
	if factor <= 1 {
		return candles
	}

	n := len(candles) / factor
	out := make([]exchange.Candle, 0, n)
	for g := 0; g < n; g++ {
		group := candles[g*factor : (g+1)*factor]
		agg := exchange.Candle{
			OpenTime:  group[0].OpenTime,
			Open:      group[0].Open,
			High:      group[0].High,
			Low:       group[0].Low,
			Close:     group[len(group)-1].Close,
			Synthetic: true,
		}
		for _, c := range group {
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Volume += c.Volume
			if !c.Synthetic {
				agg.Synthetic = false
			}
		}
		out = append(out, agg)
	}
	return out
}
