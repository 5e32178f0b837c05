package indicators

import (
	"fmt"
	"strconv"
)

// Snapshot maps fully-qualified indicator keys ({timeframe}_{name}, plus a
// parallel prev_ set holding the same formula one candle earlier) to values.
type Snapshot map[string]float64

// Get looks up a key, reporting whether it is present.
func (s Snapshot) Get(key string) (float64, bool) {
	v, ok := s[key]
	return v, ok
}

// Merge copies all entries of other into s.
func (s Snapshot) Merge(other Snapshot) {
	for k, v := range other {
		s[k] = v
	}
}

// PrevPrefix marks the candle-based previous value of an indicator key.
const PrevPrefix = "prev_"

// Indicator type identifiers used by specs and rule conditions.
const (
	TypeRSI           = "rsi"
	TypeMACD          = "macd"
	TypeMACDSignal    = "macd_signal"
	TypeMACDHistogram = "macd_histogram"
	TypeBBUpper       = "bb_upper"
	TypeBBMiddle      = "bb_middle"
	TypeBBLower       = "bb_lower"
	TypeBBPercent     = "bb_pct"
	TypeEMACross      = "ema_cross"
	TypeSMACross      = "sma_cross"
	TypeStochK        = "stoch_k"
	TypeVolume        = "volume"
	TypeVolumeRSI     = "volume_rsi"
	TypePrice         = "price"
	TypeGapFill       = "gap_fill_pct"
)

// Spec identifies one indicator computation with its parameters.
type Spec struct {
	Type   string
	Period int
	StdDev float64
	Fast   int
	Slow   int
	Signal int
}

// ApplyDefaults fills standard parameter defaults for the spec's type.
func (sp *Spec) ApplyDefaults() {
	switch sp.Type {
	case TypeRSI, TypeVolumeRSI, TypeStochK:
		if sp.Period == 0 {
			sp.Period = 14
		}
	case TypeMACD, TypeMACDSignal, TypeMACDHistogram:
		if sp.Fast == 0 {
			sp.Fast = 12
		}
		if sp.Slow == 0 {
			sp.Slow = 26
		}
		if sp.Signal == 0 {
			sp.Signal = 9
		}
	case TypeBBUpper, TypeBBMiddle, TypeBBLower, TypeBBPercent:
		if sp.Period == 0 {
			sp.Period = 20
		}
		if sp.StdDev == 0 {
			sp.StdDev = 2.0
		}
	case TypeEMACross, TypeSMACross:
		if sp.Period == 0 {
			sp.Period = 20
		}
	}
}

// Name returns the canonical key name for the spec, without timeframe prefix.
func (sp Spec) Name() string {
	s := sp
	s.ApplyDefaults()
	switch s.Type {
	case TypeRSI, TypeVolumeRSI, TypeStochK, TypeEMACross, TypeSMACross:
		return fmt.Sprintf("%s_%d", s.Type, s.Period)
	case TypeMACD, TypeMACDSignal, TypeMACDHistogram:
		return fmt.Sprintf("%s_%d_%d_%d", s.Type, s.Fast, s.Slow, s.Signal)
	case TypeBBUpper, TypeBBMiddle, TypeBBLower, TypeBBPercent:
		return fmt.Sprintf("%s_%d_%s", s.Type, s.Period, strconv.FormatFloat(s.StdDev, 'g', -1, 64))
	default:
		return s.Type
	}
}

// Key returns the fully-qualified snapshot key for a timeframe.
func (sp Spec) Key(timeframe string) string {
	return Key(timeframe, sp.Name())
}

// Key joins a timeframe and indicator name into a snapshot key.
func Key(timeframe, name string) string {
	return timeframe + "_" + name
}

// PrevKey returns the candle-based previous key for a snapshot key.
func PrevKey(key string) string {
	return PrevPrefix + key
}
