package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dca-trading-bot/internal/exchange"
)

type timeframeStrategy struct {
	scriptedStrategy
	timeframes []string
}

func (s *timeframeStrategy) Timeframes() []string { return s.timeframes }

func TestCheckIntervalDerivedFromShortestTimeframe(t *testing.T) {
	sched := NewScheduler(newMemStore(), exchange.NewMockClient(), nil, nil, nil, SchedulerConfig{
		DefaultInterval: time.Minute,
		MinInterval:     15 * time.Second,
	}, zerolog.Nop())

	tests := []struct {
		name       string
		timeframes []string
		want       time.Duration
	}{
		{"one hour only", []string{"1h"}, 15 * time.Minute},
		{"shortest wins", []string{"1h", "15m"}, 225 * time.Second},
		{"floor applies to one minute", []string{"1m"}, 15 * time.Second},
		{"unknown timeframe falls back", []string{"7m"}, time.Minute},
		{"empty falls back", nil, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strat := &timeframeStrategy{timeframes: tt.timeframes}
			if got := sched.checkInterval(strat); got != tt.want {
				t.Errorf("checkInterval(%v) = %v, want %v", tt.timeframes, got, tt.want)
			}
		})
	}
}
