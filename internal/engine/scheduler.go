package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dca-trading-bot/internal/ai/llm"
	"dca-trading-bot/internal/database"
	"dca-trading-bot/internal/events"
	"dca-trading-bot/internal/exchange"
	"dca-trading-bot/internal/strategy"
)

// BotSource lists the bots to schedule.
type BotSource interface {
	GetActiveBots(ctx context.Context) ([]*database.Bot, error)
}

var _ BotSource = (*database.Repository)(nil)

// SchedulerConfig tunes the evaluation loops.
type SchedulerConfig struct {
	DefaultInterval time.Duration // used when a strategy names no known timeframe
	MinInterval     time.Duration // floor for derived check intervals
	CandleLimit     int           // candles fetched per timeframe per cycle
}

// Scheduler runs one independent evaluation goroutine per (bot, product)
// pair. Each loop ticks on an interval derived from the shortest timeframe
// the bot's strategy references, so a 1m bot checks more often than a 1h
// one. There is no cross-task lock; a position is only ever touched by its
// own task.
type Scheduler struct {
	bots     BotSource
	client   exchange.Client
	orch     *Orchestrator
	analyzer *llm.Analyzer
	bus      *events.EventBus
	cfg      SchedulerConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	started []*database.Bot
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(bots BotSource, client exchange.Client, orch *Orchestrator, analyzer *llm.Analyzer, bus *events.EventBus, cfg SchedulerConfig, logger zerolog.Logger) *Scheduler {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = time.Minute
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 15 * time.Second
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 300
	}
	return &Scheduler{
		bots:     bots,
		client:   client,
		orch:     orch,
		analyzer: analyzer,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start builds a strategy per active bot and launches the evaluation loops.
// Bots with invalid strategy configuration are rejected here and never
// scheduled.
func (s *Scheduler) Start(ctx context.Context) error {
	bots, err := s.bots.GetActiveBots(ctx)
	if err != nil {
		return fmt.Errorf("loading active bots: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for _, bot := range bots {
		strat, err := strategy.New(bot, s.analyzer, s.logger)
		if err != nil {
			s.logger.Error().Err(err).Int64("bot_id", bot.ID).Str("name", bot.Name).
				Msg("bot rejected: invalid strategy configuration")
			continue
		}
		interval := s.checkInterval(strat)
		s.logger.Info().
			Int64("bot_id", bot.ID).
			Str("name", bot.Name).
			Str("strategy", strat.Name()).
			Dur("interval", interval).
			Strs("products", bot.Products).
			Msg("scheduling bot")
		if s.bus != nil {
			s.bus.PublishBotStarted(bot.ID, bot.Name, bot.Products)
		}
		s.mu.Lock()
		s.started = append(s.started, bot)
		s.mu.Unlock()

		for _, product := range bot.Products {
			s.wg.Add(1)
			go s.run(ctx, bot, strat, product, interval)
		}
	}
	return nil
}

// Stop cancels every loop and waits for them to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if s.bus != nil {
		for _, bot := range started {
			s.bus.PublishBotStopped(bot.ID, bot.Name)
		}
	}
	s.logger.Info().Msg("scheduler stopped")
}

// checkInterval derives a loop interval from the shortest timeframe the
// strategy uses, checking a few times per bar so exits are not delayed a
// full timeframe.
func (s *Scheduler) checkInterval(strat strategy.Strategy) time.Duration {
	var shortest time.Duration
	for _, tf := range strat.Timeframes() {
		if d, ok := exchange.TimeframeDuration(tf); ok {
			if shortest == 0 || d < shortest {
				shortest = d
			}
		}
	}
	if shortest == 0 {
		return s.cfg.DefaultInterval
	}
	interval := shortest / 4
	if interval < s.cfg.MinInterval {
		interval = s.cfg.MinInterval
	}
	return interval
}

func (s *Scheduler) run(ctx context.Context, bot *database.Bot, strat strategy.Strategy, productID string, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.cycle(ctx, bot, strat, productID); err != nil {
				s.logger.Error().Err(err).Int64("bot_id", bot.ID).Str("product", productID).
					Msg("evaluation cycle failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// cycle fetches market data for every timeframe the strategy needs and runs
// one orchestrator pass.
func (s *Scheduler) cycle(ctx context.Context, bot *database.Bot, strat strategy.Strategy, productID string) error {
	candles := make(map[string][]exchange.Candle)
	for _, tf := range strat.Timeframes() {
		cs, err := s.client.GetCandles(ctx, productID, tf, exchange.CandleRange{Limit: s.cfg.CandleLimit})
		if err != nil {
			return fmt.Errorf("fetching %s candles: %w", tf, err)
		}
		candles[tf] = cs
	}

	price, err := s.client.GetCurrentPrice(ctx, productID)
	if err != nil {
		return fmt.Errorf("fetching current price: %w", err)
	}

	result, err := s.orch.ProcessSignal(ctx, bot, strat, productID, candles, price)
	if err != nil {
		return err
	}
	s.logger.Debug().
		Int64("bot_id", bot.ID).
		Str("product", productID).
		Str("action", result.Action).
		Str("reason", result.Reason).
		Msg("cycle complete")
	return nil
}
