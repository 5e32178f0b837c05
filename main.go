package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dca-trading-bot/config"
	"dca-trading-bot/internal/ai/llm"
	"dca-trading-bot/internal/api"
	"dca-trading-bot/internal/budget"
	"dca-trading-bot/internal/cache"
	"dca-trading-bot/internal/database"
	"dca-trading-bot/internal/engine"
	"dca-trading-bot/internal/events"
	"dca-trading-bot/internal/exchange"
	"dca-trading-bot/internal/logging"
)

func main() {
	// Load .env if present; real environments set variables directly.
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "generate-config" {
		if err := config.GenerateSampleConfig("config.sample.json"); err != nil {
			log.Fatalf("Failed to generate sample config: %v", err)
		}
		log.Println("Wrote config.sample.json")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.Setup(cfg.LoggingConfig)
	logger.Info().Msg("Starting DCA trading bot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Database migrations failed")
	}
	repo := database.NewRepository(db)

	// Budget cache: Redis when configured, in-process otherwise.
	var cacheStore cache.Store
	if cfg.RedisConfig.Enabled {
		redisStore, err := cache.NewRedisStore(cfg.RedisConfig)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, falling back to in-memory cache")
			cacheStore = cache.NewMemoryStore()
		} else {
			cacheStore = redisStore
		}
	} else {
		cacheStore = cache.NewMemoryStore()
	}

	// Exchange client
	var client exchange.Client
	if cfg.ExchangeConfig.MockMode {
		logger.Warn().Msg("MOCK MODE enabled, no real orders will be placed")
		client = exchange.NewMockClient()
	} else {
		limiter := exchange.NewRateLimiter(cfg.ExchangeConfig.RateLimitInterval())
		client = exchange.NewRESTClient(
			cfg.ExchangeConfig.APIKey,
			cfg.ExchangeConfig.APISecret,
			cfg.ExchangeConfig.BaseURL,
			time.Duration(cfg.ExchangeConfig.RequestTimeout)*time.Second,
			limiter,
		)
	}

	// LLM analyzer for AI-driven strategies. Bots on rule-based strategies
	// never touch it.
	llmConfig := llm.DefaultClientConfig()
	if cfg.AIConfig.Enabled {
		llmConfig = &llm.ClientConfig{
			Provider:    llm.Provider(cfg.AIConfig.Provider),
			APIKey:      cfg.AIConfig.APIKey,
			Model:       cfg.AIConfig.Model,
			MaxTokens:   cfg.AIConfig.MaxTokens,
			Temperature: cfg.AIConfig.Temperature,
			Timeout:     time.Duration(cfg.AIConfig.TimeoutSecs) * time.Second,
		}
	}
	analyzer := llm.NewAnalyzer(llm.NewClient(llmConfig))

	bus := events.NewEventBus()

	allocator := budget.NewAllocator(repo, client, cacheStore, budget.Config{
		MinOrderFunds: cfg.ExchangeConfig.MinOrderFunds,
		CacheTTL:      cfg.EngineConfig.BudgetCacheTTLDuration(),
	}, logger)

	orchestrator := engine.NewOrchestrator(repo, client, allocator, bus, engine.Config{
		SlippageGuardEnabled: cfg.EngineConfig.SlippageGuardEnabled,
		MaxSlippagePercent:   cfg.EngineConfig.MaxSlippagePercent,
		SlippageDepth:        cfg.EngineConfig.SlippageDepth,
		MaxMarkDivergencePct: cfg.EngineConfig.MarkPriceMaxAgePct,
	}, logger)

	scheduler := engine.NewScheduler(repo, client, orchestrator, analyzer, bus, engine.SchedulerConfig{
		DefaultInterval: time.Duration(cfg.EngineConfig.DefaultCheckInterval) * time.Second,
		CandleLimit:     cfg.ExchangeConfig.CandleFetchLimit,
	}, logger)

	// Status API
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, repo, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("API server failed")
				stop()
			}
		}()
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Scheduler failed to start")
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received")

	scheduler.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("API server shutdown failed")
		}
	}

	logger.Info().Msg("Shutdown complete")
}
