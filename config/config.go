package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ExchangeConfig ExchangeConfig `json:"exchange"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	AIConfig       AIConfig       `json:"ai"`
	EngineConfig   EngineConfig   `json:"engine"`
	ServerConfig   ServerConfig   `json:"server"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// ExchangeConfig holds exchange API configuration
type ExchangeConfig struct {
	APIKey           string  `json:"api_key"`
	APISecret        string  `json:"api_secret"`
	BaseURL          string  `json:"base_url"`
	MockMode         bool    `json:"mock_mode"`          // Use simulated data and fills when no live exchange is available
	MinOrderFunds    float64 `json:"min_order_funds"`    // Exchange minimum order size in quote currency
	RateLimitMs      int     `json:"rate_limit_ms"`      // Minimum milliseconds between API requests
	RequestTimeout   int     `json:"request_timeout"`    // Seconds
	CandleFetchLimit int     `json:"candle_fetch_limit"` // Max candles per request
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the budget cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// AIConfig holds LLM provider configuration for AI autonomous strategies
type AIConfig struct {
	Enabled     bool    `json:"enabled"`
	Provider    string  `json:"provider"` // "claude", "gemini", or "grok"
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TimeoutSecs int     `json:"timeout_secs"`
}

// EngineConfig holds signal processing configuration
type EngineConfig struct {
	DefaultCheckInterval int     `json:"default_check_interval"` // Seconds, used when a bot has no timeframes
	SlippageGuardEnabled bool    `json:"slippage_guard_enabled"`
	MaxSlippagePercent   float64 `json:"max_slippage_percent"`   // Veto market orders above this book impact
	SlippageDepth        int     `json:"slippage_depth"`         // Order book levels to inspect
	BudgetCacheTTL       int     `json:"budget_cache_ttl"`       // Seconds, aggregate account value cache
	MarkPriceMaxAgePct   float64 `json:"mark_price_max_age_pct"` // Max divergence between candle close and live mark price
}

// ServerConfig holds HTTP status server configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`  // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// LoggingConfig holds structured logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// No config file: start from defaults. Booleans that default on are
		// set here because JSON zero values cannot express "unset".
		cfg = &Config{}
		cfg.EngineConfig.SlippageGuardEnabled = true
		cfg.ServerConfig.Enabled = true
		cfg.LoggingConfig.JSONFormat = true
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Exchange config
	cfg.ExchangeConfig.APIKey = getEnvOrDefault("EXCHANGE_API_KEY", cfg.ExchangeConfig.APIKey)
	cfg.ExchangeConfig.APISecret = getEnvOrDefault("EXCHANGE_API_SECRET", cfg.ExchangeConfig.APISecret)
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.ExchangeConfig.BaseURL)
	if cfg.ExchangeConfig.BaseURL == "" {
		cfg.ExchangeConfig.BaseURL = "https://api.exchange.coinbase.com"
	}
	cfg.ExchangeConfig.MockMode = getEnvOrDefault("MOCK_MODE", boolString(cfg.ExchangeConfig.MockMode)) == "true"
	if cfg.ExchangeConfig.MinOrderFunds <= 0 {
		cfg.ExchangeConfig.MinOrderFunds = 1.0
	}
	cfg.ExchangeConfig.MinOrderFunds = getEnvFloatOrDefault("EXCHANGE_MIN_ORDER_FUNDS", cfg.ExchangeConfig.MinOrderFunds)
	if cfg.ExchangeConfig.RateLimitMs <= 0 {
		cfg.ExchangeConfig.RateLimitMs = 200
	}
	cfg.ExchangeConfig.RateLimitMs = getEnvIntOrDefault("EXCHANGE_RATE_LIMIT_MS", cfg.ExchangeConfig.RateLimitMs)
	if cfg.ExchangeConfig.RequestTimeout <= 0 {
		cfg.ExchangeConfig.RequestTimeout = 15
	}
	if cfg.ExchangeConfig.CandleFetchLimit <= 0 {
		cfg.ExchangeConfig.CandleFetchLimit = 300
	}

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "dca_bot"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// AI config
	cfg.AIConfig.Enabled = getEnvOrDefault("AI_ENABLED", boolString(cfg.AIConfig.Enabled)) == "true"
	cfg.AIConfig.Provider = getEnvOrDefault("AI_PROVIDER", defaultString(cfg.AIConfig.Provider, "claude"))
	cfg.AIConfig.APIKey = getEnvOrDefault("AI_API_KEY", cfg.AIConfig.APIKey)
	cfg.AIConfig.Model = getEnvOrDefault("AI_MODEL", cfg.AIConfig.Model)
	if cfg.AIConfig.MaxTokens <= 0 {
		cfg.AIConfig.MaxTokens = 1024
	}
	if cfg.AIConfig.Temperature <= 0 {
		cfg.AIConfig.Temperature = 0.3
	}
	if cfg.AIConfig.TimeoutSecs <= 0 {
		cfg.AIConfig.TimeoutSecs = 30
	}

	// Engine config
	cfg.EngineConfig.DefaultCheckInterval = getEnvIntOrDefault("ENGINE_CHECK_INTERVAL", defaultInt(cfg.EngineConfig.DefaultCheckInterval, 60))
	cfg.EngineConfig.SlippageGuardEnabled = getEnvOrDefault("ENGINE_SLIPPAGE_GUARD", boolString(cfg.EngineConfig.SlippageGuardEnabled)) == "true"
	cfg.EngineConfig.MaxSlippagePercent = getEnvFloatOrDefault("ENGINE_MAX_SLIPPAGE_PCT", defaultFloat(cfg.EngineConfig.MaxSlippagePercent, 1.0))
	if cfg.EngineConfig.SlippageDepth <= 0 {
		cfg.EngineConfig.SlippageDepth = 20
	}
	cfg.EngineConfig.BudgetCacheTTL = getEnvIntOrDefault("ENGINE_BUDGET_CACHE_TTL", defaultInt(cfg.EngineConfig.BudgetCacheTTL, 30))
	if cfg.EngineConfig.MarkPriceMaxAgePct <= 0 {
		cfg.EngineConfig.MarkPriceMaxAgePct = 1.0
	}

	// Server config
	cfg.ServerConfig.Enabled = getEnvOrDefault("SERVER_ENABLED", boolString(cfg.ServerConfig.Enabled)) == "true"
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat)) == "true"
}

// RateLimitInterval returns the minimum spacing between exchange requests.
func (c ExchangeConfig) RateLimitInterval() time.Duration {
	return time.Duration(c.RateLimitMs) * time.Millisecond
}

// BudgetCacheTTLDuration returns the aggregate value cache TTL.
func (c EngineConfig) BudgetCacheTTLDuration() time.Duration {
	return time.Duration(c.BudgetCacheTTL) * time.Second
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func defaultString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func defaultInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func defaultFloat(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		ExchangeConfig: ExchangeConfig{
			BaseURL:          "https://api.exchange.coinbase.com",
			MockMode:         true,
			MinOrderFunds:    1.0,
			RateLimitMs:      200,
			RequestTimeout:   15,
			CandleFetchLimit: 300,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "dca_bot",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  false,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		AIConfig: AIConfig{
			Enabled:     false,
			Provider:    "claude",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   1024,
			Temperature: 0.3,
			TimeoutSecs: 30,
		},
		EngineConfig: EngineConfig{
			DefaultCheckInterval: 60,
			SlippageGuardEnabled: true,
			MaxSlippagePercent:   1.0,
			SlippageDepth:        20,
			BudgetCacheTTL:       30,
			MarkPriceMaxAgePct:   1.0,
		},
		ServerConfig: ServerConfig{
			Enabled:         true,
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
