package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"portfolioLedger/internal/adapters/logger" // Import the logger package for LogLevel
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Price sources.
const (
	SourceMarket  = "market"
	SourceBinance = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Storage
	DBDriver    string
	DBPath      string
	DatabaseDSN string

	// Pricing
	PriceSource           string
	MarketServiceURL      string
	MarketRateLimitPerMin int
	APIKey                string
	SecretKey             string
	IsTestnet             bool
	QuoteAsset            string

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerOpenDuration     time.Duration
	BreakerHalfOpenTrials   int
	PricingCallTimeout      time.Duration

	// History retention window, in days
	HistoryDays int

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig(envFiles ...string) (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Storage
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", DriverSQLite))
	cfg.DBPath = getEnv("DB_PATH", "./data/ledger.db")
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", "")
	switch cfg.DBDriver {
	case DriverSQLite:
		if cfg.DBPath == "" {
			errs = append(errs, "DB_PATH must be set")
		}
	case DriverPostgres:
		if cfg.DatabaseDSN == "" {
			errs = append(errs, "DATABASE_DSN must be set when DB_DRIVER is postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.DBDriver))
	}

	// Pricing
	cfg.PriceSource = strings.ToLower(getEnv("PRICE_SOURCE", SourceMarket))
	cfg.MarketServiceURL = getEnv("MARKET_SERVICE_URL", "http://localhost:8082")
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.QuoteAsset = strings.ToUpper(getEnv("BINANCE_QUOTE_ASSET", "USDT"))

	switch cfg.PriceSource {
	case SourceMarket:
		if u, perr := url.Parse(cfg.MarketServiceURL); perr != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("MARKET_SERVICE_URL must be an absolute URL, got %q", cfg.MarketServiceURL))
		}
	case SourceBinance:
		if cfg.QuoteAsset == "" {
			errs = append(errs, "BINANCE_QUOTE_ASSET must be set")
		}
	default:
		errs = append(errs, fmt.Sprintf("PRICE_SOURCE must be %q or %q, got %q", SourceMarket, SourceBinance, cfg.PriceSource))
	}

	cfg.MarketRateLimitPerMin, err = getEnvAsIntRequired("MARKET_RATE_LIMIT_PER_MIN", 600)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARKET_RATE_LIMIT_PER_MIN: %v", err))
	} else if cfg.MarketRateLimitPerMin <= 0 {
		errs = append(errs, "MARKET_RATE_LIMIT_PER_MIN must be positive")
	}

	// Circuit breaker
	cfg.BreakerFailureThreshold, err = getEnvAsIntRequired("BREAKER_FAILURE_THRESHOLD", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BREAKER_FAILURE_THRESHOLD: %v", err))
	} else if cfg.BreakerFailureThreshold <= 0 {
		errs = append(errs, "BREAKER_FAILURE_THRESHOLD must be positive")
	}

	cfg.BreakerOpenDuration, err = getEnvAsDurationRequired("BREAKER_OPEN_DURATION", 30*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BREAKER_OPEN_DURATION: %v", err))
	} else if cfg.BreakerOpenDuration <= 0 {
		errs = append(errs, "BREAKER_OPEN_DURATION must be positive")
	}

	cfg.BreakerHalfOpenTrials, err = getEnvAsIntRequired("BREAKER_HALF_OPEN_TRIALS", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BREAKER_HALF_OPEN_TRIALS: %v", err))
	} else if cfg.BreakerHalfOpenTrials <= 0 {
		errs = append(errs, "BREAKER_HALF_OPEN_TRIALS must be positive")
	}

	cfg.PricingCallTimeout, err = getEnvAsDurationRequired("PRICING_CALL_TIMEOUT", 3*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICING_CALL_TIMEOUT: %v", err))
	} else if cfg.PricingCallTimeout <= 0 {
		errs = append(errs, "PRICING_CALL_TIMEOUT must be positive")
	}

	// History
	cfg.HistoryDays, err = getEnvAsIntRequired("HISTORY_DAYS", 30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HISTORY_DAYS: %v", err))
	} else if cfg.HistoryDays <= 0 {
		errs = append(errs, "HISTORY_DAYS must be positive")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// HistoryWindow returns the retention window as a duration.
func (c *Config) HistoryWindow() time.Duration {
	return time.Duration(c.HistoryDays) * 24 * time.Hour
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// getEnvAsDurationRequired accepts Go durations ("30s", "1m") or plain seconds.
func getEnvAsDurationRequired(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
