// Package config loads txguard settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage engines understood by the server.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Ledger storage
	Storage     string // memory, sqlite or postgres; derived when empty
	DatabaseURL string // PostgreSQL connection string
	SQLitePath  string

	// Wallet seeding: symbol -> whole-token amount granted to new wallets
	SeedBalances map[string]decimal.Decimal

	// Chain-state oracle (disabled when RPCURL is empty)
	RPCURL        string
	OracleTimeout time.Duration
	OracleCacheMB int

	// URL classifiers, highest priority first
	ClassifierURLs    []string
	ClassifierTimeout time.Duration

	// Tracing (disabled when empty)
	OTLPEndpoint string

	RateLimitRPM int

	// Allowed CORS origins; a trailing * matches a prefix (chrome-extension://*)
	CORSOrigins []string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultSQLitePath        = "wallet.db"
	DefaultSeedBalances      = "ETH:5.42,USDC:2480"
	DefaultOracleTimeout     = 2 * time.Second
	DefaultOracleCacheMB     = 8
	DefaultClassifierTimeout = 5 * time.Second
	DefaultRateLimit         = 120
	DefaultCORSOrigins       = "chrome-extension://*,moz-extension://*,http://localhost:3000"
)

// Load reads configuration from environment variables.
// A .env file in the working directory is honored for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	seeds, err := ParseSeedBalances(getEnv("SEED_BALANCES", DefaultSeedBalances))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		Storage:           strings.ToLower(os.Getenv("STORAGE")),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getEnv("SQLITE_PATH", DefaultSQLitePath),
		SeedBalances:      seeds,
		RPCURL:            os.Getenv("RPC_URL"),
		OracleTimeout:     getEnvMillis("ORACLE_TIMEOUT_MS", DefaultOracleTimeout),
		OracleCacheMB:     int(getEnvInt64("ORACLE_CACHE_MB", DefaultOracleCacheMB)),
		ClassifierURLs:    splitList(os.Getenv("CLASSIFIER_URLS")),
		ClassifierTimeout: getEnvMillis("CLASSIFIER_TIMEOUT_MS", DefaultClassifierTimeout),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", DefaultCORSOrigins)),
	}

	if cfg.Storage == "" {
		cfg.Storage = cfg.deriveStorage()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) deriveStorage() string {
	if c.DatabaseURL != "" {
		return StoragePostgres
	}
	return StorageSQLite
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE=postgres")
		}
	default:
		return fmt.Errorf("STORAGE must be one of memory, sqlite, postgres (got %q)", c.Storage)
	}

	if c.Storage == StorageSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when STORAGE=sqlite")
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}

	if c.RPCURL != "" && c.OracleTimeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT_MS must be positive")
	}

	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}

	return nil
}

// OracleEnabled reports whether an RPC endpoint was configured.
func (c *Config) OracleEnabled() bool {
	return c.RPCURL != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ParseSeedBalances parses "SYM:amount,SYM:amount" into a map. Symbols are
// upper-cased; amounts must be non-negative decimals.
func ParseSeedBalances(s string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, part := range splitList(s) {
		sym, amt, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(sym) == "" {
			return nil, fmt.Errorf("SEED_BALANCES entry %q must be SYMBOL:AMOUNT", part)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(amt))
		if err != nil {
			return nil, fmt.Errorf("SEED_BALANCES entry %q: %w", part, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("SEED_BALANCES entry %q is negative", part)
		}
		out[strings.ToUpper(strings.TrimSpace(sym))] = d
	}
	return out, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
