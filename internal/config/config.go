package config

import (
	"auction-engine/utils"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds process settings read from the environment.
type Config struct {
	Port     string
	LogLevel string

	DBDriver    string // memory, pgx or sqlite3
	DatabaseURL string

	AuthSecret string
	AdminIDs   []string

	BidIncrement    decimal.Decimal
	ExtensionWindow time.Duration
	LockTimeout     time.Duration

	SchedulerResync time.Duration

	SettlementWebhookURL  string
	WebhookSecret         string
	SettlementMaxAttempts int
	SettlementBackoff     time.Duration

	RateLimitPerSecond float64
	RateLimitBurst     int

	SeedListings bool
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		utils.Debug("no .env file found, relying on system env variables", nil)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DBDriver:             getEnv("DB_DRIVER", "memory"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		AuthSecret:           getEnv("AUTH_SECRET", ""),
		AdminIDs:             splitList(getEnv("ADMIN_IDS", "")),
		SettlementWebhookURL: getEnv("SETTLEMENT_WEBHOOK_URL", ""),
		WebhookSecret:        getEnv("WEBHOOK_SECRET", ""),
	}

	var err error
	if cfg.BidIncrement, err = decimal.NewFromString(getEnv("BID_INCREMENT", "1")); err != nil {
		return nil, fmt.Errorf("config: BID_INCREMENT: %w", err)
	}
	if !cfg.BidIncrement.IsPositive() {
		return nil, fmt.Errorf("config: BID_INCREMENT must be positive, got %s", cfg.BidIncrement)
	}
	if cfg.ExtensionWindow, err = getDuration("EXTENSION_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LockTimeout, err = getDuration("LOCK_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.SchedulerResync, err = getDuration("SCHEDULER_RESYNC_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SettlementBackoff, err = getDuration("SETTLEMENT_BACKOFF", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.SettlementMaxAttempts, err = getInt("SETTLEMENT_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getInt("RATE_LIMIT_BURST", 20); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerSecond, err = strconv.ParseFloat(getEnv("RATE_LIMIT_PER_SECOND", "10"), 64); err != nil {
		return nil, fmt.Errorf("config: RATE_LIMIT_PER_SECOND: %w", err)
	}
	if cfg.SeedListings, err = strconv.ParseBool(getEnv("SEED_LISTINGS", "true")); err != nil {
		return nil, fmt.Errorf("config: SEED_LISTINGS: %w", err)
	}

	// without a token secret the actor id comes from the request body
	if len(cfg.AdminIDs) > 0 && cfg.AuthSecret == "" {
		return nil, fmt.Errorf("config: ADMIN_IDS requires AUTH_SECRET")
	}

	switch cfg.DBDriver {
	case "memory":
	case "pgx", "sqlite3":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("config: DATABASE_URL is required for driver %q", cfg.DBDriver)
		}
	default:
		return nil, fmt.Errorf("config: unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %s", key, d)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
