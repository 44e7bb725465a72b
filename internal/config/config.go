// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application-wide settings. Every field has a development
// default; only malformed values cause Load to fail.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory ledger
	RedisURL    string // empty → no read-through cache
	CacheTTL    time.Duration

	BinanceWSURL    string
	ResolveInterval time.Duration

	// Exposure limits on open stake. Zero disables the check.
	MaxStakePerPair decimal.Decimal
	MaxStakeTotal   decimal.Decimal
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            envOr("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		BinanceWSURL:    envOr("BINANCE_WS_URL", "wss://stream.binance.com:9443/stream"),
		CacheTTL:        30 * time.Second,
		ResolveInterval: time.Second,
		MaxStakePerPair: decimal.Zero,
		MaxStakeTotal:   decimal.Zero,
	}

	if raw := os.Getenv("CACHE_TTL_SECONDS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid CACHE_TTL_SECONDS: %q", raw)
		}
		cfg.CacheTTL = time.Duration(n) * time.Second
	}

	if raw := os.Getenv("RESOLVE_INTERVAL_MS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid RESOLVE_INTERVAL_MS: %q", raw)
		}
		cfg.ResolveInterval = time.Duration(n) * time.Millisecond
	}

	if raw := os.Getenv("MAX_STAKE_PER_PAIR"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil || v.IsNegative() {
			return nil, fmt.Errorf("invalid MAX_STAKE_PER_PAIR: %q", raw)
		}
		cfg.MaxStakePerPair = v
	}

	if raw := os.Getenv("MAX_STAKE_TOTAL"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil || v.IsNegative() {
			return nil, fmt.Errorf("invalid MAX_STAKE_TOTAL: %q", raw)
		}
		cfg.MaxStakeTotal = v
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
