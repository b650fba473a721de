// Package config handles loading runtime configuration for the scorecard sync service.
// Configuration values (like the database URL, push timings and the JWT secret) are read
// from environment variables rather than being hardcoded, so the same binary can run as a
// local in-memory server during development and against Postgres in production.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"
	// godotenv reads a .env file and loads its key=value pairs into the process environment.
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values for the application.
type Config struct {
	Port        string // The TCP port the HTTP server will listen on (e.g., "8080")
	DatabaseURL string // PostgreSQL connection string; empty means "use the in-memory store"
	JWTSecret   string // HMAC secret used to verify bearer tokens
	Env         string // "development", "staging", or "production"

	// --- Synchronizer timings ---
	PushDebounce        time.Duration // How long a scheduled push waits for more mutations to collapse into it
	PushRetryInterval   time.Duration // How often a dirty aggregate that failed to push is retried
	RemovalTombstoneTTL time.Duration // How long a removed participant id blocks a late "added" event

	// --- Merge family ---
	ReconcileTolerance time.Duration // lastUpdated difference treated as "already in sync"
	TxMaxAttempts      int           // Optimistic transaction attempts before giving up
	Location           *time.Location

	// FeedBuffer is the per-subscriber event buffer of the change-feed hub.
	FeedBuffer int
}

// Defaults returns the configuration used when no environment variables are set.
// Tests build on it so they don't depend on the process environment.
func Defaults() *Config {
	return &Config{
		Port:                "8080",
		Env:                 "development",
		PushDebounce:        250 * time.Millisecond,
		PushRetryInterval:   5 * time.Second,
		RemovalTombstoneTTL: 30 * time.Second,
		ReconcileTolerance:  500 * time.Millisecond,
		TxMaxAttempts:       5,
		Location:            time.Local,
		FeedBuffer:          64,
	}
}

// Load reads configuration from environment variables and returns a populated Config.
// It first tries to load a .env file for local development; a missing .env is fine.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Defaults()
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	cfg.PushDebounce = durationEnv("PUSH_DEBOUNCE", cfg.PushDebounce)
	cfg.PushRetryInterval = durationEnv("PUSH_RETRY_INTERVAL", cfg.PushRetryInterval)
	cfg.RemovalTombstoneTTL = durationEnv("REMOVAL_TOMBSTONE_TTL", cfg.RemovalTombstoneTTL)
	cfg.ReconcileTolerance = durationEnv("RECONCILE_TOLERANCE", cfg.ReconcileTolerance)
	cfg.TxMaxAttempts = intEnv("TX_MAX_ATTEMPTS", cfg.TxMaxAttempts)
	cfg.FeedBuffer = intEnv("FEED_BUFFER", cfg.FeedBuffer)

	if tz := os.Getenv("TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			glog.Warningf("config: invalid TIMEZONE %q, using local time: %v", tz, err)
		} else {
			cfg.Location = loc
		}
	}

	return cfg
}

// IsDevelopment reports whether the server runs in development mode.
// In development an unset JWT_SECRET means tokens are parsed without verification.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// durationEnv parses a Go duration string ("250ms", "5s") from the environment.
// Invalid values are logged and replaced by the default rather than stopping startup.
func durationEnv(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		glog.Warningf("config: invalid %s=%q, using %s", key, raw, def)
		return def
	}
	return d
}

func intEnv(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		glog.Warningf("config: invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return n
}
