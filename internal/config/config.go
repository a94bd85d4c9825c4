package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the explicit application configuration, constructed once at
// startup and passed by reference into the components that need it. Nothing
// reads the environment past FromEnv.
type Config struct {
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// TokenDir is where per-account OAuth token files live.
	TokenDir string

	DatabasePath string
	ListenAddr   string
	LogLevel     string

	// SyncCron is the periodic full-sync schedule (cron spec or @every).
	SyncCron string

	Workers       int
	RatePerSecond float64
	MinInterval   time.Duration
}

// FromEnv reads configuration from the environment with sensible defaults.
func FromEnv() *Config {
	return &Config{
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		TokenDir:           envOr("TOKEN_DIR", "."),
		DatabasePath:       envOr("DATABASE_PATH", "./calsync.db"),
		ListenAddr:         envOr("LISTEN_ADDR", ":8080"),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		SyncCron:           envOr("SYNC_CRON", "@every 5m"),
		Workers:            envInt("SYNC_WORKERS", 4),
		RatePerSecond:      envFloat("SYNC_RATE_PER_SECOND", 5),
		MinInterval:        time.Second,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
