package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	DBPath     string
	ServerPort string
	LogLevel   string

	// Feed pagination bounds. The private feed is effectively endless, so
	// the walk stops after FeedPageCap pages or after FeedIdlePageRun
	// consecutive pages yielding no new game identifiers.
	FeedPageCap     int
	FeedIdlePageRun int
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DBPath:          getEnv("DB_PATH", "geodash.db"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		FeedPageCap:     getEnvInt("FEED_PAGE_CAP", 50),
		FeedIdlePageRun: getEnvInt("FEED_IDLE_PAGE_RUN", 3),
	}

	if cfg.FeedPageCap <= 0 {
		return nil, fmt.Errorf("FEED_PAGE_CAP must be positive, got %d", cfg.FeedPageCap)
	}
	if cfg.FeedIdlePageRun <= 0 {
		return nil, fmt.Errorf("FEED_IDLE_PAGE_RUN must be positive, got %d", cfg.FeedIdlePageRun)
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Int("feed_page_cap", cfg.FeedPageCap).
		Int("feed_idle_page_run", cfg.FeedIdlePageRun).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
