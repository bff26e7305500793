package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	// Server
	HTTPAddr  string
	RedisAddr string
	RedisPass string

	// Matching
	MatchWindow          time.Duration
	MatchMaxSkew         time.Duration
	AmountToleranceCents int64
	AutoApprove          bool

	// Background work
	MatchInterval       time.Duration
	PayoutCheckInterval time.Duration
	Workers             int
}

// Load loads environment variables into AppConfig.
func Load() AppConfig {
	return AppConfig{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8000"),
		RedisAddr: getEnv("REDIS_ADDR", "redis-mikrobill:6379"),
		RedisPass: getEnv("REDIS_PASS", ""),

		MatchWindow:          time.Duration(getEnvInt("MATCH_WINDOW_HOURS", 72)) * time.Hour,
		MatchMaxSkew:         time.Duration(getEnvInt("MATCH_MAX_SKEW_SECONDS", 300)) * time.Second,
		AmountToleranceCents: int64(getEnvInt("MATCH_AMOUNT_TOLERANCE_CENTS", 0)),
		AutoApprove:          getEnvBool("AUTO_APPROVE", true),

		MatchInterval:       time.Duration(getEnvInt("MATCH_INTERVAL_SECONDS", 300)) * time.Second,
		PayoutCheckInterval: time.Duration(getEnvInt("PAYOUT_CHECK_INTERVAL_SECONDS", 3600)) * time.Second,
		Workers:             getEnvInt("WORKERS", 4),
	}
}

// --- Helper functions ---

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.ToLower(v) == "true"
	}
	return fallback
}
