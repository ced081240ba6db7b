// Package config loads runtime settings from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings for the chat server.
type Config struct {
	Port               string
	DBPath             string
	DBDebug            bool
	JWTSecret          string
	JWTIssuer          string
	HistoryLimit       int
	OutboxSize         int
	StoreRetryAttempts int
	StoreRetryBackoff  time.Duration
	CORSAllowedOrigins string
}

// Default returns the settings used when no environment overrides exist.
func Default() Config {
	return Config{
		Port:               "3000",
		DBPath:             "chat.db",
		JWTSecret:          "change-me-in-production",
		JWTIssuer:          "live-chat",
		HistoryLimit:       100,
		OutboxSize:         64,
		StoreRetryAttempts: 3,
		StoreRetryBackoff:  50 * time.Millisecond,
		CORSAllowedOrigins: "http://localhost:5173,http://localhost:3000",
	}
}

// Load builds a Config from the environment, falling back to Default.
func Load() Config {
	def := Default()
	return Config{
		Port:               getEnv("PORT", def.Port),
		DBPath:             getEnv("DB_PATH", def.DBPath),
		DBDebug:            getEnvBool("DB_DEBUG", def.DBDebug),
		JWTSecret:          getEnv("JWT_SECRET", def.JWTSecret),
		JWTIssuer:          getEnv("JWT_ISSUER", def.JWTIssuer),
		HistoryLimit:       getEnvInt("HISTORY_LIMIT", def.HistoryLimit),
		OutboxSize:         getEnvInt("OUTBOX_SIZE", def.OutboxSize),
		StoreRetryAttempts: getEnvInt("STORE_RETRY_ATTEMPTS", def.StoreRetryAttempts),
		StoreRetryBackoff:  getEnvDuration("STORE_RETRY_BACKOFF", def.StoreRetryBackoff),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", def.CORSAllowedOrigins),
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
