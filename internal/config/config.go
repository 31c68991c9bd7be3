// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration, read from environment variables.
type Config struct {
	DatabaseURL      string
	SessionDBPath    string
	HTTPPort         string
	RateLimitPerMin  int
	AutoReconnect    bool
	ReconnectDelay   time.Duration
	RuleReloadEvery  time.Duration
	BulkSendDelay    time.Duration
	SendRetryDelay   time.Duration
	AMQPURL          string
	HourlyRollupTick time.Duration
	DailyRollupTick  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      databaseURL(),
		SessionDBPath:    getEnv("SESSION_DB_PATH", "./data/session.db"),
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
		AutoReconnect:    getEnvBool("AUTO_RECONNECT", true),
		ReconnectDelay:   time.Duration(getEnvInt("RECONNECT_DELAY_SECONDS", 10)) * time.Second,
		RuleReloadEvery:  time.Duration(getEnvInt("RULE_RELOAD_MINUTES", 5)) * time.Minute,
		BulkSendDelay:    time.Duration(getEnvInt("BULK_DELAY_MS", 3000)) * time.Millisecond,
		SendRetryDelay:   time.Duration(getEnvInt("SEND_RETRY_SECONDS", 60)) * time.Second,
		AMQPURL:          getEnv("AMQP_URL", ""),
		HourlyRollupTick: time.Hour,
		DailyRollupTick:  24 * time.Hour,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are usable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL (or DB_USER/DB_PASSWORD/DB_HOST/DB_PORT/DB_NAME) must be set")
	}
	if c.SessionDBPath == "" {
		return fmt.Errorf("SESSION_DB_PATH cannot be empty")
	}
	if c.RateLimitPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if c.RuleReloadEvery <= 0 {
		return fmt.Errorf("RULE_RELOAD_MINUTES must be > 0")
	}
	return nil
}

// databaseURL prefers DATABASE_URL and falls back to the discrete DB_* vars.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	user := os.Getenv("DB_USER")
	pass := os.Getenv("DB_PASSWORD")
	host := os.Getenv("DB_HOST")
	port := os.Getenv("DB_PORT")
	name := os.Getenv("DB_NAME")
	if user == "" || host == "" || name == "" {
		return ""
	}
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
}

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
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
