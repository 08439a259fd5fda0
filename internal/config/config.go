// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	BaseURL     string
	SessionFile string
	DBPath      string
	FrontendURL string

	// Browser launch options.
	Headless   bool
	ChromePath string

	// Relay timing. StablePolls is the number of consecutive identical
	// non-empty reads required before a reply counts as finished.
	DefaultTimeout time.Duration
	PollInterval   time.Duration
	StablePolls    int

	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	stablePolls := getEnvInt("STABLE_POLLS", 3)
	if stablePolls < 2 {
		// Two identical reads separated by the poll interval is the
		// minimum acceptable stability bar.
		stablePolls = 2
	}

	queueSize := getEnvInt("QUEUE_SIZE", 64)
	if queueSize <= 0 {
		queueSize = 64
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		BaseURL:        getEnv("BASE_URL", "https://chatgpt.com"),
		SessionFile:    getEnv("SESSION_FILE", "./data/session.json"),
		DBPath:         getEnv("DB_PATH", "./data/chatrelay.db"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		Headless:       getEnvBool("HEADLESS", true),
		ChromePath:     getEnv("CHROME_PATH", ""),
		DefaultTimeout: time.Duration(getEnvInt("DEFAULT_TIMEOUT_MS", 120000)) * time.Millisecond,
		PollInterval:   time.Duration(getEnvInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		StablePolls:    stablePolls,
		QueueSize:      queueSize,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL cannot be empty")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("BASE_URL must be an absolute http(s) URL")
	}
	if c.SessionFile == "" {
		return fmt.Errorf("SESSION_FILE cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("DEFAULT_TIMEOUT_MS must be > 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be > 0")
	}
	if c.DefaultTimeout <= c.PollInterval {
		return fmt.Errorf("DEFAULT_TIMEOUT_MS must exceed POLL_INTERVAL_MS")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
