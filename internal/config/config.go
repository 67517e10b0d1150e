package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Database configuration
	DatabaseURL string

	// Event bus configuration; empty RedisAddr selects the in-process bus
	RedisAddr     string
	RedisPassword string
	RedisStream   string

	// Citation probe configuration
	ProbeBaseURL   string
	ProbeAPIKey    string
	ProbeTimeout   time.Duration
	ProbeRateDelay time.Duration

	// Orchestration
	RunRetries    int
	RetryDelay    time.Duration
	DropThreshold int

	// Notification configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Archive configuration (optional)
	StorageAccount   string
	StorageContainer string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisStream:   getEnv("REDIS_STREAM", "citewatch-events"),

		ProbeBaseURL:   getEnv("PROBE_BASE_URL", ""),
		ProbeAPIKey:    getEnv("PROBE_API_KEY", ""),
		ProbeTimeout:   getDurationEnv("PROBE_TIMEOUT_SECONDS", 45*time.Second),
		ProbeRateDelay: getDurationEnv("PROBE_RATE_DELAY_SECONDS", 5*time.Second),

		RunRetries:    getIntEnv("RUN_RETRIES", 2),
		RetryDelay:    getDurationEnv("RETRY_DELAY_SECONDS", 30*time.Second),
		DropThreshold: getIntEnv("DROP_THRESHOLD", 2),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getIntEnv("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "citewatch-archive"),
	}

	if cfg.SMTPFrom == "" {
		cfg.SMTPFrom = cfg.SMTPUsername
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.ProbeBaseURL == "" {
		return fmt.Errorf("PROBE_BASE_URL is required")
	}

	if c.SMTPHost != "" && (c.SMTPUsername == "" || c.SMTPPassword == "") {
		return fmt.Errorf("SMTP_USERNAME and SMTP_PASSWORD are required when SMTP_HOST is set")
	}

	if c.RunRetries < 0 {
		return fmt.Errorf("RUN_RETRIES must not be negative")
	}

	return nil
}

// EmailEnabled reports whether the primary notification channel is configured.
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != ""
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv reads a seconds-valued variable; fractional values are not
// supported.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed >= 0 {
			return time.Duration(parsed) * time.Second
		}
	}
	return defaultValue
}
