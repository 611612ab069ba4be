package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string

	// Timezone decides which calendar day "today" is for due dates.
	Timezone string

	// Recurrence policy
	OverdueRatio float64
	ResetOnEarly bool

	// Reminders
	ReminderHour int
	RemindersOn  bool

	// Reminder email via Postmark. Digests are only logged when the token is empty.
	PostmarkToken string
	EmailFrom     string

	ShutdownPeriod time.Duration
}

// Load reads configuration from the environment, after loading a .env file
// if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("FLATCHORES_PORT", "8080"),
		DBPath:         getEnv("FLATCHORES_DB_PATH", "flatchores.db"),
		LogLevel:       getEnv("FLATCHORES_LOG_LEVEL", "info"),
		LogFormat:      getEnv("FLATCHORES_LOG_FORMAT", "text"),
		Timezone:       getEnv("FLATCHORES_TIMEZONE", "UTC"),
		OverdueRatio:   getFloatEnv("FLATCHORES_OVERDUE_RATIO", 0.5),
		ResetOnEarly:   getBoolEnv("FLATCHORES_RESET_ON_EARLY", true),
		ReminderHour:   getIntEnv("FLATCHORES_REMINDER_HOUR", 8),
		RemindersOn:    getBoolEnv("FLATCHORES_REMINDERS", true),
		PostmarkToken:  getEnv("POSTMARK_SERVER_TOKEN", ""),
		EmailFrom:      getEnv("FLATCHORES_EMAIL_FROM", "chores@localhost"),
		ShutdownPeriod: getDurationEnv("FLATCHORES_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.OverdueRatio <= 0 {
		return fmt.Errorf("FLATCHORES_OVERDUE_RATIO must be positive, got %v", c.OverdueRatio)
	}
	if c.ReminderHour < 0 || c.ReminderHour > 23 {
		return fmt.Errorf("FLATCHORES_REMINDER_HOUR must be 0-23, got %d", c.ReminderHour)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("FLATCHORES_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
