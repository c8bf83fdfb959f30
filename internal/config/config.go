package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port          string
	AllowedOrigin string
	LogLevel      string

	// Gym REST backend
	DataBackend string
	APIBaseURL  string
	APITimeout  time.Duration

	// Payments seeded into the in-memory backend
	MemorySeedFile string

	// Session flag mirror
	MirrorBackend string
	SQLiteDBPath  string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets settlement report
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Caja workflow
	ShiftScheduleFile string
	ErrorDisplay      time.Duration
	PaymentsCacheTTL  time.Duration
	RateLimitPerMin   int
}

var (
	validDataBackends   = []string{"rest", "memory"}
	validMirrorBackends = []string{"sqlite", "memory"}
)

func Load() *Config {
	cfg := &Config{
		Port:          getEnv("PORT", "8081"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://localhost:3000"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DataBackend: getEnv("DATA_BACKEND", "rest"),
		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:4000"),
		APITimeout:  getEnvDuration("API_TIMEOUT", 10*time.Second),

		MemorySeedFile: getEnv("MEMORY_SEED_FILE", ""),

		MirrorBackend: getEnv("MIRROR_BACKEND", "sqlite"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/gymspace.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "gymspace"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "caja_events"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Cierres"),

		ShiftScheduleFile: getEnv("SHIFT_SCHEDULE_FILE", ""),
		ErrorDisplay:      getEnvDuration("ERROR_DISPLAY", 5*time.Second),
		PaymentsCacheTTL:  getEnvDuration("PAYMENTS_CACHE_TTL", 30*time.Second),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validDataBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validDataBackends))
	}

	if c.DataBackend == "rest" {
		if parsedURL, err := url.Parse(c.APIBaseURL); err != nil || c.APIBaseURL == "" {
			errors = append(errors, fmt.Sprintf("invalid API base URL '%s'", c.APIBaseURL))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
		}
		if c.APITimeout < time.Second {
			errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be at least 1 second", c.APITimeout))
		}
	}

	if !slices.Contains(validMirrorBackends, c.MirrorBackend) {
		errors = append(errors, fmt.Sprintf("invalid mirror backend '%s': must be one of %v", c.MirrorBackend, validMirrorBackends))
	}

	if c.MirrorBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite mirror")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" && strings.TrimSpace(c.GoogleSheetName) == "" {
		errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
	}

	if c.ShiftScheduleFile != "" {
		if _, err := os.Stat(c.ShiftScheduleFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("shift schedule file does not exist: %s", c.ShiftScheduleFile))
		}
	}

	if c.ErrorDisplay < time.Second {
		errors = append(errors, fmt.Sprintf("invalid error display duration %v: must be at least 1 second", c.ErrorDisplay))
	}
	if c.PaymentsCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid payments cache TTL %v: must not be negative", c.PaymentsCacheTTL))
	}
	if c.RateLimitPerMin < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMin))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
