// Package config provides configuration management for the Deepthinks backend.
// It loads settings from environment variables with the DEEPTHINKS_ prefix and
// provides sensible defaults for all configuration options.
//
// Per-user chat preferences (temperature, system prompt, ...) are not process
// configuration; they live in the user_settings table behind
// services.SettingsService.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the Deepthinks application.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	LLM      LLMConfig
	Memory   MemoryConfig
	Security SecurityConfig
	Limits   LimitsConfig
	Uploads  UploadsConfig
	User     UserConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 8990)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine type: sqlite, postgres (default: sqlite)
	SQLitePath    string // Path to the sqlite database file (default: ./deepthinks.db)
	PostgresURL   string // lib/pq connection string, required when engine is postgres
}

// LLMConfig contains provider configuration. The provider speaks the
// OpenAI-compatible chat completions protocol; BaseURL selects the host
// (Together by default).
type LLMConfig struct {
	BaseURL        string        // OpenAI-compatible endpoint (default: https://api.together.xyz/v1)
	APIKey         string        // Provider API key
	Model          string        // Default chat model (default: meta-llama/Llama-3.3-70B-Instruct-Turbo)
	VisionModel    string        // Model used for image requests (default: Qwen/Qwen2.5-VL-72B-Instruct)
	SummaryModel   string        // Model used for summarization; empty = Model
	SummaryTimeout time.Duration // Upper bound on one summarization call (default: 30s)
}

// MemoryConfig contains the adaptive memory tuning knobs. The memory manager
// receives these as an immutable struct at construction.
type MemoryConfig struct {
	MaxContextTokens             int     // Working-memory token budget (default: 3000)
	MinInteractionsBeforeSummary int     // Floor below which compression never triggers (default: 2)
	MaxInteractionsLimit         int     // Hard cap triggering compression regardless of tokens (default: 50)
	SmoothingFactor              float64 // Recency weighting for the dynamic retention estimate, (0,1] (default: 0.8)
	SafetyMargin                 float64 // Fraction of MaxContextTokens used as the trigger threshold, (0,1] (default: 0.9)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string // Security mode: development, production (default: development)
	APIToken     string // API authentication token
}

// LimitsConfig contains request limiting settings.
type LimitsConfig struct {
	RatePerSecond float64 // Sustained requests per second per client (default: 10)
	RateBurst     int     // Burst size per client (default: 20)
	AnonEnabled   bool    // Allow unauthenticated chat requests (default: true)
	AnonLimit     int     // Lifetime request cap per anonymous session (default: 2)
}

// UploadsConfig contains staged-document cache settings.
type UploadsConfig struct {
	StagingTTL time.Duration // How long staged document text survives unused (default: 30m)
	StagingMax int           // Maximum staged entries before LRU eviction (default: 256)
}

// UserConfig identifies the principal that authenticated requests run as.
type UserConfig struct {
	// UserName is the user id that owns sessions created through the
	// authenticated API in development mode. Detected from DEEPTHINKS_USER,
	// then git config user.name, then "default".
	UserName string
}

// LoadConfig loads configuration from environment variables with sensible
// defaults and validates it. All environment variables use the DEEPTHINKS_
// prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise surface as confusing runtime
// behavior deep inside the memory manager.
func (c *Config) Validate() error {
	if c.Memory.MaxContextTokens <= 0 {
		return fmt.Errorf("config: max context tokens must be positive, got %d", c.Memory.MaxContextTokens)
	}
	if c.Memory.MinInteractionsBeforeSummary < 1 {
		return fmt.Errorf("config: min interactions before summary must be >= 1, got %d", c.Memory.MinInteractionsBeforeSummary)
	}
	if c.Memory.MaxInteractionsLimit < c.Memory.MinInteractionsBeforeSummary {
		return fmt.Errorf("config: max interactions limit %d is below min interactions %d",
			c.Memory.MaxInteractionsLimit, c.Memory.MinInteractionsBeforeSummary)
	}
	if c.Memory.SmoothingFactor <= 0 || c.Memory.SmoothingFactor > 1 {
		return fmt.Errorf("config: smoothing factor must be in (0, 1], got %g", c.Memory.SmoothingFactor)
	}
	if c.Memory.SafetyMargin <= 0 || c.Memory.SafetyMargin > 1 {
		return fmt.Errorf("config: safety margin must be in (0, 1], got %g", c.Memory.SafetyMargin)
	}
	if c.Storage.StorageEngine != "sqlite" && c.Storage.StorageEngine != "postgres" {
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine)
	}
	if c.Storage.StorageEngine == "postgres" && c.Storage.PostgresURL == "" {
		return fmt.Errorf("config: postgres engine selected but DEEPTHINKS_POSTGRES_URL is empty")
	}
	if c.LLM.SummaryTimeout <= 0 {
		return fmt.Errorf("config: summary timeout must be positive, got %s", c.LLM.SummaryTimeout)
	}
	return nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("DEEPTHINKS_PORT", 8990),
			Host: getEnv("DEEPTHINKS_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("DEEPTHINKS_STORAGE_ENGINE", "sqlite"),
			SQLitePath:    getEnv("DEEPTHINKS_SQLITE_PATH", "./deepthinks.db"),
			PostgresURL:   getEnv("DEEPTHINKS_POSTGRES_URL", ""),
		},
		LLM: LLMConfig{
			BaseURL:        getEnv("DEEPTHINKS_LLM_BASE_URL", "https://api.together.xyz/v1"),
			APIKey:         getEnv("DEEPTHINKS_LLM_API_KEY", ""),
			Model:          getEnv("DEEPTHINKS_LLM_MODEL", "meta-llama/Llama-3.3-70B-Instruct-Turbo"),
			VisionModel:    getEnv("DEEPTHINKS_VISION_MODEL", "Qwen/Qwen2.5-VL-72B-Instruct"),
			SummaryModel:   getEnv("DEEPTHINKS_SUMMARY_MODEL", ""),
			SummaryTimeout: getEnvDuration("DEEPTHINKS_SUMMARY_TIMEOUT", 30*time.Second),
		},
		Memory: MemoryConfig{
			MaxContextTokens:             getEnvInt("DEEPTHINKS_MAX_CONTEXT_TOKENS", 3000),
			MinInteractionsBeforeSummary: getEnvInt("DEEPTHINKS_MIN_INTERACTIONS", 2),
			MaxInteractionsLimit:         getEnvInt("DEEPTHINKS_MAX_INTERACTIONS", 50),
			SmoothingFactor:              getEnvFloat("DEEPTHINKS_SMOOTHING_FACTOR", 0.8),
			SafetyMargin:                 getEnvFloat("DEEPTHINKS_SAFETY_MARGIN", 0.9),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("DEEPTHINKS_SECURITY_MODE", "development"),
			APIToken:     getEnv("DEEPTHINKS_API_TOKEN", ""),
		},
		Limits: LimitsConfig{
			RatePerSecond: getEnvFloat("DEEPTHINKS_RATE_RPS", 10),
			RateBurst:     getEnvInt("DEEPTHINKS_RATE_BURST", 20),
			AnonEnabled:   getEnvBool("DEEPTHINKS_ANON_ENABLED", true),
			AnonLimit:     getEnvInt("DEEPTHINKS_ANON_LIMIT", 2),
		},
		Uploads: UploadsConfig{
			StagingTTL: getEnvDuration("DEEPTHINKS_UPLOAD_TTL", 30*time.Minute),
			StagingMax: getEnvInt("DEEPTHINKS_UPLOAD_MAX", 256),
		},
		User: UserConfig{
			UserName: detectOperator(),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as a float,
// it returns the default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (time.ParseDuration
// syntax) or returns a default value. Unparseable values fall back to the
// default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
