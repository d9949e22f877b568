// Package config loads application configuration from environment
// variables, with an .env file as an optional local override.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration, loaded once at startup and
// never mutated afterward.
type Config struct {
	DataDir          string
	DatabasePath     string
	EncryptionKey    string // 32-byte key (hex or raw) for credential-at-rest encryption
	Port             int
	LogLevel         string
	DevMode          bool
	ExchangeBaseURL  string
	SyncInterval     time.Duration
	BearerToken      string // optional; read from BEARER_TOKEN, not wired to any middleware
	CORSOrigins      []string
}

// Load reads configuration from the environment, applying an .env file
// first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")

	databasePath := getEnv("DATABASE_PATH", "")
	if databasePath == "" {
		databasePath = dataDir + "/ledger.db"
	}

	cfg := &Config{
		DataDir:         dataDir,
		DatabasePath:    databasePath,
		EncryptionKey:   getEnv("ENCRYPTION_KEY", ""),
		Port:            getEnvAsInt("PORT", 8080),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		ExchangeBaseURL: getEnv("EXCHANGE_BASE_URL", "https://api.binance.com"),
		SyncInterval:    time.Duration(getEnvAsInt("SYNC_INTERVAL_MINUTES", 15)) * time.Minute,
		BearerToken:     getEnv("BEARER_TOKEN", ""),
		CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"*"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the minimum configuration an orchestrator needs to run.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required to store account credentials")
	}
	if c.SyncInterval < 5*time.Minute {
		return fmt.Errorf("SYNC_INTERVAL_MINUTES must be at least 5 minutes")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			if i > start {
				out = append(out, value[start:i])
			}
			start = i + 1
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
