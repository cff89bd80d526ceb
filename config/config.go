package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the gateway node
type Config struct {
	// Server Configuration
	HTTPPort string

	// Database Configuration (optional mirror persistence)
	UseDatabase  bool
	DatabaseHost string
	DatabasePort string
	DatabaseUser string
	DatabasePass string
	DatabaseName string

	// Ledger Interaction
	ConfirmTimeout    time.Duration
	ReconcileInterval time.Duration

	// Key Management
	KeyringPath string
	DevAccounts int

	// Advisory Forecasting
	PriceDataPath string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		// Server
		HTTPPort: getEnv("HTTP_PORT", "8000"),

		// Database
		UseDatabase:  getEnvBool("USE_DB", false),
		DatabaseHost: getEnv("DB_HOST", "localhost"),
		DatabasePort: getEnv("DB_PORT", "5432"),
		DatabaseUser: getEnv("DB_USER", "postgres"),
		DatabasePass: getEnv("DB_PASS", "postgrespassword"),
		DatabaseName: getEnv("DB_NAME", "agroforward"),

		// Ledger interaction
		ConfirmTimeout:    getEnvDuration("CONFIRM_TIMEOUT", 30*time.Second),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 2*time.Second),

		// Keys
		KeyringPath: getEnv("KEYRING_PATH", "./node-config/keyring.json"),
		DevAccounts: getEnvInt("DEV_ACCOUNTS", 4),

		// Forecasting
		PriceDataPath: getEnv("PRICE_DATA_PATH", "./data/commodity_prices.csv"),
	}
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseUser,
		c.DatabasePass,
		c.DatabaseName,
	)
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT is required")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.UseDatabase && c.DatabaseHost == "" {
		return fmt.Errorf("DB_HOST is required when USE_DB is set")
	}
	return nil
}

// Helper function to get environment variable with default
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
