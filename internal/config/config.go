package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backend constants
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds infrastructure-level configuration.
type Config struct {
	// Server
	Port int

	// Storage
	StorageBackend string // postgres or memory
	PostgresDSN    string

	// Secrets
	AuthSecret          string // HMAC key for owner session and access tokens
	CustodyMasterSecret string // root secret for per-user wallet passwords

	// Relay protocol
	RequestTTL             time.Duration // lifetime of a pending signing request
	AutoApproveRiskCeiling int           // requests scoring at or above this never auto-approve
	SweepInterval          time.Duration // cadence of the expiry sweep

	// Rate limiting (DApp-facing routes)
	RateLimitRPS     int
	RateLimitBurst   int
	RateLimitEnabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                   getEnvInt("PORT", 8080),
		StorageBackend:         getEnv("STORAGE_BACKEND", BackendPostgres),
		PostgresDSN:            getEnv("POSTGRES_DSN", ""),
		AuthSecret:             getEnv("AUTH_SECRET", ""),
		CustodyMasterSecret:    getEnv("CUSTODY_MASTER_SECRET", ""),
		RequestTTL:             getEnvDuration("RELAY_REQUEST_TTL", 10*time.Minute),
		AutoApproveRiskCeiling: getEnvInt("AUTO_APPROVE_RISK_CEILING", 40),
		SweepInterval:          getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		RateLimitRPS:           getEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:         getEnvInt("RATE_LIMIT_BURST", 40),
		RateLimitEnabled:       getEnvBool("RATE_LIMIT_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.StorageBackend != BackendPostgres && c.StorageBackend != BackendMemory {
		return fmt.Errorf("STORAGE_BACKEND must be 'postgres' or 'memory', got: %s", c.StorageBackend)
	}

	if c.StorageBackend == BackendPostgres && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required when STORAGE_BACKEND is 'postgres'")
	}

	if c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.CustodyMasterSecret == "" {
		return fmt.Errorf("CUSTODY_MASTER_SECRET is required")
	}

	if c.RequestTTL <= 0 {
		return fmt.Errorf("RELAY_REQUEST_TTL must be positive")
	}

	if c.AutoApproveRiskCeiling < 0 || c.AutoApproveRiskCeiling > 100 {
		return fmt.Errorf("AUTO_APPROVE_RISK_CEILING must be in [0, 100], got: %d", c.AutoApproveRiskCeiling)
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
