// Package config handles service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database (optional; in-memory audit store if not set)
	DatabaseURL string

	// Ledger settings
	RPCURL        string
	ChainID       int64
	TokenContract string // ERC-20 contract whose transfers/approvals are watched
	PollInterval  time.Duration
	StartBlock    uint64 // 0 = latest

	// Enforcement (guard) contract
	GuardContract string
	PrivateKey    string // Hex-encoded signer key; empty disables enforcement

	// Detection tuning
	LargeTxThreshold string // Token amount (base units) treated as a large transfer

	// Observability
	OTLPEndpoint string
}

// Defaults target Base Sepolia, same as the rest of the platform.
const (
	DefaultRPCURL       = "https://sepolia.base.org"
	DefaultChainID      = 84532
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultPollInterval = 15 * time.Second

	// 10,000 tokens at 6 decimals.
	DefaultLargeTxThreshold = "10000000000"
)

// Load reads configuration from environment variables.
// A .env file is loaded if present (local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RPCURL:           getEnv("RPC_URL", DefaultRPCURL),
		ChainID:          getEnvInt64("CHAIN_ID", DefaultChainID),
		TokenContract:    os.Getenv("TOKEN_CONTRACT"),
		PollInterval:     getEnvDuration("POLL_INTERVAL", DefaultPollInterval),
		StartBlock:       uint64(getEnvInt64("START_BLOCK", 0)),
		GuardContract:    os.Getenv("GUARD_CONTRACT"),
		PrivateKey:       os.Getenv("PRIVATE_KEY"),
		LargeTxThreshold: getEnv("LARGE_TX_THRESHOLD", DefaultLargeTxThreshold),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency. A missing RPC endpoint or token
// contract is allowed, the indexer then starts offline, but a malformed
// signer key or chain ID is a configuration bug and rejected up front.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("CHAIN_ID must be non-zero")
	}

	if c.PrivateKey != "" {
		key := strings.TrimPrefix(c.PrivateKey, "0x")
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	if c.PrivateKey != "" && c.GuardContract == "" {
		return fmt.Errorf("GUARD_CONTRACT is required when PRIVATE_KEY is set")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}

	return nil
}

// EnforcementEnabled reports whether the guard contract client can be built.
func (c *Config) EnforcementEnabled() bool {
	return c.PrivateKey != "" && c.GuardContract != ""
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
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
