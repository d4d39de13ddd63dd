package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mr-tron/base58"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	MnemonicFile string `envconfig:"PAYFLOW_MNEMONIC_FILE"`
	DBPath       string `envconfig:"PAYFLOW_DB_PATH" default:"./data/payflow.sqlite"`
	Port         int    `envconfig:"PAYFLOW_PORT" default:"8080"`
	LogLevel     string `envconfig:"PAYFLOW_LOG_LEVEL" default:"info"`
	LogDir       string `envconfig:"PAYFLOW_LOG_DIR" default:"./logs"`
	Network      string `envconfig:"PAYFLOW_NETWORK" default:"devnet"`

	AllowedOrigins []string `envconfig:"PAYFLOW_ALLOWED_ORIGINS"`

	RPCURL      string  `envconfig:"PAYFLOW_RPC_URL"`
	RPCRateRPS  float64 `envconfig:"PAYFLOW_RPC_RATE_RPS" default:"10"`
	USDCMint    string  `envconfig:"PAYFLOW_USDC_MINT"`
	JupiterURL  string  `envconfig:"PAYFLOW_JUPITER_URL" default:"https://quote-api.jup.ag"`
	FeePayerIdx uint32  `envconfig:"PAYFLOW_FEE_PAYER_INDEX" default:"0"`
	// Custodial user wallets are derived at indices 1..UserAccounts.
	UserAccounts uint32 `envconfig:"PAYFLOW_USER_ACCOUNTS" default:"100"`

	ConfirmationTimeoutSec int `envconfig:"PAYFLOW_CONFIRMATION_TIMEOUT_SEC" default:"180"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	// godotenv does NOT override already-set env vars.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "file", ".env", "error", err)
		} else {
			slog.Info("loaded .env file", "file", ".env")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	cfg.applyNetworkDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyNetworkDefaults fills the RPC endpoint and USDC mint from the selected network
// when they were not set explicitly.
func (c *Config) applyNetworkDefaults() {
	if c.RPCURL == "" {
		if c.Network == "mainnet" {
			c.RPCURL = LedgerMainnetRPC
		} else {
			c.RPCURL = LedgerDevnetRPC
		}
	}
	if c.USDCMint == "" {
		if c.Network == "mainnet" {
			c.USDCMint = USDCMintMainnet
		} else {
			c.USDCMint = USDCMintDevnet
		}
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Network != "mainnet" && c.Network != "devnet" {
		return fmt.Errorf("%w: network must be \"mainnet\" or \"devnet\", got %q", ErrInvalidConfig, c.Network)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.RPCRateRPS <= 0 {
		return fmt.Errorf("%w: rpc rate must be positive, got %v", ErrInvalidConfig, c.RPCRateRPS)
	}
	if c.UserAccounts > MaxUserAccounts {
		return fmt.Errorf("%w: user accounts must be at most %d, got %d", ErrInvalidConfig, MaxUserAccounts, c.UserAccounts)
	}
	if c.ConfirmationTimeoutSec <= 0 {
		return fmt.Errorf("%w: confirmation timeout must be positive, got %d", ErrInvalidConfig, c.ConfirmationTimeoutSec)
	}
	if c.USDCMint != "" {
		raw, err := base58.Decode(c.USDCMint)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("%w: usdc mint %q is not a 32-byte base58 key", ErrInvalidConfig, c.USDCMint)
		}
	}
	return nil
}
