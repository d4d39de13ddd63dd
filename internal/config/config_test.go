package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Network:                "devnet",
		Port:                   8080,
		RPCRateRPS:             10,
		ConfirmationTimeoutSec: 180,
		USDCMint:               USDCMintDevnet,
	}
}

func TestValidate_Valid(t *testing.T) {
	for _, network := range []string{"mainnet", "devnet"} {
		cfg := validConfig()
		cfg.Network = network
		require.NoError(t, cfg.Validate(), "network %s", network)
	}
}

func TestValidate_InvalidNetwork(t *testing.T) {
	tests := []struct {
		name    string
		network string
	}{
		{"empty", ""},
		{"foobar", "foobar"},
		{"Mainnet case sensitive", "Mainnet"},
		{"testnet", "testnet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Network = tt.network
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		cfg := validConfig()
		cfg.Port = port
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "port %d", port)
	}
}

func TestValidate_InvalidMint(t *testing.T) {
	cfg := validConfig()
	cfg.USDCMint = "not-a-key"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.USDCMint = "3yZe7d"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidate_NonPositiveLimits(t *testing.T) {
	cfg := validConfig()
	cfg.RPCRateRPS = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validConfig()
	cfg.ConfirmationTimeoutSec = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidate_UserAccountsLimit(t *testing.T) {
	cfg := validConfig()
	cfg.UserAccounts = MaxUserAccounts
	require.NoError(t, cfg.Validate())

	cfg.UserAccounts = MaxUserAccounts + 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestApplyNetworkDefaults(t *testing.T) {
	cfg := &Config{Network: "mainnet"}
	cfg.applyNetworkDefaults()
	assert.Equal(t, LedgerMainnetRPC, cfg.RPCURL)
	assert.Equal(t, USDCMintMainnet, cfg.USDCMint)

	cfg = &Config{Network: "devnet", RPCURL: "http://localhost:8899"}
	cfg.applyNetworkDefaults()
	assert.Equal(t, "http://localhost:8899", cfg.RPCURL)
	assert.Equal(t, USDCMintDevnet, cfg.USDCMint)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PAYFLOW_NETWORK", "mainnet")
	t.Setenv("PAYFLOW_PORT", "9090")
	t.Setenv("PAYFLOW_RPC_RATE_RPS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 4.0, cfg.RPCRateRPS)
	assert.Equal(t, LedgerMainnetRPC, cfg.RPCURL)
	assert.Equal(t, 180, cfg.ConfirmationTimeoutSec)
}
