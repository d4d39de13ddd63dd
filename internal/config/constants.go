package config

import "time"

// Token mints (mainnet)
const (
	USDCMintMainnet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCMintDevnet  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	USDCDecimals    = 6
)

// Ledger
const (
	TokenAccountSize      = 165 // bytes, SPL token account
	LedgerCallTimeout     = 15 * time.Second
	RateLimitLedgerRPC    = 10 // requests per second
	LedgerBreakerFailures = 5
	LedgerBreakerTimeout  = 30 * time.Second
	LedgerMainnetRPC      = "https://api.mainnet-beta.solana.com"
	LedgerDevnetRPC       = "https://api.devnet.solana.com"
)

// Submission
const (
	ConfirmationTimeout      = 60 * time.Second
	ConfirmationPollInterval = 2 * time.Second
	MaxInstructionsPerSet    = 20
)

// Confirmation engine
const (
	DefaultConfirmationTimeout = 3 * time.Minute
	ConfirmationQueueDepth     = 64
)

// Swap
const (
	JupiterBaseURL     = "https://quote-api.jup.ag"
	SwapQuoteTimeout   = 10 * time.Second
	DefaultSlippageBps = 50
	MaxSlippageBps     = 1_000
	SwapModeExactIn    = "ExactIn"
	SwapModeExactOut   = "ExactOut"
)

// Withdrawal
const (
	WithdrawalTimeout = 5 * time.Minute
)

// Balance polling
const (
	DefaultPollRetryDelay = 1000 * time.Millisecond
	DefaultPollMaxRetries = 120
)

// Remote config keys
const (
	VarPollRetryDelayMs = "purchase_poll_delay_ms"
	VarPollMaxRetries   = "purchase_poll_max_retries"
	VarSlippageBps      = "swap_slippage_bps"
	VarMismatchPolicy   = "purchase_mismatch_policy"
)

// Purchase reconciliation policies
const (
	MismatchPolicyWarn   = "warn"
	MismatchPolicyReport = "report"
)

// Events
const (
	EventHubBuffer       = 64
	SSEKeepAliveInterval = 15 * time.Second
	ReporterBuffer       = 128
)

// Server
const (
	ServerReadTimeout    = 30 * time.Second
	ServerWriteTimeout   = 0 // SSE streams are long-lived
	ServerIdleTimeout    = 120 * time.Second
	ServerMaxHeaderBytes = 1 << 20
	APITimeout           = 30 * time.Second
	ShutdownTimeout      = 10 * time.Second
)

// Wallet
const (
	MaxUserAccounts = 10_000
)

// Logging
const (
	LogFilePrefix = "payflow-"
	LogMaxAgeDays = 30
)

// Database
const (
	DBBusyTimeout = 5000 // milliseconds
)
