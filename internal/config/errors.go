package config

import (
	"errors"
	"time"
)

// Sentinel errors for internal use.
var (
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrMnemonicNotSet  = errors.New("mnemonic file path not configured")
	ErrKeyDerivation   = errors.New("key derivation failed")
	ErrUnknownSigner   = errors.New("no key available for required signer")

	// Validation
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidDestination = errors.New("invalid destination address")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAmountTooSmall     = errors.New("amount does not cover destination account funding")

	// Accounts
	ErrResolutionFailed        = errors.New("token account resolution failed")
	ErrDestinationDoesNotExist = errors.New("destination token account does not exist")
	ErrWrongMint               = errors.New("token account holds a different mint")
	ErrAccountNotFound         = errors.New("account not found")
	ErrNotTokenAccount         = errors.New("account is not a token account")

	// Composition
	ErrInstructionOrder     = errors.New("instructions out of dependency order")
	ErrEmptyInstructionSet  = errors.New("instruction set is empty")
	ErrInstructionSetReused = errors.New("instruction set already built against a blockhash")
	ErrTooManyInstructions  = errors.New("instruction set exceeds maximum instruction count")

	// Swap
	ErrSwapQuoteFailed    = errors.New("swap quote failed")
	ErrSwapRouteShortfall = errors.New("swap route yields less than requested output")
	ErrSwapBuildFailed    = errors.New("swap instruction build failed")
	ErrInvalidSlippage    = errors.New("invalid slippage tolerance")

	// Submission
	ErrSubmitFailed        = errors.New("transaction submission failed")
	ErrBlockhashExpired    = errors.New("recent blockhash expired")
	ErrConfirmationTimeout = errors.New("transaction confirmation timeout")
	ErrTxFailed            = errors.New("transaction failed on-chain")

	// Flows
	ErrTimeout            = errors.New("operation timed out")
	ErrPurchaseInProgress = errors.New("purchase already in progress")
	ErrInvalidTransition  = errors.New("invalid stage transition")
	ErrPurchaseCanceled   = errors.New("purchase canceled by provider")
	ErrPollExhausted      = errors.New("balance did not change before retries were exhausted")
	ErrWithdrawInProgress = errors.New("withdrawal already in progress")
	ErrNothingToResume    = errors.New("no pending transfer to resume")

	// Circuit Breaker
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// Provider
	ErrProviderTimeout     = errors.New("provider request timeout")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRateLimit   = errors.New("provider rate limit exceeded")
)

// TransientError wraps an error that should be retried.
type TransientError struct {
	Err        error
	RetryAfter time.Duration // 0 = use default backoff
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient (retriable).
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// NewTransientErrorWithRetry wraps with explicit retry delay.
func NewTransientErrorWithRetry(err error, retryAfter time.Duration) error {
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

// IsTransient returns true if the error is transient (retriable).
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// GetRetryAfter returns the retry delay if set, or 0.
func GetRetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// IsValidation reports whether err is a terminal validation error that must
// never be retried automatically.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidDestination) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAmountTooSmall)
}

// Error codes shared with clients via API responses.
const (
	ErrorInvalidConfig      = "ERROR_INVALID_CONFIG"
	ErrorInvalidRequest     = "ERROR_INVALID_REQUEST"
	ErrorInvalidAmount      = "ERROR_INVALID_AMOUNT"
	ErrorInvalidDestination = "ERROR_INVALID_DESTINATION"
	ErrorInvalidProvider    = "ERROR_INVALID_PROVIDER"
	ErrorInsufficientFunds  = "ERROR_INSUFFICIENT_FUNDS"
	ErrorAmountTooSmall     = "ERROR_AMOUNT_TOO_SMALL"
	ErrorDatabase           = "ERROR_DATABASE"

	// Accounts
	ErrorResolutionFailed        = "ERROR_RESOLUTION_FAILED"
	ErrorDestinationDoesNotExist = "ERROR_DESTINATION_DOES_NOT_EXIST"

	// Flows
	ErrorPurchaseInProgress = "ERROR_PURCHASE_IN_PROGRESS"
	ErrorPurchaseNotFound   = "ERROR_PURCHASE_NOT_FOUND"
	ErrorPurchaseFailed     = "ERROR_PURCHASE_FAILED"
	ErrorWithdrawInProgress = "ERROR_WITHDRAW_IN_PROGRESS"
	ErrorWithdrawFailed     = "ERROR_WITHDRAW_FAILED"
	ErrorWithdrawPartial    = "ERROR_WITHDRAW_PARTIAL"

	// Submission
	ErrorTxBroadcastFailed   = "ERROR_TX_BROADCAST_FAILED"
	ErrorConfirmationTimeout = "ERROR_CONFIRMATION_TIMEOUT"

	// Circuit Breaker
	ErrorCircuitOpen = "ERROR_CIRCUIT_OPEN"

	// Provider
	ErrorProviderTimeout = "ERROR_PROVIDER_TIMEOUT"
	ErrorStreaming       = "ERROR_STREAMING_UNSUPPORTED"
)
