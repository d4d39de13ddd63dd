package models

import (
	"fmt"
	"time"
)

// Mint identifies which token a ledger account holds.
type Mint string

const (
	MintUSDC   Mint = "USDC"
	MintNative Mint = "NATIVE"
)

// Valid reports whether m is a known mint.
func (m Mint) Valid() bool {
	return m == MintUSDC || m == MintNative
}

// Provider is the external on-ramp used for a purchase.
type Provider string

const (
	ProviderStripe   Provider = "STRIPE"
	ProviderCoinbase Provider = "COINBASE"
	ProviderUnknown  Provider = "UNKNOWN"
)

// ParseProvider maps a client supplied name to a Provider. Unrecognised names
// map to ProviderUnknown.
func ParseProvider(s string) Provider {
	switch Provider(s) {
	case ProviderStripe, ProviderCoinbase:
		return Provider(s)
	default:
		return ProviderUnknown
	}
}

// Stage is a purchase flow stage.
type Stage string

const (
	StageStart              Stage = "START"
	StagePurchasing         Stage = "PURCHASING"
	StageConfirmingPurchase Stage = "CONFIRMING_PURCHASE"
	StageCanceled           Stage = "CANCELED"
	StageFinish             Stage = "FINISH"
)

// stageEdges lists the only forward transitions a purchase may take.
var stageEdges = map[Stage][]Stage{
	StageStart:              {StagePurchasing},
	StagePurchasing:         {StageConfirmingPurchase, StageCanceled},
	StageConfirmingPurchase: {StageFinish},
}

// CanTransition reports whether moving from s to next is a valid edge.
func (s Stage) CanTransition(next Stage) bool {
	for _, allowed := range stageEdges[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further forward transition exists.
func (s Stage) Terminal() bool {
	return s == StageFinish || s == StageCanceled
}

// Active reports whether a purchase in stage s blocks a new one.
func (s Stage) Active() bool {
	return s == StagePurchasing || s == StageConfirmingPurchase
}

// PurchaseIntent is the state of one purchase, owned by its controller.
type PurchaseIntent struct {
	ID            string   `json:"id"`
	Provider      Provider `json:"provider"`
	DesiredAmount uint64   `json:"desiredAmount"`
	Stage         Stage    `json:"stage"`
	Err           error    `json:"-"`
}

// ErrorMessage returns the user facing error text, if any.
func (p PurchaseIntent) ErrorMessage() string {
	if p.Err == nil {
		return ""
	}
	return p.Err.Error()
}

// TokenAccountRef points at the token account holding mint for owner.
// Exists is only ever set from a live ledger lookup.
type TokenAccountRef struct {
	Mint    Mint   `json:"mint"`
	Owner   string `json:"owner"`
	Account string `json:"account"`
	Exists  bool   `json:"exists"`
}

func (r TokenAccountRef) String() string {
	return fmt.Sprintf("%s:%s@%s", r.Mint, r.Owner, r.Account)
}

// StageChange records one transition for observers.
type StageChange struct {
	From Stage     `json:"from"`
	To   Stage     `json:"to"`
	At   time.Time `json:"at"`
}

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Data interface{} `json:"data,omitempty"`
	Meta *APIMeta    `json:"meta,omitempty"`
}

// APIMeta contains execution metadata.
type APIMeta struct {
	ExecutionTime int64 `json:"executionTime,omitempty"`
}

// APIError is the standard error response.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail contains error code and message.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
