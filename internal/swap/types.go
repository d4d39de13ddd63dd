package swap

import (
	"context"
	"encoding/json"

	"github.com/gagliardetto/solana-go"
)

// QuoteRequest asks for a route between two mints.
type QuoteRequest struct {
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	Amount      uint64
	Mode        string // config.SwapModeExactIn or config.SwapModeExactOut
	SlippageBps int
}

// Quote is a priced route. Raw is the provider payload, handed back verbatim
// when building instructions.
type Quote struct {
	InputMint            string
	OutputMint           string
	InAmount             uint64
	OutAmount            uint64
	OtherAmountThreshold uint64
	SwapMode             string
	SlippageBps          int
	PriceImpactPct       string
	Raw                  json.RawMessage
}

// BuildOptions tells the provider who signs and where the output lands.
type BuildOptions struct {
	User                    solana.PublicKey
	DestinationTokenAccount solana.PublicKey
	WrapAndUnwrapSOL        bool
}

// Provider is the swap aggregator consumed by the instruction composer.
type Provider interface {
	GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error)
	BuildSwapInstructions(ctx context.Context, quote *Quote, opts BuildOptions) ([]solana.Instruction, error)
}
