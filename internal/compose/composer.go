package compose

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/ledger"
	"github.com/Fantasim/payflow/internal/swap"
)

// Associated token account program instruction tag.
const ataCreateIdempotent = 1

// TransferParams describes an SPL token transfer in minor units.
type TransferParams struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Owner       solana.PublicKey
	Amount      uint64
}

// Transfer builds an SPL token transfer instruction.
func Transfer(p TransferParams) (solana.Instruction, error) {
	if p.Amount == 0 {
		return nil, config.ErrInvalidAmount
	}
	ix, err := token.NewTransferInstruction(p.Amount, p.Source, p.Destination, p.Owner, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build transfer: %w", err)
	}
	return ix, nil
}

// CreateAccount builds the instruction creating owner's associated account for mint.
// payer funds the rent.
func CreateAccount(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	ix, err := associatedtokenaccount.NewCreateInstruction(payer, owner, mint).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build create account: %w", err)
	}
	return ix, nil
}

// CreateAccountIdempotent is CreateAccount that succeeds without effect when
// the account already exists.
func CreateAccountIdempotent(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	ata, err := ledger.DeriveATA(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("build create account: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(owner),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.TokenProgramID),
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, accounts, []byte{ataCreateIdempotent}), nil
}

// CloseAccount builds the instruction closing account and sending its lamports to destination.
func CloseAccount(account, destination, owner solana.PublicKey) (solana.Instruction, error) {
	ix, err := token.NewCloseAccountInstruction(account, destination, owner, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build close account: %w", err)
	}
	return ix, nil
}

// TransferSet composes a single-transfer instruction set paid by feePayer.
func TransferSet(feePayer solana.PublicKey, p TransferParams) (InstructionSet, error) {
	ix, err := Transfer(p)
	if err != nil {
		return InstructionSet{}, err
	}
	return NewPlan(feePayer).Add(StepTransfer, "transfer", ix).Build()
}

// CreateAccountSet composes an instruction set creating owner's associated
// account. The create is idempotent, so a concurrent creation elsewhere does
// not fail the set.
func CreateAccountSet(feePayer, owner, mint solana.PublicKey) (InstructionSet, error) {
	ix, err := CreateAccountIdempotent(feePayer, owner, mint)
	if err != nil {
		return InstructionSet{}, err
	}
	return NewPlan(feePayer).Add(StepCreate, "create-account", ix).Build()
}

// Composer builds instruction sets that need a swap route.
type Composer struct {
	swaps swap.Provider
}

// New creates a composer quoting through swaps.
func New(swaps swap.Provider) *Composer {
	slog.Info("instruction composer created")
	return &Composer{swaps: swaps}
}

// SwapParams asks for exactly OutputAmount of OutputMint, paid in InputMint.
type SwapParams struct {
	InputMint               solana.PublicKey
	OutputMint              solana.PublicKey
	OutputAmount            uint64
	User                    solana.PublicKey
	DestinationTokenAccount solana.PublicKey
	SlippageBps             int
}

// SwapLeg is the priced result of Swap.
type SwapLeg struct {
	Instructions []solana.Instruction
	InputAmount  uint64
	OutputAmount uint64
}

// Swap quotes in two steps. A reverse ExactOut quote discovers the input
// needed for the desired output, then a forward ExactIn quote at that input
// yields the route actually executed. Routes are not symmetric, so a forward
// route delivering less than requested fails with config.ErrSwapRouteShortfall.
func (c *Composer) Swap(ctx context.Context, p SwapParams) (*SwapLeg, error) {
	if p.OutputAmount == 0 {
		return nil, config.ErrInvalidAmount
	}

	reverse, err := c.swaps.GetQuote(ctx, swap.QuoteRequest{
		InputMint:   p.InputMint,
		OutputMint:  p.OutputMint,
		Amount:      p.OutputAmount,
		Mode:        config.SwapModeExactOut,
		SlippageBps: p.SlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("reverse quote: %w", err)
	}
	if reverse.InAmount == 0 {
		return nil, fmt.Errorf("%w: reverse quote requires zero input", config.ErrSwapQuoteFailed)
	}

	forward, err := c.swaps.GetQuote(ctx, swap.QuoteRequest{
		InputMint:   p.InputMint,
		OutputMint:  p.OutputMint,
		Amount:      reverse.InAmount,
		Mode:        config.SwapModeExactIn,
		SlippageBps: p.SlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("forward quote: %w", err)
	}
	if forward.OutAmount < p.OutputAmount {
		slog.Warn("forward swap route short of requested output",
			"requested", p.OutputAmount,
			"forwardOut", forward.OutAmount,
			"input", reverse.InAmount,
		)
		return nil, fmt.Errorf("%w: wanted %d, route yields %d", config.ErrSwapRouteShortfall, p.OutputAmount, forward.OutAmount)
	}

	ixs, err := c.swaps.BuildSwapInstructions(ctx, forward, swap.BuildOptions{
		User:                    p.User,
		DestinationTokenAccount: p.DestinationTokenAccount,
	})
	if err != nil {
		return nil, fmt.Errorf("build swap: %w", err)
	}

	slog.Info("swap composed",
		"input", reverse.InAmount,
		"output", forward.OutAmount,
		"requested", p.OutputAmount,
		"instructions", len(ixs),
	)

	return &SwapLeg{
		Instructions: ixs,
		InputAmount:  reverse.InAmount,
		OutputAmount: forward.OutAmount,
	}, nil
}

// WithdrawalParams describes a withdrawal out of a user bank.
type WithdrawalParams struct {
	FeePayer    solana.PublicKey
	Source      solana.PublicKey // user bank
	SourceOwner solana.PublicKey // authority of the user bank
	Mint        solana.PublicKey
	Destination solana.PublicKey // receiving token account
	Amount      uint64

	// Set when Destination must be created as the associated account of DestinationOwner.
	CreateDestination bool
	DestinationOwner  solana.PublicKey
	// Native lamports the fee payer must recover: rent plus the transfer fee.
	FundingLamports uint64
	// Set when the fee payer's wrapped SOL account already exists.
	TempAccountExists bool
	SlippageBps       int
}

// Withdrawal is a composed withdrawal. Setup is nil when the destination exists.
// Setup and Transfer are submitted separately so a failed transfer can be retried
// without recreating the destination.
type Withdrawal struct {
	Setup     *InstructionSet
	Transfer  InstructionSet
	SwapInput uint64
	Delivered uint64
}

// Instructions returns setup followed by transfer steps.
func (w *Withdrawal) Instructions() []Step {
	var steps []Step
	if w.Setup != nil {
		steps = append(steps, w.Setup.Steps()...)
	}
	return append(steps, w.Transfer.Steps()...)
}

// Withdrawal composes the instruction sets for p. When the destination must be
// created, the fee payer fronts the rent and is repaid by swapping part of the
// withdrawn amount into its temporary wrapped SOL account, which is then closed.
func (c *Composer) Withdrawal(ctx context.Context, p WithdrawalParams) (*Withdrawal, error) {
	if p.Amount == 0 {
		return nil, config.ErrInvalidAmount
	}

	w := &Withdrawal{Delivered: p.Amount}

	if p.CreateDestination {
		setup, input, err := c.fundDestination(ctx, p)
		if err != nil {
			return nil, err
		}
		if input >= p.Amount {
			return nil, fmt.Errorf("%w: funding costs %d of %d", config.ErrAmountTooSmall, input, p.Amount)
		}
		w.Setup = &setup
		w.SwapInput = input
		w.Delivered = p.Amount - input
	}

	transfer, err := TransferSet(p.FeePayer, TransferParams{
		Source:      p.Source,
		Destination: p.Destination,
		Owner:       p.SourceOwner,
		Amount:      w.Delivered,
	})
	if err != nil {
		return nil, err
	}
	w.Transfer = transfer

	return w, nil
}

func (c *Composer) fundDestination(ctx context.Context, p WithdrawalParams) (InstructionSet, uint64, error) {
	temp, err := ledger.DeriveATA(p.FeePayer, solana.WrappedSol)
	if err != nil {
		return InstructionSet{}, 0, fmt.Errorf("derive temporary account: %w", err)
	}

	createDest, err := CreateAccount(p.FeePayer, p.DestinationOwner, p.Mint)
	if err != nil {
		return InstructionSet{}, 0, err
	}

	leg, err := c.Swap(ctx, SwapParams{
		InputMint:               p.Mint,
		OutputMint:              solana.WrappedSol,
		OutputAmount:            p.FundingLamports,
		User:                    p.SourceOwner,
		DestinationTokenAccount: temp,
		SlippageBps:             p.SlippageBps,
	})
	if err != nil {
		return InstructionSet{}, 0, err
	}

	closeTemp, err := CloseAccount(temp, p.FeePayer, p.FeePayer)
	if err != nil {
		return InstructionSet{}, 0, err
	}

	plan := NewPlan(p.FeePayer).Add(StepCreate, "create-destination", createDest)
	if !p.TempAccountExists {
		createTemp, err := CreateAccount(p.FeePayer, p.FeePayer, solana.WrappedSol)
		if err != nil {
			return InstructionSet{}, 0, err
		}
		plan.Add(StepCreate, "create-temp-native", createTemp)
	}
	plan.Add(StepSwap, "swap-to-native", leg.Instructions...).
		Add(StepClose, "close-temp-native", closeTemp)

	set, err := plan.Build()
	if err != nil {
		return InstructionSet{}, 0, err
	}
	return set, leg.InputAmount, nil
}
