package compose

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/ledger"
	"github.com/Fantasim/payflow/internal/swap"
)

// mockSwapProvider quotes at a fixed rate of inPerOut input units per output unit.
type mockSwapProvider struct {
	quotes       []swap.QuoteRequest
	getQuoteFn   func(req swap.QuoteRequest) (*swap.Quote, error)
	buildFn      func(q *swap.Quote, opts swap.BuildOptions) ([]solana.Instruction, error)
	swapProgram  solana.PublicKey
	lastBuildOpt swap.BuildOptions
}

func newMockSwapProvider() *mockSwapProvider {
	return &mockSwapProvider{swapProgram: solana.NewWallet().PublicKey()}
}

func (m *mockSwapProvider) GetQuote(ctx context.Context, req swap.QuoteRequest) (*swap.Quote, error) {
	m.quotes = append(m.quotes, req)
	if m.getQuoteFn != nil {
		return m.getQuoteFn(req)
	}
	// 1 input unit buys 10 output units, symmetric.
	if req.Mode == config.SwapModeExactOut {
		return &swap.Quote{InAmount: (req.Amount + 9) / 10, OutAmount: req.Amount, SwapMode: req.Mode}, nil
	}
	return &swap.Quote{InAmount: req.Amount, OutAmount: req.Amount * 10, SwapMode: req.Mode}, nil
}

func (m *mockSwapProvider) BuildSwapInstructions(ctx context.Context, q *swap.Quote, opts swap.BuildOptions) ([]solana.Instruction, error) {
	m.lastBuildOpt = opts
	if m.buildFn != nil {
		return m.buildFn(q, opts)
	}
	return []solana.Instruction{
		solana.NewInstruction(m.swapProgram, solana.AccountMetaSlice{solana.Meta(opts.User).SIGNER()}, []byte{0xE5}),
	}, nil
}

func TestPlan_RejectsOutOfOrder(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	ix, err := CloseAccount(solana.NewWallet().PublicKey(), payer, payer)
	require.NoError(t, err)
	create, err := CreateAccount(payer, payer, solana.WrappedSol)
	require.NoError(t, err)

	_, err = NewPlan(payer).
		Add(StepClose, "close", ix).
		Add(StepCreate, "create", create).
		Build()
	assert.ErrorIs(t, err, config.ErrInstructionOrder)
}

func TestPlan_AllowsRepeatedKinds(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	a, _ := CreateAccount(payer, payer, solana.WrappedSol)
	b, _ := CreateAccount(payer, solana.NewWallet().PublicKey(), solana.WrappedSol)

	set, err := NewPlan(payer).Add(StepCreate, "a", a).Add(StepCreate, "b", b).Build()
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, payer, set.FeePayer())
	assert.False(t, set.Presigned())
}

func TestPlan_EmptyAndTooLarge(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	_, err := NewPlan(payer).Build()
	assert.ErrorIs(t, err, config.ErrEmptyInstructionSet)

	ix, _ := CreateAccount(payer, payer, solana.WrappedSol)
	plan := NewPlan(payer)
	for i := 0; i <= config.MaxInstructionsPerSet; i++ {
		plan.Add(StepCreate, "c", ix)
	}
	_, err = plan.Build()
	assert.ErrorIs(t, err, config.ErrTooManyInstructions)
}

func TestTransfer_ZeroAmount(t *testing.T) {
	_, err := Transfer(TransferParams{Source: solana.NewWallet().PublicKey(), Destination: solana.NewWallet().PublicKey(), Owner: solana.NewWallet().PublicKey()})
	assert.ErrorIs(t, err, config.ErrInvalidAmount)
}

func TestTransfer_Accounts(t *testing.T) {
	src, dst, owner := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	ix, err := Transfer(TransferParams{Source: src, Destination: dst, Owner: owner, Amount: 100})
	require.NoError(t, err)

	assert.Equal(t, solana.TokenProgramID, ix.ProgramID())
	accts := ix.Accounts()
	require.Len(t, accts, 3)
	assert.Equal(t, src, accts[0].PublicKey)
	assert.Equal(t, dst, accts[1].PublicKey)
	assert.Equal(t, owner, accts[2].PublicKey)
	assert.True(t, accts[2].IsSigner)
}

func TestSwap_TwoStepQuote(t *testing.T) {
	sp := newMockSwapProvider()
	c := New(sp)
	user := solana.NewWallet().PublicKey()

	leg, err := c.Swap(context.Background(), SwapParams{
		InputMint:    solana.NewWallet().PublicKey(),
		OutputMint:   solana.WrappedSol,
		OutputAmount: 1000,
		User:         user,
		SlippageBps:  50,
	})
	require.NoError(t, err)

	require.Len(t, sp.quotes, 2)
	assert.Equal(t, config.SwapModeExactOut, sp.quotes[0].Mode)
	assert.Equal(t, uint64(1000), sp.quotes[0].Amount)
	assert.Equal(t, config.SwapModeExactIn, sp.quotes[1].Mode)
	assert.Equal(t, uint64(100), sp.quotes[1].Amount)

	assert.Equal(t, uint64(100), leg.InputAmount)
	assert.Equal(t, uint64(1000), leg.OutputAmount)
	assert.Len(t, leg.Instructions, 1)
	assert.Equal(t, user, sp.lastBuildOpt.User)
}

func TestSwap_ForwardShortfall(t *testing.T) {
	sp := newMockSwapProvider()
	sp.getQuoteFn = func(req swap.QuoteRequest) (*swap.Quote, error) {
		if req.Mode == config.SwapModeExactOut {
			return &swap.Quote{InAmount: 100, OutAmount: req.Amount}, nil
		}
		return &swap.Quote{InAmount: req.Amount, OutAmount: 999}, nil
	}

	_, err := New(sp).Swap(context.Background(), SwapParams{OutputAmount: 1000})
	assert.ErrorIs(t, err, config.ErrSwapRouteShortfall)
}

func TestSwap_QuoteError(t *testing.T) {
	sp := newMockSwapProvider()
	sp.getQuoteFn = func(req swap.QuoteRequest) (*swap.Quote, error) {
		return nil, errors.New("no route")
	}
	_, err := New(sp).Swap(context.Background(), SwapParams{OutputAmount: 1000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverse quote")
}

func withdrawalParams() WithdrawalParams {
	return WithdrawalParams{
		FeePayer:          solana.NewWallet().PublicKey(),
		Source:            solana.NewWallet().PublicKey(),
		SourceOwner:       solana.NewWallet().PublicKey(),
		Mint:              solana.NewWallet().PublicKey(),
		Destination:       solana.NewWallet().PublicKey(),
		DestinationOwner:  solana.NewWallet().PublicKey(),
		Amount:            1_000_000,
		CreateDestination: true,
		FundingLamports:   2_044_280,
		SlippageBps:       50,
	}
}

func TestWithdrawal_FreshWalletOrdering(t *testing.T) {
	sp := newMockSwapProvider()
	p := withdrawalParams()

	w, err := New(sp).Withdrawal(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, w.Setup)

	var kinds []StepKind
	for _, st := range w.Instructions() {
		kinds = append(kinds, st.Kind)
	}
	assert.Equal(t, []StepKind{StepCreate, StepCreate, StepSwap, StepClose, StepTransfer}, kinds)

	steps := w.Instructions()
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, steps[0].Instruction.ProgramID())
	assert.Equal(t, sp.swapProgram, steps[2].Instruction.ProgramID())
	assert.Equal(t, solana.TokenProgramID, steps[3].Instruction.ProgramID())
	assert.Equal(t, solana.TokenProgramID, steps[4].Instruction.ProgramID())

	// 2044280 lamports at 10 per unit costs 204428 units of the withdrawn token.
	assert.Equal(t, uint64(204_428), w.SwapInput)
	assert.Equal(t, p.Amount-204_428, w.Delivered)
}

func TestWithdrawal_ExistingTempAccount(t *testing.T) {
	p := withdrawalParams()
	p.TempAccountExists = true

	w, err := New(newMockSwapProvider()).Withdrawal(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []StepKind{StepCreate, StepSwap, StepClose}, w.Setup.Kinds())
}

func TestWithdrawal_ExistingDestination(t *testing.T) {
	sp := newMockSwapProvider()
	p := withdrawalParams()
	p.CreateDestination = false

	w, err := New(sp).Withdrawal(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, w.Setup)
	assert.Equal(t, []StepKind{StepTransfer}, w.Transfer.Kinds())
	assert.Equal(t, p.Amount, w.Delivered)
	assert.Empty(t, sp.quotes)
}

func TestWithdrawal_AmountTooSmall(t *testing.T) {
	p := withdrawalParams()
	p.Amount = 204_428

	_, err := New(newMockSwapProvider()).Withdrawal(context.Background(), p)
	assert.ErrorIs(t, err, config.ErrAmountTooSmall)
}

func TestCreateAccountIdempotent(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	ix, err := CreateAccountIdempotent(payer, owner, solana.WrappedSol)
	require.NoError(t, err)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, data)

	ata, err := ledger.DeriveATA(owner, solana.WrappedSol)
	require.NoError(t, err)
	accounts := ix.Accounts()
	require.Len(t, accounts, 6)
	assert.Equal(t, payer, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner)
	assert.Equal(t, ata, accounts[1].PublicKey)
	assert.True(t, accounts[1].IsWritable)
	assert.Equal(t, owner, accounts[2].PublicKey)
	assert.Equal(t, solana.WrappedSol, accounts[3].PublicKey)

	set, err := CreateAccountSet(payer, owner, solana.WrappedSol)
	require.NoError(t, err)
	setData, err := set.Instructions()[0].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, setData)
}

func TestInstructionSet_WithSignatures(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	set, err := CreateAccountSet(payer, payer, solana.WrappedSol)
	require.NoError(t, err)

	hash := solana.Hash(solana.NewWallet().PublicKey())
	signed := set.WithSignatures(hash, []solana.Signature{{1}})
	assert.True(t, signed.Presigned())
	assert.False(t, set.Presigned())
	assert.Equal(t, hash, signed.RecentBlockhash())
}
