// Package ledger is the narrow Solana capability the orchestration layer consumes.
package ledger

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// TokenAccount is the decoded state of an SPL token account.
type TokenAccount struct {
	Address solana.PublicKey
	Mint    solana.PublicKey
	Owner   solana.PublicKey
	Amount  uint64
}

// SignatureStatus is the confirmation state of a submitted transaction.
type SignatureStatus struct {
	Slot      uint64
	Confirmed bool
	// Err is the on-chain execution error, if the transaction landed but failed.
	Err error
}

// Blockhash is a recent blockhash and the last block height at which a
// transaction referencing it can still land.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// SendOptions controls preflight behaviour of SendTransaction.
type SendOptions struct {
	SkipPreflight bool
}

// Client is everything the flows need from the ledger.
type Client interface {
	// DeriveAccountAddress returns the associated token account of owner for mint.
	DeriveAccountAddress(owner, mint solana.PublicKey) (solana.PublicKey, error)
	// GetTokenAccountInfo returns nil and no error when the account does not exist.
	GetTokenAccountInfo(ctx context.Context, account solana.PublicKey) (*TokenAccount, error)
	GetLatestBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetRecentBlockhash(ctx context.Context) (Blockhash, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error)
	GetFeeForMessage(ctx context.Context, msg *solana.Message) (uint64, error)
}

// DeriveATA derives the associated token account address for owner and mint.
func DeriveATA(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	return addr, err
}
