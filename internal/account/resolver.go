// Package account resolves the token accounts flows read from and pay into.
package account

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/payflow/internal/compose"
	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/confirm"
	"github.com/Fantasim/payflow/internal/ledger"
	"github.com/Fantasim/payflow/internal/models"
	"github.com/Fantasim/payflow/internal/submit"
)

// Submitter lands a composed instruction set.
type Submitter interface {
	Submit(ctx context.Context, set compose.InstructionSet, opts submit.Options) (submit.Result, error)
}

// Mints maps logical mints to their on-ledger keys.
type Mints map[models.Mint]solana.PublicKey

// NewMints returns the mint table for a USDC mint; NATIVE is wrapped SOL.
func NewMints(usdc solana.PublicKey) Mints {
	return Mints{
		models.MintUSDC:   usdc,
		models.MintNative: solana.WrappedSol,
	}
}

// ResolutionError is returned when a user bank cannot be derived or created.
// It matches config.ErrResolutionFailed and the underlying cause.
type ResolutionError struct {
	Owner string
	Mint  models.Mint
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve user bank %s/%s: %v", e.Owner, e.Mint, e.Err)
}

func (e *ResolutionError) Unwrap() []error { return []error{config.ErrResolutionFailed, e.Err} }

// Resolver derives user banks and creates them on first use.
type Resolver struct {
	ledger    ledger.Client
	submitter Submitter
	engine    *confirm.Engine
	mints     Mints
	feePayer  solana.PublicKey
}

// NewResolver creates a resolver; feePayer funds account creation.
func NewResolver(client ledger.Client, submitter Submitter, engine *confirm.Engine, mints Mints, feePayer solana.PublicKey) *Resolver {
	slog.Info("token account resolver created", "feePayer", feePayer.String())
	return &Resolver{
		ledger:    client,
		submitter: submitter,
		engine:    engine,
		mints:     mints,
		feePayer:  feePayer,
	}
}

// MintKey returns the on-ledger key of mint.
func (r *Resolver) MintKey(mint models.Mint) (solana.PublicKey, error) {
	key, ok := r.mints[mint]
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("unknown mint %q", mint)
	}
	return key, nil
}

// ResolveUserBank returns owner's account for mint, creating it when a live
// lookup shows it missing. Calls for the same owner and mint are serialized,
// so concurrent callers cause at most one create.
func (r *Resolver) ResolveUserBank(ctx context.Context, owner solana.PublicKey, mint models.Mint) (models.TokenAccountRef, error) {
	key := fmt.Sprintf("bank:%s:%s", owner, mint)

	ref, err := confirm.Await(ctx, r.engine, key, func(ctx context.Context) (models.TokenAccountRef, error) {
		return r.resolve(ctx, owner, mint)
	})
	if err != nil {
		slog.Error("user bank resolution failed",
			"owner", owner.String(),
			"mint", mint,
			"error", err,
		)
		return models.TokenAccountRef{}, &ResolutionError{Owner: owner.String(), Mint: mint, Err: err}
	}
	return ref, nil
}

func (r *Resolver) resolve(ctx context.Context, owner solana.PublicKey, mint models.Mint) (models.TokenAccountRef, error) {
	mintKey, err := r.MintKey(mint)
	if err != nil {
		return models.TokenAccountRef{}, err
	}

	addr, err := r.ledger.DeriveAccountAddress(owner, mintKey)
	if err != nil {
		return models.TokenAccountRef{}, fmt.Errorf("derive account: %w", err)
	}

	ref := models.TokenAccountRef{Mint: mint, Owner: owner.String(), Account: addr.String()}

	info, err := r.ledger.GetTokenAccountInfo(ctx, addr)
	if err != nil {
		return models.TokenAccountRef{}, fmt.Errorf("lookup account: %w", err)
	}
	if info != nil {
		ref.Exists = true
		slog.Debug("user bank exists", "account", ref.Account, "mint", mint)
		return ref, nil
	}

	slog.Info("user bank missing, creating", "owner", ref.Owner, "account", ref.Account, "mint", mint)

	set, err := compose.CreateAccountSet(r.feePayer, owner, mintKey)
	if err != nil {
		return models.TokenAccountRef{}, err
	}
	res, err := r.submitter.Submit(ctx, set, submit.Options{})
	if err != nil {
		return models.TokenAccountRef{}, fmt.Errorf("create account: %w", err)
	}

	slog.Info("user bank created",
		"account", ref.Account,
		"mint", mint,
		"signature", res.Signature.String(),
	)
	ref.Exists = true
	return ref, nil
}

// Lookup derives owner's account for mint and reports whether it exists,
// without creating anything.
func (r *Resolver) Lookup(ctx context.Context, owner solana.PublicKey, mint models.Mint) (models.TokenAccountRef, error) {
	mintKey, err := r.MintKey(mint)
	if err != nil {
		return models.TokenAccountRef{}, err
	}
	addr, err := r.ledger.DeriveAccountAddress(owner, mintKey)
	if err != nil {
		return models.TokenAccountRef{}, fmt.Errorf("derive account: %w", err)
	}
	info, err := r.ledger.GetTokenAccountInfo(ctx, addr)
	if err != nil {
		return models.TokenAccountRef{}, fmt.Errorf("lookup account: %w", err)
	}
	return models.TokenAccountRef{
		Mint:    mint,
		Owner:   owner.String(),
		Account: addr.String(),
		Exists:  info != nil,
	}, nil
}
