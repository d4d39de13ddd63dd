// Package submit signs instruction sets and lands them on the ledger.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/Fantasim/payflow/internal/compose"
	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/ledger"
	"github.com/Fantasim/payflow/internal/metrics"
)

// Reason classifies a submission failure.
type Reason string

const (
	ReasonNetwork          Reason = "network"
	ReasonRejected         Reason = "rejected"
	ReasonSimulationFailed Reason = "simulation-failed"
	ReasonBlockhashExpired Reason = "blockhash-expired"
	ReasonTimeout          Reason = "timeout"
)

// Error is a typed submission failure. Signature is set when the transaction
// reached the network before failing.
type Error struct {
	Reason    Reason
	Signature solana.Signature
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("submit failed (%s): %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same operation may be re-issued with a newly
// built instruction set.
func (e *Error) Retryable() bool {
	switch e.Reason {
	case ReasonNetwork, ReasonBlockhashExpired, ReasonTimeout:
		return true
	default:
		return false
	}
}

// Options adjusts a single submission.
type Options struct {
	SkipPreflight    bool
	FeePayerOverride solana.PublicKey
}

// Result is a confirmed submission.
type Result struct {
	Signature solana.Signature
	Slot      uint64
}

// Signer supplies private keys for the accounts that must sign.
type Signer interface {
	PrivateKey(pub solana.PublicKey) (*solana.PrivateKey, bool)
}

// Submitter builds, signs, sends and confirms instruction sets. It never retries.
type Submitter struct {
	ledger       ledger.Client
	signer       Signer
	confirmWait  time.Duration
	pollInterval time.Duration
}

// New creates a submitter.
func New(client ledger.Client, signer Signer) *Submitter {
	slog.Info("transaction submitter created",
		"confirmationTimeout", config.ConfirmationTimeout.String(),
	)
	return &Submitter{
		ledger:       client,
		signer:       signer,
		confirmWait:  config.ConfirmationTimeout,
		pollInterval: config.ConfirmationPollInterval,
	}
}

// Submit lands set on the ledger and waits for confirmation.
func (s *Submitter) Submit(ctx context.Context, set compose.InstructionSet, opts Options) (Result, error) {
	if set.Len() == 0 {
		return Result{}, config.ErrEmptyInstructionSet
	}

	tx, lastValid, err := s.buildTransaction(ctx, set, opts)
	if err != nil {
		return Result{}, err
	}

	sig, err := s.ledger.SendTransaction(ctx, tx, ledger.SendOptions{SkipPreflight: opts.SkipPreflight})
	if err != nil {
		subErr := &Error{Reason: classify(err), Err: err}
		metrics.SubmissionsTotal.WithLabelValues(string(subErr.Reason)).Inc()
		slog.Warn("transaction send failed",
			"reason", subErr.Reason,
			"instructions", set.Len(),
			"error", err,
		)
		return Result{}, subErr
	}

	slog.Info("transaction sent", "signature", sig.String(), "instructions", set.Len())

	slot, err := s.waitForConfirmation(ctx, sig, lastValid)
	if err != nil {
		var subErr *Error
		if !errors.As(err, &subErr) {
			subErr = &Error{Reason: ReasonNetwork, Err: err}
		}
		subErr.Signature = sig
		metrics.SubmissionsTotal.WithLabelValues(string(subErr.Reason)).Inc()
		return Result{}, subErr
	}

	metrics.SubmissionsTotal.WithLabelValues("confirmed").Inc()
	return Result{Signature: sig, Slot: slot}, nil
}

// buildTransaction binds set to a fresh blockhash and signs it, unless the set
// was signed elsewhere. It also returns the last block height at which the
// transaction can land, or 0 when that is unknown.
func (s *Submitter) buildTransaction(ctx context.Context, set compose.InstructionSet, opts Options) (*solana.Transaction, uint64, error) {
	feePayer := set.FeePayer()
	if !opts.FeePayerOverride.IsZero() {
		feePayer = opts.FeePayerOverride
	}

	if set.Presigned() {
		if !opts.FeePayerOverride.IsZero() && !opts.FeePayerOverride.Equals(set.FeePayer()) {
			return nil, 0, fmt.Errorf("cannot override fee payer of a presigned set")
		}
		tx, err := solana.NewTransaction(set.Instructions(), set.RecentBlockhash(), solana.TransactionPayer(feePayer))
		if err != nil {
			return nil, 0, fmt.Errorf("build transaction: %w", err)
		}
		tx.Signatures = set.Signatures()
		return tx, 0, nil
	}
	if len(set.Signatures()) > 0 || set.RecentBlockhash() != (solana.Hash{}) {
		return nil, 0, config.ErrInstructionSetReused
	}

	bh, err := s.ledger.GetRecentBlockhash(ctx)
	if err != nil {
		return nil, 0, &Error{Reason: ReasonNetwork, Err: fmt.Errorf("fetch blockhash: %w", err)}
	}

	tx, err := solana.NewTransaction(set.Instructions(), bh.Hash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, 0, fmt.Errorf("build transaction: %w", err)
	}

	var missing solana.PublicKey
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		pk, ok := s.signer.PrivateKey(key)
		if !ok {
			missing = key
			return nil
		}
		return pk
	}); err != nil {
		if !missing.IsZero() {
			return nil, 0, fmt.Errorf("%w: %s", config.ErrUnknownSigner, missing)
		}
		return nil, 0, fmt.Errorf("sign transaction: %w", err)
	}

	return tx, bh.LastValidBlockHeight, nil
}

// waitForConfirmation polls the signature until it is confirmed, fails on-chain
// or the confirmation window closes. With a known lastValid height, an unseen
// signature is abandoned as soon as the chain has moved past it.
func (s *Submitter) waitForConfirmation(ctx context.Context, sig solana.Signature, lastValid uint64) (uint64, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.confirmWait)
	defer cancel()

	expired := false
	for {
		status, err := s.ledger.GetSignatureStatus(pollCtx, sig)
		switch {
		case err != nil:
			slog.Warn("confirmation poll error", "signature", sig.String(), "error", err)
		case status == nil:
			// One more status read after the height check, since the
			// transaction may have landed in the last valid block.
			if expired {
				slog.Warn("blockhash expired before confirmation",
					"signature", sig.String(),
					"lastValidBlockHeight", lastValid,
				)
				return 0, &Error{
					Reason: ReasonBlockhashExpired,
					Err:    fmt.Errorf("%w: signature %s not seen by block height %d", config.ErrBlockhashExpired, sig, lastValid),
				}
			}
			if lastValid > 0 {
				height, err := s.ledger.GetBlockHeight(pollCtx)
				if err != nil {
					slog.Warn("block height poll error", "signature", sig.String(), "error", err)
				} else if height > lastValid {
					expired = true
					continue
				}
			}
		case status.Err != nil:
			slog.Error("transaction failed on-chain", "signature", sig.String(), "error", status.Err)
			return 0, &Error{Reason: ReasonRejected, Err: status.Err}
		case status.Confirmed:
			slog.Info("transaction confirmed", "signature", sig.String(), "slot", status.Slot)
			return status.Slot, nil
		}

		select {
		case <-pollCtx.Done():
			return 0, &Error{
				Reason: ReasonTimeout,
				Err:    fmt.Errorf("%w: signature %s", config.ErrConfirmationTimeout, sig),
			}
		case <-time.After(s.pollInterval):
		}
	}
}

// classify maps a send error to a Reason.
func classify(err error) Reason {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, config.ErrBlockhashExpired) ||
		strings.Contains(msg, "blockhash not found") ||
		strings.Contains(msg, "block height exceeded") {
		return ReasonBlockhashExpired
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case -32002: // preflight simulation failure
			detail := strings.ToLower(rpcErr.Message + " " + fmt.Sprint(rpcErr.Data))
			if strings.Contains(detail, "blockhashnotfound") || strings.Contains(detail, "blockhash not found") {
				return ReasonBlockhashExpired
			}
			return ReasonSimulationFailed
		case -32005: // node unhealthy
			return ReasonNetwork
		default:
			return ReasonRejected
		}
	}

	if strings.Contains(msg, "simulation failed") {
		return ReasonSimulationFailed
	}
	return ReasonNetwork
}
