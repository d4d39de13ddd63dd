package submit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fantasim/payflow/internal/compose"
	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/ledger"
	"github.com/Fantasim/payflow/internal/ledger/ledgertest"
)

type mapSigner map[solana.PublicKey]solana.PrivateKey

func (m mapSigner) PrivateKey(pub solana.PublicKey) (*solana.PrivateKey, bool) {
	pk, ok := m[pub]
	if !ok {
		return nil, false
	}
	return &pk, true
}

func newKey(signer mapSigner) solana.PublicKey {
	w := solana.NewWallet()
	signer[w.PublicKey()] = w.PrivateKey
	return w.PublicKey()
}

func newSubmitter(fake *ledgertest.Fake, signer mapSigner) *Submitter {
	s := New(fake, signer)
	s.pollInterval = time.Millisecond
	s.confirmWait = 200 * time.Millisecond
	return s
}

func transferSet(t *testing.T, fake *ledgertest.Fake, signer mapSigner) (compose.InstructionSet, solana.PublicKey) {
	t.Helper()
	payer := newKey(signer)
	owner := newKey(signer)
	mint := solana.NewWallet().PublicKey()
	src := fake.AddTokenAccount(owner, mint, 500)
	dst := fake.AddTokenAccount(solana.NewWallet().PublicKey(), mint, 0)

	set, err := compose.TransferSet(payer, compose.TransferParams{Source: src, Destination: dst, Owner: owner, Amount: 200})
	require.NoError(t, err)
	return set, dst
}

func TestSubmit_Confirmed(t *testing.T) {
	fake := ledgertest.New()
	signer := mapSigner{}
	set, dst := transferSet(t, fake, signer)

	res, err := newSubmitter(fake, signer).Submit(context.Background(), set, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Slot)

	sent := fake.SentTransactions()
	require.Len(t, sent, 1)
	assert.Equal(t, fake.Blockhash, sent[0].Message.RecentBlockhash)
	assert.Len(t, sent[0].Signatures, 2)
	assert.Equal(t, sent[0].Signatures[0], res.Signature)

	acct, ok := fake.Account(dst)
	require.True(t, ok)
	assert.Equal(t, uint64(200), acct.Amount)
}

func TestSubmit_FreshBlockhashPerAttempt(t *testing.T) {
	fake := ledgertest.New()
	signer := mapSigner{}
	set, _ := transferSet(t, fake, signer)
	s := newSubmitter(fake, signer)

	_, err := s.Submit(context.Background(), set, Options{})
	require.NoError(t, err)
	first := fake.Blockhash

	fake.Blockhash = solana.Hash(solana.NewWallet().PublicKey())
	_, err = s.Submit(context.Background(), set, Options{})
	require.NoError(t, err)

	sent := fake.SentTransactions()
	require.Len(t, sent, 2)
	assert.Equal(t, first, sent[0].Message.RecentBlockhash)
	assert.Equal(t, fake.Blockhash, sent[1].Message.RecentBlockhash)
	assert.Equal(t, 2, fake.CallCount("getRecentBlockhash"))
}

func TestSubmit_UnknownSigner(t *testing.T) {
	fake := ledgertest.New()
	signer := mapSigner{}
	set, _ := transferSet(t, fake, signer)

	_, err := newSubmitter(fake, mapSigner{}).Submit(context.Background(), set, Options{})
	assert.ErrorIs(t, err, config.ErrUnknownSigner)
	assert.Equal(t, 0, fake.CallCount("sendTransaction"))
}

func TestSubmit_SendFailureReasons(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"transport", errors.New("dial tcp: connection refused"), ReasonNetwork},
		{"simulation", &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed: Error processing Instruction 0"}, ReasonSimulationFailed},
		{"blockhash", &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed: Blockhash not found"}, ReasonBlockhashExpired},
		{"rejected", &jsonrpc.RPCError{Code: -32003, Message: "Transaction signature verification failure"}, ReasonRejected},
		{"unhealthy", &jsonrpc.RPCError{Code: -32005, Message: "Node is behind"}, ReasonNetwork},
		{"wrapped blockhash", fmt.Errorf("fee: %w", config.ErrBlockhashExpired), ReasonBlockhashExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := ledgertest.New()
			signer := mapSigner{}
			set, _ := transferSet(t, fake, signer)
			fake.SendFn = func(tx *solana.Transaction) (solana.Signature, error) { return solana.Signature{}, tt.err }

			_, err := newSubmitter(fake, signer).Submit(context.Background(), set, Options{})
			var subErr *Error
			require.ErrorAs(t, err, &subErr)
			assert.Equal(t, tt.want, subErr.Reason)
			assert.Equal(t, 1, fake.CallCount("sendTransaction"), "no retry")
		})
	}
}

func TestSubmit_OnChainFailure(t *testing.T) {
	fake := ledgertest.New()
	signer := mapSigner{}
	set, _ := transferSet(t, fake, signer)
	fake.StatusFn = func(sig solana.Signature) (*ledger.SignatureStatus, error) {
		return &ledger.SignatureStatus{Slot: 9, Err: config.ErrTxFailed}, nil
	}

	_, err := newSubmitter(fake, signer).Submit(context.Background(), set, Options{})
	var subErr *Error
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, ReasonRejected, subErr.Reason)
	assert.False(t, subErr.Retryable())
	assert.False(t, subErr.Signature.IsZero())
}

func TestSubmit_ConfirmationTimeout(t *testing.T) {
	fake := ledgertest.New()
	signer := mapSigner{}
	set, _ := transferSet(t, fake, signer)
	fake.StatusFn = func(sig solana.Signature) (*ledger.SignatureStatus, error) { return nil, nil }

	s := newSubmitter(fake, signer)
	s.confirmWait = 20 * time.Millisecond

	_, err := s.Submit(context.Background(), set, Options{})
	var subErr *Error
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, ReasonTimeout, subErr.Reason)
	assert.True(t, subErr.Retryable())
	assert.ErrorIs(t, err, config.ErrConfirmationTimeout)
}

func TestSubmit_BlockhashExpiresBeforeConfirmation(t *testing.T) {
	fake := ledgertest.New()
	signer := mapSigner{}
	set, _ := transferSet(t, fake, signer)
	fake.StatusFn = func(sig solana.Signature) (*ledger.SignatureStatus, error) {
		if fake.CallCount("getSignatureStatus") == 3 {
			fake.SetBlockHeight(fake.LastValidBlockHeight + 1)
		}
		return nil, nil
	}

	s := newSubmitter(fake, signer)
	s.confirmWait = 5 * time.Second

	start := time.Now()
	_, err := s.Submit(context.Background(), set, Options{})
	var subErr *Error
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, ReasonBlockhashExpired, subErr.Reason)
	assert.ErrorIs(t, err, config.ErrBlockhashExpired)
	assert.True(t, subErr.Retryable())
	assert.False(t, subErr.Signature.IsZero())
	assert.Less(t, time.Since(start), time.Second, "gives up once the height passes, not at the timeout")
	assert.Equal(t, 4, fake.CallCount("getSignatureStatus"), "one final status read after expiry")
}

func TestSubmit_LandsInLastValidBlock(t *testing.T) {
	fake := ledgertest.New()
	signer := mapSigner{}
	set, _ := transferSet(t, fake, signer)
	fake.StatusFn = func(sig solana.Signature) (*ledger.SignatureStatus, error) {
		if fake.CallCount("getSignatureStatus") == 1 {
			fake.SetBlockHeight(fake.LastValidBlockHeight + 1)
			return nil, nil
		}
		return &ledger.SignatureStatus{Slot: 7, Confirmed: true}, nil
	}

	res, err := newSubmitter(fake, signer).Submit(context.Background(), set, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.Slot)
}

func TestSubmit_FeePayerOverride(t *testing.T) {
	fake := ledgertest.New()
	signer := mapSigner{}
	set, _ := transferSet(t, fake, signer)
	override := newKey(signer)

	_, err := newSubmitter(fake, signer).Submit(context.Background(), set, Options{FeePayerOverride: override})
	require.NoError(t, err)

	sent := fake.SentTransactions()
	require.Len(t, sent, 1)
	assert.Equal(t, override, sent[0].Message.AccountKeys[0])
}

func TestSubmit_Presigned(t *testing.T) {
	fake := ledgertest.New()
	signer := mapSigner{}
	set, _ := transferSet(t, fake, signer)

	hash := solana.Hash(solana.NewWallet().PublicKey())
	presigned := set.WithSignatures(hash, []solana.Signature{{7}, {8}})

	_, err := newSubmitter(fake, signer).Submit(context.Background(), presigned, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, fake.CallCount("getRecentBlockhash"))
	sent := fake.SentTransactions()
	require.Len(t, sent, 1)
	assert.Equal(t, hash, sent[0].Message.RecentBlockhash)
	assert.Equal(t, solana.Signature{7}, sent[0].Signatures[0])
}

func TestSubmit_EmptySet(t *testing.T) {
	_, err := newSubmitter(ledgertest.New(), mapSigner{}).Submit(context.Background(), compose.InstructionSet{}, Options{})
	assert.ErrorIs(t, err, config.ErrEmptyInstructionSet)
}
