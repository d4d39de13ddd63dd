package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/sony/gobreaker"

	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/metrics"
)

// RPCClient implements Client over Solana JSON-RPC. Every call is rate limited,
// bounded by a per-call timeout and guarded by a circuit breaker.
type RPCClient struct {
	rpc         *rpc.Client
	limiter     *RateLimiter
	breaker     *gobreaker.CircuitBreaker
	commitment  rpc.CommitmentType
	callTimeout time.Duration
}

// NewRPCClient creates a client for endpoint allowing rps requests per second.
func NewRPCClient(endpoint string, rps float64) *RPCClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-rpc",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     config.LedgerBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.LedgerBreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// A well-formed RPC error or a missing account means the node is healthy.
		IsSuccessful: func(err error) bool {
			var rpcErr *jsonrpc.RPCError
			return err == nil || errors.Is(err, rpc.ErrNotFound) || errors.As(err, &rpcErr)
		},
	})

	slog.Info("ledger RPC client created", "endpoint", endpoint, "rps", rps)

	return &RPCClient{
		rpc:         rpc.New(endpoint),
		limiter:     NewRateLimiter(endpoint, rps),
		breaker:     breaker,
		commitment:  rpc.CommitmentConfirmed,
		callTimeout: config.LedgerCallTimeout,
	}
}

// call runs fn through the limiter and breaker under the per-call timeout.
func (c *RPCClient) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.LedgerRequestsTotal.WithLabelValues(method, "throttled").Inc()
		return fmt.Errorf("%s: %w", method, err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	switch {
	case err == nil:
		metrics.LedgerRequestsTotal.WithLabelValues(method, "ok").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.LedgerRequestsTotal.WithLabelValues(method, "circuit_open").Inc()
		return fmt.Errorf("%s: %w", method, config.ErrCircuitOpen)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		metrics.LedgerRequestsTotal.WithLabelValues(method, "timeout").Inc()
		return fmt.Errorf("%s: %w: %v", method, config.ErrProviderTimeout, err)
	default:
		metrics.LedgerRequestsTotal.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("%s: %w", method, err)
	}
}

func (c *RPCClient) DeriveAccountAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	return DeriveATA(owner, mint)
}

func (c *RPCClient) GetTokenAccountInfo(ctx context.Context, account solana.PublicKey) (*TokenAccount, error) {
	var res *rpc.GetAccountInfoResult
	err := c.call(ctx, "getAccountInfo", func(ctx context.Context) error {
		var err error
		res, err = c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
			Commitment: c.commitment,
			Encoding:   solana.EncodingBase64,
		})
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) {
		slog.Debug("token account not found", "account", account.String())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if res == nil || res.Value == nil {
		return nil, nil
	}

	return DecodeTokenAccount(account, res.Value.Owner, res.Value.Data.GetBinary())
}

// DecodeTokenAccount parses raw SPL token account data owned by programID.
func DecodeTokenAccount(address, programID solana.PublicKey, data []byte) (*TokenAccount, error) {
	if !programID.Equals(solana.TokenProgramID) {
		return nil, fmt.Errorf("%w: %s is owned by %s", config.ErrNotTokenAccount, address, programID)
	}

	var acct token.Account
	if err := bin.NewBinDecoder(data).Decode(&acct); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", config.ErrNotTokenAccount, address, err)
	}

	return &TokenAccount{
		Address: address,
		Mint:    acct.Mint,
		Owner:   acct.Owner,
		Amount:  acct.Amount,
	}, nil
}

func (c *RPCClient) GetLatestBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var res *rpc.GetTokenAccountBalanceResult
	err := c.call(ctx, "getTokenAccountBalance", func(ctx context.Context) error {
		var err error
		res, err = c.rpc.GetTokenAccountBalance(ctx, account, c.commitment)
		return err
	})
	if err != nil {
		return 0, err
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("getTokenAccountBalance %s: %w", account, config.ErrAccountNotFound)
	}

	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token balance %q: %w", res.Value.Amount, err)
	}
	return amount, nil
}

func (c *RPCClient) GetRecentBlockhash(ctx context.Context) (Blockhash, error) {
	var res *rpc.GetLatestBlockhashResult
	err := c.call(ctx, "getLatestBlockhash", func(ctx context.Context) error {
		var err error
		res, err = c.rpc.GetLatestBlockhash(ctx, c.commitment)
		return err
	})
	if err != nil {
		return Blockhash{}, err
	}
	if res == nil || res.Value == nil {
		return Blockhash{}, fmt.Errorf("getLatestBlockhash: empty response")
	}

	slog.Debug("fetched recent blockhash",
		"blockhash", res.Value.Blockhash.String(),
		"lastValidBlockHeight", res.Value.LastValidBlockHeight,
	)
	return Blockhash{Hash: res.Value.Blockhash, LastValidBlockHeight: res.Value.LastValidBlockHeight}, nil
}

func (c *RPCClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.call(ctx, "getBlockHeight", func(ctx context.Context) error {
		var err error
		height, err = c.rpc.GetBlockHeight(ctx, c.commitment)
		return err
	})
	return height, err
}

func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error) {
	var sig solana.Signature
	err := c.call(ctx, "sendTransaction", func(ctx context.Context) error {
		var err error
		sig, err = c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       opts.SkipPreflight,
			PreflightCommitment: c.commitment,
		})
		return err
	})
	return sig, err
}

func (c *RPCClient) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	var res *rpc.GetSignatureStatusesResult
	err := c.call(ctx, "getSignatureStatuses", func(ctx context.Context) error {
		var err error
		res, err = c.rpc.GetSignatureStatuses(ctx, true, sig)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return nil, nil
	}

	st := res.Value[0]
	status := &SignatureStatus{
		Slot: st.Slot,
		Confirmed: st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			st.ConfirmationStatus == rpc.ConfirmationStatusFinalized,
	}
	if st.Err != nil {
		status.Err = fmt.Errorf("%w: %v", config.ErrTxFailed, st.Err)
	}
	return status, nil
}

func (c *RPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	var lamports uint64
	err := c.call(ctx, "getMinimumBalanceForRentExemption", func(ctx context.Context) error {
		var err error
		lamports, err = c.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, c.commitment)
		return err
	})
	return lamports, err
}

func (c *RPCClient) GetFeeForMessage(ctx context.Context, msg *solana.Message) (uint64, error) {
	raw, err := msg.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("serialize message: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	var res *rpc.GetFeeForMessageResult
	err = c.call(ctx, "getFeeForMessage", func(ctx context.Context) error {
		var err error
		res, err = c.rpc.GetFeeForMessage(ctx, encoded, c.commitment)
		return err
	})
	if err != nil {
		return 0, err
	}
	if res == nil || res.Value == nil {
		// The node could not price the message, usually because its blockhash is unknown.
		return 0, fmt.Errorf("getFeeForMessage: %w", config.ErrBlockhashExpired)
	}
	return *res.Value, nil
}
