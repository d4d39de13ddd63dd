package ledger

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fantasim/payflow/internal/config"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// newRPCServer answers JSON-RPC calls with results from handlers keyed by method.
func newRPCServer(t *testing.T, handlers map[string]func(params json.RawMessage) any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		h, ok := handlers[req.Method]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  h(req.Params),
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func withContext(value any) any {
	return map[string]any{"context": map[string]any{"slot": 100}, "value": value}
}

func tokenAccountData(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, config.TokenAccountSize)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1 // initialized
	return data
}

func TestRPCClient_GetRecentBlockhash(t *testing.T) {
	hash := solana.Hash(solana.NewWallet().PublicKey())
	srv, _ := newRPCServer(t, map[string]func(json.RawMessage) any{
		"getLatestBlockhash": func(json.RawMessage) any {
			return withContext(map[string]any{"blockhash": hash.String(), "lastValidBlockHeight": 200})
		},
	})

	got, err := NewRPCClient(srv.URL, 1000).GetRecentBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash, got.Hash)
	assert.Equal(t, uint64(200), got.LastValidBlockHeight)
}

func TestRPCClient_GetBlockHeight(t *testing.T) {
	srv, _ := newRPCServer(t, map[string]func(json.RawMessage) any{
		"getBlockHeight": func(json.RawMessage) any { return 1234 },
	})

	got, err := NewRPCClient(srv.URL, 1000).GetBlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), got)
}

func TestRPCClient_GetLatestBalance(t *testing.T) {
	srv, _ := newRPCServer(t, map[string]func(json.RawMessage) any{
		"getTokenAccountBalance": func(json.RawMessage) any {
			return withContext(map[string]any{"amount": "1500000", "decimals": 6, "uiAmountString": "1.5"})
		},
	})

	got, err := NewRPCClient(srv.URL, 1000).GetLatestBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), got)
}

func TestRPCClient_GetTokenAccountInfo(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	account := solana.NewWallet().PublicKey()

	srv, _ := newRPCServer(t, map[string]func(json.RawMessage) any{
		"getAccountInfo": func(json.RawMessage) any {
			return withContext(map[string]any{
				"data":       []string{base64.StdEncoding.EncodeToString(tokenAccountData(mint, owner, 42)), "base64"},
				"executable": false,
				"lamports":   2039280,
				"owner":      solana.TokenProgramID.String(),
				"rentEpoch":  0,
			})
		},
	})

	got, err := NewRPCClient(srv.URL, 1000).GetTokenAccountInfo(context.Background(), account)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, account, got.Address)
	assert.Equal(t, mint, got.Mint)
	assert.Equal(t, owner, got.Owner)
	assert.Equal(t, uint64(42), got.Amount)
}

func TestRPCClient_GetTokenAccountInfoMissing(t *testing.T) {
	srv, _ := newRPCServer(t, map[string]func(json.RawMessage) any{
		"getAccountInfo": func(json.RawMessage) any { return withContext(nil) },
	})

	got, err := NewRPCClient(srv.URL, 1000).GetTokenAccountInfo(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRPCClient_GetTokenAccountInfoSystemOwned(t *testing.T) {
	srv, _ := newRPCServer(t, map[string]func(json.RawMessage) any{
		"getAccountInfo": func(json.RawMessage) any {
			return withContext(map[string]any{
				"data":       []string{"", "base64"},
				"executable": false,
				"lamports":   1000000,
				"owner":      solana.SystemProgramID.String(),
				"rentEpoch":  0,
			})
		},
	})

	got, err := NewRPCClient(srv.URL, 1000).GetTokenAccountInfo(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, config.ErrNotTokenAccount)
	assert.Nil(t, got)
}

func TestRPCClient_RentExemption(t *testing.T) {
	srv, _ := newRPCServer(t, map[string]func(json.RawMessage) any{
		"getMinimumBalanceForRentExemption": func(params json.RawMessage) any {
			var p []any
			require.NoError(t, json.Unmarshal(params, &p))
			assert.Equal(t, float64(config.TokenAccountSize), p[0])
			return 2039280
		},
	})

	got, err := NewRPCClient(srv.URL, 1000).GetMinimumBalanceForRentExemption(context.Background(), config.TokenAccountSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(2039280), got)
}

func TestRPCClient_CircuitOpensAfterFailures(t *testing.T) {
	srv, hits := newRPCServer(t, map[string]func(json.RawMessage) any{})
	client := NewRPCClient(srv.URL, 1000)

	for i := 0; i < config.LedgerBreakerFailures; i++ {
		_, err := client.GetRecentBlockhash(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, config.ErrCircuitOpen)
	}

	_, err := client.GetRecentBlockhash(context.Background())
	assert.ErrorIs(t, err, config.ErrCircuitOpen)
	assert.Equal(t, int32(config.LedgerBreakerFailures), hits.Load())
}

func TestRPCClient_CallTimeout(t *testing.T) {
	// The client abandons the request without closing the connection, so the
	// handler must be released explicitly before the server can shut down.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewRPCClient(srv.URL, 1000)
	client.callTimeout = 30 * time.Millisecond

	_, err := client.GetRecentBlockhash(context.Background())
	assert.ErrorIs(t, err, config.ErrProviderTimeout)
}

func TestDecodeTokenAccount_WrongProgram(t *testing.T) {
	_, err := DecodeTokenAccount(solana.NewWallet().PublicKey(), solana.SystemProgramID, make([]byte, config.TokenAccountSize))
	assert.ErrorIs(t, err, config.ErrNotTokenAccount)
}

func TestDecodeTokenAccount_ShortData(t *testing.T) {
	_, err := DecodeTokenAccount(solana.NewWallet().PublicKey(), solana.TokenProgramID, make([]byte, 10))
	assert.ErrorIs(t, err, config.ErrNotTokenAccount)
}

func TestDeriveATA_Deterministic(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	a, err := DeriveATA(owner, solana.WrappedSol)
	require.NoError(t, err)
	b, err := DeriveATA(owner, solana.WrappedSol)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.False(t, solana.IsOnCurve(a[:]))
}
