package swap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fantasim/payflow/internal/config"
)

var (
	usdcMint = solana.MustPublicKeyFromBase58(config.USDCMintMainnet)
)

func TestGetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v6/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, usdcMint.String(), q.Get("inputMint"))
		assert.Equal(t, solana.WrappedSol.String(), q.Get("outputMint"))
		assert.Equal(t, "2044280", q.Get("amount"))
		assert.Equal(t, config.SwapModeExactOut, q.Get("swapMode"))
		assert.Equal(t, "50", q.Get("slippageBps"))
		assert.Equal(t, "true", q.Get("asLegacyTransaction"))

		w.Write([]byte(`{"inputMint":"` + usdcMint.String() + `","outputMint":"` + solana.WrappedSol.String() +
			`","inAmount":"310000","outAmount":"2044280","otherAmountThreshold":"311550","swapMode":"ExactOut","slippageBps":50,"priceImpactPct":"0.0001"}`))
	}))
	defer srv.Close()

	quote, err := NewJupiterClient(srv.URL).GetQuote(context.Background(), QuoteRequest{
		InputMint:   usdcMint,
		OutputMint:  solana.WrappedSol,
		Amount:      2_044_280,
		Mode:        config.SwapModeExactOut,
		SlippageBps: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(310_000), quote.InAmount)
	assert.Equal(t, uint64(2_044_280), quote.OutAmount)
	assert.Equal(t, uint64(311_550), quote.OtherAmountThreshold)
	assert.Equal(t, "ExactOut", quote.SwapMode)
	assert.NotEmpty(t, quote.Raw)
}

func TestGetQuote_InvalidSlippage(t *testing.T) {
	_, err := NewJupiterClient("http://unused").GetQuote(context.Background(), QuoteRequest{SlippageBps: config.MaxSlippageBps + 1})
	assert.ErrorIs(t, err, config.ErrInvalidSlippage)
}

func TestGetQuote_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewJupiterClient(srv.URL).GetQuote(context.Background(), QuoteRequest{Amount: 1, Mode: config.SwapModeExactIn})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrSwapQuoteFailed)
	assert.True(t, config.IsTransient(err))
}

func TestGetQuote_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Could not find any route"}`))
	}))
	defer srv.Close()

	_, err := NewJupiterClient(srv.URL).GetQuote(context.Background(), QuoteRequest{Amount: 1, Mode: config.SwapModeExactIn})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrSwapQuoteFailed)
	assert.False(t, config.IsTransient(err))
	assert.Contains(t, err.Error(), "Could not find any route")
}

func TestBuildSwapInstructions(t *testing.T) {
	user := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	program := solana.NewWallet().PublicKey()
	data := []byte{1, 2, 3}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v6/swap-instructions", r.URL.Path)
		var req swapInstructionsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, user.String(), req.UserPublicKey)
		assert.Equal(t, dest.String(), req.DestinationTokenAccount)
		assert.False(t, req.WrapAndUnwrapSol)
		assert.True(t, req.AsLegacyTransaction)
		assert.JSONEq(t, `{"inAmount":"1"}`, string(req.QuoteResponse))

		ix := jupiterInstruction{
			ProgramID: program.String(),
			Accounts:  []jupiterAccount{{Pubkey: user.String(), IsSigner: true, IsWritable: true}},
			Data:      base64.StdEncoding.EncodeToString(data),
		}
		json.NewEncoder(w).Encode(swapInstructionsResponse{
			ComputeBudgetInstructions: []jupiterInstruction{ix},
			SwapInstruction:           &ix,
		})
	}))
	defer srv.Close()

	ixs, err := NewJupiterClient(srv.URL).BuildSwapInstructions(context.Background(),
		&Quote{Raw: json.RawMessage(`{"inAmount":"1"}`)},
		BuildOptions{User: user, DestinationTokenAccount: dest},
	)
	require.NoError(t, err)
	require.Len(t, ixs, 2)

	assert.Equal(t, program, ixs[1].ProgramID())
	got, err := ixs[1].Data()
	require.NoError(t, err)
	assert.Equal(t, data, got)
	accounts := ixs[1].Accounts()
	require.Len(t, accounts, 1)
	assert.True(t, accounts[0].IsSigner)
	assert.Equal(t, user, accounts[0].PublicKey)
}

func TestBuildSwapInstructions_RejectsLookupTables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"swapInstruction":{"programId":"11111111111111111111111111111111","accounts":[],"data":""},"addressLookupTableAddresses":["x"]}`))
	}))
	defer srv.Close()

	_, err := NewJupiterClient(srv.URL).BuildSwapInstructions(context.Background(), &Quote{Raw: json.RawMessage(`{}`)}, BuildOptions{User: solana.NewWallet().PublicKey()})
	assert.ErrorIs(t, err, config.ErrSwapBuildFailed)
}
