package swap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/payflow/internal/config"
)

// JupiterClient quotes and builds swaps against the Jupiter v6 API.
// Transactions are requested in legacy form so they can be merged with our own instructions.
type JupiterClient struct {
	client  *http.Client
	baseURL string
}

// NewJupiterClient creates a client for baseURL (config.JupiterBaseURL in production).
func NewJupiterClient(baseURL string) *JupiterClient {
	slog.Info("jupiter client initialized", "baseURL", baseURL)
	return &JupiterClient{
		client:  &http.Client{Timeout: config.SwapQuoteTimeout},
		baseURL: baseURL,
	}
}

type quoteResponse struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	SwapMode             string `json:"swapMode"`
	SlippageBps          int    `json:"slippageBps"`
	PriceImpactPct       string `json:"priceImpactPct"`
}

// GetQuote fetches a route for req.
func (j *JupiterClient) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.SlippageBps < 0 || req.SlippageBps > config.MaxSlippageBps {
		return nil, fmt.Errorf("%w: %d bps", config.ErrInvalidSlippage, req.SlippageBps)
	}

	q := url.Values{}
	q.Set("inputMint", req.InputMint.String())
	q.Set("outputMint", req.OutputMint.String())
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("swapMode", req.Mode)
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	q.Set("asLegacyTransaction", "true")
	q.Set("onlyDirectRoutes", "false")

	endpoint := j.baseURL + "/v6/quote?" + q.Encode()

	slog.Debug("requesting swap quote",
		"inputMint", req.InputMint.String(),
		"outputMint", req.OutputMint.String(),
		"amount", req.Amount,
		"mode", req.Mode,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create quote request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	body, err := j.do(httpReq, config.ErrSwapQuoteFailed)
	if err != nil {
		return nil, err
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", config.ErrSwapQuoteFailed, err)
	}

	quote := &Quote{
		InputMint:      qr.InputMint,
		OutputMint:     qr.OutputMint,
		SwapMode:       qr.SwapMode,
		SlippageBps:    qr.SlippageBps,
		PriceImpactPct: qr.PriceImpactPct,
		Raw:            json.RawMessage(body),
	}
	if quote.InAmount, err = parseAmount("inAmount", qr.InAmount); err != nil {
		return nil, err
	}
	if quote.OutAmount, err = parseAmount("outAmount", qr.OutAmount); err != nil {
		return nil, err
	}
	if qr.OtherAmountThreshold != "" {
		if quote.OtherAmountThreshold, err = parseAmount("otherAmountThreshold", qr.OtherAmountThreshold); err != nil {
			return nil, err
		}
	}

	slog.Info("swap quote received",
		"mode", quote.SwapMode,
		"inAmount", quote.InAmount,
		"outAmount", quote.OutAmount,
		"priceImpactPct", quote.PriceImpactPct,
	)

	return quote, nil
}

type swapInstructionsRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	DestinationTokenAccount string          `json:"destinationTokenAccount,omitempty"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	AsLegacyTransaction     bool            `json:"asLegacyTransaction"`
}

type jupiterAccount struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type jupiterInstruction struct {
	ProgramID string           `json:"programId"`
	Accounts  []jupiterAccount `json:"accounts"`
	Data      string           `json:"data"`
}

type swapInstructionsResponse struct {
	ComputeBudgetInstructions []jupiterInstruction `json:"computeBudgetInstructions"`
	SetupInstructions         []jupiterInstruction `json:"setupInstructions"`
	SwapInstruction           *jupiterInstruction  `json:"swapInstruction"`
	CleanupInstruction        *jupiterInstruction  `json:"cleanupInstruction"`
	AddressLookupTables       []string             `json:"addressLookupTableAddresses"`
	Error                     string               `json:"error"`
}

// BuildSwapInstructions turns quote into executable instructions in provider order:
// compute budget, setup, swap, cleanup.
func (j *JupiterClient) BuildSwapInstructions(ctx context.Context, quote *Quote, opts BuildOptions) ([]solana.Instruction, error) {
	reqBody := swapInstructionsRequest{
		QuoteResponse:       quote.Raw,
		UserPublicKey:       opts.User.String(),
		WrapAndUnwrapSol:    opts.WrapAndUnwrapSOL,
		AsLegacyTransaction: true,
	}
	if !opts.DestinationTokenAccount.IsZero() {
		reqBody.DestinationTokenAccount = opts.DestinationTokenAccount.String()
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/v6/swap-instructions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	body, err := j.do(httpReq, config.ErrSwapBuildFailed)
	if err != nil {
		return nil, err
	}

	var sr swapInstructionsResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", config.ErrSwapBuildFailed, err)
	}
	if sr.Error != "" {
		return nil, fmt.Errorf("%w: %s", config.ErrSwapBuildFailed, sr.Error)
	}
	if sr.SwapInstruction == nil {
		return nil, fmt.Errorf("%w: response has no swap instruction", config.ErrSwapBuildFailed)
	}
	if len(sr.AddressLookupTables) > 0 {
		return nil, fmt.Errorf("%w: route requires address lookup tables", config.ErrSwapBuildFailed)
	}

	raw := append([]jupiterInstruction{}, sr.ComputeBudgetInstructions...)
	raw = append(raw, sr.SetupInstructions...)
	raw = append(raw, *sr.SwapInstruction)
	if sr.CleanupInstruction != nil {
		raw = append(raw, *sr.CleanupInstruction)
	}

	out := make([]solana.Instruction, 0, len(raw))
	for i, ji := range raw {
		ix, err := ji.decode()
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d: %v", config.ErrSwapBuildFailed, i, err)
		}
		out = append(out, ix)
	}

	slog.Info("swap instructions built", "count", len(out), "user", opts.User.String())
	return out, nil
}

func (ji jupiterInstruction) decode() (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(ji.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id %q: %w", ji.ProgramID, err)
	}

	metas := make(solana.AccountMetaSlice, 0, len(ji.Accounts))
	for _, a := range ji.Accounts {
		pk, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", a.Pubkey, err)
		}
		metas = append(metas, &solana.AccountMeta{PublicKey: pk, IsSigner: a.IsSigner, IsWritable: a.IsWritable})
	}

	data, err := base64.StdEncoding.DecodeString(ji.Data)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}

	return solana.NewInstruction(programID, metas, data), nil
}

// do executes req and returns the body of a 200 response. Failures wrap sentinel.
func (j *JupiterClient) do(req *http.Request, sentinel error) ([]byte, error) {
	start := time.Now()
	resp, err := j.client.Do(req)
	if err != nil {
		slog.Error("jupiter request failed",
			"path", req.URL.Path,
			"error", err,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w: %v", sentinel, config.ErrProviderTimeout, err)
		}
		return nil, config.NewTransientError(fmt.Errorf("%w: %v", sentinel, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", sentinel, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, config.NewTransientError(fmt.Errorf("%w: %w", sentinel, config.ErrProviderRateLimit))
	case resp.StatusCode >= 500:
		return nil, config.NewTransientError(fmt.Errorf("%w: HTTP %d", sentinel, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		slog.Warn("jupiter non-200 response",
			"path", req.URL.Path,
			"status", resp.StatusCode,
			"body", string(body),
		)
		return nil, fmt.Errorf("%w: HTTP %d: %s", sentinel, resp.StatusCode, string(body))
	}

	slog.Debug("jupiter request completed",
		"path", req.URL.Path,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return body, nil
}

func parseAmount(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", config.ErrSwapQuoteFailed, field, s)
	}
	return v, nil
}
