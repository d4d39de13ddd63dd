package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/payflow/internal/amount"
	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/models"
	"github.com/Fantasim/payflow/internal/withdraw"
)

// Withdrawals runs withdrawals on behalf of the handlers.
type Withdrawals interface {
	Withdraw(ctx context.Context, req withdraw.Request) (*withdraw.Result, error)
	ResumeTransfer(ctx context.Context, owner solana.PublicKey, id string) (*withdraw.Result, error)
}

type withdrawRequest struct {
	Owner       string `json:"owner"`
	Destination string `json:"destination"`
	// Amount in dollars.
	Amount string `json:"amount"`
}

// CreateWithdrawal handles POST /api/withdrawals. The request blocks until the
// withdrawal settles.
func CreateWithdrawal(withdrawals Withdrawals) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req withdrawRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("invalid withdrawal request body", "error", err)
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid request body")
			return
		}
		owner, err := parseOwner(req.Owner)
		if err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid owner: "+err.Error())
			return
		}
		minor, err := amount.USDC(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidAmount, err.Error())
			return
		}

		slog.Info("withdrawal requested",
			"owner", owner.String(),
			"destination", req.Destination,
			"amount", req.Amount,
		)

		ctx, cancel := context.WithTimeout(r.Context(), config.WithdrawalTimeout)
		defer cancel()

		res, err := withdrawals.Withdraw(ctx, withdraw.Request{
			Owner:       owner,
			Destination: req.Destination,
			Amount:      minor,
		})
		if err != nil {
			writeFlowError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, models.APIResponse{
			Data: res,
			Meta: &models.APIMeta{ExecutionTime: time.Since(start).Milliseconds()},
		})
	}
}

type resumeRequest struct {
	Owner string `json:"owner"`
}

// ResumeWithdrawal handles POST /api/withdrawals/{id}/resume.
func ResumeWithdrawal(withdrawals Withdrawals) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req resumeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid request body")
			return
		}
		owner, err := parseOwner(req.Owner)
		if err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid owner: "+err.Error())
			return
		}

		slog.Info("withdrawal resume requested", "withdrawalID", id, "owner", owner.String())

		ctx, cancel := context.WithTimeout(r.Context(), config.WithdrawalTimeout)
		defer cancel()

		res, err := withdrawals.ResumeTransfer(ctx, owner, id)
		if err != nil {
			writeFlowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, models.APIResponse{Data: res})
	}
}
