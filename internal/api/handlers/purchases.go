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
	"github.com/Fantasim/payflow/internal/purchase"
)

// Purchases is the purchase registry the handlers drive.
type Purchases interface {
	Start(ctx context.Context, owner solana.PublicKey, req purchase.OpenRequest) (*purchase.Controller, error)
	Get(owner solana.PublicKey) (*purchase.Controller, bool)
	Deliver(owner solana.PublicKey, sig purchase.Signal) (bool, error)
}

type startPurchaseRequest struct {
	Owner    string `json:"owner"`
	Provider string `json:"provider"`
	// Amount in dollars, e.g. "25.50".
	Amount string `json:"amount"`
}

// StartPurchase handles POST /api/purchases.
func StartPurchase(purchases Purchases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req startPurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("invalid purchase request body", "error", err)
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid request body")
			return
		}

		owner, err := parseOwner(req.Owner)
		if err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid owner: "+err.Error())
			return
		}
		desired, err := amount.USDC(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidAmount, err.Error())
			return
		}
		provider := models.ParseProvider(req.Provider)
		if provider == models.ProviderUnknown {
			slog.Warn("purchase requested with unknown provider", "provider", req.Provider)
		}

		slog.Info("purchase requested",
			"owner", owner.String(),
			"provider", provider,
			"amount", req.Amount,
		)

		ctx, cancel := context.WithTimeout(r.Context(), config.APITimeout)
		defer cancel()

		c, err := purchases.Start(ctx, owner, purchase.OpenRequest{Provider: provider, DesiredAmount: desired})
		if err != nil {
			slog.Warn("purchase could not be opened", "owner", owner.String(), "error", err)
			status, code := classifyError(err)
			if code == config.ErrorWithdrawFailed {
				code = config.ErrorPurchaseFailed
			}
			writeError(w, status, code, err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, models.APIResponse{
			Data: c.View(),
			Meta: &models.APIMeta{ExecutionTime: time.Since(start).Milliseconds()},
		})
	}
}

type signalRequest struct {
	Signal string `json:"signal"`
}

// SignalPurchase handles POST /api/purchases/{owner}/signal, the on-ramp
// callback.
func SignalPurchase(purchases Purchases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := parseOwner(chi.URLParam(r, "owner"))
		if err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid owner: "+err.Error())
			return
		}

		var req signalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid request body")
			return
		}
		sig, ok := purchase.ParseSignal(req.Signal)
		if !ok {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "unknown signal: "+req.Signal)
			return
		}

		accepted, err := purchases.Deliver(owner, sig)
		if err != nil {
			writeError(w, http.StatusNotFound, config.ErrorPurchaseNotFound, err.Error())
			return
		}

		slog.Info("on-ramp signal received", "owner", owner.String(), "signal", sig, "accepted", accepted)
		writeJSON(w, http.StatusOK, models.APIResponse{
			Data: map[string]bool{"accepted": accepted},
		})
	}
}

// GetPurchase handles GET /api/purchases/{owner}.
func GetPurchase(purchases Purchases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := parseOwner(chi.URLParam(r, "owner"))
		if err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid owner: "+err.Error())
			return
		}
		c, ok := purchases.Get(owner)
		if !ok {
			writeError(w, http.StatusNotFound, config.ErrorPurchaseNotFound, "no purchase for "+owner.String())
			return
		}
		writeJSON(w, http.StatusOK, models.APIResponse{Data: c.View()})
	}
}
