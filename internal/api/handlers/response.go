package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/payflow/internal/account"
	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/models"
	"github.com/Fantasim/payflow/internal/withdraw"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.APIError{
		Error: models.APIErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeFlowError maps a flow error onto a status and error code.
func writeFlowError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	writeError(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	var partial *withdraw.PartialError
	switch {
	case errors.As(err, &partial):
		if partial.AccountCreated {
			return http.StatusBadGateway, config.ErrorWithdrawPartial
		}
		return http.StatusBadGateway, config.ErrorWithdrawFailed
	case errors.Is(err, config.ErrInvalidAmount):
		return http.StatusBadRequest, config.ErrorInvalidAmount
	case errors.Is(err, config.ErrInvalidDestination):
		return http.StatusBadRequest, config.ErrorInvalidDestination
	case errors.Is(err, config.ErrInvalidRequest):
		return http.StatusBadRequest, config.ErrorInvalidRequest
	case errors.Is(err, config.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, config.ErrorInsufficientFunds
	case errors.Is(err, config.ErrAmountTooSmall):
		return http.StatusUnprocessableEntity, config.ErrorAmountTooSmall
	case errors.Is(err, config.ErrDestinationDoesNotExist):
		return http.StatusUnprocessableEntity, config.ErrorDestinationDoesNotExist
	case errors.Is(err, config.ErrPurchaseInProgress):
		return http.StatusConflict, config.ErrorPurchaseInProgress
	case errors.Is(err, config.ErrWithdrawInProgress), errors.Is(err, config.ErrNothingToResume):
		return http.StatusConflict, config.ErrorWithdrawInProgress
	case errors.Is(err, config.ErrResolutionFailed):
		return http.StatusBadGateway, config.ErrorResolutionFailed
	case errors.Is(err, config.ErrConfirmationTimeout), errors.Is(err, config.ErrTimeout):
		return http.StatusGatewayTimeout, config.ErrorConfirmationTimeout
	case errors.Is(err, config.ErrCircuitOpen):
		return http.StatusServiceUnavailable, config.ErrorCircuitOpen
	default:
		return http.StatusInternalServerError, config.ErrorWithdrawFailed
	}
}

// parseOwner decodes a wallet address from a path or body field.
func parseOwner(s string) (solana.PublicKey, error) {
	return account.ParseAddress(s)
}
