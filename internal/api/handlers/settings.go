package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/db"
	"github.com/Fantasim/payflow/internal/models"
)

// SettingsStore is the persisted runtime configuration.
type SettingsStore interface {
	GetAllSettings() (map[string]string, error)
	SetSetting(key, value string) error
	ResetSettings() error
}

// validateSettingValue validates a setting value for a given key.
func validateSettingValue(key, value string) error {
	switch key {
	case config.VarPollRetryDelayMs:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be a number, got %q", key, value)
		}
		if n < 10 || n > 60_000 {
			return fmt.Errorf("%s must be between 10 and 60000, got %d", key, n)
		}
	case config.VarPollMaxRetries:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be a number, got %q", key, value)
		}
		if n < 1 || n > 10_000 {
			return fmt.Errorf("%s must be between 1 and 10000, got %d", key, n)
		}
	case config.VarSlippageBps:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be a number, got %q", key, value)
		}
		if n < 1 || n > config.MaxSlippageBps {
			return fmt.Errorf("%s must be between 1 and %d, got %d", key, config.MaxSlippageBps, n)
		}
	case config.VarMismatchPolicy:
		if value != config.MismatchPolicyWarn && value != config.MismatchPolicyReport {
			return fmt.Errorf("%s must be %q or %q, got %q", key, config.MismatchPolicyWarn, config.MismatchPolicyReport, value)
		}
	}
	return nil
}

// GetSettings handles GET /api/settings.
// Includes the read-only "network" field from server config.
func GetSettings(store SettingsStore, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		settings, err := store.GetAllSettings()
		if err != nil {
			slog.Error("failed to get settings", "error", err)
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to get settings")
			return
		}

		settings["network"] = cfg.Network

		elapsed := time.Since(start).Milliseconds()
		slog.Debug("settings fetched", "count", len(settings), "elapsed_ms", elapsed)

		writeJSON(w, http.StatusOK, models.APIResponse{
			Data: settings,
			Meta: &models.APIMeta{ExecutionTime: elapsed},
		})
	}
}

// UpdateSettings handles PUT /api/settings. Every key is validated before
// any is written.
func UpdateSettings(store SettingsStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var updates map[string]string
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			slog.Warn("invalid settings request body", "error", err)
			writeError(w, http.StatusBadRequest, config.ErrorInvalidConfig, "invalid request body")
			return
		}

		for key, value := range updates {
			if !db.IsKnownSetting(key) {
				slog.Warn("unknown setting key", "key", key)
				writeError(w, http.StatusBadRequest, config.ErrorInvalidConfig, "unknown setting key: "+key)
				return
			}
			if err := validateSettingValue(key, value); err != nil {
				slog.Warn("invalid setting value", "key", key, "value", value, "error", err)
				writeError(w, http.StatusBadRequest, config.ErrorInvalidConfig, err.Error())
				return
			}
		}

		for key, value := range updates {
			if err := store.SetSetting(key, value); err != nil {
				slog.Error("failed to update setting", "key", key, "error", err)
				writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to update setting: "+key)
				return
			}
		}

		settings, err := store.GetAllSettings()
		if err != nil {
			slog.Error("failed to get updated settings", "error", err)
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to get settings after update")
			return
		}

		elapsed := time.Since(start).Milliseconds()
		slog.Info("settings updated", "keys", len(updates), "elapsed_ms", elapsed)

		writeJSON(w, http.StatusOK, models.APIResponse{
			Data: settings,
			Meta: &models.APIMeta{ExecutionTime: elapsed},
		})
	}
}

// resetConfirmation is the expected request body for reset operations.
type resetConfirmation struct {
	Confirm bool `json:"confirm"`
}

// ResetSettings handles POST /api/settings/reset.
func ResetSettings(store SettingsStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Warn("settings reset requested", "remoteAddr", r.RemoteAddr)

		var body resetConfirmation
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Confirm {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidConfig, "confirmation required: {\"confirm\": true}")
			return
		}
		if err := store.ResetSettings(); err != nil {
			slog.Error("failed to reset settings", "error", err)
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to reset settings")
			return
		}

		settings, err := store.GetAllSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to get settings")
			return
		}
		writeJSON(w, http.StatusOK, models.APIResponse{Data: settings})
	}
}
