package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/db"
	"github.com/Fantasim/payflow/internal/models"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.New(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	if err := d.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func setupSettingsRouter(t *testing.T) http.Handler {
	t.Helper()
	database := setupTestDB(t)
	cfg := &config.Config{Network: "devnet"}

	r := chi.NewRouter()
	r.Get("/api/settings", GetSettings(database, cfg))
	r.Put("/api/settings", UpdateSettings(database))
	r.Post("/api/settings/reset", ResetSettings(database))
	return r
}

func settingsData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data is not a map")
	}
	return data
}

func TestGetSettings(t *testing.T) {
	router := setupSettingsRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/settings", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	data := settingsData(t, w)
	expectedKeys := []string{
		config.VarPollRetryDelayMs, config.VarPollMaxRetries,
		config.VarSlippageBps, config.VarMismatchPolicy, "network",
	}
	for _, key := range expectedKeys {
		if _, ok := data[key]; !ok {
			t.Errorf("missing key %q in settings response", key)
		}
	}
	if data[config.VarPollMaxRetries] != "120" {
		t.Errorf("%s = %v, want 120", config.VarPollMaxRetries, data[config.VarPollMaxRetries])
	}
	if data["network"] != "devnet" {
		t.Errorf("network = %v, want devnet", data["network"])
	}
}

func TestUpdateSettings(t *testing.T) {
	router := setupSettingsRouter(t)

	body := `{"purchase_poll_max_retries": "30", "purchase_mismatch_policy": "report"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("PUT", "/api/settings", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	data := settingsData(t, w)
	if data[config.VarPollMaxRetries] != "30" {
		t.Errorf("%s = %v, want 30", config.VarPollMaxRetries, data[config.VarPollMaxRetries])
	}
	if data[config.VarMismatchPolicy] != "report" {
		t.Errorf("%s = %v, want report", config.VarMismatchPolicy, data[config.VarMismatchPolicy])
	}
}

func TestUpdateSettings_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", `{"unknown_key": "value"}`},
		{"invalid body", `not json`},
		{"non numeric", `{"purchase_poll_delay_ms": "fast"}`},
		{"slippage too high", `{"swap_slippage_bps": "5000"}`},
		{"bad policy", `{"purchase_mismatch_policy": "panic"}`},
		{"one bad key blocks all", `{"purchase_poll_max_retries": "30", "swap_slippage_bps": "0"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupSettingsRouter(t)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("PUT", "/api/settings", strings.NewReader(tt.body)))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}

			w = httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/api/settings", nil))
			if got := settingsData(t, w)[config.VarPollMaxRetries]; got != "120" {
				t.Errorf("%s changed to %v after rejected update", config.VarPollMaxRetries, got)
			}
		})
	}
}

func TestResetSettings(t *testing.T) {
	router := setupSettingsRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("PUT", "/api/settings", strings.NewReader(`{"swap_slippage_bps": "200"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/settings/reset", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unconfirmed reset status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/settings/reset", strings.NewReader(`{"confirm": true}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", w.Code)
	}
	if got := settingsData(t, w)[config.VarSlippageBps]; got != "50" {
		t.Errorf("%s = %v after reset, want 50", config.VarSlippageBps, got)
	}
}
