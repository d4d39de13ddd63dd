package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Fantasim/payflow/internal/config"
)

type memSettings map[string]string

func (m memSettings) GetAllSettings() (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

func (m memSettings) SetSetting(key, value string) error {
	m[key] = value
	return nil
}

func (m memSettings) ResetSettings() error {
	for k := range m {
		delete(m, k)
	}
	return nil
}

func newTestRouter() http.Handler {
	return NewRouter(Deps{
		Config:   &config.Config{Network: "devnet", DBPath: "test.sqlite"},
		Settings: memSettings{config.VarSlippageBps: "50"},
	})
}

func TestRouter_Health(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter().ServeHTTP(w, httptest.NewRequest("GET", "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" || body["network"] != "devnet" || body["version"] != Version {
		t.Errorf("health body = %v", body)
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/health", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "payflow_http_requests_total") {
		t.Error("metrics output missing payflow_http_requests_total")
	}
}

func TestRouter_SettingsAreLocalOnly(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("GET", "/api/settings", nil)
	req.Host = "payflow.example.com"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("remote settings status = %d, want 403", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/settings", nil)
	req.Host = "localhost:8080"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("local settings status = %d, want 200", w.Code)
	}
}
