// Package remoteconfig serves operator tunables that can change at runtime.
package remoteconfig

import (
	"log/slog"
	"strconv"
)

// Getter returns the raw value of a variable. ok is false when the variable
// is undefined, in which case callers fall back to compiled defaults.
type Getter interface {
	GetVar(key string) (value string, ok bool)
}

// SettingsStore is the persistence behind Store.
type SettingsStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	GetAllSettings() (map[string]string, error)
}

// Store reads variables from the settings table on every call, so edits made
// through the API apply to the next flow without a restart.
type Store struct {
	settings SettingsStore
}

// NewStore wraps a settings store.
func NewStore(settings SettingsStore) *Store {
	return &Store{settings: settings}
}

// GetVar implements Getter. Lookup errors are logged and reported as undefined.
func (s *Store) GetVar(key string) (string, bool) {
	v, err := s.settings.GetSetting(key)
	if err != nil {
		slog.Warn("remote config lookup failed", "key", key, "error", err)
		return "", false
	}
	return v, true
}

// Set stores a variable.
func (s *Store) Set(key, value string) error {
	return s.settings.SetSetting(key, value)
}

// All returns every known variable with defaults applied.
func (s *Store) All() (map[string]string, error) {
	return s.settings.GetAllSettings()
}

// Static is a fixed Getter.
type Static map[string]string

func (m Static) GetVar(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Int reads key as an integer. Undefined or malformed values yield ok=false;
// malformed values are logged.
func Int(g Getter, key string) (int, bool) {
	if g == nil {
		return 0, false
	}
	raw, ok := g.GetVar(key)
	if !ok || raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("remote config value is not an integer", "key", key, "value", raw)
		return 0, false
	}
	return n, true
}

// String reads key, returning def when undefined.
func String(g Getter, key, def string) string {
	if g == nil {
		return def
	}
	if v, ok := g.GetVar(key); ok && v != "" {
		return v
	}
	return def
}
