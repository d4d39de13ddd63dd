package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Fantasim/payflow/internal/config"
)

// defaultSettings are served for keys with no stored value. Only these keys
// may be written.
var defaultSettings = map[string]string{
	config.VarPollRetryDelayMs: strconv.FormatInt(config.DefaultPollRetryDelay.Milliseconds(), 10),
	config.VarPollMaxRetries:   strconv.Itoa(config.DefaultPollMaxRetries),
	config.VarSlippageBps:      strconv.Itoa(config.DefaultSlippageBps),
	config.VarMismatchPolicy:   config.MismatchPolicyWarn,
}

// IsKnownSetting reports whether key is a recognised setting.
func IsKnownSetting(key string) bool {
	_, ok := defaultSettings[key]
	return ok
}

// GetSetting retrieves a single setting value by key, returning the default if not set.
func (d *DB) GetSetting(key string) (string, error) {
	var value string
	err := d.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	if defVal, ok := defaultSettings[key]; ok {
		slog.Debug("setting not stored, returning default", "key", key, "default", defVal)
		return defVal, nil
	}
	return "", fmt.Errorf("get setting %q: %w", key, err)
}

// SetSetting upserts a setting key-value pair.
func (d *DB) SetSetting(key, value string) error {
	if !IsKnownSetting(key) {
		return fmt.Errorf("set setting %q: %w: unknown key", key, config.ErrInvalidConfig)
	}

	_, err := d.conn.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}

	slog.Info("setting updated", "key", key, "value", value)
	return nil
}

// GetAllSettings retrieves all settings, filling in defaults for missing keys.
func (d *DB) GetAllSettings() (map[string]string, error) {
	result := make(map[string]string, len(defaultSettings))
	for k, v := range defaultSettings {
		result[k] = v
	}

	rows, err := d.conn.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting row: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate setting rows: %w", err)
	}

	slog.Debug("settings loaded", "count", len(result))
	return result, nil
}

// ResetSettings removes every stored override, reverting to defaults.
func (d *DB) ResetSettings() error {
	slog.Warn("resetting settings to defaults")
	if _, err := d.conn.Exec("DELETE FROM settings"); err != nil {
		return fmt.Errorf("delete settings: %w", err)
	}
	return nil
}
