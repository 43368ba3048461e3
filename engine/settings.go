package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/slopshield/dbopen"
)

// Settings are the user-tunable runtime values. They live in SQLite as
// a single JSON blob under a namespaced key, so another connection (a
// settings UI, the CLI) can update them while the engine runs.
type Settings struct {
	MinTextLength int `json:"min_text_length"`
	Threshold     int `json:"threshold"`
}

// SettingsSchema creates the settings table. Pass to dbopen.WithSchema.
const SettingsSchema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const settingsKey = "slopshield/settings"

// SettingsStore persists Settings in SQLite.
type SettingsStore struct {
	db       *sql.DB
	defaults Settings
	logger   *slog.Logger
}

// NewSettingsStore wraps db, which must carry SettingsSchema. defaults
// fill any field absent from (or invalid in) the stored blob.
func NewSettingsStore(db *sql.DB, defaults Settings, logger *slog.Logger) *SettingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsStore{db: db, defaults: defaults, logger: logger}
}

// Load returns the persisted settings merged over the defaults. A
// missing row or a malformed blob yields the defaults — corrupt state
// is discarded, never fatal.
func (s *SettingsStore) Load(ctx context.Context) Settings {
	out := s.defaults

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, settingsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return out
	}
	if err != nil {
		s.logger.Warn("engine: settings load failed, using defaults", "error", err)
		return out
	}

	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.logger.Warn("engine: malformed settings discarded", "error", err)
		return s.defaults
	}
	if out.MinTextLength <= 0 {
		out.MinTextLength = s.defaults.MinTextLength
	}
	if out.Threshold < 1 || out.Threshold > 10 {
		out.Threshold = s.defaults.Threshold
	}
	return out
}

// Save persists settings, replacing any previous blob.
func (s *SettingsStore) Save(ctx context.Context, settings Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("engine: marshal settings: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at`,
		settingsKey, string(raw))
	if err != nil {
		return fmt.Errorf("engine: save settings: %w", err)
	}
	return nil
}

