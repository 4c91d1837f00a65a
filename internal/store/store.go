package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/dogsight/alert-server/internal/geometry"
)

// Store persists per-user settings: the safe-zone polygon and the
// alert-enabled flag. The engine never touches it directly; values are
// loaded at session start and pushed in on explicit save.
type Store struct {
	db *sql.DB
}

// Settings is the per-user configuration row.
type Settings struct {
	UserID       string
	AlertEnabled bool
	WebhookURL   string
}

// Open opens (and if needed initializes) the settings database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open settings database")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS safezones (
			user_id TEXT PRIMARY KEY,
			polygon TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS settings (
			user_id TEXT PRIMARY KEY,
			alert_enabled INTEGER NOT NULL DEFAULT 0,
			webhook_url TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize settings schema")
	}

	return &Store{db: db}, nil
}

// SafeZone loads the stored polygon for a user. A user with no stored zone
// gets an empty polygon (everywhere safe), not an error.
func (s *Store) SafeZone(userID string) (geometry.Polygon, error) {
	var raw string
	err := s.db.QueryRow(
		"SELECT polygon FROM safezones WHERE user_id = ?", userID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load safe zone")
	}

	var zone geometry.Polygon
	if err := json.Unmarshal([]byte(raw), &zone); err != nil {
		return nil, errors.Wrap(err, "decode safe zone polygon")
	}
	return zone, nil
}

// SaveSafeZone stores the polygon for a user, replacing any previous value.
func (s *Store) SaveSafeZone(userID string, zone geometry.Polygon) error {
	raw, err := json.Marshal(zone)
	if err != nil {
		return errors.Wrap(err, "encode safe zone polygon")
	}

	_, err = s.db.Exec(`
		INSERT INTO safezones (user_id, polygon, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET polygon = excluded.polygon, updated_at = excluded.updated_at
	`, userID, string(raw), time.Now().UTC())
	return errors.Wrap(err, "save safe zone")
}

// Settings loads the settings row for a user. The second return reports
// whether a row exists; a missing row returns defaults, not an error, so the
// caller can distinguish "never configured" from "alerts turned off".
func (s *Store) Settings(userID string) (Settings, bool, error) {
	out := Settings{UserID: userID}
	var enabled int
	err := s.db.QueryRow(
		"SELECT alert_enabled, webhook_url FROM settings WHERE user_id = ?", userID,
	).Scan(&enabled, &out.WebhookURL)
	if err == sql.ErrNoRows {
		return out, false, nil
	}
	if err != nil {
		return out, false, errors.Wrap(err, "load settings")
	}
	out.AlertEnabled = enabled != 0
	return out, true, nil
}

// SaveSettings stores the settings row for a user.
func (s *Store) SaveSettings(st Settings) error {
	enabled := 0
	if st.AlertEnabled {
		enabled = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO settings (user_id, alert_enabled, webhook_url, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			alert_enabled = excluded.alert_enabled,
			webhook_url = excluded.webhook_url,
			updated_at = excluded.updated_at
	`, st.UserID, enabled, st.WebhookURL, time.Now().UTC())
	return errors.Wrap(err, "save settings")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
