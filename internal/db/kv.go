package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/plate/internal/models"
)

// Keys of the persisted records
const (
	KeyClipboardItems = "clipboardItems"
	KeySettings       = "settings"
	KeyShortcuts      = "shortcuts"
	KeySyncCursor     = "syncCursor"
)

// Get returns the raw value stored under key. ok is false when the key has
// never been written.
func (db *DB) Get(key string) (value []byte, ok bool, err error) {
	var s string
	err = db.conn.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(s), true, nil
}

// Set stores value under key, replacing any previous value
func (db *DB) Set(key string, value []byte) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, string(value), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(key string) error {
	return db.withWriteLock(func() error {
		if _, err := db.conn.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
}

// UpdatedAt returns when key was last written (zero if never)
func (db *DB) UpdatedAt(key string) (time.Time, error) {
	var t time.Time
	err := db.conn.QueryRow("SELECT updated_at FROM kv WHERE key = ?", key).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get %s timestamp: %w", key, err)
	}
	return t, nil
}

func (db *DB) getJSON(key string, v any) (bool, error) {
	data, ok, err := db.Get(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (db *DB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return db.Set(key, data)
}

// LoadEntries returns the persisted clipboard history, newest first
func (db *DB) LoadEntries() ([]models.Entry, error) {
	var entries []models.Entry
	if _, err := db.getJSON(KeyClipboardItems, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveEntries replaces the persisted clipboard history
func (db *DB) SaveEntries(entries []models.Entry) error {
	if entries == nil {
		entries = []models.Entry{}
	}
	return db.setJSON(KeyClipboardItems, entries)
}

// LoadSettings returns the saved settings. Fields never saved keep their
// defaults.
func (db *DB) LoadSettings() (models.Settings, error) {
	s := models.DefaultSettings()
	if _, err := db.getJSON(KeySettings, &s); err != nil {
		return models.DefaultSettings(), err
	}
	return s, nil
}

// SaveSettings validates and stores the settings record
func (db *DB) SaveSettings(s models.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return db.setJSON(KeySettings, s)
}

// LoadShortcuts returns the saved shortcut bindings; ok is false if the user
// has never saved any.
func (db *DB) LoadShortcuts() (bindings []models.Shortcut, ok bool, err error) {
	ok, err = db.getJSON(KeyShortcuts, &bindings)
	return bindings, ok, err
}

// SaveShortcuts stores the shortcut bindings
func (db *DB) SaveShortcuts(bindings []models.Shortcut) error {
	if bindings == nil {
		bindings = []models.Shortcut{}
	}
	return db.setJSON(KeyShortcuts, bindings)
}

// LoadSyncCursor returns the capture time of the newest remote entry already
// pulled, or the zero time before the first pull.
func (db *DB) LoadSyncCursor() (time.Time, error) {
	var cursor time.Time
	if _, err := db.getJSON(KeySyncCursor, &cursor); err != nil {
		return time.Time{}, err
	}
	return cursor, nil
}

// SaveSyncCursor stores the pull cursor
func (db *DB) SaveSyncCursor(cursor time.Time) error {
	return db.setJSON(KeySyncCursor, cursor.UTC())
}
