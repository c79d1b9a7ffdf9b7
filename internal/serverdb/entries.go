package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/plate/internal/models"
)

// DefaultHistoryLimit is how many entries GET /clipboard/history returns
// when the client does not ask for a limit.
const DefaultHistoryLimit = 100

// capturedFormat is fixed width so captured_at orders correctly as text.
const capturedFormat = "2006-01-02T15:04:05.000000000Z"

// PutEntry stores an entry for userID. A second write of the same id
// replaces the first (last write wins). It reports whether the id was new.
func (db *ServerDB) PutEntry(userID string, e models.Entry) (bool, error) {
	if e.ID == "" {
		return false, fmt.Errorf("entry id is required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var exists int
	err := db.conn.QueryRow(`SELECT 1 FROM entries WHERE user_id = ? AND id = ?`, userID, e.ID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check entry: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO entries (user_id, id, category, content, captured_at, source_app, device_id, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, id) DO UPDATE SET
			category = excluded.category,
			content = excluded.content,
			captured_at = excluded.captured_at,
			source_app = excluded.source_app,
			device_id = excluded.device_id,
			received_at = excluded.received_at`,
		userID, e.ID, string(e.Category), e.Content, e.Timestamp.UTC().Format(capturedFormat),
		e.SourceApp, e.DeviceID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("put entry: %w", err)
	}
	return exists == 0, nil
}

// ListEntries returns up to limit of the user's entries, newest first.
func (db *ServerDB) ListEntries(userID string, limit int) ([]models.Entry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := db.conn.Query(`
		SELECT id, category, content, captured_at, source_app, device_id
		FROM entries WHERE user_id = ?
		ORDER BY captured_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := []models.Entry{}
	for rows.Next() {
		var e models.Entry
		var category, captured string
		if err := rows.Scan(&e.ID, &category, &e.Content, &captured, &e.SourceApp, &e.DeviceID); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Category = models.Category(category)
		if e.Timestamp, err = time.Parse(capturedFormat, captured); err != nil {
			return nil, fmt.Errorf("entry %s: parse timestamp: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries: iterate: %w", err)
	}
	return entries, nil
}

// PruneEntries keeps the user's newest keep entries and deletes the rest.
// Returns the number of rows deleted.
func (db *ServerDB) PruneEntries(userID string, keep int) (int64, error) {
	res, err := db.conn.Exec(`
		DELETE FROM entries WHERE user_id = ? AND id NOT IN (
			SELECT id FROM entries WHERE user_id = ?
			ORDER BY captured_at DESC, id DESC LIMIT ?
		)`, userID, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountEntries returns how many entries the user has stored.
func (db *ServerDB) CountEntries(userID string) (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM entries WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}
