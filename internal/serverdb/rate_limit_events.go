package serverdb

import (
	"fmt"
	"time"
)

// InsertRateLimitEvent records a rate limit violation.
// keyID may be empty for IP-based rate limiting (stored as NULL).
func (db *ServerDB) InsertRateLimitEvent(keyID, ip, endpointClass string) error {
	var keyIDParam any
	if keyID != "" {
		keyIDParam = keyID
	}
	_, err := db.conn.Exec(
		`INSERT INTO rate_limit_events (key_id, ip, endpoint_class) VALUES (?, ?, ?)`,
		keyIDParam, ip, endpointClass,
	)
	if err != nil {
		return fmt.Errorf("insert rate limit event: %w", err)
	}
	return nil
}

// CountRateLimitEvents returns how many violations were recorded for an
// endpoint class ("" counts all).
func (db *ServerDB) CountRateLimitEvents(endpointClass string) (int, error) {
	var n int
	var err error
	if endpointClass == "" {
		err = db.conn.QueryRow(`SELECT COUNT(*) FROM rate_limit_events`).Scan(&n)
	} else {
		err = db.conn.QueryRow(`SELECT COUNT(*) FROM rate_limit_events WHERE endpoint_class = ?`, endpointClass).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count rate limit events: %w", err)
	}
	return n, nil
}

// CleanupRateLimitEvents deletes events older than the given duration.
// Returns the number of rows deleted.
func (db *ServerDB) CleanupRateLimitEvents(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	res, err := db.conn.Exec(`DELETE FROM rate_limit_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
