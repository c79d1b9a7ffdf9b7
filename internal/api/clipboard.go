package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/marcus/plate/internal/models"
	"github.com/marcus/plate/internal/serverdb"
)

const (
	maxHistoryLimit = 1000
	maxEntryIDLen   = 128
)

// SyncResponse is returned by POST /clipboard/sync.
type SyncResponse struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}

// validateEntry checks the fields every stored entry must carry.
func validateEntry(e models.Entry) error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if len(e.ID) > maxEntryIDLen {
		return fmt.Errorf("id must be at most %d characters", maxEntryIDLen)
	}
	if !models.IsValidCategory(e.Category) {
		return fmt.Errorf("invalid category: %q", e.Category)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// storeEntry persists e for the user and trims their history to the
// configured size.
func (s *Server) storeEntry(userID string, e models.Entry) error {
	if _, err := s.store.PutEntry(userID, e); err != nil {
		return err
	}
	s.metrics.RecordEntryAccepted()
	if _, err := s.store.PruneEntries(userID, s.config.HistoryKeep); err != nil {
		return fmt.Errorf("prune entries: %w", err)
	}
	return nil
}

// handleSync stores one entry. Live fan-out happens only over /ws.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	var e models.Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := validateEntry(e); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if e.DeviceID == "" {
		e.DeviceID = user.DeviceID
	}

	if err := s.storeEntry(user.UserID, e); err != nil {
		logFor(r.Context()).Error("store entry", "err", err, "id", e.ID)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store entry")
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{ID: e.ID, Accepted: true})
}

// handleHistory returns the user's stored entries, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	limit := serverdb.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.store.ListEntries(user.UserID, limit)
	if err != nil {
		logFor(r.Context()).Error("list entries", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to load history")
		return
	}
	s.metrics.RecordHistoryRequest()
	writeJSON(w, http.StatusOK, entries)
}
