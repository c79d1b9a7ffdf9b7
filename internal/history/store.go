// Package history holds the bounded, newest-first clipboard history and
// keeps it consistent with its persisted copy.
package history

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/marcus/plate/internal/models"
)

// ErrInvalidLimit is returned for a history bound below one entry.
var ErrInvalidLimit = errors.New("history limit must be at least 1")

// Persister durably stores the whole history sequence. db.DB implements it.
type Persister interface {
	LoadEntries() ([]models.Entry, error)
	SaveEntries([]models.Entry) error
}

// Decrypter turns a stored content string back into plaintext, returning the
// input unchanged when it is not an envelope. crypto.Codec implements it.
type Decrypter interface {
	Decrypt(content string) string
}

// Store is the bounded clipboard history. Every mutation writes the full
// sequence through the Persister before returning; if that write fails the
// in-memory sequence is left as it was and the error is returned.
type Store struct {
	mu      sync.Mutex
	entries []models.Entry // newest first
	limit   int
	persist Persister
	codec   Decrypter
}

// New creates an empty store bounded to limit entries. codec may be nil when
// content is never encrypted.
func New(p Persister, limit int, codec Decrypter) *Store {
	if limit < 1 {
		limit = models.DefaultSettings().MaxHistoryItems
	}
	return &Store{persist: p, limit: limit, codec: codec}
}

// Load replaces the in-memory sequence with the persisted one. A persisted
// sequence longer than the bound is truncated in memory only; the next
// mutation writes the truncated sequence.
func (s *Store) Load() error {
	entries, err := s.persist.LoadEntries()
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(entries) > s.limit {
		entries = entries[:s.limit]
	}
	s.entries = entries
	return nil
}

// commit persists next and, on success, makes it the current sequence.
// Callers hold s.mu.
func (s *Store) commit(next []models.Entry) error {
	if err := s.persist.SaveEntries(next); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	s.entries = next
	return nil
}

// Insert prepends e and evicts the oldest entries beyond the bound. An entry
// whose id is already present replaces it at the head.
func (s *Store) Insert(e models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]models.Entry, 0, min(len(s.entries)+1, s.limit))
	next = append(next, e)
	for _, cur := range s.entries {
		if len(next) == s.limit {
			break
		}
		if cur.ID != e.ID {
			next = append(next, cur)
		}
	}
	return s.commit(next)
}

// Merge places entries not already present by capture time, newest first,
// leaving the relative order of existing entries alone. The result is
// truncated to the bound and persisted once. It returns how many of the
// given entries are in the history afterwards; entries too old to fit
// within the bound are dropped.
func (s *Store) Merge(entries []models.Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.entries)
	added := make(map[string]bool, len(entries))
	for _, e := range entries {
		if added[e.ID] || slices.ContainsFunc(next, func(cur models.Entry) bool { return cur.ID == e.ID }) {
			continue
		}
		i := slices.IndexFunc(next, func(cur models.Entry) bool { return cur.Timestamp.Before(e.Timestamp) })
		if i < 0 {
			i = len(next)
		}
		next = slices.Insert(next, i, e)
		added[e.ID] = true
	}
	if len(added) == 0 {
		return 0, nil
	}
	if len(next) > s.limit {
		next = next[:s.limit]
	}

	kept := 0
	for _, e := range next {
		if added[e.ID] {
			kept++
		}
	}
	if kept == 0 {
		return 0, nil
	}
	if err := s.commit(next); err != nil {
		return 0, err
	}
	return kept, nil
}

// Remove deletes the entry with the given id. It reports whether an entry
// was removed.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.DeleteFunc(slices.Clone(s.entries), func(e models.Entry) bool {
		return e.ID == id
	})
	removed := len(next) != len(s.entries)
	if err := s.commit(next); err != nil {
		return false, err
	}
	return removed, nil
}

// Clear empties the history
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit([]models.Entry{})
}

// Replace overwrites the whole history with entries (newest first),
// truncated to the bound.
func (s *Store) Replace(entries []models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(entries)
	if next == nil {
		next = []models.Entry{}
	}
	if len(next) > s.limit {
		next = next[:s.limit]
	}
	return s.commit(next)
}

// SetLimit changes the bound, evicting the oldest entries if the history is
// now too long.
func (s *Store) SetLimit(n int) error {
	if n < 1 {
		return ErrInvalidLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) <= n {
		s.limit = n
		return nil
	}
	if err := s.commit(slices.Clone(s.entries[:n])); err != nil {
		return err
	}
	s.limit = n
	return nil
}

// Limit returns the current bound
func (s *Store) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

// PruneOlderThan removes entries captured before cutoff and returns how many
// were removed. Nothing is persisted when no entry is old enough.
func (s *Store) PruneOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.DeleteFunc(slices.Clone(s.entries), func(e models.Entry) bool {
		return e.Timestamp.Before(cutoff)
	})
	removed := len(s.entries) - len(next)
	if removed == 0 {
		return 0, nil
	}
	if err := s.commit(next); err != nil {
		return 0, err
	}
	return removed, nil
}

// List returns a copy of the history as stored (content may be encrypted)
func (s *Store) List() []models.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Len returns the number of entries
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Get returns the stored entry with the given id
func (s *Store) Get(id string) (models.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return models.Entry{}, false
}

// Has reports whether an entry with the given id is present
func (s *Store) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Plain returns e with its content decrypted for display or matching.
// Image content is never encrypted and is returned as is.
func (s *Store) Plain(e models.Entry) models.Entry {
	if s.codec != nil && !e.IsImage() {
		e.Content = s.codec.Decrypt(e.Content)
	}
	return e
}

// Query returns decrypted entries whose content contains keyword, ignoring
// case. Image entries never match a keyword; an empty keyword returns every
// entry.
func (s *Store) Query(keyword string) []models.Entry {
	entries := s.List()
	needle := strings.ToLower(keyword)

	out := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		plain := s.Plain(e)
		if needle == "" {
			out = append(out, plain)
			continue
		}
		if e.IsImage() {
			continue
		}
		if strings.Contains(strings.ToLower(plain.Content), needle) {
			out = append(out, plain)
		}
	}
	return out
}

// textSource adapts decrypted text entries to fuzzy.Source
type textSource []models.Entry

func (t textSource) String(i int) string { return t[i].Content }
func (t textSource) Len() int            { return len(t) }

// FuzzyQuery returns decrypted text entries matching pattern as a fuzzy
// subsequence, best match first.
func (s *Store) FuzzyQuery(pattern string) []models.Entry {
	var src textSource
	for _, e := range s.List() {
		if !e.IsImage() {
			src = append(src, s.Plain(e))
		}
	}
	if pattern == "" {
		return []models.Entry(src)
	}

	matches := fuzzy.FindFrom(pattern, src)
	out := make([]models.Entry, len(matches))
	for i, m := range matches {
		out[i] = src[m.Index]
	}
	return out
}
