// Package shell is the boundary the external UI shell talks to: request and
// reply operations on the clipboard, history, settings and shortcuts, plus a
// stream of history events.
package shell

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/plate/internal/clipboard"
	"github.com/marcus/plate/internal/events"
	"github.com/marcus/plate/internal/history"
	"github.com/marcus/plate/internal/imaging"
	"github.com/marcus/plate/internal/models"
	"github.com/marcus/plate/internal/shortcuts"
)

// SettingsStore persists the settings record and shortcut bindings.
// db.DB implements it.
type SettingsStore interface {
	LoadSettings() (models.Settings, error)
	SaveSettings(models.Settings) error
	LoadShortcuts() ([]models.Shortcut, bool, error)
	SaveShortcuts([]models.Shortcut) error
}

// ClipboardWriter writes to the clipboard. detector.Detector implements it
// so that content put there by the UI is not captured again.
type ClipboardWriter interface {
	WriteText(text string) error
	WriteImage(png []byte) error
}

// Sealer encrypts text content. crypto.Codec implements it.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	IsEnvelope(s string) bool
}

// Options wires a Service. Clipboard, History and Store are required.
type Options struct {
	Clipboard clipboard.Clipboard
	Writer    ClipboardWriter // defaults to Clipboard
	History   *history.Store
	Store     SettingsStore
	Codec     Sealer
	Events    events.Publisher
}

// Content is what is currently on the clipboard. Image is a data URL.
type Content struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
}

// Service implements the shell operations. It also owns the live settings
// record that the detector and sync engine read.
type Service struct {
	opts Options

	mu       sync.RWMutex
	settings models.Settings
}

// NewService loads the persisted settings and applies the history bound.
func NewService(opts Options) (*Service, error) {
	if opts.Clipboard == nil || opts.History == nil || opts.Store == nil {
		return nil, errors.New("shell: clipboard, history and store are required")
	}
	if opts.Writer == nil {
		opts.Writer = opts.Clipboard
	}

	settings, err := opts.Store.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if err := opts.History.SetLimit(settings.MaxHistoryItems); err != nil {
		return nil, fmt.Errorf("apply history limit: %w", err)
	}
	return &Service{opts: opts, settings: settings}, nil
}

func (s *Service) publish(ev events.Event) {
	if s.opts.Events != nil {
		s.opts.Events.Publish(ev)
	}
}

// Clipboard returns the current clipboard text and, when present, image.
func (s *Service) Clipboard() (Content, error) {
	text, err := s.opts.Clipboard.ReadText()
	if err != nil {
		return Content{}, fmt.Errorf("read clipboard: %w", err)
	}
	c := Content{Text: text}
	png, err := s.opts.Clipboard.ReadImage()
	if err != nil && !errors.Is(err, clipboard.ErrImageUnsupported) {
		slog.Debug("read clipboard image", "err", err)
	}
	if len(png) > 0 {
		if url, err := imaging.FromBytes(png); err == nil {
			c.Image = url
		}
	}
	return c, nil
}

// SetClipboard writes content to the clipboard. Image data URLs are written
// as images, everything else as text.
func (s *Service) SetClipboard(content string) error {
	if imaging.IsDataURL(content) {
		png, err := imaging.ToPNG(content)
		if err != nil {
			return fmt.Errorf("decode image: %w", err)
		}
		return s.opts.Writer.WriteImage(png)
	}
	return s.opts.Writer.WriteText(content)
}

// Copy puts a history entry back on the clipboard.
func (s *Service) Copy(id string) (models.Entry, error) {
	e, ok := s.opts.History.Get(id)
	if !ok {
		return models.Entry{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	plain := s.opts.History.Plain(e)
	if err := s.SetClipboard(plain.Content); err != nil {
		return models.Entry{}, err
	}
	return plain, nil
}

// ErrNotFound is returned for an unknown entry id
var ErrNotFound = errors.New("not found")

// History returns the history newest first with content decrypted.
func (s *Service) History() []models.Entry {
	return s.opts.History.Query("")
}

// SaveHistory replaces the whole history. Text content arriving in plaintext
// is sealed when encryption is enabled.
func (s *Service) SaveHistory(entries []models.Entry) error {
	encrypt := s.Settings().EncryptEnabled
	sealed := make([]models.Entry, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("entry %d has no id", i)
		}
		if !models.IsValidCategory(e.Category) {
			return fmt.Errorf("entry %s: invalid category %q", e.ID, e.Category)
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		if encrypt && !e.IsImage() && s.opts.Codec != nil && !s.opts.Codec.IsEnvelope(e.Content) {
			c, err := s.opts.Codec.Encrypt(e.Content)
			if err != nil {
				return fmt.Errorf("encrypt entry %s: %w", e.ID, err)
			}
			e.Content = c
		}
		sealed[i] = e
	}
	if err := s.opts.History.Replace(sealed); err != nil {
		return err
	}
	s.publish(events.Event{Type: events.TypeHistoryReplaced, Source: events.SourceShell})
	return nil
}

// ClearHistory removes every entry
func (s *Service) ClearHistory() error {
	if err := s.opts.History.Clear(); err != nil {
		return err
	}
	s.publish(events.Event{Type: events.TypeHistoryCleared, Source: events.SourceShell})
	return nil
}

// RemoveEntry deletes one entry by id.
func (s *Service) RemoveEntry(id string) error {
	removed, err := s.opts.History.Remove(id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	s.publish(events.Event{Type: events.TypeEntryRemoved, Source: events.SourceShell, ID: id})
	return nil
}

// Search matches entries by case-insensitive substring, or by fuzzy
// subsequence when fuzzy is set.
func (s *Service) Search(q string, fuzzy bool) []models.Entry {
	if fuzzy {
		return s.opts.History.FuzzyQuery(q)
	}
	return s.opts.History.Query(q)
}

// Settings returns the live settings record
func (s *Service) Settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SaveSettings validates and persists settings, then applies the new
// history bound.
func (s *Service) SaveSettings(next models.Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if err := s.opts.Store.SaveSettings(next); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.mu.Lock()
	s.settings = next
	s.mu.Unlock()

	if err := s.opts.History.SetLimit(next.MaxHistoryItems); err != nil {
		return fmt.Errorf("apply history limit: %w", err)
	}
	s.publish(events.Event{Type: events.TypeSettingsChanged, Source: events.SourceShell, Settings: &next})
	slog.Info("settings saved", "maxHistoryItems", next.MaxHistoryItems, "sync", next.SyncEnabled, "encrypt", next.EncryptEnabled)
	return nil
}

// Shortcuts returns the saved bindings merged over the defaults.
func (s *Service) Shortcuts() ([]models.Shortcut, error) {
	saved, _, err := s.opts.Store.LoadShortcuts()
	if err != nil {
		return nil, fmt.Errorf("load shortcuts: %w", err)
	}
	return shortcuts.Merge(saved), nil
}

// SaveShortcuts validates and persists bindings.
func (s *Service) SaveShortcuts(bindings []models.Shortcut) error {
	if err := shortcuts.Validate(bindings); err != nil {
		return err
	}
	merged := shortcuts.Merge(bindings)
	if err := s.opts.Store.SaveShortcuts(merged); err != nil {
		return fmt.Errorf("save shortcuts: %w", err)
	}
	return nil
}

// PruneExpired drops entries older than the retention period. A zero
// retention period keeps everything.
func (s *Service) PruneExpired(now time.Time) (int, error) {
	retention := s.Settings().Retention()
	if retention <= 0 {
		return 0, nil
	}
	n, err := s.opts.History.PruneOlderThan(now.Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("pruned expired entries", "count", n)
		s.publish(events.Event{Type: events.TypeHistoryReplaced, Source: events.SourceLocal})
	}
	return n, nil
}
