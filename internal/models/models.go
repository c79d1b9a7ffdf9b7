package models

import (
	"fmt"
	"strings"
	"time"
)

// Category represents the kind of content captured in a clipboard entry
type Category string

const (
	CategoryText  Category = "text"
	CategoryLink  Category = "link"
	CategoryCode  Category = "code"
	CategoryImage Category = "image"
)

// AllCategories lists categories in display order
func AllCategories() []Category {
	return []Category{CategoryText, CategoryImage, CategoryCode, CategoryLink}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(c Category) bool {
	switch c {
	case CategoryText, CategoryLink, CategoryCode, CategoryImage:
		return true
	}
	return false
}

// NormalizeCategory converts alternate category names to canonical form
func NormalizeCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "url", "link", "links":
		return CategoryLink
	case "code", "snippet":
		return CategoryCode
	case "image", "img", "picture":
		return CategoryImage
	default:
		return CategoryText
	}
}

// Entry is one captured clipboard snapshot. Entries are immutable once
// created; an update is a removal followed by a reinsertion.
type Entry struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SourceApp string    `json:"sourceApp,omitempty"`
	DeviceID  string    `json:"deviceId,omitempty"`
}

// IsImage reports whether the entry holds image content
func (e Entry) IsImage() bool {
	return e.Category == CategoryImage
}

// Settings is the persisted user settings record
type Settings struct {
	SyncEnabled     bool `json:"syncEnabled"`
	EncryptEnabled  bool `json:"encryptEnabled"`
	MaxHistoryItems int  `json:"maxHistoryItems"`
	SyncInterval    int  `json:"syncInterval"`    // seconds
	RetentionPeriod int  `json:"retentionPeriod"` // days, 0 keeps entries forever
	MaxImageSize    int  `json:"maxImageSize"`    // KB
}

// DefaultSettings returns the settings used before the user saves any
func DefaultSettings() Settings {
	return Settings{
		SyncEnabled:     true,
		EncryptEnabled:  true,
		MaxHistoryItems: 100,
		SyncInterval:    30,
		RetentionPeriod: 30,
		MaxImageSize:    500,
	}
}

// Validate checks that settings are usable
func (s Settings) Validate() error {
	if s.MaxHistoryItems < 1 {
		return fmt.Errorf("maxHistoryItems must be at least 1, got %d", s.MaxHistoryItems)
	}
	if s.MaxImageSize < 1 {
		return fmt.Errorf("maxImageSize must be at least 1, got %d", s.MaxImageSize)
	}
	if s.SyncInterval < 0 {
		return fmt.Errorf("syncInterval must not be negative, got %d", s.SyncInterval)
	}
	if s.RetentionPeriod < 0 {
		return fmt.Errorf("retentionPeriod must not be negative, got %d", s.RetentionPeriod)
	}
	return nil
}

// Retention returns the retention period as a duration (0 = unlimited)
func (s Settings) Retention() time.Duration {
	return time.Duration(s.RetentionPeriod) * 24 * time.Hour
}

// ConnState represents the sync channel connection state
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// SyncSession holds the per-device sync identity and connection state
type SyncSession struct {
	DeviceID  string    `json:"deviceId"`
	AuthToken string    `json:"-"`
	State     ConnState `json:"state"`
}

// Shortcut binds a UI action to a global accelerator
type Shortcut struct {
	Action      string `json:"action" yaml:"action"`
	Accelerator string `json:"accelerator" yaml:"accelerator"`
}
