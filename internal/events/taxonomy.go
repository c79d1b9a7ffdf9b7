package events

import "strings"

// Type names an event published on the bus and pushed to shell subscribers.
type Type string

// Canonical event types
const (
	// TypeClipboardChange fires when an entry enters the history, from a
	// local capture or a remote update.
	TypeClipboardChange Type = "clipboard-change"
	TypeEntryRemoved    Type = "entry-removed"
	TypeHistoryCleared  Type = "history-cleared"
	TypeHistoryReplaced Type = "history-replaced"
	TypeSettingsChanged Type = "settings-changed"
	TypeSyncState       Type = "sync-state"
)

// Source tells subscribers where a clipboard change came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceShell  Source = "shell"
)

// AllTypes returns all valid event types.
func AllTypes() map[Type]bool {
	return map[Type]bool{
		TypeClipboardChange: true,
		TypeEntryRemoved:    true,
		TypeHistoryCleared:  true,
		TypeHistoryReplaced: true,
		TypeSettingsChanged: true,
		TypeSyncState:       true,
	}
}

// IsValidType checks if the given event type string is valid.
func IsValidType(t string) bool {
	return AllTypes()[Type(t)]
}

// NormalizeType maps a subscriber-supplied filter name to its canonical
// type. Underscores and camel-case spellings are accepted.
func NormalizeType(s string) (Type, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case "clipboard-change", "clipboardchange", "change":
		return TypeClipboardChange, true
	case "entry-removed", "entryremoved", "remove":
		return TypeEntryRemoved, true
	case "history-cleared", "historycleared", "clear":
		return TypeHistoryCleared, true
	case "history-replaced", "historyreplaced":
		return TypeHistoryReplaced, true
	case "settings-changed", "settingschanged", "settings":
		return TypeSettingsChanged, true
	case "sync-state", "syncstate":
		return TypeSyncState, true
	default:
		return "", false
	}
}
