package events

import "testing"

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		input    string
		expected Type
		valid    bool
	}{
		{"clipboard-change", TypeClipboardChange, true},
		{"clipboard_change", TypeClipboardChange, true},
		{"ClipboardChange", TypeClipboardChange, true},
		{" change ", TypeClipboardChange, true},
		{"entry-removed", TypeEntryRemoved, true},
		{"clear", TypeHistoryCleared, true},
		{"history_replaced", TypeHistoryReplaced, true},
		{"settings", TypeSettingsChanged, true},
		{"sync_state", TypeSyncState, true},
		{"", "", false},
		{"issues", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeType(tt.input)
		if got != tt.expected || ok != tt.valid {
			t.Errorf("NormalizeType(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.expected, tt.valid)
		}
	}
}

func TestAllTypesAreValid(t *testing.T) {
	for typ := range AllTypes() {
		if !IsValidType(string(typ)) {
			t.Errorf("IsValidType(%q) = false", typ)
		}
		if got, ok := NormalizeType(string(typ)); !ok || got != typ {
			t.Errorf("canonical type %q does not normalize to itself", typ)
		}
	}
	if IsValidType("bogus") {
		t.Error("IsValidType(bogus) = true")
	}
}
