// Package shortcuts manages the accelerator bindings the UI shell registers
// as global hotkeys.
package shortcuts

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marcus/plate/internal/models"
)

// Known actions
const (
	ActionQuickAccess = "quick-access"
	ActionToggleSync  = "toggle-sync"
	ActionClear       = "clear-history"
)

var (
	ErrUnknownAction      = errors.New("unknown shortcut action")
	ErrInvalidAccelerator = errors.New("invalid accelerator")
)

// Defaults returns the built-in bindings. An empty accelerator leaves the
// action unbound.
func Defaults() []models.Shortcut {
	return []models.Shortcut{
		{Action: ActionQuickAccess, Accelerator: "CommandOrControl+Shift+V"},
		{Action: ActionToggleSync, Accelerator: ""},
		{Action: ActionClear, Accelerator: ""},
	}
}

// Actions lists the bindable actions in display order
func Actions() []string {
	return []string{ActionQuickAccess, ActionToggleSync, ActionClear}
}

var modifiers = map[string]bool{
	"command": true, "cmd": true, "control": true, "ctrl": true,
	"commandorcontrol": true, "cmdorctrl": true, "alt": true, "option": true,
	"altgr": true, "shift": true, "super": true, "meta": true,
}

var namedKeys = map[string]bool{
	"space": true, "tab": true, "backspace": true, "delete": true, "insert": true,
	"return": true, "enter": true, "up": true, "down": true, "left": true,
	"right": true, "home": true, "end": true, "pageup": true, "pagedown": true,
	"escape": true, "esc": true, "plus": true,
}

// ValidateAccelerator checks an accelerator of the form
// "Modifier+...+Key": at least one modifier and exactly one trailing key.
func ValidateAccelerator(acc string) error {
	if acc == "" {
		return nil
	}
	parts := strings.Split(acc, "+")
	if len(parts) < 2 {
		return fmt.Errorf("%w %q: needs a modifier and a key", ErrInvalidAccelerator, acc)
	}
	for _, p := range parts[:len(parts)-1] {
		if !modifiers[strings.ToLower(p)] {
			return fmt.Errorf("%w %q: unknown modifier %q", ErrInvalidAccelerator, acc, p)
		}
	}
	if !isKey(parts[len(parts)-1]) {
		return fmt.Errorf("%w %q: unknown key %q", ErrInvalidAccelerator, acc, parts[len(parts)-1])
	}
	return nil
}

func isKey(k string) bool {
	if len(k) == 1 {
		c := k[0]
		return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			strings.ContainsRune("`-=[]\\;',./", rune(c))
	}
	lk := strings.ToLower(k)
	if namedKeys[lk] {
		return true
	}
	var n int
	if _, err := fmt.Sscanf(lk, "f%d", &n); err == nil && n >= 1 && n <= 24 && lk == fmt.Sprintf("f%d", n) {
		return true
	}
	return false
}

// Validate checks every binding: known action, valid accelerator, no action
// listed twice and no accelerator bound to two actions.
func Validate(bindings []models.Shortcut) error {
	seenAction := make(map[string]bool)
	seenAcc := make(map[string]string)
	for _, b := range bindings {
		if !slices.Contains(Actions(), b.Action) {
			return fmt.Errorf("%w: %q", ErrUnknownAction, b.Action)
		}
		if seenAction[b.Action] {
			return fmt.Errorf("action %q bound twice", b.Action)
		}
		seenAction[b.Action] = true
		if err := ValidateAccelerator(b.Accelerator); err != nil {
			return err
		}
		if b.Accelerator == "" {
			continue
		}
		key := strings.ToLower(b.Accelerator)
		if other, ok := seenAcc[key]; ok {
			return fmt.Errorf("accelerator %q used by both %q and %q", b.Accelerator, other, b.Action)
		}
		seenAcc[key] = b.Action
	}
	return nil
}

// Merge overlays saved bindings on the defaults so newly added actions
// always appear. Unknown saved actions are dropped.
func Merge(saved []models.Shortcut) []models.Shortcut {
	out := Defaults()
	for _, s := range saved {
		for i := range out {
			if out[i].Action == s.Action {
				out[i].Accelerator = s.Accelerator
			}
		}
	}
	return out
}

// Set returns bindings with action rebound to accelerator.
func Set(bindings []models.Shortcut, action, accelerator string) ([]models.Shortcut, error) {
	out := Merge(bindings)
	found := false
	for i := range out {
		if out[i].Action == action {
			out[i].Accelerator = accelerator
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

type document struct {
	Shortcuts []models.Shortcut `yaml:"shortcuts"`
}

// Export writes bindings as a YAML document
func Export(w io.Writer, bindings []models.Shortcut) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(document{Shortcuts: bindings}); err != nil {
		return fmt.Errorf("encode shortcuts: %w", err)
	}
	return enc.Close()
}

// Import reads a YAML document written by Export, validates it and merges it
// over the defaults.
func Import(r io.Reader) ([]models.Shortcut, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Defaults(), nil
		}
		return nil, fmt.Errorf("decode shortcuts: %w", err)
	}
	if err := Validate(doc.Shortcuts); err != nil {
		return nil, err
	}
	return Merge(doc.Shortcuts), nil
}
