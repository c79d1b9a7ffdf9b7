// Package output provides styled terminal output helpers (success, error,
// warning, history entry formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/marcus/plate/internal/imaging"
	"github.com/marcus/plate/internal/models"
)

var (
	// Styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	categoryStyles = map[models.Category]lipgloss.Style{
		models.CategoryText:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		models.CategoryLink:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.CategoryCode:  lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		models.CategoryImage: lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
	}
	stateStyles = map[models.ConnState]lipgloss.Style{
		models.StateConnected:    successStyle,
		models.StateConnecting:   warningStyle,
		models.StateDisconnected: subtleStyle,
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeDatabase     = "database_error"
	ErrCodeSync         = "sync_error"
	ErrCodeNotLoggedIn  = "not_logged_in"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatCategory formats a category badge with color
func FormatCategory(c models.Category) string {
	style, ok := categoryStyles[c]
	if !ok {
		return fmt.Sprintf("[%s]", c)
	}
	return style.Render(fmt.Sprintf("[%s]", c))
}

// FormatState formats a sync connection state
func FormatState(s models.ConnState) string {
	style, ok := stateStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// ShortID returns the last 8 characters of an id. UUIDv7 ids share their
// leading timestamp bits, so the tail is what tells entries apart.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

// Preview collapses content onto one line and truncates it to width runes.
// Images are summarized by their size.
func Preview(e models.Entry, width int) string {
	if e.IsImage() {
		return fmt.Sprintf("<image %s>", humanize.Bytes(uint64(imaging.SizeKB(e.Content))*1024))
	}
	line := strings.Join(strings.Fields(e.Content), " ")
	if width > 1 && utf8.RuneCountInString(line) > width {
		runes := []rune(line)
		line = string(runes[:width-1]) + "…"
	}
	return line
}

// FormatEntryShort formats an entry on one line. Content must already be
// decrypted.
func FormatEntryShort(e models.Entry, width int) string {
	parts := []string{
		titleStyle.Render(ShortID(e.ID)),
		FormatCategory(e.Category),
		Preview(e, width),
		subtleStyle.Render(FormatTimeAgo(e.Timestamp)),
	}
	return strings.Join(parts, "  ")
}

// FormatEntryLong formats an entry header followed by its full content.
// body is the content as it should be shown (e.g. rendered code).
func FormatEntryLong(e models.Entry, body string) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(e.ID))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Category: %s\n", FormatCategory(e.Category))
	fmt.Fprintf(&sb, "Captured: %s (%s)\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), humanize.Time(e.Timestamp))
	if e.DeviceID != "" {
		fmt.Fprintf(&sb, "Device: %s\n", e.DeviceID)
	}
	if e.SourceApp != "" {
		fmt.Fprintf(&sb, "Source: %s\n", e.SourceApp)
	}
	if e.IsImage() {
		fmt.Fprintf(&sb, "Size: %s\n", humanize.Bytes(uint64(imaging.SizeKB(e.Content))*1024))
		return sb.String()
	}

	fmt.Fprintf(&sb, "Length: %s chars\n", humanize.Comma(int64(utf8.RuneCountInString(e.Content))))
	sb.WriteString(SectionHeader("content"))
	sb.WriteString(body)
	sb.WriteString("\n")
	return sb.String()
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nCONTENT:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
