package output

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/plate/internal/models"
)

// TestFormatTimeAgo covers each bucket
func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago      time.Duration
		expected string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{time.Minute, "1m ago"},
		{59 * time.Minute, "59m ago"},
		{time.Hour, "1h ago"},
		{23 * time.Hour, "23h ago"},
		{24 * time.Hour, "1d ago"},
		{6 * 24 * time.Hour, "6d ago"},
	}
	for _, tc := range tests {
		if got := FormatTimeAgo(time.Now().Add(-tc.ago)); got != tc.expected {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.ago, got, tc.expected)
		}
	}
}

func TestFormatTimeAgoDate(t *testing.T) {
	tm := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	if got := FormatTimeAgo(tm); got != "2024-01-15" {
		t.Errorf("FormatTimeAgo = %q, want 2024-01-15", got)
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("0192f3a4-7b1c-7def-8abc-1234567890ab"); got != "567890ab" {
		t.Errorf("ShortID = %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID(short) = %q", got)
	}
}

func TestPreview(t *testing.T) {
	e := models.Entry{Category: models.CategoryText, Content: "line one\n\tline   two"}
	if got := Preview(e, 0); got != "line one line two" {
		t.Errorf("Preview = %q", got)
	}
	if got := Preview(e, 8); got != "line on…" {
		t.Errorf("Preview truncated = %q", got)
	}

	img := models.Entry{Category: models.CategoryImage, Content: "data:image/png;base64," + strings.Repeat("A", 4096)}
	if got := Preview(img, 20); !strings.HasPrefix(got, "<image ") {
		t.Errorf("image preview = %q", got)
	}
}

func TestFormatEntryShort(t *testing.T) {
	e := models.Entry{
		ID:        "0192f3a4-7b1c-7def-8abc-1234567890ab",
		Category:  models.CategoryLink,
		Content:   "https://example.com",
		Timestamp: time.Now(),
	}
	got := FormatEntryShort(e, 40)
	for _, want := range []string{"567890ab", "[link]", "https://example.com", "just now"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatEntryShort missing %q: %q", want, got)
		}
	}
}

func TestFormatEntryLong(t *testing.T) {
	e := models.Entry{
		ID:        "e1",
		Category:  models.CategoryCode,
		Content:   "fmt.Println(1)",
		Timestamp: time.Now().Add(-2 * time.Hour),
		DeviceID:  "laptop",
	}
	got := FormatEntryLong(e, e.Content)
	for _, want := range []string{"e1", "[code]", "2 hours ago", "Device: laptop", "Length: 14 chars", "CONTENT:", "fmt.Println(1)"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatEntryLong missing %q:\n%s", want, got)
		}
	}

	img := models.Entry{ID: "i1", Category: models.CategoryImage, Content: "data:image/png;base64,AAAA"}
	if got := FormatEntryLong(img, ""); strings.Contains(got, "CONTENT:") || !strings.Contains(got, "Size:") {
		t.Errorf("image long format:\n%s", got)
	}
}

func TestFormatCategoryUnknown(t *testing.T) {
	if got := FormatCategory("video"); got != "[video]" {
		t.Errorf("FormatCategory = %q", got)
	}
}

func TestFormatState(t *testing.T) {
	for _, s := range []models.ConnState{models.StateConnected, models.StateConnecting, models.StateDisconnected} {
		if !strings.Contains(FormatState(s), string(s)) {
			t.Errorf("FormatState(%q) = %q", s, FormatState(s))
		}
	}
}

func TestSectionHeader(t *testing.T) {
	if got := SectionHeader("content"); got != "\nCONTENT:\n" {
		t.Errorf("SectionHeader = %q", got)
	}
}

func TestIndentString(t *testing.T) {
	if got := IndentString("a\nb", 2); got != "  a\n  b" {
		t.Errorf("IndentString = %q", got)
	}
	if got := IndentString("", 4); got != "" {
		t.Errorf("IndentString(empty) = %q", got)
	}
}

func TestRenderCodeEmptyAndFenced(t *testing.T) {
	out, err := RenderCode("x := 1", "go", 40)
	if err != nil {
		t.Fatalf("RenderCode: %v", err)
	}
	if !strings.Contains(out, "x := 1") {
		t.Errorf("rendered = %q", out)
	}
}
