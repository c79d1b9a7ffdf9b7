package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/plate/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOpenCreatesDatabase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	database, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer database.Close()

	if _, err := os.Stat(filepath.Join(dir, dbFile)); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	version, err := database.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 1 {
		t.Errorf("schema version = %d, want 1", version)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	database, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := database.Set("greeting", []byte("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	database.Close()

	database, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer database.Close()

	got, ok, err := database.Get("greeting")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if string(got) != "hello" {
		t.Errorf("value = %q, want hello", got)
	}
}

func TestKV(t *testing.T) {
	database := openTestDB(t)

	if _, ok, err := database.Get("missing"); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	if err := database.Set("k", []byte("one")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := database.Set("k", []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, _ := database.Get("k")
	if string(got) != "two" {
		t.Errorf("value = %q, want two", got)
	}

	updated, err := database.UpdatedAt("k")
	if err != nil {
		t.Fatalf("UpdatedAt: %v", err)
	}
	if updated.IsZero() || time.Since(updated) > time.Minute {
		t.Errorf("UpdatedAt = %v, want recent", updated)
	}

	if err := database.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := database.Get("k"); ok {
		t.Error("key still present after Delete")
	}
	if err := database.Delete("k"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}

func TestEntriesRoundTrip(t *testing.T) {
	database := openTestDB(t)

	entries, err := database.LoadEntries()
	if err != nil {
		t.Fatalf("LoadEntries empty: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("fresh db has %d entries", len(entries))
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := []models.Entry{
		{ID: "b", Category: models.CategoryLink, Content: "https://example.com", Timestamp: ts.Add(time.Second)},
		{ID: "a", Category: models.CategoryText, Content: "hello", Timestamp: ts, DeviceID: "dev-1"},
	}
	if err := database.SaveEntries(want); err != nil {
		t.Fatalf("SaveEntries: %v", err)
	}

	got, err := database.LoadEntries()
	if err != nil {
		t.Fatalf("LoadEntries: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Content != want[i].Content ||
			got[i].Category != want[i].Category || !got[i].Timestamp.Equal(want[i].Timestamp) ||
			got[i].DeviceID != want[i].DeviceID {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if err := database.SaveEntries(nil); err != nil {
		t.Fatalf("SaveEntries nil: %v", err)
	}
	raw, _, _ := database.Get(KeyClipboardItems)
	if string(raw) != "[]" {
		t.Errorf("cleared history stored as %q, want []", raw)
	}
}

func TestSettingsDefaultsAndPartialRecords(t *testing.T) {
	database := openTestDB(t)

	s, err := database.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s != models.DefaultSettings() {
		t.Errorf("fresh settings = %+v, want defaults", s)
	}

	// A record written by an older version lacks newer fields.
	if err := database.Set(KeySettings, []byte(`{"maxHistoryItems":5}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s, err = database.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings partial: %v", err)
	}
	if s.MaxHistoryItems != 5 || s.MaxImageSize != 500 || !s.EncryptEnabled {
		t.Errorf("partial settings = %+v", s)
	}

	bad := models.DefaultSettings()
	bad.MaxHistoryItems = 0
	if err := database.SaveSettings(bad); err == nil {
		t.Error("SaveSettings accepted maxHistoryItems=0")
	}
}

func TestShortcuts(t *testing.T) {
	database := openTestDB(t)

	if _, ok, err := database.LoadShortcuts(); err != nil || ok {
		t.Fatalf("fresh shortcuts: ok=%v err=%v", ok, err)
	}

	want := []models.Shortcut{{Action: "quick-access", Accelerator: "Alt+V"}}
	if err := database.SaveShortcuts(want); err != nil {
		t.Fatalf("SaveShortcuts: %v", err)
	}
	got, ok, err := database.LoadShortcuts()
	if err != nil || !ok {
		t.Fatalf("LoadShortcuts: ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("shortcuts = %+v, want %+v", got, want)
	}
}

func TestLoadEntriesCorrupt(t *testing.T) {
	database := openTestDB(t)
	if err := database.Set(KeyClipboardItems, []byte("{not json")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := database.LoadEntries(); err == nil {
		t.Error("expected decode error for corrupt history")
	}
}

func TestSyncCursor(t *testing.T) {
	database := openTestDB(t)

	cursor, err := database.LoadSyncCursor()
	if err != nil {
		t.Fatalf("LoadSyncCursor: %v", err)
	}
	if !cursor.IsZero() {
		t.Errorf("fresh cursor = %v, want zero", cursor)
	}

	want := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	if err := database.SaveSyncCursor(want); err != nil {
		t.Fatalf("SaveSyncCursor: %v", err)
	}
	got, err := database.LoadSyncCursor()
	if err != nil {
		t.Fatalf("LoadSyncCursor: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("cursor = %v, want %v", got, want)
	}
}
