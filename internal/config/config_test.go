package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points the config dir and HOME at fresh temp dirs and clears
// PLATE_* overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PLATE_CONFIG_DIR", dir)
	for _, key := range []string{"PLATE_SERVER_URL", "PLATE_ENCRYPTION_SECRET", "PLATE_DATA_DIR",
		"PLATE_POLL_INTERVAL", "PLATE_TRIGGER", "PLATE_SIGNAL_FILE", "PLATE_LOG_LEVEL", "PLATE_LOG_FORMAT"} {
		t.Setenv(key, "")
	}
	// Registered with t.Setenv so the original value is restored afterwards
	t.Setenv("PLATE_SHELL_ADDR", "")
	os.Unsetenv("PLATE_SHELL_ADDR")
	return dir
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, configFile), []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestResolveDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.ServerURL != DefaultServerURL {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Poll() != DefaultPollInterval {
		t.Errorf("Poll = %v", cfg.Poll())
	}
	if cfg.Trigger != "poll" || cfg.Shell() != DefaultShellAddr {
		t.Errorf("Trigger=%q Shell=%q", cfg.Trigger, cfg.Shell())
	}
	if !strings.HasSuffix(cfg.DataDir, filepath.Join(".local", "share", "plate")) {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.SignalFile != filepath.Join(cfg.DataDir, "clipboard.signal") {
		t.Errorf("SignalFile = %q", cfg.SignalFile)
	}
}

func TestResolveFileThenEnv(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, dir, `
server_url = "https://sync.example.com/"
poll_interval = "2s"
trigger = "file"
shell_addr = ""
`)

	cfg, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.ServerURL != "https://sync.example.com" {
		t.Errorf("ServerURL = %q, want trailing slash trimmed", cfg.ServerURL)
	}
	if cfg.Poll() != 2*time.Second || cfg.Trigger != "file" {
		t.Errorf("Poll=%v Trigger=%q", cfg.Poll(), cfg.Trigger)
	}
	if cfg.Shell() != "" {
		t.Errorf("empty shell_addr should disable the shell, got %q", cfg.Shell())
	}

	t.Setenv("PLATE_SERVER_URL", "http://env.example.com")
	t.Setenv("PLATE_SHELL_ADDR", "127.0.0.1:9999")
	cfg, err = Resolve()
	if err != nil {
		t.Fatalf("Resolve with env: %v", err)
	}
	if cfg.ServerURL != "http://env.example.com" || cfg.Shell() != "127.0.0.1:9999" {
		t.Errorf("env overrides not applied: %+v shell=%q", cfg, cfg.Shell())
	}
}

func TestResolveRejectsInvalid(t *testing.T) {
	dir := isolate(t)

	writeConfig(t, dir, `trigger = "inotify"`)
	if _, err := Resolve(); err == nil {
		t.Error("unknown trigger accepted")
	}

	writeConfig(t, dir, `poll_interval = "soon"`)
	if _, err := Resolve(); err == nil {
		t.Error("bad poll interval accepted")
	}

	writeConfig(t, dir, `server_url = [`)
	if _, err := Resolve(); err == nil {
		t.Error("malformed toml accepted")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := isolate(t)

	cfg := &Config{}
	if err := cfg.Set("server_url", "https://a.example"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cfg.Set("poll_interval", "forever"); err == nil {
		t.Error("Set accepted bad duration")
	}
	if err := cfg.Set("nope", "x"); err == nil {
		t.Error("Set accepted unknown key")
	}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, configFile))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, _ := loaded.Get("server_url"); v != "https://a.example" {
		t.Errorf("server_url = %q", v)
	}
	if loaded.ShellAddr != nil {
		t.Error("unset shell_addr should stay nil after a round trip")
	}
}

func TestEnsureEncryptionSecret(t *testing.T) {
	isolate(t)

	first, err := EnsureEncryptionSecret()
	if err != nil {
		t.Fatalf("EnsureEncryptionSecret: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("generated secret length = %d, want 64 hex chars", len(first))
	}
	second, _ := EnsureEncryptionSecret()
	if second != first {
		t.Error("secret must be stable once generated")
	}

	t.Setenv("PLATE_ENCRYPTION_SECRET", "from-env")
	if got, _ := EnsureEncryptionSecret(); got != "from-env" {
		t.Errorf("env secret ignored: %q", got)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, dir, `log_level = "info"`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, func(c *Config) { changes <- c }) }()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, `log_level = "debug"`)

	select {
	case cfg := <-changes:
		if cfg.LogLevel != "debug" {
			t.Errorf("reloaded log level = %q, want debug", cfg.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after config edit")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}
