// Package config loads the device configuration from
// ~/.config/plate/config.toml with PLATE_* environment overrides.
package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"
)

const configFile = "config.toml"

// Defaults applied by Resolve
const (
	DefaultServerURL    = "http://localhost:3000"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTrigger      = "poll"
	DefaultShellAddr    = "127.0.0.1:7786"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
)

// Config is the device configuration. Zero fields mean "use the default".
type Config struct {
	ServerURL        string `toml:"server_url,omitempty"`
	EncryptionSecret string `toml:"encryption_secret,omitempty"`
	DataDir          string `toml:"data_dir,omitempty"`
	PollInterval     string `toml:"poll_interval,omitempty"` // duration string, default "500ms"
	Trigger          string `toml:"trigger,omitempty"`       // poll, file or dbus
	SignalFile       string `toml:"signal_file,omitempty"`
	// ShellAddr is the local shell listener; nil means the default, "" disables it.
	ShellAddr *string `toml:"shell_addr,omitempty"`
	LogLevel  string  `toml:"log_level,omitempty"`
	LogFormat string  `toml:"log_format,omitempty"`
}

// Dir returns the config directory, creating it if necessary.
// Priority: PLATE_CONFIG_DIR env > ~/.config/plate.
func Dir() (string, error) {
	dir := os.Getenv("PLATE_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "plate")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Path returns the location of config.toml
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads config.toml as written, without env overrides or defaults.
// A missing file yields an empty config.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return loadFile(path)
}

func loadFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

// Save writes cfg to config.toml atomically
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Chmod(path, 0600)
}

// Resolve loads config.toml, applies PLATE_* env overrides and fills in
// defaults. Priority for every field: env > file > default.
func Resolve() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnvOverrides replaces fields with their PLATE_* env values when set
func (c *Config) ApplyEnvOverrides() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.ServerURL, "PLATE_SERVER_URL")
	override(&c.EncryptionSecret, "PLATE_ENCRYPTION_SECRET")
	override(&c.DataDir, "PLATE_DATA_DIR")
	override(&c.PollInterval, "PLATE_POLL_INTERVAL")
	override(&c.Trigger, "PLATE_TRIGGER")
	override(&c.SignalFile, "PLATE_SIGNAL_FILE")
	override(&c.LogLevel, "PLATE_LOG_LEVEL")
	override(&c.LogFormat, "PLATE_LOG_FORMAT")
	// An explicitly empty PLATE_SHELL_ADDR disables the shell
	if v, ok := os.LookupEnv("PLATE_SHELL_ADDR"); ok {
		c.ShellAddr = &v
	}
}

func (c *Config) applyDefaults() error {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, ".local", "share", "plate")
	}
	if c.PollInterval == "" {
		c.PollInterval = DefaultPollInterval.String()
	}
	if c.Trigger == "" {
		c.Trigger = DefaultTrigger
	}
	if c.SignalFile == "" {
		c.SignalFile = filepath.Join(c.DataDir, "clipboard.signal")
	}
	if c.ShellAddr == nil {
		addr := DefaultShellAddr
		c.ShellAddr = &addr
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	return nil
}

// Validate checks resolved values
func (c *Config) Validate() error {
	if d, err := time.ParseDuration(c.PollInterval); err != nil || d <= 0 {
		return fmt.Errorf("poll_interval: invalid duration %q", c.PollInterval)
	}
	switch c.Trigger {
	case "poll", "file", "dbus":
	default:
		return fmt.Errorf("trigger: must be poll, file or dbus, got %q", c.Trigger)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format: must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Poll returns the poll interval, falling back to the default when unparsable
func (c *Config) Poll() time.Duration {
	if d, err := time.ParseDuration(c.PollInterval); err == nil && d > 0 {
		return d
	}
	return DefaultPollInterval
}

// Shell returns the shell listen address, "" when disabled
func (c *Config) Shell() string {
	if c.ShellAddr == nil {
		return DefaultShellAddr
	}
	return *c.ShellAddr
}

// EnsureEncryptionSecret returns the configured secret, generating and
// saving a random one on first use. The PLATE_ENCRYPTION_SECRET env value
// wins and is never written to disk.
func EnsureEncryptionSecret() (string, error) {
	if v := os.Getenv("PLATE_ENCRYPTION_SECRET"); v != "" {
		return v, nil
	}
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	if cfg.EncryptionSecret != "" {
		return cfg.EncryptionSecret, nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	cfg.EncryptionSecret = hex.EncodeToString(b)
	if err := Save(cfg); err != nil {
		return "", err
	}
	return cfg.EncryptionSecret, nil
}

// Keys lists the settable config keys in file order
func Keys() []string {
	return []string{"server_url", "encryption_secret", "data_dir", "poll_interval",
		"trigger", "signal_file", "shell_addr", "log_level", "log_format"}
}

// Get returns the value of key from cfg
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "server_url":
		return c.ServerURL, nil
	case "encryption_secret":
		return c.EncryptionSecret, nil
	case "data_dir":
		return c.DataDir, nil
	case "poll_interval":
		return c.PollInterval, nil
	case "trigger":
		return c.Trigger, nil
	case "signal_file":
		return c.SignalFile, nil
	case "shell_addr":
		return c.Shell(), nil
	case "log_level":
		return c.LogLevel, nil
	case "log_format":
		return c.LogFormat, nil
	}
	return "", fmt.Errorf("unknown config key %q", key)
}

// Set assigns value to key in cfg
func (c *Config) Set(key, value string) error {
	switch key {
	case "server_url":
		c.ServerURL = value
	case "encryption_secret":
		c.EncryptionSecret = value
	case "data_dir":
		c.DataDir = value
	case "poll_interval":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("poll_interval: %w", err)
		}
		c.PollInterval = value
	case "trigger":
		c.Trigger = value
	case "signal_file":
		c.SignalFile = value
	case "shell_addr":
		c.ShellAddr = &value
	case "log_level":
		c.LogLevel = value
	case "log_format":
		c.LogFormat = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
