// Package syncconfig stores sync credentials and the device identity in
// ~/.config/plate/auth.json.
package syncconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/marcus/plate/internal/config"
)

const authFile = "auth.json"

// Default remote call tuning
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxRetries     = 3
)

// AuthCredentials stores authentication state at ~/.config/plate/auth.json.
// DeviceID survives logout so the device keeps its identity.
type AuthCredentials struct {
	Token     string `json:"token,omitempty"`
	Username  string `json:"username,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
	DeviceID  string `json:"device_id"`
	LoggedIn  string `json:"logged_in,omitempty"` // RFC 3339
}

func authPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, authFile), nil
}

// LoadAuth reads auth credentials. Returns nil, nil when none are stored.
func LoadAuth() (*AuthCredentials, error) {
	path, err := authPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", authFile, err)
	}
	return &creds, nil
}

// SaveAuth atomically writes auth credentials with 0600 permissions.
func SaveAuth(creds *AuthCredentials) error {
	path, err := authPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", authFile, err)
	}
	return os.Chmod(path, 0600)
}

// ClearAuth forgets the token and user but keeps the device id.
func ClearAuth() error {
	creds, err := LoadAuth()
	if err != nil {
		return err
	}
	if creds == nil || creds.DeviceID == "" {
		path, err := authPath()
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return SaveAuth(&AuthCredentials{DeviceID: creds.DeviceID})
}

// GetServerURL returns the sync server URL.
// Priority: PLATE_SERVER_URL env > config.toml > default.
func GetServerURL() string {
	if v := os.Getenv("PLATE_SERVER_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	cfg, err := config.Load()
	if err == nil && cfg.ServerURL != "" {
		return strings.TrimRight(cfg.ServerURL, "/")
	}
	return config.DefaultServerURL
}

// GetToken returns the auth token.
// Priority: PLATE_AUTH_TOKEN env > auth.json.
func GetToken() string {
	if v := os.Getenv("PLATE_AUTH_TOKEN"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.Token
	}
	return ""
}

// IsAuthenticated returns true if a token is available.
func IsAuthenticated() bool {
	return GetToken() != ""
}

// GetDeviceID returns the persisted device id, generating and saving one
// on first use so it stays stable across restarts.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}

	id, err := GenerateDeviceID()
	if err != nil {
		return "", err
	}
	if creds == nil {
		creds = &AuthCredentials{}
	}
	creds.DeviceID = id
	if err := SaveAuth(creds); err != nil {
		return "", err
	}
	return id, nil
}

// GenerateDeviceID creates a new device id (UUIDv7: time-ordered plus random).
func GenerateDeviceID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// GetRequestTimeout returns the per-call timeout for remote requests.
// Priority: PLATE_SYNC_TIMEOUT env > default (10s).
func GetRequestTimeout() time.Duration {
	if v := os.Getenv("PLATE_SYNC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return DefaultRequestTimeout
}

// GetMaxRetries returns how many times a transient remote failure is retried.
// Priority: PLATE_SYNC_RETRIES env > default (3).
func GetMaxRetries() int {
	if v := os.Getenv("PLATE_SYNC_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return DefaultMaxRetries
}
