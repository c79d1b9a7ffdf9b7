package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	ServerDBPath    string
	ShutdownTimeout time.Duration
	AllowSignup     bool
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	RateLimitAuth  int // /auth/* per IP per minute (default: 10)
	RateLimitSync  int // /clipboard/sync per token per minute (default: 120)
	RateLimitOther int // all other per token per minute (default: 300)

	HistoryKeep int           // entries kept per user (default: 1000)
	TokenTTL    time.Duration // 0 means tokens never expire

	CORSAllowedOrigins []string // allowed origins for web clients; empty = disabled

	RateLimitEventRetention time.Duration // retention period for rate limit events (default: 30 days)
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":3000",
		ServerDBPath:    "./data/plate-sync.db",
		ShutdownTimeout: 30 * time.Second,
		AllowSignup:     true,
		LogFormat:       "json",
		LogLevel:        "info",

		RateLimitAuth:  10,
		RateLimitSync:  120,
		RateLimitOther: 300,

		HistoryKeep: 1000,

		RateLimitEventRetention: 30 * 24 * time.Hour,
	}

	if v := os.Getenv("PLATE_SYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PLATE_SYNC_DB_PATH"); v != "" {
		cfg.ServerDBPath = v
	}
	if v := os.Getenv("PLATE_SYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("PLATE_SYNC_ALLOW_SIGNUP"); v == "false" || v == "0" {
		cfg.AllowSignup = false
	}
	if v := os.Getenv("PLATE_SYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("PLATE_SYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	envPositiveInt("PLATE_SYNC_RATE_LIMIT_AUTH", &cfg.RateLimitAuth)
	envPositiveInt("PLATE_SYNC_RATE_LIMIT_SYNC", &cfg.RateLimitSync)
	envPositiveInt("PLATE_SYNC_RATE_LIMIT_OTHER", &cfg.RateLimitOther)
	envPositiveInt("PLATE_SYNC_HISTORY_KEEP", &cfg.HistoryKeep)

	if v := os.Getenv("PLATE_SYNC_TOKEN_TTL"); v != "" {
		cfg.TokenTTL = parseDaysDuration(v)
	}
	if v := os.Getenv("PLATE_SYNC_RATE_LIMIT_EVENT_RETENTION"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.RateLimitEventRetention = d
		}
	}

	if v := os.Getenv("PLATE_SYNC_CORS_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	return cfg
}

func envPositiveInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
