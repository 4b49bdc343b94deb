// Package config loads evstream settings from defaults and EVSTREAM_*
// environment variables. Command-line flags override individual fields.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the runtime settings shared by all commands.
type Config struct {
	DataDir   string
	LogLevel  string // "debug", "info" (default), "warn", "error"
	LogFormat string // "text" (default) or "json"

	Debounce          time.Duration // quiet period before a store change triggers catch-up
	ReconnectInterval time.Duration // minimum spacing between dial attempts per peer
	DedupTTL          time.Duration // 0 disables expiry of unobserved dedup marks
	SubscriptionID    string

	IngestQueueSize  int // inbound events buffered before Submit blocks
	IngestBatchSize  int // events written per store transaction
	WriteLockTimeout time.Duration
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DataDir:           defaultDataDir(),
		LogLevel:          "info",
		LogFormat:         "text",
		Debounce:          100 * time.Millisecond,
		ReconnectInterval: 5 * time.Second,
		DedupTTL:          10 * time.Minute,
		SubscriptionID:    "sub",
		IngestQueueSize:   4096,
		IngestBatchSize:   256,
		WriteLockTimeout:  2 * time.Second,
	}
}

func defaultDataDir() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "evstream")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./evstream-data"
	}
	return filepath.Join(home, ".local", "share", "evstream")
}

// Load reads configuration from environment variables over the defaults.
// Unparseable values are ignored.
func Load() Config {
	cfg := Default()

	if v := os.Getenv("EVSTREAM_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EVSTREAM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EVSTREAM_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("EVSTREAM_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Debounce = d
		}
	}
	if v := os.Getenv("EVSTREAM_RECONNECT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReconnectInterval = d
		}
	}
	if v := os.Getenv("EVSTREAM_DEDUP_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DedupTTL = d
		}
	}
	if v := os.Getenv("EVSTREAM_SUBSCRIPTION_ID"); v != "" {
		cfg.SubscriptionID = v
	}
	if v := os.Getenv("EVSTREAM_INGEST_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.IngestQueueSize = n
		}
	}
	if v := os.Getenv("EVSTREAM_INGEST_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.IngestBatchSize = n
		}
	}
	if v := os.Getenv("EVSTREAM_WRITE_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WriteLockTimeout = d
		}
	}

	return cfg
}

// Validate reports settings that would make the engine misbehave.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data dir is empty"))
	}
	if c.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("debounce must be positive, got %v", c.Debounce))
	}
	if c.ReconnectInterval <= 0 {
		errs = append(errs, fmt.Errorf("reconnect interval must be positive, got %v", c.ReconnectInterval))
	}
	if c.DedupTTL < 0 {
		errs = append(errs, fmt.Errorf("dedup ttl must not be negative, got %v", c.DedupTTL))
	}
	if c.SubscriptionID == "" {
		errs = append(errs, errors.New("subscription id is empty"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
