// Package config loads the stockwatch configuration file.
//
// Both JSON and YAML are accepted: YAML is coerced to JSON so one strict
// decoder (DisallowUnknownFields) covers both formats. All durations are Go
// duration strings ("300ms", "6s", "10m").
//
// The configuration is immutable at runtime; the pipeline receives its
// settings at construction. Watch only reports on-disk changes so an operator
// knows a restart is needed.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram"`
	Snapshot SnapshotConfig `json:"snapshot"`
	Reader   ReaderConfig   `json:"reader,omitempty"`
	Notify   NotifyConfig   `json:"notify,omitempty"`
	Monitor  MonitorConfig  `json:"monitor"`
	Health   HealthConfig   `json:"health,omitempty"`

	Collections []CollectionConfig `json:"collections"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console *bool             `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type TelegramConfig struct {
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SnapshotConfig selects the snapshot store driver ("file" or "sqlite").
type SnapshotConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type ReaderConfig struct {
	RemoteURL        string   `json:"remote_url,omitempty"`
	Timeout          string   `json:"timeout,omitempty"`
	RetryMax         int      `json:"retry_max,omitempty"`
	RetryDelay       string   `json:"retry_delay,omitempty"`
	BlockedResources []string `json:"blocked_resources,omitempty"`
	UserAgent        string   `json:"user_agent,omitempty"`
}

type NotifyConfig struct {
	MaxMessageLen   int    `json:"max_message_len,omitempty"`
	Pace            string `json:"pace,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryDelay      string `json:"retry_delay,omitempty"`
	BucketThreshold int    `json:"bucket_threshold,omitempty"`
	BucketMaxLinks  int    `json:"bucket_max_links,omitempty"`
	TopLinks        int    `json:"top_links,omitempty"`
}

type MonitorConfig struct {
	Interval     string `json:"interval,omitempty"`
	StartupDelay string `json:"startup_delay,omitempty"`
	Cooldown     string `json:"cooldown,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

type HealthConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

type CollectionConfig struct {
	Key        string `json:"key"`
	Label      string `json:"label"`
	URL        string `json:"url"`
	TrackItems bool   `json:"track_items,omitempty"`
}

// Load reads, decodes and validates the config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, b)
}

// Parse decodes config bytes. The path argument is only used to detect the
// format by extension.
func Parse(path string, b []byte) (*Config, error) {
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required")
	}
	if strings.TrimSpace(c.Snapshot.Path) == "" {
		return errors.New("snapshot.path is required")
	}
	if len(c.Collections) == 0 {
		return errors.New("at least one collection is required")
	}

	seen := map[string]struct{}{}
	for i, col := range c.Collections {
		if strings.TrimSpace(col.Key) == "" {
			return fmt.Errorf("collections[%d].key is required", i)
		}
		if strings.TrimSpace(col.URL) == "" {
			return fmt.Errorf("collections[%d].url is required", i)
		}
		if _, dup := seen[col.Key]; dup {
			return fmt.Errorf("collections[%d]: duplicate key %q", i, col.Key)
		}
		seen[col.Key] = struct{}{}
	}

	for _, f := range []struct{ path, raw string }{
		{"snapshot.busy_timeout", c.Snapshot.BusyTimeout},
		{"reader.timeout", c.Reader.Timeout},
		{"reader.retry_delay", c.Reader.RetryDelay},
		{"notify.pace", c.Notify.Pace},
		{"notify.retry_delay", c.Notify.RetryDelay},
		{"monitor.interval", c.Monitor.Interval},
		{"monitor.startup_delay", c.Monitor.StartupDelay},
		{"monitor.cooldown", c.Monitor.Cooldown},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// ConsoleEnabled defaults to true when the field is omitted.
func (l LoggingConfig) ConsoleEnabled() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}

// ParseDurationField parses a duration config value. Empty means zero;
// negative values are rejected. path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
