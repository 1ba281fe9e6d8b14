// Package config loads the on-disk settings file and supplies platform
// defaults for everything the daemon needs at startup. A missing config file
// is never fatal; every field has a default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const appDirName = "filesearch"

// Config carries every recognized startup option.
type Config struct {
	// ScanRoot is the single directory or volume whose contents are indexed.
	// Platform-defaulted (home dir on macOS, C:\ on Windows); not
	// user-overridable in this version, so it has no yaml tag.
	ScanRoot string `yaml:"-"`

	// DBPath is the location of the embedded index database.
	DBPath string `yaml:"db_path"`

	// IgnoreFiles lists .pathignore files consulted by the ignore engine.
	IgnoreFiles []string `yaml:"ignore_files"`

	// BusyRetryDelay is how long writers wait before their single retry on a
	// database contention error.
	BusyRetryDelay time.Duration `yaml:"busy_retry_delay"`

	DefaultLimit    int `yaml:"default_limit"`
	ShortQueryLimit int `yaml:"short_query_limit"`
	MaxLimit        int `yaml:"max_limit"`

	WalkerBatchSize int `yaml:"walker_batch_size"`
	MFTBatchSize    int `yaml:"mft_batch_size"`

	DebounceInterval    time.Duration `yaml:"debounce_interval"`
	USNDebounceInterval time.Duration `yaml:"usn_debounce_interval"`
	CursorFlushInterval time.Duration `yaml:"cursor_flush_interval"`

	// EventsAddr is the loopback address the event push server listens on.
	EventsAddr string `yaml:"events_addr"`
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	home, _ := os.UserHomeDir()
	cfg := Config{
		ScanRoot:            defaultScanRoot(home),
		DBPath:              filepath.Join(AppDataDir(), "index.db"),
		BusyRetryDelay:      3 * time.Second,
		DefaultLimit:        300,
		ShortQueryLimit:     100,
		MaxLimit:            1000,
		WalkerBatchSize:     10_000,
		MFTBatchSize:        50_000,
		DebounceInterval:    300 * time.Millisecond,
		USNDebounceInterval: 5 * time.Second,
		CursorFlushInterval: 30 * time.Second,
		EventsAddr:          "127.0.0.1:8732",
	}
	if home != "" {
		cfg.IgnoreFiles = []string{filepath.Join(home, ".pathignore")}
	}
	return cfg
}

func defaultScanRoot(home string) string {
	if runtime.GOOS == "windows" {
		return `C:\`
	}
	if home != "" {
		return home
	}
	return string(filepath.Separator)
}

// AppDataDir returns the per-user directory holding the index database and
// the optional config file.
func AppDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, appDirName)
}

// Load reads <app-data>/config.yaml layered over Default. A missing file
// yields the defaults; a malformed file is an error so typos do not silently
// revert settings.
func Load() (Config, error) {
	return LoadFile(filepath.Join(AppDataDir(), "config.yaml"))
}

// LoadFile reads one specific config file layered over Default.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyFloors()
	return cfg, nil
}

// applyFloors keeps a hand-edited config from zeroing out limits the rest of
// the system divides by or loops on.
func (c *Config) applyFloors() {
	d := Default()
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.ShortQueryLimit <= 0 {
		c.ShortQueryLimit = d.ShortQueryLimit
	}
	if c.MaxLimit < c.DefaultLimit {
		c.MaxLimit = d.MaxLimit
	}
	if c.WalkerBatchSize <= 0 {
		c.WalkerBatchSize = d.WalkerBatchSize
	}
	if c.MFTBatchSize <= 0 {
		c.MFTBatchSize = d.MFTBatchSize
	}
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = d.DebounceInterval
	}
	if c.USNDebounceInterval <= 0 {
		c.USNDebounceInterval = d.USNDebounceInterval
	}
	if c.CursorFlushInterval <= 0 {
		c.CursorFlushInterval = d.CursorFlushInterval
	}
	if c.BusyRetryDelay <= 0 {
		c.BusyRetryDelay = d.BusyRetryDelay
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
}

// Platform returns the coarse platform label exposed over the command
// surface.
func Platform() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	default:
		return "other"
	}
}
