package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileMissingYieldsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.DefaultLimit)
	assert.Equal(t, 100, cfg.ShortQueryLimit)
	assert.Equal(t, 1000, cfg.MaxLimit)
	assert.Equal(t, 10_000, cfg.WalkerBatchSize)
	assert.Equal(t, 50_000, cfg.MFTBatchSize)
	assert.Equal(t, 300*time.Millisecond, cfg.DebounceInterval)
	assert.Equal(t, 5*time.Second, cfg.USNDebounceInterval)
	assert.Equal(t, 30*time.Second, cfg.CursorFlushInterval)
	assert.NotEmpty(t, cfg.ScanRoot)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_limit: 50\ndebounce_interval: 1s\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.DefaultLimit)
	assert.Equal(t, time.Second, cfg.DebounceInterval)
	assert.Equal(t, 1000, cfg.MaxLimit)
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_limit: [oops"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
