package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendMemoryDurable, cfg.Repos.OrdersBackend)
	assert.Equal(t, BackendMemoryDurable, cfg.Repos.DealsBackend)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 15*time.Minute, cfg.Monitor.MaxAge)
	assert.InDelta(t, 3.0, cfg.Monitor.MaxDeviationPercent, 0.001)
	assert.InDelta(t, 0.1, cfg.Monitor.OffsetPercent, 0.001)
	assert.Equal(t, 14, cfg.Stream.RetentionDays)
	require.Contains(t, cfg.Stream.Kinds, "ticks")
	assert.Positive(t, cfg.Stream.Kinds["ticks"].MemoryLimitBytes)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
repositories:
  orders_backend: memory_legacy
monitor:
  max_age: 5m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendMemoryLegacy, cfg.Repos.OrdersBackend)
	assert.Equal(t, BackendMemoryDurable, cfg.Repos.DealsBackend, "untouched keys keep defaults")
	assert.Equal(t, 5*time.Minute, cfg.Monitor.MaxAge)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Repos.OrdersBackend = "cloud"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Database.Driver = "oracle"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Stream.Kinds["ticks"] = StreamKindConfig{MemoryLimitBytes: 100, DumpThresholdBytes: 200}
	require.Error(t, cfg.Validate(), "threshold above the hard limit")

	cfg = base()
	cfg.Monitor.Interval = 0
	require.Error(t, cfg.Validate())
}
