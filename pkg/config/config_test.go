package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearMuninnEnv blanks every MUNINN_* variable for the test's
// duration so host environment does not leak into assertions.
func clearMuninnEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "MUNINN_") {
			key, _, _ := strings.Cut(kv, "=")
			t.Setenv(key, "")
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg := LoadDefaults()

	assert.Equal(t, "", cfg.Engine.DataDir)
	assert.Equal(t, time.Hour, cfg.Engine.MigrationInterval)
	assert.Equal(t, 6*time.Hour, cfg.Engine.DedupeInterval)
	assert.Equal(t, 24*time.Hour, cfg.Engine.ConsistencyInterval)

	assert.InDelta(t, 0.80, cfg.Tier.PremiumThreshold, 1e-9)
	assert.InDelta(t, 0.50, cfg.Tier.StandardThreshold, 1e-9)
	assert.InDelta(t, 0.20, cfg.Tier.ArchiveThreshold, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Tier.ReadTimeout)

	assert.InDelta(t, 0.05, cfg.Dedupe.Radius, 1e-9)
	assert.InDelta(t, 0.85, cfg.Dedupe.Threshold, 1e-9)

	assert.Equal(t, 7*24*time.Hour, cfg.Decay.Scorer.RecencyHalfLife)
	assert.True(t, cfg.Decay.Smoothing)

	assert.Equal(t, 10000, cfg.Temporal.MaxTracked)
	assert.Equal(t, 32, cfg.Warmer.TopN)
	assert.Equal(t, time.Minute, cfg.Warmer.Interval)
	assert.Equal(t, int64(1024), cfg.Materializer.MaxEntries)

	assert.Equal(t, 2, cfg.Pool.MinWorkers)
	assert.Equal(t, 256, cfg.Pool.QueueSize)
	assert.Zero(t, cfg.Pool.MemoryLimit)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearMuninnEnv(t)
	t.Setenv("MUNINN_DATA_DIR", "/var/lib/muninn")
	t.Setenv("MUNINN_MIGRATION_INTERVAL", "30m")
	t.Setenv("MUNINN_PREMIUM_THRESHOLD", "0.9")
	t.Setenv("MUNINN_READ_TIMEOUT", "5") // bare seconds
	t.Setenv("MUNINN_DEDUPE_RADIUS", "0.1")
	t.Setenv("MUNINN_SMOOTHING", "false")
	t.Setenv("MUNINN_POOL_MEMORY_LIMIT", "512MB")
	t.Setenv("MUNINN_LOG_LEVEL", "debug")

	cfg := LoadFromEnv()

	assert.Equal(t, "/var/lib/muninn", cfg.Engine.DataDir)
	assert.Equal(t, 30*time.Minute, cfg.Engine.MigrationInterval)
	assert.InDelta(t, 0.9, cfg.Tier.PremiumThreshold, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.Tier.ReadTimeout)
	assert.InDelta(t, 0.1, cfg.Dedupe.Radius, 1e-9)
	assert.InDelta(t, 0.1, cfg.Tier.DedupeRadius, 1e-9, "store-time check follows sweep radius")
	assert.False(t, cfg.Decay.Smoothing)
	assert.Equal(t, int64(512<<20), cfg.Pool.MemoryLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.InDelta(t, 0.50, cfg.Tier.StandardThreshold, 1e-9)
	assert.Equal(t, 6*time.Hour, cfg.Engine.DedupeInterval)
}

func TestLoadFromFileMissing(t *testing.T) {
	clearMuninnEnv(t)
	t.Setenv("MUNINN_STANDARD_THRESHOLD", "0.6")

	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	// Defaults plus environment, no file needed.
	assert.InDelta(t, 0.6, cfg.Tier.StandardThreshold, 1e-9)
	assert.InDelta(t, 0.80, cfg.Tier.PremiumThreshold, 1e-9)
}

func TestLoadFromFilePartialOverride(t *testing.T) {
	clearMuninnEnv(t)
	path := writeConfig(t, `
engine:
  data_dir: "/tmp/muninn-test"
  migration_interval: "30m"
tier:
  premium_threshold: 0.9
  read_timeout: "750ms"
dedupe:
  radius: 0.1
decay:
  smoothing: false
  recency_half_life: "72h"
pool:
  max_workers: 12
  memory_limit: "1GB"
logging:
  level: "debug"
  format: "console"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/muninn-test", cfg.Engine.DataDir)
	assert.Equal(t, 30*time.Minute, cfg.Engine.MigrationInterval)
	assert.InDelta(t, 0.9, cfg.Tier.PremiumThreshold, 1e-9)
	assert.Equal(t, 750*time.Millisecond, cfg.Tier.ReadTimeout)
	assert.InDelta(t, 0.1, cfg.Dedupe.Radius, 1e-9)
	assert.InDelta(t, 0.1, cfg.Tier.DedupeRadius, 1e-9)
	assert.False(t, cfg.Decay.Smoothing)
	assert.Equal(t, 72*time.Hour, cfg.Decay.Scorer.RecencyHalfLife)
	assert.Equal(t, 12, cfg.Pool.MaxWorkers)
	assert.Equal(t, int64(1<<30), cfg.Pool.MemoryLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	// Keys absent from the file keep their defaults.
	assert.InDelta(t, 0.50, cfg.Tier.StandardThreshold, 1e-9)
	assert.Equal(t, 6*time.Hour, cfg.Engine.DedupeInterval)
	assert.Equal(t, 2, cfg.Pool.MinWorkers)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileMalformed(t *testing.T) {
	clearMuninnEnv(t)
	path := writeConfig(t, "engine: [not a mapping\n")

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestEnvOverridesFile(t *testing.T) {
	clearMuninnEnv(t)
	path := writeConfig(t, `
tier:
  premium_threshold: 0.9
`)
	t.Setenv("MUNINN_PREMIUM_THRESHOLD", "0.95")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, cfg.Tier.PremiumThreshold, 1e-9)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults valid",
			mutate: func(*Config) {},
		},
		{
			name: "thresholds must descend",
			mutate: func(c *Config) {
				c.Tier.StandardThreshold = 0.85
			},
			wantErr: "descend",
		},
		{
			name: "archive threshold positive",
			mutate: func(c *Config) {
				c.Tier.ArchiveThreshold = 0
			},
			wantErr: "archive threshold",
		},
		{
			name: "similarity threshold bounded",
			mutate: func(c *Config) {
				c.Dedupe.Threshold = 1.5
			},
			wantErr: "similarity threshold",
		},
		{
			name: "recency half-life positive",
			mutate: func(c *Config) {
				c.Decay.Scorer.RecencyHalfLife = 0
			},
			wantErr: "half-life",
		},
		{
			name: "pool floor under ceiling",
			mutate: func(c *Config) {
				c.Pool.MinWorkers = 16
				c.Pool.MaxWorkers = 4
			},
			wantErr: "ceiling",
		},
		{
			name: "log level parseable",
			mutate: func(c *Config) {
				c.Logging.Level = "shouty"
			},
			wantErr: "log level",
		},
		{
			name: "log format known",
			mutate: func(c *Config) {
				c.Logging.Format = "xml"
			},
			wantErr: "log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggingBuild(t *testing.T) {
	log, err := (LoggingConfig{Level: "info", Format: "json"}).Build()
	require.NoError(t, err)
	require.NotNil(t, log)

	log, err = (LoggingConfig{Level: "debug", Format: "console"}).Build()
	require.NoError(t, err)
	require.NotNil(t, log)

	_, err = (LoggingConfig{Level: "shouty"}).Build()
	require.Error(t, err)
}

func TestParseMemorySize(t *testing.T) {
	assert.Equal(t, int64(1024), parseMemorySize("1024"))
	assert.Equal(t, int64(1<<10), parseMemorySize("1KB"))
	assert.Equal(t, int64(512<<20), parseMemorySize("512MB"))
	assert.Equal(t, int64(1<<30), parseMemorySize("1GB"))
	assert.Equal(t, int64(2)<<40, parseMemorySize("2TB"))
	assert.Zero(t, parseMemorySize("unlimited"))
	assert.Zero(t, parseMemorySize("0"))
	assert.Zero(t, parseMemorySize("garbage"))
}

func TestFormatMemorySize(t *testing.T) {
	assert.Equal(t, "unlimited", FormatMemorySize(0))
	assert.Equal(t, "512 B", FormatMemorySize(512))
	assert.Equal(t, "1.00 GB", FormatMemorySize(1<<30))
}

func TestString(t *testing.T) {
	cfg := LoadDefaults()
	s := cfg.String()
	assert.Contains(t, s, "(memory)")
	assert.Contains(t, s, "0.80/0.50/0.20")
	assert.Contains(t, s, "unlimited")

	cfg.Engine.DataDir = "/data"
	assert.Contains(t, cfg.String(), "/data")
}

func TestFindConfigFile(t *testing.T) {
	// No fixture is planted, so the result is either empty or a real
	// file from the host. Both are acceptable; a bogus path is not.
	if path := FindConfigFile(); path != "" {
		_, err := os.Stat(path)
		assert.NoError(t, err)
	}
}
