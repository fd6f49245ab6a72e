// Package config handles Muninn configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--data-dir, --log-level, etc.)
//  2. Environment variables (MUNINN_*)
//  3. Config file (config.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("Data dir: %s\n", cfg.Engine.DataDir)
//
// Environment Variables (all use MUNINN_ prefix):
//
// Engine:
//   - MUNINN_DATA_DIR="./data"
//   - MUNINN_MIGRATION_INTERVAL=1h
//   - MUNINN_DEDUPE_INTERVAL=6h
//   - MUNINN_CONSISTENCY_INTERVAL=24h
//
// Tiers:
//   - MUNINN_PREMIUM_THRESHOLD=0.8
//   - MUNINN_STANDARD_THRESHOLD=0.5
//   - MUNINN_ARCHIVE_THRESHOLD=0.2
//   - MUNINN_READ_TIMEOUT=2s
//
// Dedupe (applies to both store-time absorption and the sweep):
//   - MUNINN_DEDUPE_RADIUS=0.05
//   - MUNINN_SIMILARITY_THRESHOLD=0.85
//
// Decay:
//   - MUNINN_RECENCY_HALF_LIFE=168h
//   - MUNINN_SMOOTHING=true
//
// Workers:
//   - MUNINN_POOL_MIN_WORKERS=2
//   - MUNINN_POOL_MAX_WORKERS=8
//   - MUNINN_POOL_QUEUE_SIZE=256
//   - MUNINN_POOL_MEMORY_LIMIT="512MB" or "unlimited"
//
// Logging:
//   - MUNINN_LOG_LEVEL="info"
//   - MUNINN_LOG_FORMAT="json"
//
// For a complete list, see applyEnvVars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/muninn/pkg/decay"
	"github.com/orneryd/muninn/pkg/dedupe"
	"github.com/orneryd/muninn/pkg/field"
	"github.com/orneryd/muninn/pkg/pool"
	"github.com/orneryd/muninn/pkg/temporal"
	"github.com/orneryd/muninn/pkg/tier"
	"github.com/orneryd/muninn/pkg/warm"
)

// Config holds all Muninn configuration.
//
// Configuration is organized into logical sections:
//   - Engine: storage location and background cycle cadence
//   - Tier: quality thresholds and retry tuning
//   - Decay: quality scoring and trend smoothing
//   - Field: probability-field geometry
//   - Dedupe: content-similarity sweep tuning
//   - Temporal: access-tracker bounds
//   - Warmer / Materializer: cache warming and aggregate views
//   - Pool: background worker pool bounds
//   - Logging: log level and format
//
// Use LoadFromFile or LoadFromEnv to create a Config, then Validate it.
type Config struct {
	// Engine-level settings: where data lives, how often cycles run.
	Engine EngineConfig `yaml:"engine"`

	// Tier routing thresholds and retry tuning.
	Tier tier.Config `yaml:"tier"`

	// Quality scoring and Kalman trend settings.
	Decay decay.Config `yaml:"decay"`

	// Probability-field geometry.
	Field field.Config `yaml:"field"`

	// Dedupe sweep tuning.
	Dedupe dedupe.Config `yaml:"dedupe"`

	// Access-tracker bounds.
	Temporal temporal.Config `yaml:"temporal"`

	// Cache warming.
	Warmer warm.WarmerConfig `yaml:"warmer"`

	// Materialized aggregate views.
	Materializer warm.MaterializerConfig `yaml:"materializer"`

	// Background worker pool.
	Pool pool.Config `yaml:"pool"`

	// Logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig holds engine-level settings.
type EngineConfig struct {
	// DataDir is the directory for on-disk tier storage. Empty keeps
	// every tier in memory.
	DataDir string `yaml:"data_dir"`
	// MigrationInterval is how often the background migration cycle
	// runs. Zero disables the background cycle.
	MigrationInterval time.Duration `yaml:"migration_interval"`
	// DedupeInterval is how often the dedupe sweep runs. Zero disables
	// the background sweep.
	DedupeInterval time.Duration `yaml:"dedupe_interval"`
	// ConsistencyInterval is how often the index consistency check
	// runs. Zero disables the background check.
	ConsistencyInterval time.Duration `yaml:"consistency_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (debug, info, warn, error)
	Level string `yaml:"level"`
	// Format (json, console)
	Format string `yaml:"format"`
}

// Build constructs the zap logger the section describes.
func (l LoggingConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(l.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.ToLower(l.Format) == "console" {
		enc = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	return zap.New(core), nil
}

// LoadDefaults returns the built-in defaults with no environment or
// file input applied.
func LoadDefaults() *Config {
	return &Config{
		Engine: EngineConfig{
			DataDir:             "",
			MigrationInterval:   time.Hour,
			DedupeInterval:      6 * time.Hour,
			ConsistencyInterval: 24 * time.Hour,
		},
		Tier:         tier.DefaultConfig(),
		Decay:        decay.DefaultConfig(),
		Field:        field.DefaultConfig(),
		Dedupe:       dedupe.DefaultConfig(),
		Temporal:     temporal.DefaultConfig(),
		Warmer:       warm.DefaultWarmerConfig(),
		Materializer: warm.DefaultMaterializerConfig(),
		Pool:         pool.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromEnv loads configuration from environment variables only:
// defaults first, then MUNINN_* overrides. LoadFromFile is preferred
// as it implements the full precedence chain.
func LoadFromEnv() *Config {
	config := LoadDefaults()
	applyEnvVars(config)
	return config
}

// Validate checks the configuration for errors that would make the
// engine misbehave at runtime.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	if !(c.Tier.PremiumThreshold > c.Tier.StandardThreshold &&
		c.Tier.StandardThreshold > c.Tier.ArchiveThreshold) {
		return fmt.Errorf("tier thresholds must descend: premium %.2f > standard %.2f > archive %.2f",
			c.Tier.PremiumThreshold, c.Tier.StandardThreshold, c.Tier.ArchiveThreshold)
	}
	if c.Tier.ArchiveThreshold <= 0 {
		return fmt.Errorf("archive threshold must be positive: %.2f", c.Tier.ArchiveThreshold)
	}

	if c.Dedupe.Radius <= 0 {
		return fmt.Errorf("dedupe radius must be positive: %v", c.Dedupe.Radius)
	}
	if c.Dedupe.Threshold <= 0 || c.Dedupe.Threshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0, 1]: %v", c.Dedupe.Threshold)
	}

	if c.Decay.Scorer.RecencyHalfLife <= 0 {
		return fmt.Errorf("recency half-life must be positive: %v", c.Decay.Scorer.RecencyHalfLife)
	}

	if c.Pool.MinWorkers > c.Pool.MaxWorkers {
		return fmt.Errorf("pool floor %d exceeds ceiling %d", c.Pool.MinWorkers, c.Pool.MaxWorkers)
	}

	if _, err := zapcore.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q (want json or console)", c.Logging.Format)
	}

	return nil
}

// String returns a safe summary of the Config, suitable for logging.
func (c *Config) String() string {
	dataDir := c.Engine.DataDir
	if dataDir == "" {
		dataDir = "(memory)"
	}
	return fmt.Sprintf(
		"Config{DataDir: %s, Tiers: %.2f/%.2f/%.2f, Migration: %s, Workers: %d-%d, Memory: %s}",
		dataDir,
		c.Tier.PremiumThreshold, c.Tier.StandardThreshold, c.Tier.ArchiveThreshold,
		c.Engine.MigrationInterval,
		c.Pool.MinWorkers, c.Pool.MaxWorkers,
		FormatMemorySize(c.Pool.MemoryLimit),
	)
}

// YAMLConfig represents the YAML configuration file structure.
// Durations are strings ("2s", "1h") parsed with time.ParseDuration;
// zero values mean "not set" and keep the built-in default.
type YAMLConfig struct {
	Engine struct {
		DataDir             string `yaml:"data_dir"`
		MigrationInterval   string `yaml:"migration_interval"`
		DedupeInterval      string `yaml:"dedupe_interval"`
		ConsistencyInterval string `yaml:"consistency_interval"`
	} `yaml:"engine"`

	Tier struct {
		PremiumThreshold  float64 `yaml:"premium_threshold"`
		StandardThreshold float64 `yaml:"standard_threshold"`
		ArchiveThreshold  float64 `yaml:"archive_threshold"`
		ReadTimeout       string  `yaml:"read_timeout"`
		MigrationBatch    int     `yaml:"migration_batch"`
		BatchPause        string  `yaml:"batch_pause"`
		AuditWindow       int     `yaml:"audit_window"`
		RetryLimit        int     `yaml:"retry_limit"`
		RetryBackoff      string  `yaml:"retry_backoff"`
		RetryQueueSize    int     `yaml:"retry_queue_size"`
	} `yaml:"tier"`

	// Dedupe tuning feeds both the store-time absorption check and the
	// background sweep, so the two stay in agreement.
	Dedupe struct {
		Radius            float64 `yaml:"radius"`
		Threshold         float64 `yaml:"threshold"`
		TitleWeight       float64 `yaml:"title_weight"`
		DescriptionWeight float64 `yaml:"description_weight"`
		TagWeight         float64 `yaml:"tag_weight"`
	} `yaml:"dedupe"`

	Decay struct {
		RecencyHalfLife   string  `yaml:"recency_half_life"`
		RecencyFloor      float64 `yaml:"recency_floor"`
		ComplexityRef     float64 `yaml:"complexity_ref"`
		Smoothing         *bool   `yaml:"smoothing"`
		PredictionHorizon int     `yaml:"prediction_horizon"`
		VelocityEpsilon   float64 `yaml:"velocity_epsilon"`
	} `yaml:"decay"`

	Field struct {
		PrecisionRadius   float64 `yaml:"precision_radius"`
		DiscoveryRadius   float64 `yaml:"discovery_radius"`
		CreativeRadiusMin float64 `yaml:"creative_radius_min"`
		CreativeRadiusMax float64 `yaml:"creative_radius_max"`
		MinRadius         float64 `yaml:"min_radius"`
		MaxRadius         float64 `yaml:"max_radius"`
		Seed              int64   `yaml:"seed"`
	} `yaml:"field"`

	Temporal struct {
		MaxTracked int `yaml:"max_tracked"`
	} `yaml:"temporal"`

	Warmer struct {
		TopN     int    `yaml:"top_n"`
		Interval string `yaml:"interval"`
	} `yaml:"warmer"`

	Materializer struct {
		MaxEntries int64  `yaml:"max_entries"`
		TTL        string `yaml:"ttl"`
	} `yaml:"materializer"`

	Pool struct {
		MinWorkers      int     `yaml:"min_workers"`
		MaxWorkers      int     `yaml:"max_workers"`
		QueueSize       int     `yaml:"queue_size"`
		TaskTimeout     string  `yaml:"task_timeout"`
		MemoryLimit     string  `yaml:"memory_limit"` // "512MB", "1GB", "unlimited"
		MemoryHighWater float64 `yaml:"memory_high_water"`
		SampleInterval  string  `yaml:"sample_interval"`
		ShutdownGrace   string  `yaml:"shutdown_grace"`
	} `yaml:"pool"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// applyEnvVars applies MUNINN_* environment variable overrides.
func applyEnvVars(config *Config) {
	// Engine settings
	if v := getEnv("MUNINN_DATA_DIR", ""); v != "" {
		config.Engine.DataDir = v
	}
	if v := getEnvDuration("MUNINN_MIGRATION_INTERVAL", 0); v > 0 {
		config.Engine.MigrationInterval = v
	}
	if v := getEnvDuration("MUNINN_DEDUPE_INTERVAL", 0); v > 0 {
		config.Engine.DedupeInterval = v
	}
	if v := getEnvDuration("MUNINN_CONSISTENCY_INTERVAL", 0); v > 0 {
		config.Engine.ConsistencyInterval = v
	}

	// Tier settings
	if v := getEnvFloat("MUNINN_PREMIUM_THRESHOLD", 0); v > 0 {
		config.Tier.PremiumThreshold = v
	}
	if v := getEnvFloat("MUNINN_STANDARD_THRESHOLD", 0); v > 0 {
		config.Tier.StandardThreshold = v
	}
	if v := getEnvFloat("MUNINN_ARCHIVE_THRESHOLD", 0); v > 0 {
		config.Tier.ArchiveThreshold = v
	}
	if v := getEnvDuration("MUNINN_READ_TIMEOUT", 0); v > 0 {
		config.Tier.ReadTimeout = v
	}
	if v := getEnvInt("MUNINN_MIGRATION_BATCH", 0); v > 0 {
		config.Tier.MigrationBatch = v
	}

	// Dedupe settings apply to both the store-time check and the sweep
	if v := getEnvFloat("MUNINN_DEDUPE_RADIUS", 0); v > 0 {
		config.Dedupe.Radius = v
		config.Tier.DedupeRadius = v
	}
	if v := getEnvFloat("MUNINN_SIMILARITY_THRESHOLD", 0); v > 0 {
		config.Dedupe.Threshold = v
		config.Tier.SimilarityThreshold = v
	}

	// Decay settings
	if v := getEnvDuration("MUNINN_RECENCY_HALF_LIFE", 0); v > 0 {
		config.Decay.Scorer.RecencyHalfLife = v
	}
	if os.Getenv("MUNINN_SMOOTHING") != "" {
		config.Decay.Smoothing = getEnvBool("MUNINN_SMOOTHING", config.Decay.Smoothing)
	}

	// Tracker settings
	if v := getEnvInt("MUNINN_TRACKER_MAX", 0); v > 0 {
		config.Temporal.MaxTracked = v
	}

	// Warming settings
	if v := getEnvInt("MUNINN_WARM_TOP_N", 0); v > 0 {
		config.Warmer.TopN = v
	}
	if v := getEnvDuration("MUNINN_WARM_INTERVAL", 0); v > 0 {
		config.Warmer.Interval = v
	}
	if v := getEnvInt("MUNINN_CACHE_MAX_ENTRIES", 0); v > 0 {
		config.Materializer.MaxEntries = int64(v)
	}
	if v := getEnvDuration("MUNINN_CACHE_TTL", 0); v > 0 {
		config.Materializer.TTL = v
	}

	// Pool settings
	if v := getEnvInt("MUNINN_POOL_MIN_WORKERS", 0); v > 0 {
		config.Pool.MinWorkers = v
	}
	if v := getEnvInt("MUNINN_POOL_MAX_WORKERS", 0); v > 0 {
		config.Pool.MaxWorkers = v
	}
	if v := getEnvInt("MUNINN_POOL_QUEUE_SIZE", 0); v > 0 {
		config.Pool.QueueSize = v
	}
	if v := getEnv("MUNINN_POOL_MEMORY_LIMIT", ""); v != "" {
		config.Pool.MemoryLimit = parseMemorySize(v)
	}

	// Logging settings
	if v := getEnv("MUNINN_LOG_LEVEL", ""); v != "" {
		config.Logging.Level = v
	}
	if v := getEnv("MUNINN_LOG_FORMAT", ""); v != "" {
		config.Logging.Format = v
	}
}

// ApplyEnvVars applies environment variable overrides to an existing config.
// Exported for use in main, where flags are applied afterwards.
func ApplyEnvVars(config *Config) {
	applyEnvVars(config)
}

// LoadFromFile loads configuration with proper precedence:
//  1. Built-in defaults (lowest priority)
//  2. YAML config file
//  3. Environment variables (highest priority before CLI args)
//
// Command-line arguments are applied by the caller after this. A
// missing file is not an error; defaults plus environment apply.
//
// Example YAML:
//
//	engine:
//	  data_dir: "./data"
//	  migration_interval: "1h"
//	tier:
//	  premium_threshold: 0.8
//	logging:
//	  level: "debug"
func LoadFromFile(configPath string) (*Config, error) {
	config := LoadDefaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvVars(config)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// === Engine Settings ===
	if yamlCfg.Engine.DataDir != "" {
		config.Engine.DataDir = yamlCfg.Engine.DataDir
	}
	if d, ok := parseDuration(yamlCfg.Engine.MigrationInterval); ok {
		config.Engine.MigrationInterval = d
	}
	if d, ok := parseDuration(yamlCfg.Engine.DedupeInterval); ok {
		config.Engine.DedupeInterval = d
	}
	if d, ok := parseDuration(yamlCfg.Engine.ConsistencyInterval); ok {
		config.Engine.ConsistencyInterval = d
	}

	// === Tier Settings ===
	if yamlCfg.Tier.PremiumThreshold > 0 {
		config.Tier.PremiumThreshold = yamlCfg.Tier.PremiumThreshold
	}
	if yamlCfg.Tier.StandardThreshold > 0 {
		config.Tier.StandardThreshold = yamlCfg.Tier.StandardThreshold
	}
	if yamlCfg.Tier.ArchiveThreshold > 0 {
		config.Tier.ArchiveThreshold = yamlCfg.Tier.ArchiveThreshold
	}
	if d, ok := parseDuration(yamlCfg.Tier.ReadTimeout); ok {
		config.Tier.ReadTimeout = d
	}
	if yamlCfg.Tier.MigrationBatch > 0 {
		config.Tier.MigrationBatch = yamlCfg.Tier.MigrationBatch
	}
	if d, ok := parseDuration(yamlCfg.Tier.BatchPause); ok {
		config.Tier.BatchPause = d
	}
	if yamlCfg.Tier.AuditWindow > 0 {
		config.Tier.AuditWindow = yamlCfg.Tier.AuditWindow
	}
	if yamlCfg.Tier.RetryLimit > 0 {
		config.Tier.RetryLimit = yamlCfg.Tier.RetryLimit
	}
	if d, ok := parseDuration(yamlCfg.Tier.RetryBackoff); ok {
		config.Tier.RetryBackoff = d
	}
	if yamlCfg.Tier.RetryQueueSize > 0 {
		config.Tier.RetryQueueSize = yamlCfg.Tier.RetryQueueSize
	}

	// === Dedupe Settings ===
	if yamlCfg.Dedupe.Radius > 0 {
		config.Dedupe.Radius = yamlCfg.Dedupe.Radius
		config.Tier.DedupeRadius = yamlCfg.Dedupe.Radius
	}
	if yamlCfg.Dedupe.Threshold > 0 {
		config.Dedupe.Threshold = yamlCfg.Dedupe.Threshold
		config.Tier.SimilarityThreshold = yamlCfg.Dedupe.Threshold
	}
	if yamlCfg.Dedupe.TitleWeight > 0 {
		config.Dedupe.TitleWeight = yamlCfg.Dedupe.TitleWeight
	}
	if yamlCfg.Dedupe.DescriptionWeight > 0 {
		config.Dedupe.DescriptionWeight = yamlCfg.Dedupe.DescriptionWeight
	}
	if yamlCfg.Dedupe.TagWeight > 0 {
		config.Dedupe.TagWeight = yamlCfg.Dedupe.TagWeight
	}

	// === Decay Settings ===
	if d, ok := parseDuration(yamlCfg.Decay.RecencyHalfLife); ok {
		config.Decay.Scorer.RecencyHalfLife = d
	}
	if yamlCfg.Decay.RecencyFloor > 0 {
		config.Decay.Scorer.RecencyFloor = yamlCfg.Decay.RecencyFloor
	}
	if yamlCfg.Decay.ComplexityRef > 0 {
		config.Decay.Scorer.ComplexityRef = yamlCfg.Decay.ComplexityRef
	}
	if yamlCfg.Decay.Smoothing != nil {
		config.Decay.Smoothing = *yamlCfg.Decay.Smoothing
	}
	if yamlCfg.Decay.PredictionHorizon > 0 {
		config.Decay.PredictionHorizon = yamlCfg.Decay.PredictionHorizon
	}
	if yamlCfg.Decay.VelocityEpsilon > 0 {
		config.Decay.VelocityEpsilon = yamlCfg.Decay.VelocityEpsilon
	}

	// === Field Settings ===
	if yamlCfg.Field.PrecisionRadius > 0 {
		config.Field.PrecisionRadius = yamlCfg.Field.PrecisionRadius
	}
	if yamlCfg.Field.DiscoveryRadius > 0 {
		config.Field.DiscoveryRadius = yamlCfg.Field.DiscoveryRadius
	}
	if yamlCfg.Field.CreativeRadiusMin > 0 {
		config.Field.CreativeRadiusMin = yamlCfg.Field.CreativeRadiusMin
	}
	if yamlCfg.Field.CreativeRadiusMax > 0 {
		config.Field.CreativeRadiusMax = yamlCfg.Field.CreativeRadiusMax
	}
	if yamlCfg.Field.MinRadius > 0 {
		config.Field.MinRadius = yamlCfg.Field.MinRadius
	}
	if yamlCfg.Field.MaxRadius > 0 {
		config.Field.MaxRadius = yamlCfg.Field.MaxRadius
	}
	if yamlCfg.Field.Seed != 0 {
		config.Field.Seed = yamlCfg.Field.Seed
	}

	// === Tracker Settings ===
	if yamlCfg.Temporal.MaxTracked > 0 {
		config.Temporal.MaxTracked = yamlCfg.Temporal.MaxTracked
	}

	// === Warming Settings ===
	if yamlCfg.Warmer.TopN > 0 {
		config.Warmer.TopN = yamlCfg.Warmer.TopN
	}
	if d, ok := parseDuration(yamlCfg.Warmer.Interval); ok {
		config.Warmer.Interval = d
	}
	if yamlCfg.Materializer.MaxEntries > 0 {
		config.Materializer.MaxEntries = yamlCfg.Materializer.MaxEntries
	}
	if d, ok := parseDuration(yamlCfg.Materializer.TTL); ok {
		config.Materializer.TTL = d
	}

	// === Pool Settings ===
	if yamlCfg.Pool.MinWorkers > 0 {
		config.Pool.MinWorkers = yamlCfg.Pool.MinWorkers
	}
	if yamlCfg.Pool.MaxWorkers > 0 {
		config.Pool.MaxWorkers = yamlCfg.Pool.MaxWorkers
	}
	if yamlCfg.Pool.QueueSize > 0 {
		config.Pool.QueueSize = yamlCfg.Pool.QueueSize
	}
	if d, ok := parseDuration(yamlCfg.Pool.TaskTimeout); ok {
		config.Pool.TaskTimeout = d
	}
	if yamlCfg.Pool.MemoryLimit != "" {
		config.Pool.MemoryLimit = parseMemorySize(yamlCfg.Pool.MemoryLimit)
	}
	if yamlCfg.Pool.MemoryHighWater > 0 {
		config.Pool.MemoryHighWater = yamlCfg.Pool.MemoryHighWater
	}
	if d, ok := parseDuration(yamlCfg.Pool.SampleInterval); ok {
		config.Pool.SampleInterval = d
	}
	if d, ok := parseDuration(yamlCfg.Pool.ShutdownGrace); ok {
		config.Pool.ShutdownGrace = d
	}

	// === Logging Settings ===
	if yamlCfg.Logging.Level != "" {
		config.Logging.Level = yamlCfg.Logging.Level
	}
	if yamlCfg.Logging.Format != "" {
		config.Logging.Format = yamlCfg.Logging.Format
	}

	// Environment variables override the file
	applyEnvVars(config)

	return config, nil
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.muninn/config.yaml (user home directory - highest priority)
//  2. Same directory as the binary (config.yaml, muninn.yaml)
//  3. Current working directory (config.yaml, muninn.yaml)
//  4. ~/Library/Application Support/Muninn/config.yaml (macOS)
//  5. ~/.config/muninn/config.yaml (Linux/Unix XDG standard)
func FindConfigFile() string {
	var candidates []string

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".muninn", "config.yaml"))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, "config.yaml"),
			filepath.Join(exeDir, "muninn.yaml"),
		)
	}

	candidates = append(candidates,
		"config.yaml",
		"muninn.yaml",
	)

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "Library", "Application Support", "Muninn", "config.yaml"))
		candidates = append(candidates, filepath.Join(home, ".config", "muninn", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// parseDuration parses a YAML duration string. Empty or malformed
// strings report not-ok so the caller keeps its default.
func parseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as a human-readable string. Zero
// means unlimited.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes <= 0:
		return "unlimited"
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
