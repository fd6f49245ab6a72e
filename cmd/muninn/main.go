// Package main provides the Muninn CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/field"
	"github.com/orneryd/muninn/pkg/muninn"
	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/pool"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "muninn",
		Short: "Muninn - Pattern Memory Engine",
		Long: `Muninn is a spatial pattern memory engine: code intelligence stored
as points in a bounded 3-D coordinate space, queried through adaptive
probability fields.

Features:
  • Deterministic profile-to-coordinate hashing (identical semantics cluster)
  • R-tree spatial index with radius and k-NN queries
  • Probability-field queries: precision, discovery, creative
  • Quality-tiered storage with Kalman-smoothed migration
  • Content deduplication and access-driven cache warming`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Muninn v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	// Ingest command
	ingestCmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest pattern files",
		Long: `Ingest pattern JSON files through the worker pool. Each file holds
either a single pattern object or an array of patterns.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}
	addEngineFlags(ingestCmd)
	rootCmd.AddCommand(ingestCmd)

	// Query command
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Query patterns through a probability field",
		Long: `Query the engine. With --category a signature profile centers the
field; without one the field centers on a random point (exploration).`,
		RunE: runQuery,
	}
	addEngineFlags(queryCmd)
	queryCmd.Flags().String("type", "discovery", "Query type: precision, discovery, creative")
	queryCmd.Flags().String("category", "", "Signature category (empty = exploratory query)")
	queryCmd.Flags().Float64("strength", 0.5, "Signature strength [0,1]")
	queryCmd.Flags().Float64("profile-confidence", 0.5, "Signature confidence [0,1]")
	queryCmd.Flags().Float64("complexity", 0, "Signature complexity")
	queryCmd.Flags().Int("occurrences", 1, "Signature occurrence count")
	queryCmd.Flags().Float64("confidence", 0.5, "How sure you are about the signature [0,1]")
	queryCmd.Flags().Float64("exploration", 0, "Exploration appetite [0,1]")
	queryCmd.Flags().Duration("urgency", 0, "Time budget, e.g. 50ms (0 = unconstrained)")
	queryCmd.Flags().Int("limit", 10, "Max results (0 = engine default)")
	queryCmd.Flags().Bool("json", false, "Emit results as JSON")
	rootCmd.AddCommand(queryCmd)

	// Stats command
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show engine statistics",
		RunE:  runStats,
	}
	addEngineFlags(statsCmd)
	statsCmd.Flags().Bool("json", false, "Emit statistics as JSON")
	rootCmd.AddCommand(statsCmd)

	// Migrate command
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run one tier migration cycle",
		RunE:  runMigrate,
	}
	addEngineFlags(migrateCmd)
	rootCmd.AddCommand(migrateCmd)

	// Dedupe command
	dedupeCmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Run one deduplication sweep",
		RunE:  runDedupe,
	}
	addEngineFlags(dedupeCmd)
	rootCmd.AddCommand(dedupeCmd)

	// Export command
	exportCmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export all patterns to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	addEngineFlags(exportCmd)
	rootCmd.AddCommand(exportCmd)

	// Import command
	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import patterns from an export file",
		Long: `Import a previous export. Patterns are re-scored and re-routed on
the way in, so tier placement reflects current thresholds.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
	addEngineFlags(importCmd)
	rootCmd.AddCommand(importCmd)

	// Check command
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check index consistency",
		RunE:  runCheck,
	}
	addEngineFlags(checkCmd)
	checkCmd.Flags().Bool("rebuild", false, "Rebuild the index if drift is found")
	rootCmd.AddCommand(checkCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// addEngineFlags registers the flags every engine-backed command shares.
// Empty defaults mean "no override": precedence is flags, then MUNINN_*
// environment variables, then the config file, then built-in defaults.
func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", getEnvStr("MUNINN_CONFIG", ""), "Config file path (default: auto-discover)")
	cmd.Flags().String("data-dir", "", "Data directory (default from config; empty keeps tiers in memory)")
	cmd.Flags().String("log-level", "", "Log level override: debug, info, warn, error")
}

// loadConfig resolves the full configuration for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	explicit := configPath != ""
	if !explicit {
		configPath = config.FindConfigFile()
	}

	var cfg *config.Config
	if configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(configPath)
		if err != nil {
			if explicit {
				return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
			}
			fmt.Printf("⚠️  Warning: failed to load config from %s: %v\n", configPath, err)
			cfg = config.LoadFromEnv()
		}
	} else {
		cfg = config.LoadFromEnv()
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Engine.DataDir = dataDir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// engineConfig maps the loaded configuration onto the engine's config.
func engineConfig(cfg *config.Config) *muninn.Config {
	m := muninn.DefaultConfig()
	m.Tier = cfg.Tier
	m.Decay = cfg.Decay
	m.Field = cfg.Field
	m.Dedupe = cfg.Dedupe
	m.Temporal = cfg.Temporal
	m.Warmer = cfg.Warmer
	m.Materializer = cfg.Materializer
	m.MigrationInterval = cfg.Engine.MigrationInterval
	m.DedupeInterval = cfg.Engine.DedupeInterval
	m.ConsistencyInterval = cfg.Engine.ConsistencyInterval
	return m
}

// openEngine loads config, builds the logger and opens the engine.
func openEngine(cmd *cobra.Command) (*muninn.Engine, *config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := cfg.Logging.Build()
	if err != nil {
		return nil, nil, nil, err
	}
	eng, err := muninn.Open(cfg.Engine.DataDir, engineConfig(cfg), logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening engine: %w", err)
	}
	return eng, cfg, logger, nil
}

// readPatterns parses one ingest file: a pattern array or a single
// pattern object.
func readPatterns(path string) ([]*pattern.Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var many []*pattern.Pattern
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one pattern.Pattern
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("%s holds neither a pattern nor a pattern array", path)
	}
	return []*pattern.Pattern{&one}, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	eng, cfg, logger, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	workers, err := pool.New(cfg.Pool, logger.Named("pool"))
	if err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	fmt.Printf("📥 Ingesting %d file(s)...\n", len(args))
	start := time.Now()

	var stored, failed, badFiles int64
	var wg sync.WaitGroup
	for _, path := range args {
		path := path
		wg.Add(1)
		task := func(ctx context.Context) {
			defer wg.Done()
			ps, err := readPatterns(path)
			if err != nil {
				fmt.Printf("⚠️  Warning: skipping %s: %v\n", path, err)
				atomic.AddInt64(&badFiles, 1)
				return
			}
			s, f, err := eng.StoreBatch(ctx, ps)
			if err != nil {
				fmt.Printf("⚠️  Warning: %s: %v\n", path, err)
			}
			atomic.AddInt64(&stored, int64(s))
			atomic.AddInt64(&failed, int64(f))
		}

		// Submit blocks on backpressure rather than dropping files.
		for {
			err := workers.Submit(task)
			if err == nil {
				break
			}
			if errors.Is(err, pool.ErrQueueFull) {
				time.Sleep(20 * time.Millisecond)
				continue
			}
			wg.Done()
			return fmt.Errorf("submitting %s: %w", path, err)
		}
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := workers.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("⚠️  Warning: pool shutdown: %v\n", err)
	}

	fmt.Printf("✅ Ingested %d patterns (%d failed) in %v\n",
		atomic.LoadInt64(&stored), atomic.LoadInt64(&failed),
		time.Since(start).Round(time.Millisecond))
	if badFiles > 0 {
		fmt.Printf("⚠️  %d file(s) could not be read\n", badFiles)
	}
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	queryType, _ := cmd.Flags().GetString("type")
	category, _ := cmd.Flags().GetString("category")
	strength, _ := cmd.Flags().GetFloat64("strength")
	profileConfidence, _ := cmd.Flags().GetFloat64("profile-confidence")
	complexity, _ := cmd.Flags().GetFloat64("complexity")
	occurrences, _ := cmd.Flags().GetInt("occurrences")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	exploration, _ := cmd.Flags().GetFloat64("exploration")
	urgency, _ := cmd.Flags().GetDuration("urgency")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	eng, _, _, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	intent := field.Intent{
		Type:        field.QueryType(strings.ToLower(queryType)),
		Confidence:  confidence,
		Exploration: exploration,
		Urgency:     urgency,
		Limit:       limit,
	}
	if category != "" {
		intent.Signature = &pattern.HarmonicProfile{
			Category:    pattern.Category(category),
			Strength:    strength,
			Confidence:  profileConfidence,
			Complexity:  complexity,
			Occurrences: occurrences,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := eng.Query(ctx, intent)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No patterns matched.")
		return nil
	}
	fmt.Printf("🔍 %d pattern(s) matched:\n\n", len(results))
	for i, r := range results {
		fmt.Printf("%3d. %-20s %-8s score=%.3f dist=%.3f", i+1, r.Pattern.ID, r.Tier, r.Score, r.Distance)
		if r.Pattern.Title != "" {
			fmt.Printf("  %s", r.Pattern.Title)
		}
		fmt.Println()
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	eng, _, _, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := eng.Stats(ctx)
	if err != nil {
		return fmt.Errorf("collecting stats: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Println("📊 Engine Statistics:")
	fmt.Printf("  Patterns: %d (premium %d, standard %d, archive %d, rejected %d)\n",
		stats.Patterns,
		stats.TierCounts[pattern.TierPremium],
		stats.TierCounts[pattern.TierStandard],
		stats.TierCounts[pattern.TierArchive],
		stats.TierCounts[pattern.TierRejected])
	fmt.Printf("  Index: %d items, %d nodes, height %d, avg leaf fill %.2f\n",
		stats.Index.Items, stats.Index.Nodes, stats.Index.Height, stats.Index.AvgLeafFill)
	fmt.Printf("  Accesses: %d total, %d tracked, %d evicted\n",
		stats.Tracker.TotalAccesses, stats.Tracker.Tracked, stats.Tracker.Evicted)
	fmt.Printf("  Warmer: %d patterns warmed over %d cycles\n",
		stats.Cache.Warmer.PatternsWarmed, stats.Cache.Warmer.Cycles)
	fmt.Printf("  Views: %d materialized\n", stats.Cache.Views.Views)
	fmt.Printf("  Migration cycles: %d, dedupe runs: %d\n", stats.MigrationCycles, stats.DedupeRuns)
	fmt.Printf("  Retry queue: %d, smoothed scores: %d\n", stats.RetryQueue, stats.Smoothed)
	fmt.Printf("  Query hit rate: %.2f\n", stats.QueryHitRate)
	if len(stats.Degraded) > 0 {
		fmt.Printf("⚠️  Degraded tiers: %s\n", strings.Join(stats.Degraded, ", "))
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	eng, _, _, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fmt.Println("🔄 Running migration cycle...")
	sum, err := eng.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migration cycle: %w", err)
	}

	fmt.Printf("✅ Cycle %d: %d evaluated, %d promoted, %d demoted, %d deferred\n",
		sum.Cycles, sum.Evaluated, sum.Promoted, sum.Demoted, sum.Deferred)
	return nil
}

func runDedupe(cmd *cobra.Command, args []string) error {
	eng, _, _, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fmt.Println("🔄 Sweeping for duplicates...")
	res, err := eng.Deduplicate(ctx)
	if err != nil {
		return fmt.Errorf("dedupe sweep: %w", err)
	}

	fmt.Printf("✅ Scanned %d patterns: %d candidates, %d merged, %s reclaimed in %v\n",
		res.Scanned, res.CandidatesFound, res.Merged,
		config.FormatMemorySize(res.SpaceSaved),
		res.ProcessingTime.Round(time.Millisecond))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	outPath := args[0]

	eng, _, _, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fmt.Printf("📤 Exporting patterns to %s...\n", outPath)
	start := time.Now()

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	n, err := eng.Export(ctx, f)
	if err != nil {
		f.Close()
		return fmt.Errorf("export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", outPath, err)
	}

	fmt.Printf("✅ Exported %d patterns in %v\n", n, time.Since(start).Round(time.Millisecond))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	inPath := args[0]

	eng, _, _, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fmt.Printf("📥 Importing patterns from %s...\n", inPath)
	start := time.Now()

	f, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", inPath, err)
	}
	defer f.Close()

	stored, failed, err := eng.Import(ctx, f)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Printf("✅ Imported %d patterns (%d failed) in %v\n",
		stored, failed, time.Since(start).Round(time.Millisecond))
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	rebuild, _ := cmd.Flags().GetBool("rebuild")

	eng, _, _, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	rep, err := eng.CheckConsistency(ctx)
	if err != nil && !errors.Is(err, muninn.ErrIndexInconsistent) {
		return fmt.Errorf("consistency check: %w", err)
	}

	if rep.Healthy() {
		fmt.Printf("✅ Index consistent: %d patterns, %d indexed\n", rep.Patterns, rep.Indexed)
		return nil
	}

	fmt.Printf("❌ Index inconsistent: %d problem(s)\n", len(rep.Problems))
	for _, p := range rep.Problems {
		fmt.Printf("   %s\n", p)
	}
	if !rebuild {
		return err
	}

	fmt.Println("🔄 Rebuilding index...")
	if err := eng.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	rep, err = eng.CheckConsistency(ctx)
	if err != nil {
		return fmt.Errorf("index still inconsistent after rebuild: %w", err)
	}
	fmt.Printf("✅ Rebuilt: %d patterns indexed\n", rep.Indexed)
	return nil
}

// getEnvStr returns environment variable value or default
func getEnvStr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
