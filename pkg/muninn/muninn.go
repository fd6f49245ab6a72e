// Package muninn assembles the pattern memory engine behind a single
// embedded API.
//
// An Engine owns the full pipeline: deterministic coordinate
// derivation, the spatial index over the coordinate cube, probability
// field generation for queries, quality scoring with Kalman smoothing,
// tier routing with migration hysteresis, duplicate absorption, access
// tracking, and cache warming. Callers store patterns and issue
// intents; everything else runs inside.
//
// Key components:
//   - Router: places patterns on quality tiers and keeps the index
//     in step with placements
//   - Field engine: turns query intents into probability fields
//   - Evaluator: blended quality scoring with per-pattern smoothing
//   - Tracker: access recency and interval prediction
//   - Warmer: promotes hot patterns ahead of demand
//   - Materializer: cached aggregate views with signature checks
//
// Example:
//
//	cfg := muninn.DefaultConfig()
//	eng, err := muninn.Open("./data", cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//
//	out, err := eng.Store(ctx, &pattern.Pattern{
//		Title:       "retry with backoff",
//		Description: "wrap transient failures in capped exponential retry",
//		Tags:        []string{"resilience", "retry"},
//		Profile: pattern.HarmonicProfile{
//			Category:   pattern.CategoryStructural,
//			Strength:   0.8,
//			Confidence: 0.9,
//			Complexity: 4,
//		},
//	})
//
//	results, err := eng.Query(ctx, field.Intent{
//		Type:      field.Discovery,
//		Signature: &out.Pattern.Profile,
//		Limit:     10,
//	})
//
// Opening with an empty dataDir keeps every tier in memory, which is
// the mode the tests use. With a directory, the standard and archive
// tiers persist through Badger and the engine rebuilds its placements
// and index from disk before returning.
//
// All methods are safe for concurrent use.
package muninn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/decay"
	"github.com/orneryd/muninn/pkg/dedupe"
	"github.com/orneryd/muninn/pkg/field"
	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/spatial"
	"github.com/orneryd/muninn/pkg/storage"
	"github.com/orneryd/muninn/pkg/temporal"
	"github.com/orneryd/muninn/pkg/tier"
	"github.com/orneryd/muninn/pkg/warm"
)

// Errors returned by Engine operations. Lookup misses surface the
// storage sentinel: errors.Is(err, storage.ErrNotFound).
var (
	ErrClosed            = errors.New("engine is closed")
	ErrIndexInconsistent = errors.New("spatial index inconsistent")
)

// Config carries the tunables for every engine component plus the
// schedules for the background maintenance loops. A zero interval
// disables the corresponding loop.
type Config struct {
	Tier         tier.Config
	Decay        decay.Config
	Field        field.Config
	Dedupe       dedupe.Config
	Temporal     temporal.Config
	Warmer       warm.WarmerConfig
	Materializer warm.MaterializerConfig

	// MigrationInterval schedules tier migration cycles.
	MigrationInterval time.Duration
	// DedupeInterval schedules full duplicate sweeps.
	DedupeInterval time.Duration
	// ConsistencyInterval schedules index-placement audits. An
	// unhealthy audit triggers an automatic rebuild.
	ConsistencyInterval time.Duration

	// DefaultLimit caps query results when the intent does not set
	// its own limit.
	DefaultLimit int
}

// DefaultConfig returns the engine defaults. Each component default
// matches its own package; the loop schedules suit a long-running
// process.
//
//	cfg := muninn.DefaultConfig()
//	cfg.MigrationInterval = 0 // manual Migrate() only
func DefaultConfig() *Config {
	return &Config{
		Tier:                tier.DefaultConfig(),
		Decay:               decay.DefaultConfig(),
		Field:               field.DefaultConfig(),
		Dedupe:              dedupe.DefaultConfig(),
		Temporal:            temporal.DefaultConfig(),
		Warmer:              warm.DefaultWarmerConfig(),
		Materializer:        warm.DefaultMaterializerConfig(),
		MigrationInterval:   time.Hour,
		DedupeInterval:      6 * time.Hour,
		ConsistencyInterval: 24 * time.Hour,
		DefaultLimit:        50,
	}
}

// Engine is a pattern memory instance. Create one with Open and
// release it with Close.
type Engine struct {
	cfg *Config
	log *zap.Logger

	index   *spatial.Index
	eval    *decay.Evaluator
	fields  *field.Engine
	router  *tier.Router
	tracker *temporal.Tracker
	warmer  *warm.Warmer
	views   *warm.Materializer[map[string]int]
	deduper *dedupe.Deduplicator
	stores  tier.Stores

	bgCancel context.CancelFunc
	bgWg     sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	degraded []pattern.StorageTier // tiers omitted by the most recent fetch
}

// Open builds an engine at dataDir. An empty dataDir keeps all tiers
// in memory; otherwise the standard and archive tiers open Badger
// stores under it (archive with the low-memory profile) and existing
// placements are rebuilt before Open returns. A nil cfg uses
// DefaultConfig, a nil log discards.
func Open(dataDir string, cfg *Config, log *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	stores, err := openStores(dataDir, log)
	if err != nil {
		return nil, err
	}

	index := spatial.New()
	eval := decay.NewEvaluator(cfg.Decay, log.Named("decay"))
	sim := dedupe.NewSimilarity(cfg.Dedupe)

	router, err := tier.NewRouter(stores, index, eval, sim, cfg.Tier, log.Named("tier"))
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("build router: %w", err)
	}

	views, err := warm.NewMaterializer[map[string]int](cfg.Materializer, log.Named("views"))
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("build view cache: %w", err)
	}

	deduper, err := dedupe.New(router, cfg.Dedupe, log.Named("dedupe"))
	if err != nil {
		views.Close()
		stores.Close()
		return nil, fmt.Errorf("build deduplicator: %w", err)
	}

	tracker := temporal.NewTracker(cfg.Temporal)

	e := &Engine{
		cfg:     cfg,
		log:     log,
		index:   index,
		eval:    eval,
		fields:  field.NewEngine(cfg.Field, log.Named("field")),
		router:  router,
		tracker: tracker,
		warmer:  warm.NewWarmer(tracker, router, cfg.Warmer, log.Named("warm")),
		views:   views,
		deduper: deduper,
		stores:  stores,
	}

	if dataDir != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		err := router.Rebuild(ctx)
		cancel()
		if err != nil {
			views.Close()
			stores.Close()
			return nil, fmt.Errorf("rebuild placements: %w", err)
		}
	}

	e.startBackground()

	log.Info("engine open",
		zap.String("data_dir", dataDir),
		zap.Int("patterns", router.Len()),
		zap.Duration("migration_interval", cfg.MigrationInterval))
	return e, nil
}

// openStores wires the four tier stores. Premium and rejected always
// live in memory; with a dataDir the standard and archive tiers get
// their own Badger directories.
func openStores(dataDir string, log *zap.Logger) (tier.Stores, error) {
	stores := tier.Stores{
		Premium:  storage.NewMemoryStore(),
		Standard: storage.NewMemoryStore(),
		Archive:  storage.NewMemoryStore(),
		Rejected: storage.NewMemoryStore(),
	}
	if dataDir == "" {
		return stores, nil
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return tier.Stores{}, fmt.Errorf("create data dir: %w", err)
	}

	standard, err := storage.NewBadgerStoreWithOptions(storage.BadgerOptions{
		DataDir: filepath.Join(dataDir, "standard"),
		Logger:  log.Named("badger"),
	})
	if err != nil {
		return tier.Stores{}, fmt.Errorf("open standard tier: %w", err)
	}
	archive, err := storage.NewBadgerStoreWithOptions(storage.BadgerOptions{
		DataDir:   filepath.Join(dataDir, "archive"),
		LowMemory: true,
		Logger:    log.Named("badger"),
	})
	if err != nil {
		standard.Close()
		return tier.Stores{}, fmt.Errorf("open archive tier: %w", err)
	}

	stores.Standard = standard
	stores.Archive = archive
	return stores, nil
}

// Close stops the background loops, waits for in-flight cycles, and
// releases the stores. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.bgCancel != nil {
		e.bgCancel()
	}
	e.bgWg.Wait()

	e.views.Close()
	if err := e.stores.Close(); err != nil {
		return fmt.Errorf("close stores: %w", err)
	}
	e.log.Info("engine closed")
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Store routes a pattern onto its quality tier. The coordinate is
// derived from the profile when absent, and a near-duplicate inside
// the dedupe radius absorbs the write instead of landing a second
// copy. The outcome reports the surviving id, tier, and score.
func (e *Engine) Store(ctx context.Context, p *pattern.Pattern) (tier.StoreOutcome, error) {
	if e.isClosed() {
		return tier.StoreOutcome{}, ErrClosed
	}
	out, err := e.router.Store(ctx, p)
	if err != nil {
		return out, err
	}
	e.invalidateViews()
	return out, nil
}

// StoreBatch stores patterns one by one, counting successes and
// failures instead of aborting on the first bad entry. Only a dead
// context stops the batch early.
func (e *Engine) StoreBatch(ctx context.Context, ps []*pattern.Pattern) (stored, failed int, err error) {
	if e.isClosed() {
		return 0, 0, ErrClosed
	}
	stored, failed, err = e.router.StoreBatch(ctx, ps)
	if stored > 0 {
		e.invalidateViews()
	}
	return stored, failed, err
}

// Get returns a pattern by id along with its current tier, recording
// the access. Misses wrap storage.ErrNotFound.
func (e *Engine) Get(ctx context.Context, id string) (*pattern.Pattern, pattern.StorageTier, error) {
	if e.isClosed() {
		return nil, "", ErrClosed
	}
	p, t, err := e.router.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	e.tracker.RecordAccessAt(id, now)
	if terr := e.router.Touch(ctx, id, now); terr != nil {
		e.log.Debug("access stamp failed", zap.String("id", id), zap.Error(terr))
	}
	p.Touch(now)
	return p, t, nil
}

// Forget removes a pattern from its tier, the index, and the access
// tracker. An absent id reports storage.ErrNotFound.
func (e *Engine) Forget(ctx context.Context, id string) error {
	if e.isClosed() {
		return ErrClosed
	}
	if err := e.router.Evict(ctx, id); err != nil {
		return err
	}
	e.tracker.Forget(id)
	e.invalidateViews()
	return nil
}
