// Package tier routes patterns into quality tiers and migrates them as
// quality drifts.
//
// Placement is a pure function of the quality score: configurable
// thresholds band the score into premium, standard, archive or
// rejected. The router owns the store pipeline (dedupe check,
// coordinate assignment, scoring, tier write, index publish), keeps an
// in-memory placement map so reads go straight to the owning tier, and
// degrades by omission when a tier stops answering.
//
// Rejected patterns are retained as metadata in their own store but
// never enter the spatial index, so queries cannot surface them.
package tier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/coords"
	"github.com/orneryd/muninn/pkg/decay"
	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/spatial"
	"github.com/orneryd/muninn/pkg/storage"
)

var (
	// ErrTierUnavailable marks a backend that failed or timed out. Reads
	// degrade around it; writes queue for retry.
	ErrTierUnavailable = errors.New("tier unavailable")
	// ErrInvalidPattern is returned for patterns the pipeline cannot
	// accept (nil, or missing a category).
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrMissingStore is returned when a tier has no injected store.
	ErrMissingStore = errors.New("missing tier store")
)

// SimilarityFunc reports content similarity between two patterns in
// [0, 1]. The router never computes similarity itself; the deduplicator
// supplies the measure.
type SimilarityFunc func(a, b *pattern.Pattern) float64

// Stores injects one backend per tier. All four are required.
type Stores struct {
	Premium  storage.Store
	Standard storage.Store
	Archive  storage.Store
	Rejected storage.Store
}

func (s Stores) validate() error {
	for _, t := range pattern.Tiers {
		if s.forTier(t) == nil {
			return fmt.Errorf("%w: %s", ErrMissingStore, t)
		}
	}
	return nil
}

func (s Stores) forTier(t pattern.StorageTier) storage.Store {
	switch t {
	case pattern.TierPremium:
		return s.Premium
	case pattern.TierStandard:
		return s.Standard
	case pattern.TierArchive:
		return s.Archive
	case pattern.TierRejected:
		return s.Rejected
	default:
		return nil
	}
}

// Close closes every store, returning the first failure.
func (s Stores) Close() error {
	var first error
	for _, t := range pattern.Tiers {
		if st := s.forTier(t); st != nil {
			if err := st.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Config holds the router's tunables. The thresholds are score bands,
// not guaranteed business rules; deployments tune them.
type Config struct {
	// PremiumThreshold and below band the quality score into tiers.
	// Scores under ArchiveThreshold land in the rejected tier.
	PremiumThreshold  float64 `yaml:"premium_threshold"`
	StandardThreshold float64 `yaml:"standard_threshold"`
	ArchiveThreshold  float64 `yaml:"archive_threshold"`

	// DedupeRadius bounds the store-time duplicate search around the
	// incoming coordinate. SimilarityThreshold is the content score at
	// which a neighbor counts as the same pattern.
	DedupeRadius        float64 `yaml:"dedupe_radius"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// ReadTimeout bounds each tier during a fan-out read. A tier that
	// misses the deadline is omitted, not fatal.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// MigrationBatch and BatchPause self-throttle migration cycles so
	// foreground queries are not starved.
	MigrationBatch int           `yaml:"migration_batch"`
	BatchPause     time.Duration `yaml:"batch_pause"`

	// AuditWindow bounds the in-memory migration log.
	AuditWindow int `yaml:"audit_window"`

	// Retry tuning for writes against an unavailable tier.
	RetryLimit     int           `yaml:"retry_limit"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	RetryQueueSize int           `yaml:"retry_queue_size"`
}

// DefaultConfig returns the shipped routing thresholds.
func DefaultConfig() Config {
	return Config{
		PremiumThreshold:    0.80,
		StandardThreshold:   0.50,
		ArchiveThreshold:    0.20,
		DedupeRadius:        0.05,
		SimilarityThreshold: 0.85,
		ReadTimeout:         2 * time.Second,
		MigrationBatch:      256,
		BatchPause:          10 * time.Millisecond,
		AuditWindow:         1024,
		RetryLimit:          5,
		RetryBackoff:        500 * time.Millisecond,
		RetryQueueSize:      256,
	}
}

// StoreOutcome describes where one pattern ended up.
type StoreOutcome struct {
	// ID is the identifier the content now lives under. When the
	// pattern merged into an existing near-duplicate this is the
	// representative's id, not the incoming one.
	ID      string              `json:"id"`
	Tier    pattern.StorageTier `json:"tier"`
	Quality float64             `json:"quality"`
	// MergedInto is set when a store-time duplicate absorbed the
	// incoming pattern.
	MergedInto string `json:"merged_into,omitempty"`
}

type retryWrite struct {
	rec      *storage.Record
	attempts int
	nextTry  time.Time
}

// Router owns tier placement. Safe for concurrent use; mutating
// pipelines serialize on the write lock, reads share it.
type Router struct {
	cfg    Config
	stores Stores
	index  *spatial.Index
	eval   *decay.Evaluator
	sim    SimilarityFunc
	log    *zap.Logger

	mu         sync.RWMutex
	placements map[string]pattern.StorageTier
	audit      []pattern.MigrationRecord
	retryq     []retryWrite
	cycles     int64
}

// NewRouter wires the routing pipeline. All four tier stores, the
// spatial index and the evaluator are required; sim may be nil, which
// disables the store-time duplicate merge. A nil logger disables
// logging.
func NewRouter(stores Stores, index *spatial.Index, eval *decay.Evaluator, sim SimilarityFunc, cfg Config, log *zap.Logger) (*Router, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if index == nil {
		return nil, errors.New("tier: nil spatial index")
	}
	if eval == nil {
		return nil, errors.New("tier: nil evaluator")
	}
	if log == nil {
		log = zap.NewNop()
	}

	def := DefaultConfig()
	if cfg.PremiumThreshold <= 0 {
		cfg.PremiumThreshold = def.PremiumThreshold
	}
	if cfg.StandardThreshold <= 0 {
		cfg.StandardThreshold = def.StandardThreshold
	}
	if cfg.ArchiveThreshold <= 0 {
		cfg.ArchiveThreshold = def.ArchiveThreshold
	}
	if cfg.DedupeRadius <= 0 {
		cfg.DedupeRadius = def.DedupeRadius
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.MigrationBatch <= 0 {
		cfg.MigrationBatch = def.MigrationBatch
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = def.BatchPause
	}
	if cfg.AuditWindow <= 0 {
		cfg.AuditWindow = def.AuditWindow
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = def.RetryLimit
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.RetryQueueSize <= 0 {
		cfg.RetryQueueSize = def.RetryQueueSize
	}
	if !(cfg.PremiumThreshold > cfg.StandardThreshold && cfg.StandardThreshold > cfg.ArchiveThreshold) {
		return nil, fmt.Errorf("tier: thresholds must descend premium > standard > archive, got %.2f/%.2f/%.2f",
			cfg.PremiumThreshold, cfg.StandardThreshold, cfg.ArchiveThreshold)
	}

	return &Router{
		cfg:        cfg,
		stores:     stores,
		index:      index,
		eval:       eval,
		sim:        sim,
		log:        log,
		placements: make(map[string]pattern.StorageTier),
	}, nil
}

// TierFor bands a quality score. Monotonic: a higher score never maps
// to a lower tier.
func (r *Router) TierFor(score float64) pattern.StorageTier {
	switch {
	case score >= r.cfg.PremiumThreshold:
		return pattern.TierPremium
	case score >= r.cfg.StandardThreshold:
		return pattern.TierStandard
	case score >= r.cfg.ArchiveThreshold:
		return pattern.TierArchive
	default:
		return pattern.TierRejected
	}
}

// Store runs the full ingestion pipeline for one pattern: validate,
// clamp, assign coordinate, check for a near-duplicate, score, write
// the owning tier, publish to the index. The caller's pattern is never
// mutated. From the caller's view the write is atomic: the pattern is
// fully visible in its tier and the index, or not at all.
func (r *Router) Store(ctx context.Context, p *pattern.Pattern) (StoreOutcome, error) {
	if p == nil {
		return StoreOutcome{}, ErrInvalidPattern
	}
	if p.Profile.Category == "" {
		return StoreOutcome{}, fmt.Errorf("%w: missing category", ErrInvalidPattern)
	}

	now := time.Now()
	p = p.Clone()
	p.Profile = p.Profile.Clamp()
	p.EnsureID()
	if p.Access.CreatedAt.IsZero() {
		p.Access.CreatedAt = now
	}
	p.DeriveCoordinate()

	r.mu.Lock()
	defer r.mu.Unlock()

	if out, merged, err := r.absorbDuplicateLocked(ctx, p, now); err != nil {
		return StoreOutcome{}, err
	} else if merged {
		return out, nil
	}

	score := r.eval.Score(p.Profile, p.Access, now)
	p.Access.Relevance = score
	target := r.TierFor(score)

	rec, err := encodeRecord(p, target, score)
	if err != nil {
		return StoreOutcome{}, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}

	prev, existed := r.placements[p.ID]
	if err := r.stores.forTier(target).Put(ctx, rec); err != nil {
		r.enqueueRetryLocked(rec)
		return StoreOutcome{}, fmt.Errorf("%s: %w: %w", target, ErrTierUnavailable, err)
	}

	if existed {
		if prev != target {
			if err := r.stores.forTier(prev).Delete(ctx, p.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				r.log.Warn("stale tier record not removed",
					zap.String("pattern", p.ID), zap.String("tier", string(prev)), zap.Error(err))
			}
		}
		r.reindexLocked(p.ID, prev, target, p.Coordinate)
	} else if target != pattern.TierRejected {
		if err := r.index.Insert(p.ID, p.Coordinate); err != nil {
			// Unwind the tier write so the failure is total.
			if derr := r.stores.forTier(target).Delete(ctx, p.ID); derr != nil {
				r.log.Error("unwind after index failure left a tier record behind",
					zap.String("pattern", p.ID), zap.Error(derr))
			}
			return StoreOutcome{}, fmt.Errorf("index publish: %w", err)
		}
	}
	r.placements[p.ID] = target

	r.log.Debug("pattern stored",
		zap.String("pattern", p.ID),
		zap.String("tier", string(target)),
		zap.Float64("quality", score))
	return StoreOutcome{ID: p.ID, Tier: target, Quality: score}, nil
}

// StoreBatch stores patterns one by one, continuing past individual
// failures. Patterns absorbed by a duplicate count as stored. The
// returned error is non-nil only when the context ends the batch early.
func (r *Router) StoreBatch(ctx context.Context, ps []*pattern.Pattern) (stored, failed int, err error) {
	for _, p := range ps {
		if err := ctx.Err(); err != nil {
			return stored, failed, err
		}
		if _, serr := r.Store(ctx, p); serr != nil {
			failed++
			r.log.Warn("batch store rejected pattern", zap.Error(serr))
			continue
		}
		stored++
	}
	return stored, failed, nil
}

// absorbDuplicateLocked merges the incoming pattern into an existing
// near-duplicate when one sits within the dedupe radius and clears the
// similarity bar. Returns merged=false when the pattern is novel.
func (r *Router) absorbDuplicateLocked(ctx context.Context, p *pattern.Pattern, now time.Time) (StoreOutcome, bool, error) {
	if r.sim == nil {
		return StoreOutcome{}, false, nil
	}
	for _, m := range r.index.WithinRadius(p.Coordinate, r.cfg.DedupeRadius) {
		if m.ID == p.ID {
			continue
		}
		existing, curTier, _, err := r.loadLocked(ctx, m.ID)
		if err != nil {
			r.log.Debug("dedupe candidate unreadable", zap.String("pattern", m.ID), zap.Error(err))
			continue
		}
		if r.sim(p, existing) < r.cfg.SimilarityThreshold {
			continue
		}

		merged := pattern.Merge(existing, p)
		target, score, err := r.applyMergedLocked(ctx, curTier, existing, merged, now)
		if err != nil {
			return StoreOutcome{}, false, err
		}
		r.log.Debug("pattern absorbed by duplicate",
			zap.String("incoming", p.ID),
			zap.String("representative", existing.ID))
		return StoreOutcome{ID: existing.ID, Tier: target, Quality: score, MergedInto: existing.ID}, true, nil
	}
	return StoreOutcome{}, false, nil
}

// MergePatterns folds loser into winner and evicts the loser from its
// tier and the index. Returns the loser's payload size as the space
// saved. Both ids must be resident.
func (r *Router) MergePatterns(ctx context.Context, winnerID, loserID string) (int64, error) {
	if winnerID == loserID {
		return 0, fmt.Errorf("%w: cannot merge a pattern into itself", ErrInvalidPattern)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	winner, wTier, _, err := r.loadLocked(ctx, winnerID)
	if err != nil {
		return 0, err
	}
	loser, lTier, lRec, err := r.loadLocked(ctx, loserID)
	if err != nil {
		return 0, err
	}

	merged := pattern.Merge(winner, loser)
	if _, _, err := r.applyMergedLocked(ctx, wTier, winner, merged, time.Now()); err != nil {
		return 0, err
	}

	if err := r.evictLocked(ctx, loserID, lTier); err != nil {
		return 0, err
	}
	r.log.Debug("patterns merged",
		zap.String("winner", winnerID),
		zap.String("loser", loserID))
	return int64(len(lRec.Payload)), nil
}

// applyMergedLocked rewrites a pattern whose profile changed: rescore,
// reband, move stores if needed, and move its index entry to the new
// coordinate.
func (r *Router) applyMergedLocked(ctx context.Context, curTier pattern.StorageTier, old, merged *pattern.Pattern, now time.Time) (pattern.StorageTier, float64, error) {
	score := r.eval.Score(merged.Profile, merged.Access, now)
	merged.Access.Relevance = score
	target := r.TierFor(score)

	rec, err := encodeRecord(merged, target, score)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	if err := r.stores.forTier(target).Put(ctx, rec); err != nil {
		return "", 0, fmt.Errorf("%s: %w: %w", target, ErrTierUnavailable, err)
	}
	if target != curTier {
		if err := r.stores.forTier(curTier).Delete(ctx, merged.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			r.log.Warn("stale tier record not removed",
				zap.String("pattern", merged.ID), zap.String("tier", string(curTier)), zap.Error(err))
		}
	}
	r.reindexLocked(merged.ID, curTier, target, merged.Coordinate)
	r.placements[merged.ID] = target
	return target, score, nil
}

// reindexLocked reconciles a pattern's index entry after its tier or
// coordinate changed. Rejected patterns carry no entry.
func (r *Router) reindexLocked(id string, from, to pattern.StorageTier, at coords.Coordinate) {
	hadEntry := from != pattern.TierRejected
	wantEntry := to != pattern.TierRejected

	if hadEntry {
		old, ok := r.index.Lookup(id)
		if ok && wantEntry && old == at {
			return
		}
		if err := r.index.Remove(id); err != nil && !errors.Is(err, spatial.ErrNotFound) {
			r.log.Warn("index remove failed", zap.String("pattern", id), zap.Error(err))
		}
	}
	if wantEntry {
		if err := r.index.Insert(id, at); err != nil {
			r.log.Warn("index insert failed", zap.String("pattern", id), zap.Error(err))
		}
	}
}

// Evict removes a pattern from its tier, the index and the placement
// map, and drops its trend state.
func (r *Router) Evict(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.placements[id]
	if !ok {
		return storage.ErrNotFound
	}
	return r.evictLocked(ctx, id, t)
}

func (r *Router) evictLocked(ctx context.Context, id string, t pattern.StorageTier) error {
	if err := r.stores.forTier(t).Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w: %w", t, ErrTierUnavailable, err)
	}
	if t != pattern.TierRejected {
		if err := r.index.Remove(id); err != nil && !errors.Is(err, spatial.ErrNotFound) {
			r.log.Warn("index remove failed", zap.String("pattern", id), zap.Error(err))
		}
	}
	delete(r.placements, id)
	r.eval.Forget(id)
	return nil
}

// Get reads one pattern from whichever tier holds it, including the
// rejected tier.
func (r *Router) Get(ctx context.Context, id string) (*pattern.Pattern, pattern.StorageTier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, t, _, err := r.loadLocked(ctx, id)
	return p, t, err
}

// Fetch reads many patterns, grouped by owning tier, with a per-tier
// deadline. A tier that fails or times out is reported as degraded and
// its patterns are omitted; only a dead parent context is an error.
// Rejected patterns are never returned.
func (r *Router) Fetch(ctx context.Context, ids []string) (map[string]*pattern.Pattern, []pattern.StorageTier, error) {
	r.mu.RLock()
	byTier := make(map[pattern.StorageTier][]string)
	for _, id := range ids {
		t, ok := r.placements[id]
		if !ok || t == pattern.TierRejected {
			continue
		}
		byTier[t] = append(byTier[t], id)
	}
	r.mu.RUnlock()

	out := make(map[string]*pattern.Pattern, len(ids))
	var degraded []pattern.StorageTier
	for _, t := range []pattern.StorageTier{pattern.TierPremium, pattern.TierStandard, pattern.TierArchive} {
		group := byTier[t]
		if len(group) == 0 {
			continue
		}
		if err := r.fetchTier(ctx, t, group, out); err != nil {
			if ctx.Err() != nil {
				return out, degraded, ctx.Err()
			}
			degraded = append(degraded, t)
			r.log.Warn("tier omitted from read",
				zap.String("tier", string(t)), zap.Error(err))
		}
	}
	return out, degraded, nil
}

// fetchTier reads one tier's batch under its own deadline.
func (r *Router) fetchTier(ctx context.Context, t pattern.StorageTier, ids []string, out map[string]*pattern.Pattern) error {
	tctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	store := r.stores.forTier(t)
	for _, id := range ids {
		rec, err := store.Get(tctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			// The consistency scan reconciles index-ahead entries.
			r.log.Debug("placement points at a missing record", zap.String("pattern", id))
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w: %w", t, ErrTierUnavailable, err)
		}
		p, err := decodeRecord(rec)
		if err != nil {
			r.log.Error("corrupt record skipped", zap.String("pattern", id), zap.Error(err))
			continue
		}
		out[id] = p
	}
	return nil
}

// Neighbors returns the ids of indexed patterns within radius of the
// given pattern's current coordinate, the pattern itself excluded.
// Unknown and rejected ids have no index entry and return nil.
func (r *Router) Neighbors(id string, radius float64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.index.Lookup(id)
	if !ok {
		return nil
	}
	var out []string
	for _, m := range r.index.WithinRadius(at, radius) {
		if m.ID != id {
			out = append(out, m.ID)
		}
	}
	return out
}

// Touch records an access on the stored envelope.
func (r *Router) Touch(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.placements[id]
	if !ok {
		return storage.ErrNotFound
	}
	store := r.stores.forTier(t)
	rec, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Access.LastAccessed = at
	rec.Access.AccessCount++
	return store.Put(ctx, rec)
}

// Promote moves a pattern into the premium tier ahead of demand.
// Returns false when the pattern is already premium or is rejected;
// warming never resurrects rejected patterns. Migration may move the
// pattern back once its score says otherwise.
func (r *Router) Promote(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.placements[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if t == pattern.TierPremium || t == pattern.TierRejected {
		return false, nil
	}

	rec, err := r.stores.forTier(t).Get(ctx, id)
	if err != nil {
		return false, err
	}
	if err := r.moveRecordLocked(ctx, rec, t, pattern.TierPremium); err != nil {
		return false, err
	}
	r.appendAuditLocked(pattern.MigrationRecord{
		PatternID: id,
		From:      t,
		To:        pattern.TierPremium,
		Score:     rec.Quality,
		Reason:    "warm",
		At:        time.Now(),
	})
	return true, nil
}

// moveRecordLocked relocates a record between stores without touching
// its coordinate. The index only changes on moves in or out of the
// rejected tier.
func (r *Router) moveRecordLocked(ctx context.Context, rec *storage.Record, from, to pattern.StorageTier) error {
	rec.Tier = to
	if err := r.stores.forTier(to).Put(ctx, rec); err != nil {
		return fmt.Errorf("%s: %w: %w", to, ErrTierUnavailable, err)
	}
	if err := r.stores.forTier(from).Delete(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		r.log.Warn("stale tier record not removed",
			zap.String("pattern", rec.ID), zap.String("tier", string(from)), zap.Error(err))
	}
	r.reindexLocked(rec.ID, from, to, rec.Coordinate)
	r.placements[rec.ID] = to
	return nil
}

// TierCounts returns per-tier record counts. Tiers that fail to answer
// are omitted and logged.
func (r *Router) TierCounts(ctx context.Context) map[pattern.StorageTier]int {
	out := make(map[pattern.StorageTier]int, len(pattern.Tiers))
	for _, t := range pattern.Tiers {
		n, err := r.stores.forTier(t).Count(ctx)
		if err != nil {
			r.log.Warn("tier count unavailable", zap.String("tier", string(t)), zap.Error(err))
			continue
		}
		out[t] = n
	}
	return out
}

// Placements snapshots the placement map.
func (r *Router) Placements() map[string]pattern.StorageTier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]pattern.StorageTier, len(r.placements))
	for id, t := range r.placements {
		out[id] = t
	}
	return out
}

// Len returns how many patterns the router places.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.placements)
}

// IDs returns all placed pattern ids in sorted order, every tier
// included.
func (r *Router) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.placements))
	for id := range r.placements {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Rebuild reconstructs the placement map and the spatial index from an
// authoritative scan of every tier store. Duplicate residency is
// repaired in favor of the higher tier. Used at open and by integrity
// recovery.
func (r *Router) Rebuild(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	placements := make(map[string]pattern.StorageTier)
	var items []spatial.Item

	// pattern.Tiers runs highest first, so the better copy wins a
	// residency conflict.
	for _, t := range pattern.Tiers {
		var dups []string
		err := r.stores.forTier(t).Scan(ctx, storage.Filter{}, func(rec *storage.Record) bool {
			if _, seen := placements[rec.ID]; seen {
				dups = append(dups, rec.ID)
				return true
			}
			placements[rec.ID] = t
			if t != pattern.TierRejected {
				items = append(items, spatial.Item{ID: rec.ID, Point: rec.Coordinate})
			}
			return true
		})
		if err != nil {
			return fmt.Errorf("%s: %w: %w", t, ErrTierUnavailable, err)
		}
		for _, id := range dups {
			r.log.Warn("duplicate residency repaired",
				zap.String("pattern", id), zap.String("dropped_from", string(t)))
			if derr := r.stores.forTier(t).Delete(ctx, id); derr != nil {
				r.log.Error("duplicate residency delete failed", zap.String("pattern", id), zap.Error(derr))
			}
		}
	}

	r.index.Clear()
	if err := r.index.BulkLoad(items); err != nil {
		return fmt.Errorf("index rebuild: %w", err)
	}
	r.placements = placements
	r.log.Info("placements rebuilt",
		zap.Int("patterns", len(placements)),
		zap.Int("indexed", len(items)))
	return nil
}

// loadLocked reads and decodes one resident pattern. Callers hold at
// least the read lock.
func (r *Router) loadLocked(ctx context.Context, id string) (*pattern.Pattern, pattern.StorageTier, *storage.Record, error) {
	t, ok := r.placements[id]
	if !ok {
		return nil, "", nil, storage.ErrNotFound
	}
	rec, err := r.stores.forTier(t).Get(ctx, id)
	if err != nil {
		return nil, "", nil, err
	}
	p, err := decodeRecord(rec)
	if err != nil {
		return nil, "", nil, err
	}
	return p, t, rec, nil
}

// encodeRecord wraps a pattern in its storage envelope.
func encodeRecord(p *pattern.Pattern, t pattern.StorageTier, quality float64) (*storage.Record, error) {
	payload, err := p.Marshal()
	if err != nil {
		return nil, err
	}
	return &storage.Record{
		ID:         p.ID,
		Tier:       t,
		Coordinate: p.Coordinate,
		Quality:    quality,
		Access:     p.Access,
		Payload:    payload,
	}, nil
}

// decodeRecord unpacks a stored pattern. The envelope's coordinate and
// access stats are authoritative; the payload copy may be stale.
func decodeRecord(rec *storage.Record) (*pattern.Pattern, error) {
	p, err := pattern.Unmarshal(rec.Payload)
	if err != nil {
		return nil, err
	}
	p.Coordinate = rec.Coordinate
	p.Access = rec.Access
	return p, nil
}
