package muninn

import (
	"context"

	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/spatial"
	"github.com/orneryd/muninn/pkg/temporal"
	"github.com/orneryd/muninn/pkg/warm"
)

// Cached aggregate views. Writes invalidate both; the materializer
// recomputes on the next read.
const (
	viewTierCounts     = "tier_counts"
	viewCategoryCounts = "category_counts"
)

func (e *Engine) invalidateViews() {
	e.views.Invalidate(viewTierCounts)
	e.views.Invalidate(viewCategoryCounts)
}

// CacheStats groups the warming-side counters.
type CacheStats struct {
	Warmer warm.WarmerStats       `json:"warmer"`
	Views  warm.MaterializerStats `json:"views"`
}

// EngineStats is a point-in-time snapshot of the engine.
type EngineStats struct {
	// Patterns counts every placement, rejected included.
	Patterns   int                         `json:"patterns"`
	TierCounts map[pattern.StorageTier]int `json:"tier_counts"`
	Index      spatial.Stats               `json:"index"`
	Tracker    temporal.GlobalStats        `json:"tracker"`
	Cache      CacheStats                  `json:"cache"`

	MigrationCycles int64 `json:"migration_cycles"`
	DedupeRuns      int64 `json:"dedupe_runs"`
	// RetryQueue counts writes parked behind an unavailable tier.
	RetryQueue int `json:"retry_queue"`
	// Smoothed counts patterns with a live score filter.
	Smoothed int `json:"smoothed"`

	// QueryHitRate is the recent fraction of queries that returned at
	// least one result. Zero until enough queries have been observed.
	QueryHitRate float64 `json:"query_hit_rate"`

	// Degraded lists tiers omitted from the most recent fetch, empty
	// when the last read was served in full.
	Degraded []string `json:"degraded,omitempty"`
}

// Stats reports engine health. Tier counts come from the view cache,
// so repeated calls between writes cost one map copy.
func (e *Engine) Stats(ctx context.Context) (EngineStats, error) {
	if e.isClosed() {
		return EngineStats{}, ErrClosed
	}

	counts, err := e.views.Materialize(ctx, viewTierCounts, warm.Signature(viewTierCounts),
		func(ctx context.Context) (map[string]int, error) {
			raw := e.router.TierCounts(ctx)
			out := make(map[string]int, len(raw))
			for t, n := range raw {
				out[string(t)] = n
			}
			return out, nil
		})
	if err != nil {
		return EngineStats{}, err
	}

	tierCounts := make(map[pattern.StorageTier]int, len(counts))
	for t, n := range counts {
		tierCounts[pattern.StorageTier(t)] = n
	}

	s := EngineStats{
		Patterns:        e.router.Len(),
		TierCounts:      tierCounts,
		Index:           e.index.Stats(),
		Tracker:         e.tracker.GlobalStats(),
		Cache:           CacheStats{Warmer: e.warmer.Stats(), Views: e.views.Stats()},
		MigrationCycles: e.router.Cycles(),
		DedupeRuns:      e.deduper.Runs(),
		RetryQueue:      e.router.RetryQueueLen(),
		Smoothed:        e.eval.Tracked(),
	}
	if rate, ok := e.fields.HitRate(); ok {
		s.QueryHitRate = rate
	}

	e.mu.RLock()
	for _, t := range e.degraded {
		s.Degraded = append(s.Degraded, string(t))
	}
	e.mu.RUnlock()
	return s, nil
}
