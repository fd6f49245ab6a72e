// Package warm keeps hot state ahead of demand.
//
// Two components live here. The Warmer promotes the most-accessed
// patterns into the fastest tier before the next query asks for them,
// using the temporal tracker's ranking. The Materializer caches
// expensive aggregates keyed by a canonical query signature so repeat
// queries skip recomputation until a write invalidates the view.
package warm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/temporal"
)

// Promoter moves a pattern into the fastest tier. The tier router
// implements this; the Warmer only needs the one capability.
type Promoter interface {
	// Promote returns true when the pattern actually moved. Already-hot
	// patterns return false with no error.
	Promote(ctx context.Context, id string) (bool, error)
}

// WarmerConfig bounds a warming cycle.
type WarmerConfig struct {
	// TopN is how many hot patterns each cycle considers.
	TopN int `yaml:"top_n"`
	// Interval is how often the engine runs WarmCycle.
	Interval time.Duration `yaml:"interval"`
}

// DefaultWarmerConfig returns the shipped warming bounds.
func DefaultWarmerConfig() WarmerConfig {
	return WarmerConfig{
		TopN:     32,
		Interval: 1 * time.Minute,
	}
}

// WarmerStats accumulates across cycles.
type WarmerStats struct {
	PatternsWarmed int64         `json:"patterns_warmed"`
	Cycles         int64         `json:"cycles"`
	CumulativeTime time.Duration `json:"cumulative_time"`
	LastCycle      time.Time     `json:"last_cycle"`
}

// Warmer promotes hot patterns ahead of demand.
type Warmer struct {
	cfg      WarmerConfig
	tracker  *temporal.Tracker
	promoter Promoter
	log      *zap.Logger

	mu    sync.Mutex
	stats WarmerStats
}

// NewWarmer builds a warmer over a tracker and a promoter. A nil
// logger is replaced with a no-op one.
func NewWarmer(tracker *temporal.Tracker, promoter Promoter, cfg WarmerConfig, log *zap.Logger) *Warmer {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultWarmerConfig()
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Warmer{
		cfg:      cfg,
		tracker:  tracker,
		promoter: promoter,
		log:      log,
	}
}

// Interval is the configured cycle spacing, for the engine's ticker.
func (w *Warmer) Interval() time.Duration {
	return w.cfg.Interval
}

// WarmCycle ranks the hottest patterns and promotes each one. Promote
// failures are logged and skipped, warming is advisory. Returns how
// many patterns actually moved.
func (w *Warmer) WarmCycle(ctx context.Context) (int, error) {
	start := time.Now()
	hot := w.tracker.TopN(w.cfg.TopN)

	warmed := 0
	var cycleErr error
	for _, h := range hot {
		if err := ctx.Err(); err != nil {
			cycleErr = err
			break
		}
		moved, err := w.promoter.Promote(ctx, h.ID)
		if err != nil {
			w.log.Warn("warm promote failed",
				zap.String("pattern", h.ID),
				zap.Error(err))
			continue
		}
		if moved {
			warmed++
		}
	}

	elapsed := time.Since(start)
	w.mu.Lock()
	w.stats.PatternsWarmed += int64(warmed)
	w.stats.Cycles++
	w.stats.CumulativeTime += elapsed
	w.stats.LastCycle = start
	w.mu.Unlock()

	w.log.Debug("warm cycle finished",
		zap.Int("considered", len(hot)),
		zap.Int("warmed", warmed),
		zap.Duration("elapsed", elapsed))
	return warmed, cycleErr
}

// Stats returns cumulative warming counters.
func (w *Warmer) Stats() WarmerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
