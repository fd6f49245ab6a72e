package muninn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/coords"
	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/tier"
)

// Migrate runs one tier migration cycle now, outside the background
// schedule. Parked retry writes are replayed first.
func (e *Engine) Migrate(ctx context.Context) (tier.MigrationSummary, error) {
	if e.isClosed() {
		return tier.MigrationSummary{}, ErrClosed
	}
	sum, err := e.router.RunMigrationCycle(ctx)
	if err == nil && sum.Promoted+sum.Demoted > 0 {
		e.invalidateViews()
	}
	return sum, err
}

// Deduplicate sweeps the whole corpus for near-duplicates and merges
// them, keeping the higher-quality copy of each pair.
func (e *Engine) Deduplicate(ctx context.Context) (pattern.DedupeResult, error) {
	if e.isClosed() {
		return pattern.DedupeResult{}, ErrClosed
	}
	res, err := e.deduper.Sweep(ctx)
	if err == nil && res.Merged > 0 {
		e.invalidateViews()
	}
	return res, err
}

// ConsistencyReport is the outcome of an index-placement audit.
type ConsistencyReport struct {
	CheckedAt time.Time `json:"checked_at"`
	// Patterns counts tier placements, Indexed counts index entries.
	// The two differ by exactly the rejected population when healthy.
	Patterns int      `json:"patterns"`
	Indexed  int      `json:"indexed"`
	Problems []string `json:"problems,omitempty"`
}

// Healthy reports whether the audit found nothing wrong.
func (r ConsistencyReport) Healthy() bool { return len(r.Problems) == 0 }

// CheckConsistency audits the spatial index against tier placements:
// tree structure, every live placement indexed, no index entry without
// a placement, no rejected pattern in the index. An unhealthy audit
// returns the report alongside ErrIndexInconsistent; RebuildIndex
// repairs it.
func (e *Engine) CheckConsistency(ctx context.Context) (ConsistencyReport, error) {
	if e.isClosed() {
		return ConsistencyReport{}, ErrClosed
	}

	rep := ConsistencyReport{CheckedAt: time.Now()}
	rep.Problems = append(rep.Problems, e.index.CheckConsistency()...)

	placements := e.router.Placements()
	items := e.index.Items()
	indexed := make(map[string]coords.Coordinate, len(items))
	for _, it := range items {
		indexed[it.ID] = it.Point
	}
	rep.Patterns = len(placements)
	rep.Indexed = len(indexed)

	for id, t := range placements {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if t == pattern.TierRejected {
			if _, ok := indexed[id]; ok {
				rep.Problems = append(rep.Problems,
					fmt.Sprintf("rejected pattern %s is indexed", id))
			}
			continue
		}
		if _, ok := indexed[id]; !ok {
			rep.Problems = append(rep.Problems,
				fmt.Sprintf("pattern %s placed on %s but missing from index", id, t))
		}
	}
	for id := range indexed {
		if _, ok := placements[id]; !ok {
			rep.Problems = append(rep.Problems,
				fmt.Sprintf("index entry %s has no placement", id))
		}
	}

	if !rep.Healthy() {
		e.log.Error("consistency check failed",
			zap.Int("problems", len(rep.Problems)),
			zap.Strings("sample", rep.Problems[:min(3, len(rep.Problems))]))
		return rep, ErrIndexInconsistent
	}
	return rep, nil
}

// RebuildIndex reloads placements from the tier stores and bulk-loads
// a fresh index from them. Store contents are authoritative.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}
	if err := e.router.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	e.invalidateViews()
	return nil
}

// startBackground launches one goroutine per enabled maintenance
// loop. Loops share a context cancelled by Close.
func (e *Engine) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	e.bgCancel = cancel

	loops := []struct {
		name     string
		interval time.Duration
		cycle    func(context.Context)
	}{
		{"migration", e.cfg.MigrationInterval, e.migrationCycle},
		{"warm", e.warmer.Interval(), e.warmCycle},
		{"dedupe", e.cfg.DedupeInterval, e.dedupeCycle},
		{"consistency", e.cfg.ConsistencyInterval, e.consistencyCycle},
	}
	for _, l := range loops {
		if l.interval <= 0 {
			continue
		}
		e.bgWg.Add(1)
		go e.runLoop(ctx, l.name, l.interval, l.cycle)
	}
}

func (e *Engine) runLoop(ctx context.Context, name string, interval time.Duration, cycle func(context.Context)) {
	defer e.bgWg.Done()
	e.log.Debug("background loop started",
		zap.String("loop", name),
		zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle(ctx)
		}
	}
}

// quietCycleErr filters the errors every loop produces during
// shutdown.
func quietCycleErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed)
}

func (e *Engine) migrationCycle(ctx context.Context) {
	sum, err := e.Migrate(ctx)
	if err != nil {
		if !quietCycleErr(err) {
			e.log.Warn("migration cycle failed", zap.Error(err))
		}
		return
	}
	if sum.Promoted+sum.Demoted+sum.Deferred > 0 {
		e.log.Info("migration cycle",
			zap.Int("evaluated", sum.Evaluated),
			zap.Int("promoted", sum.Promoted),
			zap.Int("demoted", sum.Demoted),
			zap.Int("deferred", sum.Deferred))
	}
}

func (e *Engine) warmCycle(ctx context.Context) {
	warmed, err := e.warmer.WarmCycle(ctx)
	if err != nil {
		if !quietCycleErr(err) {
			e.log.Warn("warm cycle failed", zap.Error(err))
		}
		return
	}
	if warmed > 0 {
		e.invalidateViews()
	}
}

func (e *Engine) dedupeCycle(ctx context.Context) {
	res, err := e.Deduplicate(ctx)
	if err != nil {
		if !quietCycleErr(err) {
			e.log.Warn("dedupe sweep failed", zap.Error(err))
		}
		return
	}
	if res.Merged > 0 {
		e.log.Info("dedupe sweep",
			zap.Int("scanned", res.Scanned),
			zap.Int("merged", res.Merged),
			zap.Int64("space_saved", res.SpaceSaved))
	}
}

func (e *Engine) consistencyCycle(ctx context.Context) {
	rep, err := e.CheckConsistency(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrIndexInconsistent) {
		if !quietCycleErr(err) {
			e.log.Warn("consistency check failed", zap.Error(err))
		}
		return
	}
	e.log.Warn("index drift detected, rebuilding",
		zap.Int("problems", len(rep.Problems)))
	if rerr := e.RebuildIndex(ctx); rerr != nil && !quietCycleErr(rerr) {
		e.log.Error("index rebuild failed", zap.Error(rerr))
	}
}
