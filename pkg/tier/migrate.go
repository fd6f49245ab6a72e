package tier

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/spatial"
	"github.com/orneryd/muninn/pkg/storage"
)

// MigrationSummary reports one migration cycle. Cycles is the router's
// lifetime cycle count, not a per-call figure.
type MigrationSummary struct {
	Evaluated int   `json:"evaluated"`
	Promoted  int   `json:"promoted"`
	Demoted   int   `json:"demoted"`
	Deferred  int   `json:"deferred"`
	Cycles    int64 `json:"cycles"`
}

// RunMigrationCycle re-scores every placed pattern and moves the ones
// whose smoothed score crossed a band boundary. Promotion is immediate.
// Demotion follows the trend gate: a pattern below its band's floor
// stays put while its score velocity is positive or its projected score
// clears the floor again. The cycle self-throttles between batches so
// foreground queries keep the lock most of the time.
func (r *Router) RunMigrationCycle(ctx context.Context) (MigrationSummary, error) {
	r.FlushRetries(ctx)

	now := time.Now()
	ids := r.IDs()

	var sum MigrationSummary
	for start := 0; start < len(ids); start += r.cfg.MigrationBatch {
		end := min(start+r.cfg.MigrationBatch, len(ids))
		for _, id := range ids[start:end] {
			if err := ctx.Err(); err != nil {
				r.finishCycle(&sum)
				return sum, err
			}
			r.migrateOne(ctx, id, now, &sum)
		}
		if end < len(ids) && r.cfg.BatchPause > 0 {
			select {
			case <-ctx.Done():
				r.finishCycle(&sum)
				return sum, ctx.Err()
			case <-time.After(r.cfg.BatchPause):
			}
		}
	}

	r.finishCycle(&sum)
	r.log.Debug("migration cycle finished",
		zap.Int("evaluated", sum.Evaluated),
		zap.Int("promoted", sum.Promoted),
		zap.Int("demoted", sum.Demoted),
		zap.Int("deferred", sum.Deferred))
	return sum, nil
}

func (r *Router) finishCycle(sum *MigrationSummary) {
	r.mu.Lock()
	r.cycles++
	sum.Cycles = r.cycles
	r.mu.Unlock()
}

// migrateOne re-scores a single pattern and applies any band move.
func (r *Router) migrateOne(ctx context.Context, id string, now time.Time, sum *MigrationSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The pattern may have been merged or evicted since the snapshot.
	current, ok := r.placements[id]
	if !ok {
		return
	}
	p, _, rec, err := r.loadLocked(ctx, id)
	if err != nil {
		r.log.Warn("migration skipped unreadable pattern",
			zap.String("pattern", id), zap.Error(err))
		return
	}

	ev := r.eval.Evaluate(p, now)
	sum.Evaluated++
	target := r.TierFor(ev.Smoothed)
	if target == current {
		return
	}

	promotion := target.Rank() > current.Rank()
	if !promotion {
		// Demotion gate: the score is already below the band floor; hold
		// the pattern while it is recovering or projected to recover.
		if ev.TrendingUp(r.eval.VelocityEpsilon()) {
			sum.Deferred++
			return
		}
		if ev.Predicted >= r.stayThreshold(current) {
			sum.Deferred++
			return
		}
	}

	rec.Quality = ev.Smoothed
	rec.Access.Relevance = ev.Smoothed
	if err := r.moveRecordLocked(ctx, rec, current, target); err != nil {
		r.log.Warn("migration move failed",
			zap.String("pattern", id),
			zap.String("from", string(current)),
			zap.String("to", string(target)),
			zap.Error(err))
		return
	}

	reason := "demotion"
	if promotion {
		reason = "promotion"
		sum.Promoted++
	} else {
		sum.Demoted++
	}
	r.appendAuditLocked(pattern.MigrationRecord{
		PatternID: id,
		From:      current,
		To:        target,
		Score:     ev.Smoothed,
		Reason:    reason,
		At:        now,
	})
}

// stayThreshold is the score floor that keeps a pattern in its current
// tier.
func (r *Router) stayThreshold(t pattern.StorageTier) float64 {
	switch t {
	case pattern.TierPremium:
		return r.cfg.PremiumThreshold
	case pattern.TierStandard:
		return r.cfg.StandardThreshold
	case pattern.TierArchive:
		return r.cfg.ArchiveThreshold
	default:
		return 0
	}
}

// Cycles returns how many migration cycles have run.
func (r *Router) Cycles() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cycles
}

// Audit snapshots the bounded migration log, oldest first.
func (r *Router) Audit() []pattern.MigrationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pattern.MigrationRecord, len(r.audit))
	copy(out, r.audit)
	return out
}

func (r *Router) appendAuditLocked(recs ...pattern.MigrationRecord) {
	r.audit = append(r.audit, recs...)
	if over := len(r.audit) - r.cfg.AuditWindow; over > 0 {
		r.audit = append([]pattern.MigrationRecord(nil), r.audit[over:]...)
	}
}

// enqueueRetryLocked parks a failed tier write for bounded-backoff
// retry. A newer write for the same id replaces the queued one; a full
// queue drops the write.
func (r *Router) enqueueRetryLocked(rec *storage.Record) {
	next := time.Now().Add(r.cfg.RetryBackoff)
	for i := range r.retryq {
		if r.retryq[i].rec.ID == rec.ID {
			r.retryq[i] = retryWrite{rec: rec, nextTry: next}
			return
		}
	}
	if len(r.retryq) >= r.cfg.RetryQueueSize {
		r.log.Error("retry queue full, write dropped", zap.String("pattern", rec.ID))
		return
	}
	r.retryq = append(r.retryq, retryWrite{rec: rec, nextTry: next})
}

// FlushRetries replays queued writes whose backoff elapsed, finishing
// the deferred half of the store pipeline (index publish and
// placement). Writes that keep failing back off exponentially and are
// dropped after RetryLimit attempts. Returns how many writes landed.
func (r *Router) FlushRetries(ctx context.Context) int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	flushed := 0
	var keep []retryWrite
	for _, w := range r.retryq {
		if ctx.Err() != nil || now.Before(w.nextTry) {
			keep = append(keep, w)
			continue
		}
		if _, placed := r.placements[w.rec.ID]; placed {
			// A later successful write owns this id now; the queued one
			// is stale.
			continue
		}
		if err := r.stores.forTier(w.rec.Tier).Put(ctx, w.rec); err != nil {
			w.attempts++
			if w.attempts >= r.cfg.RetryLimit {
				r.log.Error("queued write dropped after retries",
					zap.String("pattern", w.rec.ID),
					zap.Int("attempts", w.attempts),
					zap.Error(err))
				continue
			}
			w.nextTry = now.Add(r.cfg.RetryBackoff << uint(w.attempts))
			keep = append(keep, w)
			continue
		}
		if w.rec.Tier != pattern.TierRejected {
			if err := r.index.Insert(w.rec.ID, w.rec.Coordinate); err != nil && !errors.Is(err, spatial.ErrDuplicateID) {
				r.log.Warn("index publish failed on retry",
					zap.String("pattern", w.rec.ID), zap.Error(err))
			}
		}
		r.placements[w.rec.ID] = w.rec.Tier
		flushed++
	}
	r.retryq = keep
	if flushed > 0 {
		r.log.Info("queued writes flushed", zap.Int("count", flushed))
	}
	return flushed
}

// RetryQueueLen reports how many writes await retry.
func (r *Router) RetryQueueLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.retryq)
}
