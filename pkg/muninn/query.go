package muninn

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/field"
	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/storage"
	"github.com/orneryd/muninn/pkg/temporal"
	"github.com/orneryd/muninn/pkg/warm"
)

// Result is one ranked query hit.
type Result struct {
	Pattern  *pattern.Pattern    `json:"pattern"`
	Tier     pattern.StorageTier `json:"tier"`
	Score    float64             `json:"score"`
	Distance float64             `json:"distance"`
}

// Query turns an intent into a probability field, collects the indexed
// patterns inside it, and returns them ranked by field probability.
// Every returned pattern counts as an access for decay and warming
// purposes.
//
// A tier that fails mid-read degrades the result set instead of
// failing the query; the omission is visible in Stats. Only an invalid
// intent or a dead context is an error.
func (e *Engine) Query(ctx context.Context, intent field.Intent) ([]Result, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}

	f, err := e.fields.Generate(intent)
	if err != nil {
		return nil, err
	}

	matches := e.index.WithinRadius(f.Center, f.Radius)
	scored := field.Score(f, matches)

	limit := intent.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}

	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.ID
	}

	got, degraded, err := e.router.Fetch(ctx, ids)
	e.noteDegraded(degraded)
	if err != nil {
		return nil, err
	}

	placements := e.router.Placements()
	now := time.Now()
	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		p, ok := got[s.ID]
		if !ok {
			continue
		}
		results = append(results, Result{
			Pattern:  p,
			Tier:     placements[s.ID],
			Score:    s.Probability,
			Distance: s.Distance,
		})
		e.tracker.RecordAccessAt(s.ID, now)
		if terr := e.router.Touch(ctx, s.ID, now); terr != nil {
			e.log.Debug("access stamp failed", zap.String("id", s.ID), zap.Error(terr))
		}
	}

	e.fields.RecordOutcome(len(results) > 0)
	e.log.Debug("query served",
		zap.String("type", string(intent.Type)),
		zap.Float64("radius", f.Radius),
		zap.Int("candidates", len(matches)),
		zap.Int("results", len(results)))
	return results, nil
}

// Hot returns the n most frequently accessed patterns, hottest first.
func (e *Engine) Hot(n int) []temporal.Hot {
	return e.tracker.TopN(n)
}

// CategoryCounts reports how many live patterns each profile category
// holds. Rejected patterns are quarantine metadata and are not
// counted. The census is served from the view cache and recomputed
// only after a write.
func (e *Engine) CategoryCounts(ctx context.Context) (map[pattern.Category]int, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	counts, err := e.views.Materialize(ctx, viewCategoryCounts, warm.Signature(viewCategoryCounts),
		e.countCategories)
	if err != nil {
		return nil, err
	}
	out := make(map[pattern.Category]int, len(counts))
	for c, n := range counts {
		out[pattern.Category(c)] = n
	}
	return out, nil
}

func (e *Engine) countCategories(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, st := range []storage.Store{e.stores.Premium, e.stores.Standard, e.stores.Archive} {
		err := st.Scan(ctx, storage.Filter{}, func(rec *storage.Record) bool {
			p, perr := pattern.Unmarshal(rec.Payload)
			if perr != nil {
				e.log.Warn("undecodable payload", zap.String("id", rec.ID), zap.Error(perr))
				return true
			}
			counts[string(p.Profile.Category)]++
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return counts, nil
}

func (e *Engine) noteDegraded(ts []pattern.StorageTier) {
	e.mu.Lock()
	e.degraded = append(e.degraded[:0], ts...)
	e.mu.Unlock()
}
