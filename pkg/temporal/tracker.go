// Package temporal tracks per-pattern access behavior over time.
//
// The tracker feeds the cache warmer (which patterns are hot) and the
// facade's stats surface. State is bounded: an LRU holds the most
// recently touched patterns and silently evicts the long-idle, so the
// tracker's footprint stays flat no matter how many patterns flow
// through the engine.
package temporal

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// intervalAlpha is the EMA weight for inter-access intervals.
const intervalAlpha = 0.3

// Config bounds the tracker.
type Config struct {
	// MaxTracked is the LRU capacity.
	MaxTracked int `yaml:"max_tracked"`
}

// DefaultConfig returns the shipped bound.
func DefaultConfig() Config {
	return Config{MaxTracked: 10000}
}

// Stats is one pattern's access picture.
type Stats struct {
	FirstAccess time.Time `json:"first_access"`
	LastAccess  time.Time `json:"last_access"`
	Count       int64     `json:"count"`
	// MeanInterval is the smoothed gap between accesses. Zero until a
	// second access happens.
	MeanInterval time.Duration `json:"mean_interval"`
}

// GlobalStats aggregates across all patterns ever recorded.
type GlobalStats struct {
	TotalAccesses int64 `json:"total_accesses"`
	Tracked       int   `json:"tracked"`
	Evicted       int64 `json:"evicted"`
}

// Hot is one entry of a top-N ranking.
type Hot struct {
	ID    string `json:"id"`
	Count int64  `json:"count"`
}

type entry struct {
	first       time.Time
	last        time.Time
	count       int64
	intervalEMA float64 // seconds
}

// Tracker records accesses. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]

	totalAccesses int64
	evicted       int64
}

// NewTracker builds a tracker. Non-positive capacities fall back to the
// default.
func NewTracker(cfg Config) *Tracker {
	size := cfg.MaxTracked
	if size <= 0 {
		size = DefaultConfig().MaxTracked
	}
	cache, _ := lru.New[string, *entry](size)
	return &Tracker{entries: cache}
}

// RecordAccess notes an access now.
func (t *Tracker) RecordAccess(id string) {
	t.RecordAccessAt(id, time.Now())
}

// RecordAccessAt notes an access at an explicit time.
func (t *Tracker) RecordAccessAt(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalAccesses++
	e, ok := t.entries.Get(id)
	if !ok {
		if t.entries.Add(id, &entry{first: at, last: at, count: 1}) {
			t.evicted++
		}
		return
	}

	if interval := at.Sub(e.last).Seconds(); interval > 0 {
		if e.intervalEMA == 0 {
			e.intervalEMA = interval
		} else {
			e.intervalEMA = intervalAlpha*interval + (1-intervalAlpha)*e.intervalEMA
		}
	}
	if at.After(e.last) {
		e.last = at
	}
	e.count++
}

// Stats returns one pattern's access picture.
func (t *Tracker) Stats(id string) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Peek(id)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		FirstAccess:  e.first,
		LastAccess:   e.last,
		Count:        e.count,
		MeanInterval: time.Duration(e.intervalEMA * float64(time.Second)),
	}, true
}

// PredictNextAccess projects when the pattern is next expected, from
// its smoothed access interval. Needs at least two accesses.
func (t *Tracker) PredictNextAccess(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Peek(id)
	if !ok || e.intervalEMA == 0 {
		return time.Time{}, false
	}
	return e.last.Add(time.Duration(e.intervalEMA * float64(time.Second))), true
}

// TopN returns the n most-accessed tracked patterns, most accessed
// first. Ties break on recency, then ID.
func (t *Tracker) TopN(n int) []Hot {
	if n <= 0 {
		return nil
	}
	t.mu.Lock()
	type ranked struct {
		Hot
		last time.Time
	}
	all := make([]ranked, 0, t.entries.Len())
	for _, id := range t.entries.Keys() {
		if e, ok := t.entries.Peek(id); ok {
			all = append(all, ranked{Hot: Hot{ID: id, Count: e.count}, last: e.last})
		}
	}
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		if !all[i].last.Equal(all[j].last) {
			return all[i].last.After(all[j].last)
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]Hot, len(all))
	for i, r := range all {
		out[i] = r.Hot
	}
	return out
}

// Forget drops a pattern's state, for eviction and merge cleanup.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	t.entries.Remove(id)
	t.mu.Unlock()
}

// GlobalStats aggregates tracker-wide counters.
func (t *Tracker) GlobalStats() GlobalStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return GlobalStats{
		TotalAccesses: t.totalAccesses,
		Tracked:       t.entries.Len(),
		Evicted:       t.evicted,
	}
}
