package warm

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
)

// MaterializerConfig bounds the aggregate cache.
type MaterializerConfig struct {
	// MaxEntries is how many materialized views may live at once.
	MaxEntries int64 `yaml:"max_entries"`
	// TTL bounds staleness even when no write invalidates the view.
	TTL time.Duration `yaml:"ttl"`
}

// DefaultMaterializerConfig returns the shipped cache bounds.
func DefaultMaterializerConfig() MaterializerConfig {
	return MaterializerConfig{
		MaxEntries: 1024,
		TTL:        30 * time.Second,
	}
}

// ViewStats counts one view's cache traffic.
type ViewStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
}

// MaterializerStats reports per-view traffic.
type MaterializerStats struct {
	Views   int                  `json:"views"`
	PerView map[string]ViewStats `json:"per_view"`
}

// Materializer caches computed aggregates of type V, keyed by view name
// and query signature. Writes that touch a view's inputs call
// Invalidate; every entry also carries a TTL so a missed invalidation
// cannot serve stale results forever.
//
// Invalidation bumps a per-view generation that feeds the cache key, so
// stale entries become unreachable immediately and age out by TTL.
type Materializer[V any] struct {
	cfg   MaterializerConfig
	cache *ristretto.Cache[uint64, V]
	log   *zap.Logger

	mu    sync.Mutex
	gens  map[string]uint64
	views map[string]*ViewStats
}

// NewMaterializer builds an aggregate cache. A nil logger is replaced
// with a no-op one.
func NewMaterializer[V any](cfg MaterializerConfig, log *zap.Logger) (*Materializer[V], error) {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultMaterializerConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}

	cache, err := ristretto.NewCache(&ristretto.Config[uint64, V]{
		NumCounters:        cfg.MaxEntries * 10,
		MaxCost:            cfg.MaxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Materializer[V]{
		cfg:   cfg,
		cache: cache,
		log:   log,
		gens:  make(map[string]uint64),
		views: make(map[string]*ViewStats),
	}, nil
}

// Signature hashes the identifying parts of a query into a stable
// key. Parts are length-prefixed so ("ab","c") and ("a","bc") differ.
func Signature(parts ...string) uint64 {
	d := xxhash.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		_, _ = d.Write(n[:])
		_, _ = d.WriteString(p)
	}
	return d.Sum64()
}

// Materialize returns the cached aggregate for (view, sig), computing
// and caching it on a miss. Compute errors are returned without
// caching.
func (m *Materializer[V]) Materialize(ctx context.Context, view string, sig uint64, compute func(context.Context) (V, error)) (V, error) {
	gen := m.touchView(view)

	key := entryKey(view, gen, sig)
	if v, ok := m.cache.Get(key); ok {
		m.count(view, func(vs *ViewStats) { vs.Hits++ })
		return v, nil
	}
	m.count(view, func(vs *ViewStats) { vs.Misses++ })

	v, err := compute(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	m.cache.SetWithTTL(key, v, 1, m.cfg.TTL)
	return v, nil
}

// Invalidate drops every cached entry of a view. Call it from write
// paths that change the view's inputs.
func (m *Materializer[V]) Invalidate(view string) {
	m.mu.Lock()
	m.gens[view]++
	if vs, ok := m.views[view]; ok {
		vs.Invalidations++
	}
	m.mu.Unlock()
	m.log.Debug("materialized view invalidated", zap.String("view", view))
}

// Stats snapshots per-view traffic counters.
func (m *Materializer[V]) Stats() MaterializerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := MaterializerStats{
		Views:   len(m.views),
		PerView: make(map[string]ViewStats, len(m.views)),
	}
	for name, vs := range m.views {
		out.PerView[name] = *vs
	}
	return out
}

// Wait flushes buffered cache writes. Mostly for tests and shutdown.
func (m *Materializer[V]) Wait() {
	m.cache.Wait()
}

// Close releases the cache.
func (m *Materializer[V]) Close() {
	m.cache.Close()
}

// touchView registers the view on first use and returns its current
// generation.
func (m *Materializer[V]) touchView(view string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.views[view]; !ok {
		m.views[view] = &ViewStats{}
	}
	return m.gens[view]
}

func (m *Materializer[V]) count(view string, fn func(*ViewStats)) {
	m.mu.Lock()
	if vs, ok := m.views[view]; ok {
		fn(vs)
	}
	m.mu.Unlock()
}

// entryKey mixes view, generation and signature into the cache key.
func entryKey(view string, gen, sig uint64) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(view)
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], gen)
	binary.BigEndian.PutUint64(b[8:], sig)
	_, _ = d.Write(b[:])
	return d.Sum64()
}
