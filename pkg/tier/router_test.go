package tier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/coords"
	"github.com/orneryd/muninn/pkg/decay"
	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/spatial"
	"github.com/orneryd/muninn/pkg/storage"
)

// flakyStore wraps a store with switchable failures.
type flakyStore struct {
	storage.Store
	mu      sync.Mutex
	failPut bool
	failGet bool
}

func (f *flakyStore) setFail(put, get bool) {
	f.mu.Lock()
	f.failPut, f.failGet = put, get
	f.mu.Unlock()
}

func (f *flakyStore) Put(ctx context.Context, rec *storage.Record) error {
	f.mu.Lock()
	fail := f.failPut
	f.mu.Unlock()
	if fail {
		return errors.New("disk offline")
	}
	return f.Store.Put(ctx, rec)
}

func (f *flakyStore) Get(ctx context.Context, id string) (*storage.Record, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return nil, errors.New("disk offline")
	}
	return f.Store.Get(ctx, id)
}

func memStores() Stores {
	return Stores{
		Premium:  storage.NewMemoryStore(),
		Standard: storage.NewMemoryStore(),
		Archive:  storage.NewMemoryStore(),
		Rejected: storage.NewMemoryStore(),
	}
}

func titleSim(a, b *pattern.Pattern) float64 {
	if a.Title == b.Title {
		return 1
	}
	return 0
}

func newTestRouter(t *testing.T, stores Stores, sim SimilarityFunc, cfg Config) *Router {
	t.Helper()
	r, err := NewRouter(stores, spatial.New(), decay.NewEvaluator(decay.DefaultConfig(), nil), sim, cfg, nil)
	require.NoError(t, err)
	return r
}

func mkPattern(id, title string, strength, complexity float64, occurrences int) *pattern.Pattern {
	return &pattern.Pattern{
		ID:    id,
		Title: title,
		Profile: pattern.HarmonicProfile{
			Category:    pattern.CategoryAuth,
			Strength:    strength,
			Confidence:  strength,
			Complexity:  complexity,
			Occurrences: occurrences,
		},
	}
}

func TestNewRouterValidation(t *testing.T) {
	stores := memStores()
	index := spatial.New()
	eval := decay.NewEvaluator(decay.DefaultConfig(), nil)

	_, err := NewRouter(Stores{}, index, eval, nil, Config{}, nil)
	assert.ErrorIs(t, err, ErrMissingStore)

	_, err = NewRouter(stores, nil, eval, nil, Config{}, nil)
	assert.Error(t, err)

	_, err = NewRouter(stores, index, nil, nil, Config{}, nil)
	assert.Error(t, err)

	_, err = NewRouter(stores, index, eval, nil,
		Config{PremiumThreshold: 0.3, StandardThreshold: 0.5, ArchiveThreshold: 0.6}, nil)
	assert.Error(t, err, "thresholds must descend")
}

func TestStoreAssignsTierAndIndex(t *testing.T) {
	stores := memStores()
	r := newTestRouter(t, stores, nil, Config{})
	ctx := context.Background()

	// Strength/confidence 0.95, complexity 5, 50 occurrences scores
	// 0.858 when fresh, which bands premium.
	out, err := r.Store(ctx, mkPattern("p1", "jwt validation", 0.95, 5, 50))
	require.NoError(t, err)
	assert.Equal(t, "p1", out.ID)
	assert.Equal(t, pattern.TierPremium, out.Tier)
	assert.InDelta(t, 0.858, out.Quality, 0.001)
	assert.Empty(t, out.MergedInto)

	got, tier, err := r.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierPremium, tier)
	assert.Equal(t, "jwt validation", got.Title)
	assert.False(t, got.Access.CreatedAt.IsZero(), "ingestion stamps creation time")

	want := coords.Generate("auth", 0.95, 5, 50)
	at, ok := r.index.Lookup("p1")
	require.True(t, ok)
	assert.Equal(t, want, at)

	n, err := stores.Premium.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreBandsByScore(t *testing.T) {
	cases := []struct {
		name        string
		p           *pattern.Pattern
		tier        pattern.StorageTier
		indexed     bool
	}{
		{"premium", mkPattern("a", "a", 0.95, 5, 50), pattern.TierPremium, true},
		{"standard", mkPattern("b", "b", 0.7, 10, 20), pattern.TierStandard, true},
		{"archive", mkPattern("c", "c", 0.3, 2, 2), pattern.TierArchive, true},
		{"rejected", mkPattern("d", "d", 0.1, 0, 1), pattern.TierRejected, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(t, memStores(), nil, Config{})
			out, err := r.Store(context.Background(), tc.p)
			require.NoError(t, err)
			assert.Equal(t, tc.tier, out.Tier)

			_, ok := r.index.Lookup(tc.p.ID)
			assert.Equal(t, tc.indexed, ok, "rejected patterns stay out of the index")
		})
	}
}

func TestMonotonicBanding(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		s1, s2 := rng.Float64(), rng.Float64()
		if s1 > s2 {
			s1, s2 = s2, s1
		}
		t1, t2 := r.TierFor(s1), r.TierFor(s2)
		require.LessOrEqual(t, t1.Rank(), t2.Rank(),
			"score %.3f banded %s above score %.3f banded %s", s1, t1, s2, t2)
	}
}

func TestStoreDoesNotMutateCaller(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	p := mkPattern("", "orig", 1.7, -1, 0)
	out, err := r.Store(context.Background(), p)
	require.NoError(t, err)

	assert.NotEmpty(t, out.ID)
	assert.Empty(t, p.ID, "caller's pattern is cloned, not mutated")
	assert.Equal(t, 1.7, p.Profile.Strength)
	assert.Equal(t, coords.Coordinate{}, p.Coordinate)
}

func TestStoreRejectsInvalid(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	_, err := r.Store(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = r.Store(context.Background(), &pattern.Pattern{Title: "no category"})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestStoreDuplicateAbsorbed(t *testing.T) {
	r := newTestRouter(t, memStores(), titleSim, Config{})
	ctx := context.Background()

	first := mkPattern("rep", "singleton registry", 0.7, 10, 10)
	first.Locations = []pattern.CodeLocation{{File: "registry.go", StartLine: 10}}
	_, err := r.Store(ctx, first)
	require.NoError(t, err)

	// Same profile hashes to the same point, so the duplicate lands
	// inside the dedupe radius.
	dup := mkPattern("twin", "singleton registry", 0.7, 10, 10)
	dup.Locations = []pattern.CodeLocation{{File: "registry_v2.go", StartLine: 44}}
	out, err := r.Store(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, "rep", out.ID, "content now lives under the representative")
	assert.Equal(t, "rep", out.MergedInto)

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.index.Len())

	got, _, err := r.Get(ctx, "rep")
	require.NoError(t, err)
	assert.Equal(t, 20, got.Profile.Occurrences, "occurrences summed")
	assert.Len(t, got.Locations, 2, "locations unioned")

	at, ok := r.index.Lookup("rep")
	require.True(t, ok)
	assert.Equal(t, got.Coordinate, at, "index follows the merged coordinate")

	_, _, err = r.Get(ctx, "twin")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreDissimilarNeighborNotAbsorbed(t *testing.T) {
	r := newTestRouter(t, memStores(), titleSim, Config{})
	ctx := context.Background()

	_, err := r.Store(ctx, mkPattern("a", "connection pooling", 0.7, 10, 10))
	require.NoError(t, err)

	// Identical profile, different content: same coordinate but the
	// similarity check keeps them apart.
	out, err := r.Store(ctx, mkPattern("b", "worker pooling", 0.7, 10, 10))
	require.NoError(t, err)
	assert.Empty(t, out.MergedInto)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, r.index.Len())
}

func TestStoreUpdatesExisting(t *testing.T) {
	stores := memStores()
	r := newTestRouter(t, stores, nil, Config{})
	ctx := context.Background()

	_, err := r.Store(ctx, mkPattern("x", "retry loop", 0.7, 10, 20))
	require.NoError(t, err)

	out, err := r.Store(ctx, mkPattern("x", "retry loop", 0.95, 5, 50))
	require.NoError(t, err)
	assert.Equal(t, pattern.TierPremium, out.Tier)

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.index.Len())

	n, err := stores.Standard.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "old tier record removed")

	at, _ := r.index.Lookup("x")
	assert.Equal(t, coords.Generate("auth", 0.95, 5, 50), at, "index follows the new profile")
}

func TestStoreBatchCountsFailures(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	ps := []*pattern.Pattern{
		mkPattern("a", "a", 0.9, 5, 10),
		{Title: "no category"},
		mkPattern("b", "b", 0.6, 3, 5),
	}
	stored, failed, err := r.StoreBatch(context.Background(), ps)
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	assert.Equal(t, 1, failed)
}

func TestStoreUnavailableTierQueuesRetry(t *testing.T) {
	stores := memStores()
	prem := &flakyStore{Store: stores.Premium}
	stores.Premium = prem
	r := newTestRouter(t, stores, nil, Config{RetryBackoff: time.Millisecond})
	ctx := context.Background()

	prem.setFail(true, false)
	_, err := r.Store(ctx, mkPattern("p1", "hot", 0.95, 5, 50))
	assert.ErrorIs(t, err, ErrTierUnavailable)
	assert.Equal(t, 1, r.RetryQueueLen())
	assert.Zero(t, r.Len(), "failed write is not visible")
	_, ok := r.index.Lookup("p1")
	assert.False(t, ok)

	prem.setFail(false, false)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, r.FlushRetries(ctx))
	assert.Zero(t, r.RetryQueueLen())

	got, tier, err := r.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierPremium, tier)
	assert.Equal(t, "hot", got.Title)
	_, ok = r.index.Lookup("p1")
	assert.True(t, ok, "retry finishes the index publish")
}

func TestRetryDroppedAfterLimit(t *testing.T) {
	stores := memStores()
	prem := &flakyStore{Store: stores.Premium}
	stores.Premium = prem
	r := newTestRouter(t, stores, nil, Config{RetryBackoff: time.Millisecond, RetryLimit: 2})
	ctx := context.Background()

	prem.setFail(true, false)
	_, err := r.Store(ctx, mkPattern("p1", "hot", 0.95, 5, 50))
	require.Error(t, err)

	for i := 0; i < 2; i++ {
		time.Sleep(5 * time.Millisecond)
		r.FlushRetries(ctx)
	}
	assert.Zero(t, r.RetryQueueLen(), "write dropped after retry limit")
	assert.Zero(t, r.Len())
}

func TestFetchDegradeByOmission(t *testing.T) {
	stores := memStores()
	std := &flakyStore{Store: stores.Standard}
	stores.Standard = std
	r := newTestRouter(t, stores, nil, Config{ReadTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	_, err := r.Store(ctx, mkPattern("prem", "a", 0.95, 5, 50))
	require.NoError(t, err)
	_, err = r.Store(ctx, mkPattern("std", "b", 0.7, 10, 20))
	require.NoError(t, err)

	std.setFail(false, true)
	got, degraded, err := r.Fetch(ctx, []string{"prem", "std", "ghost"})
	require.NoError(t, err, "a dead tier does not fail the read")
	assert.Len(t, got, 1)
	assert.Contains(t, got, "prem")
	assert.Equal(t, []pattern.StorageTier{pattern.TierStandard}, degraded)

	std.setFail(false, false)
	got, degraded, err = r.Fetch(ctx, []string{"prem", "std"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Empty(t, degraded)
}

func TestFetchExcludesRejected(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	ctx := context.Background()

	out, err := r.Store(ctx, mkPattern("weak", "noise", 0.1, 0, 1))
	require.NoError(t, err)
	require.Equal(t, pattern.TierRejected, out.Tier)

	got, degraded, err := r.Fetch(ctx, []string{"weak"})
	require.NoError(t, err)
	assert.Empty(t, got, "rejected patterns never serve queries")
	assert.Empty(t, degraded)

	// Direct reads still reach the metadata.
	p, tier, err := r.Get(ctx, "weak")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierRejected, tier)
	assert.Equal(t, "noise", p.Title)
}

func TestPromote(t *testing.T) {
	stores := memStores()
	r := newTestRouter(t, stores, nil, Config{})
	ctx := context.Background()

	_, err := r.Store(ctx, mkPattern("s1", "warmable", 0.7, 10, 20))
	require.NoError(t, err)

	moved, err := r.Promote(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, moved)

	_, tier, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierPremium, tier)
	n, _ := stores.Standard.Count(ctx)
	assert.Zero(t, n)

	audit := r.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "warm", audit[0].Reason)
	assert.Equal(t, pattern.TierStandard, audit[0].From)
	assert.Equal(t, pattern.TierPremium, audit[0].To)

	moved, err = r.Promote(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, moved, "already premium")

	_, err = r.Promote(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPromoteNeverResurrectsRejected(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	ctx := context.Background()

	_, err := r.Store(ctx, mkPattern("weak", "noise", 0.1, 0, 1))
	require.NoError(t, err)

	moved, err := r.Promote(ctx, "weak")
	require.NoError(t, err)
	assert.False(t, moved)
	_, tier, _ := r.Get(ctx, "weak")
	assert.Equal(t, pattern.TierRejected, tier)
}

func TestTouchUpdatesEnvelope(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	ctx := context.Background()

	_, err := r.Store(ctx, mkPattern("p", "touched", 0.7, 10, 20))
	require.NoError(t, err)

	at := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, r.Touch(ctx, "p", at))
	require.NoError(t, r.Touch(ctx, "p", at.Add(time.Minute)))

	got, _, err := r.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Access.AccessCount)
	assert.Equal(t, at.Add(time.Minute), got.Access.LastAccessed)

	assert.ErrorIs(t, r.Touch(ctx, "ghost", at), storage.ErrNotFound)
}

func TestMergePatterns(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	ctx := context.Background()

	_, err := r.Store(ctx, mkPattern("w", "rate limiter", 0.7, 10, 20))
	require.NoError(t, err)
	_, err = r.Store(ctx, mkPattern("l", "rate limiter copy", 0.6, 8, 5))
	require.NoError(t, err)

	saved, err := r.MergePatterns(ctx, "w", "l")
	require.NoError(t, err)
	assert.Positive(t, saved, "space saved is the loser's payload size")

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.index.Len())
	_, _, err = r.Get(ctx, "l")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, _, err := r.Get(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, 25, got.Profile.Occurrences)

	_, err = r.MergePatterns(ctx, "w", "w")
	assert.ErrorIs(t, err, ErrInvalidPattern)
	_, err = r.MergePatterns(ctx, "w", "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEvict(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	ctx := context.Background()

	_, err := r.Store(ctx, mkPattern("p", "gone", 0.7, 10, 20))
	require.NoError(t, err)
	require.NoError(t, r.Evict(ctx, "p"))

	assert.Zero(t, r.Len())
	assert.Zero(t, r.index.Len())
	_, _, err = r.Get(ctx, "p")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, r.Evict(ctx, "p"), storage.ErrNotFound)
}

func TestTierCounts(t *testing.T) {
	r := newTestRouter(t, memStores(), nil, Config{})
	ctx := context.Background()

	for i, p := range []*pattern.Pattern{
		mkPattern("a", "a", 0.95, 5, 50),
		mkPattern("b", "b", 0.7, 10, 20),
		mkPattern("c", "c", 0.72, 10, 20),
		mkPattern("d", "d", 0.1, 0, 1),
	} {
		_, err := r.Store(ctx, p)
		require.NoError(t, err, "pattern %d", i)
	}

	counts := r.TierCounts(ctx)
	assert.Equal(t, 1, counts[pattern.TierPremium])
	assert.Equal(t, 2, counts[pattern.TierStandard])
	assert.Equal(t, 0, counts[pattern.TierArchive])
	assert.Equal(t, 1, counts[pattern.TierRejected])
}

func TestRebuild(t *testing.T) {
	stores := memStores()
	ctx := context.Background()

	put := func(id string, tier pattern.StorageTier, store storage.Store) {
		p := mkPattern(id, id, 0.7, 10, 20)
		p.DeriveCoordinate()
		payload, err := p.Marshal()
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, &storage.Record{
			ID: id, Tier: tier, Coordinate: p.Coordinate, Payload: payload,
		}))
	}
	put("a", pattern.TierPremium, stores.Premium)
	put("b", pattern.TierArchive, stores.Archive)
	put("r", pattern.TierRejected, stores.Rejected)
	// Duplicate residency: "a" also left behind in archive.
	put("a", pattern.TierArchive, stores.Archive)

	r := newTestRouter(t, stores, nil, Config{})
	require.NoError(t, r.Rebuild(ctx))

	want := map[string]pattern.StorageTier{
		"a": pattern.TierPremium,
		"b": pattern.TierArchive,
		"r": pattern.TierRejected,
	}
	assert.Equal(t, want, r.Placements())
	assert.Equal(t, 2, r.index.Len(), "rejected stays out of the index")

	_, err := stores.Archive.Get(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound, "lower-tier duplicate repaired")
}
