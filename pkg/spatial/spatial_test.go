package spatial

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/coords"
)

func randomPoint(rng *rand.Rand) coords.Coordinate {
	return coords.Coordinate{
		X: rng.Float64()*2 - 1,
		Y: rng.Float64()*2 - 1,
		Z: rng.Float64()*2 - 1,
	}
}

func seedIndex(t *testing.T, ix *Index, rng *rand.Rand, n int) []Item {
	t.Helper()
	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		it := Item{ID: fmt.Sprintf("p%04d", i), Point: randomPoint(rng)}
		require.NoError(t, ix.Insert(it.ID, it.Point))
		items = append(items, it)
	}
	return items
}

func TestInsertAndLookup(t *testing.T) {
	ix := New()
	p := coords.Coordinate{X: 0.1, Y: -0.2, Z: 0.3}
	require.NoError(t, ix.Insert("a", p))

	got, ok := ix.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, p, got)
	assert.Equal(t, 1, ix.Len())

	_, ok = ix.Lookup("missing")
	assert.False(t, ok)
}

func TestInsertDuplicate(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Insert("a", coords.Coordinate{}))
	err := ix.Insert("a", coords.Coordinate{X: 0.5})
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, ix.Len())
}

func TestRemove(t *testing.T) {
	ix := New()
	rng := rand.New(rand.NewSource(1))
	items := seedIndex(t, ix, rng, 200)

	for _, it := range items[:100] {
		require.NoError(t, ix.Remove(it.ID))
	}
	assert.Equal(t, 100, ix.Len())
	assert.ErrorIs(t, ix.Remove(items[0].ID), ErrNotFound)
	assert.Empty(t, ix.CheckConsistency())

	for _, it := range items[:100] {
		_, ok := ix.Lookup(it.ID)
		assert.False(t, ok)
	}
	for _, it := range items[100:] {
		_, ok := ix.Lookup(it.ID)
		assert.True(t, ok)
	}
}

func TestWithinRadiusMatchesLinearScan(t *testing.T) {
	ix := New()
	rng := rand.New(rand.NewSource(2))
	seedIndex(t, ix, rng, 500)

	for q := 0; q < 50; q++ {
		center := randomPoint(rng)
		radius := rng.Float64() * 0.8

		tree := ix.WithinRadius(center, radius)
		ix.SetLinearScan(true)
		scan := ix.WithinRadius(center, radius)
		ix.SetLinearScan(false)

		require.Equal(t, scan, tree, "query %d: center=%v r=%.4f", q, center, radius)
	}
}

func TestWithinRadiusBoundaryInclusive(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Insert("edge", coords.Coordinate{X: 0.5}))
	got := ix.WithinRadius(coords.Coordinate{}, 0.5)
	require.Len(t, got, 1)
	assert.Equal(t, "edge", got[0].ID)
	assert.Empty(t, ix.WithinRadius(coords.Coordinate{}, 0.499999))
}

func TestNearestMatchesLinearScan(t *testing.T) {
	ix := New()
	rng := rand.New(rand.NewSource(3))
	seedIndex(t, ix, rng, 400)

	for q := 0; q < 25; q++ {
		center := randomPoint(rng)
		k := rng.Intn(20) + 1

		tree := ix.Nearest(center, k)
		ix.SetLinearScan(true)
		scan := ix.Nearest(center, k)
		ix.SetLinearScan(false)

		require.Equal(t, scan, tree, "query %d", q)
	}
}

func TestNearestSmallIndex(t *testing.T) {
	ix := New()
	assert.Empty(t, ix.Nearest(coords.Coordinate{}, 5))

	require.NoError(t, ix.Insert("only", coords.Coordinate{X: 0.2}))
	got := ix.Nearest(coords.Coordinate{}, 5)
	require.Len(t, got, 1)
	assert.Equal(t, "only", got[0].ID)
	assert.Empty(t, ix.Nearest(coords.Coordinate{}, 0))
}

func TestWithinRect(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Insert("in", coords.Coordinate{X: 0.1, Y: 0.1, Z: 0.1}))
	require.NoError(t, ix.Insert("out", coords.Coordinate{X: 0.9, Y: 0.9, Z: 0.9}))
	require.NoError(t, ix.Insert("edge", coords.Coordinate{X: 0.5, Y: 0, Z: 0}))

	r := Rect{Min: coords.Coordinate{X: -0.5, Y: -0.5, Z: -0.5}, Max: coords.Coordinate{X: 0.5, Y: 0.5, Z: 0.5}}
	got := ix.WithinRect(r)
	require.Len(t, got, 2)
	assert.Equal(t, "edge", got[0].ID)
	assert.Equal(t, "in", got[1].ID)
}

func TestQueriesAfterChurn(t *testing.T) {
	ix := New()
	rng := rand.New(rand.NewSource(4))
	items := seedIndex(t, ix, rng, 600)

	// Remove a random half, then verify queries against linear scan.
	rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	for _, it := range items[:300] {
		require.NoError(t, ix.Remove(it.ID))
	}
	require.Empty(t, ix.CheckConsistency())

	for q := 0; q < 20; q++ {
		center := randomPoint(rng)
		radius := rng.Float64()

		tree := ix.WithinRadius(center, radius)
		ix.SetLinearScan(true)
		scan := ix.WithinRadius(center, radius)
		ix.SetLinearScan(false)
		require.Equal(t, scan, tree)
	}
}

func TestBulkLoadMatchesIncremental(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	items := make([]Item, 0, 500)
	for i := 0; i < 500; i++ {
		items = append(items, Item{ID: fmt.Sprintf("b%04d", i), Point: randomPoint(rng)})
	}

	bulk := New()
	require.NoError(t, bulk.BulkLoad(items))
	incr := New()
	for _, it := range items {
		require.NoError(t, incr.Insert(it.ID, it.Point))
	}

	assert.Equal(t, incr.Len(), bulk.Len())
	assert.Empty(t, bulk.CheckConsistency())

	for q := 0; q < 25; q++ {
		center := randomPoint(rng)
		radius := rng.Float64() * 0.6
		assert.Equal(t, incr.WithinRadius(center, radius), bulk.WithinRadius(center, radius))
	}

	// Packed trees should be at least as shallow as grown ones.
	assert.LessOrEqual(t, bulk.Stats().Height, incr.Stats().Height)
}

func TestBulkLoadRejectsDuplicates(t *testing.T) {
	ix := New()
	err := ix.BulkLoad([]Item{{ID: "x"}, {ID: "x"}})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestBulkLoadEmpty(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Insert("a", coords.Coordinate{}))
	require.NoError(t, ix.BulkLoad(nil))
	assert.Equal(t, 0, ix.Len())
	assert.Empty(t, ix.CheckConsistency())
}

func TestStatsShape(t *testing.T) {
	ix := New()
	rng := rand.New(rand.NewSource(6))
	seedIndex(t, ix, rng, 1000)

	s := ix.Stats()
	assert.Equal(t, 1000, s.Items)
	assert.GreaterOrEqual(t, s.Height, 2)
	assert.LessOrEqual(t, s.Height, 6)
	assert.Greater(t, s.AvgLeafFill, 0.2)
	assert.Equal(t, DefaultMaxEntries, s.MaxEntries)
}

func TestClear(t *testing.T) {
	ix := New()
	rng := rand.New(rand.NewSource(7))
	seedIndex(t, ix, rng, 50)
	ix.Clear()
	assert.Equal(t, 0, ix.Len())
	assert.Empty(t, ix.WithinRadius(coords.Coordinate{}, 2))
	assert.Empty(t, ix.CheckConsistency())
}

func TestWithCapacity(t *testing.T) {
	ix := New(WithCapacity(8, 3))
	rng := rand.New(rand.NewSource(8))
	seedIndex(t, ix, rng, 300)
	s := ix.Stats()
	assert.Equal(t, 8, s.MaxEntries)
	assert.Equal(t, 3, s.MinEntries)
	assert.Empty(t, ix.CheckConsistency())

	// Out-of-range values keep the defaults.
	def := New(WithCapacity(2, 9))
	assert.Equal(t, DefaultMaxEntries, def.Stats().MaxEntries)
}

func TestItemsSnapshot(t *testing.T) {
	ix := New()
	rng := rand.New(rand.NewSource(9))
	items := seedIndex(t, ix, rng, 40)
	snap := ix.Items()
	assert.ElementsMatch(t, items, snap)
}
