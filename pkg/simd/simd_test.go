package simd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scalarDistance(ax, ay, az, bx, by, bz float64) float64 {
	dx, dy, dz := ax-bx, ay-by, az-bz
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func TestDot(t *testing.T) {
	assert.InDelta(t, 32.0, Dot([]float64{1, 2, 3}, []float64{4, 5, 6}), 1e-12)
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance([]float64{0, 0}, []float64{3, 4}), 1e-12)
}

func TestNormalize(t *testing.T) {
	v := []float64{3, 0, 4}
	Normalize(v)
	assert.InDelta(t, 1.0, Norm(v), 1e-12)

	zero := []float64{0, 0, 0}
	Normalize(zero)
	assert.Equal(t, []float64{0, 0, 0}, zero)
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	got := CosineSimilarity([]float64{0, 0, 0}, []float64{1, 2, 3})
	assert.Equal(t, 0.0, got)
}

func TestDistancesMatchScalar(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n = 257 // odd size to cross any vector-width boundary
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = rng.Float64()*2 - 1
		ys[i] = rng.Float64()*2 - 1
		zs[i] = rng.Float64()*2 - 1
	}
	cx, cy, cz := 0.25, -0.5, 0.75

	got := Distances(xs, ys, zs, cx, cy, cz)
	require.Len(t, got, n)
	for i := 0; i < n; i++ {
		want := scalarDistance(xs[i], ys[i], zs[i], cx, cy, cz)
		assert.InDelta(t, want, got[i], 1e-9, "index %d", i)
	}
}

func TestSquaredDistancesDoesNotMutateInputs(t *testing.T) {
	xs := []float64{1, 2}
	ys := []float64{3, 4}
	zs := []float64{5, 6}
	_ = SquaredDistances(xs, ys, zs, 0, 0, 0)
	assert.Equal(t, []float64{1, 2}, xs)
	assert.Equal(t, []float64{3, 4}, ys)
	assert.Equal(t, []float64{5, 6}, zs)
}

func BenchmarkDistances(b *testing.B) {
	const n = 1024
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i) / n
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Distances(xs, ys, zs, 0.5, 0.5, 0.5)
	}
}
