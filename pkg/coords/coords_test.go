package coords

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeterministic(t *testing.T) {
	first := Generate("auth", 0.82, 3.5, 12)
	for i := 0; i < 100; i++ {
		again := Generate("auth", 0.82, 3.5, 12)
		require.Equal(t, first, again, "coordinate must be a pure function of the profile")
	}
}

func TestGenerateCategorySeparation(t *testing.T) {
	a := Generate("auth", 0.5, 1.0, 3)
	b := Generate("dataflow", 0.5, 1.0, 3)
	assert.NotEqual(t, a, b, "category participates in the hash")
	assert.Greater(t, a.DistanceTo(b), 0.0)
}

func TestGenerateCompositionSensitivity(t *testing.T) {
	base := Generate("structural", 0.500000, 2.0, 5)
	cases := []struct {
		name        string
		strength    float64
		complexity  float64
		occurrences int
	}{
		{"strength", 0.500001, 2.0, 5},
		{"complexity", 0.500000, 2.000001, 5},
		{"occurrences", 0.500000, 2.0, 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Generate("structural", tc.strength, tc.complexity, tc.occurrences)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestGenerateInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		c := Generate("fuzz", rng.Float64(), rng.Float64()*10, rng.Intn(500)+1)
		require.True(t, c.InBounds(), "coordinate out of unit cube: %v", c)
	}
}

func TestComposition(t *testing.T) {
	assert.Equal(t, "s:0.820000|c:3.500000|o:12", Composition(0.82, 3.5, 12))
}

func TestHashStable(t *testing.T) {
	a := Hash("auth", "s:0.820000|c:3.500000|o:12")
	b := Hash("auth", "s:0.820000|c:3.500000|o:12")
	require.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, Hash("auth", "s:0.820001|c:3.500000|o:12"))
}

func TestGenerateComposesHashAndExpand(t *testing.T) {
	digest := Hash("auth", Composition(0.82, 3.5, 12))
	assert.Equal(t, Generate("auth", 0.82, 3.5, 12), ToCoordinates(digest))
}

func TestToCoordinatesPadsShortDigest(t *testing.T) {
	c := ToCoordinates([]byte{0xFF})
	assert.True(t, c.InBounds())
	// One leading byte only reaches the X axis; the padded axes sit at
	// the low end of the range.
	assert.Greater(t, c.X, 0.9)
	assert.Equal(t, -1.0, c.Y)
	assert.Equal(t, -1.0, c.Z)
}

func TestDistanceTo(t *testing.T) {
	a := Coordinate{X: 0, Y: 0, Z: 0}
	b := Coordinate{X: 1, Y: 0, Z: 0}
	assert.InDelta(t, 1.0, a.DistanceTo(b), 1e-12)
	assert.InDelta(t, 0.0, a.DistanceTo(a), 1e-12)

	c := Coordinate{X: 1, Y: 2, Z: 2}
	assert.InDelta(t, 3.0, a.DistanceTo(c), 1e-12)
}

func TestClamp(t *testing.T) {
	c := Coordinate{X: -3, Y: 0.25, Z: 7}.Clamp()
	assert.Equal(t, Coordinate{X: -1, Y: 0.25, Z: 1}, c)
	assert.True(t, c.InBounds())
}

func TestWithinRadius(t *testing.T) {
	center := Coordinate{}
	assert.True(t, WithinRadius(Coordinate{X: 0.5}, center, 0.5))
	assert.False(t, WithinRadius(Coordinate{X: 0.5001}, center, 0.5))
}

func TestBoundingBoxClamped(t *testing.T) {
	min, max := BoundingBox(Coordinate{X: 0.9, Y: -0.9, Z: 0}, 0.3)
	assert.Equal(t, Coordinate{X: 0.6, Y: -1, Z: -0.3}, min)
	assert.Equal(t, Coordinate{X: 1, Y: -0.6, Z: 0.3}, max)
}

func TestCentroid(t *testing.T) {
	assert.Equal(t, Coordinate{}, Centroid(nil))

	got := Centroid([]Coordinate{
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: -1, Y: -1, Z: 3},
	})
	assert.InDelta(t, 0.0, got.X, 1e-12)
	assert.InDelta(t, 0.0, got.Y, 1e-12)
	assert.InDelta(t, 1.0, got.Z, 1e-12)
}

func TestNearest(t *testing.T) {
	idx, dist := Nearest(Coordinate{}, nil)
	assert.Equal(t, -1, idx)
	assert.Equal(t, 0.0, dist)

	candidates := []Coordinate{{X: 1}, {X: 0.2}, {X: -0.5}}
	idx, dist = Nearest(Coordinate{}, candidates)
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 0.2, dist, 1e-12)
}
