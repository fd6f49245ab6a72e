// Package coords maps semantic profiles onto points in the unit cube.
//
// The mapping is a pure function: a profile's category and composition
// are canonicalized into a string, hashed with BLAKE2b-256, and the
// digest is expanded into three axes in [-1, 1]. Identical profiles
// always land on identical coordinates, so patterns that describe the
// same phenomenon cluster at zero distance without any learned
// embedding. Similar but non-identical profiles land at uncorrelated
// points; clustering emerges from exact composition matches, not from
// hash locality.
package coords

import (
	"fmt"
	"math"

	"golang.org/x/crypto/blake2b"
)

// Coordinate is a point in the engine's 3-D semantic space. All axes
// are confined to [-1, 1].
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// segmentBytes is how many digest bytes feed each axis. Three segments
// consume 30 of the 32 digest bytes; the remainder is discarded.
const segmentBytes = 10

// Composition canonicalizes the numeric part of a profile. The format
// is fixed: changing it would move every stored pattern, so it is
// versioned implicitly by the storage format.
func Composition(strength, complexity float64, occurrences int) string {
	return fmt.Sprintf("s:%.6f|c:%.6f|o:%d", strength, complexity, occurrences)
}

// Hash digests a category and canonical composition. Category is
// treated as opaque text and participates in the digest, so equal
// compositions in different categories map to different points.
func Hash(category, composition string) []byte {
	sum := blake2b.Sum256([]byte(category + ":" + composition))
	return sum[:]
}

// ToCoordinates expands a digest into a point, ten bytes per axis.
// Digests shorter than three segments are zero padded.
func ToCoordinates(digest []byte) Coordinate {
	if len(digest) < 3*segmentBytes {
		padded := make([]byte, 3*segmentBytes)
		copy(padded, digest)
		digest = padded
	}
	return Coordinate{
		X: segmentToAxis(digest[0:segmentBytes]),
		Y: segmentToAxis(digest[segmentBytes : 2*segmentBytes]),
		Z: segmentToAxis(digest[2*segmentBytes : 3*segmentBytes]),
	}
}

// Generate derives the coordinate for a profile.
func Generate(category string, strength, complexity float64, occurrences int) Coordinate {
	return ToCoordinates(Hash(category, Composition(strength, complexity, occurrences)))
}

// segmentToAxis reads the segment as a big-endian base-256 fraction in
// [0, 1) and rescales it to [-1, 1).
func segmentToAxis(seg []byte) float64 {
	var v float64
	scale := 1.0
	for _, b := range seg {
		scale /= 256
		v += float64(b) * scale
	}
	return v*2 - 1
}

// DistanceTo returns the Euclidean distance between two coordinates.
func (c Coordinate) DistanceTo(o Coordinate) float64 {
	dx := c.X - o.X
	dy := c.Y - o.Y
	dz := c.Z - o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Clamp forces the coordinate into the unit cube.
func (c Coordinate) Clamp() Coordinate {
	return Coordinate{X: clampAxis(c.X), Y: clampAxis(c.Y), Z: clampAxis(c.Z)}
}

// InBounds reports whether the coordinate lies inside the unit cube.
func (c Coordinate) InBounds() bool {
	return c.X >= -1 && c.X <= 1 && c.Y >= -1 && c.Y <= 1 && c.Z >= -1 && c.Z <= 1
}

// String formats the coordinate for log output.
func (c Coordinate) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", c.X, c.Y, c.Z)
}

func clampAxis(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
