package coords

// WithinRadius reports whether p lies within r of center. Boundary
// points are inside.
func WithinRadius(p, center Coordinate, r float64) bool {
	return p.DistanceTo(center) <= r
}

// BoundingBox returns the axis-aligned box around center with
// half-width r, clamped to the unit cube.
func BoundingBox(center Coordinate, r float64) (min, max Coordinate) {
	min = Coordinate{X: center.X - r, Y: center.Y - r, Z: center.Z - r}.Clamp()
	max = Coordinate{X: center.X + r, Y: center.Y + r, Z: center.Z + r}.Clamp()
	return min, max
}

// Centroid returns the arithmetic mean of a point set. The zero
// coordinate is returned for an empty set.
func Centroid(points []Coordinate) Coordinate {
	if len(points) == 0 {
		return Coordinate{}
	}
	var c Coordinate
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
		c.Z += p.Z
	}
	n := float64(len(points))
	return Coordinate{X: c.X / n, Y: c.Y / n, Z: c.Z / n}
}

// Nearest returns the index of the candidate closest to target and its
// distance. Returns -1 for an empty candidate set. Ties keep the
// earliest candidate.
func Nearest(target Coordinate, candidates []Coordinate) (int, float64) {
	if len(candidates) == 0 {
		return -1, 0
	}
	best := 0
	bestDist := target.DistanceTo(candidates[0])
	for i := 1; i < len(candidates); i++ {
		if d := target.DistanceTo(candidates[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}
