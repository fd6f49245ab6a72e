package spatial

import (
	"math"

	"github.com/orneryd/muninn/pkg/coords"
)

// Rect is an axis-aligned bounding box in coordinate space.
type Rect struct {
	Min coords.Coordinate `json:"min"`
	Max coords.Coordinate `json:"max"`
}

// PointRect returns the degenerate rect covering a single point.
func PointRect(p coords.Coordinate) Rect {
	return Rect{Min: p, Max: p}
}

// BoundsAround returns the cube of half-width r centered on p, clipped
// to nothing (callers clip if they care about the unit cube).
func BoundsAround(p coords.Coordinate, r float64) Rect {
	return Rect{
		Min: coords.Coordinate{X: p.X - r, Y: p.Y - r, Z: p.Z - r},
		Max: coords.Coordinate{X: p.X + r, Y: p.Y + r, Z: p.Z + r},
	}
}

// Contains reports whether p lies inside the rect, boundaries included.
func (r Rect) Contains(p coords.Coordinate) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X &&
		p.Y >= r.Min.Y && p.Y <= r.Max.Y &&
		p.Z >= r.Min.Z && p.Z <= r.Max.Z
}

// Intersects reports whether two rects overlap, boundaries included.
func (r Rect) Intersects(o Rect) bool {
	return r.Min.X <= o.Max.X && r.Max.X >= o.Min.X &&
		r.Min.Y <= o.Max.Y && r.Max.Y >= o.Min.Y &&
		r.Min.Z <= o.Max.Z && r.Max.Z >= o.Min.Z
}

// Union returns the smallest rect covering both inputs.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		Min: coords.Coordinate{
			X: math.Min(r.Min.X, o.Min.X),
			Y: math.Min(r.Min.Y, o.Min.Y),
			Z: math.Min(r.Min.Z, o.Min.Z),
		},
		Max: coords.Coordinate{
			X: math.Max(r.Max.X, o.Max.X),
			Y: math.Max(r.Max.Y, o.Max.Y),
			Z: math.Max(r.Max.Z, o.Max.Z),
		},
	}
}

// Volume returns the enclosed volume. Degenerate rects have volume 0.
func (r Rect) Volume() float64 {
	return (r.Max.X - r.Min.X) * (r.Max.Y - r.Min.Y) * (r.Max.Z - r.Min.Z)
}

// Enlargement returns how much r's volume would grow to absorb o.
func (r Rect) Enlargement(o Rect) float64 {
	return r.Union(o).Volume() - r.Volume()
}

// MinDist returns the smallest distance from p to any point of the
// rect. Zero when p is inside. Used to prune subtrees during sphere
// queries and nearest-neighbor descent.
func (r Rect) MinDist(p coords.Coordinate) float64 {
	dx := axisDist(p.X, r.Min.X, r.Max.X)
	dy := axisDist(p.Y, r.Min.Y, r.Max.Y)
	dz := axisDist(p.Z, r.Min.Z, r.Max.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func axisDist(v, lo, hi float64) float64 {
	if v < lo {
		return lo - v
	}
	if v > hi {
		return v - hi
	}
	return 0
}
