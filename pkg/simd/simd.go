package simd

import (
	"math"

	"github.com/viterin/vek"
)

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float64) float64 {
	return vek.Dot(a, b)
}

// Distance returns the Euclidean distance between two equal-length
// vectors.
func Distance(a, b []float64) float64 {
	return vek.Distance(a, b)
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	return vek.Norm(v)
}

// Normalize scales v to unit length in place. Zero vectors are left
// unchanged.
func Normalize(v []float64) {
	n := vek.Norm(v)
	if n == 0 {
		return
	}
	vek.DivNumber_Inplace(v, n)
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Zero vectors yield 0 rather than NaN.
func CosineSimilarity(a, b []float64) float64 {
	result := vek.CosineSimilarity(a, b)
	if math.IsNaN(result) {
		return 0
	}
	return result
}

// SquaredDistances computes, for every point i in the structure-of-arrays
// batch (xs[i], ys[i], zs[i]), its squared Euclidean distance to the
// center (cx, cy, cz). The three input slices must have equal length.
func SquaredDistances(xs, ys, zs []float64, cx, cy, cz float64) []float64 {
	dx := vek.SubNumber(xs, cx)
	dy := vek.SubNumber(ys, cy)
	dz := vek.SubNumber(zs, cz)
	vek.Mul_Inplace(dx, dx)
	vek.Mul_Inplace(dy, dy)
	vek.Mul_Inplace(dz, dz)
	vek.Add_Inplace(dx, dy)
	vek.Add_Inplace(dx, dz)
	return dx
}

// Distances is SquaredDistances followed by an element-wise square root.
func Distances(xs, ys, zs []float64, cx, cy, cz float64) []float64 {
	d := SquaredDistances(xs, ys, zs, cx, cy, cz)
	vek.Sqrt_Inplace(d)
	return d
}

// Info describes the math backend selected at startup.
type Info struct {
	Features    []string
	Accelerated bool
}

// Runtime reports whether vek found a SIMD instruction set on this CPU.
// Informational; all functions work either way.
func Runtime() Info {
	info := vek.Info()
	return Info{Features: info.CPUFeatures, Accelerated: info.Acceleration}
}
