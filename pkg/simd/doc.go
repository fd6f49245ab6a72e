// Package simd provides vectorized float64 math for batch coordinate
// operations.
//
// The spatial index and probability fields score hundreds of candidate
// points per query. Doing that through per-point struct math costs a
// function call and three subtractions per candidate; doing it through
// this package costs one call per batch. Candidates are laid out as
// structure-of-arrays (separate X, Y, Z slices) so the underlying
// viterin/vek kernels can use AVX2 on amd64 and NEON on arm64, with an
// optimized pure-Go fallback elsewhere. Dispatch happens inside vek;
// callers never branch on architecture.
package simd
