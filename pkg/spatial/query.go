package spatial

import (
	"container/heap"
	"sort"

	"github.com/orneryd/muninn/pkg/coords"
	"github.com/orneryd/muninn/pkg/simd"
)

// WithinRadius returns every item within r of center, sorted by
// distance then ID. Exact distances are computed in one vectorized
// batch over the candidate set.
func (ix *Index) WithinRadius(center coords.Coordinate, r float64) []Match {
	if r < 0 {
		return nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var ids []string
	var xs, ys, zs []float64
	if ix.linearScan {
		for id, p := range ix.items {
			ids = append(ids, id)
			xs = append(xs, p.X)
			ys = append(ys, p.Y)
			zs = append(zs, p.Z)
		}
	} else {
		ids, xs, ys, zs = collectSphere(ix.root, center, r, ids, xs, ys, zs)
	}
	if len(ids) == 0 {
		return nil
	}

	dists := simd.Distances(xs, ys, zs, center.X, center.Y, center.Z)
	out := make([]Match, 0, len(ids))
	for i, id := range ids {
		if dists[i] <= r {
			out = append(out, Match{
				ID:       id,
				Point:    coords.Coordinate{X: xs[i], Y: ys[i], Z: zs[i]},
				Distance: dists[i],
			})
		}
	}
	sortMatches(out)
	return out
}

// collectSphere gathers leaf entries from every subtree whose MBR comes
// within r of the center. Exact filtering happens afterwards in batch.
func collectSphere(n *node, center coords.Coordinate, r float64, ids []string, xs, ys, zs []float64) ([]string, []float64, []float64, []float64) {
	for _, e := range n.entries {
		if e.rect.MinDist(center) > r {
			continue
		}
		if n.leaf {
			ids = append(ids, e.id)
			xs = append(xs, e.rect.Min.X)
			ys = append(ys, e.rect.Min.Y)
			zs = append(zs, e.rect.Min.Z)
		} else {
			ids, xs, ys, zs = collectSphere(e.child, center, r, ids, xs, ys, zs)
		}
	}
	return ids, xs, ys, zs
}

// WithinRect returns every item inside the box, sorted by ID.
func (ix *Index) WithinRect(r Rect) []Match {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []Match
	if ix.linearScan {
		for id, p := range ix.items {
			if r.Contains(p) {
				out = append(out, Match{ID: id, Point: p})
			}
		}
	} else {
		out = collectRect(ix.root, r, out)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func collectRect(n *node, r Rect, out []Match) []Match {
	for _, e := range n.entries {
		if !e.rect.Intersects(r) {
			continue
		}
		if n.leaf {
			if r.Contains(e.rect.Min) {
				out = append(out, Match{ID: e.id, Point: e.rect.Min})
			}
		} else {
			out = collectRect(e.child, r, out)
		}
	}
	return out
}

// Nearest returns the k items closest to center, nearest first. Fewer
// than k items may be returned when the index is small.
func (ix *Index) Nearest(center coords.Coordinate, k int) []Match {
	if k <= 0 {
		return nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.linearScan {
		return ix.nearestLinear(center, k)
	}
	if len(ix.items) == 0 {
		return nil
	}

	// Best-first search: expand the heap element with the smallest
	// lower-bound distance. When an item surfaces, nothing closer can
	// remain, so it is emitted directly.
	pq := &knnQueue{}
	heap.Push(pq, knnElem{n: ix.root})
	out := make([]Match, 0, k)
	for pq.Len() > 0 && len(out) < k {
		el := heap.Pop(pq).(knnElem)
		if el.n == nil {
			out = append(out, Match{ID: el.id, Point: el.point, Distance: el.dist})
			continue
		}
		for _, e := range el.n.entries {
			if el.n.leaf {
				heap.Push(pq, knnElem{
					dist:  center.DistanceTo(e.rect.Min),
					id:    e.id,
					point: e.rect.Min,
				})
			} else {
				heap.Push(pq, knnElem{dist: e.rect.MinDist(center), n: e.child})
			}
		}
	}
	return out
}

func (ix *Index) nearestLinear(center coords.Coordinate, k int) []Match {
	all := make([]Match, 0, len(ix.items))
	for id, p := range ix.items {
		all = append(all, Match{ID: id, Point: p, Distance: center.DistanceTo(p)})
	}
	sortMatches(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// sortMatches orders by distance, then ID so equal distances stay
// deterministic.
func sortMatches(ms []Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Distance != ms[j].Distance {
			return ms[i].Distance < ms[j].Distance
		}
		return ms[i].ID < ms[j].ID
	})
}

type knnElem struct {
	dist  float64
	n     *node
	id    string
	point coords.Coordinate
}

type knnQueue []knnElem

func (q knnQueue) Len() int { return len(q) }

func (q knnQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	// Emit items before expanding equally distant subtrees, and keep
	// equal-distance items ordered by ID.
	if (q[i].n == nil) != (q[j].n == nil) {
		return q[i].n == nil
	}
	return q[i].id < q[j].id
}

func (q knnQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *knnQueue) Push(x any) { *q = append(*q, x.(knnElem)) }

func (q *knnQueue) Pop() any {
	old := *q
	n := len(old)
	el := old[n-1]
	*q = old[:n-1]
	return el
}
