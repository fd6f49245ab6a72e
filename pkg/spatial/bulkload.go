package spatial

import (
	"fmt"
	"math"
	"sort"

	"github.com/orneryd/muninn/pkg/coords"
)

// BulkLoad replaces the index contents with items packed by
// sort-tile-recursive: sort by X into vertical slabs, each slab by Y
// into runs, each run by Z, then cut consecutive full leaves. Packed
// trees are near-minimal height with high leaf fill, which is why
// rebuilds and cold starts go through here instead of repeated Insert.
func (ix *Index) BulkLoad(items []Item) error {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("bulk load: %w: %s", ErrDuplicateID, it.ID)
		}
		seen[it.ID] = struct{}{}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.items = make(map[string]coords.Coordinate, len(items))
	for _, it := range items {
		ix.items[it.ID] = it.Point
	}
	if len(items) == 0 {
		ix.root = &node{leaf: true}
		return nil
	}

	sorted := make([]Item, len(items))
	copy(sorted, items)

	leaves := ix.packLeaves(sorted)
	level := leaves
	for len(level) > 1 {
		level = ix.packParents(level)
	}
	ix.root = level[0]
	ix.root.parent = nil
	return nil
}

func (ix *Index) packLeaves(items []Item) []*node {
	leafCount := int(math.Ceil(float64(len(items)) / float64(ix.maxEntries)))
	slabCount := int(math.Ceil(math.Cbrt(float64(leafCount))))

	sort.Slice(items, func(i, j int) bool { return items[i].Point.X < items[j].Point.X })
	slabSize := chunkSize(len(items), slabCount)

	var leaves []*node
	for s := 0; s < len(items); s += slabSize {
		slab := items[s:min(s+slabSize, len(items))]
		sort.Slice(slab, func(i, j int) bool { return slab[i].Point.Y < slab[j].Point.Y })

		runSize := chunkSize(len(slab), slabCount)
		for r := 0; r < len(slab); r += runSize {
			run := slab[r:min(r+runSize, len(slab))]
			sort.Slice(run, func(i, j int) bool { return run[i].Point.Z < run[j].Point.Z })

			// Even-sized chunks: a 17-item run packs 9+8, not 16+1.
			leafSize := chunkSize(len(run), int(math.Ceil(float64(len(run))/float64(ix.maxEntries))))
			for l := 0; l < len(run); l += leafSize {
				chunk := run[l:min(l+leafSize, len(run))]
				leaf := &node{leaf: true, entries: make([]entry, 0, len(chunk))}
				for _, it := range chunk {
					leaf.entries = append(leaf.entries, entry{rect: PointRect(it.Point), id: it.ID})
				}
				leaves = append(leaves, leaf)
			}
		}
	}
	return leaves
}

func (ix *Index) packParents(children []*node) []*node {
	groupSize := chunkSize(len(children), int(math.Ceil(float64(len(children))/float64(ix.maxEntries))))
	var parents []*node
	for c := 0; c < len(children); c += groupSize {
		group := children[c:min(c+groupSize, len(children))]
		p := &node{leaf: false, entries: make([]entry, 0, len(group))}
		for _, child := range group {
			child.parent = p
			p.entries = append(p.entries, entry{rect: mbr(child), child: child})
		}
		parents = append(parents, p)
	}
	return parents
}

// chunkSize spreads n elements over parts chunks as evenly as possible.
func chunkSize(n, parts int) int {
	if parts < 1 {
		parts = 1
	}
	return int(math.Ceil(float64(n) / float64(parts)))
}
