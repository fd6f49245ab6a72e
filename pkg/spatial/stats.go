package spatial

import "fmt"

// Stats describes the shape of the tree.
type Stats struct {
	Items       int     `json:"items"`
	Nodes       int     `json:"nodes"`
	Leaves      int     `json:"leaves"`
	Height      int     `json:"height"`
	AvgLeafFill float64 `json:"avg_leaf_fill"`
	MaxEntries  int     `json:"max_entries"`
	MinEntries  int     `json:"min_entries"`
	LinearScan  bool    `json:"linear_scan"`
}

// Stats walks the tree and reports its shape.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	s := Stats{
		Items:      len(ix.items),
		MaxEntries: ix.maxEntries,
		MinEntries: ix.minEntries,
		LinearScan: ix.linearScan,
	}
	var leafEntries int
	var walk func(n *node, depth int)
	walk = func(n *node, depth int) {
		s.Nodes++
		if depth > s.Height {
			s.Height = depth
		}
		if n.leaf {
			s.Leaves++
			leafEntries += len(n.entries)
			return
		}
		for _, e := range n.entries {
			walk(e.child, depth+1)
		}
	}
	walk(ix.root, 1)
	if s.Leaves > 0 {
		s.AvgLeafFill = float64(leafEntries) / float64(s.Leaves*ix.maxEntries)
	}
	return s
}

// Items returns a snapshot of everything indexed, in no particular
// order.
func (ix *Index) Items() []Item {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Item, 0, len(ix.items))
	for id, p := range ix.items {
		out = append(out, Item{ID: id, Point: p})
	}
	return out
}

// CheckConsistency verifies structural invariants and agreement between
// the tree and the item map. It returns one message per problem found;
// an empty slice means the index is sound.
//
// Min fill is deliberately not enforced here: bulk loads and condensed
// removals may legitimately leave a sparse trailing node.
func (ix *Index) CheckConsistency() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var problems []string
	seen := make(map[string]int, len(ix.items))

	var walk func(n *node, parent *node)
	walk = func(n *node, parent *node) {
		if n.parent != parent {
			problems = append(problems, "node has wrong parent pointer")
		}
		if len(n.entries) > ix.maxEntries {
			problems = append(problems, fmt.Sprintf("node holds %d entries, capacity %d", len(n.entries), ix.maxEntries))
		}
		if n != ix.root && len(n.entries) == 0 {
			problems = append(problems, "empty non-root node")
		}
		for _, e := range n.entries {
			if n.leaf {
				seen[e.id]++
				stored, ok := ix.items[e.id]
				switch {
				case !ok:
					problems = append(problems, fmt.Sprintf("leaf entry %s missing from item map", e.id))
				case stored != e.rect.Min:
					problems = append(problems, fmt.Sprintf("leaf entry %s at %v, item map says %v", e.id, e.rect.Min, stored))
				}
				continue
			}
			if e.child == nil {
				problems = append(problems, "internal entry has nil child")
				continue
			}
			if len(e.child.entries) == 0 {
				problems = append(problems, "empty non-root node")
				continue
			}
			if got := mbr(e.child); got != e.rect {
				problems = append(problems, fmt.Sprintf("stale MBR: entry %v, children bound %v", e.rect, got))
			}
			walk(e.child, n)
		}
	}
	walk(ix.root, nil)

	for id, count := range seen {
		if count > 1 {
			problems = append(problems, fmt.Sprintf("id %s indexed %d times", id, count))
		}
	}
	for id := range ix.items {
		if seen[id] == 0 {
			problems = append(problems, fmt.Sprintf("item %s in map but not in tree", id))
		}
	}
	return problems
}
