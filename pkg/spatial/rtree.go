// Package spatial implements the in-memory R-tree that indexes pattern
// coordinates.
//
// The tree stores point entries (pattern ID + coordinate) in leaf nodes
// and maintains minimum bounding rects up the tree. Inserts use
// Guttman's quadratic split; removals condense underfull nodes and
// reinsert orphaned entries; bulk loads use sort-tile-recursive packing.
// A coarse RWMutex serializes writers against concurrent readers, and a
// linear-scan mode answers queries from a flat map so index results can
// be verified against ground truth.
package spatial

import (
	"errors"
	"sync"

	"github.com/orneryd/muninn/pkg/coords"
)

const (
	// DefaultMaxEntries is the node capacity before a split.
	DefaultMaxEntries = 16
	// DefaultMinEntries is the fill floor before a node is condensed.
	DefaultMinEntries = 4
)

var (
	// ErrDuplicateID is returned when inserting an ID already present.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrNotFound is returned when an ID is absent from the index.
	ErrNotFound = errors.New("id not found")
)

// Item pairs a pattern ID with its coordinate, for bulk loading and
// consistency checks.
type Item struct {
	ID    string
	Point coords.Coordinate
}

// Match is a query hit.
type Match struct {
	ID       string
	Point    coords.Coordinate
	Distance float64
}

type entry struct {
	rect  Rect
	child *node  // set on internal entries
	id    string // set on leaf entries
}

type node struct {
	leaf    bool
	parent  *node
	entries []entry
}

// Index is a thread-safe 3-D R-tree over pattern coordinates.
type Index struct {
	mu         sync.RWMutex
	root       *node
	items      map[string]coords.Coordinate
	maxEntries int
	minEntries int
	linearScan bool
}

// Option configures an Index.
type Option func(*Index)

// WithCapacity overrides the node capacity and fill floor. min must be
// at most max/2 for splits to be well formed; out-of-range values fall
// back to the defaults.
func WithCapacity(max, min int) Option {
	return func(ix *Index) {
		if max >= 4 && min >= 2 && min <= max/2 {
			ix.maxEntries = max
			ix.minEntries = min
		}
	}
}

// New returns an empty index.
func New(opts ...Option) *Index {
	ix := &Index{
		items:      make(map[string]coords.Coordinate),
		maxEntries: DefaultMaxEntries,
		minEntries: DefaultMinEntries,
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.root = &node{leaf: true}
	return ix
}

// Len returns the number of indexed items.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.items)
}

// Lookup returns the coordinate stored for id.
func (ix *Index) Lookup(id string) (coords.Coordinate, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	p, ok := ix.items[id]
	return p, ok
}

// SetLinearScan toggles brute-force query mode. The tree keeps being
// maintained either way; only the read path changes.
func (ix *Index) SetLinearScan(v bool) {
	ix.mu.Lock()
	ix.linearScan = v
	ix.mu.Unlock()
}

// LinearScan reports whether brute-force query mode is active.
func (ix *Index) LinearScan() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.linearScan
}

// Insert adds an item. The ID must not already be present.
func (ix *Index) Insert(id string, p coords.Coordinate) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, exists := ix.items[id]; exists {
		return ErrDuplicateID
	}
	ix.insertLocked(id, p)
	ix.items[id] = p
	return nil
}

// Remove deletes an item by ID.
func (ix *Index) Remove(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	p, exists := ix.items[id]
	if !exists {
		return ErrNotFound
	}
	if !ix.removeLocked(id, p) {
		// The map and tree disagree. Keep the map authoritative and
		// surface the divergence through CheckConsistency.
		delete(ix.items, id)
		return ErrNotFound
	}
	delete(ix.items, id)
	return nil
}

// Clear resets the index to empty.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.root = &node{leaf: true}
	ix.items = make(map[string]coords.Coordinate)
}

func (ix *Index) insertLocked(id string, p coords.Coordinate) {
	r := PointRect(p)
	leaf := ix.chooseLeaf(ix.root, r)
	leaf.entries = append(leaf.entries, entry{rect: r, id: id})
	ix.adjustTree(leaf)
}

// chooseLeaf descends toward the child needing least volume enlargement,
// breaking ties by smaller volume.
func (ix *Index) chooseLeaf(n *node, r Rect) *node {
	for !n.leaf {
		best := 0
		bestEnl := n.entries[0].rect.Enlargement(r)
		bestVol := n.entries[0].rect.Volume()
		for i := 1; i < len(n.entries); i++ {
			enl := n.entries[i].rect.Enlargement(r)
			vol := n.entries[i].rect.Volume()
			if enl < bestEnl || (enl == bestEnl && vol < bestVol) {
				best, bestEnl, bestVol = i, enl, vol
			}
		}
		n = n.entries[best].child
	}
	return n
}

// adjustTree walks from a modified node to the root, refreshing parent
// MBRs and splitting any node that overflowed.
func (ix *Index) adjustTree(n *node) {
	for {
		var split *node
		if len(n.entries) > ix.maxEntries {
			split = ix.splitNode(n)
		}
		if n.parent == nil {
			if split != nil {
				root := &node{leaf: false}
				root.entries = append(root.entries,
					entry{rect: mbr(n), child: n},
					entry{rect: mbr(split), child: split},
				)
				n.parent = root
				split.parent = root
				ix.root = root
			}
			return
		}
		parent := n.parent
		parent.entries[childIndex(parent, n)].rect = mbr(n)
		if split != nil {
			split.parent = parent
			parent.entries = append(parent.entries, entry{rect: mbr(split), child: split})
		}
		n = parent
	}
}

// splitNode distributes n's entries between n and a fresh sibling using
// the quadratic method and returns the sibling.
func (ix *Index) splitNode(n *node) *node {
	moved := n.entries
	n.entries = nil
	sib := &node{leaf: n.leaf}

	si, sj := pickSeeds(moved)
	n.entries = append(n.entries, moved[si])
	sib.entries = append(sib.entries, moved[sj])
	rest := make([]entry, 0, len(moved)-2)
	for i, e := range moved {
		if i != si && i != sj {
			rest = append(rest, e)
		}
	}

	rectA, rectB := moved[si].rect, moved[sj].rect
	for len(rest) > 0 {
		// Force assignment when one side must take every remaining entry
		// to reach the fill floor.
		if len(n.entries)+len(rest) == ix.minEntries {
			for _, e := range rest {
				n.entries = append(n.entries, e)
				rectA = rectA.Union(e.rect)
			}
			break
		}
		if len(sib.entries)+len(rest) == ix.minEntries {
			for _, e := range rest {
				sib.entries = append(sib.entries, e)
				rectB = rectB.Union(e.rect)
			}
			break
		}

		k, toA := pickNext(rest, rectA, rectB, len(n.entries), len(sib.entries))
		e := rest[k]
		rest[k] = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
		if toA {
			n.entries = append(n.entries, e)
			rectA = rectA.Union(e.rect)
		} else {
			sib.entries = append(sib.entries, e)
			rectB = rectB.Union(e.rect)
		}
	}

	if !n.leaf {
		for _, e := range n.entries {
			e.child.parent = n
		}
		for _, e := range sib.entries {
			e.child.parent = sib
		}
	}
	return sib
}

// pickSeeds selects the entry pair wasting the most volume if grouped,
// seeding the two split groups as far apart as possible.
func pickSeeds(entries []entry) (int, int) {
	si, sj := 0, 1
	worst := -1.0
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			waste := entries[i].rect.Union(entries[j].rect).Volume() -
				entries[i].rect.Volume() - entries[j].rect.Volume()
			if waste > worst {
				worst, si, sj = waste, i, j
			}
		}
	}
	return si, sj
}

// pickNext selects the unassigned entry with the strongest group
// preference. Ties fall to the smaller enlargement, then the emptier
// group.
func pickNext(rest []entry, rectA, rectB Rect, lenA, lenB int) (int, bool) {
	best := 0
	bestDiff := -1.0
	bestToA := true
	for i, e := range rest {
		dA := rectA.Enlargement(e.rect)
		dB := rectB.Enlargement(e.rect)
		diff := dA - dB
		if diff < 0 {
			diff = -diff
		}
		if diff > bestDiff {
			bestDiff = diff
			best = i
			switch {
			case dA < dB:
				bestToA = true
			case dB < dA:
				bestToA = false
			default:
				bestToA = lenA <= lenB
			}
		}
	}
	return best, bestToA
}

func (ix *Index) removeLocked(id string, p coords.Coordinate) bool {
	leaf, idx := findLeaf(ix.root, id, p)
	if leaf == nil {
		return false
	}
	leaf.entries = append(leaf.entries[:idx], leaf.entries[idx+1:]...)
	ix.condenseTree(leaf)

	// Shrink the root while it is an internal node with one child.
	for !ix.root.leaf && len(ix.root.entries) == 1 {
		ix.root = ix.root.entries[0].child
		ix.root.parent = nil
	}
	return true
}

func findLeaf(n *node, id string, p coords.Coordinate) (*node, int) {
	if n.leaf {
		for i, e := range n.entries {
			if e.id == id {
				return n, i
			}
		}
		return nil, 0
	}
	for _, e := range n.entries {
		if !e.rect.Contains(p) {
			continue
		}
		if leaf, i := findLeaf(e.child, id, p); leaf != nil {
			return leaf, i
		}
	}
	return nil, 0
}

// condenseTree walks from a shrunken leaf to the root, dropping
// underfull nodes and collecting their surviving entries, then
// reinserts those entries.
func (ix *Index) condenseTree(n *node) {
	var orphans []entry
	for n.parent != nil {
		parent := n.parent
		idx := childIndex(parent, n)
		if len(n.entries) < ix.minEntries {
			parent.entries = append(parent.entries[:idx], parent.entries[idx+1:]...)
			orphans = append(orphans, collectLeafEntries(n)...)
		} else {
			parent.entries[idx].rect = mbr(n)
		}
		n = parent
	}
	for _, e := range orphans {
		ix.insertLocked(e.id, e.rect.Min)
	}
}

func collectLeafEntries(n *node) []entry {
	if n.leaf {
		return n.entries
	}
	var out []entry
	for _, e := range n.entries {
		out = append(out, collectLeafEntries(e.child)...)
	}
	return out
}

func childIndex(parent, child *node) int {
	for i, e := range parent.entries {
		if e.child == child {
			return i
		}
	}
	// Unreachable while parent pointers are consistent.
	panic("spatial: node not found in parent")
}

func mbr(n *node) Rect {
	r := n.entries[0].rect
	for _, e := range n.entries[1:] {
		r = r.Union(e.rect)
	}
	return r
}
