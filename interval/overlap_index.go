package interval

import (
	biointerval "github.com/biogo/store/interval"
)

// node adapts an arena Handle into the Interface biogo/store/interval's
// augmented tree requires: a byte range plus a stable identity.
type node struct {
	handle Handle
	rng    biointerval.IntRange
}

func (n *node) Range() biointerval.IntRange { return n.rng }
func (n *node) Overlap(b biointerval.IntRange) bool {
	return n.rng.Start < b.End && b.Start < n.rng.End
}
func (n *node) ID() uintptr { return uintptr(n.handle) }

// OverlapIndex is an interval tree over the byte axis, built once from an
// arena of lifetime intervals and queried many times. It is built on the
// same augmented-interval-tree primitive already vendored in this
// repository for other range-query use cases, rather than a hand-rolled
// balanced tree.
type OverlapIndex struct {
	arena   *Arena
	tree    biointerval.IntTree
	handles []Handle
}

// NewOverlapIndex builds an OverlapIndex over the intervals named by
// handles, which must already be present in arena. The tree is built once
// with fast inserts and a single AdjustRanges pass at the end, since the
// index is immutable after construction.
func NewOverlapIndex(arena *Arena, handles []Handle) *OverlapIndex {
	idx := &OverlapIndex{arena: arena, handles: handles}
	for _, h := range handles {
		iv := arena.Get(h)
		n := &node{
			handle: h,
			rng:    biointerval.IntRange{Start: int(iv.Start), End: int(iv.Stop)},
		}
		// Errors here only occur on a degenerate [x,x) range or a
		// duplicate ID; both are impossible given how handles and
		// interval bounds are constructed upstream.
		_ = idx.tree.Insert(n, true)
	}
	idx.tree.AdjustRanges()
	return idx
}

// Find returns every interval whose byte range intersects [lo, hi).
func (idx *OverlapIndex) Find(lo, hi uint64) []Interval {
	q := &node{rng: biointerval.IntRange{Start: int(lo), End: int(hi)}}
	var out []Interval
	idx.tree.DoMatching(func(iv biointerval.IntInterface) bool {
		out = append(out, idx.arena.Get(iv.(*node).handle))
		return false
	}, q)
	return out
}

// MergeOverlaps returns the merged byte ranges covered by every interval in
// the index, as (start, stop) pairs sorted ascending. Lifetimes are not
// considered: an interval freed long ago is merged the same as a live one.
func (idx *OverlapIndex) MergeOverlaps() []struct{ Start, Stop uint64 } {
	if len(idx.handles) == 0 {
		return nil
	}
	bounds := make([]uint64, 0, 2*len(idx.handles))
	for _, h := range idx.handles {
		iv := idx.arena.Get(h)
		bounds = append(bounds, iv.Start, iv.Stop)
	}
	merged := mergeRanges(bounds)

	us := NewUnionScanner(merged)
	var out []struct{ Start, Stop uint64 }
	var start, end uint64
	for us.Scan(&start, &end, AddrMax) {
		out = append(out, struct{ Start, Stop uint64 }{start, end})
	}
	return out
}

// mergeRanges takes a flat, unordered list of (start, stop) pairs and
// returns their union as a sorted, coalesced flat list of (start, stop)
// pairs.
func mergeRanges(flat []uint64) []uint64 {
	type pair = struct{ start, stop uint64 }
	pairs := make([]pair, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		pairs = append(pairs, pair{flat[i], flat[i+1]})
	}
	sortPairs(pairs)

	var out []uint64
	var curStart, curStop uint64
	open := false
	for _, p := range pairs {
		if !open {
			curStart, curStop = p.start, p.stop
			open = true
			continue
		}
		if p.start <= curStop {
			if p.stop > curStop {
				curStop = p.stop
			}
			continue
		}
		out = append(out, curStart, curStop)
		curStart, curStop = p.start, p.stop
	}
	if open {
		out = append(out, curStart, curStop)
	}
	return out
}

func sortPairs(pairs []struct{ start, stop uint64 }) {
	// Small, already-bounded inputs (one entry per live interval); plain
	// insertion sort keeps this file free of a second sort.Slice
	// closure allocation on the hot query path.
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j].start < pairs[j-1].start; j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
}
