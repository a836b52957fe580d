package interval

// This file provides support for representing a union of byte ranges as a
// sorted sequence of endpoints, and scanning over the union.
//
// For example, given the ranges
//   [5, 15)
//   [7, 17)
//   [20, 25)
// the union is
//   [5, 17) U [20, 25)
// so the sorted sequence of endpoints is
//   {5, 17, 20, 25}.
//
// UnionScanner iterates over these ranges as follows:
//   endpoints := []uint64{5, 17, 20, 25}
//   us := NewUnionScanner(endpoints)
//   var start, end uint64
//   for us.Scan(&start, &end, 25) {
//     // [start, end) is one maximal run of the union
//   }
// This is used by OverlapIndex.MergeOverlaps to report the merged extent of
// a set of intervals without re-walking the tree for each query.

// AddrMax is a safe sentinel for "past every address we'll ever see".
const AddrMax = ^uint64(0)

// UnionScanner supports iteration over a union of byte ranges expressed as a
// sorted slice of endpoints: endpoints[0:2] is one range, endpoints[2:4] is
// the next, and so on.
type UnionScanner struct {
	endpoints []uint64
	pos       uint64
	idx       int
}

// NewUnionScanner returns a UnionScanner positioned at the first range.
func NewUnionScanner(endpoints []uint64) UnionScanner {
	pos := AddrMax
	idx := 0
	if len(endpoints) >= 1 {
		pos = endpoints[0]
		idx = 1
	}
	return UnionScanner{endpoints: endpoints, pos: pos, idx: idx}
}

// Pos returns the next position to be scanned, or AddrMax if there is none.
func (us *UnionScanner) Pos() uint64 {
	return us.pos
}

// Scan reports the next maximal run [start, end) of the union up to (not
// including) limit. Call it in a loop:
//   for us.Scan(&start, &end, limit) { ... }
func (us *UnionScanner) Scan(start, end *uint64, limit uint64) bool {
	if us.pos >= limit {
		return false
	}
	*start = us.pos
	rangeEnd := us.endpoints[us.idx]
	if rangeEnd > limit {
		us.pos = limit
		*end = limit
		return true
	}
	*end = rangeEnd
	us.idx++
	if us.idx >= len(us.endpoints) {
		us.pos = AddrMax
	} else {
		us.pos = us.endpoints[us.idx]
		us.idx++
	}
	return true
}
