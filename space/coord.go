// Package space provides a total order over events drawn from multiple
// memory pools, so that a loader merging several pools' worth of trace
// records can produce one deterministic global ordering before partitioning
// events back out by pool.
package space

import "math"

const (
	// InfinityAddr is the largest representable address, used as the
	// exclusive Limit of ranges that extend to the end of a pool.
	InfinityAddr = uint64(math.MaxUint64)

	// UnassignedPool is the pseudo pool index for an address that matched
	// no known PoolDescriptor. Coords with this pool sort last.
	UnassignedPool = int32(-1)

	// InvalidPool is a sentinel distinct from UnassignedPool, used before
	// a Coord has been assigned any pool at all.
	InvalidPool = int32(-2)
)

// sortablePool maps UnassignedPool to a large value so unassigned events
// sort after every real pool.
func sortablePool(p int32) int32 {
	if p == UnassignedPool {
		return math.MaxInt32
	}
	return p
}

// Coord orders an event by which pool it belongs to, then by address, then
// by the order it was seen in the raw trace (Seq) so that two events sharing
// a timestamp and address are still totally ordered.
type Coord struct {
	Pool int32
	Addr uint64
	Seq  uint32
}

// Compare returns (negative, 0, positive) if (c<c1, c=c1, c>c1) respectively.
func (c Coord) Compare(c1 Coord) int {
	p0 := sortablePool(c.Pool)
	p1 := sortablePool(c1.Pool)
	if p0 != p1 {
		// Compare rather than subtract: MaxInt32 minus a negative pool
		// index would overflow int32.
		if p0 < p1 {
			return -1
		}
		return 1
	}
	if c.Addr != c1.Addr {
		if c.Addr < c1.Addr {
			return -1
		}
		return 1
	}
	return int(c.Seq) - int(c1.Seq)
}

// LT returns true iff c < c1.
func (c Coord) LT(c1 Coord) bool { return c.Compare(c1) < 0 }

// LE returns true iff c <= c1.
func (c Coord) LE(c1 Coord) bool { return c.Compare(c1) <= 0 }

// GE returns true iff c >= c1.
func (c Coord) GE(c1 Coord) bool { return c.Compare(c1) >= 0 }

// GT returns true iff c > c1.
func (c Coord) GT(c1 Coord) bool { return c.Compare(c1) > 0 }

// EQ returns true iff c = c1.
func (c Coord) EQ(c1 Coord) bool {
	return c.Pool == c1.Pool && c.Addr == c1.Addr && c.Seq == c1.Seq
}

// Min returns the smaller of c and c1.
func (c Coord) Min(c1 Coord) Coord {
	if c.LT(c1) {
		return c
	}
	return c1
}

// Range is a half-open [Start, Limit) span of Coords.
type Range struct {
	Start, Limit Coord
}

// EQ returns true iff r = r1.
func (r Range) EQ(r1 Range) bool {
	return r.Start.EQ(r1.Start) && r.Limit.EQ(r1.Limit)
}

// Intersects returns true iff (r ∩ r1) != ∅.
func (r Range) Intersects(r1 Range) bool {
	return r.Start.LT(r1.Limit) && r1.Start.LT(r.Limit)
}

// Contains reports whether c lies in [r.Start, r.Limit).
func (r Range) Contains(c Coord) bool {
	return r.Start.LE(c) && c.LT(r.Limit)
}
