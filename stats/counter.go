// Package stats implements the statistics state machine ("distinct block
// counter") that tracks, incrementally as events are pushed, the number of
// distinct live allocation regions, the list of free byte ranges, total
// free space, the largest free block, and free-segment fragmentation.
package stats

import (
	"github.com/grailbio/heapviz/event"
)

// FreeBlock is a free byte range [Start, Stop).
type FreeBlock struct {
	Start, Stop uint64
}

// Size returns Stop-Start.
func (b FreeBlock) Size() uint64 {
	return b.Stop - b.Start
}

// Snapshot is the set of statistics derived after a single Push.
type Snapshot struct {
	UsageBytes               int64
	DistinctBlocks           uint64
	FreeBlocks               uint64
	FreeSegmentFragmentation uint64
	LargestFreeBlock         uint64
}

// Counter is the distinct-block-counter state machine. Push events into it
// in time order; query statistics after each push. Despite the name, it
// tracks more than the distinct-block count — see Snapshot.
type Counter struct {
	poolStart, poolStop uint64
	leftPad, rightPad   uint64

	starts, ends sortedSet

	distinctBlocks   uint64
	freeBlocks       []FreeBlock
	freeSpace        uint64
	largestFreeBlock uint64
	usageBytes       int64
}

// NewCounter returns a Counter for a pool spanning [poolStart, poolStop).
// leftPad/rightPad symmetrically enlarge every pushed allocation before it's
// applied to the edge sets; this controls coalescing heuristics for
// allocators that round up internally. Both are commonly zero.
//
// Sentinels are inserted so that free gaps touching either pool boundary are
// still reported: poolStop is a pre-existing "start" and poolStart is a
// pre-existing "end", so a free run from poolStart up to the first real
// allocation (or from the last real allocation up to poolStop) is visible
// to the two-pointer scan in recomputeFreeBlocks.
func NewCounter(poolStart, poolStop, leftPad, rightPad uint64) *Counter {
	c := &Counter{
		poolStart: poolStart,
		poolStop:  poolStop,
		leftPad:   leftPad,
		rightPad:  rightPad,
	}
	c.starts.insert(poolStop)
	c.ends.insert(poolStart)
	c.recomputeFreeBlocks()
	return c
}

// Push applies one event to the state machine and updates every derived
// statistic. Events must be pushed in time order.
func (c *Counter) Push(e event.Event) Snapshot {
	lo := event.ClampSub(e.Address, c.leftPad)
	hi := e.Address + e.Size + c.rightPad

	// The pool-bound sentinels only delimit free gaps; touching one is not
	// an attachment to a live region.
	leftAttached := lo != c.poolStart && c.ends.contains(lo)
	rightAttached := hi != c.poolStop && c.starts.contains(hi)

	switch e.Kind {
	case event.Alloc:
		switch {
		case leftAttached && rightAttached:
			// Two previously-distinct regions are glued into one.
			c.distinctBlocks--
		case !leftAttached && !rightAttached:
			// A new island, unconnected to any live region.
			c.distinctBlocks++
		}
		// Otherwise it glues onto exactly one neighbor: unchanged.
		c.starts.insert(lo)
		c.ends.insert(hi)
		c.usageBytes += int64(e.Size)
	case event.Free:
		switch {
		case leftAttached && rightAttached:
			// Splits one region into two.
			c.distinctBlocks++
		case !leftAttached && !rightAttached:
			// Removes an island.
			c.distinctBlocks--
		}
		c.starts.remove(lo)
		c.ends.remove(hi)
		c.usageBytes -= int64(e.Size)
	}

	c.recomputeFreeBlocks()
	return c.Snapshot()
}

// recomputeFreeBlocks rebuilds the free-block list, free space, and largest
// free block by a two-pointer merge over the sorted starts/ends edges.
//
// Free blocks start where a live allocation ends and run until the next
// live allocation begins; adjacent allocations (start == end) produce no
// gap. This is the only pass that computes these three statistics — an
// earlier, quadratic, point-query-based second pass that duplicated this
// work is not replicated here.
func (c *Counter) recomputeFreeBlocks() {
	starts := c.starts.vals
	ends := c.ends.vals
	si, ei := 0, 0

	blocks := c.freeBlocks[:0]
	var freeSpace, largest uint64

	for si < len(starts) && ei < len(ends) {
		s, e := starts[si], ends[ei]
		switch {
		case s < e:
			si++
		case s == e:
			ei++
		default: // s > e
			blocks = append(blocks, FreeBlock{Start: e, Stop: s})
			size := s - e
			freeSpace += size
			if size > largest {
				largest = size
			}
			ei++
		}
	}

	c.freeBlocks = blocks
	c.freeSpace = freeSpace
	c.largestFreeBlock = largest
}

// Snapshot returns the current statistics without mutating state.
func (c *Counter) Snapshot() Snapshot {
	var frag uint64
	if c.largestFreeBlock > 0 {
		// Subtract 1 so that optimal usage of free space (one big block)
		// gives 0; this is "excess blocks beyond optimal", not a ratio.
		frag = c.freeSpace/c.largestFreeBlock - 1
	}
	return Snapshot{
		UsageBytes:               c.usageBytes,
		DistinctBlocks:           c.distinctBlocks,
		FreeBlocks:               uint64(len(c.freeBlocks)),
		FreeSegmentFragmentation: frag,
		LargestFreeBlock:         c.largestFreeBlock,
	}
}

// FreeBlockList returns a copy of the current free-block list, ascending.
func (c *Counter) FreeBlockList() []FreeBlock {
	out := make([]FreeBlock, len(c.freeBlocks))
	copy(out, c.freeBlocks)
	return out
}

// Bounds returns the pool bounds this counter was constructed with.
func (c *Counter) Bounds() (start, stop uint64) {
	return c.poolStart, c.poolStop
}
