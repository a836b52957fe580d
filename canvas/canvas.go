// Package canvas renders the set of live allocations at some moment into a
// discretized, block-sized grid of cells, each carrying a MemoryStatus, and
// derives a stable color key for each cell from the identity of the
// allocation(s) touching it.
package canvas

import (
	"github.com/grailbio/heapviz/interval"
)

// StatusKind is the tag of a MemoryStatus.
type StatusKind uint8

const (
	// CellUnused marks a cell entirely outside pool bounds.
	CellUnused StatusKind = iota
	// CellFree marks a cell within pool bounds but not currently
	// allocated.
	CellFree
	// CellAllocated marks a cell fully inside one live allocation.
	CellAllocated
	// CellPartiallyAllocated marks a cell partially covered by one or
	// more live allocations.
	CellPartiallyAllocated
)

// Cell is one discretized unit of the canvas.
type Cell struct {
	Kind StatusKind
	// Owner is the arena handle of the allocation that colors this cell:
	// the sole occupant for CellAllocated, or the most recent toucher for
	// CellFree (interval.NoHandle if never touched). Unused for
	// CellPartiallyAllocated, which uses Owners instead.
	Owner interval.Handle
	// Owners holds every allocation contributing to a partially-allocated
	// cell, deduplicated. Unused otherwise.
	Owners []interval.Handle
	// UsedBytes is the number of bytes of this cell actually covered by
	// an allocation. Equal to the cell's full byte span for CellAllocated
	// (BlockSize, or less for a final cell cut short by Stop).
	UsedBytes uint64
}

// Canvas is a discretized view of a pool: bounds [Start, Stop), split into
// cells of BlockSize bytes.
type Canvas struct {
	Start, Stop uint64
	BlockSize   uint64
	Cells       []Cell
}

// New returns a Canvas with every cell initialized to CellFree (NoHandle).
// Cell count is ceil((stop-start)/blockSize).
func New(start, stop, blockSize uint64) Canvas {
	if blockSize == 0 {
		blockSize = 1
	}
	n := (stop - start + blockSize - 1) / blockSize
	cells := make([]Cell, n)
	for i := range cells {
		cells[i] = Cell{Kind: CellFree, Owner: interval.NoHandle}
	}
	return Canvas{Start: start, Stop: stop, BlockSize: blockSize, Cells: cells}
}

// Clone returns an independent copy whose Cells slice can be mutated without
// affecting c. Used by the temporal cache so a snapshot can be replayed
// against many different query offsets.
func (c Canvas) Clone() Canvas {
	cells := make([]Cell, len(c.Cells))
	copy(cells, c.Cells)
	return Canvas{Start: c.Start, Stop: c.Stop, BlockSize: c.BlockSize, Cells: cells}
}

// cellRange returns the byte range [lo, hi) covered by cell index i.
func (c Canvas) cellRange(i int) (lo, hi uint64) {
	lo = c.Start + uint64(i)*c.BlockSize
	hi = lo + c.BlockSize
	if hi > c.Stop {
		hi = c.Stop
	}
	return
}

// cellIndexRange returns the half-open range of cell indices touched by
// the byte range [lo, hi), clamped to the canvas's own bounds.
func (c Canvas) cellIndexRange(lo, hi uint64) (loIdx, hiIdx int) {
	if lo < c.Start {
		lo = c.Start
	}
	if hi > c.Stop {
		hi = c.Stop
	}
	if lo >= hi {
		return 0, 0
	}
	loIdx = int((lo - c.Start) / c.BlockSize)
	hiIdx = int((hi - 1 - c.Start) / c.BlockSize)
	return loIdx, hiIdx + 1
}

// InsertBlocks paints every cell touched by any of the given live intervals
// into c. It is the from-scratch painter, used to build a cold canvas that a
// temporal-cache snapshot can be verified against.
func (c *Canvas) InsertBlocks(arena *interval.Arena, handles []interval.Handle) {
	for _, h := range handles {
		iv := arena.Get(h)
		c.paintRange(h, iv.Start, iv.Stop, true)
	}
}

// paintRange adds (grow=true) or removes (grow=false) coverage by handle h
// over the byte range [lo, hi) to the canvas.
func (c *Canvas) paintRange(h interval.Handle, lo, hi uint64, grow bool) {
	loIdx, hiIdx := c.cellIndexRange(lo, hi)
	for i := loIdx; i < hiIdx; i++ {
		cellLo, cellHi := c.cellRange(i)
		covered := overlapLen(cellLo, cellHi, lo, hi)
		if covered == 0 {
			continue
		}
		cell := &c.Cells[i]
		if grow {
			growCell(cell, h, covered, cellHi-cellLo)
		} else {
			shrinkCell(cell, h, covered, cellHi-cellLo)
		}
	}
}

func overlapLen(aLo, aHi, bLo, bHi uint64) uint64 {
	lo := aLo
	if bLo > lo {
		lo = bLo
	}
	hi := aHi
	if bHi < hi {
		hi = bHi
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func growCell(cell *Cell, h interval.Handle, covered, cellSize uint64) {
	switch cell.Kind {
	case CellFree, CellUnused:
		cell.Kind = CellPartiallyAllocated
		cell.Owners = []interval.Handle{h}
		cell.UsedBytes = covered
	case CellAllocated:
		if cell.Owner == h {
			cell.UsedBytes += covered
		} else {
			cell.Owners = []interval.Handle{cell.Owner, h}
			cell.UsedBytes += covered
			cell.Kind = CellPartiallyAllocated
		}
	case CellPartiallyAllocated:
		cell.Owners = appendUnique(cell.Owners, h)
		cell.UsedBytes += covered
	}
	if cell.UsedBytes >= cellSize {
		cell.Kind = CellAllocated
		if len(cell.Owners) > 0 {
			cell.Owner = cell.Owners[len(cell.Owners)-1]
			cell.Owners = nil
		}
	}
}

func shrinkCell(cell *Cell, h interval.Handle, covered, cellSize uint64) {
	if cell.UsedBytes <= covered {
		cell.UsedBytes = 0
	} else {
		cell.UsedBytes -= covered
	}
	switch cell.Kind {
	case CellAllocated:
		if cell.UsedBytes == 0 {
			cell.Kind = CellFree
			cell.Owner = h
		} else {
			cell.Kind = CellPartiallyAllocated
			cell.Owners = []interval.Handle{cell.Owner}
		}
	case CellPartiallyAllocated:
		cell.Owners = removeHandle(cell.Owners, h)
		if cell.UsedBytes == 0 {
			cell.Kind = CellFree
			cell.Owner = h
			cell.Owners = nil
		} else if len(cell.Owners) == 1 && cell.UsedBytes >= cellSize {
			cell.Kind = CellAllocated
			cell.Owner = cell.Owners[0]
			cell.Owners = nil
		}
	}
}

func appendUnique(owners []interval.Handle, h interval.Handle) []interval.Handle {
	for _, o := range owners {
		if o == h {
			return owners
		}
	}
	return append(owners, h)
}

func removeHandle(owners []interval.Handle, h interval.Handle) []interval.Handle {
	out := owners[:0]
	for _, o := range owners {
		if o != h {
			out = append(out, o)
		}
	}
	return out
}
