package canvas

import (
	"encoding/binary"

	"github.com/dgryski/go-farm"

	"github.com/grailbio/heapviz/interval"
)

// ColorKey identifies a renderer-assigned color bucket. Cells deterministically
// derive the same key from the same owning allocation on every render, so a
// viewer can keep allocations visually stable across frames without either
// side tracking a color assignment table.
type ColorKey uint64

// NoColor is the key for a cell with no owning allocation (CellFree/CellUnused).
const NoColor ColorKey = 0

// Color derives a ColorKey from the cell's canonical owner: for
// CellAllocated and CellFree-with-history cells, Owner; for
// CellPartiallyAllocated, a mix key folding every contributing allocation's
// hash together (XOR, so the result is independent of Owners' order), so
// that two partial cells with different owner sets never collide just
// because they share one allocation.
func (c Cell) Color(arena *interval.Arena) ColorKey {
	if c.Kind == CellPartiallyAllocated {
		if len(c.Owners) == 0 {
			return NoColor
		}
		var mix uint64
		for _, o := range c.Owners {
			if o == interval.NoHandle {
				continue
			}
			mix ^= handleHash(arena.Get(o))
		}
		return ColorKey(mix)
	}
	if c.Owner == interval.NoHandle {
		return NoColor
	}
	return ColorKey(handleHash(arena.Get(c.Owner)))
}

// handleHash hashes the identity of an interval (its byte range and the
// timestamp it was allocated at, which together are unique across the
// trace) with a fast, deterministic, non-cryptographic 64-bit hash. This is
// the same hash family used elsewhere in this codebase for high-throughput
// keying, applied here so that two renders of the same allocation always
// land on the same color bucket.
func handleHash(iv interval.Interval) uint64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], iv.Start)
	binary.LittleEndian.PutUint64(buf[8:16], iv.Stop)
	binary.LittleEndian.PutUint64(buf[16:24], iv.AllocTS)
	return farm.Hash64(buf[:])
}
