package interval

import "github.com/grailbio/heapviz/event"

// Interval is a half-open byte range paired with the Alloc event that
// created it and the Free event that ended it (nil if it was still live at
// the end of the trace). Start < Stop always holds.
type Interval struct {
	Start, Stop uint64
	AllocTS     uint64
	FreeTS      uint64
	Alloc       event.Event
	Free        *event.Event
}

// Live reports whether the interval is live (covers t) at event-index t.
// FreeTS is the timestamp at which the block was freed, inclusive, matching
// the [allocTS, freeTS] closed-interval convention used throughout this
// package.
func (iv Interval) Live(t uint64) bool {
	return iv.AllocTS <= t && t <= iv.FreeTS
}

// Size returns Stop-Start.
func (iv Interval) Size() uint64 {
	return iv.Stop - iv.Start
}

// Arena is a flat, append-only store of intervals. Canvas cells and overlap
// index nodes reference intervals by Handle rather than by pointer, so that
// a cell's "most recent allocator" is a stable, cheap, copyable value with
// no reference-cycle concerns.
type Arena struct {
	intervals []Interval
}

// Handle is a stable index into an Arena.
type Handle int32

// NoHandle is the zero value meaning "no interval referenced".
const NoHandle Handle = -1

// Add appends iv to the arena and returns its handle.
func (a *Arena) Add(iv Interval) Handle {
	a.intervals = append(a.intervals, iv)
	return Handle(len(a.intervals) - 1)
}

// Get dereferences a handle. It panics on NoHandle, matching the
// slice-index-out-of-range behavior callers already expect near arenas.
func (a *Arena) Get(h Handle) Interval {
	return a.intervals[h]
}

// Len returns the number of intervals stored.
func (a *Arena) Len() int {
	return len(a.intervals)
}
