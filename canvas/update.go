package canvas

import "github.com/grailbio/heapviz/interval"

// Update is one temporal delta to apply on top of a base canvas snapshot:
// either the arrival (Grow) or departure (!Grow) of coverage by Handle over
// [Start, Stop). The temporal cache builds these from the pending events
// between a snapshot boundary and the queried timestamp, so that a query can
// be answered by cloning the nearest snapshot and replaying a short tail
// instead of rebuilding the whole canvas from event zero.
type Update struct {
	Handle interval.Handle
	Start  uint64
	Stop   uint64
	Grow   bool
}

// PaintTemporaryUpdates applies a sequence of updates in order. It is the
// canvas-side half of the temporal cache's snapshot-plus-replay query path.
func (c *Canvas) PaintTemporaryUpdates(updates []Update) {
	for _, u := range updates {
		c.paintRange(u.Handle, u.Start, u.Stop, u.Grow)
	}
}
