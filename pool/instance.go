// Package pool orchestrates the statistics series, interval index, and
// temporal cache for a single memory pool, and exposes the query API the
// viewer host calls into.
package pool

import (
	"sort"

	"github.com/grailbio/heapviz/cache"
	"github.com/grailbio/heapviz/canvas"
	"github.com/grailbio/heapviz/event"
	"github.com/grailbio/heapviz/interval"
	"github.com/grailbio/heapviz/stats"
)

// Point is one sample of a statistics series: T is an event index (or, for
// the Sampled variants, the original wall-clock timestamp); V is the
// statistic's value at that point.
type Point struct {
	T, V float64
}

// Instance holds everything derived from one pool's event stream: the
// resampled events, the precomputed statistics series, the interval index,
// and the temporal cache.
type Instance struct {
	descriptor event.PoolDescriptor
	leftPad    uint64
	rightPad   uint64

	// rawEvents are exactly as loaded, in time order; originalTS[i] is
	// rawEvents[i].Timestamp before resampling.
	rawEvents  []event.Event
	originalTS []uint64

	// paddedEvents mirror rawEvents with Address/Size adjusted by
	// leftPad/rightPad, and Timestamp resampled to the dense event index
	// so cache math is exact.
	paddedEvents []event.Event

	arena        *interval.Arena
	handles      []interval.Handle
	overlapIndex *interval.OverlapIndex

	// statsSeries[0] is the state before any event is applied;
	// statsSeries[i+1] is the state after paddedEvents[i] is applied.
	statsSeries []stats.Snapshot

	blockSize uint64
	cache     *cache.Cache
}

// New builds an Instance for one pool from its time-ordered raw events.
func New(descriptor event.PoolDescriptor, rawEvents []event.Event, leftPad, rightPad, blockSize uint64) *Instance {
	inst := &Instance{
		descriptor: descriptor,
		leftPad:    leftPad,
		rightPad:   rightPad,
		rawEvents:  rawEvents,
		blockSize:  blockSize,
	}
	inst.resample()
	inst.buildIndex()
	inst.buildStats()
	inst.buildCache()
	return inst
}

func (inst *Instance) resample() {
	n := len(inst.rawEvents)
	inst.originalTS = make([]uint64, n)
	inst.paddedEvents = make([]event.Event, n)
	for i, e := range inst.rawEvents {
		inst.originalTS[i] = e.Timestamp
		padded := e
		padded.Address = event.ClampSub(e.Address, inst.leftPad)
		padded.Size = (e.Address + e.Size + inst.rightPad) - padded.Address
		padded.Timestamp = uint64(i)
		inst.paddedEvents[i] = padded
	}
}

func (inst *Instance) buildIndex() {
	inst.arena = &interval.Arena{}
	f := interval.NewFactory(inst.arena)
	inst.handles = f.Build(inst.paddedEvents)
	inst.overlapIndex = interval.NewOverlapIndex(inst.arena, inst.handles)
}

func (inst *Instance) buildStats() {
	counter := stats.NewCounter(inst.descriptor.Start, inst.descriptor.Stop(), 0, 0)
	series := make([]stats.Snapshot, 0, len(inst.paddedEvents)+1)
	series = append(series, counter.Snapshot())
	for _, e := range inst.paddedEvents {
		series = append(series, counter.Push(e))
	}
	inst.statsSeries = series
}

func (inst *Instance) buildCache() {
	c, err := cache.Build(inst.arena, inst.handles, uint64(len(inst.paddedEvents)),
		inst.descriptor.Start, inst.descriptor.Stop(), inst.blockSize, cache.DefaultInterval)
	if err != nil {
		// Cache construction cannot fail for a well-formed instance: the
		// only failure modes are gob/snappy encoding errors over data
		// this package itself produced.
		panic(err)
	}
	inst.cache = c
}

// numEvents returns the resampled event count.
func (inst *Instance) numEvents() uint64 {
	return uint64(len(inst.paddedEvents))
}

// clampIndex implements OutOfBoundsTimestamp: silently clamp to [0, last].
func (inst *Instance) clampIndex(t uint64) uint64 {
	if last := inst.numEvents(); t > last {
		return last
	}
	return t
}

func (inst *Instance) series(sel func(stats.Snapshot) float64) []Point {
	out := make([]Point, len(inst.statsSeries))
	for i, s := range inst.statsSeries {
		out[i] = Point{T: float64(i), V: sel(s)}
	}
	return out
}

// noFallbacks filters a series down to its first point and every point
// whose value differs from the previous one kept.
func noFallbacks(points []Point) []Point {
	if len(points) == 0 {
		return nil
	}
	out := []Point{points[0]}
	for _, p := range points[1:] {
		if p.V != out[len(out)-1].V {
			out = append(out, p)
		}
	}
	return out
}

// sampled rewrites each point's T from event index back to the original
// wall-clock timestamp it was resampled from. Point 0 (the pre-event state)
// maps to timestamp 0; point i (1-indexed into the event stream) maps to
// originalTS[i-1].
func (inst *Instance) sampled(points []Point) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		idx := int(p.T)
		var ts uint64
		if idx > 0 && idx-1 < len(inst.originalTS) {
			ts = inst.originalTS[idx-1]
		}
		out[i] = Point{T: float64(ts), V: p.V}
	}
	return out
}

func usageSel(s stats.Snapshot) float64       { return float64(s.UsageBytes) }
func distinctSel(s stats.Snapshot) float64    { return float64(s.DistinctBlocks) }
func freeBlocksSel(s stats.Snapshot) float64  { return float64(s.FreeBlocks) }
func largestFreeSel(s stats.Snapshot) float64 { return float64(s.LargestFreeBlock) }
func fragSel(s stats.Snapshot) float64        { return float64(s.FreeSegmentFragmentation) }

// UsageSeries returns the live-byte-usage series over every event index.
func (inst *Instance) UsageSeries() []Point { return inst.series(usageSel) }

// UsageSeriesNoFallbacks returns UsageSeries filtered to only the points
// where usage actually changed.
func (inst *Instance) UsageSeriesNoFallbacks() []Point { return noFallbacks(inst.UsageSeries()) }

// UsageSeriesSampled returns UsageSeries with T mapped back to original
// wall-clock timestamps.
func (inst *Instance) UsageSeriesSampled() []Point { return inst.sampled(inst.UsageSeries()) }

// DistinctBlocksSeries returns the distinct-live-block-count series.
func (inst *Instance) DistinctBlocksSeries() []Point { return inst.series(distinctSel) }

// DistinctBlocksSeriesNoFallbacks filters DistinctBlocksSeries to changed points.
func (inst *Instance) DistinctBlocksSeriesNoFallbacks() []Point {
	return noFallbacks(inst.DistinctBlocksSeries())
}

// DistinctBlocksSeriesSampled maps DistinctBlocksSeries back to wall-clock time.
func (inst *Instance) DistinctBlocksSeriesSampled() []Point {
	return inst.sampled(inst.DistinctBlocksSeries())
}

// FreeBlocksSeries returns the free-block-count series.
func (inst *Instance) FreeBlocksSeries() []Point { return inst.series(freeBlocksSel) }

// FreeBlocksSeriesNoFallbacks filters FreeBlocksSeries to changed points.
func (inst *Instance) FreeBlocksSeriesNoFallbacks() []Point {
	return noFallbacks(inst.FreeBlocksSeries())
}

// FreeBlocksSeriesSampled maps FreeBlocksSeries back to wall-clock time.
func (inst *Instance) FreeBlocksSeriesSampled() []Point {
	return inst.sampled(inst.FreeBlocksSeries())
}

// LargestFreeBlockSeries returns the largest-free-block series.
func (inst *Instance) LargestFreeBlockSeries() []Point { return inst.series(largestFreeSel) }

// LargestFreeBlockSeriesNoFallbacks filters LargestFreeBlockSeries to changed points.
func (inst *Instance) LargestFreeBlockSeriesNoFallbacks() []Point {
	return noFallbacks(inst.LargestFreeBlockSeries())
}

// LargestFreeBlockSeriesSampled maps LargestFreeBlockSeries back to wall-clock time.
func (inst *Instance) LargestFreeBlockSeriesSampled() []Point {
	return inst.sampled(inst.LargestFreeBlockSeries())
}

// FreeSegmentFragmentationSeries returns the fragmentation series.
func (inst *Instance) FreeSegmentFragmentationSeries() []Point { return inst.series(fragSel) }

// FreeSegmentFragmentationSeriesNoFallbacks filters the fragmentation series to changed points.
func (inst *Instance) FreeSegmentFragmentationSeriesNoFallbacks() []Point {
	return noFallbacks(inst.FreeSegmentFragmentationSeries())
}

// FreeSegmentFragmentationSeriesSampled maps the fragmentation series back to wall-clock time.
func (inst *Instance) FreeSegmentFragmentationSeriesSampled() []Point {
	return inst.sampled(inst.FreeSegmentFragmentationSeries())
}

// ColorCell is one painted cell of a MapAt response.
type ColorCell struct {
	Color int64
	Cell  uint64
	Used  int
}

// MapAt queries the temporal cache at event index t and returns the
// painted cells, truncated to the first truncateAfter cells (0 means no
// truncation), along with the maximum original wall-clock timestamp this
// instance ever saw.
func (inst *Instance) MapAt(t uint64, truncateAfter int) (maxTimestamp uint64, cells []ColorCell, err error) {
	t = inst.clampIndex(t)
	c, qerr := inst.cache.Query(t)
	if qerr != nil {
		return 0, nil, qerr
	}
	n := len(c.Cells)
	if truncateAfter > 0 && truncateAfter < n {
		n = truncateAfter
	}
	cells = make([]ColorCell, n)
	for i := 0; i < n; i++ {
		cell := c.Cells[i]
		cells[i] = ColorCell{
			Color: int64(cell.Color(inst.arena)),
			Cell:  uint64(i),
			Used:  int(cell.UsedBytes),
		}
	}
	if len(inst.originalTS) > 0 {
		maxTimestamp = inst.originalTS[len(inst.originalTS)-1]
	}
	return maxTimestamp, cells, nil
}

// QueryBlock returns the full history of events whose byte range contains
// address, restricted to intervals allocated at or before t, sorted
// ascending by timestamp. Addresses and sizes are reported in original
// (padding-reversed) form.
func (inst *Instance) QueryBlock(address uint64, t uint64) []event.Event {
	t = inst.clampIndex(t)
	paddedAddr := event.ClampSub(address, inst.leftPad)
	found := inst.overlapIndex.Find(paddedAddr, paddedAddr+1)

	type rec struct {
		ts uint64
		e  event.Event
	}
	var recs []rec
	for _, iv := range found {
		if iv.AllocTS > t {
			continue
		}
		recs = append(recs, rec{ts: iv.AllocTS, e: inst.unpad(iv.Alloc)})
		if iv.Free != nil && iv.FreeTS <= t {
			recs = append(recs, rec{ts: iv.FreeTS, e: inst.unpad(*iv.Free)})
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ts > recs[j].ts })
	// Reverse to restore stable ascending order, per the spec's
	// descending-then-reversed construction.
	out := make([]event.Event, len(recs))
	for i, r := range recs {
		out[len(recs)-1-i] = r.e
	}
	return out
}

// unpad reverses the load-time padding shift for display, clamping at zero
// rather than underflowing.
func (inst *Instance) unpad(e event.Event) event.Event {
	e.Address = e.Address + inst.leftPad
	e.Size = event.ClampSub(e.Size, inst.leftPad+inst.rightPad)
	return e
}

// DefaultOperationLogWindow is the window size used when a caller doesn't
// override it: the most recent 128 operations.
const DefaultOperationLogWindow = 128

// OperationHistory returns the last window operations, address/size
// compensated for display using the supplied leftPad/rightPad (which need
// not match the padding baked in at load time — callers may re-render the
// same history under different compensation), with timestamps restored to
// their original wall-clock values. window <= 0 falls back to
// DefaultOperationLogWindow.
func (inst *Instance) OperationHistory(leftPad, rightPad uint64, window int) []event.Event {
	n := len(inst.paddedEvents)
	if window <= 0 {
		window = DefaultOperationLogWindow
	}
	if window > n {
		window = n
	}
	start := n - window
	out := make([]event.Event, window)
	for i, e := range inst.paddedEvents[start:] {
		e.Address = e.Address + leftPad
		e.Size = event.ClampSub(e.Size, leftPad+rightPad)
		e.Timestamp = inst.originalTS[start+i]
		out[i] = e
	}
	return out
}

// eventIndexAtRealtime maps a wall-clock timestamp to the event index whose
// cache/stats state reflects every event recorded at or before that
// timestamp — the inverse of sampled's event-index-to-wall-clock mapping.
func (inst *Instance) eventIndexAtRealtime(wallClock uint64) uint64 {
	return uint64(sort.Search(len(inst.originalTS), func(i int) bool {
		return inst.originalTS[i] > wallClock
	}))
}

// MapAtRealtimeSampled is MapAt with t expressed as a wall-clock timestamp
// rather than an event index.
func (inst *Instance) MapAtRealtimeSampled(wallClock uint64, truncateAfter int) (uint64, []ColorCell, error) {
	return inst.MapAt(inst.eventIndexAtRealtime(wallClock), truncateAfter)
}

// QueryBlockRealtime is QueryBlock with t expressed as a wall-clock
// timestamp rather than an event index.
func (inst *Instance) QueryBlockRealtime(address, wallClock uint64) []event.Event {
	// QueryBlock's t is an inclusive event index, so it takes the index of
	// the last event at or before wallClock, one less than the event count.
	n := inst.eventIndexAtRealtime(wallClock)
	if n == 0 {
		return nil
	}
	return inst.QueryBlock(address, n-1)
}

// SetBlockSize rebuilds the temporal cache with a new block size. The event
// list and cache interval are unchanged.
func (inst *Instance) SetBlockSize(blockSize uint64) error {
	c, err := cache.Rebuild(inst.arena, inst.handles, inst.numEvents(),
		inst.descriptor.Start, inst.descriptor.Stop(), blockSize, inst.cache)
	if err != nil {
		return err
	}
	inst.blockSize = blockSize
	inst.cache = c
	return nil
}

// Descriptor returns the pool this instance was built for.
func (inst *Instance) Descriptor() event.PoolDescriptor { return inst.descriptor }

// BlankCanvas returns an empty canvas at the instance's current block size,
// used by callers that want the Unused/Free(nil) boundary shape without a
// cache query.
func (inst *Instance) BlankCanvas() canvas.Canvas {
	return canvas.New(inst.descriptor.Start, inst.descriptor.Stop(), inst.blockSize)
}
