// Package cache implements the temporal cache: a sequence of compressed
// canvas snapshots taken at a fixed event-index interval, so that "the
// memory map at event index t" can be answered in expected O(I) time
// instead of replaying the whole event stream from zero.
package cache

import (
	"bytes"
	"encoding/gob"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/grailbio/heapviz/canvas"
	"github.com/grailbio/heapviz/interval"
)

// DefaultInterval is the cache interval used unless a caller overrides it:
// one snapshot every 1024 events, balancing snapshot memory against
// per-query replay cost.
const DefaultInterval = 1024

// snapshot is one compressed canvas plus the ordered canvas deltas that
// must be replayed to advance from it to any event index within its bucket.
type snapshot struct {
	start         uint64 // first event index this snapshot's bucket covers
	compressed    []byte // snappy-compressed, gob-encoded []canvas.Cell
	width, height uint64 // canvas bounds, needed to reconstruct without decompressing
	blockSize     uint64
	pending       []canvas.Update // one per event index in [start, start+interval)
}

// Cache is a sequence of canvas snapshots at event indices 0, I, 2I, ….
type Cache struct {
	interval uint64
	snaps    []snapshot
}

// Build constructs a Cache by bucketing events into runs of length interval,
// snapshotting the canvas before each bucket is folded in. arena and handles
// must already reflect the full, paired interval set for the pool, with
// events resampled so AllocTS/FreeTS double as dense event indices; numEvents
// is the length of that resampled event stream.
func Build(arena *interval.Arena, handles []interval.Handle, numEvents, start, stop, blockSize, cacheInterval uint64) (*Cache, error) {
	if cacheInterval == 0 {
		cacheInterval = DefaultInterval
	}
	c := &Cache{interval: cacheInterval}

	deltas := make([][]canvas.Update, numEvents+1)
	for _, h := range handles {
		iv := arena.Get(h)
		if iv.AllocTS < numEvents {
			deltas[iv.AllocTS] = append(deltas[iv.AllocTS], canvas.Update{Handle: h, Start: iv.Start, Stop: iv.Stop, Grow: true})
		}
		if iv.Free != nil && iv.FreeTS < numEvents {
			deltas[iv.FreeTS] = append(deltas[iv.FreeTS], canvas.Update{Handle: h, Start: iv.Start, Stop: iv.Stop, Grow: false})
		}
	}

	working := canvas.New(start, stop, blockSize)

	for k := uint64(0); k*cacheInterval <= numEvents; k++ {
		bucketStart := k * cacheInterval
		bucketEnd := bucketStart + cacheInterval
		if bucketEnd > numEvents {
			bucketEnd = numEvents
		}

		snap, err := newSnapshot(working, bucketStart)
		if err != nil {
			return nil, err
		}
		for idx := bucketStart; idx < bucketEnd; idx++ {
			if len(deltas[idx]) == 0 {
				// An event with no canvas effect (a free with no matching
				// alloc) still takes one replay slot, as an empty update.
				snap.pending = append(snap.pending, canvas.Update{Handle: interval.NoHandle})
				continue
			}
			snap.pending = append(snap.pending, deltas[idx]...)
		}
		c.snaps = append(c.snaps, snap)

		for idx := bucketStart; idx < bucketEnd; idx++ {
			working.PaintTemporaryUpdates(deltas[idx])
		}
		if bucketEnd >= numEvents {
			break
		}
	}
	return c, nil
}

func newSnapshot(c canvas.Canvas, start uint64) (snapshot, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c.Cells); err != nil {
		return snapshot{}, errors.Wrap(err, "cache: encoding canvas snapshot")
	}
	return snapshot{
		start:      start,
		compressed: snappy.Encode(nil, buf.Bytes()),
		width:      c.Stop,
		height:     c.Start,
		blockSize:  c.BlockSize,
	}, nil
}

func (s snapshot) decode() (canvas.Canvas, error) {
	raw, err := snappy.Decode(nil, s.compressed)
	if err != nil {
		return canvas.Canvas{}, errors.Wrap(err, "cache: decompressing canvas snapshot")
	}
	var cells []canvas.Cell
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&cells); err != nil {
		return canvas.Canvas{}, errors.Wrap(err, "cache: decoding canvas snapshot")
	}
	return canvas.Canvas{Start: s.height, Stop: s.width, BlockSize: s.blockSize, Cells: cells}, nil
}

// Query returns the canvas at event index t, that is, after the first t
// events have been applied: the nearest snapshot at or before t is
// decompressed, cloned, and the remainder of its bucket's deltas up to t are
// replayed onto the clone.
func (c *Cache) Query(t uint64) (canvas.Canvas, error) {
	if len(c.snaps) == 0 {
		return canvas.Canvas{}, errors.New("cache: empty cache")
	}
	k := t / c.interval
	if k >= uint64(len(c.snaps)) {
		k = uint64(len(c.snaps)) - 1
	}
	snap := c.snaps[k]

	base, err := snap.decode()
	if err != nil {
		return canvas.Canvas{}, err
	}
	working := base.Clone()

	replay := t - snap.start
	if replay > uint64(len(snap.pending)) {
		replay = uint64(len(snap.pending))
	}
	working.PaintTemporaryUpdates(snap.pending[:replay])
	return working, nil
}

// Rebuild discards all snapshots and reconstructs them with a new block
// size, keeping the same cache interval and event list. Callers must pass
// the same arena/handles/numEvents used for the original Build; only the
// block size (and hence the canvas dimensions) changes.
func Rebuild(arena *interval.Arena, handles []interval.Handle, numEvents, start, stop, newBlockSize uint64, existing *Cache) (*Cache, error) {
	return Build(arena, handles, numEvents, start, stop, newBlockSize, existing.interval)
}
