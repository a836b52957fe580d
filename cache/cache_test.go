package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/heapviz/canvas"
	"github.com/grailbio/heapviz/event"
	"github.com/grailbio/heapviz/interval"
)

// buildScenario mirrors the cache-consistency scenario: 17 alloc/free events
// over a 100-byte pool, cache interval 4, verified by comparing every
// event-index query against a cold rebuild via canvas.InsertBlocks.
func buildScenario(t *testing.T) (*Cache, *interval.Arena, []interval.Handle, []event.Event) {
	t.Helper()
	raw := []event.Event{
		{Kind: event.Alloc, Address: 0, Size: 8, Timestamp: 0},
		{Kind: event.Alloc, Address: 8, Size: 8, Timestamp: 1},
		{Kind: event.Free, Address: 0, Size: 8, Timestamp: 2},
		{Kind: event.Alloc, Address: 16, Size: 8, Timestamp: 3},
		{Kind: event.Free, Address: 8, Size: 8, Timestamp: 4},
		{Kind: event.Alloc, Address: 24, Size: 8, Timestamp: 5},
		{Kind: event.Alloc, Address: 32, Size: 8, Timestamp: 6},
		{Kind: event.Free, Address: 16, Size: 8, Timestamp: 7},
		{Kind: event.Free, Address: 24, Size: 8, Timestamp: 8},
		{Kind: event.Alloc, Address: 40, Size: 8, Timestamp: 9},
		{Kind: event.Free, Address: 32, Size: 8, Timestamp: 10},
		{Kind: event.Alloc, Address: 48, Size: 8, Timestamp: 11},
		{Kind: event.Free, Address: 40, Size: 8, Timestamp: 12},
		{Kind: event.Alloc, Address: 56, Size: 8, Timestamp: 13},
		{Kind: event.Free, Address: 48, Size: 8, Timestamp: 14},
		{Kind: event.Free, Address: 56, Size: 8, Timestamp: 15},
		{Kind: event.Alloc, Address: 0, Size: 16, Timestamp: 16},
	}
	arena := &interval.Arena{}
	f := interval.NewFactory(arena)
	handles := f.Build(raw)

	c, err := Build(arena, handles, uint64(len(raw)), 0, 100, 8, 4)
	require.NoError(t, err)
	return c, arena, handles, raw
}

// coldCanvasAt rebuilds from scratch the canvas after the first t events
// (the state Query(t) returns), for comparison: an interval allocated at
// index t is not yet applied.
func coldCanvasAt(arena *interval.Arena, handles []interval.Handle, t uint64) canvas.Canvas {
	var live []interval.Handle
	for _, h := range handles {
		iv := arena.Get(h)
		if iv.AllocTS < t && iv.Live(t) {
			live = append(live, h)
		}
	}
	c := canvas.New(0, 100, 8)
	c.InsertBlocks(arena, live)
	return c
}

func TestCacheQueryMatchesColdRebuildAtEverySnapshotBoundary(t *testing.T) {
	c, arena, handles, raw := buildScenario(t)
	for k := uint64(0); k*4 <= uint64(len(raw)); k++ {
		t0 := k * 4
		got, err := c.Query(t0)
		require.NoError(t, err)
		want := coldCanvasAt(arena, handles, t0)
		assertSameShape(t, want, got, t0)
	}
}

func TestCacheQueryMatchesColdRebuildMidBucket(t *testing.T) {
	c, arena, handles, raw := buildScenario(t)
	for t0 := uint64(0); t0 < uint64(len(raw)); t0++ {
		got, err := c.Query(t0)
		require.NoError(t, err)
		want := coldCanvasAt(arena, handles, t0)
		assertSameShape(t, want, got, t0)
	}
}

func assertSameShape(t *testing.T, want, got canvas.Canvas, t0 uint64) {
	t.Helper()
	require.Len(t, got.Cells, len(want.Cells))
	for i := range want.Cells {
		assert.Equalf(t, want.Cells[i].Kind, got.Cells[i].Kind, "t=%d cell=%d", t0, i)
	}
}

func TestCacheQueryClampsPastEnd(t *testing.T) {
	c, _, _, raw := buildScenario(t)
	_, err := c.Query(uint64(len(raw)) + 1000)
	assert.NoError(t, err)
}

func TestCacheRebuildWithNewBlockSize(t *testing.T) {
	c, arena, handles, raw := buildScenario(t)
	rebuilt, err := Rebuild(arena, handles, uint64(len(raw)), 0, 100, 4, c)
	require.NoError(t, err)

	got, err := rebuilt.Query(8)
	require.NoError(t, err)
	assert.Len(t, got.Cells, 25)
}
