package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/heapviz/event"
)

func rawEvt(kind event.Kind, addr, size, ts uint64) event.Event {
	return event.Event{Kind: kind, Address: addr, Size: size, Timestamp: ts}
}

func testDescriptor() event.PoolDescriptor {
	return event.PoolDescriptor{Name: "heap", Start: 0, Size: 100}
}

func TestInstanceUsageSeriesTracksLiveBytes(t *testing.T) {
	events := []event.Event{
		rawEvt(event.Alloc, 0, 20, 100),
		rawEvt(event.Free, 0, 20, 200),
	}
	inst := New(testDescriptor(), events, 0, 0, 10)

	series := inst.UsageSeries()
	require.Len(t, series, 3)
	assert.Equal(t, 0.0, series[0].V)
	assert.Equal(t, 20.0, series[1].V)
	assert.Equal(t, 0.0, series[2].V)
}

func TestInstanceUsageSeriesSampledRestoresWallClock(t *testing.T) {
	events := []event.Event{
		rawEvt(event.Alloc, 0, 20, 100),
		rawEvt(event.Free, 0, 20, 200),
	}
	inst := New(testDescriptor(), events, 0, 0, 10)

	sampled := inst.UsageSeriesSampled()
	require.Len(t, sampled, 3)
	assert.Equal(t, 0.0, sampled[0].T)
	assert.Equal(t, 100.0, sampled[1].T)
	assert.Equal(t, 200.0, sampled[2].T)
}

func TestInstanceNoFallbacksDropsUnchangedPoints(t *testing.T) {
	events := []event.Event{
		rawEvt(event.Alloc, 0, 20, 0),
		rawEvt(event.Alloc, 32, 20, 1),
		rawEvt(event.Free, 0, 20, 2),
	}
	inst := New(testDescriptor(), events, 0, 0, 10)

	full := inst.DistinctBlocksSeries()
	filtered := inst.DistinctBlocksSeriesNoFallbacks()
	assert.LessOrEqual(t, len(filtered), len(full))
	for i := 1; i < len(filtered); i++ {
		assert.NotEqual(t, filtered[i-1].V, filtered[i].V)
	}
}

func TestInstanceMapAtZeroIsAllFree(t *testing.T) {
	events := []event.Event{rawEvt(event.Alloc, 0, 20, 0)}
	inst := New(testDescriptor(), events, 0, 0, 10)

	_, cells, err := inst.MapAt(0, 0)
	require.NoError(t, err)
	for _, c := range cells {
		assert.Equal(t, int64(0), c.Color)
	}
}

func TestInstanceMapAtTruncatesCellCount(t *testing.T) {
	events := []event.Event{rawEvt(event.Alloc, 0, 100, 0)}
	inst := New(testDescriptor(), events, 0, 0, 10)

	_, cells, err := inst.MapAt(1, 3)
	require.NoError(t, err)
	assert.Len(t, cells, 3)
}

func TestInstanceQueryBlockReturnsHistoryAscending(t *testing.T) {
	events := []event.Event{
		rawEvt(event.Alloc, 0, 16, 0),
		rawEvt(event.Free, 0, 16, 1),
		rawEvt(event.Alloc, 0, 16, 2),
	}
	inst := New(testDescriptor(), events, 0, 0, 10)

	hist := inst.QueryBlock(0, 2)
	require.Len(t, hist, 3)
	assert.Equal(t, event.Alloc, hist[0].Kind)
	assert.Equal(t, event.Free, hist[1].Kind)
	assert.Equal(t, event.Alloc, hist[2].Kind)
}

func TestInstanceOperationHistoryReturnsLastWindow(t *testing.T) {
	events := []event.Event{
		rawEvt(event.Alloc, 0, 16, 0),
		rawEvt(event.Free, 0, 16, 1),
		rawEvt(event.Alloc, 0, 16, 2),
	}
	inst := New(testDescriptor(), events, 0, 0, 10)

	hist := inst.OperationHistory(0, 0, 2)
	require.Len(t, hist, 2)
	assert.Equal(t, uint64(1), hist[0].Timestamp)
	assert.Equal(t, uint64(2), hist[1].Timestamp)
}

func TestInstanceOperationHistoryZeroWindowUsesDefault(t *testing.T) {
	events := []event.Event{
		rawEvt(event.Alloc, 0, 16, 0),
		rawEvt(event.Free, 0, 16, 1),
	}
	inst := New(testDescriptor(), events, 0, 0, 10)

	hist := inst.OperationHistory(0, 0, 0)
	assert.Len(t, hist, 2)
}

func TestInstanceOperationHistoryCompensatesCallerPadding(t *testing.T) {
	events := []event.Event{rawEvt(event.Alloc, 16, 16, 0)}
	inst := New(testDescriptor(), events, 0, 0, 10)

	hist := inst.OperationHistory(4, 2, 1)
	require.Len(t, hist, 1)
	assert.Equal(t, uint64(20), hist[0].Address)
	assert.Equal(t, uint64(10), hist[0].Size)
}

func TestInstanceMapAtRealtimeSampledMapsTimestampToIndex(t *testing.T) {
	events := []event.Event{
		rawEvt(event.Alloc, 0, 20, 100),
		rawEvt(event.Free, 0, 20, 200),
	}
	inst := New(testDescriptor(), events, 0, 0, 10)

	_, cellsAtZero, err := inst.MapAt(0, 0)
	require.NoError(t, err)
	_, realtimeCells, err := inst.MapAtRealtimeSampled(50, 0)
	require.NoError(t, err)
	assert.Equal(t, cellsAtZero, realtimeCells)

	_, cellsAfterAlloc, err := inst.MapAt(1, 0)
	require.NoError(t, err)
	_, realtimeAfterAlloc, err := inst.MapAtRealtimeSampled(150, 0)
	require.NoError(t, err)
	assert.Equal(t, cellsAfterAlloc, realtimeAfterAlloc)
}

func TestInstanceQueryBlockRealtimeMapsTimestampToIndex(t *testing.T) {
	events := []event.Event{
		rawEvt(event.Alloc, 0, 16, 100),
		rawEvt(event.Free, 0, 16, 200),
	}
	inst := New(testDescriptor(), events, 0, 0, 10)

	atIndex := inst.QueryBlock(0, 0)
	atRealtime := inst.QueryBlockRealtime(0, 150)
	assert.Equal(t, atIndex, atRealtime)
}

func TestInstanceSetBlockSizeRebuildsCache(t *testing.T) {
	events := []event.Event{rawEvt(event.Alloc, 0, 100, 0)}
	inst := New(testDescriptor(), events, 0, 0, 10)

	require.NoError(t, inst.SetBlockSize(25))
	_, cells, err := inst.MapAt(0, 0)
	require.NoError(t, err)
	assert.Len(t, cells, 4)
}

func TestInstancePaddingCompensationClampsAtZero(t *testing.T) {
	events := []event.Event{rawEvt(event.Alloc, 4, 4, 0)}
	assert.NotPanics(t, func() {
		New(testDescriptor(), events, 8, 0, 10)
	})
}
