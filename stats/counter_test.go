package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grailbio/heapviz/event"
)

func alloc(addr, size, ts uint64) event.Event {
	return event.Event{Kind: event.Alloc, Address: addr, Size: size, Timestamp: ts}
}

func free(addr, size, ts uint64) event.Event {
	return event.Event{Kind: event.Free, Address: addr, Size: size, Timestamp: ts}
}

func TestSingleAllocFreePair(t *testing.T) {
	c := NewCounter(0, 1<<20, 0, 0)
	s1 := c.Push(alloc(0, 20, 0))
	assert.Equal(t, uint64(1), s1.DistinctBlocks)
	assert.Equal(t, int64(20), s1.UsageBytes)

	s2 := c.Push(free(0, 20, 1))
	assert.Equal(t, uint64(0), s2.DistinctBlocks)
	assert.Equal(t, int64(0), s2.UsageBytes)
}

func TestAdjacentAllocationsCoalesce(t *testing.T) {
	c := NewCounter(0, 100, 0, 0)
	c.Push(alloc(0, 16, 0))
	s := c.Push(alloc(16, 16, 1))
	assert.Equal(t, uint64(1), s.DistinctBlocks)

	blocks := c.FreeBlockList()
	assert.Len(t, blocks, 1)
	assert.Equal(t, FreeBlock{Start: 32, Stop: 100}, blocks[0])
}

func TestSplitByFree(t *testing.T) {
	c := NewCounter(0, 1000, 0, 0)
	s1 := c.Push(alloc(0, 64, 0))
	assert.Equal(t, uint64(1), s1.DistinctBlocks)

	s2 := c.Push(alloc(64, 64, 1))
	assert.Equal(t, uint64(1), s2.DistinctBlocks)

	s3 := c.Push(free(64, 64, 2))
	assert.Equal(t, uint64(2), s3.DistinctBlocks)

	s4 := c.Push(alloc(64, 64, 3))
	assert.Equal(t, uint64(1), s4.DistinctBlocks)
}

func TestFragmentationScenario(t *testing.T) {
	c := NewCounter(0, 100, 0, 0)
	c.Push(alloc(0, 10, 0))
	c.Push(alloc(50, 10, 1))
	s := c.Push(alloc(90, 10, 2))

	blocks := c.FreeBlockList()
	assert.Equal(t, []FreeBlock{{10, 50}, {60, 90}}, blocks)
	assert.Equal(t, uint64(40), s.LargestFreeBlock)
	assert.Equal(t, uint64(0), s.FreeSegmentFragmentation)
	assert.Equal(t, uint64(2), s.FreeBlocks)
}

func TestFreeSpaceConservation(t *testing.T) {
	c := NewCounter(0, 200, 0, 0)
	c.Push(alloc(0, 50, 0))
	s := c.Push(alloc(100, 50, 1))

	var liveBytes uint64 = 100
	var freeSpace uint64
	for _, b := range c.FreeBlockList() {
		freeSpace += b.Size()
	}
	assert.Equal(t, uint64(200), freeSpace+liveBytes)
	assert.Equal(t, uint64(2), s.DistinctBlocks)
}

func TestPaddingClampsAtZero(t *testing.T) {
	c := NewCounter(0, 100, 8, 0)
	// An allocation at address 4 with left padding 8 would underflow;
	// it must clamp to zero rather than wrap.
	assert.NotPanics(t, func() {
		c.Push(alloc(4, 4, 0))
	})
}

func TestOneBigFreeBlockHasZeroFragmentation(t *testing.T) {
	c := NewCounter(0, 1000, 0, 0)
	s := c.Snapshot()
	assert.Equal(t, uint64(0), s.FreeSegmentFragmentation)
	assert.Equal(t, uint64(1000), s.LargestFreeBlock)
	_ = s
}
