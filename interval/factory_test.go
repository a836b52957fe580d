package interval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grailbio/heapviz/event"
)

func evt(kind event.Kind, addr, size, ts uint64) event.Event {
	return event.Event{Kind: kind, Address: addr, Size: size, Timestamp: ts}
}

func TestFactorySingleAllocFreePair(t *testing.T) {
	arena := &Arena{}
	f := NewFactory(arena)
	handles := f.Build([]event.Event{
		evt(event.Alloc, 0, 20, 0),
		evt(event.Free, 0, 0, 1),
	})

	assert.Len(t, handles, 1)
	iv := arena.Get(handles[0])
	assert.Equal(t, uint64(0), iv.Start)
	assert.Equal(t, uint64(20), iv.Stop)
	assert.Equal(t, uint64(0), iv.AllocTS)
	assert.Equal(t, uint64(1), iv.FreeTS)
	assert.NotNil(t, iv.Free)
}

func TestFactoryUnmatchedAllocExtendsToEnd(t *testing.T) {
	arena := &Arena{}
	f := NewFactory(arena)
	handles := f.Build([]event.Event{
		evt(event.Alloc, 100, 16, 5),
	})
	assert.Len(t, handles, 1)
	iv := arena.Get(handles[0])
	assert.Equal(t, uint64(6), iv.FreeTS)
	assert.Nil(t, iv.Free)
}

func TestFactoryFreeWithoutAllocIsSkipped(t *testing.T) {
	arena := &Arena{}
	f := NewFactory(arena)
	handles := f.Build([]event.Event{
		evt(event.Free, 64, 0, 0),
	})
	assert.Empty(t, handles)
}

func TestFactoryLostFreeClosesPriorAlloc(t *testing.T) {
	arena := &Arena{}
	f := NewFactory(arena)
	handles := f.Build([]event.Event{
		evt(event.Alloc, 0, 10, 0),
		evt(event.Alloc, 0, 10, 4),
	})
	// the first alloc is closed at ts=3 (lost free), the second is still
	// live and extends to lastTS+1.
	assert.Len(t, handles, 2)
	first := arena.Get(handles[0])
	assert.Equal(t, uint64(0), first.AllocTS)
	assert.Equal(t, uint64(3), first.FreeTS)
	second := arena.Get(handles[1])
	assert.Equal(t, uint64(4), second.AllocTS)
	assert.Equal(t, uint64(5), second.FreeTS)
}
