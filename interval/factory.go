package interval

import (
	"sync"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/log"

	"github.com/grailbio/heapviz/event"
)

// numPairingShards controls how many independent locks addressShardedMap
// uses. The pairing algorithm itself runs single-threaded over one pool's
// event stream, so addresses spread over every shard but the locks are never
// contended in practice; the sharding exists so per-pool construction can be
// parallelized later without changing this type's contract.
const numPairingShards = 64

type pairingShard struct {
	mu      sync.Mutex
	pending map[uint64]event.Event
}

// addressShardedMap is a sharded address -> most-recent-alloc map, mirroring
// the sharded name -> record map this codebase already uses for mate-record
// lookups, keyed here by a fast non-cryptographic hash of the address
// instead of a string.
type addressShardedMap struct {
	shards [numPairingShards]pairingShard
}

func newAddressShardedMap() *addressShardedMap {
	m := &addressShardedMap{}
	for i := range m.shards {
		m.shards[i].pending = make(map[uint64]event.Event)
	}
	return m
}

func (m *addressShardedMap) shardFor(addr uint64) *pairingShard {
	var buf [8]byte
	buf[0] = byte(addr)
	buf[1] = byte(addr >> 8)
	buf[2] = byte(addr >> 16)
	buf[3] = byte(addr >> 24)
	buf[4] = byte(addr >> 32)
	buf[5] = byte(addr >> 40)
	buf[6] = byte(addr >> 48)
	buf[7] = byte(addr >> 56)
	h := seahash.Sum64(buf[:])
	return &m.shards[h%uint64(len(m.shards))]
}

func (m *addressShardedMap) put(addr uint64, e event.Event) {
	s := m.shardFor(addr)
	s.mu.Lock()
	s.pending[addr] = e
	s.mu.Unlock()
}

func (m *addressShardedMap) get(addr uint64) (event.Event, bool) {
	s := m.shardFor(addr)
	s.mu.Lock()
	e, ok := s.pending[addr]
	s.mu.Unlock()
	return e, ok
}

func (m *addressShardedMap) delete(addr uint64) {
	s := m.shardFor(addr)
	s.mu.Lock()
	delete(s.pending, addr)
	s.mu.Unlock()
}

// remaining returns every still-pending (unmatched) alloc, in no particular
// order, used at end-of-stream to emit intervals for allocations that were
// never freed.
func (m *addressShardedMap) remaining() []event.Event {
	var out []event.Event
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for _, e := range s.pending {
			out = append(out, e)
		}
		s.mu.Unlock()
	}
	return out
}

// Factory pairs Alloc and Free events into lifetime Intervals.
type Factory struct {
	arena *Arena
}

// NewFactory returns a Factory that stores intervals in arena.
func NewFactory(arena *Arena) *Factory {
	return &Factory{arena: arena}
}

// Build runs the pairing algorithm over events, which must already be in
// time order, and returns one Interval per Alloc (matched or not), appending
// each to the factory's arena.
//
// Pairing: an Alloc installs itself as the "most recent alloc" for its
// address. A Free looks up that address; if found, it closes the interval
// at the Free's timestamp and clears the entry. If a second Alloc arrives
// for an address that's already pending (a lost free — the trace never
// recorded the corresponding Free), the prior interval is closed at
// timestamp-1 before the new Alloc is installed. Any entries still pending
// at end-of-stream are emitted as still-live, with FreeTS = lastTS+1.
func (f *Factory) Build(events []event.Event) []Handle {
	pending := newAddressShardedMap()
	handles := make([]Handle, 0, len(events))
	var lastTS uint64

	for _, e := range events {
		if e.Timestamp > lastTS {
			lastTS = e.Timestamp
		}
		switch e.Kind {
		case event.Alloc:
			if prior, ok := pending.get(e.Address); ok {
				closeTS := e.Timestamp
				if closeTS > 0 {
					closeTS--
				}
				h := f.arena.Add(Interval{
					Start:   prior.Address,
					Stop:    prior.End(),
					AllocTS: prior.Timestamp,
					FreeTS:  closeTS,
					Alloc:   prior,
				})
				handles = append(handles, h)
			}
			pending.put(e.Address, e)
		case event.Free:
			prior, ok := pending.get(e.Address)
			if !ok {
				log.Debug.Printf("[interval.Factory.Build]: free at %#x with no matching alloc, skipping", e.Address)
				continue
			}
			free := e
			h := f.arena.Add(Interval{
				Start:   prior.Address,
				Stop:    prior.End(),
				AllocTS: prior.Timestamp,
				FreeTS:  free.Timestamp,
				Alloc:   prior,
				Free:    &free,
			})
			handles = append(handles, h)
			pending.delete(e.Address)
		}
	}

	for _, prior := range pending.remaining() {
		h := f.arena.Add(Interval{
			Start:   prior.Address,
			Stop:    prior.End(),
			AllocTS: prior.Timestamp,
			FreeTS:  lastTS + 1,
			Alloc:   prior,
		})
		handles = append(handles, h)
	}
	return handles
}
