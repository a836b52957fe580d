// Package trace owns everything the core statistics/canvas/cache engine
// treats as an external collaborator: reading a trace log (optionally
// gzip-compressed or s3-hosted), tokenizing it into alloc/free records,
// resolving return addresses to symbolic frames, and discovering which
// pool each address belongs to.
package trace

import (
	"context"

	"github.com/grailbio/heapviz/event"
)

// PoolEvents is one pool's worth of parsed trace records, time-ordered.
type PoolEvents struct {
	Pool         event.PoolDescriptor
	Events       []event.Event
	MaxTimestamp uint64
}

// Parser is the narrow contract the loader depends on, so that any
// implementation — a real log tokenizer, or a synthetic one built in a
// test — can stand in for it.
type Parser interface {
	Parse(ctx context.Context, logPath, binaryPath string, leftPad, rightPad uint64) ([]PoolEvents, error)
}
