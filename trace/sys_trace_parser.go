package trace

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"

	"github.com/grailbio/heapviz/event"
	"github.com/grailbio/heapviz/space"
	"github.com/grailbio/heapviz/util"
)

var (
	poolHeaderLine = regexp.MustCompile(`^POOL\s+(\S+)\s+0x([0-9a-fA-F]+)\s+(\d+)\s*$`)
	eventLine      = regexp.MustCompile(`^(\d+)\s+(ALLOC|FREE)\s+0x([0-9a-fA-F]+)\s+(\d+)\s+(\S+)\s*$`)
)

// SymbolResolver turns a return address into a human-readable frame. The
// production resolver shells out to an external addr-to-line tool once per
// unique address and memoizes the result.
type SymbolResolver interface {
	Resolve(binaryPath string, addr uint64) (string, error)
}

// SysTraceParser is the production trace.Parser: a regex-driven line
// tokenizer that recognizes ALLOC/FREE records, resolves each record's
// return address to a symbolic frame, clusters near-duplicate frames, and
// groups the resulting events into pools by matching addresses against a
// pool-bounds table discovered from the log's header section.
type SysTraceParser struct {
	Resolver        SymbolResolver
	ClusterDistance int // max edit distance for frame clustering; 0 disables clustering
}

// NewSysTraceParser returns a SysTraceParser with the given resolver. If
// resolver is nil, return addresses are reported as raw hex (UnresolvedSymbol).
func NewSysTraceParser(resolver SymbolResolver) *SysTraceParser {
	return &SysTraceParser{Resolver: resolver, ClusterDistance: 2}
}

// Parse implements Parser.
func (p *SysTraceParser) Parse(ctx context.Context, logPath, binaryPath string, leftPad, rightPad uint64) ([]PoolEvents, error) {
	f, err := file.Open(ctx, logPath)
	if err != nil {
		return nil, errors.Wrapf(err, "trace: opening log %q", logPath)
	}
	defer f.Close(ctx) // nolint: errcheck

	var r io.Reader = f.Reader(ctx)
	if strings.HasSuffix(logPath, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "trace: ungzipping log %q", logPath)
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}

	var pools []event.PoolDescriptor
	var rawEvents []rawRecord
	cluster := util.NewCanonicalizer(p.ClusterDistance)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		if m := poolHeaderLine.FindStringSubmatch(line); m != nil {
			start, err := strconv.ParseUint(m[2], 16, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "trace: %s:%d: malformed pool start", logPath, lineNo)
			}
			size, err := strconv.ParseUint(m[3], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "trace: %s:%d: malformed pool size", logPath, lineNo)
			}
			pools = append(pools, event.PoolDescriptor{Name: m[1], Start: start, Size: size})
			continue
		}
		if m := eventLine.FindStringSubmatch(line); m != nil {
			ts, err := strconv.ParseUint(m[1], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "trace: %s:%d: malformed timestamp", logPath, lineNo)
			}
			addr, err := strconv.ParseUint(m[3], 16, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "trace: %s:%d: malformed address", logPath, lineNo)
			}
			size, err := strconv.ParseUint(m[4], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "trace: %s:%d: malformed size", logPath, lineNo)
			}
			kind := event.Alloc
			if m[2] == "FREE" {
				kind = event.Free
			}
			frame := p.resolve(binaryPath, m[5])
			e := event.Event{Kind: kind, Address: addr, Size: size, Timestamp: ts, Callstack: cluster.Canonical(frame)}
			rawEvents = append(rawEvents, rawRecord{
				e:     e,
				coord: space.Coord{Pool: classifyPool(pools, addr), Addr: ts, Seq: uint32(len(rawEvents))},
			})
			continue
		}
		// Unrecognized lines (comments, blank separators, tool banners)
		// are ignored rather than treated as a parse error.
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "trace: reading log %q", logPath)
	}

	if len(pools) == 0 {
		return nil, errors.Errorf("trace: %s: no POOL header found, pool discovery failed", logPath)
	}

	// One global sort by (Pool, Timestamp, Seq) gives a single deterministic
	// order — events group contiguously by pool, in chronological order
	// within each group — so groupByPool can partition in one pass instead
	// of re-testing every record's address against every pool's bounds.
	sort.Slice(rawEvents, func(i, j int) bool { return rawEvents[i].coord.LT(rawEvents[j].coord) })

	return groupByPool(pools, rawEvents), nil
}

type rawRecord struct {
	e     event.Event
	coord space.Coord
}

// classifyPool returns the index of the pool containing addr, or
// space.UnassignedPool if none do. Pool bounds are expressed as a
// space.Range over Coords sharing the candidate pool's own index, so
// membership is a single Range.Contains call built on the same total order
// the global event sort uses.
func classifyPool(pools []event.PoolDescriptor, addr uint64) int32 {
	for i, pd := range pools {
		rng := space.Range{
			Start: space.Coord{Pool: int32(i), Addr: pd.Start},
			Limit: space.Coord{Pool: int32(i), Addr: pd.Stop()},
		}
		if rng.Contains(space.Coord{Pool: int32(i), Addr: addr}) {
			return int32(i)
		}
	}
	return space.UnassignedPool
}

func groupByPool(pools []event.PoolDescriptor, recs []rawRecord) []PoolEvents {
	out := make([]PoolEvents, len(pools))
	for i, pd := range pools {
		out[i].Pool = pd
	}
	for _, r := range recs {
		if r.coord.Pool == space.UnassignedPool {
			continue
		}
		i := int(r.coord.Pool)
		out[i].Events = append(out[i].Events, r.e)
		if r.e.Timestamp > out[i].MaxTimestamp {
			out[i].MaxTimestamp = r.e.Timestamp
		}
	}
	return out
}

func (p *SysTraceParser) resolve(binaryPath, rawAddr string) string {
	if p.Resolver == nil {
		return rawAddr
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(rawAddr, "0x"), 16, 64)
	if err != nil {
		return rawAddr
	}
	frame, err := p.Resolver.Resolve(binaryPath, addr)
	if err != nil {
		// UnresolvedSymbol: non-fatal, fall back to the raw hex address.
		return fmt.Sprintf("0x%x", addr)
	}
	return frame
}
