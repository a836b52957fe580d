package trace

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/heapviz/event"
	"github.com/grailbio/heapviz/space"
)

const sampleLog = `POOL heap 0x0 4096
0 ALLOC 0x10 16 0x4010
1 FREE 0x10 16 0x4010
2 ALLOC 0x20 32 0x4020
`

func writeLog(t *testing.T, dir, name string, gzipped bool) string {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close() // nolint: errcheck
	if gzipped {
		gz := gzip.NewWriter(f)
		_, err = gz.Write([]byte(sampleLog))
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		return path
	}
	_, err = f.WriteString(sampleLog)
	require.NoError(t, err)
	return path
}

func TestSysTraceParserParsesPlainLog(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "heapviz-trace")
	defer cleanup()
	path := writeLog(t, dir, "trace.log", false)

	p := NewSysTraceParser(nil)
	out, err := p.Parse(context.Background(), path, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "heap", out[0].Pool.Name)
	assert.Len(t, out[0].Events, 3)
}

func TestSysTraceParserParsesGzippedLog(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "heapviz-trace")
	defer cleanup()
	path := writeLog(t, dir, "trace.log.gz", true)

	p := NewSysTraceParser(nil)
	out, err := p.Parse(context.Background(), path, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, out[0].Events, 3)
}

func recAt(pools []event.PoolDescriptor, e event.Event, seq uint32) rawRecord {
	return rawRecord{e: e, coord: space.Coord{Pool: classifyPool(pools, e.Address), Addr: e.Timestamp, Seq: seq}}
}

func TestClassifyPoolAssignsByAddressRange(t *testing.T) {
	pools := []event.PoolDescriptor{
		{Name: "small", Start: 0, Size: 0x1000},
		{Name: "large", Start: 0x1000, Size: 0x1000},
	}
	assert.Equal(t, int32(0), classifyPool(pools, 0x10))
	assert.Equal(t, int32(1), classifyPool(pools, 0x1010))
	assert.Equal(t, space.UnassignedPool, classifyPool(pools, 0x3000))
}

func TestGroupByPoolAssignsByAddressRange(t *testing.T) {
	pools := []event.PoolDescriptor{
		{Name: "small", Start: 0, Size: 0x1000},
		{Name: "large", Start: 0x1000, Size: 0x1000},
	}
	recs := []rawRecord{
		recAt(pools, event.Event{Kind: event.Alloc, Address: 0x10, Size: 16, Timestamp: 0}, 0),
		recAt(pools, event.Event{Kind: event.Alloc, Address: 0x1010, Size: 16, Timestamp: 1}, 1),
	}
	out := groupByPool(pools, recs)
	require.Len(t, out, 2)
	assert.Len(t, out[0].Events, 1)
	assert.Len(t, out[1].Events, 1)
	assert.Equal(t, uint64(0x10), out[0].Events[0].Address)
	assert.Equal(t, uint64(0x1010), out[1].Events[0].Address)
}

func TestGroupByPoolDropsOutOfRangeAddresses(t *testing.T) {
	pools := []event.PoolDescriptor{{Name: "small", Start: 0, Size: 0x100}}
	recs := []rawRecord{
		recAt(pools, event.Event{Kind: event.Alloc, Address: 0x1000, Size: 16, Timestamp: 0}, 0),
	}
	out := groupByPool(pools, recs)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Events)
}

func TestSysTraceParserNoResolverReturnsRawAddress(t *testing.T) {
	p := &SysTraceParser{}
	got := p.resolve("", "0x4010")
	assert.Equal(t, "0x4010", got)
}

type stubResolver struct{}

func (stubResolver) Resolve(binaryPath string, addr uint64) (string, error) {
	return "my_function+0x0", nil
}

func TestSysTraceParserResolvesViaResolver(t *testing.T) {
	p := &SysTraceParser{Resolver: stubResolver{}}
	got := p.resolve("/bin/x", "0x10")
	assert.Equal(t, "my_function+0x0", got)
}
