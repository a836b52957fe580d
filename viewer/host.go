// Package viewer hosts the process-scoped registry of live pool.Instance
// values that the query API operates against. InitialiseViewer replaces the
// registry's contents; every other operation is a synchronous, lock-guarded
// method against one named instance.
package viewer

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"v.io/x/lib/vlog"

	"github.com/grailbio/heapviz/pool"
	"github.com/grailbio/heapviz/trace"
)

// Host is a process-scoped, mutex-guarded registry mapping a pool name to
// its Instance. Re-initialized wholesale by InitialiseViewer.
type Host struct {
	mu        sync.Mutex
	instances map[string]*pool.Instance
	order     []string
	checksum  uint64
}

// New returns an empty, uninitialized Host.
func New() *Host {
	return &Host{}
}

// InitialiseViewer loads a trace through parser and replaces the host's
// entire registry with one Instance per discovered pool. A failed load
// leaves the previous registry (if any) untouched.
func (h *Host) InitialiseViewer(ctx context.Context, parser trace.Parser, logPath, binaryPath string, leftPad, rightPad, blockSize uint64) error {
	perPool, err := parser.Parse(ctx, logPath, binaryPath, leftPad, rightPad)
	if err != nil {
		return errors.E(err, "viewer: initialising from trace")
	}
	if len(perPool) == 0 {
		return errors.E("viewer: trace produced zero pools")
	}

	instances := make(map[string]*pool.Instance, len(perPool))
	order := make([]string, 0, len(perPool))
	for _, pe := range perPool {
		instances[pe.Pool.Name] = pool.New(pe.Pool, pe.Events, leftPad, rightPad, blockSize)
		order = append(order, pe.Pool.Name)
	}
	sort.Strings(order)

	checksum, err := computeChecksum(ctx, logPath, binaryPath)
	if err != nil {
		vlog.Infof("viewer: checksum computation failed, continuing without it: %v", err)
	}

	h.mu.Lock()
	h.instances = instances
	h.order = order
	h.checksum = checksum
	h.mu.Unlock()
	return nil
}

func computeChecksum(ctx context.Context, logPath, binaryPath string) (uint64, error) {
	logFile, err := file.Open(ctx, logPath)
	if err != nil {
		return 0, err
	}
	defer logFile.Close(ctx) // nolint: errcheck
	binFile, err := file.Open(ctx, binaryPath)
	if err != nil {
		return 0, err
	}
	defer binFile.Close(ctx) // nolint: errcheck

	logBytes, err := readAll(logFile.Reader(ctx))
	if err != nil {
		return 0, err
	}
	binBytes, err := readAll(binFile.Reader(ctx))
	if err != nil {
		return 0, err
	}
	return trace.Checksum(logBytes, binBytes)
}

func readAll(r io.Reader) ([]byte, error) {
	return ioutil.ReadAll(r)
}

// lookup returns the named instance, or an UninitializedViewer error if the
// registry is empty or the name is unknown.
func (h *Host) lookup(instanceID string) (*pool.Instance, error) {
	if h.instances == nil {
		return nil, errors.E("viewer: not initialized")
	}
	inst, ok := h.instances[instanceID]
	if !ok {
		return nil, errors.E("viewer: unknown instance", instanceID)
	}
	return inst, nil
}

// GetPoolList returns every currently registered instance ID, sorted.
func (h *Host) GetPoolList() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}

// UsageGraph returns the full usage series for instanceID.
func (h *Host) UsageGraph(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.UsageSeries(), nil
}

// UsageGraphNoFallbacks returns the changed-points-only usage series.
func (h *Host) UsageGraphNoFallbacks(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.UsageSeriesNoFallbacks(), nil
}

// UsageGraphSampled returns the usage series mapped back to wall-clock time.
func (h *Host) UsageGraphSampled(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.UsageSeriesSampled(), nil
}

// DistinctBlocksGraph returns the full distinct-block-count series.
func (h *Host) DistinctBlocksGraph(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.DistinctBlocksSeries(), nil
}

// DistinctBlocksGraphNoFallbacks returns the changed-points-only series.
func (h *Host) DistinctBlocksGraphNoFallbacks(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.DistinctBlocksSeriesNoFallbacks(), nil
}

// DistinctBlocksGraphSampled returns the series mapped back to wall-clock time.
func (h *Host) DistinctBlocksGraphSampled(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.DistinctBlocksSeriesSampled(), nil
}

// FreeBlocksGraph returns the full free-block-count series.
func (h *Host) FreeBlocksGraph(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.FreeBlocksSeries(), nil
}

// FreeBlocksGraphNoFallbacks returns the changed-points-only series.
func (h *Host) FreeBlocksGraphNoFallbacks(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.FreeBlocksSeriesNoFallbacks(), nil
}

// FreeBlocksGraphSampled returns the series mapped back to wall-clock time.
func (h *Host) FreeBlocksGraphSampled(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.FreeBlocksSeriesSampled(), nil
}

// LargestFreeBlockGraph returns the full largest-free-block series.
func (h *Host) LargestFreeBlockGraph(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.LargestFreeBlockSeries(), nil
}

// LargestFreeBlockGraphNoFallbacks returns the changed-points-only series.
func (h *Host) LargestFreeBlockGraphNoFallbacks(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.LargestFreeBlockSeriesNoFallbacks(), nil
}

// LargestFreeBlockGraphSampled returns the series mapped back to wall-clock time.
func (h *Host) LargestFreeBlockGraphSampled(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.LargestFreeBlockSeriesSampled(), nil
}

// FreeSegmentFragmentationGraph returns the full fragmentation series.
func (h *Host) FreeSegmentFragmentationGraph(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.FreeSegmentFragmentationSeries(), nil
}

// FreeSegmentFragmentationGraphNoFallbacks returns the changed-points-only series.
func (h *Host) FreeSegmentFragmentationGraphNoFallbacks(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.FreeSegmentFragmentationSeriesNoFallbacks(), nil
}

// FreeSegmentFragmentationGraphSampled returns the series mapped back to wall-clock time.
func (h *Host) FreeSegmentFragmentationGraphSampled(instanceID string) ([]pool.Point, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.FreeSegmentFragmentationSeriesSampled(), nil
}

// MapFullAtColours returns the painted cells at event index t.
func (h *Host) MapFullAtColours(instanceID string, t uint64, truncateAfter int) (uint64, []pool.ColorCell, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return 0, nil, err
	}
	return inst.MapAt(t, truncateAfter)
}

// MapFullAtColoursRealtimeSampled is MapFullAtColours with t expressed as a
// wall-clock timestamp rather than an event index.
func (h *Host) MapFullAtColoursRealtimeSampled(instanceID string, t uint64, truncateAfter int) (uint64, []pool.ColorCell, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return 0, nil, err
	}
	return inst.MapAtRealtimeSampled(t, truncateAfter)
}

// SetBlockSize rebuilds instanceID's temporal cache at a new block size.
// Holding the host lock for the whole rebuild blocks concurrent queries
// until it completes, per the BlockSizeChange error-taxonomy entry.
func (h *Host) SetBlockSize(instanceID string, blockSize uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return err
	}
	return inst.SetBlockSize(blockSize)
}

// GetOperationLog returns the last window events (DefaultOperationLogWindow
// if window <= 0), address/size compensated for display using leftPad and
// rightPad, formatted one per line.
func (h *Host) GetOperationLog(instanceID string, leftPad, rightPad uint64, window int) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	events := inst.OperationHistory(leftPad, rightPad, window)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = fmt.Sprintf("%d %s 0x%x %d %s", e.Timestamp, e.Kind, e.Address, e.Size, e.Callstack)
	}
	return out, nil
}

// GetCallstack returns the callstack of instanceID's single most recent
// operation, verbatim.
func (h *Host) GetCallstack(instanceID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return "", err
	}
	events := inst.OperationHistory(0, 0, 1)
	if len(events) == 0 {
		return "", nil
	}
	return events[len(events)-1].Callstack, nil
}

// QueryBlock returns the full, ascending event history touching address at
// or before t, formatted one event per line.
func (h *Host) QueryBlock(instanceID string, address, t uint64) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	events := inst.QueryBlock(address, t)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = fmt.Sprintf("%d %s 0x%x %d %s", e.Timestamp, e.Kind, e.Address, e.Size, e.Callstack)
	}
	return out, nil
}

// QueryBlockRealtime is QueryBlock with t expressed as a wall-clock
// timestamp rather than an event index.
func (h *Host) QueryBlockRealtime(instanceID string, address, t uint64) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, err := h.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	events := inst.QueryBlockRealtime(address, t)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = fmt.Sprintf("%d %s 0x%x %d %s", e.Timestamp, e.Kind, e.Address, e.Size, e.Callstack)
	}
	return out, nil
}
