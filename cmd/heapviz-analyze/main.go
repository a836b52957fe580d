// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
heapviz-analyze is a flag-driven batch entry point over the heap-trace
viewer: given a trace log and binary, it loads the trace and prints the
requested series or snapshot as TSV to stdout. It is the thinnest possible
stand-in for the graphical front-end's RPC surface, which remains external
to this repository.
*/

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/grailbio/heapviz/pool"
	"github.com/grailbio/heapviz/trace"
	"github.com/grailbio/heapviz/viewer"
)

var (
	logPath      = flag.String("log", "", "Input trace log path; may be local, .gz, or s3://")
	binaryPath   = flag.String("binary", "", "Traced binary, used for return-address resolution")
	poolName     = flag.String("pool", "", "Pool instance ID to query; required unless -pool-list is given")
	leftPad      = flag.Uint64("left-pad", 0, "Bytes to shift every address left before indexing")
	rightPad     = flag.Uint64("right-pad", 0, "Bytes to extend every allocation's size by before indexing")
	blockSize    = flag.Uint64("block-size", 64, "Canvas cell size in bytes")
	graph        = flag.String("graph", "", "Print a series: usage|distinct-blocks|free-blocks|largest-free-block|fragmentation")
	mapAt        = flag.Uint64("map-at", 0, "Print the painted cells at this event index")
	mapAtSet     = flag.Bool("map-at-set", false, "Set to actually run -map-at (distinguishes 0 from unset)")
	queryBlock   = flag.String("query-block", "", "Print the event history for a block: ADDR@T, e.g. 0x1000@42")
	history      = flag.Int("history", 0, "Print the last N operation-log entries")
	poolList     = flag.Bool("pool-list", false, "Print the discovered pool names and exit")
)

func analyzeUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -log PATH -binary PATH -pool NAME [query flag]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = analyzeUsage
	shutdown := grail.Init()
	defer shutdown()

	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})

	ctx := vcontext.Background()

	host := viewer.New()
	parser := trace.NewSysTraceParser(trace.NewAddr2LineResolver())
	if err := host.InitialiseViewer(ctx, parser, *logPath, *binaryPath, *leftPad, *rightPad, *blockSize); err != nil {
		log.Fatalf("heapviz-analyze: %v", err)
	}

	if *poolList {
		for _, name := range host.GetPoolList() {
			fmt.Println(name)
		}
		return
	}

	if *poolName == "" {
		log.Fatalf("heapviz-analyze: -pool is required")
	}

	switch {
	case *graph != "":
		printGraph(host, *poolName, *graph)
	case *mapAtSet:
		printMapAt(host, *poolName, *mapAt)
	case *queryBlock != "":
		printQueryBlock(host, *poolName, *queryBlock)
	case *history > 0:
		printHistory(host, *poolName, *leftPad, *rightPad, *history)
	default:
		log.Fatalf("heapviz-analyze: one of -graph, -map-at-set, -query-block, or -history is required")
	}
}

func printGraph(host *viewer.Host, instanceID, which string) {
	var (
		series []pool.Point
		err    error
	)
	switch which {
	case "usage":
		series, err = host.UsageGraph(instanceID)
	case "distinct-blocks":
		series, err = host.DistinctBlocksGraph(instanceID)
	case "free-blocks":
		series, err = host.FreeBlocksGraph(instanceID)
	case "largest-free-block":
		series, err = host.LargestFreeBlockGraph(instanceID)
	case "fragmentation":
		series, err = host.FreeSegmentFragmentationGraph(instanceID)
	default:
		log.Fatalf("heapviz-analyze: unknown -graph value %q", which)
	}
	if err != nil {
		log.Fatalf("heapviz-analyze: %v", err)
	}
	for _, p := range series {
		fmt.Printf("%v\t%v\n", p.T, p.V)
	}
}

func printMapAt(host *viewer.Host, instanceID string, t uint64) {
	maxTS, cells, err := host.MapFullAtColours(instanceID, t, 0)
	if err != nil {
		log.Fatalf("heapviz-analyze: %v", err)
	}
	fmt.Printf("# max-timestamp\t%d\n", maxTS)
	for _, c := range cells {
		fmt.Printf("%d\t%d\t%d\n", c.Cell, c.Color, c.Used)
	}
}

func printQueryBlock(host *viewer.Host, instanceID, spec string) {
	at := strings.IndexByte(spec, '@')
	if at < 0 {
		log.Fatalf("heapviz-analyze: -query-block expects ADDR@T, got %q", spec)
	}
	addrStr, tStr := spec[:at], spec[at+1:]
	addrStr = strings.TrimPrefix(addrStr, "0x")
	addr, err := strconv.ParseUint(addrStr, 16, 64)
	if err != nil {
		log.Fatalf("heapviz-analyze: malformed address in -query-block: %v", err)
	}
	t, err := strconv.ParseUint(tStr, 10, 64)
	if err != nil {
		log.Fatalf("heapviz-analyze: malformed timestamp in -query-block: %v", err)
	}
	lines, err := host.QueryBlock(instanceID, addr, t)
	if err != nil {
		log.Fatalf("heapviz-analyze: %v", err)
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}

func printHistory(host *viewer.Host, instanceID string, leftPad, rightPad uint64, window int) {
	lines, err := host.GetOperationLog(instanceID, leftPad, rightPad, window)
	if err != nil {
		log.Fatalf("heapviz-analyze: %v", err)
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}
