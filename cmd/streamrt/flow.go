package main

import (
	"fmt"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/blocks"
	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/buffer/netbuf"
	"github.com/c360/streamrt/config"
	"github.com/c360/streamrt/graph"
	"github.com/c360/streamrt/runtime"
)

// Block names of the reference flow, as used in the schedulers section of
// the configuration.
const (
	sourceName = "source"
	headName   = "head"
	copyName   = "copy"
	sinkName   = "sink"

	// receiverPartition hosts the sink when a network edge is configured
	// and the config assigns no partitions of its own.
	receiverPartition = "rx"
)

// referenceFlow is source -> [head ->] copy -> sink over float32 items.
type referenceFlow struct {
	graph  *graph.Graph
	blocks []block.Block
	sink   *blocks.NullSink
	// networked is set when copy -> sink runs over the network backend.
	networked bool
}

func buildFlow(items uint64, networked bool) (*referenceFlow, error) {
	const itemSize = 4

	ramp := make([]float32, 4096)
	for i := range ramp {
		ramp[i] = float32(i)
	}
	src, err := blocks.NewVectorSource(sourceName, ramp, true, nil)
	if err != nil {
		return nil, err
	}
	cp, err := blocks.NewCopy(copyName, itemSize)
	if err != nil {
		return nil, err
	}
	sink, err := blocks.NewNullSink(sinkName, itemSize)
	if err != nil {
		return nil, err
	}

	f := &referenceFlow{graph: graph.New(), sink: sink, networked: networked}
	chain := []block.Block{src}
	if items > 0 {
		head, err := blocks.NewHead(headName, itemSize, items)
		if err != nil {
			return nil, err
		}
		chain = append(chain, head)
	}
	chain = append(chain, cp, sink)

	for _, b := range chain {
		if err := f.graph.AddNode(b); err != nil {
			return nil, err
		}
	}
	for i := 0; i+1 < len(chain); i++ {
		var opts []graph.EdgeOption
		if networked && chain[i+1].ID() == sink.ID() {
			opts = append(opts, graph.WithBuffer(buffer.Properties{Backend: netbuf.Backend}))
		}
		if _, err := f.graph.Connect(chain[i], "out", chain[i+1], "in", opts...); err != nil {
			return nil, fmt.Errorf("connect %s -> %s: %w", chain[i].Name(), chain[i+1].Name(), err)
		}
	}
	f.blocks = chain
	return f, nil
}

// partitions resolves the configured partitions. A networked flow without
// any gets the sink on its own scheduler so the edge really crosses.
func (f *referenceFlow) partitions(cfg *config.Config) ([]runtime.Partition, error) {
	parts, err := runtime.PartitionsFromConfig(cfg, f.blocks)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 && f.networked {
		parts = []runtime.Partition{{Name: receiverPartition, Blocks: []block.Block{f.sink}}}
	}
	return parts, nil
}
