package runtime

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/graph"
)

// BufferManager turns the stream edges of a flat graph into buffers. Every
// connected stream output gets one buffer; each edge leaving it gets its own
// reader.
type BufferManager struct {
	registry    *buffer.Registry
	backend     string
	bufferBytes int
	minItems    int
	maxItems    int
	maxNOutput  int
	logger      *slog.Logger
}

// NewBufferManager returns a manager with the runtime's sizing defaults.
func NewBufferManager(reg *buffer.Registry, opts ...Option) *BufferManager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if reg == nil {
		reg = buffer.NewRegistry()
	}
	return newBufferManager(reg, o)
}

func newBufferManager(reg *buffer.Registry, o options) *BufferManager {
	return &BufferManager{
		registry:    reg,
		backend:     o.backend,
		bufferBytes: o.bufferBytes,
		minItems:    o.minItems,
		maxItems:    o.maxItems,
		maxNOutput:  o.maxNOutput,
		logger:      o.logger,
	}
}

type outputKey struct {
	node graph.NodeID
	port int
}

// Allocation holds the buffers of one initialization.
type Allocation struct {
	buffers  []buffer.Buffer
	byOutput map[outputKey]buffer.Buffer
	readers  map[graph.EdgeID]buffer.Reader
}

func newAllocation() *Allocation {
	return &Allocation{
		byOutput: make(map[outputKey]buffer.Buffer),
		readers:  make(map[graph.EdgeID]buffer.Reader),
	}
}

// Buffers returns every allocated buffer in allocation order.
func (a *Allocation) Buffers() []buffer.Buffer {
	return append([]buffer.Buffer(nil), a.buffers...)
}

// Output returns the buffer of an output port, addressed by its index in
// the node's output list. Nil means the port is unconnected.
func (a *Allocation) Output(node graph.NodeID, port int) buffer.Buffer {
	return a.byOutput[outputKey{node, port}]
}

// Reader returns the reader attached for a stream edge.
func (a *Allocation) Reader(edge graph.EdgeID) buffer.Reader {
	return a.readers[edge]
}

// Close wakes everything waiting on the buffers.
func (a *Allocation) Close() error {
	var errs []error
	for _, b := range a.buffers {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", b.Name(), err))
		}
	}
	return stderrors.Join(errs...)
}

// Release frees the backing memory. No goroutine may hold a region.
func (a *Allocation) Release() error {
	var errs []error
	for _, b := range a.buffers {
		if err := b.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", b.Name(), err))
		}
	}
	return stderrors.Join(errs...)
}

// Allocate sizes and builds the buffers of g. partition names the scheduler
// of each node; edges between different partitions need a backend with the
// cross-scheduler capability. Any failure releases what was built and
// returns a fatal ErrBufferAllocation.
func (m *BufferManager) Allocate(g *graph.Graph, blocks map[graph.NodeID]block.Block, partition func(graph.NodeID) string) (*Allocation, error) {
	alloc := newAllocation()
	for _, n := range g.Nodes() {
		producer := blocks[n.ID()]
		for _, p := range n.Outputs() {
			if p.Kind != graph.KindStream {
				continue
			}
			edges := g.OutEdges(n.ID(), p.Index)
			if len(edges) == 0 {
				continue
			}
			buf, readers, err := m.allocateOutput(g, blocks, partition, producer, p, edges)
			if err != nil {
				_ = alloc.Release()
				return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrBufferAllocation, err),
					"BufferManager", "Allocate", fmt.Sprintf("allocate %s:%s", n.Name(), p.Name))
			}
			alloc.buffers = append(alloc.buffers, buf)
			alloc.byOutput[outputKey{n.ID(), p.Index}] = buf
			for id, rd := range readers {
				alloc.readers[id] = rd
			}
		}
	}
	return alloc, nil
}

func (m *BufferManager) allocateOutput(
	g *graph.Graph,
	blocks map[graph.NodeID]block.Block,
	partition func(graph.NodeID) string,
	producer block.Block,
	port graph.Port,
	edges []graph.Edge,
) (buffer.Buffer, map[graph.EdgeID]buffer.Reader, error) {
	props, err := edgeProperties(edges)
	if err != nil {
		return nil, nil, err
	}
	backend := props.BackendName(m.backend)
	factory, err := m.registry.Lookup(backend)
	if err != nil {
		return nil, nil, err
	}

	req := sizeRequest{
		itemSize:    port.ItemSize,
		bufferBytes: m.bufferBytes,
		producer:    producerCall(producer.Settings(), m.maxNOutput),
		minItems:    m.minItems,
		maxItems:    m.maxItems,
		granularity: factory.Granularity(port.ItemSize, props),
	}
	if props != nil {
		if props.MinItems > 0 {
			req.minItems = props.MinItems
		}
		if props.MaxItems > 0 {
			req.maxItems = props.MaxItems
		}
	}

	histories := make([]int, len(edges))
	for i, e := range edges {
		consumer, ok := blocks[e.Dst.Node]
		if !ok {
			return nil, nil, fmt.Errorf("%w: consumer %d of edge %d", errors.ErrUnknownNode, e.Dst.Node, e.ID)
		}
		if partition(e.Dst.Node) != partition(producer.ID()) &&
			!factory.Capabilities(props).Has(buffer.CrossScheduler) {
			return nil, nil, fmt.Errorf("backend %q cannot cross from scheduler %q to %q on %s",
				backend, partition(producer.ID()), partition(e.Dst.Node), g.EdgeName(e))
		}
		call := consumerCall(consumer, streamIndex(consumer.Inputs(), e.Dst.Port), m.maxNOutput)
		req.consumers = append(req.consumers, call)
		histories[i] = call.history
	}

	capacity, pad, err := sizeBuffer(req)
	if err != nil {
		return nil, nil, err
	}

	spec := buffer.Spec{
		Name:       bufferName(g, producer, port, edges),
		ItemSize:   port.ItemSize,
		Capacity:   capacity,
		HistoryPad: pad,
		Props:      props,
	}
	buf, err := factory.Make(spec)
	if err != nil {
		return nil, nil, err
	}

	readers := make(map[graph.EdgeID]buffer.Reader, len(edges))
	for i, e := range edges {
		rd, err := buf.AddReader(histories[i])
		if err != nil {
			_ = buf.Release()
			return nil, nil, err
		}
		readers[e.ID] = rd
	}

	m.logger.Debug("Buffer allocated",
		"buffer", spec.Name,
		"backend", backend,
		"capacity", spec.Capacity,
		"history_pad", spec.HistoryPad,
		"readers", len(edges))
	return buf, readers, nil
}

// edgeProperties returns the custom configuration shared by all edges of one
// output. Fan-out edges share a buffer, so they must agree.
func edgeProperties(edges []graph.Edge) (*buffer.Properties, error) {
	var props *buffer.Properties
	for _, e := range edges {
		if e.Buffer == nil {
			continue
		}
		if props == nil {
			props = e.Buffer
			continue
		}
		if !reflect.DeepEqual(props, e.Buffer) {
			return nil, fmt.Errorf("edges %d and %d of one output declare different buffer properties",
				edges[0].ID, e.ID)
		}
	}
	return props, nil
}

func bufferName(g *graph.Graph, producer block.Block, port graph.Port, edges []graph.Edge) string {
	if len(edges) == 1 {
		return g.EdgeName(edges[0])
	}
	dsts := make([]string, 0, len(edges))
	for _, e := range edges {
		if n, p, ok := g.Port(e.Dst, graph.DirectionInput); ok {
			dsts = append(dsts, n.Name()+":"+p.Name)
		}
	}
	return fmt.Sprintf("%s:%s->{%s}", producer.Name(), port.Name, strings.Join(dsts, ","))
}

// streamIndex converts a position in a full port list to the position among
// stream ports.
func streamIndex(ports []graph.Port, index int) int {
	n := 0
	for i := 0; i < index && i < len(ports); i++ {
		if ports[i].Kind == graph.KindStream {
			n++
		}
	}
	return n
}

// call is the largest span one work call may touch (look-back included) and
// the fewest new items it can work with.
type call struct {
	largest int
	least   int
	history int
}

type sizeRequest struct {
	itemSize    int
	bufferBytes int
	producer    call
	consumers   []call
	minItems    int
	maxItems    int
	granularity int
}

func producerCall(s block.Settings, maxNOutput int) call {
	mult := max(s.OutputMultiple, 1)
	return call{
		largest: roundUp(max(s.LargestCall(maxNOutput), 1), mult),
		least:   roundUp(max(s.MinNOutput, 1), mult),
		history: 1,
	}
}

func consumerCall(b block.Block, input, maxNOutput int) call {
	s := b.Settings()
	hist := max(s.History, 1)
	nin := len(graph.StreamPorts(b, graph.DirectionInput))
	need := func(noutput int) int {
		if s.FixedRate() {
			return s.Forecast(noutput)
		}
		if f, ok := b.(block.Forecaster); ok && input < nin {
			required := make([]int, nin)
			f.Forecast(noutput, required)
			return required[input]
		}
		return noutput
	}
	return call{
		largest: max(need(s.LargestCall(maxNOutput)), 1) + hist - 1,
		least:   max(need(max(s.MinNOutput, 1)), 1),
		history: hist,
	}
}

// sizeBuffer returns the capacity to request (history pad included) and the
// pad itself.
func sizeBuffer(r sizeRequest) (capacity, pad int, err error) {
	if r.itemSize <= 0 {
		return 0, 0, fmt.Errorf("item size %d must be positive", r.itemSize)
	}
	largest, least, hist := r.producer.largest, r.producer.least, 1
	for _, c := range r.consumers {
		largest = max(largest, c.largest)
		least = max(least, c.least)
		hist = max(hist, c.history)
	}

	capacity = max(r.bufferBytes/r.itemSize, 2*largest)
	if r.minItems > 0 {
		capacity = max(capacity, r.minItems)
	}
	if r.maxItems > 0 {
		capacity = min(capacity, r.maxItems)
	}
	if capacity < least {
		return 0, 0, fmt.Errorf("capacity %d items is below the smallest work call of %d items", capacity, least)
	}

	pad = hist - 1
	capacity = roundUp(capacity+pad, max(r.granularity, 1))
	return capacity, pad, nil
}

func roundUp(n, quantum int) int {
	if quantum <= 1 {
		return n
	}
	return (n + quantum - 1) / quantum * quantum
}
