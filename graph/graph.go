package graph

import (
	"fmt"

	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/errors"
)

// EdgeID indexes an edge in its graph.
type EdgeID int

// Edge connects one output port to one input port.
type Edge struct {
	ID   EdgeID   `json:"id"`
	Kind Kind     `json:"kind"`
	Src  Endpoint `json:"src"`
	Dst  Endpoint `json:"dst"`
	// Buffer is the optional custom buffer configuration of a stream edge.
	Buffer *buffer.Properties `json:"buffer,omitempty"`
}

// EdgeOption customizes an edge at Connect time.
type EdgeOption func(*Edge)

// WithBuffer attaches custom buffer properties to a stream edge.
func WithBuffer(props buffer.Properties) EdgeOption {
	return func(e *Edge) {
		p := props
		e.Buffer = &p
	}
}

// Graph is an arena of nodes and edges. It is not safe for concurrent
// mutation; build it on one goroutine, then hand it to the runtime.
type Graph struct {
	nodes []Node
	index map[NodeID]int
	edges []Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[NodeID]int)}
}

// AddNode adds n. Adding the same node twice is a no-op; a different node
// reusing an id is rejected.
func (g *Graph) AddNode(n Node) error {
	if n == nil {
		return errors.WrapInvalid(fmt.Errorf("nil node"), "Graph", "AddNode", "add node")
	}
	if i, ok := g.index[n.ID()]; ok {
		if g.nodes[i] == n {
			return nil
		}
		return errors.WrapInvalid(fmt.Errorf("node id %d already used by %s", n.ID(), label(g.nodes[i])),
			"Graph", "AddNode", "add "+label(n))
	}
	g.index[n.ID()] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

// Edges returns a copy of the edges in creation order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Edge returns one edge.
func (g *Graph) Edge(id EdgeID) (Edge, bool) {
	if id < 0 || int(id) >= len(g.edges) {
		return Edge{}, false
	}
	return g.edges[id], true
}

// InEdges returns the edges ending at input port of node id.
func (g *Graph) InEdges(id NodeID, port int) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Dst.Node == id && e.Dst.Port == port {
			out = append(out, e)
		}
	}
	return out
}

// OutEdges returns the edges leaving output port of node id.
func (g *Graph) OutEdges(id NodeID, port int) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Src.Node == id && e.Src.Port == port {
			out = append(out, e)
		}
	}
	return out
}

// Connect joins src's output port to dst's input port, both by name. Nodes
// not yet in the graph are added.
func (g *Graph) Connect(src Node, srcPort string, dst Node, dstPort string, opts ...EdgeOption) (EdgeID, error) {
	sp, ok := FindPort(src, DirectionOutput, srcPort)
	if !ok {
		return -1, errors.WrapInvalid(fmt.Errorf("%w: %s has no output %q", errors.ErrUnknownPort, label(src), srcPort),
			"Graph", "Connect", "resolve source port")
	}
	dp, ok := FindPort(dst, DirectionInput, dstPort)
	if !ok {
		return -1, errors.WrapInvalid(fmt.Errorf("%w: %s has no input %q", errors.ErrUnknownPort, label(dst), dstPort),
			"Graph", "Connect", "resolve destination port")
	}
	return g.connect(src, sp, dst, dp, opts)
}

// ConnectIndex joins the srcIndex-th stream output of src to the
// dstIndex-th stream input of dst.
func (g *Graph) ConnectIndex(src Node, srcIndex int, dst Node, dstIndex int, opts ...EdgeOption) (EdgeID, error) {
	sp, ok := StreamPort(src, DirectionOutput, srcIndex)
	if !ok {
		return -1, errors.WrapInvalid(fmt.Errorf("%w: %s has no stream output %d", errors.ErrUnknownPort, label(src), srcIndex),
			"Graph", "ConnectIndex", "resolve source port")
	}
	dp, ok := StreamPort(dst, DirectionInput, dstIndex)
	if !ok {
		return -1, errors.WrapInvalid(fmt.Errorf("%w: %s has no stream input %d", errors.ErrUnknownPort, label(dst), dstIndex),
			"Graph", "ConnectIndex", "resolve destination port")
	}
	return g.connect(src, sp, dst, dp, opts)
}

func (g *Graph) connect(src Node, sp Port, dst Node, dp Port, opts []EdgeOption) (EdgeID, error) {
	action := fmt.Sprintf("connect %s:%s to %s:%s", label(src), sp.Name, label(dst), dp.Name)

	if err := checkCompatible(sp, dp); err != nil {
		return -1, errors.WrapInvalid(err, "Graph", "Connect", action)
	}
	if err := g.AddNode(src); err != nil {
		return -1, err
	}
	if err := g.AddNode(dst); err != nil {
		return -1, err
	}
	if n := len(g.OutEdges(src.ID(), sp.Index)); !sp.Accepts(n) {
		return -1, errors.WrapInvalid(fmt.Errorf("%w: output %q already has %d edges", errors.ErrPortInUse, sp.Name, n),
			"Graph", "Connect", action)
	}
	if n := len(g.InEdges(dst.ID(), dp.Index)); !dp.Accepts(n) {
		return -1, errors.WrapInvalid(fmt.Errorf("%w: input %q already has %d edges", errors.ErrPortInUse, dp.Name, n),
			"Graph", "Connect", action)
	}

	e := Edge{
		ID:   EdgeID(len(g.edges)),
		Kind: sp.Kind,
		Src:  Endpoint{Node: src.ID(), Port: sp.Index},
		Dst:  Endpoint{Node: dst.ID(), Port: dp.Index},
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.Kind == KindMessage {
		e.Buffer = nil
	}
	g.edges = append(g.edges, e)
	return e.ID, nil
}

func checkCompatible(sp, dp Port) error {
	if sp.Kind != dp.Kind {
		return fmt.Errorf("%w: %s output %q to %s input %q", errors.ErrTypeMismatch, sp.Kind, sp.Name, dp.Kind, dp.Name)
	}
	if sp.Kind == KindStream && sp.ItemSize != dp.ItemSize {
		return fmt.Errorf("%w: item size %d to %d", errors.ErrTypeMismatch, sp.ItemSize, dp.ItemSize)
	}
	return nil
}

// Port resolves an endpoint to its node and port description.
func (g *Graph) Port(ep Endpoint, dir Direction) (Node, Port, bool) {
	n, ok := g.Node(ep.Node)
	if !ok {
		return nil, Port{}, false
	}
	list := ports(n, dir)
	if ep.Port < 0 || ep.Port >= len(list) {
		return nil, Port{}, false
	}
	return n, list[ep.Port], true
}

// EdgeName renders an edge as "src:port->dst:port".
func (g *Graph) EdgeName(e Edge) string {
	src, sp, ok1 := g.Port(e.Src, DirectionOutput)
	dst, dp, ok2 := g.Port(e.Dst, DirectionInput)
	if !ok1 || !ok2 {
		return fmt.Sprintf("edge%d", e.ID)
	}
	return fmt.Sprintf("%s:%s->%s:%s", src.Name(), sp.Name, dst.Name(), dp.Name)
}

// Validate checks every port against its minimum and maximum edge count.
func (g *Graph) Validate() error {
	for _, n := range g.nodes {
		for _, dir := range []Direction{DirectionInput, DirectionOutput} {
			for _, p := range ports(n, dir) {
				var count int
				if dir == DirectionInput {
					count = len(g.InEdges(n.ID(), p.Index))
				} else {
					count = len(g.OutEdges(n.ID(), p.Index))
				}
				if count < p.MinEdges {
					return errors.WrapInvalid(
						fmt.Errorf("%w: %s %s has %d edges, needs %d", errors.ErrUnconnectedPort, label(n), p, count, p.MinEdges),
						"Graph", "Validate", "check port multiplicity")
				}
				if p.MaxEdges != Unbounded && count > p.MaxEdges {
					return errors.WrapInvalid(
						fmt.Errorf("%w: %s %s has %d edges, allows %d", errors.ErrPortInUse, label(n), p, count, p.MaxEdges),
						"Graph", "Validate", "check port multiplicity")
				}
			}
		}
	}
	return nil
}

// TopoOrder returns node ids with producers before consumers where the
// stream edges allow it. Nodes on cycles keep insertion order at the end.
func (g *Graph) TopoOrder() []NodeID {
	indeg := make(map[NodeID]int, len(g.nodes))
	next := make(map[NodeID][]NodeID)
	for _, e := range g.edges {
		if e.Kind != KindStream {
			continue
		}
		indeg[e.Dst.Node]++
		next[e.Src.Node] = append(next[e.Src.Node], e.Dst.Node)
	}

	var queue, order []NodeID
	for _, n := range g.nodes {
		if indeg[n.ID()] == 0 {
			queue = append(queue, n.ID())
		}
	}
	seen := make(map[NodeID]bool, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		seen[id] = true
		for _, d := range next[id] {
			if indeg[d]--; indeg[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	for _, n := range g.nodes {
		if !seen[n.ID()] {
			order = append(order, n.ID())
		}
	}
	return order
}
