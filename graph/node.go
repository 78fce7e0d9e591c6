package graph

import (
	"fmt"
	"sync/atomic"
)

// NodeID identifies a node for the lifetime of the process.
type NodeID uint64

// IDAllocator hands out node ids. Ids must never repeat.
type IDAllocator interface {
	Next() NodeID
}

// SequentialIDs allocates increasing ids starting at 1.
type SequentialIDs struct {
	last atomic.Uint64
}

// Next implements IDAllocator.
func (s *SequentialIDs) Next() NodeID {
	return NodeID(s.last.Add(1))
}

// DefaultIDs is the process-wide allocator used when none is given.
var DefaultIDs IDAllocator = &SequentialIDs{}

// Node is anything that can be placed in a Graph.
type Node interface {
	ID() NodeID
	Name() string
	Inputs() []Port
	Outputs() []Port
}

// Base implements Node. Embed it in blocks and composites.
type Base struct {
	id      NodeID
	name    string
	inputs  []Port
	outputs []Port
}

// NewBase assigns an id from alloc (DefaultIDs when nil) and normalizes the
// port lists: directions and indices are set from their position.
func NewBase(name string, inputs, outputs []Port, alloc IDAllocator) Base {
	if alloc == nil {
		alloc = DefaultIDs
	}
	b := Base{
		id:      alloc.Next(),
		name:    name,
		inputs:  make([]Port, len(inputs)),
		outputs: make([]Port, len(outputs)),
	}
	for i, p := range inputs {
		p.Direction, p.Index = DirectionInput, i
		b.inputs[i] = p
	}
	for i, p := range outputs {
		p.Direction, p.Index = DirectionOutput, i
		b.outputs[i] = p
	}
	return b
}

// ID implements Node.
func (b *Base) ID() NodeID { return b.id }

// Name implements Node.
func (b *Base) Name() string { return b.name }

// Inputs implements Node.
func (b *Base) Inputs() []Port { return b.inputs }

// Outputs implements Node.
func (b *Base) Outputs() []Port { return b.outputs }

// String returns "name(id)".
func (b *Base) String() string { return fmt.Sprintf("%s(%d)", b.name, b.id) }

// FindPort returns the port called name in the given direction.
func FindPort(n Node, dir Direction, name string) (Port, bool) {
	for _, p := range ports(n, dir) {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// StreamPort returns the index-th stream port of n in the given direction.
func StreamPort(n Node, dir Direction, index int) (Port, bool) {
	i := 0
	for _, p := range ports(n, dir) {
		if p.Kind != KindStream {
			continue
		}
		if i == index {
			return p, true
		}
		i++
	}
	return Port{}, false
}

// StreamPorts returns the stream ports of n in the given direction.
func StreamPorts(n Node, dir Direction) []Port {
	var out []Port
	for _, p := range ports(n, dir) {
		if p.Kind == KindStream {
			out = append(out, p)
		}
	}
	return out
}

func ports(n Node, dir Direction) []Port {
	if dir == DirectionInput {
		return n.Inputs()
	}
	return n.Outputs()
}

func label(n Node) string {
	return fmt.Sprintf("%s(%d)", n.Name(), n.ID())
}
