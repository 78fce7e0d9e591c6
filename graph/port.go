package graph

import "fmt"

// Kind distinguishes sample streams from asynchronous message ports.
type Kind int

// Port kinds
const (
	KindStream Kind = iota
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindMessage:
		return "message"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Direction for data flow
type Direction string

// Direction constants for port data flow
const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Unbounded is the MaxEdges value of ports accepting any number of edges.
const Unbounded = -1

// Port describes one input or output of a node.
type Port struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Direction Direction `json:"direction"`
	// ItemSize is the size of one stream item in bytes. Zero for message
	// ports.
	ItemSize int `json:"item_size,omitempty"`
	// MinEdges and MaxEdges bound the number of edges the port accepts.
	MinEdges int `json:"min_edges"`
	MaxEdges int `json:"max_edges"`
	// Index is the position in the node's port list of this direction.
	Index int `json:"index"`
}

// StreamIn declares a mandatory single-edge stream input.
func StreamIn(name string, itemSize int) Port {
	return Port{Name: name, Kind: KindStream, Direction: DirectionInput, ItemSize: itemSize, MinEdges: 1, MaxEdges: 1}
}

// StreamOut declares a stream output feeding one or more consumers.
func StreamOut(name string, itemSize int) Port {
	return Port{Name: name, Kind: KindStream, Direction: DirectionOutput, ItemSize: itemSize, MinEdges: 1, MaxEdges: Unbounded}
}

// MessageIn declares a message input.
func MessageIn(name string) Port {
	return Port{Name: name, Kind: KindMessage, Direction: DirectionInput, MaxEdges: Unbounded}
}

// MessageOut declares a message output.
func MessageOut(name string) Port {
	return Port{Name: name, Kind: KindMessage, Direction: DirectionOutput, MaxEdges: Unbounded}
}

// Optional returns a copy of p that may stay unconnected.
func (p Port) Optional() Port {
	p.MinEdges = 0
	return p
}

// Accepts reports whether one more edge fits a port that has n edges.
func (p Port) Accepts(n int) bool {
	return p.MaxEdges == Unbounded || n < p.MaxEdges
}

func (p Port) String() string {
	return fmt.Sprintf("%s %s %s", p.Direction, p.Kind, p.Name)
}

// Endpoint references one port of one node.
type Endpoint struct {
	Node NodeID `json:"node"`
	Port int    `json:"port"`
}
