package block

import (
	"context"
	"fmt"

	"github.com/c360/streamrt/graph"
	"github.com/c360/streamrt/message"
)

// WorkStatus is what Work reports about its progress.
type WorkStatus int

// Work statuses
const (
	// StatusOK means progress was made; call again when room or data exists.
	StatusOK WorkStatus = iota
	// StatusDone means the block will never produce again.
	StatusDone
	// StatusBlockedOnInput means more input is needed before progress.
	StatusBlockedOnInput
	// StatusBlockedOnOutput means more output room is needed.
	StatusBlockedOnOutput
	// StatusMessageOnly means the block has no stream work at all.
	StatusMessageOnly
)

func (s WorkStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDone:
		return "done"
	case StatusBlockedOnInput:
		return "blocked_on_input"
	case StatusBlockedOnOutput:
		return "blocked_on_output"
	case StatusMessageOnly:
		return "message_only"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Block is a graph node implementing the work contract.
type Block interface {
	graph.Node

	// Work processes the windows in io. It runs on one goroutine at a time
	// and must return in bounded time.
	Work(ctx context.Context, io *WorkIO) (WorkStatus, error)

	// Settings returns the scheduling attributes.
	Settings() Settings

	// MessageInputs returns the input message ports in declaration order.
	MessageInputs() []*message.InPort
	// MessageOutputs returns the output message ports in declaration order.
	MessageOutputs() []*message.OutPort
}

// Forecaster is implemented by general-rate blocks. Forecast fills
// required[i] with the number of items input i needs to produce noutput
// items.
type Forecaster interface {
	Forecast(noutput int, required []int)
}

// Starter is implemented by blocks that acquire resources when the runtime
// starts.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by blocks that release resources after their
// scheduler exited.
type Stopper interface {
	Stop() error
}

// MessageInput returns b's input message port called name.
func MessageInput(b Block, name string) (*message.InPort, bool) {
	for _, p := range b.MessageInputs() {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// MessageOutput returns b's output message port called name.
func MessageOutput(b Block, name string) (*message.OutPort, bool) {
	for _, p := range b.MessageOutputs() {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// HasStreams reports whether b has any stream port.
func HasStreams(b Block) bool {
	return len(graph.StreamPorts(b, graph.DirectionInput)) > 0 ||
		len(graph.StreamPorts(b, graph.DirectionOutput)) > 0
}
