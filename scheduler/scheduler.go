package scheduler

import (
	"context"
	"fmt"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/graph"
)

// State is the lifecycle state of a scheduler.
type State int32

// Scheduler states
const (
	StateIdle State = iota
	StateWorking
	StateDone
	StateFlushed
	StateExit
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWorking:
		return "working"
	case StateDone:
		return "done"
	case StateFlushed:
		return "flushed"
	case StateExit:
		return "exit"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IterationStatus is the executor's verdict after one visit of a block.
type IterationStatus int

// Iteration statuses
const (
	// Ready means the block made progress and should run again.
	Ready IterationStatus = iota
	// ReadyNoOutput means input was consumed but nothing produced.
	ReadyNoOutput
	// BlockedOnInput parks the block until an input buffer changes.
	BlockedOnInput
	// BlockedOnOutput parks the block until an output buffer frees space.
	BlockedOnOutput
	// Done removes the block from stream scheduling.
	Done
	// MessageOnly marks a block without stream ports.
	MessageOnly
)

func (s IterationStatus) String() string {
	switch s {
	case Ready:
		return "ready"
	case ReadyNoOutput:
		return "ready_no_output"
	case BlockedOnInput:
		return "blocked_on_input"
	case BlockedOnOutput:
		return "blocked_on_output"
	case Done:
		return "done"
	case MessageOnly:
		return "message_only"
	default:
		return fmt.Sprintf("iteration(%d)", int(s))
	}
}

// Binding is one block together with the buffers of its stream ports.
type Binding struct {
	Block block.Block
	// Inputs holds one reader per stream input, by stream index.
	Inputs []buffer.Reader
	// Outputs holds one buffer per stream output, by stream index. A nil
	// entry is an unconnected optional output.
	Outputs []buffer.Buffer
}

// Scheduler executes a fixed set of blocks.
type Scheduler interface {
	// Name identifies the scheduler in logs and metrics.
	Name() string
	// Bind hands the scheduler its blocks. Allowed before the first Run and
	// after a Run returned.
	Bind(bindings []Binding) error
	// Run executes until every stream block is done, a fatal error occurs
	// or ctx is cancelled. Cancellation is not an error.
	Run(ctx context.Context) error
	// RunOneIteration visits every block once on the calling goroutine.
	// Only valid while the scheduler is bound and not running.
	RunOneIteration(ctx context.Context) (Step, error)
	// State returns the lifecycle state.
	State() State
	// Stats returns a snapshot of per-block progress.
	Stats() Stats
}

// Step is the outcome of RunOneIteration.
type Step struct {
	Statuses map[graph.NodeID]IterationStatus
	// Finished is set once every stream block is done.
	Finished bool
}

// Stats is a point-in-time view of a scheduler.
type Stats struct {
	Name   string       `json:"name"`
	State  string       `json:"state"`
	Blocks []BlockStats `json:"blocks"`
	Errors int          `json:"errors"`
}

// BlockStats describes one block.
type BlockStats struct {
	ID         graph.NodeID `json:"id"`
	Name       string       `json:"name"`
	Status     string       `json:"status"`
	Iterations uint64       `json:"iterations"`
	Produced   uint64       `json:"produced"`
	Consumed   uint64       `json:"consumed"`
	Done       bool         `json:"done"`
}
