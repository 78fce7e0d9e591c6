package scheduler

import (
	"fmt"
	"sync/atomic"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/graph"
	"github.com/c360/streamrt/message"
)

// Execution states of a task. Only the goroutine that moved a task to
// taskRunning may call Work on it.
const (
	taskIdle int32 = iota
	taskQueued
	taskRunning
)

// task is the scheduler's view of one bound block.
type task struct {
	b          block.Block
	id         graph.NodeID
	name       string
	settings   block.Settings
	forecaster block.Forecaster
	streams    bool

	inputs  []buffer.Reader
	outputs []buffer.Buffer
	msgIn   []*message.InPort

	io         *block.WorkIO
	ins        []*block.Input
	outs       []*block.Output
	scratch    [][]byte
	required   []int
	consumed   []int
	writerDone []bool

	sched  atomic.Int32
	dirty  atomic.Bool
	done   atomic.Bool
	status atomic.Int32

	iterations atomic.Uint64
	produced   atomic.Uint64
	consumedN  atomic.Uint64
}

func newTask(b Binding) (*task, error) {
	if b.Block == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil block"), "Scheduler", "Bind", "bind block")
	}
	blk := b.Block
	nin := len(graph.StreamPorts(blk, graph.DirectionInput))
	outPorts := graph.StreamPorts(blk, graph.DirectionOutput)
	if len(b.Inputs) != nin || len(b.Outputs) != len(outPorts) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%s(%d) has %d/%d stream ports, bound %d/%d",
				blk.Name(), blk.ID(), nin, len(outPorts), len(b.Inputs), len(b.Outputs)),
			"Scheduler", "Bind", "bind block")
	}
	for i, rd := range b.Inputs {
		if rd == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s(%d) stream input %d", errors.ErrUnconnectedPort, blk.Name(), blk.ID(), i),
				"Scheduler", "Bind", "bind block")
		}
	}

	t := &task{
		b:          blk,
		id:         blk.ID(),
		name:       blk.Name(),
		settings:   blk.Settings(),
		streams:    block.HasStreams(blk),
		inputs:     b.Inputs,
		outputs:    b.Outputs,
		msgIn:      blk.MessageInputs(),
		required:   make([]int, nin),
		consumed:   make([]int, nin),
		writerDone: make([]bool, nin),
		scratch:    make([][]byte, len(outPorts)),
	}
	t.forecaster, _ = blk.(block.Forecaster)
	t.status.Store(int32(BlockedOnInput))

	for _, rd := range b.Inputs {
		t.ins = append(t.ins, &block.Input{
			History:  rd.History(),
			ItemSize: rd.Buffer().ItemSize(),
			Reader:   rd,
		})
	}
	for i, p := range outPorts {
		t.outs = append(t.outs, &block.Output{ItemSize: p.ItemSize, Buffer: b.Outputs[i]})
	}
	t.io = &block.WorkIO{Block: t.name, Inputs: t.ins, Outputs: t.outs}
	return t, nil
}

func (t *task) label() string {
	return fmt.Sprintf("%s(%d)", t.name, t.id)
}

// outputsAbandoned reports that nothing will ever read what the block
// produces.
func (t *task) outputsAbandoned() bool {
	connected := 0
	for _, buf := range t.outputs {
		if buf == nil {
			continue
		}
		connected++
		if !buf.ReadersDone() {
			return false
		}
	}
	return connected > 0
}

// clampOutput applies the max and multiple constraints to n.
func (t *task) clampOutput(n int) int {
	s := t.settings
	if s.MaxNOutput > 0 && n > s.MaxNOutput {
		n = s.MaxNOutput
	}
	return n - n%s.OutputMultiple
}

// forecast fills t.required for noutput items.
func (t *task) forecast(noutput int) {
	switch {
	case t.forecaster != nil:
		t.forecaster.Forecast(noutput, t.required)
	case t.settings.FixedRate():
		need := t.settings.Forecast(noutput)
		for i := range t.required {
			t.required[i] = need
		}
	default:
		for i := range t.required {
			t.required[i] = 1
		}
	}
}

func (t *task) satisfied() bool {
	for i, in := range t.ins {
		if in.Available < t.required[i] {
			return false
		}
	}
	return true
}

// fitInputs shrinks noutput until every input holds what the block needs.
func (t *task) fitInputs(noutput int) (int, bool) {
	s := t.settings
	if t.forecaster == nil && s.FixedRate() {
		for _, in := range t.ins {
			noutput = min(noutput, s.OutputFor(in.Available))
		}
		noutput = t.clampOutput(noutput)
		return noutput, noutput >= s.MinNOutput
	}
	for noutput >= s.MinNOutput {
		t.forecast(noutput)
		if t.satisfied() {
			return noutput, true
		}
		next := t.clampOutput(noutput / 2)
		if next == noutput {
			break
		}
		noutput = next
	}
	return 0, false
}

// inputsFinished reports whether some input can never again hold the
// minimum the block needs.
func (t *task) inputsFinished() bool {
	t.forecast(t.settings.MinNOutput)
	for i, in := range t.ins {
		if t.writerDone[i] && in.Available < t.required[i] {
			return true
		}
	}
	return false
}

func (t *task) stats() BlockStats {
	return BlockStats{
		ID:         t.id,
		Name:       t.name,
		Status:     IterationStatus(t.status.Load()).String(),
		Iterations: t.iterations.Load(),
		Produced:   t.produced.Load(),
		Consumed:   t.consumedN.Load(),
		Done:       t.done.Load(),
	}
}
