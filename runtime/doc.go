// Package runtime owns a flow graph for its whole life: it flattens the
// graph, allocates one buffer per connected stream output, wires message
// edges, binds blocks to their schedulers and drives the run.
//
// Blocks are grouped into partitions, each executed by its own
// scheduler.ThreadPool. Blocks nobody assigned run on the "default"
// scheduler. An edge between partitions must use a backend that can be
// driven by two schedulers at once; Initialize fails with a fatal
// ErrBufferAllocation otherwise.
//
// Lifecycle:
//
//	Uninitialized --Initialize--> Initialized --Start--> Running
//	Running --(all done | Stop | fatal error)--> Stopped
//	Running --Kill--> Killed
//	Stopped, Killed --Initialize--> Initialized
//
// Wait returns the first fatal error of the run, or the block errors joined
// in scheduler order. Block errors stop only the failing block; a fatal
// error stops every partition.
//
// Configuration comes from options or from a config.Config:
//
//	rt := runtime.New(append(runtime.OptionsFromConfig(cfg),
//	    runtime.WithLogger(logger),
//	    runtime.WithMetricsRegistry(registry),
//	    runtime.WithHealthMonitor(monitor))...)
//	parts, err := runtime.PartitionsFromConfig(cfg, blocks)
package runtime
