// Package streamrt is a streaming dataflow runtime: blocks connected by
// typed stream edges and asynchronous message edges, executed by goroutine
// schedulers over zero-copy circular buffers.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│             runtime                 │  Initialize, Start, Stop,
//	│  (buffer manager, partitions)       │  Wait, Kill, Shutdown
//	└─────────────────────────────────────┘
//	           ↓ binds
//	┌─────────────────────────────────────┐
//	│            scheduler                │  ThreadPool per partition,
//	│   (executor, worker pool, parking)  │  work calls, message delivery
//	└─────────────────────────────────────┘
//	           ↓ calls
//	┌─────────────────────────────────────┐
//	│         block / blocks              │  Work contract, settings,
//	│   (ports, tags, message handlers)   │  reference blocks
//	└─────────────────────────────────────┘
//	           ↓ reads and writes
//	┌─────────────────────────────────────┐
//	│             buffer                  │  host (vmcirc), device,
//	│   (registry of backends)            │  network (netbuf)
//	└─────────────────────────────────────┘
//
// # Packages
//
//   - graph: nodes, ports, edges, composite flattening and validation
//   - block: the block contract, Base, settings and work I/O views
//   - blocks: reference blocks (sources, sinks, copy, head, message blocks)
//   - buffer: buffer contract, registry and the host ring
//   - buffer/vmcirc: wrap-invisible circular memory
//   - buffer/device: simulated accelerator backend
//   - buffer/netbuf: network backend over NATS or WebSocket
//   - tag: stream tags and propagation policies
//   - message: message values, msgpack codec and message ports
//   - scheduler: ThreadPool scheduler and executor
//   - runtime: lifecycle, partitions and buffer allocation
//   - config, errors, metric, health, natsclient, testutil: ambient support
//
// # Example
//
//	g := graph.New()
//	src, _ := blocks.NewVectorSource("src", data, false, nil)
//	cp, _ := blocks.NewCopy("copy", 4)
//	sink, _ := blocks.NewVectorSink[float32]("sink")
//	_ = g.AddNode(src)
//	_ = g.AddNode(cp)
//	_ = g.AddNode(sink)
//	_, _ = g.Connect(src, "out", cp, "in")
//	_, _ = g.Connect(cp, "out", sink, "in")
//
//	rt := runtime.New(runtime.WithLogger(logger))
//	if err := rt.Initialize(g); err != nil {
//	    return err
//	}
//	return rt.Run(ctx)
package streamrt
