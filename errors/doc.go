// Package errors implements the engine's error taxonomy.
//
// # Classification
//
// Every error returned by streamrt packages belongs to one of three classes:
//
//   - Transient: temporary conditions such as a dropped transport connection (retry)
//   - Invalid: bad topology or configuration, e.g. ErrTypeMismatch (do not retry)
//   - Fatal: unrecoverable for the current run, e.g. ErrBufferAllocation
//
// Recoverable stream conditions (a full output buffer, an empty input buffer)
// are never errors; blocks report them as work statuses.
//
// # Engine sentinels
//
//	ErrTypeMismatch           graph.Connect, incompatible ports
//	ErrUnconnectedPort        graph.Flatten and runtime.Initialize
//	ErrBufferAllocation       runtime.Initialize, prevents Start
//	ErrWorkContractViolation  scheduler, block over-consumed or over-produced
//	ErrBlockRuntime           scheduler, error or panic escaping Work
//
// Block failures are reported as *BlockError, which unwraps to both its kind
// sentinel and the underlying cause:
//
//	if errors.Is(err, errors.ErrBlockRuntime) {
//	    var be *errors.BlockError
//	    errors.As(err, &be)
//	    log.Error("block failed", "block", be.Block, "error", be.Err)
//	}
//
// # Wrapping
//
// All wrapping follows "component.method: action failed: %w":
//
//	errors.WrapInvalid(err, "Graph", "Connect", "port compatibility")
//	errors.WrapFatal(err, "BufferManager", "Allocate", "backend make")
//	errors.WrapTransient(err, "NATSTransport", "Publish", "send frame")
package errors
