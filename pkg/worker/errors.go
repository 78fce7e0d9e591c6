package worker

import (
	"fmt"

	"github.com/c360/streamrt/errors"
)

// Pool errors wrap the shared lifecycle sentinels, so errors.Is matches
// either name.
var (
	ErrPoolNotStarted     = fmt.Errorf("worker pool: %w", errors.ErrNotStarted)
	ErrPoolAlreadyStarted = fmt.Errorf("worker pool: %w", errors.ErrAlreadyStarted)
	ErrPoolStopped        = fmt.Errorf("worker pool: %w", errors.ErrAlreadyStopped)
	// ErrQueueFull is returned by Submit; the caller keeps the item.
	ErrQueueFull    = fmt.Errorf("worker pool queue full")
	ErrNilProcessor = fmt.Errorf("worker pool: nil processor")
	// ErrStopTimeout means some processor was still running when Stop gave
	// up waiting.
	ErrStopTimeout = fmt.Errorf("worker pool: timed out waiting for workers")
)
