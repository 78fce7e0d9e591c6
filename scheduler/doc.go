// Package scheduler drives blocks: it decides when each block's Work runs,
// prepares its input and output windows, commits what it consumed and
// produced, propagates tags and delivers queued messages.
//
// ThreadPool is the stock Scheduler. It runs ready blocks on a fixed pool of
// worker goroutines and parks blocked ones until a buffer or message port
// notifies them. A block is never executed by two workers at once: each
// block moves through idle, queued and running, and a dirty bit records
// notifications that arrive while it runs.
//
// Lifecycle of one Run:
//
//	Idle -> Working -> Done -> Flushed -> Exit
//
// Done is reached when every stream block finished or the context was
// cancelled; Flushed once pending messages were delivered; Exit after every
// output was marked done and every input detached.
package scheduler
