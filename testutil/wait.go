package testutil

import (
	"context"
	"testing"
	"time"
)

// PollInterval is how often WaitFor re-evaluates its condition.
const PollInterval = 5 * time.Millisecond

// WaitFor polls cond until it holds or timeout elapses, then fails t with
// the formatted description.
func WaitFor(t testing.TB, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	if !Eventually(timeout, cond) {
		t.Fatalf("timeout waiting for "+format, args...)
	}
}

// Eventually reports whether cond became true within timeout.
func Eventually(timeout time.Duration, cond func() bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return cond()
		case <-ticker.C:
		}
	}
}

// Context returns a context cancelled after timeout or at test cleanup.
func Context(t testing.TB, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
