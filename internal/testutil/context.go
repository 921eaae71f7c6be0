// Package testutil provides testing utilities for coral-profiler.
package testutil

import (
	"context"
	"testing"
	"time"
)

// NewTestContext returns a context with a 30-second timeout that is canceled
// when the test completes.
func NewTestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Eventually polls cond every 5ms until it returns true or the timeout
// elapses, then fails the test.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
