// Package testutil provides test utilities for the ledger client: a deterministic
// in-memory client/server pair driven by a virtual clock, and a WebSocket mock server.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// WaitFor is a generic utility to wait for a condition to be true.
// It returns an error if the condition does not become true within the timeout.
func WaitFor(t *testing.T, description string, timeout time.Duration, condition func() bool) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("condition '%s' not met within %v", description, timeout)
}

// WaitForWithContext waits for a condition until ctx is done.
func WaitForWithContext(ctx context.Context, t *testing.T, description string, condition func() bool) error {
	t.Helper()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled while waiting for condition '%s': %v", description, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Recv waits up to timeout for a value on ch.
func Recv[T any](t *testing.T, ch <-chan T, timeout time.Duration) (T, bool) {
	t.Helper()
	select {
	case v, ok := <-ch:
		return v, ok
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}
