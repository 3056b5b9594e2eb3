// Package poll is a bounded polling primitive shared by every wait step in
// sandbox provisioning. Cluster scheduling latency is wall-clock variable, so
// waits are expressed as deadlines, not retry counts.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultInterval is the fixed delay between probe attempts.
	DefaultInterval = 2 * time.Second
	// DefaultReadyTimeout bounds the scheduling and readiness waits.
	DefaultReadyTimeout = 300 * time.Second
	// DefaultBindTimeout bounds the PVC bind wait.
	DefaultBindTimeout = 120 * time.Second
)

// ErrDeadline marks a wait that ran out of time without the probe ever
// reporting a fatal condition. Callers distinguish it from fatal probe
// errors with errors.Is.
var ErrDeadline = errors.New("deadline exceeded")

// Result is a probe's verdict for a single observation.
type Result int

const (
	// Retry means the observed state is transient; keep polling.
	Retry Result = iota
	// Done means the awaited state has been reached.
	Done
)

// Probe inspects the current state once. Returning a non-nil error is fatal
// and stops the wait immediately.
type Probe func(ctx context.Context) (Result, error)

// Wait runs probe every interval until it reports Done, fails, the timeout
// elapses, or ctx is cancelled. Cancellation is checked between polls so an
// interrupted process never hangs inside a wait.
func Wait(ctx context.Context, timeout, interval time.Duration, probe Probe) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		res, err := probe(ctx)
		if err != nil {
			return err
		}
		if res == Done {
			return nil
		}
		if !time.Now().Add(interval).Before(deadline) {
			return fmt.Errorf("%w after %s", ErrDeadline, timeout)
		}
		timer.Reset(interval)
	}
}
