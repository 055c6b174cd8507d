// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package timeout bounds the execution time of blocking operations.
//
// External calls (vector search, batch upserts) run through Run so a hung
// backend degrades into a typed TimeoutError instead of wedging the caller.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutError indicates an operation exceeded its time budget.
type TimeoutError struct {
	Op      string
	Seconds float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out after %.0f seconds", e.Op, e.Seconds)
}

// IsTimeout checks if an error is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// result pairs a value with the error returned alongside it.
type result[T any] struct {
	value T
	err   error
}

// Run executes op with a deadline of d.
//
// # Description
//
// Run derives a child context with the given timeout and invokes op in a
// separate goroutine. If op returns before the deadline, its value and
// error pass through unchanged. If the deadline fires first, Run returns a
// zero value and a *TimeoutError; cancellation of op is best-effort via
// the child context, and the goroutine is left to drain into a buffered
// channel so an op that ignores its context cannot leak a blocked
// goroutine.
//
// # Inputs
//
//   - ctx: Parent context. Its own cancellation also aborts the wait.
//   - op: Name of the operation, used in the error message.
//   - d: Time budget. Non-positive d means no deadline beyond ctx.
//   - fn: The operation. It must honor ctx cancellation to be truly
//     cancelable; Run does not force-kill it.
//
// # Outputs
//
//   - T: fn's value, or the zero value on timeout.
//   - error: fn's error, a *TimeoutError, or ctx.Err().
func Run[T any](ctx context.Context, op string, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	runCtx := ctx
	var cancel context.CancelFunc
	if d > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	// Buffered so the goroutine can always complete its send.
	done := make(chan result[T], 1)
	go func() {
		v, err := fn(runCtx)
		done <- result[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			// The parent was canceled, not our deadline.
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Op: op, Seconds: d.Seconds()}
	}
}
