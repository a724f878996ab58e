package relay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errPanicked = errors.New("panicked")

// callBounded runs fn with a context that expires after d and returns once fn
// finishes or the deadline passes, whichever is first. fn keeps running in the
// background if it ignores its context. A panic in fn is returned as an error.
func callBounded(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("%w: %v", errPanicked, rec)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
