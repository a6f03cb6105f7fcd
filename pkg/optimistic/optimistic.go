// Package optimistic provides a bounded read-modify-write loop for versioned
// resources (the campaign bucket today, any revision-conditioned store
// tomorrow).
package optimistic

import (
	"context"
	"errors"
	"fmt"
)

// ErrConflict must be returned (or wrapped) by the write func when the
// revision it was given is stale. Any other error aborts the loop.
var ErrConflict = errors.New("revision conflict")

// ErrNoChange can be returned by the mutate func to skip the write entirely;
// Update then returns nil.
var ErrNoChange = errors.New("no change")

// Update reads the current value and revision, applies mutate and writes the
// result conditioned on that revision, retrying the whole cycle on conflicts
// up to maxAttempts times.
func Update[T any](
	ctx context.Context,
	maxAttempts int,
	read func(ctx context.Context) (T, uint64, error),
	mutate func(value T) (T, error),
	write func(ctx context.Context, value T, revision uint64) error,
) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		value, revision, err := read(ctx)
		if err != nil {
			return err
		}

		mutated, err := mutate(value)
		if err != nil {
			if errors.Is(err, ErrNoChange) {
				return nil
			}
			return err
		}

		err = write(ctx, mutated, revision)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("optimistic update gave up after %d attempts: %w", maxAttempts, lastErr)
}
