package testutil

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimeout bounds Collect and CollectUntil when no timeout is given.
const DefaultTimeout = 5 * time.Second

// Collect reads exactly n values from next, typically a subscription's
// Next method. It fails if the stream ends or the timeout elapses first;
// the values read so far are returned either way.
func Collect[T any](ctx context.Context, next func(context.Context) (T, error), n int, timeout time.Duration) ([]T, error) {
	out := make([]T, 0, n)
	if n <= 0 {
		return out, nil
	}
	_, err := CollectUntil(ctx, next, func(v T) bool {
		out = append(out, v)
		return len(out) == n
	}, timeout)
	if err != nil {
		return out, fmt.Errorf("collected %d of %d: %w", len(out), n, err)
	}
	return out, nil
}

// CollectUntil reads values from next until stop reports true for one of
// them. The returned slice ends with that value.
func CollectUntil[T any](ctx context.Context, next func(context.Context) (T, error), stop func(T) bool, timeout time.Duration) ([]T, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []T
	for {
		v, err := next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, v)
		if stop(v) {
			return out, nil
		}
	}
}
