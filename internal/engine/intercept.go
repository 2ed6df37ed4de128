package engine

import (
	"fmt"

	"github.com/roach88/knot/internal/ir"
)

// Interceptor observes (and may replace) every value flowing through a
// State, Change or Action stream. Interceptors run in registration order,
// each receiving the output of the previous one.
type Interceptor[T ir.Tagged] func(T) T

// chain is an ordered interceptor pipeline. A nil chain is the identity.
type chain[T ir.Tagged] []Interceptor[T]

// apply runs v through every interceptor in order.
func (c chain[T]) apply(v T) T {
	for _, intercept := range c {
		v = intercept(v)
	}
	return v
}

// run applies the chain for the knot knotID. A panic in any interceptor
// becomes an INTERCEPTOR_FAILED error tagged with the incoming value.
func (c chain[T]) run(knotID string, v T) (out T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = newFailure(ErrCodeInterceptorFailed, knotID, ir.TagOf(v), "", fmt.Errorf("panic: %v", p))
		}
	}()
	return c.apply(v), nil
}

// watch builds an interceptor that calls fn for values matching tag and
// always forwards the original value unchanged.
func watch[T ir.Tagged](tag ir.Tag, fn func(T)) Interceptor[T] {
	return func(v T) T {
		if ir.Present(v) && tag.Matches(v.Tag()) {
			fn(v)
		}
		return v
	}
}
