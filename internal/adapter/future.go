package adapter

import "context"

// Future is a single-producer/single-consumer one-shot cell. The
// adapter's reader goroutine holds the sole writer capability
// (Resolve/Fail); a single caller holds the sole reader capability (Wait).
// There is no Reset: re-arming for the next event means constructing and
// installing a fresh Future, which is how attribute reads and
// notification subscriptions are renewed between calls.
type Future[T any] struct {
	ch chan result[T]
}

type result[T any] struct {
	value T
	err   error
}

// NewFuture returns an unresolved Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{ch: make(chan result[T], 1)}
}

// Resolve completes the future with a value. A future can only be resolved
// or failed once; subsequent calls are no-ops.
func (f *Future[T]) Resolve(v T) {
	select {
	case f.ch <- result[T]{value: v}:
	default:
	}
}

// Fail completes the future with an error.
func (f *Future[T]) Fail(err error) {
	select {
	case f.ch <- result[T]{err: err}:
	default:
	}
}

// Done reports whether the future has already been resolved or failed,
// without consuming the result.
func (f *Future[T]) Done() bool {
	select {
	case r := <-f.ch:
		// Put it back so Wait still observes it.
		f.ch <- r
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves, fails, or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case r := <-f.ch:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
