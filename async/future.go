// Package async provides pending results for engine operations.
package async

import (
	"context"
	"sync"
)

// Future is a pending result that resolves exactly once.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
	once  sync.Once
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.done)
	})
}

// Go runs fn on its own goroutine and returns its pending result.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	go func() {
		v, err := fn()
		f.resolve(v, err)
	}()
	return f
}

// Resolved returns a future already holding v.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.resolve(v, nil)
	return f
}

// Failed returns a future already holding err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.resolve(zero, err)
	return f
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx ends.
// A ctx that ends first yields a timeout or canceled error; the underlying
// operation keeps running and its result is discarded.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}

	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, Abandoned("await", ctx.Err())
	}
}

// Result returns the resolved value without blocking. ok is false while pending.
func (f *Future[T]) Result() (v T, ok bool, err error) {
	select {
	case <-f.done:
		return f.value, true, f.err
	default:
		return v, false, nil
	}
}

// Then chains next onto f. A failure in f resolves the returned future with
// the same error and next never runs.
func Then[T, U any](ctx context.Context, f *Future[T], next func(T) *Future[U]) *Future[U] {
	out := newFuture[U]()
	go func() {
		v, err := f.Await(ctx)
		if err != nil {
			var zero U
			out.resolve(zero, err)
			return
		}
		u, err := next(v).Await(ctx)
		out.resolve(u, err)
	}()
	return out
}

// Map transforms the value of f once it resolves successfully.
func Map[T, U any](ctx context.Context, f *Future[T], fn func(T) (U, error)) *Future[U] {
	return Then(ctx, f, func(v T) *Future[U] {
		u, err := fn(v)
		if err != nil {
			return Failed[U](err)
		}
		return Resolved(u)
	})
}
