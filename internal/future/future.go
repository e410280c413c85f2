// Package future provides a value that is resolved exactly once and can be
// awaited by any number of readers.
package future

import (
	"context"
	"sync"
)

type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve sets the value. Only the first call to Resolve or Reject has an
// effect, it reports whether this call was the one.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) (ok bool) {
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
		ok = true
	})
	return
}

// Done is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future is settled or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
