package recognition

import (
	"context"
	"sync"
)

// Future is the single-resolution result of a one-shot recognition.
type Future[R any] struct {
	done   chan struct{}
	once   sync.Once
	result R
	err    error

	cancel func()
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func failedFuture[R any](err error) *Future[R] {
	f := newFuture[R]()
	var zero R
	f.resolve(zero, err)
	return f
}

// resolve settles the future. Only the first call has an effect.
func (f *Future[R]) resolve(result R, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.result, f.err = result, err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future[R]) Done() <-chan struct{} { return f.done }

// Get waits for the result. Giving up through ctx leaves the recognition
// running; use Cancel to stop it.
func (f *Future[R]) Get(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Cancel cancels the pending recognition. The future resolves with a
// CanceledError carrying ReasonRequested unless it was already resolved.
func (f *Future[R]) Cancel() {
	select {
	case <-f.done:
		return
	default:
	}
	if f.cancel != nil {
		f.cancel()
	}
}
