package zsel

import (
	"context"
	"net"
	"sync"
)

// CompletionHandler receives the outcome of a single read or write call.
type CompletionHandler[R any] interface {
	Completed(result R)
	Failed(err error)
}

// CompletionFuncs adapts a pair of functions to CompletionHandler. Nil fields are skipped.
type CompletionFuncs[R any] struct {
	OnCompleted func(result R)
	OnFailed    func(err error)
}

func (f CompletionFuncs[R]) Completed(result R) {
	if f.OnCompleted != nil {
		f.OnCompleted(result)
	}
}

func (f CompletionFuncs[R]) Failed(err error) {
	if f.OnFailed != nil {
		f.OnFailed(err)
	}
}

// WriteResult accumulates the progress of one write call.
type WriteResult struct {
	Conn    Connection
	Message WritableMessage
	Dst     net.Addr
	Written int64
}

// ReadResult is the outcome of one read call.
type ReadResult[M any, L any] struct {
	Conn    Connection
	Message M
	Src     L
	Read    int
}

// Future is a CompletionHandler that can be waited on.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) Completed(result T) {
	f.once.Do(func() {
		f.value = result
		close(f.done)
	})
}

func (f *Future[T]) Failed(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future is completed or failed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get blocks until the future resolves or ctx is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
