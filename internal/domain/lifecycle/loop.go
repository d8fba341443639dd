package lifecycle

import (
	"context"
	"errors"
)

// ErrEngineClosed is returned for operations posted after shutdown.
var ErrEngineClosed = errors.New("lifecycle: engine closed")

// loop is the single logical owner of all session state, the cache and
// the minimization slot. Every mutation funnels through its task queue;
// I/O results are posted back instead of mutating from foreign
// goroutines.
type loop struct {
	tasks   chan func()
	closing chan struct{}
	done    chan struct{}
}

func newLoop() *loop {
	l := &loop{
		tasks:   make(chan func(), 1024),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) run() {
	defer close(l.done)
	for {
		select {
		case task := <-l.tasks:
			task()
		case <-l.closing:
			// Drain whatever was queued before shutdown so settle
			// notifications are not lost.
			for {
				select {
				case task := <-l.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

func (l *loop) close() {
	select {
	case <-l.closing:
	default:
		close(l.closing)
	}
	<-l.done
}

// post enqueues a task without waiting for it. Safe to call from a task
// already running on the loop.
func (l *loop) post(task func()) {
	select {
	case <-l.closing:
	case l.tasks <- task:
	}
}

// call runs fn on the loop and suspends the caller until it finishes.
// Must not be invoked from the loop itself.
func call[T any](l *loop, ctx context.Context, fn func() T) (T, error) {
	var zero T
	result := make(chan T, 1)
	select {
	case <-l.closing:
		return zero, ErrEngineClosed
	case l.tasks <- func() { result <- fn() }:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-result:
		return v, nil
	case <-l.done:
		return zero, ErrEngineClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
