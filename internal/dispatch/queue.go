// Package dispatch provides the client's single "UI thread": a serial
// queue on which every change to forms, registries and the tree runs.
// Background work computes its result elsewhere and posts the
// continuation back here.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"
)

// ErrStopped is returned when work is offered to a stopped queue.
var ErrStopped = errors.New("dispatch queue stopped")

type onQueueKey struct{}

type task struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Queue runs posted functions one at a time in a single goroutine.
type Queue struct {
	tasks chan task
	stop  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a queue with room for bufSize pending tasks.
func New(bufSize int) *Queue {
	if bufSize < 1 {
		bufSize = 256
	}
	return &Queue{
		tasks: make(chan task, bufSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start begins the consumer goroutine. It runs tasks until ctx is
// cancelled or Stop is called. Only the first call on a queue that is not
// stopped has any effect.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	qctx := context.WithValue(ctx, onQueueKey{}, q)
	go func() {
		defer close(q.done)
		for {
			select {
			case t := <-q.tasks:
				q.run(qctx, t)
			case <-ctx.Done():
				return
			case <-q.stop:
				q.drain(qctx)
				return
			}
		}
	}()
}

func (q *Queue) run(ctx context.Context, t task) {
	if t.done != nil {
		defer close(t.done)
	}
	t.fn(ctx)
}

// drain runs whatever was queued before Stop.
func (q *Queue) drain(ctx context.Context) {
	if n := len(q.tasks); n > 0 {
		glog.V(2).Infof("dispatch: draining %d tasks on stop", n)
	}
	for {
		select {
		case t := <-q.tasks:
			q.run(ctx, t)
		default:
			return
		}
	}
}

// OnQueue reports whether ctx belongs to a task running on q.
func (q *Queue) OnQueue(ctx context.Context) bool {
	v, _ := ctx.Value(onQueueKey{}).(*Queue)
	return v != nil && v == q
}

// Post schedules fn without waiting for it. A nil queue runs fn
// immediately on the caller's goroutine.
func (q *Queue) Post(ctx context.Context, fn func(ctx context.Context)) error {
	if q == nil {
		fn(ctx)
		return nil
	}
	if q.stopped() {
		return ErrStopped
	}
	select {
	case q.tasks <- task{fn: fn}:
		return nil
	case <-q.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invoke runs fn on the queue and waits for it to finish. Called from a
// task already on the queue, fn runs inline.
func (q *Queue) Invoke(ctx context.Context, fn func(ctx context.Context)) error {
	if q == nil || q.OnQueue(ctx) {
		fn(ctx)
		return nil
	}
	if q.stopped() {
		return ErrStopped
	}
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case q.tasks <- t:
	case <-q.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.done:
		return nil
	case <-q.done:
		// The consumer exited; the task either ran during the drain or
		// never will.
		select {
		case <-t.done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) stopped() bool {
	select {
	case <-q.stop:
		return true
	default:
		return false
	}
}

// Stop runs the tasks already queued and waits for the consumer to exit.
// A queue that was never started has no consumer; its pending tasks are
// dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.stop)
		if !q.started {
			close(q.done)
		}
	}
	q.mu.Unlock()
	<-q.done
}

// Detach returns ctx without the marker that makes Invoke run inline, for
// handing a queue task's context to a background goroutine.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, onQueueKey{}, (*Queue)(nil))
}
