// Package dispatch provides the serial execution contexts the BLE stack runs on:
// a background queue that receives every platform callback, and the process-wide
// UI queue on which observer code runs.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
)

// Executor runs blocks of work asynchronously. Async reports whether the block
// was accepted.
type Executor interface {
	Async(fn func()) bool
}

// Queue is a serial executor: blocks submitted with Async run one at a time, in
// submission order, on a single dedicated goroutine.
//
// Async never blocks the caller and never drops work; the pending list grows as
// needed. A Queue must be closed with Close to release its goroutine.
type Queue struct {
	name string

	mu      sync.Mutex
	pending []func()
	closed  bool

	wake chan struct{}
	done chan struct{}
	gid  atomic.Uint64
}

var _ Executor = (*Queue)(nil)

// NewQueue creates a serial queue and starts its worker goroutine.
func NewQueue(name string) *Queue {
	q := &Queue{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	ready := make(chan struct{})
	Go(context.Background(), name, func(ctx context.Context) {
		q.gid.Store(goroutineID())
		close(ready)
		q.loop()
	})
	<-ready

	return q
}

// Name returns the queue label.
func (q *Queue) Name() string {
	return q.name
}

// Async schedules fn and returns immediately. It returns false if the queue is
// closed, in which case fn is never run.
func (q *Queue) Async(fn func()) bool {
	if fn == nil {
		return false
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync runs fn on the queue and waits for it to finish. Called from the queue's
// own goroutine it runs fn inline instead of deadlocking. Returns false if the
// queue is closed.
func (q *Queue) Sync(fn func()) bool {
	if q.IsCurrent() {
		fn()
		return true
	}

	finished := make(chan struct{})
	if !q.Async(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	<-finished
	return true
}

// IsCurrent reports whether the caller is running on this queue.
func (q *Queue) IsCurrent() bool {
	return q.gid.Load() == goroutineID()
}

// Len returns the number of blocks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting work, runs what is already pending and waits for the
// worker goroutine to exit. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if !q.IsCurrent() {
			<-q.done
		}
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	if q.IsCurrent() {
		// Closing from inside a block: the loop exits after this block returns.
		return
	}
	<-q.done
}

func (q *Queue) loop() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.pending) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}

var (
	mainOnce  sync.Once
	mainQueue *Queue
)

// Main returns the process-wide UI queue. All observer notifications are
// delivered on it. It is created on first use and lives for the process.
func Main() *Queue {
	mainOnce.Do(func() {
		mainQueue = NewQueue("ui-main")
	})
	return mainQueue
}
