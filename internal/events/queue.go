package events

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO Sink drained by a separate goroutine, so a
// slow consumer (a websocket client, a remote store) never stalls the Bus.
//
// Deliver never blocks. Run drains the queue until it is closed and empty,
// the context is cancelled, or the handler returns an error.
type Queue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Deliver enqueues e. Events delivered after Close are dropped.
func (q *Queue) Deliver(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.events = append(q.events, e)
	q.wake()
}

// wake signals Run without blocking; pending signals coalesce.
func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue removes the front event without blocking.
func (q *Queue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events[0] = Event{} // drop the Result reference
	q.events = q.events[1:]
	if len(q.events) == 0 {
		q.events = q.events[:0:0]
	}
	return e, true
}

// Run calls fn for each event in FIFO order.
// Returns nil once the queue is closed and drained.
func (q *Queue) Run(ctx context.Context, fn func(Event) error) error {
	for {
		if e, ok := q.TryDequeue(); ok {
			if err := fn(e); err != nil {
				return err
			}
			continue
		}

		q.mu.Lock()
		done := q.closed && len(q.events) == 0
		q.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events and wakes a blocked Run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.wake()
	}
}
