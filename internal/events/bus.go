package events

import "sync"

// Bus fans events out to subscribers synchronously.
//
// Emit holds the bus lock for the whole delivery, so subscribers observe
// events in production order even when several branches emit at once.
// A sink must not call Emit or Subscribe from Deliver.
type Bus struct {
	mu     sync.Mutex
	clock  *Clock
	sinks  []subscription
	nextID int
}

type subscription struct {
	id   int
	sink Sink
}

// NewBus creates a bus with an optional initial set of sinks.
func NewBus(sinks ...Sink) *Bus {
	b := &Bus{clock: NewClock()}
	for _, s := range sinks {
		b.Subscribe(s)
	}
	return b
}

// Subscribe adds a sink and returns a function that removes it.
func (b *Bus) Subscribe(s Sink) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.sinks = append(b.sinks, subscription{id: id, sink: s})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, sub := range b.sinks {
				if sub.id == id {
					b.sinks = append(b.sinks[:i:i], b.sinks[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit stamps e with the next sequence number, delivers it to every
// subscriber in subscription order and returns the stamped event.
func (b *Bus) Emit(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	e.Seq = b.clock.Next()
	for _, sub := range b.sinks {
		sub.sink.Deliver(e)
	}
	return e
}

// Deliver makes a Bus usable as a Sink of another bus. The event is
// re-stamped with this bus's clock.
func (b *Bus) Deliver(e Event) {
	b.Emit(e)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sinks)
}

// Recorder is a Sink that keeps every delivered event, for tests and traces.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Deliver appends e.
func (r *Recorder) Deliver(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	out := make([]Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}
