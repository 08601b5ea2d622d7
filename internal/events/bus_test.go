package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_StampsAndDeliversInOrder(t *testing.T) {
	rec := &Recorder{}
	bus := NewBus(rec)

	first := bus.Emit(Event{Kind: FlowStarted, FlowName: "f"})
	bus.Emit(Event{Kind: MethodExecutionStarted, FlowName: "f", MethodName: "a"})
	bus.Emit(Event{Kind: MethodExecutionFinished, FlowName: "f", MethodName: "a", Result: 1})
	bus.Emit(Event{Kind: FlowFinished, FlowName: "f", Result: 1})

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, []Kind{FlowStarted, MethodExecutionStarted, MethodExecutionFinished, FlowFinished}, rec.Kinds())
	for i, e := range rec.Events() {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestBus_ConcurrentEmitKeepsSeqOrder(t *testing.T) {
	rec := &Recorder{}
	bus := NewBus(rec)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(Event{Kind: MethodExecutionFinished})
		}()
	}
	wg.Wait()

	events := rec.Events()
	require.Len(t, events, 100)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq, "delivery order must match seq order")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	bus := NewBus(a)
	unsubscribe := bus.Subscribe(b)
	assert.Equal(t, 2, bus.Len())

	bus.Emit(Event{Kind: FlowStarted})
	unsubscribe()
	unsubscribe()
	bus.Emit(Event{Kind: FlowFinished})

	assert.Equal(t, 1, bus.Len())
	assert.Len(t, a.Events(), 2)
	assert.Len(t, b.Events(), 1)
}

func TestSinkFunc(t *testing.T) {
	var got []string
	bus := NewBus(SinkFunc(func(e Event) { got = append(got, e.String()) }))
	bus.Emit(Event{Kind: FlowStarted, FlowName: "poem"})
	bus.Emit(Event{Kind: MethodExecutionStarted, FlowName: "poem", MethodName: "write"})

	assert.Equal(t, []string{
		"#1 flow_started poem",
		"#2 method_execution_started poem.write",
	}, got)
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, FlowFinished.Valid())
	assert.False(t, Kind("other").Valid())
}

func TestClock(t *testing.T) {
	c := NewClockAt(10)
	assert.Equal(t, int64(10), c.Current())
	assert.Equal(t, int64(11), c.Next())
	assert.Equal(t, int64(11), c.Current())
	assert.Equal(t, int64(1), NewClock().Next())
}

func TestQueue_DrainsInOrder(t *testing.T) {
	q := NewQueue()
	bus := NewBus(q)
	for i := 0; i < 5; i++ {
		bus.Emit(Event{Kind: MethodExecutionFinished})
	}
	q.Close()
	bus.Emit(Event{Kind: FlowFinished}) // dropped after Close

	var seqs []int64
	err := q.Run(context.Background(), func(e Event) error {
		seqs = append(seqs, e.Seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_RunWaitsForEvents(t *testing.T) {
	q := NewQueue()
	got := make(chan Event, 1)

	done := make(chan error, 1)
	go func() {
		done <- q.Run(context.Background(), func(e Event) error {
			got <- e
			return nil
		})
	}()

	q.Deliver(Event{Seq: 7})
	select {
	case e := <-got:
		assert.Equal(t, int64(7), e.Seq)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	q.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestQueue_RunStopsOnContextAndHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewQueue().Run(ctx, func(Event) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	q := NewQueue()
	q.Deliver(Event{})
	boom := errors.New("boom")
	err = q.Run(context.Background(), func(Event) error { return boom })
	assert.ErrorIs(t, err, boom)
}
