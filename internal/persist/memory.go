package persist

import (
	"context"
	"sync"

	"github.com/roach88/flowkit/internal/events"
	"github.com/roach88/flowkit/internal/ir"
)

// Memory is an in-process Backend and EventLog, for tests and one-shot runs
// without a database. Snapshots are stored as canonical JSON so a loaded
// snapshot never aliases a live one.
type Memory struct {
	mu     sync.Mutex
	states map[string][]byte
	events []events.Event
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{states: make(map[string][]byte)}
}

// Load implements Backend.
func (m *Memory) Load(_ context.Context, id string) (map[string]any, bool, error) {
	m.mu.Lock()
	data, ok := m.states[id]
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	snap, err := ir.DecodeJSON(data)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// Save implements Saver.
func (m *Memory) Save(_ context.Context, id string, snapshot map[string]any) error {
	data, err := ir.MarshalCanonical(snapshot)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = data
	return nil
}

// AppendEvent implements EventLog.
func (m *Memory) AppendEvent(_ context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns every appended event for flowID in append order.
func (m *Memory) Events(flowID string) []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.events {
		if e.FlowID == flowID {
			out = append(out, e)
		}
	}
	return out
}
