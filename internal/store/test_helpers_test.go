package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/flowkit/internal/events"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEvent creates an event with minimal required fields.
func createTestEvent(runID, flowID string, seq int64, kind events.Kind, method string) events.Event {
	return events.Event{
		Seq:        seq,
		Kind:       kind,
		FlowName:   "test-flow",
		FlowID:     flowID,
		RunID:      runID,
		MethodName: method,
	}
}
