package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowkit/internal/events"
)

func TestLoad_NotFound(t *testing.T) {
	s := createTestStore(t)

	snap, found, err := s.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, snap)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	in := map[string]any{
		"id":      "abc",
		"count":   3,
		"ratio":   0.5,
		"title":   "Café",
		"tags":    []any{"a", "b"},
		"nested":  map[string]any{"ok": true},
		"nothing": nil,
	}
	require.NoError(t, s.Save(ctx, "abc", in))

	out, found, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{
		"id":      "abc",
		"count":   int64(3),
		"ratio":   0.5,
		"title":   "Café",
		"tags":    []any{"a", "b"},
		"nested":  map[string]any{"ok": true},
		"nothing": nil,
	}, out)
}

func TestSave_UpsertBumpsVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "abc", map[string]any{"id": "abc", "n": 1}))
	require.NoError(t, s.Save(ctx, "abc", map[string]any{"id": "abc", "n": 2}))
	require.NoError(t, s.Save(ctx, "def", map[string]any{"id": "def"}))

	out, _, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(2), out["n"])

	records, err := s.ListStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StateRecord{{ID: "abc", Version: 2}, {ID: "def", Version: 1}}, records)
}

func TestSave_CanonicalRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "abc", map[string]any{"z": 1, "a": "<b>", "id": "abc"}))

	var raw string
	require.NoError(t, s.db.QueryRow("SELECT snapshot FROM flow_states WHERE id = 'abc'").Scan(&raw))
	assert.Equal(t, `{"a":"<b>","id":"abc","z":1}`, raw)
}

func TestSave_RequiresID(t *testing.T) {
	s := createTestStore(t)
	assert.Error(t, s.Save(context.Background(), "", map[string]any{}))
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "abc", map[string]any{"id": "abc"}))
	require.NoError(t, s.Delete(ctx, "abc"))

	_, found, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListStates_Empty(t *testing.T) {
	s := createTestStore(t)

	records, err := s.ListStates(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestAppendEvent_ReadEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	finished := createTestEvent("run-1", "flow-1", 3, events.MethodExecutionFinished, "a")
	finished.Result = map[string]any{"n": 1}

	for _, e := range []events.Event{
		createTestEvent("run-1", "flow-1", 1, events.FlowStarted, ""),
		createTestEvent("run-1", "flow-1", 2, events.MethodExecutionStarted, "a"),
		finished,
		createTestEvent("run-x", "other", 1, events.FlowStarted, ""),
	} {
		require.NoError(t, s.AppendEvent(ctx, e))
	}

	got, err := s.ReadEvents(ctx, "flow-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, events.FlowStarted, got[0].Kind)
	assert.Equal(t, "a", got[2].MethodName)
	assert.Equal(t, map[string]any{"n": int64(1)}, got[2].Result)
	assert.Nil(t, got[0].Result)
	assert.Equal(t, "test-flow", got[0].FlowName)
}

func TestAppendEvent_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEvent("run-1", "flow-1", 1, events.FlowStarted, "")
	require.NoError(t, s.AppendEvent(ctx, e))
	require.NoError(t, s.AppendEvent(ctx, e))

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReadRun_SeqOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Inserted out of order; ReadRun sorts by seq.
	for _, seq := range []int64{3, 1, 2} {
		require.NoError(t, s.AppendEvent(ctx, createTestEvent("run-1", "flow-1", seq, events.MethodExecutionStarted, "m")))
	}

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestReadEvents_Empty(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ReadEvents(context.Background(), "nothing")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
