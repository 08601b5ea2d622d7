package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowkit/internal/compiler"
	"github.com/roach88/flowkit/internal/events"
	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/persist"
	"github.com/roach88/flowkit/internal/server"
)

const counterFlow = `
name: counter
state:
  schema: |
    #State: {
      id:    string
      count: int | *0
      label?: string
    }
methods:
  - name: bump
    start: true
    set: {count: state.count + 1}
    return: state.count
  - name: report
    listen: bump
    accepts_result: true
    return: "'count=' + string(input)"
`

const pairFlow = `
name: pair
methods:
  - {name: a, start: true, return: "'A'"}
  - {name: b, listen: a, return: "'B'"}
`

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T, opts ...server.Option) *httptest.Server {
	t.Helper()
	var defs []*compiler.Definition
	for _, src := range []string{counterFlow, pairFlow} {
		def, err := compiler.Compile([]byte(src))
		require.NoError(t, err)
		defs = append(defs, def)
	}
	opts = append([]server.Option{
		server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	s, err := server.New(defs, opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(s.SetupRoutes())
	t.Cleanup(func() {
		s.CloseWebSockets()
		ts.Close()
	})
	return ts
}

func do(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newServer(t)

	var res map[string]any
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/health", "", &res))
	assert.Equal(t, "ok", res["status"])
	assert.Equal(t, float64(2), res["flows"])
	assert.Equal(t, ir.EngineVersion, res["version"])
}

func TestListAndGetFlows(t *testing.T) {
	ts := newServer(t)

	var list server.FlowsListResponse
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/flows", "", &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "counter", list.Flows[0].Name)
	assert.Equal(t, 2, list.Flows[0].Methods)
	assert.Equal(t, 1, list.Flows[0].Starts)

	var flow server.FlowResponse
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/flows/counter", "", &flow))
	assert.Equal(t, []string{"id", "count", "label"}, flow.Fields)
	require.Len(t, flow.Methods, 2)
	assert.Equal(t, "OR(bump)", flow.Methods[1].Condition)
	assert.True(t, flow.Methods[1].AcceptsResult)

	var errRes server.ErrorResponse
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/flows/missing", "", &errRes))
	assert.Contains(t, errRes.Error, "flow not found")
}

func TestKickoff(t *testing.T) {
	ts := newServer(t)

	var res server.KickoffResponse
	status := do(t, http.MethodPost, ts.URL+"/flows/counter/kickoff", `{"inputs":{"count":4}}`, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "count=5", res.Output)
	assert.Equal(t, map[string]int{"bump": 1, "report": 1}, res.Counts)
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, "bump", res.Outputs[0].Method)
	assert.NotEmpty(t, res.RunID)
	assert.NotEmpty(t, res.FlowID)
	assert.Empty(t, res.Failures)
}

func TestKickoff_Errors(t *testing.T) {
	ts := newServer(t)

	var errRes server.ErrorResponse
	assert.Equal(t, http.StatusBadRequest,
		do(t, http.MethodPost, ts.URL+"/flows/counter/kickoff", `{not json`, &errRes))
	assert.Contains(t, errRes.Error, server.ErrInvalidJSON.Error())

	assert.Equal(t, http.StatusBadRequest,
		do(t, http.MethodPost, ts.URL+"/flows/counter/kickoff", `{"restore_id":"x"}`, &errRes))
	assert.Contains(t, errRes.Error, server.ErrPersistenceOff.Error())

	assert.Equal(t, http.StatusUnprocessableEntity,
		do(t, http.MethodPost, ts.URL+"/flows/counter/kickoff", `{"inputs":{"count":"many"}}`, &errRes))

	assert.Equal(t, http.StatusNotFound,
		do(t, http.MethodPost, ts.URL+"/flows/missing/kickoff", `{}`, &errRes))
	assert.Equal(t, server.ErrFlowNotFound.Error()+": missing", errRes.Error)

	assert.Equal(t, http.StatusNotFound,
		do(t, http.MethodGet, ts.URL+"/flows/counter/states/any", "", &errRes))
	assert.Equal(t, server.ErrPersistenceOff.Error(), errRes.Error)
}

func TestKickoff_PersistAndRestore(t *testing.T) {
	mem := persist.NewMemory()
	ts := newServer(t, server.WithBackend(mem))

	var first server.KickoffResponse
	require.Equal(t, http.StatusOK,
		do(t, http.MethodPost, ts.URL+"/flows/counter/kickoff", `{"inputs":{"label":"x"}}`, &first))
	assert.Equal(t, "count=1", first.Output)

	var snap map[string]any
	require.Equal(t, http.StatusOK,
		do(t, http.MethodGet, ts.URL+"/flows/counter/states/"+first.FlowID, "", &snap))
	assert.Equal(t, float64(1), snap["count"])
	assert.Equal(t, "x", snap["label"])

	var second server.KickoffResponse
	body := `{"restore_id":"` + first.FlowID + `"}`
	require.Equal(t, http.StatusOK,
		do(t, http.MethodPost, ts.URL+"/flows/counter/kickoff", body, &second))
	assert.Equal(t, "count=2", second.Output)
	assert.Equal(t, first.FlowID, second.FlowID)
	assert.NotEqual(t, first.RunID, second.RunID)

	assert.Len(t, mem.Events(first.FlowID), 12)

	var errRes server.ErrorResponse
	assert.Equal(t, http.StatusNotFound,
		do(t, http.MethodGet, ts.URL+"/flows/counter/states/nope", "", &errRes))
}

func TestKickoff_MaxSteps(t *testing.T) {
	ts := newServer(t, server.WithMaxSteps(1))

	var res server.KickoffResponse
	require.Equal(t, http.StatusOK,
		do(t, http.MethodPost, ts.URL+"/flows/pair/kickoff", `{}`, &res))
	assert.Equal(t, "A", res.Output)
	assert.Contains(t, res.Error, "exceeded max steps")
}

func dialEvents(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvents(t *testing.T, conn *websocket.Conn, n int) []events.Event {
	t.Helper()
	out := make([]events.Event, 0, n)
	for len(out) < n {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var e events.Event
		require.NoError(t, conn.ReadJSON(&e))
		out = append(out, e)
	}
	return out
}

func TestEventsStream(t *testing.T) {
	ts := newServer(t)
	conn := dialEvents(t, ts, "")

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/flows/pair/kickoff", `{}`, nil))

	got := readEvents(t, conn, 6)
	kinds := make([]events.Kind, len(got))
	for i, e := range got {
		kinds[i] = e.Kind
		assert.Equal(t, "pair", e.FlowName)
	}
	assert.Equal(t, []events.Kind{
		events.FlowStarted,
		events.MethodExecutionStarted,
		events.MethodExecutionFinished,
		events.MethodExecutionStarted,
		events.MethodExecutionFinished,
		events.FlowFinished,
	}, kinds)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
}

func TestEventsStream_Filter(t *testing.T) {
	ts := newServer(t)
	conn := dialEvents(t, ts, "?flow=counter&kind=flow_finished")

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/flows/pair/kickoff", `{}`, nil))
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/flows/counter/kickoff", `{}`, nil))

	got := readEvents(t, conn, 1)
	assert.Equal(t, events.FlowFinished, got[0].Kind)
	assert.Equal(t, "counter", got[0].FlowName)
	assert.Equal(t, "count=1", got[0].Result)
}

func TestEventsStream_Subscribe(t *testing.T) {
	ts := newServer(t)
	conn := dialEvents(t, ts, "?flow=none")

	sub := server.SubscribeRequest{Type: "subscribe", Filter: server.Filter{Kinds: []events.Kind{events.FlowStarted}}}
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(sub))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, buf.Bytes()))

	// The client loop applies the subscription asynchronously.
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/flows/pair/kickoff", `{}`, nil))

	got := readEvents(t, conn, 1)
	assert.Equal(t, events.FlowStarted, got[0].Kind)
	assert.Equal(t, "pair", got[0].FlowName)
}

func TestFilterMatch(t *testing.T) {
	e := events.Event{Kind: events.FlowStarted, FlowName: "f"}
	assert.True(t, server.Filter{}.Match(e))
	assert.True(t, server.Filter{Flows: []string{"f"}}.Match(e))
	assert.False(t, server.Filter{Flows: []string{"g"}}.Match(e))
	assert.False(t, server.Filter{Kinds: []events.Kind{events.FlowFinished}}.Match(e))
}

func TestNew_DuplicateFlow(t *testing.T) {
	def, err := compiler.Compile([]byte(pairFlow))
	require.NoError(t, err)
	_, err = server.New([]*compiler.Definition{def, def})
	assert.Error(t, err)
}
