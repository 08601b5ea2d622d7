package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowkit/internal/engine"
	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/registry"
	"github.com/roach88/flowkit/internal/state"
)

const counterFlow = `
name: counter
state:
  initial: {count: 0}
methods:
  - name: tick
    start: true
    listen: again
    set:
      count: state.count + 1
    return: state.count
  - name: check
    router: tick
    routes: [again, done]
    return: "state.count < 3 ? 'again' : 'done'"
  - name: finish
    listen: done
    return: "'finished at ' + string(state.count)"
`

func run(t *testing.T, def *Definition, inputs map[string]any) (*engine.Report, *state.Container) {
	t.Helper()
	c, err := def.NewContainer()
	require.NoError(t, err)
	e, err := engine.New(def.Registry,
		engine.WithState(c),
		engine.WithMaxSteps(100),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	report, err := e.Execute(context.Background(), inputs)
	require.NoError(t, err)
	return report, c
}

func TestCompile_RouterLoop(t *testing.T) {
	def, err := Compile([]byte(counterFlow))
	require.NoError(t, err)
	assert.Equal(t, "counter", def.Name)
	assert.Nil(t, def.Schema)

	report, c := run(t, def, nil)
	assert.Equal(t, "finished at 3", report.Output)
	assert.Equal(t, map[string]int{"tick": 3, "check": 3, "finish": 1}, report.Counts)

	count, ok := c.Get().Int("count")
	require.True(t, ok)
	assert.Equal(t, int64(3), count)

	require.Len(t, def.Warnings, 1)
	assert.Equal(t, []string{"tick", "check", "tick"}, def.Warnings[0].Path)
}

func TestCompile_Roles(t *testing.T) {
	def, err := Compile([]byte(counterFlow))
	require.NoError(t, err)

	tick, ok := def.Registry.Spec("tick")
	require.True(t, ok)
	assert.True(t, tick.Kind.Has(ir.KindStart|ir.KindListener))
	assert.Equal(t, "OR(again)", tick.Condition.String())

	check, ok := def.Registry.Spec("check")
	require.True(t, ok)
	assert.True(t, check.IsRouter())
	assert.Equal(t, []string{"again", "done"}, check.RouteLabels)

	assert.Equal(t, []string{"tick"}, def.Registry.StartMethods())
}

func TestCompile_AndJoinWithInput(t *testing.T) {
	def, err := Compile([]byte(`
name: join
methods:
  - {name: a, start: true, return: "'A'"}
  - {name: b, start: true, return: "'B'"}
  - name: both
    listen: {and: [a, b]}
    accepts_result: true
    return: "'joined after ' + input"
`))
	require.NoError(t, err)

	report, _ := run(t, def, nil)
	assert.Equal(t, 1, report.Counts["both"])
	assert.Contains(t, []any{"joined after A", "joined after B"}, report.Output)
}

func TestCompile_StructuredState(t *testing.T) {
	def, err := Compile([]byte(`
name: poem
state:
  schema: |
    #State: {
      id:             string
      sentence_count: int | *1
      topic?:         string
    }
  initial: {topic: sea}
methods:
  - name: generate
    start: true
    set:
      sentence_count: state.sentence_count + 1
    return: "state.topic + ' x' + string(state.sentence_count)"
`))
	require.NoError(t, err)
	require.NotNil(t, def.Schema)

	report, c := run(t, def, nil)
	assert.Equal(t, "sea x2", report.Output)
	n, _ := c.Get().Int("sentence_count")
	assert.Equal(t, int64(2), n)
}

func TestCompile_StructuredStateRejectsUnknownField(t *testing.T) {
	def, err := Compile([]byte(`
name: strict
state:
  schema: |
    #State: {id: string, n: int | *0}
methods:
  - name: bad
    start: true
    set: {other: "1"}
`))
	require.NoError(t, err)

	report, _ := run(t, def, nil)
	require.Len(t, report.Failures, 1)
	assert.True(t, state.IsValidationError(report.Failures[0]))
}

func TestCompile_NestedSetAndGet(t *testing.T) {
	def, err := Compile([]byte(`
name: nested
methods:
  - name: fill
    start: true
    set:
      profile.name: "'ada'"
      profile.greeting: "'hi ' + get('profile.name')"
    return: state.profile.greeting
`))
	require.NoError(t, err)

	report, c := run(t, def, nil)
	assert.Equal(t, "hi ada", report.Output)
	v, ok := c.Get().Lookup("profile.name")
	require.True(t, ok)
	assert.Equal(t, "ada", v)
}

func TestCompile_FailStep(t *testing.T) {
	def, err := Compile([]byte(`
name: failing
methods:
  - name: guard
    start: true
    fail: "trigger == '' ? 'no trigger' : ''"
  - name: after
    listen: guard
`))
	require.NoError(t, err)

	report, _ := run(t, def, nil)
	require.Len(t, report.Failures, 1)
	assert.True(t, errors.Is(report.Failures[0], ErrMethodFailed))
	assert.Contains(t, report.Failures[0].Error(), "no trigger")
	assert.Zero(t, report.Counts["after"])
	assert.Nil(t, report.Output)
}

func TestCompile_Delay(t *testing.T) {
	def, err := Compile([]byte(`
name: slow
methods:
  - {name: wait, start: true, delay: 5ms, return: "'done'"}
`))
	require.NoError(t, err)

	report, _ := run(t, def, nil)
	assert.Equal(t, "done", report.Output)
}

func TestCompile_DelayHonorsContext(t *testing.T) {
	def, err := Compile([]byte(`
name: slow
methods:
  - {name: wait, start: true, delay: 1h}
`))
	require.NoError(t, err)

	c, err := def.NewContainer()
	require.NoError(t, err)
	fn, ok := def.Registry.Body("wait")
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fn(ctx, registryCall(c))
	assert.ErrorIs(t, err, context.Canceled)
}

func registryCall(c *state.Container) registry.Call {
	return registry.Call{Flow: "slow", Method: "wait", State: c}
}

func TestCompile_HTTPStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/42", r.URL.Path)
		assert.Equal(t, "t-7", r.Header.Get("X-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"user":{"name":"ada","age":36}}`)
	}))
	defer srv.Close()

	def, err := Compile([]byte(fmt.Sprintf(`
name: fetch
state:
  initial: {user_id: 42, token: t-7}
methods:
  - name: load
    start: true
    http:
      url: "%s/users/${state.user_id}"
      headers:
        X-Token: "${state.token}"
      extract:
        name: user.name
        age: user.age
    set:
      greeting: "'hi ' + response.extract.name"
      age: response.extract.age
    return: response.status
`, srv.URL)))
	require.NoError(t, err)

	report, c := run(t, def, nil)
	assert.Equal(t, int64(200), report.Output)
	greeting, _ := c.Get().String("greeting")
	assert.Equal(t, "hi ada", greeting)
	age, _ := c.Get().Int("age")
	assert.Equal(t, int64(36), age)
}

func TestCompile_HTTPPostDefaultsToBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"echo": in["count"]})
	}))
	defer srv.Close()

	def, err := Compile([]byte(fmt.Sprintf(`
name: echo
state:
  initial: {count: 5}
methods:
  - name: send
    start: true
    http:
      method: post
      url: %s
      body: "{'count': state.count}"
`, srv.URL)))
	require.NoError(t, err)

	report, _ := run(t, def, nil)
	assert.Equal(t, map[string]any{"echo": int64(5)}, report.Output)
}

func TestCompile_HTTPErrorStatusFailsMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	def, err := Compile([]byte(fmt.Sprintf(`
name: broken
methods:
  - name: call
    start: true
    http: {url: "%s"}
`, srv.URL)))
	require.NoError(t, err)

	report, _ := run(t, def, nil)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Error(), "status 500")
}

func TestCompile_ValidationErrors(t *testing.T) {
	_, err := Compile([]byte(`
name: broken
methods:
  - name: a
    listen: missing
  - name: a
    start: true
    return: "1 +"
`))
	require.Error(t, err)

	errs, ok := AsErrors(err)
	require.True(t, ok)
	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	assert.Contains(t, codes, ErrDuplicateName)
	assert.Contains(t, codes, ErrInvalidExpression)
	assert.Contains(t, codes, ErrUnknownMember)
}

func TestCompile_ParseError(t *testing.T) {
	_, err := Compile([]byte("name: [unclosed"))
	require.Error(t, err)
	_, ok := AsErrors(err)
	assert.False(t, ok)
}

func TestCompileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(counterFlow), 0o644))

	def, err := CompileFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, def.Source)

	_, err = CompileFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(counterFlow), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(`
name: single
methods:
  - {name: only, start: true}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "single", defs[0].Name)
	assert.Equal(t, "counter", defs[1].Name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte(counterFlow), 0o644))
	_, err = LoadDir(dir)
	assert.ErrorContains(t, err, `flow "counter" declared in both`)
}

func TestTemplateRender(t *testing.T) {
	tmpl, err := compileTemplate("http://x/${state.a}/${input}")
	require.NoError(t, err)

	out, err := tmpl.render(newEnv(map[string]any{"a": 1}, "b", "", "f", "m", nil))
	require.NoError(t, err)
	assert.Equal(t, "http://x/1/b", out)

	plain, err := compileTemplate("http://x")
	require.NoError(t, err)
	out, err = plain.render(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://x", out)
}

func TestFailure(t *testing.T) {
	tests := []struct {
		in     any
		failed bool
	}{
		{nil, false},
		{false, false},
		{"", false},
		{true, true},
		{"boom", true},
		{int64(1), true},
	}
	for _, tt := range tests {
		_, failed := failure(tt.in)
		assert.Equal(t, tt.failed, failed, "%v", tt.in)
	}
}
