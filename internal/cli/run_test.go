package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and returns stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type runResponse struct {
	Status string    `json:"status"`
	Data   RunResult `json:"data"`
	Error  *CLIError `json:"error"`
}

func decodeRun(t *testing.T, out string) runResponse {
	t.Helper()
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestRun_CounterText(t *testing.T) {
	out, err := executeCommand(t, "run", "testdata/flows/counter.yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "Flow:   counter")
	assert.Contains(t, out, "Output: finished at 3")
	assert.Contains(t, out, "=== Completions ===")
	assert.Contains(t, out, "check -> done")
	assert.Contains(t, out, "Counts: check=3, finish=1, tick=3")
	assert.NotContains(t, out, "=== State ===")
}

func TestRun_CounterJSON(t *testing.T) {
	out, err := executeCommand(t, "run", "testdata/flows/counter.yaml", "--format", "json", "--input", "count=10")
	require.NoError(t, err)

	resp := decodeRun(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "counter", resp.Data.Flow)
	assert.Equal(t, "finished at 11", resp.Data.Output)
	assert.NotEmpty(t, resp.Data.StateID)
	assert.NotEmpty(t, resp.Data.RunID)
	assert.Equal(t, map[string]int{"tick": 1, "check": 1, "finish": 1}, resp.Data.Counts)
	require.Len(t, resp.Data.Outputs, 3)
	assert.Equal(t, "tick", resp.Data.Outputs[0].Method)
	assert.Equal(t, "finish", resp.Data.Outputs[2].Method)
	assert.EqualValues(t, 11, resp.Data.State["count"])
}

func TestRun_VerboseShowsState(t *testing.T) {
	out, err := executeCommand(t, "run", "testdata/flows/greeting.yaml", "-v", "--inputs", `{"name":"go"}`)
	require.NoError(t, err)

	assert.Contains(t, out, "Output: HELLO GO!")
	assert.Contains(t, out, "=== State ===")
	assert.Contains(t, out, `"greeting":"hello go"`)
}

func TestRun_MethodFailureExitsOne(t *testing.T) {
	out, err := executeCommand(t, "run", "testdata/flows/failing.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 method execution(s) failed")

	assert.Contains(t, out, "Output: after")
	assert.Contains(t, out, "=== Failures ===")
	assert.Contains(t, out, "boom: started")
}

func TestRun_StepBoundHalts(t *testing.T) {
	out, err := executeCommand(t, "run", "testdata/flows/counter.yaml", "--max-steps", "2", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeRun(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "run halted", resp.Error.Message)
	assert.Contains(t, resp.Data.Error, "exceeded max steps")
	assert.Equal(t, "again", resp.Data.Output)
}

func TestRun_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"missing flow", []string{"run", "testdata/flows/nope.yaml"}, "failed to compile flow"},
		{"invalid flow", []string{"run", "testdata/invalid/unknown_member.yaml"}, "failed to compile flow"},
		{"restore without store", []string{"run", "testdata/flows/counter.yaml", "--restore", "abc"}, "--restore requires --db or --redis"},
		{"bad input", []string{"run", "testdata/flows/counter.yaml", "--input", "novalue"}, "expected key=value"},
		{"bad inputs json", []string{"run", "testdata/flows/counter.yaml", "--inputs", "{"}, "invalid inputs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRun_PersistAndRestore(t *testing.T) {
	db := filepath.Join(t.TempDir(), "flowkit.db")

	out, err := executeCommand(t, "run", "testdata/flows/counter.yaml", "--db", db, "--format", "json")
	require.NoError(t, err)
	first := decodeRun(t, out)
	assert.Equal(t, "finished at 3", first.Data.Output)

	out, err = executeCommand(t, "run", "testdata/flows/counter.yaml", "--db", db, "--format", "json",
		"--restore", first.Data.StateID)
	require.NoError(t, err)
	second := decodeRun(t, out)
	assert.Equal(t, first.Data.StateID, second.Data.StateID)
	assert.NotEqual(t, first.Data.RunID, second.Data.RunID)
	assert.Equal(t, "finished at 4", second.Data.Output)
}

func TestParseInputs(t *testing.T) {
	inputs, err := parseInputs(`{"count": 2, "name": "a"}`, []string{
		"name=b",
		"limit=5",
		"ratio=0.5",
		"tags=[\"x\",\"y\"]",
		"flag=true",
		"text=hello world",
		"eq=a=b",
	})
	require.NoError(t, err)

	assert.EqualValues(t, 2, inputs["count"])
	assert.Equal(t, "b", inputs["name"])
	assert.Equal(t, int64(5), inputs["limit"])
	assert.Equal(t, 0.5, inputs["ratio"])
	assert.Equal(t, []any{"x", "y"}, inputs["tags"])
	assert.Equal(t, true, inputs["flag"])
	assert.Equal(t, "hello world", inputs["text"])
	assert.Equal(t, "a=b", inputs["eq"])
}

func TestParseInputs_Errors(t *testing.T) {
	_, err := parseInputs("", []string{"=1"})
	require.Error(t, err)

	_, err = parseInputs("[1,2]", nil)
	require.Error(t, err)
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "plain", display("plain"))
	assert.Equal(t, "null", display(nil))
	assert.Equal(t, `{"a":1,"b":[true]}`, display(map[string]any{"b": []any{true}, "a": int64(1)}))
}
