package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/roach88/flowkit/internal/compiler"
	"github.com/roach88/flowkit/internal/engine"
	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/persist"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	PersistOptions

	Inputs      []string // key=value pairs
	InputsJSON  string
	Restore     string
	MaxSteps    int
	HTTPTimeout time.Duration
}

// RunResult is the outcome of one kickoff.
type RunResult struct {
	Flow     string          `json:"flow"`
	StateID  string          `json:"state_id"`
	RunID    string          `json:"run_id"`
	Output   any             `json:"output"`
	Outputs  []engine.Output `json:"outputs"`
	Counts   map[string]int  `json:"counts"`
	Failures []string        `json:"failures,omitempty"`
	Error    string          `json:"error,omitempty"`
	State    map[string]any  `json:"state"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <flow.yaml>",
		Short: "Kick off a flow and run it to quiescence",
		Long: `Compile a flow file, kick off one run and wait until every triggered
method has finished.

Inputs are merged into the flow state before the start methods run. Values
given with --input are parsed as JSON when possible and kept as strings
otherwise. With --db or --redis the state is saved after every method and
every event is logged; --restore loads a saved state before the run.

Exit codes:
  0 - Run finished without failures
  1 - A method failed, the run was halted, or inputs were rejected
  2 - Command error (invalid flow file, store unavailable, etc.)

Examples:
  flowkit run ./flows/counter.yaml
  flowkit run ./flows/poem.yaml --input topic=sea --input lines=3
  flowkit run ./flows/poem.yaml --db ./flowkit.db --restore 0190c3b6-...
  flowkit run ./flows/counter.yaml --max-steps 50 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlow(opts, args[0], cmd)
		},
	}

	opts.PersistOptions.register(cmd)
	cmd.Flags().StringArrayVarP(&opts.Inputs, "input", "i", nil, "kickoff input as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.InputsJSON, "inputs", "", "kickoff inputs as a JSON object")
	cmd.Flags().StringVar(&opts.Restore, "restore", "", "state id to restore before the run")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "maximum method invocations per run, 0 for unbounded (env FLOWKIT_MAX_STEPS)")
	cmd.Flags().DurationVar(&opts.HTTPTimeout, "http-timeout", 0, "timeout of http steps (env FLOWKIT_HTTP_TIMEOUT)")

	return cmd
}

func runFlow(opts *RunOptions, path string, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts.PersistOptions.apply(cfg)
	if cmd.Flags().Changed("max-steps") {
		cfg.MaxSteps = opts.MaxSteps
	}
	if cmd.Flags().Changed("http-timeout") {
		cfg.HTTPTimeout = opts.HTTPTimeout
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger, err := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	inputs, err := parseInputs(opts.InputsJSON, opts.Inputs)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid inputs", err)
	}

	def, err := compiler.CompileFile(path, compiler.WithHTTPTimeout(cfg.HTTPTimeout))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile flow", err)
	}
	for _, w := range def.Warnings {
		logger.Debug("cycle in flow", "flow", def.Name, "path", strings.Join(w.Path, " -> "))
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	if b != nil {
		defer func() {
			if closeErr := b.Close(); closeErr != nil {
				logger.Error("error closing store", "error", closeErr)
			}
		}()
	}
	if opts.Restore != "" && b == nil {
		return NewExitError(ExitCommandError, "--restore requires --db or --redis")
	}

	container, err := def.NewContainer()
	if err != nil {
		return WrapExitError(ExitFailure, "invalid initial state", err)
	}
	engOpts := []engine.Option{
		engine.WithState(container),
		engine.WithLogger(logger),
		engine.WithMaxSteps(cfg.MaxSteps),
	}
	if b != nil {
		engOpts = append(engOpts,
			engine.WithLoader(b),
			engine.WithSink(persist.New(b, container,
				persist.WithLogger(logger),
				persist.WithContext(ctx))))
		if opts.Restore != "" {
			engOpts = append(engOpts, engine.WithRestore(ctx, b, opts.Restore))
		}
	}

	eng, err := engine.New(def.Registry, engOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create engine", err)
	}

	report, runErr := eng.Execute(ctx, inputs)
	if report == nil {
		return WrapExitError(ExitFailure, "run failed", runErr)
	}

	result := RunResult{
		Flow:    def.Name,
		StateID: report.FlowID,
		RunID:   report.RunID,
		Output:  report.Output,
		Outputs: report.Outputs,
		Counts:  report.Counts,
		State:   container.Get().Map(),
	}
	for _, f := range report.Failures {
		result.Failures = append(result.Failures, f.Error())
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	f := newFormatter(opts.RootOptions, cmd)
	exitErr := runExitError(result, runErr)
	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if exitErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeGeneric, Message: exitErr.Message}
		}
		if err := f.encode(resp); err != nil {
			return err
		}
		return nilIfNoExit(exitErr)
	}

	outputRunText(f.Writer, result, opts.Verbose)
	return nilIfNoExit(exitErr)
}

// runExitError maps a finished run to its exit error, nil on success.
func runExitError(result RunResult, runErr error) *ExitError {
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		return WrapExitError(ExitFailure, "run interrupted", runErr)
	case runErr != nil:
		return WrapExitError(ExitFailure, "run halted", runErr)
	case len(result.Failures) > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d method execution(s) failed", len(result.Failures)))
	}
	return nil
}

// nilIfNoExit avoids returning a typed nil pointer as a non-nil error.
func nilIfNoExit(e *ExitError) error {
	if e == nil {
		return nil
	}
	return e
}

func outputRunText(w io.Writer, r RunResult, verbose bool) {
	fmt.Fprintf(w, "Flow:   %s\n", r.Flow)
	fmt.Fprintf(w, "State:  %s\n", r.StateID)
	fmt.Fprintf(w, "Run:    %s\n", r.RunID)
	fmt.Fprintf(w, "Output: %s\n", display(r.Output))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Completions ===")
	if len(r.Outputs) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, o := range r.Outputs {
		fmt.Fprintf(w, "  [%d] %s -> %s\n", o.Seq, o.Method, display(o.Result))
	}
	if len(r.Counts) > 0 {
		fmt.Fprintf(w, "Counts: %s\n", sortedCounts(r.Counts))
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Failures ===")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	if r.Error != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Halted: %s\n", r.Error)
	}

	if verbose {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== State ===")
		fmt.Fprintf(w, "  %s\n", display(r.State))
	}
}

// display renders a value for text output: strings verbatim, everything
// else as canonical JSON.
func display(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// parseInputs merges a JSON object with key=value pairs; pairs win.
func parseInputs(jsonObj string, pairs []string) (map[string]any, error) {
	inputs := make(map[string]any)
	if strings.TrimSpace(jsonObj) != "" {
		obj, err := ir.DecodeJSON([]byte(jsonObj))
		if err != nil {
			return nil, fmt.Errorf("--inputs: %w", err)
		}
		inputs = obj
	}

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("--input %q: expected key=value", pair)
		}
		inputs[strings.TrimSpace(key)] = parseValue(raw)
	}
	return inputs, nil
}

// parseValue reads raw as a JSON value when it is one and as a plain
// string otherwise.
func parseValue(raw string) any {
	if !gjson.Valid(raw) {
		return raw
	}
	return ir.NormalizeNumbers(gjson.Parse(raw).Value())
}

// sortedCounts renders counts as "a=1, b=2".
func sortedCounts(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, counts[name])
	}
	return strings.Join(parts, ", ")
}
