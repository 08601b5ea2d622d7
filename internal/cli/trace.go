package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/flowkit/internal/events"
	"github.com/roach88/flowkit/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database   string
	FlowID     string
	RunID      string // optional - restrict to one run
	Method     string // optional - filter to one method
	Incomplete bool
}

// TraceEvent represents a single event in the trace timeline.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	RunID  string `json:"run_id"`
	Kind   string `json:"kind"`
	Method string `json:"method,omitempty"`
	Result any    `json:"result,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	FlowID   string             `json:"flow_id"`
	Runs     []store.RunSummary `json:"runs"`
	Timeline []TraceEvent       `json:"timeline"`
	Stats    TraceStats         `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int  `json:"total_events"`
	Runs        int  `json:"runs"`
	Completions int  `json:"completions"`
	Failed      int  `json:"failed"`
	IsComplete  bool `json:"is_complete"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the logged events of a flow instance",
		Long: `Read the event log of a flow instance from a SQLite database written by
"flowkit run --db" or "flowkit serve".

The output includes:
- Runs: one line per kickoff with its completion and failure counts
- Timeline: every lifecycle event in order
- Stats: Summary statistics for the flow instance

With --incomplete, lists the runs of every flow instance that started but
never finished (crashed or still running) instead.

Examples:
  flowkit trace --db ./flowkit.db --flow 0190c3b6-...
  flowkit trace --db ./flowkit.db --flow 0190c3b6-... --method tick
  flowkit trace --db ./flowkit.db --incomplete --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.FlowID, "flow", "", "state id of the flow instance to trace")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "restrict the timeline to one run")
	cmd.Flags().StringVar(&opts.Method, "method", "", "filter the timeline to one method")
	cmd.Flags().BoolVar(&opts.Incomplete, "incomplete", false, "list runs that never finished")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	if !opts.Incomplete && opts.FlowID == "" {
		return NewExitError(ExitCommandError, "--flow is required unless --incomplete is set")
	}
	if _, err := os.Stat(opts.Database); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
		}
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Incomplete {
		runs, err := st.FindIncompleteRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find incomplete runs", err)
		}
		if formatter.JSON() {
			return formatter.Success(runs)
		}
		outputIncompleteText(formatter.Writer, runs)
		return nil
	}

	result, err := buildTrace(ctx, st, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	if len(result.Runs) == 0 {
		fmt.Fprintf(formatter.Writer, "No events found for flow: %s\n", opts.FlowID)
		return nil
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

func buildTrace(ctx context.Context, st *store.Store, opts *TraceOptions) (TraceResult, error) {
	result := TraceResult{
		FlowID:   opts.FlowID,
		Runs:     []store.RunSummary{},
		Timeline: []TraceEvent{},
	}

	runs, err := st.ListRuns(ctx, opts.FlowID)
	if err != nil {
		return result, err
	}
	var evs []events.Event
	if opts.RunID != "" {
		evs, err = st.ReadRun(ctx, opts.RunID)
	} else {
		evs, err = st.ReadEvents(ctx, opts.FlowID)
	}
	if err != nil {
		return result, err
	}

	result.Stats.IsComplete = true
	for _, r := range runs {
		if opts.RunID != "" && r.RunID != opts.RunID {
			continue
		}
		result.Runs = append(result.Runs, r)
		result.Stats.Completions += r.Completions
		result.Stats.Failed += r.Failed()
		if !r.Finished {
			result.Stats.IsComplete = false
		}
	}
	result.Stats.Runs = len(result.Runs)

	for _, e := range evs {
		if e.FlowID != opts.FlowID {
			continue
		}
		if opts.Method != "" && e.MethodName != opts.Method {
			continue
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:    e.Seq,
			RunID:  e.RunID,
			Kind:   string(e.Kind),
			Method: e.MethodName,
			Result: e.Result,
		})
	}
	result.Stats.TotalEvents = len(result.Timeline)
	return result, nil
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace for flow: %s\n", result.FlowID)
	fmt.Fprintf(w, "Status: %s\n", completeStatus(result.Stats.IsComplete))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Runs ===")
	for _, r := range result.Runs {
		fmt.Fprintf(w, "  %s %s completions=%d failed=%d %s\n",
			r.RunID, r.FlowName, r.Completions, r.Failed(), completeStatus(r.Finished))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, e := range result.Timeline {
		formatTimelineEvent(w, e, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Runs:         %d\n", result.Stats.Runs)
	fmt.Fprintf(w, "  Completions:  %d\n", result.Stats.Completions)
	fmt.Fprintf(w, "  Failed:       %d\n", result.Stats.Failed)
}

// formatTimelineEvent formats a single timeline event for text output.
// Results are shown for flow_finished always and for methods in verbose
// mode.
func formatTimelineEvent(w io.Writer, e TraceEvent, verbose bool) {
	switch {
	case e.Method != "":
		fmt.Fprintf(w, "  [%d] %s %s %s\n", e.Seq, e.RunID, e.Kind, e.Method)
		if verbose && e.Result != nil {
			fmt.Fprintf(w, "       Result: %s\n", display(e.Result))
		}
	case e.Kind == string(events.FlowFinished):
		fmt.Fprintf(w, "  [%d] %s %s -> %s\n", e.Seq, e.RunID, e.Kind, display(e.Result))
	default:
		fmt.Fprintf(w, "  [%d] %s %s\n", e.Seq, e.RunID, e.Kind)
	}
}

func outputIncompleteText(w io.Writer, runs []store.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No incomplete runs.")
		return
	}
	fmt.Fprintln(w, "Incomplete runs:")
	for _, r := range runs {
		fmt.Fprintf(w, "  %s %s %s completions=%d failed=%d\n",
			r.RunID, r.FlowName, r.FlowID, r.Completions, r.Failed())
	}
}

func completeStatus(complete bool) string {
	if complete {
		return "complete"
	}
	return "incomplete"
}
