package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/flowkit/internal/events"
	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/registry"
	"github.com/roach88/flowkit/internal/state"
)

// Loader reads a persisted state snapshot by id. found is false when no
// snapshot exists for id.
type Loader interface {
	Load(ctx context.Context, id string) (snapshot map[string]any, found bool, err error)
}

// Engine schedules runs of one flow instance.
//
// Thread-safety model:
//   - Kickoff/Execute/KickoffAsync: safe from any goroutine; concurrent
//     runs share the state container but nothing else
//   - State(), Registry(), Subscribe(): safe from any goroutine
//
// INVARIANTS:
//   - the registry is read once in New and never changes
//   - the state container is owned by this engine alone
type Engine struct {
	reg       *registry.Registry
	specs     map[string]ir.MethodSpec
	triggered []ir.MethodSpec // registry order, condition carriers only

	state    *state.Container
	bus      *events.Bus
	sinks    []events.Sink
	logger   *slog.Logger
	maxSteps int
	runIDs   state.IDGenerator

	loader    Loader
	restore   *restoreRequest
	overrides map[string]any
}

type restoreRequest struct {
	ctx    context.Context
	loader Loader
	id     string
}

// Option configures an Engine.
type Option func(*Engine)

// WithState uses c as the flow's state. Default: a fresh unstructured
// container.
func WithState(c *state.Container) Option {
	return func(e *Engine) {
		e.state = c
	}
}

// WithSink subscribes s to the engine's event bus.
func WithSink(s events.Sink) Option {
	return func(e *Engine) {
		e.sinks = append(e.sinks, s)
	}
}

// WithBus emits events on b instead of a private bus, so several engines
// can share one set of subscribers.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) {
		e.bus = b
	}
}

// WithLogger sets the logger for failure and lifecycle reports.
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMaxSteps bounds the number of method invocations per run.
//
// Default: 0 (unbounded). Use a bound for flows whose OR or router cycles
// are not guaranteed to terminate.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithRunIDs sets the generator for run ids. Default: UUIDv7.
func WithRunIDs(g state.IDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithLoader lets kickoff inputs that carry an "id" restore the snapshot
// stored under that id before the remaining inputs are merged.
func WithLoader(loader Loader) Option {
	return func(e *Engine) {
		e.loader = loader
	}
}

// WithRestore loads the snapshot stored under id before any run starts and
// restores the state from it. A missing snapshot leaves the fresh state in
// place. Implies WithLoader(loader).
func WithRestore(ctx context.Context, loader Loader, id string) Option {
	return func(e *Engine) {
		e.loader = loader
		e.restore = &restoreRequest{ctx: ctx, loader: loader, id: id}
	}
}

// WithOverrides merges values into the state at construction, after any
// restore.
func WithOverrides(values map[string]any) Option {
	return func(e *Engine) {
		e.overrides = values
	}
}

// New creates an engine for reg.
//
// Fails with a RestoreError when the loaded snapshot is unusable and with a
// ValidationError when overrides are rejected by the state.
func New(reg *registry.Registry, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, &ir.ConfigurationError{Message: "engine requires a registry"}
	}

	e := &Engine{
		reg:    reg,
		specs:  make(map[string]ir.MethodSpec, reg.Len()),
		logger: slog.Default(),
		runIDs: state.UUIDv7Generator{},
	}
	for _, s := range reg.Specs() {
		e.specs[s.Name] = s
	}
	e.triggered = reg.Triggered()

	for _, opt := range opts {
		opt(e)
	}

	if e.state == nil {
		c, err := state.NewUnstructured()
		if err != nil {
			return nil, err
		}
		e.state = c
	}
	if e.bus == nil {
		e.bus = events.NewBus()
	}
	for _, s := range e.sinks {
		e.bus.Subscribe(s)
	}

	if e.restore != nil {
		if err := e.restoreState(); err != nil {
			return nil, err
		}
	}
	if len(e.overrides) > 0 {
		if err := e.state.Initialize(e.overrides); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}
	return e, nil
}

func (e *Engine) restoreState() error {
	r := e.restore
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	snapshot, found, err := r.loader.Load(ctx, r.id)
	if err != nil {
		return fmt.Errorf("load state %s: %w", r.id, err)
	}
	if !found {
		e.logger.Debug("no persisted state to restore",
			"flow", e.reg.Name(),
			"state_id", r.id)
		return nil
	}
	if err := e.state.Restore(snapshot); err != nil {
		return err
	}
	e.logger.Info("state restored",
		"flow", e.reg.Name(),
		"state_id", e.state.ID())
	return nil
}

// Registry returns the flow's method registry.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// State returns the flow's state container.
func (e *Engine) State() *state.Container {
	return e.state
}

// Subscribe adds a sink to the engine's bus and returns its remover.
func (e *Engine) Subscribe(s events.Sink) (unsubscribe func()) {
	return e.bus.Subscribe(s)
}

// Output is one recorded completion.
type Output struct {
	// Seq is the 1-based position in global completion order.
	Seq    int    `json:"seq"`
	Method string `json:"method"`
	Result any    `json:"result"`
}

// Report summarizes one run.
type Report struct {
	RunID  string `json:"run_id"`
	FlowID string `json:"flow_id"`

	// Output is the result of the last recorded completion, nil if no
	// method completed.
	Output any `json:"output"`

	Outputs  []Output                `json:"outputs"`
	Counts   map[string]int          `json:"counts"`
	Failures []*MethodExecutionError `json:"-"`
}

// Result is delivered by KickoffAsync.
type Result struct {
	Output any
	Err    error
}

// Kickoff runs the flow to quiescence and returns the final output.
//
// When the step bound is exceeded or ctx is cancelled, the partial output
// is returned together with the error.
func (e *Engine) Kickoff(ctx context.Context, inputs map[string]any) (any, error) {
	report, err := e.Execute(ctx, inputs)
	if report == nil {
		return nil, err
	}
	return report.Output, err
}

// KickoffAsync runs Kickoff in a new goroutine. The channel receives exactly
// one Result and is then closed.
func (e *Engine) KickoffAsync(ctx context.Context, inputs map[string]any) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		out, err := e.Kickoff(ctx, inputs)
		ch <- Result{Output: out, Err: err}
	}()
	return ch
}

// Execute runs the flow to quiescence and returns the full report.
//
// A non-nil report accompanies StepsExceededError and context errors; other
// errors are fatal and return a nil report.
func (e *Engine) Execute(ctx context.Context, inputs map[string]any) (*Report, error) {
	r := newRun(e.runIDs.Generate(), e.maxSteps)

	e.emit(r, events.FlowStarted, "", nil)
	e.logger.Info("flow started",
		"flow", e.reg.Name(),
		"run_id", r.id,
		"state_id", e.state.ID())

	if len(inputs) > 0 {
		if err := e.applyInputs(ctx, inputs); err != nil {
			return nil, fmt.Errorf("apply kickoff inputs: %w", err)
		}
	}

	starts := e.reg.StartMethods()
	if len(starts) == 0 {
		return nil, fmt.Errorf("flow %s: %w", e.reg.Name(), ErrNoStartMethod)
	}

	e.launch(ctx, r, starts)

	report := r.report(e.state.ID())
	e.emit(r, events.FlowFinished, "", report.Output)
	e.logger.Info("flow finished",
		"flow", e.reg.Name(),
		"run_id", r.id,
		"completions", len(report.Outputs),
		"failures", len(report.Failures))

	if err := r.haltErr(); err != nil {
		return report, err
	}
	return report, nil
}

// applyInputs merges kickoff inputs into the state. An input id naming a
// persisted snapshot restores that snapshot first, so the inputs override
// persisted values and persisted values override schema defaults.
func (e *Engine) applyInputs(ctx context.Context, inputs map[string]any) error {
	id, ok := inputs[state.IDField].(string)
	if ok && id != "" && e.loader != nil && id != e.state.ID() {
		snapshot, found, err := e.loader.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("load state %s: %w", id, err)
		}
		if found {
			if err := e.state.Restore(snapshot); err != nil {
				return err
			}
			e.logger.Info("state restored from kickoff inputs",
				"flow", e.reg.Name(),
				"state_id", id)
		}
	}
	return e.state.Initialize(inputs)
}

func (e *Engine) emit(r *run, kind events.Kind, method string, result any) {
	e.bus.Emit(events.Event{
		Kind:       kind,
		FlowName:   e.reg.Name(),
		FlowID:     e.state.ID(),
		RunID:      r.id,
		MethodName: method,
		Result:     result,
	})
}
