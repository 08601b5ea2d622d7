// Package persist saves flow state by observing lifecycle events.
//
// The engine never saves state itself. A Persister subscribed to the event
// bus writes a snapshot of the state container after every finished method
// and at the end of every run, and appends every event to backends that
// keep an event log.
package persist

import (
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/flowkit/internal/events"
	"github.com/roach88/flowkit/internal/state"
)

// Saver stores a state snapshot under its id.
type Saver interface {
	Save(ctx context.Context, id string, snapshot map[string]any) error
}

// EventLog appends lifecycle events.
type EventLog interface {
	AppendEvent(ctx context.Context, e events.Event) error
}

// Backend is a full persistence collaborator: it restores state for the
// engine and saves it for the Persister.
type Backend interface {
	Load(ctx context.Context, id string) (map[string]any, bool, error)
	Saver
}

// Option configures a Persister.
type Option func(*Persister)

// WithMethods restricts per-method saves to the named methods. The
// end-of-run save always happens.
func WithMethods(names ...string) Option {
	return func(p *Persister) {
		p.methods = append(p.methods, names...)
	}
}

// WithLogger sets the logger for save failures. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Persister) {
		p.logger = l
	}
}

// WithContext sets the context passed to the backend. Default:
// context.Background().
func WithContext(ctx context.Context) Option {
	return func(p *Persister) {
		p.ctx = ctx
	}
}

// Persister is an events.Sink that saves the state of one container.
// Save failures are logged and never reach the scheduler.
type Persister struct {
	saver   Saver
	log     EventLog
	state   *state.Container
	methods []string
	logger  *slog.Logger
	ctx     context.Context
}

// New creates a Persister for c. If saver also implements EventLog, every
// delivered event is appended to it.
func New(saver Saver, c *state.Container, opts ...Option) *Persister {
	p := &Persister{
		saver:  saver,
		state:  c,
		logger: slog.Default(),
		ctx:    context.Background(),
	}
	if log, ok := saver.(EventLog); ok {
		p.log = log
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Deliver implements events.Sink.
func (p *Persister) Deliver(e events.Event) {
	if p.log != nil {
		if err := p.log.AppendEvent(p.ctx, e); err != nil {
			p.logger.Error("append event failed",
				"flow", e.FlowName,
				"run_id", e.RunID,
				"seq", e.Seq,
				"error", err)
		}
	}

	switch e.Kind {
	case events.MethodExecutionFinished:
		if len(p.methods) > 0 && !slices.Contains(p.methods, e.MethodName) {
			return
		}
	case events.FlowFinished:
	default:
		return
	}
	p.save(e)
}

func (p *Persister) save(e events.Event) {
	snap := p.state.Get()
	if err := p.saver.Save(p.ctx, snap.ID(), snap.Map()); err != nil {
		p.logger.Error("save state failed",
			"flow", e.FlowName,
			"state_id", snap.ID(),
			"method", e.MethodName,
			"error", err)
		return
	}
	p.logger.Debug("state saved",
		"flow", e.FlowName,
		"state_id", snap.ID(),
		"kind", string(e.Kind))
}
