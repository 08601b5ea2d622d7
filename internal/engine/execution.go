package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"sync"

	"github.com/roach88/flowkit/internal/events"
	"github.com/roach88/flowkit/internal/registry"
)

// run is the bookkeeping of one Kickoff. Every field below mu is guarded
// by it.
type run struct {
	id string

	mu       sync.Mutex
	outputs  []Output
	counts   map[string]int
	pending  pendingJoins
	quota    *QuotaEnforcer
	failures []*MethodExecutionError
	halt     error
}

func newRun(id string, maxSteps int) *run {
	return &run{
		id:      id,
		counts:  make(map[string]int),
		pending: make(pendingJoins),
		quota:   NewQuotaEnforcer(maxSteps),
	}
}

// admit counts one invocation against the quota. Once the run has halted
// every later invocation is refused.
func (r *run) admit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.halt != nil {
		return r.halt
	}
	if err := ctx.Err(); err != nil {
		r.halt = err
		return err
	}
	if err := r.quota.Check(r.id); err != nil {
		r.halt = err
		return err
	}
	return nil
}

func (r *run) record(method string, result any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = append(r.outputs, Output{Seq: len(r.outputs) + 1, Method: method, Result: result})
	r.counts[method]++
}

func (r *run) fail(err *MethodExecutionError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *run) evaluate(trigger string, e *Engine, routerOnly bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return triggered(trigger, e.triggered, r.pending, routerOnly)
}

func (r *run) haltErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halt
}

func (r *run) report(flowID string) *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := &Report{
		RunID:    r.id,
		FlowID:   flowID,
		Outputs:  append([]Output(nil), r.outputs...),
		Counts:   maps.Clone(r.counts),
		Failures: append([]*MethodExecutionError(nil), r.failures...),
	}
	if n := len(r.outputs); n > 0 {
		rep.Output = r.outputs[n-1].Result
	}
	return rep
}

// launch runs the start methods as concurrent branches and waits for all of
// them to quiesce.
func (e *Engine) launch(ctx context.Context, r *run, starts []string) {
	var wg sync.WaitGroup
	for _, name := range starts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if result, ok := e.invoke(ctx, r, name, "", nil); ok {
				e.propagate(ctx, r, name, result)
			}
		}()
	}
	wg.Wait()
}

// propagate feeds the completion of trigger into condition evaluation.
//
// Routers triggered by the current label run one at a time and each one's
// label becomes the next trigger; result is carried through unchanged.
// Once no router fires, the triggered listeners run concurrently and
// propagate does not return until every one of them (and everything they
// trigger) has finished.
func (e *Engine) propagate(ctx context.Context, r *run, trigger string, result any) {
	for {
		routers := r.evaluate(trigger, e, true)
		if len(routers) == 0 {
			break
		}
		next := trigger
		for _, name := range routers {
			out, ok := e.invoke(ctx, r, name, trigger, result)
			if !ok {
				return
			}
			e.propagate(ctx, r, name, out)
			next = out.(string)
		}
		trigger = next
	}

	listeners := r.evaluate(trigger, e, false)
	if len(listeners) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, name := range listeners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if out, ok := e.invoke(ctx, r, name, trigger, result); ok {
				e.propagate(ctx, r, name, out)
			}
		}()
	}
	wg.Wait()
}

// invoke is the single-method boundary. It reports false when the method
// was refused or failed; failures are logged and recorded, never returned.
// A router's result is normalized to its string label.
func (e *Engine) invoke(ctx context.Context, r *run, name, trigger string, input any) (any, bool) {
	if err := r.admit(ctx); err != nil {
		e.logger.Warn("method refused",
			"flow", e.reg.Name(),
			"method", name,
			"run_id", r.id,
			"error", err)
		return nil, false
	}

	spec := e.specs[name]
	body, _ := e.reg.Body(name)

	e.emit(r, events.MethodExecutionStarted, name, nil)

	call := registry.Call{
		Flow:    e.reg.Name(),
		Method:  name,
		Trigger: trigger,
		State:   e.state,
	}
	if spec.AcceptsResult {
		call.Input = input
	}

	result, panicked, err := callBody(ctx, body, call)
	if err == nil && spec.IsRouter() {
		result, err = routeLabel(result)
	}
	if err != nil {
		merr := &MethodExecutionError{
			Flow:     e.reg.Name(),
			Method:   name,
			RunID:    r.id,
			Panicked: panicked,
			Err:      err,
		}
		r.fail(merr)
		e.logger.Error("method execution failed",
			"flow", e.reg.Name(),
			"method", name,
			"run_id", r.id,
			"trigger", trigger,
			"error", merr)
		return nil, false
	}

	r.record(name, result)
	e.emit(r, events.MethodExecutionFinished, name, result)
	e.logger.Debug("method finished",
		"flow", e.reg.Name(),
		"method", name,
		"run_id", r.id,
		"trigger", trigger)
	return result, true
}

func callBody(ctx context.Context, body registry.MethodFunc, call registry.Call) (result any, panicked bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Debug("method panic stack", "method", call.Method, "stack", string(debug.Stack()))
			result, panicked, err = nil, true, fmt.Errorf("panic: %v", p)
		}
	}()
	result, err = body(ctx, call)
	return result, false, err
}

func routeLabel(v any) (string, error) {
	switch label := v.(type) {
	case string:
		return label, nil
	case fmt.Stringer:
		return label.String(), nil
	default:
		return "", fmt.Errorf("router returned %T, want a string label", v)
	}
}
