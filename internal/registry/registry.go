package registry

import (
	"context"
	"slices"

	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/state"
)

// Call carries everything a method body may use for one invocation.
type Call struct {
	// Flow is the flow type name.
	Flow string

	// Method is the name of the method being invoked.
	Method string

	// Trigger is the method name or route label that caused this invocation.
	// Empty for start methods launched at kickoff.
	Trigger string

	// Input is the triggering method's result. It is nil unless the method
	// was registered with AcceptsResult.
	Input any

	// State is the flow instance's state container.
	State *state.Container
}

// MethodFunc is the body of a registered method. Bodies may block on I/O;
// the engine imposes no timeout of its own.
type MethodFunc func(ctx context.Context, call Call) (any, error)

// Registry is the immutable method table of one flow type.
//
// INVARIANTS:
//   - specs order is registration order and never changes after Build
//   - every name referenced by a condition is a method or a declared route label
type Registry struct {
	name   string
	specs  []ir.MethodSpec
	index  map[string]int
	bodies map[string]MethodFunc
	starts []string
}

// Name returns the flow type name.
func (r *Registry) Name() string {
	return r.name
}

// Specs returns every method spec in registration order.
// The returned slice is a deep copy.
func (r *Registry) Specs() []ir.MethodSpec {
	out := make([]ir.MethodSpec, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.Clone()
	}
	return out
}

// Spec looks up one method spec by name.
func (r *Registry) Spec(name string) (ir.MethodSpec, bool) {
	i, ok := r.index[name]
	if !ok {
		return ir.MethodSpec{}, false
	}
	return r.specs[i].Clone(), true
}

// StartMethods returns the names of start methods in registration order.
func (r *Registry) StartMethods() []string {
	return slices.Clone(r.starts)
}

// IsRouter reports whether name is a registered router.
func (r *Registry) IsRouter(name string) bool {
	i, ok := r.index[name]
	return ok && r.specs[i].IsRouter()
}

// Body returns the body registered for name.
func (r *Registry) Body(name string) (MethodFunc, bool) {
	fn, ok := r.bodies[name]
	return fn, ok
}

// Len returns the number of registered methods.
func (r *Registry) Len() int {
	return len(r.specs)
}

// Triggered returns the specs that carry a trigger condition, in registration
// order. Each call builds a new slice; the engine takes it once at
// construction.
func (r *Registry) Triggered() []ir.MethodSpec {
	out := make([]ir.MethodSpec, 0, len(r.specs))
	for _, s := range r.specs {
		if s.IsTriggered() {
			out = append(out, s)
		}
	}
	return out
}
