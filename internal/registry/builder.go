package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/flowkit/internal/ir"
)

// Option adjusts a method registration.
type Option func(*ir.MethodSpec)

// AcceptsResult makes the engine pass the triggering method's result as
// Call.Input.
func AcceptsResult() Option {
	return func(s *ir.MethodSpec) {
		s.AcceptsResult = true
	}
}

// Routes declares the labels a router may return. Labels are advisory for
// visualization, but a condition may only name a label declared here or a
// registered method.
func Routes(labels ...string) Option {
	return func(s *ir.MethodSpec) {
		s.RouteLabels = append(s.RouteLabels, labels...)
	}
}

// Or builds an OR condition: fire whenever any member completes.
func Or(methods ...string) ir.Condition {
	return ir.Condition{Type: ir.ConditionOR, Methods: methods}
}

// And builds an AND condition: fire once every member has completed since
// the last firing.
func And(methods ...string) ir.Condition {
	return ir.Condition{Type: ir.ConditionAND, Methods: methods}
}

type entry struct {
	spec ir.MethodSpec
	body MethodFunc
}

// Builder collects method registrations for one flow type. Builders are not
// safe for concurrent use.
type Builder struct {
	flow    string
	entries []entry
}

// NewBuilder starts a registration table for the named flow type.
func NewBuilder(flow string) *Builder {
	return &Builder{flow: flow}
}

// Start registers an unconditional start method.
func (b *Builder) Start(name string, fn MethodFunc, opts ...Option) *Builder {
	return b.add(name, ir.KindStart, nil, fn, opts)
}

// StartWhen registers a start method that also re-runs whenever cond is
// satisfied.
func (b *Builder) StartWhen(name string, cond ir.Condition, fn MethodFunc, opts ...Option) *Builder {
	return b.add(name, ir.KindStart|ir.KindListener, &cond, fn, opts)
}

// Listen registers a listener.
func (b *Builder) Listen(name string, cond ir.Condition, fn MethodFunc, opts ...Option) *Builder {
	return b.add(name, ir.KindListener, &cond, fn, opts)
}

// Router registers a router. Its result must be a string (or fmt.Stringer);
// the engine uses it as the next trigger label.
func (b *Builder) Router(name string, cond ir.Condition, fn MethodFunc, opts ...Option) *Builder {
	return b.add(name, ir.KindListener|ir.KindRouter, &cond, fn, opts)
}

func (b *Builder) add(name string, kind ir.Kind, cond *ir.Condition, fn MethodFunc, opts []Option) *Builder {
	spec := ir.MethodSpec{Name: name, Kind: kind}
	if cond != nil {
		c := ir.Condition{Type: cond.Type, Methods: slices.Clone(cond.Methods)}
		spec.Condition = &c
	}
	for _, opt := range opts {
		opt(&spec)
	}
	b.entries = append(b.entries, entry{spec: spec, body: fn})
	return b
}

// Build validates every registration and returns the immutable registry.
// All problems are reported together, each as an *ir.ConfigurationError.
func (b *Builder) Build() (*Registry, error) {
	var errs []error
	fail := func(method, format string, args ...any) {
		errs = append(errs, &ir.ConfigurationError{
			Flow:    b.flow,
			Method:  method,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if b.flow == "" {
		fail("", "flow name is required")
	}

	reg := &Registry{
		name:   b.flow,
		index:  make(map[string]int, len(b.entries)),
		bodies: make(map[string]MethodFunc, len(b.entries)),
	}
	labels := make(map[string]bool)

	for _, e := range b.entries {
		if e.spec.Name == "" {
			fail("", "method name is required")
			continue
		}
		if _, dup := reg.index[e.spec.Name]; dup {
			fail(e.spec.Name, "method registered more than once")
			continue
		}
		if e.body == nil {
			fail(e.spec.Name, "method body is nil")
		}
		reg.index[e.spec.Name] = len(reg.specs)
		reg.specs = append(reg.specs, e.spec)
		reg.bodies[e.spec.Name] = e.body
		if e.spec.IsStart() {
			reg.starts = append(reg.starts, e.spec.Name)
		}
		for _, l := range e.spec.RouteLabels {
			labels[l] = true
		}
	}

	for _, s := range reg.specs {
		if s.Condition == nil {
			continue
		}
		c := s.Condition
		if !c.Type.Valid() {
			fail(s.Name, "invalid condition type %q (expected OR or AND)", c.Type)
			continue
		}
		if len(c.Methods) == 0 {
			fail(s.Name, "%s condition has no members", c.Type)
			continue
		}
		for _, m := range c.Methods {
			if m == "" {
				fail(s.Name, "condition member is empty")
				continue
			}
			if _, ok := reg.index[m]; !ok && !labels[m] {
				fail(s.Name, "condition references unknown method or route label %q", m)
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

// MustBuild is Build for statically declared flows; it panics on error.
func (b *Builder) MustBuild() *Registry {
	reg, err := b.Build()
	if err != nil {
		panic(err)
	}
	return reg
}
