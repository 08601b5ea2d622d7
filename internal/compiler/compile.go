// Package compiler turns YAML flow files into method registries.
//
// A flow file declares the flow name, its state container and a list of
// methods. Each method carries its role (start, listen, router) and a body
// made of optional steps evaluated with expr-lang expressions. Compile
// validates the whole document before building anything, so every problem
// in a file is reported at once.
package compiler

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/registry"
	"github.com/roach88/flowkit/internal/state"
)

// DefaultHTTPTimeout bounds http steps when no client is supplied.
const DefaultHTTPTimeout = 30 * time.Second

// Definition is a compiled flow file.
type Definition struct {
	Name     string
	Source   string
	Registry *registry.Registry
	Schema   *state.Schema
	Initial  map[string]any
	Warnings []CycleWarning
}

// NewContainer creates a fresh state container for one flow instance,
// seeded with the file's initial values.
func (d *Definition) NewContainer(opts ...state.Option) (*state.Container, error) {
	all := make([]state.Option, 0, len(opts)+1)
	if len(d.Initial) > 0 {
		all = append(all, state.WithInitial(maps.Clone(d.Initial)))
	}
	all = append(all, opts...)
	if d.Schema != nil {
		return state.NewStructured(d.Schema, all...)
	}
	return state.NewUnstructured(all...)
}

type options struct {
	client *resty.Client
}

// Option configures Compile.
type Option func(*options)

// WithHTTPClient sets the client used by http steps.
func WithHTTPClient(c *resty.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithHTTPTimeout creates the http step client with timeout d.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o *options) {
		o.client = resty.New().SetTimeout(d)
	}
}

// Errors collects every validation error of a flow file.
type Errors []ValidationError

// Error implements the error interface.
func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "\n")
}

// AsErrors extracts validation errors from err.
func AsErrors(err error) (Errors, bool) {
	var errs Errors
	ok := errors.As(err, &errs)
	return errs, ok
}

// CompileFile reads and compiles a flow file.
func CompileFile(path string, opts ...Option) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow file: %w", err)
	}
	def, err := Compile(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.Source = path
	return def, nil
}

// Compile parses, validates and builds a flow document.
func Compile(data []byte, opts ...Option) (*Definition, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = resty.New().SetTimeout(DefaultHTTPTimeout)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if errs := Validate(doc); len(errs) > 0 {
		return nil, Errors(errs)
	}

	def := &Definition{Name: doc.Name, Initial: doc.State.Initial}
	if strings.TrimSpace(doc.State.Schema) != "" {
		def.Schema, err = state.CompileSchema(doc.State.Schema)
		if err != nil {
			return nil, err
		}
	}

	b := registry.NewBuilder(doc.Name)
	for i := range doc.Methods {
		m := &doc.Methods[i]
		bd, _ := compileBody(m, fmt.Sprintf("methods[%d]", i))
		bd.client = o.client
		register(b, m, bd.fn())
	}
	def.Registry, err = b.Build()
	if err != nil {
		return nil, err
	}
	def.Warnings = AnalyzeCycles(def.Registry)
	return def, nil
}

func register(b *registry.Builder, m *MethodDoc, fn registry.MethodFunc) {
	var opts []registry.Option
	if m.AcceptsResult {
		opts = append(opts, registry.AcceptsResult())
	}
	if len(m.Routes) > 0 {
		opts = append(opts, registry.Routes(m.Routes...))
	}

	cond := m.Trigger()
	switch {
	case m.Router != nil:
		b.Router(m.Name, condition(cond), fn, opts...)
	case m.Start && cond != nil:
		b.StartWhen(m.Name, condition(cond), fn, opts...)
	case m.Start:
		b.Start(m.Name, fn, opts...)
	default:
		b.Listen(m.Name, condition(cond), fn, opts...)
	}
}

func condition(c *ConditionDoc) ir.Condition {
	return ir.Condition{Type: ir.ConditionType(c.Type), Methods: slices.Clone(c.Methods)}
}

// LoadDir compiles every *.yaml and *.yml file in dir, sorted by name. Two
// files declaring the same flow name are an error.
func LoadDir(dir string, opts ...Option) ([]*Definition, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	slices.Sort(files)

	seen := make(map[string]string, len(files))
	defs := make([]*Definition, 0, len(files))
	for _, f := range files {
		def, err := CompileFile(f, opts...)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("flow %q declared in both %s and %s", def.Name, prev, f)
		}
		seen[def.Name] = f
		defs = append(defs, def)
	}
	return defs, nil
}
