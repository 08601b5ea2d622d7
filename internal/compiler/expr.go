package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/flowkit/internal/ir"
)

// Variables visible to every expression.
const (
	varState    = "state"
	varInput    = "input"
	varTrigger  = "trigger"
	varFlow     = "flow"
	varMethod   = "method"
	varResponse = "response"
)

// exprEnv is the compile-time shape of the expression environment. input
// is left out so the checker types it as interface{}; its value is set per
// evaluation by newEnv.
func exprEnv() map[string]any {
	return map[string]any{
		varState:    map[string]any{},
		varTrigger:  "",
		varFlow:     "",
		varMethod:   "",
		varResponse: map[string]any{},
		"get":       func(string) any { return nil },
		"null":      nil,
	}
}

// program is a compiled expression together with its source.
type program struct {
	src string
	vm  *vm.Program
}

func compileExpr(src string) (*program, error) {
	// expr.Env must come before AllowUndefinedVariables.
	p, err := expr.Compile(src, expr.Env(exprEnv()), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return &program{src: src, vm: p}, nil
}

func (p *program) eval(env map[string]any) (any, error) {
	out, err := expr.Run(p.vm, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", p.src, err)
	}
	return ir.NormalizeNumbers(out), nil
}

// newEnv builds the runtime environment for one evaluation. get resolves a
// dotted path against the state map.
func newEnv(st map[string]any, input any, trigger, flow, method string, response map[string]any) map[string]any {
	env := exprEnv()
	env[varState] = st
	env[varInput] = input
	env[varTrigger] = trigger
	env[varFlow] = flow
	env[varMethod] = method
	if response != nil {
		env[varResponse] = response
	}
	env["get"] = func(path string) any {
		return gabs.Wrap(env[varState]).Path(path).Data()
	}
	return env
}

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// template is a string with ${expression} placeholders.
type template struct {
	src   string
	parts []*program
}

func compileTemplate(src string) (*template, error) {
	t := &template{src: src}
	for _, m := range placeholder.FindAllStringSubmatch(src, -1) {
		p, err := compileExpr(m[1])
		if err != nil {
			return nil, err
		}
		t.parts = append(t.parts, p)
	}
	return t, nil
}

func (t *template) render(env map[string]any) (string, error) {
	if len(t.parts) == 0 {
		return t.src, nil
	}
	var firstErr error
	i := 0
	out := placeholder.ReplaceAllStringFunc(t.src, func(string) string {
		p := t.parts[i]
		i++
		v, err := p.eval(env)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ""
		}
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return strings.TrimSpace(out), nil
}
