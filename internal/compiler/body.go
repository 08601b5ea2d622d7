package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/registry"
	"github.com/roach88/flowkit/internal/state"
)

// ErrMethodFailed is wrapped by errors produced by a fail step.
var ErrMethodFailed = errors.New("method failed")

type assignment struct {
	path string
	prog *program
}

type httpStep struct {
	method  string
	url     *template
	headers map[string]*template
	body    *program
	extract map[string]string
}

// body is the executable form of a MethodDoc.
type body struct {
	delay  time.Duration
	http   *httpStep
	set    []assignment
	fail   *program
	ret    *program
	client *resty.Client
}

// compileBody compiles every expression of m. Problems are reported as
// ValidationErrors so Validate and Compile agree.
func compileBody(m *MethodDoc, field string) (*body, []ValidationError) {
	var errs []ValidationError
	bad := func(sub, code string, err error) {
		errs = append(errs, ValidationError{Field: field + "." + sub, Message: err.Error(), Code: code, Line: m.Line})
	}
	compile := func(sub, src string) *program {
		if strings.TrimSpace(src) == "" {
			return nil
		}
		p, err := compileExpr(src)
		if err != nil {
			bad(sub, ErrInvalidExpression, err)
		}
		return p
	}

	b := &body{}
	if m.Delay != "" {
		d, err := time.ParseDuration(m.Delay)
		if err == nil && d < 0 {
			err = fmt.Errorf("negative delay %s", m.Delay)
		}
		if err != nil {
			bad("delay", ErrInvalidDelay, err)
		}
		b.delay = d
	}

	if m.HTTP != nil {
		h := &httpStep{
			method:  strings.ToUpper(m.HTTP.Method),
			headers: make(map[string]*template, len(m.HTTP.Headers)),
			extract: m.HTTP.Extract,
		}
		if h.method == "" {
			h.method = resty.MethodGet
		}
		switch h.method {
		case resty.MethodGet, resty.MethodPost, resty.MethodPut, resty.MethodPatch,
			resty.MethodDelete, resty.MethodHead, resty.MethodOptions:
		default:
			bad("http.method", ErrInvalidHTTP, fmt.Errorf("unsupported method %q", m.HTTP.Method))
		}
		if strings.TrimSpace(m.HTTP.URL) == "" {
			bad("http.url", ErrInvalidHTTP, errors.New("url is required"))
		} else if t, err := compileTemplate(m.HTTP.URL); err != nil {
			bad("http.url", ErrInvalidExpression, err)
		} else {
			h.url = t
		}
		for k, v := range m.HTTP.Headers {
			t, err := compileTemplate(v)
			if err != nil {
				bad("http.headers."+k, ErrInvalidExpression, err)
				continue
			}
			h.headers[k] = t
		}
		h.body = compile("http.body", m.HTTP.Body)
		b.http = h
	}

	for i, a := range m.Set {
		if strings.TrimSpace(a.Path) == "" || a.Path == state.IDField {
			bad(fmt.Sprintf("set[%d]", i), ErrInvalidAssignment,
				fmt.Errorf("path %q cannot be assigned", a.Path))
			continue
		}
		if p := compile("set."+a.Path, a.Expr); p != nil {
			b.set = append(b.set, assignment{path: a.Path, prog: p})
		}
	}

	b.fail = compile("fail", m.Fail)
	b.ret = compile("return", m.Return)
	return b, errs
}

// fn adapts the compiled body to a registry.MethodFunc.
func (b *body) fn() registry.MethodFunc {
	return func(ctx context.Context, call registry.Call) (any, error) {
		if b.delay > 0 {
			t := time.NewTimer(b.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		env := func(st map[string]any, response map[string]any) map[string]any {
			return newEnv(st, call.Input, call.Trigger, call.Flow, call.Method, response)
		}

		var response map[string]any
		if b.http != nil {
			var err error
			response, err = b.do(ctx, env(call.State.Get().Map(), nil))
			if err != nil {
				return nil, err
			}
		}

		if len(b.set) > 0 {
			err := call.State.Update(func(snap state.Snapshot) (map[string]any, error) {
				return b.assign(snap.Map(), env, response)
			})
			if err != nil {
				return nil, err
			}
		}

		final := env(call.State.Get().Map(), response)
		if b.fail != nil {
			v, err := b.fail.eval(final)
			if err != nil {
				return nil, err
			}
			if msg, failed := failure(v); failed {
				return nil, fmt.Errorf("%w: %s", ErrMethodFailed, msg)
			}
		}

		if b.ret != nil {
			return b.ret.eval(final)
		}
		if response != nil {
			return response["body"], nil
		}
		return nil, nil
	}
}

// assign evaluates every assignment in order against a working copy of the
// state; each one sees the writes of those before it. It returns the changed
// top-level keys.
func (b *body) assign(working map[string]any, env func(map[string]any, map[string]any) map[string]any, response map[string]any) (map[string]any, error) {
	doc := gabs.Wrap(working)
	changed := make(map[string]any)
	for _, a := range b.set {
		v, err := a.prog.eval(env(working, response))
		if err != nil {
			return nil, err
		}
		if _, err := doc.SetP(v, a.path); err != nil {
			return nil, fmt.Errorf("set %s: %w", a.path, err)
		}
		top, _, _ := strings.Cut(a.path, ".")
		changed[top] = working[top]
	}
	return changed, nil
}

// do performs the HTTP step and returns the response as seen by
// expressions: status, headers, body and extract.
func (b *body) do(ctx context.Context, env map[string]any) (map[string]any, error) {
	h := b.http
	url, err := h.url.render(env)
	if err != nil {
		return nil, err
	}
	req := b.client.R().SetContext(ctx)
	for k, t := range h.headers {
		v, err := t.render(env)
		if err != nil {
			return nil, err
		}
		req.SetHeader(k, v)
	}
	if h.body != nil {
		payload, err := h.body.eval(env)
		if err != nil {
			return nil, err
		}
		req.SetBody(payload)
	}

	resp, err := req.Execute(h.method, url)
	if err != nil {
		return nil, fmt.Errorf("http %s %s: %w", h.method, url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("http %s %s: status %d", h.method, url, resp.StatusCode())
	}

	raw := resp.Body()
	var parsed any
	if gjson.ValidBytes(raw) {
		parsed = ir.NormalizeNumbers(gjson.ParseBytes(raw).Value())
	} else {
		parsed = string(raw)
	}
	headers := make(map[string]any, len(resp.Header()))
	for k := range resp.Header() {
		headers[k] = resp.Header().Get(k)
	}
	extracted := make(map[string]any, len(h.extract))
	for name, path := range h.extract {
		extracted[name] = ir.NormalizeNumbers(gjson.GetBytes(raw, path).Value())
	}
	return map[string]any{
		"status":  int64(resp.StatusCode()),
		"headers": headers,
		"body":    parsed,
		"extract": extracted,
	}, nil
}

// failure interprets the value of a fail expression: nil, false and the
// empty string mean success.
func failure(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case bool:
		return "fail condition is true", val
	case string:
		return val, val != ""
	default:
		return fmt.Sprint(val), true
	}
}
