package state

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/flowkit/internal/ir"
)

// DefinitionName is the CUE definition a schema source must declare.
const DefinitionName = "#State"

// Schema validates structured state records against a closed CUE
// definition. Unknown fields are rejected because definitions are closed.
//
// Example source:
//
//	#State: {
//		id:             string
//		sentence_count: int & >=0 | *1000
//		poem:           string | *""
//	}
//
// Thread-safety: a cue.Context is not safe for concurrent use, so every
// evaluation runs under the schema's mutex.
type Schema struct {
	mu     sync.Mutex
	ctx    *cue.Context
	def    cue.Value
	fields []string
	source string
}

// CompileSchema compiles CUE source declaring #State.
// A definition without a string "id" field is a configuration error.
func CompileSchema(src string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, &ir.ConfigurationError{Message: "state schema: " + firstCUEError(err)}
	}

	def := v.LookupPath(cue.ParsePath(DefinitionName))
	if !def.Exists() {
		return nil, &ir.ConfigurationError{Message: "state schema must declare " + DefinitionName}
	}
	if err := def.Err(); err != nil {
		return nil, &ir.ConfigurationError{Message: "state schema: " + firstCUEError(err)}
	}

	id := def.LookupPath(cue.ParsePath(IDField))
	if !id.Exists() {
		return nil, &ir.ConfigurationError{Message: "state schema has no id field"}
	}
	if id.IncompleteKind()&cue.StringKind == 0 {
		return nil, &ir.ConfigurationError{Message: "state schema id field must be a string"}
	}

	iter, err := def.Fields(cue.Optional(true))
	if err != nil {
		return nil, &ir.ConfigurationError{Message: "state schema: " + firstCUEError(err)}
	}
	fields := []string{IDField}
	for iter.Next() {
		name := iter.Label()
		if name != IDField {
			fields = append(fields, name)
		}
	}

	return &Schema{ctx: ctx, def: def, fields: fields, source: src}, nil
}

// Fields returns the declared field names, id first, then declaration order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// Source returns the CUE source the schema was compiled from.
func (s *Schema) Source() string {
	return s.source
}

// Validate unifies record with the definition and returns the concrete
// result with defaults filled in.
func (s *Schema) Validate(record map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.Encode(record)
	if err := v.Err(); err != nil {
		return nil, &ValidationError{Message: "unencodable value", Err: err}
	}

	u := s.def.Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return nil, validationFromCUE(err)
	}

	var out map[string]any
	if err := u.Decode(&out); err != nil {
		return nil, &ValidationError{Message: "decode validated record", Err: err}
	}
	return out, nil
}

// order lays out keys of a validated record in schema order. Keys admitted
// by pattern constraints follow in sorted order.
func (s *Schema) order(record map[string]any) []string {
	keys := make([]string, 0, len(record))
	seen := make(map[string]bool, len(record))
	for _, f := range s.fields {
		if _, ok := record[f]; ok {
			keys = append(keys, f)
			seen[f] = true
		}
	}
	var extra []string
	for k := range record {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	ir.SortKeysUTF16(extra)
	return append(keys, extra...)
}

func validationFromCUE(err error) *ValidationError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error(), Err: err}
	}
	first := errs[0]
	format, args := first.Msg()
	path := first.Path()
	if len(path) > 0 && path[0] == DefinitionName {
		path = path[1:]
	}
	return &ValidationError{
		Field:   strings.Join(path, "."),
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func firstCUEError(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	return errs[0].Error()
}
