package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/state"
)

// Validation error codes (E100-E199)
const (
	// Flow errors (E100-E104)
	ErrFlowNameEmpty    = "E100" // name is required
	ErrInvalidFlowName  = "E101" // name has an invalid format
	ErrFlowNoMethods    = "E102" // at least one method required
	ErrFlowNoStart      = "E103" // at least one start method required
	ErrInvalidSchema    = "E104" // state schema does not compile
	ErrInvalidInitState = "E105" // initial state has an invalid id

	// Method errors (E110-E119)
	ErrMethodNameEmpty      = "E110" // method name is required
	ErrDuplicateName        = "E111" // duplicate method name
	ErrMethodNoRole         = "E112" // neither start nor triggered
	ErrListenAndRouter      = "E113" // both listen and router declared
	ErrInvalidCondition     = "E114" // bad condition type or empty members
	ErrUnknownMember        = "E115" // condition member is not a method or route
	ErrRoutesWithoutRouter  = "E116" // routes declared on a non-router
	ErrInvalidExpression    = "E117" // expression does not compile
	ErrInvalidDelay         = "E118" // delay is not a valid duration
	ErrInvalidHTTP          = "E119" // http step is malformed
	ErrInvalidAssignment    = "E120" // set path cannot be assigned
	ErrAcceptsResultOnStart = "E121" // accepts_result on a start-only method
)

// ValidationError represents a flow file validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// flowNamePattern matches identifiers like "poem" or "order-intake".
var flowNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

// Validate checks a parsed flow document. Returns all errors found (does not
// fail-fast).
func Validate(doc *Document) []ValidationError {
	var errs []ValidationError

	// E100/E101: name
	if strings.TrimSpace(doc.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrFlowNameEmpty,
		})
	} else if !flowNamePattern.MatchString(doc.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("invalid flow name %q", doc.Name),
			Code:    ErrInvalidFlowName,
		})
	}

	errs = append(errs, validateState(doc.State)...)

	// E102: at least one method
	if len(doc.Methods) == 0 {
		errs = append(errs, ValidationError{
			Field:   "methods",
			Message: "at least one method is required",
			Code:    ErrFlowNoMethods,
		})
		return errs
	}

	names := make(map[string]bool, len(doc.Methods))
	labels := make(map[string]bool)
	hasStart := false
	for i := range doc.Methods {
		m := &doc.Methods[i]
		field := fmt.Sprintf("methods[%d]", i)

		// E110/E111: names
		if strings.TrimSpace(m.Name) == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: "method name is required",
				Code:    ErrMethodNameEmpty,
				Line:    m.Line,
			})
		} else if names[m.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate method name: %q", m.Name),
				Code:    ErrDuplicateName,
				Line:    m.Line,
			})
		}
		names[m.Name] = true
		if m.Start {
			hasStart = true
		}
		if m.Router != nil {
			for _, l := range m.Routes {
				labels[l] = true
			}
		}

		errs = append(errs, validateRole(m, field)...)
		_, bodyErrs := compileBody(m, field)
		errs = append(errs, bodyErrs...)
	}

	// E103: a flow that never starts can never run
	if !hasStart {
		errs = append(errs, ValidationError{
			Field:   "methods",
			Message: "at least one method must have start: true",
			Code:    ErrFlowNoStart,
		})
	}

	// E115: condition members must resolve
	for i := range doc.Methods {
		m := &doc.Methods[i]
		cond := m.Trigger()
		if cond == nil {
			continue
		}
		for _, member := range cond.Methods {
			if member == "" || names[member] || labels[member] {
				continue
			}
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("methods[%d].%s", i, conditionField(m)),
				Message: fmt.Sprintf("condition references unknown method or route label %q", member),
				Code:    ErrUnknownMember,
				Line:    m.Line,
			})
		}
	}

	return errs
}

func validateState(s StateDoc) []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(s.Schema) != "" {
		if _, err := state.CompileSchema(s.Schema); err != nil {
			errs = append(errs, ValidationError{
				Field:   "state.schema",
				Message: err.Error(),
				Code:    ErrInvalidSchema,
			})
		}
	}
	if id, ok := s.Initial[state.IDField]; ok {
		if str, isStr := id.(string); !isStr || str == "" {
			errs = append(errs, ValidationError{
				Field:   "state.initial.id",
				Message: "id must be a non-empty string",
				Code:    ErrInvalidInitState,
			})
		}
	}
	return errs
}

func validateRole(m *MethodDoc, field string) []ValidationError {
	var errs []ValidationError
	add := func(sub, code, msg string) {
		errs = append(errs, ValidationError{Field: field + sub, Message: msg, Code: code, Line: m.Line})
	}

	if m.Listen != nil && m.Router != nil {
		add("", ErrListenAndRouter, "method declares both listen and router")
	}
	if !m.Start && m.Trigger() == nil {
		add("", ErrMethodNoRole, "method must set start: true or declare listen or router")
	}
	if m.Router == nil && len(m.Routes) > 0 {
		add(".routes", ErrRoutesWithoutRouter, "routes are only valid on a router")
	}
	if m.Start && m.Trigger() == nil && m.AcceptsResult {
		add(".accepts_result", ErrAcceptsResultOnStart, "a start-only method never receives a result")
	}

	if cond := m.Trigger(); cond != nil {
		sub := "." + conditionField(m)
		if !ir.ConditionType(cond.Type).Valid() {
			add(sub, ErrInvalidCondition, fmt.Sprintf("invalid condition type %q (expected or / and)", cond.Type))
		}
		if len(cond.Methods) == 0 {
			add(sub, ErrInvalidCondition, "condition has no members")
		}
		for _, member := range cond.Methods {
			if member == "" {
				add(sub, ErrInvalidCondition, "condition member is empty")
			}
		}
	}
	return errs
}

func conditionField(m *MethodDoc) string {
	if m.Router != nil {
		return "router"
	}
	return "listen"
}
