package ir

import (
	"slices"
	"strings"
)

// Kind is a set of flags describing how a method participates in a flow.
//
// The flags are independent: a start method may also carry a trigger
// condition, in which case it runs at kickoff and again whenever its
// condition is satisfied.
type Kind uint8

const (
	// KindStart marks a method launched at the beginning of every run.
	KindStart Kind = 1 << iota

	// KindListener marks a method triggered by a condition.
	KindListener

	// KindRouter marks a listener whose string result becomes a new trigger
	// label instead of a plain output.
	KindRouter
)

// Has reports whether every flag in f is set on k.
func (k Kind) Has(f Kind) bool {
	return f != 0 && k&f == f
}

// String renders the flags joined by "|", e.g. "start|listener".
func (k Kind) String() string {
	var parts []string
	if k.Has(KindStart) {
		parts = append(parts, "start")
	}
	if k.Has(KindListener) {
		parts = append(parts, "listener")
	}
	if k.Has(KindRouter) {
		parts = append(parts, "router")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ConditionType selects the join semantics of a trigger condition.
type ConditionType string

const (
	// ConditionOR fires whenever any member completes. Stateless.
	ConditionOR ConditionType = "OR"

	// ConditionAND fires once every member has completed since the last
	// firing. Stateful per run.
	ConditionAND ConditionType = "AND"
)

// Valid reports whether t is one of the supported condition types.
func (t ConditionType) Valid() bool {
	return t == ConditionOR || t == ConditionAND
}

// Condition is a trigger condition over method names or route labels.
type Condition struct {
	Type    ConditionType `json:"type"`
	Methods []string      `json:"methods"`
}

// Contains reports whether name is a member of the condition.
func (c Condition) Contains(name string) bool {
	return slices.Contains(c.Methods, name)
}

// String renders the condition as OR(a, b) / AND(a, b).
func (c Condition) String() string {
	return string(c.Type) + "(" + strings.Join(c.Methods, ", ") + ")"
}

// MethodSpec describes one registered method of a flow type.
//
// INVARIANTS:
//   - Name is unique within its registry
//   - Condition is nil only for unconditional start methods
//   - RouteLabels is advisory metadata and never consulted by the scheduler
type MethodSpec struct {
	Name          string     `json:"name"`
	Kind          Kind       `json:"kind"`
	Condition     *Condition `json:"condition,omitempty"`
	AcceptsResult bool       `json:"accepts_result"`
	RouteLabels   []string   `json:"route_labels,omitempty"`
}

// IsStart reports whether the method runs at kickoff.
func (s MethodSpec) IsStart() bool {
	return s.Kind.Has(KindStart)
}

// IsRouter reports whether the method's result is a route label.
func (s MethodSpec) IsRouter() bool {
	return s.Kind.Has(KindRouter)
}

// IsTriggered reports whether the method has a trigger condition.
func (s MethodSpec) IsTriggered() bool {
	return s.Condition != nil
}

// Clone returns a deep copy so callers cannot mutate registry internals.
func (s MethodSpec) Clone() MethodSpec {
	out := s
	if s.Condition != nil {
		c := Condition{
			Type:    s.Condition.Type,
			Methods: slices.Clone(s.Condition.Methods),
		}
		out.Condition = &c
	}
	out.RouteLabels = slices.Clone(s.RouteLabels)
	return out
}
