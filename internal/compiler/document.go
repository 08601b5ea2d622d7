package compiler

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is the YAML form of a flow file.
//
//	name: poem
//	state:
//	  schema: |
//	    #State: {id: string, count: int | *0}
//	  initial: {count: 1}
//	methods:
//	  - name: begin
//	    start: true
//	    set: {count: "state.count + 1"}
//	  - name: route
//	    router: begin
//	    routes: [again, done]
//	    return: "state.count < 3 ? 'again' : 'done'"
type Document struct {
	Name    string      `yaml:"name"`
	State   StateDoc    `yaml:"state"`
	Methods []MethodDoc `yaml:"methods"`
}

// StateDoc declares the state container of a flow. An empty schema selects
// an unstructured container.
type StateDoc struct {
	Schema  string         `yaml:"schema"`
	Initial map[string]any `yaml:"initial"`
}

// MethodDoc declares one method and its body.
//
// A body runs its steps in a fixed order: delay, http, set, fail, return.
// Every step is optional; a method without steps returns nil.
type MethodDoc struct {
	Name          string        `yaml:"name"`
	Start         bool          `yaml:"start"`
	Listen        *ConditionDoc `yaml:"listen"`
	Router        *ConditionDoc `yaml:"router"`
	Routes        []string      `yaml:"routes"`
	AcceptsResult bool          `yaml:"accepts_result"`
	Delay         string        `yaml:"delay"`
	HTTP          *HTTPDoc      `yaml:"http"`
	Set           Assignments   `yaml:"set"`
	Fail          string        `yaml:"fail"`
	Return        string        `yaml:"return"`

	// Line is the line of the method in its source file, 0 when unknown.
	Line int `yaml:"-"`
}

// UnmarshalYAML records the source line of the method.
func (m *MethodDoc) UnmarshalYAML(node *yaml.Node) error {
	type plain MethodDoc
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*m = MethodDoc(p)
	m.Line = node.Line
	return nil
}

// Trigger returns the method's condition, whether declared as listen or
// router.
func (m *MethodDoc) Trigger() *ConditionDoc {
	if m.Router != nil {
		return m.Router
	}
	return m.Listen
}

// ConditionDoc accepts the condition shorthands of a flow file:
//
//	listen: a              # OR(a)
//	listen: [a, b]         # OR(a, b)
//	listen: {or: [a, b]}   # OR(a, b)
//	listen: {and: [a, b]}  # AND(a, b)
type ConditionDoc struct {
	Type    string
	Methods []string
}

// UnmarshalYAML decodes any of the condition shorthands.
func (c *ConditionDoc) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		c.Type = "OR"
		c.Methods = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		c.Type = "OR"
		return node.Decode(&c.Methods)
	case yaml.MappingNode:
		var m map[string][]string
		if err := node.Decode(&m); err != nil {
			return err
		}
		if len(m) != 1 {
			return fmt.Errorf("line %d: condition must have exactly one of or/and", node.Line)
		}
		for k, v := range m {
			switch k {
			case "or", "OR":
				c.Type = "OR"
			case "and", "AND":
				c.Type = "AND"
			default:
				c.Type = k
			}
			c.Methods = v
		}
		return nil
	default:
		return fmt.Errorf("line %d: unsupported condition form", node.Line)
	}
}

// HTTPDoc declares an HTTP request step. URL and header values may embed
// ${expression} placeholders; Body is a whole expression.
type HTTPDoc struct {
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`

	// Extract maps names to gjson paths evaluated against the response body.
	Extract map[string]string `yaml:"extract"`
}

// Assignment writes the value of Expr to the dotted state path Path.
type Assignment struct {
	Path string
	Expr string
}

// Assignments keeps the order of a set mapping as written.
type Assignments []Assignment

// UnmarshalYAML decodes a mapping of path to expression in document order.
func (a *Assignments) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: set must be a mapping of path to expression", node.Line)
	}
	out := make(Assignments, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: set %q must be an expression string", v.Line, k.Value)
		}
		out = append(out, Assignment{Path: k.Value, Expr: v.Value})
	}
	*a = out
	return nil
}

// Parse decodes a flow document without validating it.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse flow: %w", err)
	}
	return &doc, nil
}
