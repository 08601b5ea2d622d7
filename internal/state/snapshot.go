package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/Jeffail/gabs/v2"
)

// IDField is the identity field every state carries.
const IDField = "id"

// Snapshot is an immutable view of a state record at one point in time.
// Keys keep their record order: id first, then insertion order for
// unstructured state or schema order for structured state.
type Snapshot struct {
	keys   []string
	values map[string]any
}

func newSnapshot(keys []string, values map[string]any) Snapshot {
	return Snapshot{keys: keys, values: values}
}

// ID returns the state id.
func (s Snapshot) ID() string {
	id, _ := s.values[IDField].(string)
	return id
}

// Get returns a copy of the value stored under key.
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// Int returns the integer stored under key. Integral floats and
// json.Number values are accepted, so numbers read back from a persisted
// snapshot behave like the ones written by method bodies.
func (s Snapshot) Int(key string) (int64, bool) {
	return toInt64(s.values[key])
}

// String returns the string stored under key.
func (s Snapshot) String(key string) (string, bool) {
	v, ok := s.values[key].(string)
	return v, ok
}

// Lookup resolves a dotted path such as "draft.sections.0.title".
func (s Snapshot) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	c := gabs.Wrap(s.values)
	if !c.ExistsP(path) {
		return nil, false
	}
	return copyValue(c.Path(path).Data()), true
}

// Keys returns the field names in record order.
func (s Snapshot) Keys() []string {
	return slices.Clone(s.keys)
}

// Len returns the number of fields.
func (s Snapshot) Len() int {
	return len(s.keys)
}

// Map returns a deep copy of the record.
func (s Snapshot) Map() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = copyValue(v)
	}
	return out
}

// MarshalJSON writes the record as a JSON object in record order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(s.values[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode copies the record into a Go struct through its JSON tags.
func (s Snapshot) Decode(into any) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = copyValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = copyValue(elem)
		}
		return out
	default:
		return v
	}
}
