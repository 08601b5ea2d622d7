package state

import (
	"fmt"
	"sync"

	"github.com/roach88/flowkit/internal/ir"
)

// Option configures a Container at construction.
type Option func(*Container)

// WithIDGenerator sets the generator used when a state has no id.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Container) {
		c.ids = g
	}
}

// WithInitial sets field values applied when the container is created.
func WithInitial(values map[string]any) Option {
	return func(c *Container) {
		c.initial = values
	}
}

// Container owns the state record of one flow instance.
//
// INVARIANTS:
//   - the current snapshot always has a non-empty string id
//   - a rejected change leaves the current snapshot unchanged
//   - snapshots are never mutated after being installed
type Container struct {
	mu      sync.RWMutex
	snap    Snapshot
	schema  *Schema
	ids     IDGenerator
	initial map[string]any
}

// NewUnstructured creates an unstructured container with a fresh id.
func NewUnstructured(opts ...Option) (*Container, error) {
	c := newContainer(nil, opts)
	c.snap = newSnapshot([]string{IDField}, map[string]any{IDField: c.ids.Generate()})
	if len(c.initial) > 0 {
		if err := c.Initialize(c.initial); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewStructured creates a container validated by schema. Defaults declared
// by the schema are filled in; fields without a default must be supplied
// with WithInitial.
func NewStructured(schema *Schema, opts ...Option) (*Container, error) {
	if schema == nil {
		return nil, &ir.ConfigurationError{Message: "structured state requires a schema"}
	}
	c := newContainer(schema, opts)
	record := map[string]any{IDField: c.ids.Generate()}
	for k, v := range c.initial {
		record[k] = copyValue(v)
	}
	snap, err := c.structured(record)
	if err != nil {
		return nil, err
	}
	c.snap = snap
	return c, nil
}

func newContainer(schema *Schema, opts []Option) *Container {
	c := &Container{schema: schema, ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Structured reports whether the container validates against a schema.
func (c *Container) Structured() bool {
	return c.schema != nil
}

// Schema returns the structured schema, or nil.
func (c *Container) Schema() *Schema {
	return c.schema
}

// Get returns the current snapshot.
func (c *Container) Get() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// ID returns the current state id.
func (c *Container) ID() string {
	return c.Get().ID()
}

// Initialize merges overrides into the current record. The existing id is
// kept unless overrides supply a new one. On structured state the merged
// record is validated and unknown fields are rejected.
func (c *Container) Initialize(overrides map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergeLocked(overrides)
}

// Set replaces a single field.
func (c *Container) Set(key string, value any) error {
	return c.Initialize(map[string]any{key: value})
}

// Update runs fn against the current snapshot and merges the fields it
// returns, atomically with respect to every other writer. fn must not call
// back into the container.
func (c *Container) Update(fn func(Snapshot) (map[string]any, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	changes, err := fn(c.snap)
	if err != nil {
		return err
	}
	return c.mergeLocked(changes)
}

// Restore replaces the whole record with snapshot. The snapshot must carry
// a non-empty string id; structured snapshots are validated.
func (c *Container) Restore(snapshot map[string]any) error {
	id, ok := snapshot[IDField].(string)
	if !ok || id == "" {
		return &RestoreError{Message: "snapshot has no id"}
	}

	record := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		record[k] = copyValue(v)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schema != nil {
		snap, err := c.structured(record)
		if err != nil {
			return &RestoreError{ID: id, Message: "snapshot does not match schema", Err: err}
		}
		c.snap = snap
		return nil
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		if k != IDField {
			keys = append(keys, k)
		}
	}
	ir.SortKeysUTF16(keys)
	c.snap = newSnapshot(append([]string{IDField}, keys...), record)
	return nil
}

func (c *Container) mergeLocked(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if id, ok := overrides[IDField]; ok {
		if s, isStr := id.(string); !isStr || s == "" {
			return &ValidationError{Field: IDField, Message: fmt.Sprintf("id must be a non-empty string, got %v", id)}
		}
	}

	if c.schema != nil {
		record := c.snap.Map()
		for k, v := range overrides {
			record[k] = copyValue(v)
		}
		snap, err := c.structured(record)
		if err != nil {
			return err
		}
		c.snap = snap
		return nil
	}

	values := make(map[string]any, len(c.snap.values)+len(overrides))
	for k, v := range c.snap.values {
		values[k] = v
	}
	keys := c.snap.Keys()
	var added []string
	for k, v := range overrides {
		if _, exists := values[k]; !exists {
			added = append(added, k)
		}
		values[k] = copyValue(v)
	}
	ir.SortKeysUTF16(added)
	c.snap = newSnapshot(append(keys, added...), values)
	return nil
}

// structured validates record, generating an id when it has none.
func (c *Container) structured(record map[string]any) (Snapshot, error) {
	if id, ok := record[IDField]; !ok || id == nil || id == "" {
		record[IDField] = c.ids.Generate()
	}
	out, err := c.schema.Validate(record)
	if err != nil {
		return Snapshot{}, err
	}
	return newSnapshot(c.schema.order(out), out), nil
}
