package store

import (
	"context"
	"fmt"

	"github.com/roach88/flowkit/internal/events"
)

// Save upserts the snapshot of a flow instance. Each save replaces the
// previous snapshot and bumps its version.
//
// The snapshot is serialized to canonical JSON so identical states always
// produce identical rows.
func (s *Store) Save(ctx context.Context, id string, snapshot map[string]any) error {
	if id == "" {
		return fmt.Errorf("save state: id is required")
	}
	data, err := marshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("save state %s: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_states (id, snapshot, version)
		VALUES (?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			snapshot = excluded.snapshot,
			version = flow_states.version + 1
	`, id, data)
	if err != nil {
		return fmt.Errorf("save state %s: %w", id, err)
	}
	return nil
}

// AppendEvent inserts a lifecycle event into the log.
// Uses ON CONFLICT DO NOTHING for idempotency - an event already logged
// under the same (run_id, seq) is silently ignored.
func (s *Store) AppendEvent(ctx context.Context, e events.Event) error {
	result, err := marshalResult(e.Result)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_events
		(run_id, seq, kind, flow_name, flow_id, method_name, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		e.RunID,
		e.Seq,
		string(e.Kind),
		e.FlowName,
		e.FlowID,
		e.MethodName,
		result,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Delete removes a flow instance's snapshot. Its events are kept.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete state %s: %w", id, err)
	}
	return nil
}
