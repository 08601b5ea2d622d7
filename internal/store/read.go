package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/flowkit/internal/events"
)

// StateRecord describes one stored snapshot.
type StateRecord struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// Load returns the stored snapshot for id. found is false when no snapshot
// exists.
func (s *Store) Load(ctx context.Context, id string) (map[string]any, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM flow_states WHERE id = ?
	`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load state %s: %w", id, err)
	}

	snap, err := unmarshalSnapshot(data)
	if err != nil {
		return nil, false, fmt.Errorf("load state %s: %w", id, err)
	}
	return snap, true, nil
}

// ListStates returns every stored snapshot id with its version, ordered by id.
//
// Returns an empty slice (not nil) if the store is empty.
func (s *Store) ListStates(ctx context.Context) ([]StateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version FROM flow_states
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	records := []StateRecord{}
	for rows.Next() {
		var r StateRecord
		if err := rows.Scan(&r.ID, &r.Version); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate states: %w", err)
	}
	return records, nil
}

// ReadEvents returns every event of a flow instance in log order.
//
// Returns an empty slice (not nil) if no events exist for flowID.
func (s *Store) ReadEvents(ctx context.Context, flowID string) ([]events.Event, error) {
	return s.queryEvents(ctx, `
		SELECT run_id, seq, kind, flow_name, flow_id, method_name, result
		FROM flow_events
		WHERE flow_id = ?
		ORDER BY rowid_seq ASC
	`, flowID)
}

// ReadRun returns the events of one run in seq order.
func (s *Store) ReadRun(ctx context.Context, runID string) ([]events.Event, error) {
	return s.queryEvents(ctx, `
		SELECT run_id, seq, kind, flow_name, flow_id, method_name, result
		FROM flow_events
		WHERE run_id = ?
		ORDER BY seq ASC, rowid_seq ASC
	`, runID)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := []events.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func scanEvent(rows *sql.Rows) (events.Event, error) {
	var (
		e      events.Event
		kind   string
		result sql.NullString
	)
	if err := rows.Scan(&e.RunID, &e.Seq, &kind, &e.FlowName, &e.FlowID, &e.MethodName, &result); err != nil {
		return events.Event{}, fmt.Errorf("scan event: %w", err)
	}
	e.Kind = events.Kind(kind)

	v, err := unmarshalResult(result)
	if err != nil {
		return events.Event{}, err
	}
	e.Result = v
	return e, nil
}
