package store

import (
	"context"
	"fmt"
)

// RunSummary describes one run reconstructed from the event log.
type RunSummary struct {
	RunID    string `json:"run_id"`
	FlowName string `json:"flow_name"`
	FlowID   string `json:"flow_id"`

	// Completions counts method_execution_finished events.
	Completions int `json:"completions"`

	// Started counts method_execution_started events. Started minus
	// Completions is the number of methods that failed or never finished.
	Started int `json:"started"`

	// Finished is true once flow_finished was logged.
	Finished bool `json:"finished"`
}

// Failed returns the number of method executions that started but never
// finished.
func (r RunSummary) Failed() int {
	return r.Started - r.Completions
}

// ListRuns summarizes every run of a flow instance, in the order the runs
// started.
func (s *Store) ListRuns(ctx context.Context, flowID string) ([]RunSummary, error) {
	return s.queryRuns(ctx, `
		SELECT run_id, flow_name, flow_id,
			SUM(kind = 'method_execution_finished'),
			SUM(kind = 'method_execution_started'),
			MAX(kind = 'flow_finished')
		FROM flow_events
		WHERE flow_id = ?
		GROUP BY run_id
		ORDER BY MIN(rowid_seq) ASC
	`, flowID)
}

// FindIncompleteRuns returns runs that logged flow_started but never
// flow_finished, across every flow instance.
//
// A run is incomplete when the process died mid-run or the run is still in
// progress. Used by the trace command to flag crashed runs.
func (s *Store) FindIncompleteRuns(ctx context.Context) ([]RunSummary, error) {
	return s.queryRuns(ctx, `
		SELECT run_id, flow_name, flow_id,
			SUM(kind = 'method_execution_finished'),
			SUM(kind = 'method_execution_started'),
			MAX(kind = 'flow_finished') AS finished
		FROM flow_events
		GROUP BY run_id
		HAVING finished = 0
		ORDER BY MIN(rowid_seq) ASC
	`)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var (
			r        RunSummary
			finished int
		)
		if err := rows.Scan(&r.RunID, &r.FlowName, &r.FlowID, &r.Completions, &r.Started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Finished = finished == 1
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
