package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/flowkit/internal/ir"
)

// marshalSnapshot converts a state snapshot to canonical JSON TEXT.
func marshalSnapshot(snapshot map[string]any) (string, error) {
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	data, err := ir.MarshalCanonical(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}

// unmarshalSnapshot parses a stored snapshot, keeping integers integral.
func unmarshalSnapshot(data string) (map[string]any, error) {
	if data == "" {
		return map[string]any{}, nil
	}
	snap, err := ir.DecodeJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// marshalResult converts an event result to canonical JSON TEXT.
// A nil result is stored as SQL NULL.
func marshalResult(result any) (sql.NullString, error) {
	if result == nil {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(result)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalResult parses a stored result. SQL NULL becomes nil.
func unmarshalResult(data sql.NullString) (any, error) {
	if !data.Valid {
		return nil, nil
	}
	v, err := ir.DecodeValue([]byte(data.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return v, nil
}
