// Package redisstore persists flow snapshots and event logs in Redis.
//
// Keys, under a configurable prefix:
//
//	<prefix>:state:<id>     canonical JSON snapshot (string)
//	<prefix>:states         set of stored state ids
//	<prefix>:events:<id>    canonical JSON events of one flow instance (list)
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/flowkit/internal/events"
	"github.com/roach88/flowkit/internal/ir"
)

// DefaultPrefix is used when New is given an empty prefix.
const DefaultPrefix = "flowkit"

// Store implements the engine's Loader and the persist Saver and EventLog
// on top of a Redis client.
type Store struct {
	client *redis.Client
	prefix string
}

// New wraps an existing client.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Open connects to addr and verifies the connection.
func Open(ctx context.Context, addr, prefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Protocol:        2,
		DisableIdentity: true,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return New(client, prefix), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) stateKey(id string) string  { return s.prefix + ":state:" + id }
func (s *Store) statesKey() string          { return s.prefix + ":states" }
func (s *Store) eventsKey(id string) string { return s.prefix + ":events:" + id }

// Load returns the stored snapshot for id.
func (s *Store) Load(ctx context.Context, id string) (map[string]any, bool, error) {
	data, err := s.client.Get(ctx, s.stateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load state %s: %w", id, err)
	}
	snap, err := ir.DecodeJSON(data)
	if err != nil {
		return nil, false, fmt.Errorf("load state %s: %w", id, err)
	}
	return snap, true, nil
}

// Save writes the snapshot for id and records id in the state set.
func (s *Store) Save(ctx context.Context, id string, snapshot map[string]any) error {
	if id == "" {
		return fmt.Errorf("save state: id is required")
	}
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	data, err := ir.MarshalCanonical(snapshot)
	if err != nil {
		return fmt.Errorf("save state %s: %w", id, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.stateKey(id), data, 0)
	pipe.SAdd(ctx, s.statesKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save state %s: %w", id, err)
	}
	return nil
}

// ListStates returns every stored state id, sorted.
func (s *Store) ListStates(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.statesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// AppendEvent pushes e onto the event list of its flow instance.
func (s *Store) AppendEvent(ctx context.Context, e events.Event) error {
	data, err := ir.MarshalCanonical(encodeEvent(e))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := s.client.RPush(ctx, s.eventsKey(e.FlowID), data).Err(); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadEvents returns every event of a flow instance in append order.
func (s *Store) ReadEvents(ctx context.Context, flowID string) ([]events.Event, error) {
	items, err := s.client.LRange(ctx, s.eventsKey(flowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read events %s: %w", flowID, err)
	}
	out := make([]events.Event, 0, len(items))
	for i, item := range items {
		obj, err := ir.DecodeJSON([]byte(item))
		if err != nil {
			return nil, fmt.Errorf("read events %s: item %d: %w", flowID, i, err)
		}
		out = append(out, decodeEvent(obj))
	}
	return out, nil
}

func encodeEvent(e events.Event) map[string]any {
	return map[string]any{
		"seq":         e.Seq,
		"kind":        string(e.Kind),
		"flow_name":   e.FlowName,
		"flow_id":     e.FlowID,
		"run_id":      e.RunID,
		"method_name": e.MethodName,
		"result":      e.Result,
	}
}

func decodeEvent(obj map[string]any) events.Event {
	e := events.Event{Result: obj["result"]}
	e.Seq, _ = obj["seq"].(int64)
	e.Kind = events.Kind(str(obj["kind"]))
	e.FlowName = str(obj["flow_name"])
	e.FlowID = str(obj["flow_id"])
	e.RunID = str(obj["run_id"])
	e.MethodName = str(obj["method_name"])
	return e
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
