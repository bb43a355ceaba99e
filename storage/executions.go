// Package storage checkpoints execution snapshots in NATS KV so status
// queries and restarts survive the orchestrator process. The graph database
// remains the system of record for telemetry; this store holds only the
// latest snapshot per execution.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semflow/execution"
)

// BucketExecutions is the KV bucket holding execution snapshots.
const BucketExecutions = "SEMFLOW_EXECUTIONS"

// executionHistory is how many snapshot revisions KV retains per execution.
const executionHistory = 5

// ExecutionStore persists execution snapshots keyed by execution id.
type ExecutionStore struct {
	kv jetstream.KeyValue
}

// NewExecutionStore creates the store, creating the KV bucket if needed.
func NewExecutionStore(ctx context.Context, js jetstream.JetStream) (*ExecutionStore, error) {
	kv, err := getOrCreateBucket(ctx, js, BucketExecutions)
	if err != nil {
		return nil, fmt.Errorf("create executions bucket: %w", err)
	}
	return &ExecutionStore{kv: kv}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Semflow execution snapshots",
		History:     executionHistory,
	})
}

// Save writes the snapshot under its execution id, replacing any earlier
// revision.
func (s *ExecutionStore) Save(ctx context.Context, snap execution.Snapshot) error {
	if snap.ExecutionID == "" {
		return fmt.Errorf("snapshot missing execution id")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, err := s.kv.Put(ctx, snap.ExecutionID, data); err != nil {
		return fmt.Errorf("store snapshot %s: %w", snap.ExecutionID, err)
	}
	return nil
}

// Load returns the latest snapshot for an execution id.
func (s *ExecutionStore) Load(ctx context.Context, executionID string) (execution.Snapshot, error) {
	entry, err := s.kv.Get(ctx, executionID)
	if err != nil {
		if isNotFound(err) {
			return execution.Snapshot{}, ErrNotFound
		}
		return execution.Snapshot{}, fmt.Errorf("get snapshot %s: %w", executionID, err)
	}

	var snap execution.Snapshot
	if err := json.Unmarshal(entry.Value(), &snap); err != nil {
		return execution.Snapshot{}, fmt.Errorf("unmarshal snapshot %s: %w", executionID, err)
	}
	return snap, nil
}

// List returns every stored snapshot, sorted by execution id. Entries that
// fail to load are skipped.
func (s *ExecutionStore) List(ctx context.Context) ([]execution.Snapshot, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshot keys: %w", err)
	}

	snaps := make([]execution.Snapshot, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var snap execution.Snapshot
		if err := json.Unmarshal(entry.Value(), &snap); err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].ExecutionID < snaps[j].ExecutionID
	})
	return snaps, nil
}

// Delete removes an execution's snapshot.
func (s *ExecutionStore) Delete(ctx context.Context, executionID string) error {
	if err := s.kv.Delete(ctx, executionID); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete snapshot %s: %w", executionID, err)
	}
	return nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
