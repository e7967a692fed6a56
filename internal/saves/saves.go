// Package saves implements the Saves Store (spec.md §4.3): per-player
// key/value save storage scoped by (gameId, playerId, saveKey), with
// eventually-consistent, overwrite-on-write semantics.
package saves

import (
	"context"
	"encoding/json"
	"strings"

	"gamerelay/internal/kv"
)

// maxSaveBytes bounds a single save value, per spec.md §3 ("opaque,
// <=25 MiB").
const maxSaveBytes = 25 * 1024 * 1024

// Store is the Saves Store component.
type Store struct {
	kv kv.Store
}

// New constructs a Store backed by the shared KV store.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

func storageKey(gameID, playerID, saveKey string) string {
	return gameID + ":" + playerID + ":" + saveKey
}

// Put stores data verbatim under (gameID, playerID, saveKey),
// overwriting any previous value. data must already be valid JSON;
// callers are responsible for validating the request body before
// calling Put (mirrors spec.md's "BadJSON" error living at the
// transport boundary, not in the store).
func (s *Store) Put(ctx context.Context, gameID, playerID, saveKey string, data json.RawMessage) error {
	return s.kv.Set(ctx, storageKey(gameID, playerID, saveKey), data, 0)
}

// Get returns the stored value, or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, gameID, playerID, saveKey string) (json.RawMessage, error) {
	data, err := s.kv.Get(ctx, storageKey(gameID, playerID, saveKey))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Delete idempotently removes the saved value.
func (s *Store) Delete(ctx context.Context, gameID, playerID, saveKey string) error {
	return s.kv.Delete(ctx, storageKey(gameID, playerID, saveKey))
}

// List returns every saveKey stored for (gameID, playerID).
func (s *Store) List(ctx context.Context, gameID, playerID string) ([]string, error) {
	prefix := gameID + ":" + playerID + ":"
	keys, err := s.kv.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}

	saveKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		saveKeys = append(saveKeys, strings.TrimPrefix(key, prefix))
	}
	return saveKeys, nil
}

// MaxSaveBytes exposes the configured save size limit for transport
// handlers enforcing it on request bodies.
func MaxSaveBytes() int64 {
	return maxSaveBytes
}
