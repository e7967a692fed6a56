// Package keyregistry implements the Key Registry (spec.md §4.1): a
// CRUD surface mapping an API key to the tenant it addresses, used by
// the Auth Gate on every public request.
package keyregistry

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"gamerelay/internal/apierr"
	"gamerelay/internal/kv"
)

const keyPrefix = "apikey:"

// Record is the persisted shape of one API key.
type Record struct {
	APIKey    string    `json:"apiKey"`
	GameID    string    `json:"gameId"`
	ProjectID string    `json:"projectId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Registry is the Key Registry component. It is safe for concurrent
// use: every operation is a single KV round-trip, no in-process state
// is held (the registry itself runs under the parallel-threads
// regime per spec.md §5).
type Registry struct {
	store  kv.Store
	logger *slog.Logger
}

// New constructs a Registry backed by store.
func New(store kv.Store, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

func storageKey(apiKey string) string {
	return keyPrefix + apiKey
}

// Put stores the mapping for apiKey, overwriting any prior record.
// Idempotent under equal input.
func (r *Registry) Put(ctx context.Context, apiKey, gameID, projectID string) error {
	if apiKey == "" || !strings.HasPrefix(apiKey, "wt_") {
		return apierr.New(apierr.CodeBadFormat, 400, "api key must be non-empty and start with wt_")
	}
	if gameID == "" {
		return apierr.New(apierr.CodeMissingField, 400, "gameId is required")
	}
	if projectID == "" {
		return apierr.New(apierr.CodeMissingField, 400, "projectId is required")
	}

	record := Record{
		APIKey:    apiKey,
		GameID:    gameID,
		ProjectID: projectID,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	if err := r.store.Set(ctx, storageKey(apiKey), data, 0); err != nil {
		return err
	}

	r.logger.Info("api key registered", "gameId", gameID, "projectId", projectID)
	return nil
}

// Delete removes apiKey's mapping. Idempotent: deleting an absent key
// is not an error.
func (r *Registry) Delete(ctx context.Context, apiKey string) error {
	if apiKey == "" || !strings.HasPrefix(apiKey, "wt_") {
		return apierr.New(apierr.CodeBadFormat, 400, "api key must be non-empty and start with wt_")
	}
	return r.store.Delete(ctx, storageKey(apiKey))
}

// Get returns the record for apiKey, or kv.ErrNotFound if absent.
func (r *Registry) Get(ctx context.Context, apiKey string) (*Record, error) {
	data, err := r.store.Get(ctx, storageKey(apiKey))
	if err != nil {
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
