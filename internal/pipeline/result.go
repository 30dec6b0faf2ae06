package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/store"
)

// WriteContenders persists a run result twice: the short-TTL serving copy
// and the long-TTL "last known good" copy behind the /last contract.
func WriteContenders(ctx context.Context, s store.Store, result models.DiscoveryResult, ttl, lastTTL time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("pipeline: marshal result: %w", err)
	}
	entry := models.CacheEntry{
		Payload:       payload,
		WrittenAt:     result.FinishedAt,
		TTLSeconds:    int(ttl / time.Second),
		SchemaVersion: models.SchemaVersion,
	}
	if err := store.SetJSON(ctx, s, store.ContendersKey(result.StrategyTag), entry, ttl); err != nil {
		return fmt.Errorf("pipeline: write contenders: %w", err)
	}
	if err := store.SetJSON(ctx, s, store.LastContendersKey(result.StrategyTag), entry, lastTTL); err != nil {
		return fmt.Errorf("pipeline: write last contenders: %w", err)
	}
	return nil
}

// ReadContenders loads a cached result from the given key. Entries from an
// older schema read as missing so a deploy never serves mixed shapes.
func ReadContenders(ctx context.Context, s store.Store, key string) (models.DiscoveryResult, models.CacheEntry, error) {
	var entry models.CacheEntry
	if err := store.GetJSON(ctx, s, key, &entry); err != nil {
		return models.DiscoveryResult{}, models.CacheEntry{}, err
	}
	if entry.SchemaVersion != models.SchemaVersion {
		return models.DiscoveryResult{}, models.CacheEntry{}, store.ErrNotFound
	}
	var result models.DiscoveryResult
	if err := json.Unmarshal(entry.Payload, &result); err != nil {
		return models.DiscoveryResult{}, models.CacheEntry{}, fmt.Errorf("pipeline: decode cached result: %w", err)
	}
	return result, entry, nil
}
