// Package cache keeps short-lived rule state in Redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	processedKeyPrefix  = "rules:processed"
	DefaultProcessedTTL = 30 * 24 * time.Hour
)

// ProcessedStore remembers which messages rules already ran on, so bulk runs
// skip them. Markers expire after the configured TTL.
type ProcessedStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProcessedStore creates a store; ttl <= 0 uses DefaultProcessedTTL.
func NewProcessedStore(client *redis.Client, ttl time.Duration) *ProcessedStore {
	if ttl <= 0 {
		ttl = DefaultProcessedTTL
	}
	return &ProcessedStore{client: client, ttl: ttl}
}

type processedMarker struct {
	ProcessedAt time.Time `json:"processed_at"`
}

func processedKey(userID uuid.UUID, messageID string) string {
	return fmt.Sprintf("%s:%s:%s", processedKeyPrefix, userID, messageID)
}

// IsProcessed reports whether a marker exists for the message.
func (s *ProcessedStore) IsProcessed(ctx context.Context, userID uuid.UUID, messageID string) (bool, error) {
	n, err := s.client.Exists(ctx, processedKey(userID, messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed writes the marker, refreshing its TTL.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, userID uuid.UUID, messageID string) error {
	data, err := json.Marshal(processedMarker{ProcessedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, processedKey(userID, messageID), data, s.ttl).Err()
}

// ProcessedAt returns when the message was marked, or nil when it was not.
func (s *ProcessedStore) ProcessedAt(ctx context.Context, userID uuid.UUID, messageID string) (*time.Time, error) {
	data, err := s.client.Get(ctx, processedKey(userID, messageID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var marker processedMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, err
	}
	return &marker.ProcessedAt, nil
}
