package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*ProcessedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewProcessedStore(client, ttl), mr
}

func TestProcessedStore(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, time.Hour)
	userID := uuid.New()

	done, err := store.IsProcessed(ctx, userID, "m1")
	require.NoError(t, err)
	assert.False(t, done)

	at, err := store.ProcessedAt(ctx, userID, "m1")
	require.NoError(t, err)
	assert.Nil(t, at)

	require.NoError(t, store.MarkProcessed(ctx, userID, "m1"))

	done, err = store.IsProcessed(ctx, userID, "m1")
	require.NoError(t, err)
	assert.True(t, done)

	at, err = store.ProcessedAt(ctx, userID, "m1")
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.WithinDuration(t, time.Now(), *at, time.Minute)

	// markers are scoped per user
	done, err = store.IsProcessed(ctx, uuid.New(), "m1")
	require.NoError(t, err)
	assert.False(t, done)

	assert.Equal(t, time.Hour, mr.TTL(processedKey(userID, "m1")))
	mr.FastForward(2 * time.Hour)

	done, err = store.IsProcessed(ctx, userID, "m1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestNewProcessedStore_DefaultTTL(t *testing.T) {
	store, _ := newTestStore(t, 0)
	assert.Equal(t, DefaultProcessedTTL, store.ttl)
}
