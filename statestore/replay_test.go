package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReplayGuardClaimsOnce(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	guard := NewMemoryReplayGuard(func() time.Time { return now })
	ctx := context.Background()

	ok, err := guard.Claim(ctx, "id-1", now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Claim(ctx, "id-1", now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.Claim(ctx, "id-2", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, guard.Len())
}

func TestMemoryReplayGuardPrunesExpiredClaims(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	guard := NewMemoryReplayGuard(func() time.Time { return now })
	ctx := context.Background()

	_, err := guard.Claim(ctx, "short", now.Add(time.Minute))
	require.NoError(t, err)
	_, err = guard.Claim(ctx, "long", now.Add(10*time.Minute))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	ok, err := guard.Claim(ctx, "other", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, guard.Len(), "expired claim is dropped")

	ok, err = guard.Claim(ctx, "long", now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisReplayGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := NewRedisReplayGuard(client, "")
	ctx := context.Background()

	ok, err := guard.Claim(ctx, "id-1", time.Now().Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	key := DefaultReplayKeyPrefix + "id-1"
	require.True(t, mr.Exists(key))
	ttl := mr.TTL(key)
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)

	ok, err = guard.Claim(ctx, "id-1", time.Now().Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(11 * time.Minute)
	assert.False(t, mr.Exists(key))
}

func TestRedisReplayGuardBacksSignedCookie(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewSignedCookie(testKey, WithReplayGuard(NewRedisReplayGuard(client, "test:used:")))
	require.NoError(t, err)

	carrier, err := store.Issue(context.Background(), "state-value", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Consume(context.Background(), carrier, "state-value"))
	assert.Len(t, mr.Keys(), 1)

	mr.Close()
	assert.Error(t, store.Consume(context.Background(), carrier, "state-value"))
}
