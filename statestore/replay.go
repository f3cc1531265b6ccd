package statestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultReplayKeyPrefix namespaces redeemed carrier ids in Redis.
const DefaultReplayKeyPrefix = "igauth:oauth_state_used:"

// ReplayGuard remembers which signed carriers were already redeemed.
type ReplayGuard interface {
	// Claim marks id as used until expiresAt. It reports false when id was
	// claimed before.
	Claim(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}

// MemoryReplayGuard keeps claims in process memory. Each claim is dropped
// once its carrier expires, so the set never outlives the state TTL.
type MemoryReplayGuard struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

var _ ReplayGuard = (*MemoryReplayGuard)(nil)

// NewMemoryReplayGuard creates an empty guard. A nil clock means time.Now.
func NewMemoryReplayGuard(now func() time.Time) *MemoryReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryReplayGuard{
		used: map[string]time.Time{},
		now:  now,
	}
}

// Claim implements ReplayGuard.
func (g *MemoryReplayGuard) Claim(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for key, exp := range g.used {
		if !now.Before(exp) {
			delete(g.used, key)
		}
	}

	if _, ok := g.used[id]; ok {
		return false, nil
	}
	g.used[id] = expiresAt
	return true, nil
}

// Len returns the number of live claims.
func (g *MemoryReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.used)
}

// RedisReplayGuard shares claims between replicas with SET NX and an expiry
// equal to the carrier's remaining lifetime.
type RedisReplayGuard struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ ReplayGuard = (*RedisReplayGuard)(nil)

// NewRedisReplayGuard wraps client. An empty prefix means DefaultReplayKeyPrefix.
func NewRedisReplayGuard(client redis.UniversalClient, prefix string) *RedisReplayGuard {
	if prefix == "" {
		prefix = DefaultReplayKeyPrefix
	}
	return &RedisReplayGuard{client: client, prefix: prefix, now: time.Now}
}

// Claim implements ReplayGuard.
func (g *RedisReplayGuard) Claim(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(g.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := g.client.SetNX(ctx, g.prefix+id, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim state: %w", err)
	}
	return ok, nil
}
