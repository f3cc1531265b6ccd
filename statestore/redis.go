package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-igauth"
)

// DefaultKeyPrefix namespaces state keys.
const DefaultKeyPrefix = "igauth:oauth_state:"

// TextCodeStateCollision is carried by ErrStateCollision.
const TextCodeStateCollision = "igauth_state_collision"

// ErrStateCollision is returned when Issue finds the state already stored.
var ErrStateCollision = goerrors.New("state already issued", goerrors.CategoryConflict).
	WithTextCode(TextCodeStateCollision).
	WithCode(goerrors.CodeConflict)

var errStateRequired = goerrors.New("state is required", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest)

// Redis keeps the state server side. Consume removes the key with GETDEL, so
// a state can be redeemed once even if the client replays the cookie.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

var _ igauth.StateStore = (*Redis)(nil)

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, opts ...RedisOption) (*Redis, error) {
	client, err := DialRedis(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisWithClient(client, opts...), nil
}

// DialRedis parses redisURL and pings the server.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, &igauth.ConfigError{Field: "REDIS_URL", Reason: err.Error()}
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Issue implements igauth.StateStore. The carrier is the state itself.
func (r *Redis) Issue(ctx context.Context, state string, ttl time.Duration) (string, error) {
	if state == "" {
		return "", errStateRequired
	}
	if ttl <= 0 {
		ttl = igauth.DefaultStateTTL
	}

	ok, err := r.client.SetNX(ctx, r.prefix+state, state, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}
	if !ok {
		return "", ErrStateCollision
	}
	return state, nil
}

// Consume implements igauth.StateStore.
func (r *Redis) Consume(ctx context.Context, carrier, presented string) error {
	if carrier == "" {
		return igauth.ErrStateMissing
	}

	stored, err := r.client.GetDel(ctx, r.prefix+carrier).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return igauth.ErrStateMissing
		}
		return fmt.Errorf("consume state: %w", err)
	}

	if !equal(stored, presented) {
		return igauth.ErrStateMismatch
	}
	return nil
}

// Ping implements igauth.Pinger.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
