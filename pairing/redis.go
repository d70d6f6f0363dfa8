package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces pairing codes in a shared Redis instance.
const keyPrefix = "pairing:"

// Redis implements the pairing store on Redis, letting the TTL enforcement
// and single-claim semantics ride on SET-with-expiry and GETDEL.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed pairing store and verifies the connection.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

// Put stores a code for the user with the given time to live.
func (r *Redis) Put(ctx context.Context, code, userID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, keyPrefix+code, userID, ttl).Err(); err != nil {
		return fmt.Errorf("storing pairing code: %w", err)
	}
	return nil
}

// Claim resolves a code to its user id and consumes it atomically.
func (r *Redis) Claim(ctx context.Context, code string) (string, error) {
	userID, err := r.client.GetDel(ctx, keyPrefix+code).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCodeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("claiming pairing code: %w", err)
	}
	return userID, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
