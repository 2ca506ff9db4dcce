package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/lectio/cache"
	"github.com/pilab-dev/lectio/domain"
	"github.com/redis/go-redis/v9"
)

// SessionStore implements cache.SessionStore using Redis.
type SessionStore struct {
	client *redis.Client
	prefix string
}

// NewSessionStore creates a new [SessionStore] instance.
func NewSessionStore(client *redis.Client, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "lectio"
	}
	return &SessionStore{client: client, prefix: prefix}
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

func (r *SessionStore) entryKey(token string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, cache.HashToken(token))
}

func (r *SessionStore) counterKey(key string) string {
	return fmt.Sprintf("%s:rate:%s", r.prefix, key)
}

// Set stores the entry until its expiry.
func (r *SessionStore) Set(ctx context.Context, entry *cache.SessionEntry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal session entry: %w", err)
	}

	if err := r.client.Set(ctx, r.entryKey(entry.TokenValue), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set token in redis: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

// Get returns cache.ErrNotFound for unknown or expired tokens.
func (r *SessionStore) Get(ctx context.Context, token string) (*cache.SessionEntry, error) {
	val, err := r.client.Get(ctx, r.entryKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token from redis: %w: %w", domain.ErrUnavailable, err)
	}

	var entry cache.SessionEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session entry: %w", err)
	}
	entry.TokenValue = token
	return &entry, nil
}

// Delete removes a token. Deleting a missing token is not an error.
func (r *SessionStore) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, r.entryKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete token from redis: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

// Incr bumps a rate counter, starting its window on the first increment.
func (r *SessionStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := r.counterKey(key)
	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w: %w", domain.ErrUnavailable, err)
	}
	if n == 1 {
		if err := r.client.Expire(ctx, k, window).Err(); err != nil {
			return n, fmt.Errorf("failed to set counter expiry: %w: %w", domain.ErrUnavailable, err)
		}
	}
	return n, nil
}

// Close closes the underlying client.
func (r *SessionStore) Close() error {
	return r.client.Close()
}

var _ cache.SessionStore = (*SessionStore)(nil)
