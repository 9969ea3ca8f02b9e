package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.pilab.hu/usersync/domain"
)

// UserMirror stores each session's resolved user in Redis so that other
// replicas can read it without reconciling again.
type UserMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewUserMirror creates a UserMirror. Keys expire after ttl; a zero ttl
// keeps them until deleted.
func NewUserMirror(client *redis.Client, prefix string, ttl time.Duration) *UserMirror {
	return &UserMirror{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// redisKey returns the Redis key for a session.
func (m *UserMirror) redisKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:user", m.prefix, sessionID)
}

// Set stores the resolved user for a session, refreshing its TTL.
func (m *UserMirror) Set(ctx context.Context, sessionID string, user *domain.User) error {
	if user == nil {
		return m.Delete(ctx, sessionID)
	}

	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := m.client.Set(ctx, m.redisKey(sessionID), payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mirror user in Redis: %w", err)
	}

	return nil
}

// Get returns the mirrored user for a session, or nil when none is stored.
func (m *UserMirror) Get(ctx context.Context, sessionID string) (*domain.User, error) {
	payload, err := m.client.Get(ctx, m.redisKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mirrored user from Redis: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mirrored user: %w", err)
	}

	return &user, nil
}

// Delete removes the mirrored user for a session.
func (m *UserMirror) Delete(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, m.redisKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete mirrored user from Redis: %w", err)
	}

	return nil
}

// Ping checks the Redis connection.
func (m *UserMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
