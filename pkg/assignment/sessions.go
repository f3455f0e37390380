package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// SessionStore keeps open sessions behind their id for callers that cannot
// hold the session value themselves, such as the HTTP surface
type SessionStore interface {
	Put(ctx context.Context, session *Session) error
	// Get returns ErrSessionNotFound for unknown or expired ids
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore is an in-process LRU of sessions with a TTL
type MemorySessionStore struct {
	cache *lru.LRU[string, *Session]
}

// NewMemorySessionStore creates a store holding at most size sessions for ttl each
func NewMemorySessionStore(size int, ttl time.Duration) *MemorySessionStore {
	if size <= 0 {
		size = 1024
	}
	return &MemorySessionStore{
		cache: lru.NewLRU[string, *Session](size, nil, ttl),
	}
}

// Put stores a session
func (s *MemorySessionStore) Put(ctx context.Context, session *Session) error {
	s.cache.Add(session.ID, session)
	return nil
}

// Get returns a stored session
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	session, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Delete drops a session
func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.cache.Remove(id)
	return nil
}

const sessionKeyPrefix = "accesskit:session:"

// RedisSessionStore keeps sessions in Redis so that any accessd replica can
// serve them
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a Redis-backed session store
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

// Put stores a session with the store TTL
func (s *RedisSessionStore) Put(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+session.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get loads a session
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Delete drops a session
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
