package assignment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSession(id string) *Session {
	return &Session{
		ID:             id,
		ProfileCode:    "teacher_basic",
		OrganizationID: "org1",
		Options:        SessionOptions{Search: "al", Limit: 50},
		Population: []Account{
			{UserID: "u1", OrganizationID: "org1", ProfileCode: strPtr("teacher_basic"), LastName: "Alves"},
			{UserID: "u2", OrganizationID: "org1", LastName: "Alvim"},
		},
		InitialSelection: []string{"u1"},
		OpenedAt:         time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}
}

func TestMemorySessionStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(2, time.Minute)

	require.NoError(t, store.Put(ctx, sampleSession("s1")))
	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sampleSession("s1"), got)

	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemorySessionStoreEvicts(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(2, time.Minute)

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, store.Put(ctx, sampleSession(id)))
	}

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound, "least recently used session is evicted")
	_, err = store.Get(ctx, "s3")
	assert.NoError(t, err)
}

func TestMemorySessionStoreExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(10, 20*time.Millisecond)

	require.NoError(t, store.Put(ctx, sampleSession("s1")))
	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "s1")
		return err == ErrSessionNotFound
	}, time.Second, 10*time.Millisecond)
}

func setupRedisSessions(t *testing.T) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSessionStore(client, 10*time.Minute), mr
}

func TestRedisSessionStore(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisSessions(t)

	require.NoError(t, store.Put(ctx, sampleSession("s1")))
	assert.True(t, mr.Exists(sessionKeyPrefix+"s1"))
	assert.Equal(t, 10*time.Minute, mr.TTL(sessionKeyPrefix+"s1"))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sampleSession("s1"), got)

	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisSessions(t)

	require.NoError(t, store.Put(ctx, sampleSession("s1")))
	mr.FastForward(11 * time.Minute)

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionStoreErrors(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisSessions(t)

	require.NoError(t, mr.Set(sessionKeyPrefix+"bad", "{not json"))
	_, err := store.Get(ctx, "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)

	mr.Close()
	_, err = store.Get(ctx, "s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
	assert.Error(t, store.Put(ctx, sampleSession("s2")))
}
