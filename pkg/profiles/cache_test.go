package profiles

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenantdesk/accesskit/pkg/observability"
)

// countingStore counts reads reaching the backing store
type countingStore struct {
	*memStore
	gets  int
	lists int
}

func (s *countingStore) GetProfile(ctx context.Context, code string) (*AccessProfile, error) {
	s.gets++
	return s.memStore.GetProfile(ctx, code)
}

func (s *countingStore) ReadProfiles(ctx context.Context, filter ListFilter) ([]*AccessProfile, error) {
	s.lists++
	return s.memStore.ReadProfiles(ctx, filter)
}

func setupCache(t *testing.T) (*CachedStore, *countingStore, *miniredis.Miniredis, *observability.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backing := &countingStore{memStore: newMemStore()}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewCachedStore(backing, client, time.Minute, metrics), backing, mr, metrics
}

func TestCachedStore_GetProfile(t *testing.T) {
	ctx := context.Background()
	cache, backing, mr, metrics := setupCache(t)
	require.NoError(t, backing.CreateProfile(ctx, templateProfile("teacher_basic", "Teacher")))

	p, err := cache.GetProfile(ctx, "teacher_basic")
	require.NoError(t, err)
	assert.Equal(t, "teacher_basic", p.Code)
	assert.True(t, mr.Exists(profileKeyPrefix+"teacher_basic"))

	p, err = cache.GetProfile(ctx, "teacher_basic")
	require.NoError(t, err)
	assert.Equal(t, "Teacher", p.DisplayName.Primary())
	assert.Equal(t, 1, backing.gets)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("profile")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("profile")))

	_, err = cache.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.False(t, mr.Exists(profileKeyPrefix+"missing"))
}

func TestCachedStore_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	cache, backing, mr, _ := setupCache(t)
	require.NoError(t, backing.CreateProfile(ctx, templateProfile("teacher_basic", "Teacher")))
	require.NoError(t, mr.Set(profileKeyPrefix+"teacher_basic", "{not json"))

	p, err := cache.GetProfile(ctx, "teacher_basic")
	require.NoError(t, err)
	assert.Equal(t, "teacher_basic", p.Code)
	assert.Equal(t, 1, backing.gets)
}

func TestCachedStore_ListInvalidation(t *testing.T) {
	ctx := context.Background()
	cache, backing, mr, _ := setupCache(t)
	filter := ListFilter{IncludeTemplates: true}
	require.NoError(t, cache.CreateProfile(ctx, templateProfile("tpl_admin", "Admin")))

	list, err := cache.ReadProfiles(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = cache.ReadProfiles(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 1, backing.lists)

	members, err := mr.SMembers(listKeySet)
	require.NoError(t, err)
	assert.Equal(t, []string{listKeyPrefix + filter.cacheKey()}, members)

	require.NoError(t, cache.CreateProfile(ctx, templateProfile("tpl_teacher", "Teacher")))
	assert.False(t, mr.Exists(listKeyPrefix+filter.cacheKey()))

	list, err = cache.ReadProfiles(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, 2, backing.lists)
}

func TestCachedStore_UpdateInvalidatesEntry(t *testing.T) {
	ctx := context.Background()
	cache, _, mr, _ := setupCache(t)
	p := templateProfile("teacher_basic", "Teacher")
	require.NoError(t, cache.CreateProfile(ctx, p))

	_, err := cache.GetProfile(ctx, "teacher_basic")
	require.NoError(t, err)
	require.True(t, mr.Exists(profileKeyPrefix+"teacher_basic"))

	p.Active = false
	require.NoError(t, cache.UpdateProfile(ctx, p))
	assert.False(t, mr.Exists(profileKeyPrefix+"teacher_basic"))

	got, err := cache.GetProfile(ctx, "teacher_basic")
	require.NoError(t, err)
	assert.False(t, got.Active)

	require.NoError(t, cache.DeleteProfile(ctx, "teacher_basic"))
	_, err = cache.GetProfile(ctx, "teacher_basic")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestCachedStore_RedisDown(t *testing.T) {
	ctx := context.Background()
	cache, backing, mr, _ := setupCache(t)
	require.NoError(t, backing.CreateProfile(ctx, templateProfile("teacher_basic", "Teacher")))
	mr.Close()

	p, err := cache.GetProfile(ctx, "teacher_basic")
	require.NoError(t, err)
	assert.Equal(t, "teacher_basic", p.Code)

	p.Active = false
	require.NoError(t, cache.UpdateProfile(ctx, p))
}
