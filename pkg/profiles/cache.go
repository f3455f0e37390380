package profiles

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tenantdesk/accesskit/pkg/observability"
)

const (
	profileKeyPrefix = "accesskit:profile:"
	listKeyPrefix    = "accesskit:profiles:list:"
	listKeySet       = "accesskit:profiles:lists"
)

// CachedStore wraps a Store with a Redis cache-aside layer. Reads fall through to
// the wrapped store on a miss or on any Redis failure; writes invalidate.
type CachedStore struct {
	store   Store
	redis   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewCachedStore creates a cache layer over store
func NewCachedStore(store Store, client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{
		store:   store,
		redis:   client,
		ttl:     ttl,
		metrics: metrics,
	}
}

// ReadProfiles lists profiles with caching
func (c *CachedStore) ReadProfiles(ctx context.Context, filter ListFilter) ([]*AccessProfile, error) {
	cacheKey := listKeyPrefix + filter.cacheKey()

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var list []*AccessProfile
		if err := json.Unmarshal([]byte(cached), &list); err == nil {
			c.metrics.RecordCacheHit("profile_list")
			return list, nil
		}
		// Corrupt entry
		c.redis.Del(ctx, cacheKey)
	}
	c.metrics.RecordCacheMiss("profile_list")

	list, err := c.store.ReadProfiles(ctx, filter)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(list); err == nil {
		pipe := c.redis.TxPipeline()
		pipe.Set(ctx, cacheKey, data, c.ttl)
		pipe.SAdd(ctx, listKeySet, cacheKey)
		pipe.Exec(ctx)
	}

	return list, nil
}

// GetProfile gets a profile with caching
func (c *CachedStore) GetProfile(ctx context.Context, code string) (*AccessProfile, error) {
	cacheKey := profileKeyPrefix + code

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var p AccessProfile
		if err := json.Unmarshal([]byte(cached), &p); err == nil {
			c.metrics.RecordCacheHit("profile")
			return &p, nil
		}
		c.redis.Del(ctx, cacheKey)
	}
	c.metrics.RecordCacheMiss("profile")

	p, err := c.store.GetProfile(ctx, code)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		c.redis.Set(ctx, cacheKey, data, c.ttl)
	}

	return p, nil
}

// CreateProfile creates a profile and invalidates list caches
func (c *CachedStore) CreateProfile(ctx context.Context, profile *AccessProfile) error {
	if err := c.store.CreateProfile(ctx, profile); err != nil {
		return err
	}
	c.invalidate(ctx, profile.Code)
	return nil
}

// UpdateProfile updates a profile and invalidates its entry and list caches
func (c *CachedStore) UpdateProfile(ctx context.Context, profile *AccessProfile) error {
	if err := c.store.UpdateProfile(ctx, profile); err != nil {
		return err
	}
	c.invalidate(ctx, profile.Code)
	return nil
}

// DeleteProfile deletes a profile and invalidates its entry and list caches
func (c *CachedStore) DeleteProfile(ctx context.Context, code string) error {
	if err := c.store.DeleteProfile(ctx, code); err != nil {
		return err
	}
	c.invalidate(ctx, code)
	return nil
}

// CountReferences is never cached; the count gates deletion
func (c *CachedStore) CountReferences(ctx context.Context, code string) (int, error) {
	return c.store.CountReferences(ctx, code)
}

// ListPurgeable is never cached
func (c *CachedStore) ListPurgeable(ctx context.Context) ([]string, error) {
	return c.store.ListPurgeable(ctx)
}

// invalidate drops the profile entry and every cached listing. Entries left
// behind by a Redis failure expire with the TTL.
func (c *CachedStore) invalidate(ctx context.Context, code string) {
	keys, _ := c.redis.SMembers(ctx, listKeySet).Result()
	keys = append(keys, profileKeyPrefix+code, listKeySet)
	c.redis.Del(ctx, keys...)
}
