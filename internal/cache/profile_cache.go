// Package cache provides an in-process read-through cache for doctor
// profiles. Lookups for the same key are collapsed with singleflight and
// only found profiles are stored, so a profile created after a miss is
// visible on the next request.
package cache

import (
	"context"
	"time"
	"unsafe"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/medfolio-backend/internal/domain"
)

// defaultMaxCost is the memory budget for cached profiles (16 MiB).
const defaultMaxCost = 16 << 20

// profileCost approximates one entry; Bio text dominates real usage but a
// fixed cost keeps admission predictable.
var profileCost = int64(unsafe.Sizeof(domain.Profile{})) + 512

var cacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "profile_cache_lookups_total",
		Help: "Profile cache lookups by result (hit|miss).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(cacheLookups)
}

// Loader fetches a profile from the backing store on a cache miss.
type Loader func(ctx context.Context) (*domain.Profile, error)

// ProfileCache is safe for concurrent use. A nil *ProfileCache is valid and
// always calls through to the loader.
type ProfileCache struct {
	cache *ristretto.Cache[string, *domain.Profile]
	group singleflight.Group
	ttl   time.Duration
}

// NewProfileCache returns a cache whose entries expire after ttl, or nil
// when ttl <= 0 (caching disabled).
func NewProfileCache(ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		return nil
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *domain.Profile]{
		NumCounters: (defaultMaxCost / profileCost) * 10,
		MaxCost:     defaultMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		// Only fails with invalid config; the values above are always valid.
		panic("ristretto: " + err.Error())
	}
	return &ProfileCache{cache: c, ttl: ttl}
}

// Get returns the cached profile for key or loads it. Loader errors
// (including not-found) are returned as-is and never cached. The returned
// profile is a copy owned by the caller.
func (c *ProfileCache) Get(ctx context.Context, key string, load Loader) (*domain.Profile, error) {
	if c == nil {
		return load(ctx)
	}
	if p, ok := c.cache.Get(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return clone(p), nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		p, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.SetWithTTL(key, p, profileCost, c.ttl)
		c.cache.Wait()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(v.(*domain.Profile)), nil
}

// Invalidate drops the given keys.
func (c *ProfileCache) Invalidate(keys ...string) {
	if c == nil {
		return
	}
	for _, k := range keys {
		c.cache.Del(k)
	}
}

// Close releases resources held by the cache. Safe on nil.
func (c *ProfileCache) Close() {
	if c != nil {
		c.cache.Close()
	}
}

// IDKey is the cache key for a lookup by profile ID.
func IDKey(id string) string { return "id:" + id }

// SlugKey is the cache key for a lookup by slug.
func SlugKey(slug string) string { return "slug:" + slug }

func clone(p *domain.Profile) *domain.Profile {
	cp := *p
	return &cp
}
