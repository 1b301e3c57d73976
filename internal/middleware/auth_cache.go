package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/persistorai/seovault/internal/models"
)

const (
	actorCacheTTL      = 5 * time.Minute
	negativeCacheTTL   = 30 * time.Second
	maxCacheEntries    = 10000
	cacheCleanupPeriod = 60 * time.Second
)

// errCachedNotFound is returned for negative cache hits.
var errCachedNotFound = errors.New("api key not found (cached)")

type cachedActor struct {
	actor     models.Actor
	negative  bool
	fetchedAt time.Time
}

func (ca cachedActor) ttl() time.Duration {
	if ca.negative {
		return negativeCacheTTL
	}
	return actorCacheTTL
}

// hashKey returns a hex-encoded SHA-256 hash of the API key so raw keys
// are never stored in memory.
func hashKey(apiKey string) string {
	h := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(h[:])
}

// CachedActorLookup wraps an ActorLookup with a bounded in-memory cache.
type CachedActorLookup struct {
	inner ActorLookup
	mu    sync.RWMutex
	cache map[string]cachedActor
}

// NewCachedActorLookup creates a caching wrapper around inner. ctx controls
// the lifetime of the background eviction goroutine.
func NewCachedActorLookup(ctx context.Context, inner ActorLookup) *CachedActorLookup {
	c := &CachedActorLookup{
		inner: inner,
		cache: make(map[string]cachedActor),
	}
	go c.evictLoop(ctx)
	return c
}

func (c *CachedActorLookup) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(cacheCleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpired(time.Now())
			c.mu.Unlock()
		}
	}
}

// evictExpired drops stale entries. Caller must hold c.mu.
func (c *CachedActorLookup) evictExpired(now time.Time) {
	for k, v := range c.cache {
		if now.Sub(v.fetchedAt) >= v.ttl() {
			delete(c.cache, k)
		}
	}
}

// LookupActor returns a cached actor or delegates to the inner lookup.
// Failed lookups are cached for 30s so repeated bad keys do not reach the store.
func (c *CachedActorLookup) LookupActor(ctx context.Context, apiKey string) (models.Actor, error) {
	hk := hashKey(apiKey)

	c.mu.RLock()
	entry, ok := c.cache[hk]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < entry.ttl() {
		if entry.negative {
			return models.Actor{}, errCachedNotFound
		}
		return entry.actor, nil
	}

	actor, err := c.inner.LookupActor(ctx, apiKey)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cache) >= maxCacheEntries {
		c.evictExpired(time.Now())
		for k := range c.cache {
			if len(c.cache) < maxCacheEntries {
				break
			}
			delete(c.cache, k)
		}
	}

	if err != nil {
		c.cache[hk] = cachedActor{negative: true, fetchedAt: time.Now()}
		return models.Actor{}, err
	}

	c.cache[hk] = cachedActor{actor: actor, fetchedAt: time.Now()}

	return actor, nil
}
