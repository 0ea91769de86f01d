package db

import (
	"fmt"
	"sync"
	"time"

	"budgeteer-server/src/models"
	"budgeteer-server/src/observability"

	"github.com/dgraph-io/ristretto/v2"
)

const accountCacheName = "linked_accounts"

// AccountCache holds each user's linked items and accounts. Keys are tracked
// so every entry can be dropped at once.
type AccountCache struct {
	cache   *ristretto.Cache[string, []models.LinkedItemWithAccounts]
	ttl     time.Duration
	metrics *observability.Metrics

	mu   sync.Mutex
	keys map[string]struct{}
}

func NewAccountCache(ttl time.Duration, metrics *observability.Metrics) (*AccountCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []models.LinkedItemWithAccounts]{
		NumCounters: 10000, // number of keys to track frequency of
		MaxCost:     10000,
		BufferItems: 64, // number of keys per Get buffer
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return &AccountCache{
		cache:   cache,
		ttl:     ttl,
		metrics: metrics,
		keys:    make(map[string]struct{}),
	}, nil
}

func accountCacheKey(userID int64) string {
	return fmt.Sprintf("accounts:%d", userID)
}

func (c *AccountCache) Get(userID int64) ([]models.LinkedItemWithAccounts, bool) {
	value, ok := c.cache.Get(accountCacheKey(userID))
	if ok {
		c.metrics.IncrCacheHit(accountCacheName)
	} else {
		c.metrics.IncrCacheMiss(accountCacheName)
	}
	return value, ok
}

func (c *AccountCache) Set(userID int64, value []models.LinkedItemWithAccounts) {
	key := accountCacheKey(userID)
	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()
	c.cache.SetWithTTL(key, value, 1, c.ttl)
	c.cache.Wait()
}

func (c *AccountCache) Invalidate(userID int64) {
	key := accountCacheKey(userID)
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
	c.cache.Del(key)
}

func (c *AccountCache) Clear() {
	c.mu.Lock()
	for key := range c.keys {
		c.cache.Del(key)
	}
	c.keys = make(map[string]struct{})
	c.mu.Unlock()
}

func (c *AccountCache) Close() {
	c.cache.Close()
}
