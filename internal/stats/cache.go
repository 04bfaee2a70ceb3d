package stats

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores monthly summaries by account id.
type Cache interface {
	Get(ctx context.Context, accountID string) (MonthlySummary, bool, error)
	Set(ctx context.Context, accountID string, s MonthlySummary) error
	Invalidate(ctx context.Context, accountIDs ...string) error
}

// MemoryCache is a size-bounded LRU. A zero ttl keeps entries until they are
// evicted or invalidated.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	items   map[string]*list.Element
	lru     *list.List
}

type cacheItem struct {
	key       string
	data      MonthlySummary
	expiresAt time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an LRU holding at most maxSize summaries.
func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &MemoryCache{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (MonthlySummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return MonthlySummary{}, false, nil
	}
	item := elem.Value.(*cacheItem)
	if c.expired(item) {
		c.removeElement(elem)
		return MonthlySummary{}, false, nil
	}
	c.lru.MoveToFront(elem)
	return item.data, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, data MonthlySummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := &cacheItem{key: key, data: data}
	if c.ttl > 0 {
		item.expiresAt = c.now().Add(c.ttl)
	}

	if elem, ok := c.items[key]; ok {
		elem.Value = item
		c.lru.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.lru.PushFront(item)
	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if elem, ok := c.items[key]; ok {
			c.removeElement(elem)
		}
	}
	return nil
}

// CleanExpired drops expired summaries and returns how many were removed.
func (c *MemoryCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []*list.Element
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		if c.expired(elem.Value.(*cacheItem)) {
			stale = append(stale, elem)
		}
	}
	for _, elem := range stale {
		c.removeElement(elem)
	}
	return len(stale)
}

// Size returns the number of cached summaries.
func (c *MemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryCache) expired(item *cacheItem) bool {
	return !item.expiresAt.IsZero() && c.now().After(item.expiresAt)
}

func (c *MemoryCache) removeElement(elem *list.Element) {
	item := elem.Value.(*cacheItem)
	delete(c.items, item.key)
	c.lru.Remove(elem)
}

// RedisCache shares summaries between processes. A zero TTL stores keys
// without expiry.
type RedisCache struct {
	Redis  *redis.Client
	Prefix string
	TTL    time.Duration
}

var _ Cache = (*RedisCache)(nil)

func (c *RedisCache) key(accountID string) string {
	if c.Prefix == "" {
		return "stats:monthly:" + accountID
	}
	return c.Prefix + ":stats:monthly:" + accountID
}

func (c *RedisCache) Get(ctx context.Context, accountID string) (MonthlySummary, bool, error) {
	raw, err := c.Redis.Get(ctx, c.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return MonthlySummary{}, false, nil
	}
	if err != nil {
		return MonthlySummary{}, false, fmt.Errorf("failed to read stats cache: %w", err)
	}
	var s MonthlySummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return MonthlySummary{}, false, fmt.Errorf("failed to decode cached stats: %w", err)
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, accountID string, s MonthlySummary) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	if err := c.Redis.Set(ctx, c.key(accountID), raw, c.TTL).Err(); err != nil {
		return fmt.Errorf("failed to write stats cache: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, accountIDs ...string) error {
	if len(accountIDs) == 0 {
		return nil
	}
	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = c.key(id)
	}
	if err := c.Redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate stats cache: %w", err)
	}
	return nil
}
