package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/scoregate/internal/domain"
)

// LRUStats is a point-in-time view of an LRUCache.
type LRUStats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Counters  int   `json:"counters"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// LRUCache is the in-process cache: the community tier store and the L1
// of TwoPhaseCache. Values expire per entry; the least recently read entry
// is evicted once capacity is reached.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	index    map[string]*list.Element
	recency  *list.List // front is most recent
	windows  map[string]*window
	stats    LRUStats
	now      func() time.Time
}

type lruItem struct {
	key     string
	value   []byte
	expires time.Time
}

type window struct {
	count int64
	ends  time.Time
}

// NewLRUCache creates a cache holding at most capacity values. A
// non-positive capacity means 10000.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	c := &LRUCache{capacity: capacity, now: time.Now}
	c.reset()
	return c
}

func scoped(tenantID, key string) string {
	return tenantID + ":" + key
}

// Get returns a copy of the value, or nil when the key is absent or expired.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[scoped(tenantID, key)]
	if ok && c.now().After(el.Value.(*lruItem).expires) {
		c.drop(el)
		ok = false
	}
	if !ok {
		c.stats.Misses++
		return nil, nil
	}

	c.stats.Hits++
	c.recency.MoveToFront(el)
	return append([]byte(nil), el.Value.(*lruItem).value...), nil
}

// Set stores a copy of value for ttl.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	item := &lruItem{
		key:   scoped(tenantID, key),
		value: append([]byte(nil), value...),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	item.expires = c.now().Add(ttl)
	if el, ok := c.index[item.key]; ok {
		el.Value = item
		c.recency.MoveToFront(el)
		return nil
	}
	c.index[item.key] = c.recency.PushFront(item)

	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
		c.stats.Evictions++
	}
	return nil
}

// Delete removes a value. Deleting a missing key is not an error.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[scoped(tenantID, key)]; ok {
		c.drop(el)
	}
	return nil
}

// GetSession retrieves a gate session.
func (c *LRUCache) GetSession(ctx context.Context, tenantID string, sessionID string) (*domain.GateSession, error) {
	return getSession(ctx, c, tenantID, sessionID)
}

// SetSession stores a gate session. Sessions share capacity with every
// other value, so a busy node can evict an idle session.
func (c *LRUCache) SetSession(ctx context.Context, tenantID string, sess *domain.GateSession, ttl time.Duration) error {
	return setSession(ctx, c, tenantID, sess, ttl)
}

// IncrementCounter bumps a fixed-window counter and returns the new count.
// The window opens on the first increment; once it has ended the next
// increment starts a new one at 1.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, w time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, ErrTenantRequired
	}
	k := scoped(tenantID, counterKey(key))

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if cur, ok := c.windows[k]; ok && !now.After(cur.ends) {
		cur.count++
		return cur.count, nil
	}
	if len(c.windows) >= c.capacity {
		for wk, cur := range c.windows {
			if now.After(cur.ends) {
				delete(c.windows, wk)
			}
		}
	}
	c.windows[k] = &window{count: 1, ends: now.Add(w)}
	return 1, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every value and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	return nil
}

// Stats reports occupancy and hit rates since creation.
func (c *LRUCache) Stats() LRUStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.recency.Len()
	s.Capacity = c.capacity
	s.Counters = len(c.windows)
	return s
}

func (c *LRUCache) reset() {
	c.index = make(map[string]*list.Element)
	c.recency = list.New()
	c.windows = make(map[string]*window)
}

// drop unlinks el. Caller holds mu.
func (c *LRUCache) drop(el *list.Element) {
	if el == nil {
		return
	}
	c.recency.Remove(el)
	delete(c.index, el.Value.(*lruItem).key)
}
