package in_memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/olyamironova/exchange-core/internal/port"
)

var _ port.Cache = (*MemoryCache)(nil)

type cacheEntry struct {
	value   string
	expires time.Time
}

// MemoryCache mimics the fast KV store: SETNX-with-TTL idempotency
// entries and recorded pub/sub messages.
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]cacheEntry
	published map[string][][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:   make(map[string]cacheEntry),
		published: make(map[string][][]byte),
	}
}

func (c *MemoryCache) PutIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && time.Now().Before(e.expires) {
		return false, nil
	}
	c.entries[key] = cacheEntry{value: orderID, expires: time.Now().Add(ttl)}
	return true, nil
}

func (c *MemoryCache) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return "", nil
	}
	return e.value, nil
}

// Expire drops an entry immediately, simulating TTL expiry in tests.
func (c *MemoryCache) Expire(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *MemoryCache) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[channel] = append(c.published[channel], data)
	return nil
}

// Published returns everything published on a channel, in order.
func (c *MemoryCache) Published(channel string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.published[channel]...)
}
