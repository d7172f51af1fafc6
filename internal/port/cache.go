package port

import (
	"context"
	"time"
)

// Cache is the fast KV store: idempotency mappings with TTL plus
// best-effort pub/sub fan-out. Entries may be lost without
// compromising correctness; the orders table is authoritative.
type Cache interface {
	// PutIdempotencyKey maps key -> orderID if absent. First writer
	// wins; returns false when the key was already taken.
	PutIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) (bool, error)
	// GetIdempotencyKey resolves a key to a prior order id, "" when
	// absent or expired.
	GetIdempotencyKey(ctx context.Context, key string) (string, error)

	// Publish fans a JSON-encoded payload out to channel subscribers.
	// Delivery is best-effort; no replay.
	Publish(ctx context.Context, channel string, payload interface{}) error
}
