package port

import "context"

// EventLog is the durable topic-partitioned stream. Producers are
// fire-and-forget with at-least-once semantics; consumers tolerate
// duplicates.
type EventLog interface {
	Append(ctx context.Context, topic, key string, payload interface{}) error
	Close() error
}
