package in_memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/olyamironova/exchange-core/internal/port"
)

var _ port.EventLog = (*MemoryLog)(nil)

type LogRecord struct {
	Topic string
	Key   string
	Value []byte
}

// MemoryLog records appended events in order, per topic.
type MemoryLog struct {
	mu      sync.Mutex
	records []LogRecord
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, LogRecord{Topic: topic, Key: key, Value: data})
	return nil
}

func (l *MemoryLog) Close() error { return nil }

// Records returns appended records for a topic, in append order. An
// empty topic returns everything.
func (l *MemoryLog) Records(topic string) []LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LogRecord
	for _, r := range l.records {
		if topic == "" || r.Topic == topic {
			out = append(out, r)
		}
	}
	return out
}
