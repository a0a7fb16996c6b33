package event

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultBufferSize = 100

type InMemoryBus struct {
	mu          sync.RWMutex
	bufferSize  int
	subscribers map[string]chan Event
}

func NewBus(bufferSize int) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &InMemoryBus{
		bufferSize:  bufferSize,
		subscribers: make(map[string]chan Event),
	}
}

func (b *InMemoryBus) Publish(e Event) int {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, ch := range b.subscribers {
		// Never block the publisher on a slow subscriber.
		select {
		case ch <- e:
			delivered++
		default:
			slog.Warn("event dropped, subscriber buffer full", "type", e.Type, "subscriber", id)
		}
	}
	return delivered
}

func (b *InMemoryBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if ch, exists := b.subscribers[id]; exists {
				close(ch)
				delete(b.subscribers, id)
			}
		})
	}

	return ch, unsubscribe
}
