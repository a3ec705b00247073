package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
)

// Bus fans events out to buffered subscriber channels. Publish never blocks:
// when a subscriber's buffer is full the event is dropped for that
// subscriber and a warning is logged.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
	log    *logger.Logger
}

// NewBus constructs an empty Bus.
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Get()
	}
	return &Bus{log: log}
}

// Subscribe registers a new subscriber with the given buffer size. The
// channel is closed by Close.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers ev to every subscriber that has room.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for i, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn("event dropped, subscriber buffer full",
				zap.Int("subscriber", i),
				zap.String("type", string(ev.Type)),
				zap.String("session_id", ev.SessionID))
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
}
