package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// busBuffer is the publish channel capacity.
const busBuffer = 100

// Handler is a function that handles events.
type Handler func(Event)

// Bus is a goroutine-safe event bus. Publish never blocks; handlers run on a
// single dispatch goroutine in publish order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	ch       chan Event
	done     chan struct{}
	once     sync.Once
	dropped  atomic.Int64
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	b := &Bus{
		handlers: make([]Handler, 0),
		ch:       make(chan Event, busBuffer),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	for {
		select {
		case event := <-b.ch:
			b.dispatch(event)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(event)
		}
	}
}

// Subscribe registers a handler to receive events.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	idx := len(b.handlers) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		// Mark as nil rather than removing to preserve indices
		if idx < len(b.handlers) {
			b.handlers[idx] = nil
		}
	}
}

// Publish queues an event for all subscribers. A nil bus discards events,
// so components can publish unconditionally.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.ch <- event:
	default:
		n := b.dropped.Add(1)
		slog.Warn("event bus full, dropping event", "type", event.Type().String(), "session", event.SessionID(), "dropped", n)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts down the event bus. It is safe to call more than once.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}
