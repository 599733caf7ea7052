package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	id        int
	sessionID string
	timestamp time.Time
}

func (e testEvent) Type() EventType      { return EventStateChanged }
func (e testEvent) SessionID() string    { return e.sessionID }
func (e testEvent) Timestamp() time.Time { return e.timestamp }

func newTestEvent(id int) testEvent {
	return testEvent{id: id, sessionID: "session-1", timestamp: time.Now()}
}

func TestBus_BasicPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(func(e Event) { received <- e })

	bus.Publish(newTestEvent(1))

	select {
	case got := <-received:
		assert.Equal(t, 1, got.(testEvent).id)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		bus.Subscribe(func(e Event) {
			count.Add(1)
			wg.Done()
		})
	}

	bus.Publish(newTestEvent(1))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		assert.Equal(t, int32(3), count.Load())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for subscribers")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var calls atomic.Int32
	unsubscribe := bus.Subscribe(func(e Event) { calls.Add(1) })
	marker := make(chan struct{}, 1)
	bus.Subscribe(func(e Event) { marker <- struct{}{} })

	unsubscribe()
	bus.Publish(newTestEvent(1))

	select {
	case <-marker:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for remaining subscriber")
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestBus_EventOrdering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	const n = 50
	got := make(chan int, n)
	bus.Subscribe(func(e Event) { got <- e.(testEvent).id })

	for i := 0; i < n; i++ {
		bus.Publish(newTestEvent(i))
	}
	for i := 0; i < n; i++ {
		select {
		case id := <-got:
			require.Equal(t, i, id)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestBus_OverflowCountsDrops(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(func(e Event) { <-block })

	// One event is held by the blocked handler, busBuffer more fill the
	// channel, the rest must be dropped without blocking the publisher.
	for i := 0; i < busBuffer+10; i++ {
		bus.Publish(newTestEvent(i))
	}
	close(block)

	assert.GreaterOrEqual(t, bus.Dropped(), int64(9))
}

func TestBus_NilBusDiscards(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(newTestEvent(1)) })
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	bus := NewBus()
	bus.Close()
	bus.Close()

	assert.NotPanics(t, func() { bus.Publish(newTestEvent(1)) })
}
