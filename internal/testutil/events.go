package testutil

import (
	"sync"
	"time"

	"github.com/Bigsy/toolwire/internal/events"
)

// EventCollector is a thread-safe event collector for test assertions.
// Subscribe it to an event bus and then query collected events.
type EventCollector struct {
	mu     sync.Mutex
	events []events.Event
	states map[string][]string
	tools  map[string][]events.ToolInfo
	cond   *sync.Cond
}

// NewEventCollector creates a new EventCollector.
func NewEventCollector() *EventCollector {
	ec := &EventCollector{
		states: make(map[string][]string),
		tools:  make(map[string][]events.ToolInfo),
	}
	ec.cond = sync.NewCond(&ec.mu)
	return ec
}

// Handler is suitable for bus.Subscribe().
func (c *EventCollector) Handler(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, e)

	switch evt := e.(type) {
	case events.StateChangedEvent:
		c.states[evt.SessionID()] = append(c.states[evt.SessionID()], evt.NewState)
	case events.ToolsUpdatedEvent:
		c.tools[evt.SessionID()] = evt.Tools
	}

	c.cond.Broadcast()
}

// Events returns all collected events.
func (c *EventCollector) Events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]events.Event, len(c.events))
	copy(result, c.events)
	return result
}

// OfType returns the collected events of one type, in arrival order.
func (c *EventCollector) OfType(typ events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []events.Event
	for _, e := range c.events {
		if e.Type() == typ {
			result = append(result, e)
		}
	}
	return result
}

// StatesFor returns all states observed for a session ID.
func (c *EventCollector) StatesFor(sessionID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]string, len(c.states[sessionID]))
	copy(result, c.states[sessionID])
	return result
}

// ToolsFor returns the most recent tools for a session ID.
// Returns nil if no tools have been observed.
func (c *EventCollector) ToolsFor(sessionID string) []events.ToolInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	tools := c.tools[sessionID]
	if tools == nil {
		return nil
	}
	result := make([]events.ToolInfo, len(tools))
	copy(result, tools)
	return result
}

// WaitForState blocks until the state is observed for the session or the
// timeout expires.
func (c *EventCollector) WaitForState(sessionID, state string, timeout time.Duration) bool {
	return c.waitUntil(timeout, func() bool {
		for _, s := range c.states[sessionID] {
			if s == state {
				return true
			}
		}
		return false
	})
}

// WaitForTools blocks until a tool snapshot containing name is observed for
// the session or the timeout expires.
func (c *EventCollector) WaitForTools(sessionID, name string, timeout time.Duration) bool {
	return c.waitUntil(timeout, func() bool {
		for _, tool := range c.tools[sessionID] {
			if tool.Name == name {
				return true
			}
		}
		return false
	})
}

// waitUntil evaluates cond under the lock each time an event arrives.
func (c *EventCollector) waitUntil(timeout time.Duration, cond func() bool) bool {
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	deadline := time.Now().Add(timeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if cond() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		c.cond.Wait()
	}
}

// Clear resets the collector's state.
func (c *EventCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.states = make(map[string][]string)
	c.tools = make(map[string][]events.ToolInfo)
}

// StatesContainSequence checks if the observed states contain the expected sequence in order.
// The expected sequence doesn't need to be contiguous - there can be other states in between.
func StatesContainSequence(observed, expected []string) bool {
	if len(expected) == 0 {
		return true
	}

	expectedIdx := 0
	for _, state := range observed {
		if state == expected[expectedIdx] {
			expectedIdx++
			if expectedIdx == len(expected) {
				return true
			}
		}
	}
	return false
}
