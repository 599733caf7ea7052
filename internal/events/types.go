// Package events carries session lifecycle and protocol observations to
// interested subscribers (CLI, registry refresh, tests).
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event.
type EventType int

const (
	EventStateChanged EventType = iota
	EventLogReceived
	EventToolsUpdated
	EventNotification
	EventAnomaly
	EventError
)

func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "state_changed"
	case EventLogReceived:
		return "log_received"
	case EventToolsUpdated:
		return "tools_updated"
	case EventNotification:
		return "notification"
	case EventAnomaly:
		return "anomaly"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	SessionID() string
	Timestamp() time.Time
}

type baseEvent struct {
	sessionID string
	timestamp time.Time
}

func (e baseEvent) SessionID() string    { return e.sessionID }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBase(sessionID string) baseEvent {
	return baseEvent{sessionID: sessionID, timestamp: time.Now()}
}

// StateChangedEvent is emitted on every session state transition.
type StateChangedEvent struct {
	baseEvent
	OldState string
	NewState string
	Err      error
}

func (e StateChangedEvent) Type() EventType { return EventStateChanged }

func NewStateChangedEvent(sessionID, oldState, newState string, err error) StateChangedEvent {
	return StateChangedEvent{baseEvent: newBase(sessionID), OldState: oldState, NewState: newState, Err: err}
}

// LogReceivedEvent is emitted for each stderr line of the provider process.
type LogReceivedEvent struct {
	baseEvent
	Line string
}

func (e LogReceivedEvent) Type() EventType { return EventLogReceived }

func NewLogReceivedEvent(sessionID, line string) LogReceivedEvent {
	return LogReceivedEvent{baseEvent: newBase(sessionID), Line: line}
}

// ToolInfo is the event view of a discovered tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToolsUpdatedEvent is emitted when a new tool snapshot is installed.
type ToolsUpdatedEvent struct {
	baseEvent
	Tools      []ToolInfo
	Duplicates []string
}

func (e ToolsUpdatedEvent) Type() EventType { return EventToolsUpdated }

func NewToolsUpdatedEvent(sessionID string, tools []ToolInfo, duplicates []string) ToolsUpdatedEvent {
	return ToolsUpdatedEvent{baseEvent: newBase(sessionID), Tools: tools, Duplicates: duplicates}
}

// NotificationEvent carries a notification frame sent by the provider.
type NotificationEvent struct {
	baseEvent
	Method string
	Params json.RawMessage
}

func (e NotificationEvent) Type() EventType { return EventNotification }

func NewNotificationEvent(sessionID, method string, params json.RawMessage) NotificationEvent {
	return NotificationEvent{baseEvent: newBase(sessionID), Method: method, Params: params}
}

// AnomalyKind classifies protocol irregularities that were tolerated.
type AnomalyKind string

const (
	AnomalyDuplicateTool   AnomalyKind = "duplicate_tool"
	AnomalyUnmatchedID     AnomalyKind = "unmatched_id"
	AnomalyMalformedFrame  AnomalyKind = "malformed_frame"
	AnomalyUnexpectedFrame AnomalyKind = "unexpected_frame"
)

// AnomalyEvent reports a tolerated protocol irregularity.
type AnomalyEvent struct {
	baseEvent
	Kind   AnomalyKind
	Detail string
}

func (e AnomalyEvent) Type() EventType { return EventAnomaly }

func NewAnomalyEvent(sessionID string, kind AnomalyKind, detail string) AnomalyEvent {
	return AnomalyEvent{baseEvent: newBase(sessionID), Kind: kind, Detail: detail}
}

// ErrorEvent is emitted when a background operation fails.
type ErrorEvent struct {
	baseEvent
	Err     error
	Message string
}

func (e ErrorEvent) Type() EventType { return EventError }

func NewErrorEvent(sessionID string, err error, message string) ErrorEvent {
	return ErrorEvent{baseEvent: newBase(sessionID), Err: err, Message: message}
}
