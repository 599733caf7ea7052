// Package mcp implements the client side of the tool protocol: framed
// transports over a provider's stdio and the session state machine that
// correlates requests with responses.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Bigsy/toolwire/internal/jsonx"
)

// Transport moves whole frames. Implementations must allow one Send to run
// concurrently with one Receive; the session is the only reader.
type Transport interface {
	// Send writes one framed message.
	Send(ctx context.Context, msg []byte) error
	// Receive blocks until the next complete message or stream closure.
	Receive(ctx context.Context) ([]byte, error)
	// Close closes the transport. It is idempotent.
	Close() error
}

// Tool is a tool descriptor advertised by the provider.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolList is one discovery snapshot. Duplicates names every tool that was
// advertised more than once; the last descriptor for a name wins.
type ToolList struct {
	Tools      []Tool
	Duplicates []string
}

// DedupeTools collapses repeated names, keeping the first position and the
// last descriptor.
func DedupeTools(tools []Tool) ToolList {
	out := make([]Tool, 0, len(tools))
	index := make(map[string]int, len(tools))
	var dups []string
	for _, t := range tools {
		if i, ok := index[t.Name]; ok {
			out[i] = t
			dups = append(dups, t.Name)
			continue
		}
		index[t.Name] = len(out)
		out = append(out, t)
	}
	return ToolList{Tools: out, Duplicates: dups}
}

// ContentBlock is one block of a tool result, kept verbatim so non-text
// content survives.
type ContentBlock json.RawMessage

// MarshalJSON implements json.Marshaler.
func (c ContentBlock) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	return json.RawMessage(c), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ContentBlock) UnmarshalJSON(data []byte) error {
	*c = append(ContentBlock(nil), data...)
	return nil
}

// Text returns the block's text when it is a text block.
func (c ContentBlock) Text() (string, bool) {
	var block struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := jsonx.Unmarshal(c, &block); err != nil || block.Type != "text" {
		return "", false
	}
	return block.Text, true
}

// ToolCallResult is the outcome of exactly one tool call: either OK with the
// provider's payload, or a failure with a message and a classifiable Err.
type ToolCallResult struct {
	OK bool

	// Payload is the tools/call result object exactly as received.
	Payload json.RawMessage
	Content []ContentBlock

	Message string
	Err     error
}

// Success wraps a provider payload.
func Success(payload json.RawMessage, content []ContentBlock) ToolCallResult {
	return ToolCallResult{OK: true, Payload: payload, Content: content}
}

// Failure wraps err. The message is never empty.
func Failure(err error) ToolCallResult {
	msg := "tool call failed"
	if err != nil {
		msg = err.Error()
	}
	return ToolCallResult{Message: msg, Err: err}
}

// Text joins the text content blocks.
func (r ToolCallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if s, ok := c.Text(); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// SessionLost reports whether the failure means the session is unusable, as
// opposed to a failure of this one call.
func (r ToolCallResult) SessionLost() bool {
	return !r.OK && errors.Is(r.Err, ErrSessionUnavailable)
}

// TimedOut reports whether the call's correlation wait expired.
func (r ToolCallResult) TimedOut() bool {
	var te *TimeoutError
	return !r.OK && errors.As(r.Err, &te)
}
