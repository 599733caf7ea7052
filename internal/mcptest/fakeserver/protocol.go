// Package fakeserver provides a fake tool-provider for testing the client.
package fakeserver

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/Bigsy/toolwire/internal/jsonx"
)

// Config controls the fake server's behavior.
type Config struct {
	// Tools to return from tools/list
	Tools []Tool `json:"tools"`

	// PageSize splits tools/list into cursor pages (0 = single page).
	PageSize int `json:"pageSize"`

	// Per-method delays (simulate slow responses)
	// NOTE: Use short delays (10-50ms) in tests to avoid slow suite.
	Delays map[string]time.Duration `json:"delays"`

	// Per-tool delays for tools/call. Delayed calls are answered
	// concurrently, so a slow call can be overtaken by a fast one.
	ToolDelays map[string]time.Duration `json:"toolDelays"`

	// Tools whose calls are never answered.
	SilentTools []string `json:"silentTools"`

	// Tools that answer with isError and this message.
	ToolErrors map[string]string `json:"toolErrors"`

	// Per-method forced errors (JSON-RPC error responses)
	Errors map[string]JSONRPCError `json:"errors"`

	// Crash behavior
	CrashOnMethod     string `json:"crashOnMethod"`     // crash when this method is called
	CrashOnNthRequest int    `json:"crashOnNthRequest"` // crash on Nth request (0 = never)
	CrashExitCode     int    `json:"crashExitCode"`     // exit code when crashing

	// Retry testing: fail on specific attempt, succeed on others
	FailOnAttempt map[string]int `json:"failOnAttempt"` // method -> attempt number to fail (1-indexed)

	// Accepted protocol versions; others are rejected with a version error.
	// Empty accepts anything and answers 2024-11-05.
	ProtocolVersions []string `json:"protocolVersions"`

	// Stream realism: interleave unrelated frames with responses.
	SendNotificationBeforeResponse bool `json:"sendNotificationBeforeResponse"`
	SendMismatchedIDFirst          bool `json:"sendMismatchedIDFirst"`
	SendPingBeforeResponse         bool `json:"sendPingBeforeResponse"`

	// After the first tools/call, replace the tool set and send
	// notifications/tools/list_changed.
	ToolsAfterChange []Tool `json:"toolsAfterChange"`

	// Lines written to stderr on startup.
	StderrLines []string `json:"stderrLines"`

	// AnnouncePID writes "pid=<n>" to stderr on startup.
	AnnouncePID bool `json:"announcePID"`

	// Protocol edge cases
	Malformed bool `json:"malformed"` // write invalid JSON

	// HangOnEOF keeps the helper process alive after stdin closes and
	// ignores SIGTERM, forcing the client to escalate to SIGKILL.
	HangOnEOF bool `json:"hangOnEOF"`

	// Tool call handling
	ToolHandler   ToolHandler `json:"-"`             // Custom handler for tools/call (not JSON-serializable)
	EchoToolCalls bool        `json:"echoToolCalls"` // If true, tools/call returns the tool name and arguments as text
}

// Tool represents a tool definition.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// rpcNotification is a JSON-RPC 2.0 notification or server request.
type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// InitializeParams is the params of the initialize request.
type InitializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

// InitializeResult is the result of the initialize request.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// ServerInfo describes the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities describes server capabilities.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability indicates the server supports tools.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsListParams is the params for tools/list.
type ToolsListParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ToolCallParams is the params for tools/call.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult is the result of tools/call.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a content block in a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolHandler is a function that handles a tool call.
type ToolHandler func(name string, arguments json.RawMessage) ([]ContentBlock, bool, error)

// frameWriter writes whole NDJSON frames; concurrent handlers share it.
type frameWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *frameWriter) write(v any) error {
	data, err := jsonx.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeRaw(data)
}

func (w *frameWriter) writeRaw(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.out.Write(append(data, '\n'))
	return err
}

// preamble writes the configured noise frames ahead of a response.
func (w *frameWriter) preamble(cfg Config, errorShaped bool) {
	if cfg.SendNotificationBeforeResponse {
		_ = w.write(rpcNotification{JSONRPC: "2.0", Method: "test/noise"})
	}
	if cfg.SendPingBeforeResponse {
		_ = w.write(rpcNotification{JSONRPC: "2.0", ID: 77777, Method: "ping"})
	}
	if cfg.SendMismatchedIDFirst {
		fake := rpcResponse{JSONRPC: "2.0", ID: json.RawMessage(`99999`), Result: json.RawMessage(`{}`)}
		if errorShaped {
			fake = rpcResponse{JSONRPC: "2.0", ID: json.RawMessage(`99999`), Error: &JSONRPCError{Code: -1, Message: "wrong"}}
		}
		_ = w.write(fake)
	}
}

// writeResponse writes a JSON-RPC response with NDJSON framing.
func (w *frameWriter) writeResponse(id json.RawMessage, result any, cfg Config) error {
	w.preamble(cfg, false)

	resultJSON, err := jsonx.Marshal(result)
	if err != nil {
		return err
	}
	return w.write(rpcResponse{JSONRPC: "2.0", ID: id, Result: resultJSON})
}

// writeErrorResponse writes a JSON-RPC error response with NDJSON framing.
func (w *frameWriter) writeErrorResponse(id json.RawMessage, rpcErr JSONRPCError, cfg Config) error {
	w.preamble(cfg, true)
	return w.write(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcErr})
}
