package fakeserver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/Bigsy/toolwire/internal/jsonx"
)

// Serve runs the fake server, reading requests from in and writing responses
// to out. It handles initialize, tools/list, tools/call and ping, with
// configurable delays, errors, crashes and stream noise.
func Serve(ctx context.Context, in io.Reader, out io.Writer, cfg Config) error {
	reader := bufio.NewReader(in)
	w := &frameWriter{out: out}
	requestCount := 0
	methodAttempts := make(map[string]int) // track attempts per method for FailOnAttempt

	var toolsMu sync.Mutex
	tools := cfg.Tools
	changed := false

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Read JSON-RPC request (NDJSON framing - read until newline)
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := jsonx.Unmarshal(line, &req); err != nil {
			return err
		}
		if req.Method == "" {
			// A reply to one of our server-initiated pings.
			continue
		}

		requestCount++
		methodAttempts[req.Method]++

		// Check crash conditions
		if cfg.CrashOnNthRequest > 0 && requestCount >= cfg.CrashOnNthRequest {
			os.Exit(cfg.CrashExitCode)
		}
		if cfg.CrashOnMethod != "" && req.Method == cfg.CrashOnMethod {
			os.Exit(cfg.CrashExitCode)
		}

		// Apply delay if configured
		if delay, ok := cfg.Delays[req.Method]; ok {
			time.Sleep(delay)
		}

		if cfg.Malformed {
			_ = w.writeRaw([]byte("this is not valid json"))
			continue
		}

		// Check for FailOnAttempt (for retry testing)
		if failAttempt, ok := cfg.FailOnAttempt[req.Method]; ok {
			if methodAttempts[req.Method] == failAttempt {
				_ = w.writeErrorResponse(req.ID, JSONRPCError{
					Code: -32603, Message: "Simulated failure on attempt",
				}, cfg)
				continue
			}
		}

		// Check for forced error
		if rpcErr, ok := cfg.Errors[req.Method]; ok {
			_ = w.writeErrorResponse(req.ID, rpcErr, cfg)
			continue
		}

		switch req.Method {
		case "initialize":
			handleInitialize(w, req, cfg)

		case "notifications/initialized":
			// No response needed for notifications

		case "ping":
			_ = w.writeResponse(req.ID, struct{}{}, cfg)

		case "tools/list":
			toolsMu.Lock()
			current := tools
			toolsMu.Unlock()
			handleToolsList(w, req, current, cfg)

		case "tools/call":
			var params ToolCallParams
			if err := jsonx.Unmarshal(req.Params, &params); err != nil {
				_ = w.writeErrorResponse(req.ID, JSONRPCError{Code: -32602, Message: "Invalid params"}, cfg)
				continue
			}
			if slices.Contains(cfg.SilentTools, params.Name) {
				continue
			}

			afterCall := func() {}
			if cfg.ToolsAfterChange != nil && !changed {
				changed = true
				afterCall = func() {
					toolsMu.Lock()
					tools = cfg.ToolsAfterChange
					toolsMu.Unlock()
					_ = w.write(rpcNotification{JSONRPC: "2.0", Method: "notifications/tools/list_changed"})
				}
			}

			if delay, ok := cfg.ToolDelays[params.Name]; ok {
				inflight.Add(1)
				go func(req rpcRequest) {
					defer inflight.Done()
					time.Sleep(delay)
					handleToolCall(w, req, params, cfg)
					afterCall()
				}(req)
				continue
			}
			handleToolCall(w, req, params, cfg)
			afterCall()

		default:
			_ = w.writeErrorResponse(req.ID, JSONRPCError{
				Code: -32601, Message: "Method not found",
			}, cfg)
		}
	}
}

func handleInitialize(w *frameWriter, req rpcRequest, cfg Config) {
	version := "2024-11-05"
	if len(cfg.ProtocolVersions) > 0 {
		var params InitializeParams
		_ = jsonx.Unmarshal(req.Params, &params)
		if !slices.Contains(cfg.ProtocolVersions, params.ProtocolVersion) {
			_ = w.writeErrorResponse(req.ID, JSONRPCError{
				Code: -32602, Message: "Unsupported protocol version: " + params.ProtocolVersion,
			}, cfg)
			return
		}
		version = params.ProtocolVersion
	}

	_ = w.writeResponse(req.ID, InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      ServerInfo{Name: "fake-server", Version: "1.0.0"},
		Capabilities:    Capabilities{Tools: &ToolsCapability{ListChanged: cfg.ToolsAfterChange != nil}},
	}, cfg)
}

func handleToolsList(w *frameWriter, req rpcRequest, tools []Tool, cfg Config) {
	if tools == nil {
		tools = []Tool{}
	}
	if cfg.PageSize <= 0 {
		_ = w.writeResponse(req.ID, ToolsListResult{Tools: tools}, cfg)
		return
	}

	var params ToolsListParams
	_ = jsonx.Unmarshal(req.Params, &params)
	start := 0
	if params.Cursor != "" {
		n, err := strconv.Atoi(params.Cursor)
		if err != nil || n < 0 || n > len(tools) {
			_ = w.writeErrorResponse(req.ID, JSONRPCError{Code: -32602, Message: "Invalid cursor"}, cfg)
			return
		}
		start = n
	}
	end := min(start+cfg.PageSize, len(tools))
	result := ToolsListResult{Tools: tools[start:end]}
	if end < len(tools) {
		result.NextCursor = strconv.Itoa(end)
	}
	_ = w.writeResponse(req.ID, result, cfg)
}

func handleToolCall(w *frameWriter, req rpcRequest, params ToolCallParams, cfg Config) {
	if msg, ok := cfg.ToolErrors[params.Name]; ok {
		_ = w.writeResponse(req.ID, ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: msg}},
			IsError: true,
		}, cfg)
		return
	}

	if cfg.ToolHandler != nil {
		content, isError, err := cfg.ToolHandler(params.Name, params.Arguments)
		if err != nil {
			_ = w.writeErrorResponse(req.ID, JSONRPCError{Code: -32603, Message: err.Error()}, cfg)
			return
		}
		_ = w.writeResponse(req.ID, ToolCallResult{Content: content, IsError: isError}, cfg)
		return
	}

	if cfg.EchoToolCalls {
		args := string(params.Arguments)
		if args == "" {
			args = "{}"
		}
		_ = w.writeResponse(req.ID, ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("%s %s", params.Name, args)}},
		}, cfg)
		return
	}

	_ = w.writeErrorResponse(req.ID, JSONRPCError{Code: -32601, Message: "Unknown tool: " + params.Name}, cfg)
}
