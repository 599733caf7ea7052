package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Bigsy/toolwire/internal/events"
	"github.com/Bigsy/toolwire/internal/jsonx"
)

func TestSession_InitializeHappyPath(t *testing.T) {
	s, m := readySession(t, SessionOptions{}, nil)

	if s.State() != StateReady {
		t.Fatalf("expected Ready, got %s", s.State())
	}
	name, version := s.ServerInfo()
	if name != "scripted" || version != "0.0.1" {
		t.Errorf("unexpected server info %q %q", name, version)
	}
	if s.ProtocolVersion() != SupportedProtocolVersions[0] {
		t.Errorf("expected newest protocol version, got %q", s.ProtocolVersion())
	}
	if n := m.countMethod(methodInitialized); n != 1 {
		t.Errorf("expected one initialized notification, got %d", n)
	}
	if err := s.Available(); err != nil {
		t.Errorf("Available: %v", err)
	}
}

func TestSession_InitializeTwiceFails(t *testing.T) {
	s, _ := readySession(t, SessionOptions{}, nil)

	err := s.Initialize(context.Background())
	var se *SessionStateError
	if !errors.As(err, &se) {
		t.Fatalf("expected SessionStateError, got %v", err)
	}
	if s.State() != StateReady {
		t.Errorf("second Initialize must not disturb a Ready session, got %s", s.State())
	}
}

func TestSession_ProtocolVersionFallback(t *testing.T) {
	m := newScriptedTransport(func(m *scriptedTransport, f sentFrame) {
		if f.Method != methodInitialize {
			return
		}
		var p initializeParams
		_ = jsonx.Unmarshal(f.Params, &p)
		if p.ProtocolVersion != "2024-11-05" {
			m.replyError(f, -32602, "Unsupported protocol version: "+p.ProtocolVersion)
			return
		}
		handshake(m, f)
	})
	s := NewSession(m, SessionOptions{})
	defer s.Close()

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if s.ProtocolVersion() != "2024-11-05" {
		t.Errorf("expected fallback to 2024-11-05, got %q", s.ProtocolVersion())
	}
	if n := m.countMethod(methodInitialize); n != len(SupportedProtocolVersions) {
		t.Errorf("expected %d initialize attempts, got %d", len(SupportedProtocolVersions), n)
	}
}

func TestSession_InitializeMalformedResponse(t *testing.T) {
	m := newScriptedTransport(func(m *scriptedTransport, f sentFrame) {
		if f.Method == methodInitialize {
			m.push("{this is not json")
		}
	})
	s := NewSession(m, SessionOptions{InitTimeout: 2 * time.Second})
	defer s.Close()

	err := s.Initialize(context.Background())
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if s.State() != StateFailed {
		t.Errorf("expected Failed, got %s", s.State())
	}

	res := s.CallTool(context.Background(), "anything", nil)
	if res.OK || !res.SessionLost() {
		t.Errorf("calls after failed init must report session unavailable, got %+v", res)
	}
	if n := m.countMethod(methodToolsCall); n != 0 {
		t.Errorf("no tools/call may be sent after failed init, got %d", n)
	}
}

func TestSession_InitializeTimeout(t *testing.T) {
	m := newScriptedTransport(nil)
	s := NewSession(m, SessionOptions{InitTimeout: 50 * time.Millisecond})
	defer s.Close()

	start := time.Now()
	err := s.Initialize(context.Background())
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Errorf("expected wrapped TimeoutError, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("init timeout took too long: %v", time.Since(start))
	}
	if s.State() != StateFailed {
		t.Errorf("expected Failed, got %s", s.State())
	}
}

func TestSession_InitializeRPCError(t *testing.T) {
	m := newScriptedTransport(func(m *scriptedTransport, f sentFrame) {
		if f.Method == methodInitialize {
			m.replyError(f, -32603, "boom")
		}
	})
	s := NewSession(m, SessionOptions{})
	defer s.Close()

	err := s.Initialize(context.Background())
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32603 {
		t.Fatalf("expected wrapped RPCError -32603, got %v", err)
	}
	if n := m.countMethod(methodInitialize); n != 1 {
		t.Errorf("non-version errors must not retry, got %d attempts", n)
	}
}

func TestSession_CallBeforeInitialize(t *testing.T) {
	m := newScriptedTransport(nil)
	s := NewSession(m, SessionOptions{})
	defer s.Close()

	if _, err := s.ListTools(context.Background()); !errors.Is(err, ErrSessionUnavailable) {
		t.Errorf("ListTools before init: expected ErrSessionUnavailable, got %v", err)
	}
	res := s.CallTool(context.Background(), "x", nil)
	if res.OK || !errors.Is(res.Err, ErrSessionUnavailable) {
		t.Errorf("CallTool before init: expected unavailable failure, got %+v", res)
	}
	if len(m.sentFrames()) != 0 {
		t.Errorf("expected no frames, got %d", len(m.sentFrames()))
	}
}

func TestSession_CallToolReturnsPayloadVerbatim(t *testing.T) {
	const payload = `{"content":[{"type":"text","text":"51.4"}],"structuredContent":{"value":51.4}}`

	s, m := readySession(t, SessionOptions{}, func(m *scriptedTransport, f sentFrame) {
		if f.Method == methodToolsCall {
			m.push(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, f.ID, payload))
		}
	})

	res := s.CallTool(context.Background(), "calculate", map[string]any{"expression": "9+(6*7)/5-1"})
	if !res.OK {
		t.Fatalf("expected success, got %s", res.Message)
	}
	if string(res.Payload) != payload {
		t.Errorf("payload changed:\n got %s\nwant %s", res.Payload, payload)
	}
	if res.Text() != "51.4" {
		t.Errorf("expected text 51.4, got %q", res.Text())
	}

	var params toolCallParams
	for _, f := range m.sentFrames() {
		if f.Method == methodToolsCall {
			_ = jsonx.Unmarshal(f.Params, &params)
		}
	}
	if params.Name != "calculate" || params.Arguments["expression"] != "9+(6*7)/5-1" {
		t.Errorf("request not forwarded verbatim: %+v", params)
	}
}

func TestSession_OutOfOrderResponses(t *testing.T) {
	var mu sync.Mutex
	var held []sentFrame

	s, _ := readySession(t, SessionOptions{}, func(m *scriptedTransport, f sentFrame) {
		if f.Method != methodToolsCall {
			return
		}
		mu.Lock()
		held = append(held, f)
		if len(held) < 2 {
			mu.Unlock()
			return
		}
		batch := held
		held = nil
		mu.Unlock()

		// Answer the later request first.
		for i := len(batch) - 1; i >= 0; i-- {
			var p struct {
				Arguments map[string]any `json:"arguments"`
			}
			_ = jsonx.Unmarshal(batch[i].Params, &p)
			m.reply(batch[i], textResult(fmt.Sprint(p.Arguments["n"])))
		}
	})

	var wg sync.WaitGroup
	results := make([]ToolCallResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.CallTool(context.Background(), "echo", map[string]any{"n": i})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if !res.OK {
			t.Fatalf("call %d failed: %s", i, res.Message)
		}
		if res.Text() != fmt.Sprint(i) {
			t.Errorf("call %d received %q", i, res.Text())
		}
	}
	if s.PendingCount() != 0 {
		t.Errorf("expected no pending calls, got %d", s.PendingCount())
	}
}

func TestSession_TimeoutThenSuccess(t *testing.T) {
	s, _ := readySession(t, SessionOptions{CallTimeout: 50 * time.Millisecond}, func(m *scriptedTransport, f sentFrame) {
		if f.Method != methodToolsCall {
			return
		}
		var p toolCallParams
		_ = jsonx.Unmarshal(f.Params, &p)
		if p.Name == "fast" {
			m.reply(f, textResult("ok"))
		}
	})

	res := s.CallTool(context.Background(), "slow", nil)
	if res.OK {
		t.Fatal("expected timeout failure")
	}
	if !res.TimedOut() {
		t.Fatalf("expected TimeoutError, got %v", res.Err)
	}
	if res.SessionLost() {
		t.Error("a timeout must not report the session as lost")
	}
	if !strings.Contains(res.Message, "timed out") {
		t.Errorf("expected timeout message, got %q", res.Message)
	}
	if s.PendingCount() != 0 {
		t.Errorf("timed out call must release its slot, pending=%d", s.PendingCount())
	}

	res = s.CallTool(context.Background(), "fast", nil)
	if !res.OK || res.Text() != "ok" {
		t.Fatalf("expected follow-up call to succeed, got %+v", res)
	}
	if s.State() != StateReady {
		t.Errorf("expected Ready, got %s", s.State())
	}
}

func TestSession_CallerCancellation(t *testing.T) {
	s, _ := readySession(t, SessionOptions{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan ToolCallResult, 1)
	go func() { done <- s.CallTool(ctx, "never", nil) }()

	waitFor(t, "pending call", func() bool { return s.PendingCount() == 1 })
	cancel()

	res := <-done
	if res.OK || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected canceled failure, got %+v", res)
	}
	if s.PendingCount() != 0 {
		t.Errorf("expected slot released, pending=%d", s.PendingCount())
	}
	if s.State() != StateReady {
		t.Errorf("cancellation must not affect the session, got %s", s.State())
	}
}

func TestSession_ToleratesInterleavedTraffic(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	var notified []string
	var notifiedMu sync.Mutex

	s, m := readySession(t, SessionOptions{
		Bus: bus,
		OnNotification: func(method string, _ json.RawMessage) {
			notifiedMu.Lock()
			notified = append(notified, method)
			notifiedMu.Unlock()
		},
	}, func(m *scriptedTransport, f sentFrame) {
		if f.Method != methodToolsCall {
			return
		}
		m.push(`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":"working"}}`)
		m.push(`{"jsonrpc":"2.0","id":99999,"result":{}}`)
		m.push(`{"jsonrpc":"2.0","id":77,"method":"ping"}`)
		m.reply(f, textResult("done"))
	})

	res := s.CallTool(context.Background(), "work", nil)
	if !res.OK || res.Text() != "done" {
		t.Fatalf("expected success through noise, got %+v", res)
	}

	if orphans := s.Orphans(); len(orphans) != 1 || orphans[0] != 99999 {
		t.Errorf("expected orphan 99999, got %v", orphans)
	}

	waitFor(t, "ping reply", func() bool {
		for _, f := range m.sentFrames() {
			if f.Method == "" && f.ID == 77 && string(f.Result) == "{}" {
				return true
			}
		}
		return false
	})

	notifiedMu.Lock()
	defer notifiedMu.Unlock()
	if len(notified) != 1 || notified[0] != NotificationMessage {
		t.Errorf("expected one message notification, got %v", notified)
	}
}

func TestSession_UnknownServerRequestGetsMethodNotFound(t *testing.T) {
	s, m := readySession(t, SessionOptions{}, nil)
	_ = s

	m.push(`{"jsonrpc":"2.0","id":"abc","method":"sampling/createMessage","params":{}}`)

	waitFor(t, "method not found reply", func() bool {
		for _, f := range m.sentFrames() {
			if f.Method == "" && strings.Contains(string(f.Raw), `"id":"abc"`) &&
				strings.Contains(string(f.Raw), "-32601") {
				return true
			}
		}
		return false
	})
}

func TestSession_OrphanBufferBounded(t *testing.T) {
	s, m := readySession(t, SessionOptions{OrphanBuffer: 4}, nil)

	for i := 0; i < 10; i++ {
		m.push(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, 1000+i))
	}
	waitFor(t, "orphans", func() bool {
		o := s.Orphans()
		return len(o) == 4 && o[3] == 1009
	})
	if o := s.Orphans(); o[0] != 1006 {
		t.Errorf("expected oldest orphans evicted, got %v", o)
	}
}

func TestSession_EarlyResponseNotMatchedToLaterRequest(t *testing.T) {
	s, m := readySession(t, SessionOptions{CallTimeout: 100 * time.Millisecond}, nil)

	// Answer the next request id before that request exists.
	var next int64
	for _, f := range m.sentFrames() {
		next = max(next, f.ID)
	}
	next++
	m.push(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"bogus"}]}}`, next))
	waitFor(t, "orphan", func() bool { return slices.Contains(s.Orphans(), next) })

	res := s.CallTool(context.Background(), "calculate", map[string]any{"expression": "1+1"})
	if res.OK {
		t.Fatalf("unsolicited response was accepted as the answer: %q", res.Text())
	}
	if !res.TimedOut() {
		t.Fatalf("expected timeout, got %v", res.Err)
	}
	var calls []sentFrame
	for _, f := range m.sentFrames() {
		if f.Method == methodToolsCall {
			calls = append(calls, f)
		}
	}
	if len(calls) != 1 || calls[0].ID != next {
		t.Fatalf("expected one tools/call with id %d, got %+v", next, calls)
	}
	if !slices.Contains(s.Orphans(), next) {
		t.Error("orphan should stay in the diagnostic buffer")
	}
}

func TestSession_NullCallResultIsFailure(t *testing.T) {
	for name, frame := range map[string]string{
		"null result":    `{"jsonrpc":"2.0","id":%d,"result":null}`,
		"missing result": `{"jsonrpc":"2.0","id":%d}`,
	} {
		t.Run(name, func(t *testing.T) {
			s, _ := readySession(t, SessionOptions{}, func(m *scriptedTransport, f sentFrame) {
				if f.Method == methodToolsCall {
					m.push(fmt.Sprintf(frame, f.ID))
				}
			})

			res := s.CallTool(context.Background(), "calculate", nil)
			var pe *ProtocolError
			if res.OK || !errors.As(res.Err, &pe) {
				t.Fatalf("expected ProtocolError failure, got %+v", res)
			}
			if res.Message == "" {
				t.Error("failure must carry a message")
			}
			if s.State() != StateReady {
				t.Errorf("expected Ready, got %s", s.State())
			}
		})
	}
}

func TestSession_TimeoutReportsCallerDeadline(t *testing.T) {
	s, _ := readySession(t, SessionOptions{CallTimeout: 10 * time.Second}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := s.CallTool(ctx, "slow", nil)
	var te *TimeoutError
	if !errors.As(res.Err, &te) {
		t.Fatalf("expected TimeoutError, got %v", res.Err)
	}
	if te.After >= time.Second {
		t.Errorf("reported %v, want roughly the 50ms caller deadline", te.After)
	}
	if strings.Contains(res.Message, "10s") {
		t.Errorf("message names the configured timeout: %q", res.Message)
	}
}

func TestSession_MalformedFrameWhileReady(t *testing.T) {
	s, _ := readySession(t, SessionOptions{}, func(m *scriptedTransport, f sentFrame) {
		if f.Method == methodToolsCall {
			m.push("garbage")
			m.reply(f, textResult("fine"))
		}
	})

	res := s.CallTool(context.Background(), "x", nil)
	if !res.OK {
		t.Fatalf("a malformed frame must not fail a Ready session's calls: %s", res.Message)
	}
	if s.State() != StateReady {
		t.Errorf("expected Ready, got %s", s.State())
	}
}

func TestSession_ToolReportedError(t *testing.T) {
	s, _ := readySession(t, SessionOptions{}, func(m *scriptedTransport, f sentFrame) {
		if f.Method == methodToolsCall {
			m.reply(f, map[string]any{
				"content": []map[string]any{{"type": "text", "text": "division by zero"}},
				"isError": true,
			})
		}
	})

	res := s.CallTool(context.Background(), "calculate", map[string]any{"expression": "1/0"})
	if res.OK {
		t.Fatal("expected failure")
	}
	var te *ToolError
	if !errors.As(res.Err, &te) {
		t.Fatalf("expected ToolError, got %v", res.Err)
	}
	if te.Message != "division by zero" {
		t.Errorf("unexpected message %q", te.Message)
	}
	if res.SessionLost() {
		t.Error("tool failure must be distinguishable from a dead session")
	}
}

func TestSession_RPCErrorOnCall(t *testing.T) {
	s, _ := readySession(t, SessionOptions{}, func(m *scriptedTransport, f sentFrame) {
		if f.Method == methodToolsCall {
			m.replyError(f, -32602, "Invalid params")
		}
	})

	res := s.CallTool(context.Background(), "x", nil)
	var rpcErr *RPCError
	if res.OK || !errors.As(res.Err, &rpcErr) {
		t.Fatalf("expected RPCError failure, got %+v", res)
	}
	if s.State() != StateReady {
		t.Errorf("an error response must leave the session Ready, got %s", s.State())
	}
}

func TestSession_CloseRejectsCalls(t *testing.T) {
	s, m := readySession(t, SessionOptions{}, nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected Closed, got %s", s.State())
	}

	before := len(m.sentFrames())
	res := s.CallTool(context.Background(), "x", nil)
	if res.OK || !errors.Is(res.Err, ErrSessionClosed) {
		t.Fatalf("expected session closed failure, got %+v", res)
	}
	if !res.SessionLost() {
		t.Error("closed session should report SessionLost")
	}
	if len(m.sentFrames()) != before {
		t.Error("no frame may be written after Close")
	}
	if _, err := s.ListTools(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("ListTools after Close: expected ErrSessionClosed, got %v", err)
	}
}

func TestSession_CloseFailsPendingCalls(t *testing.T) {
	s, _ := readySession(t, SessionOptions{}, nil)

	done := make(chan ToolCallResult, 1)
	go func() { done <- s.CallTool(context.Background(), "never", nil) }()
	waitFor(t, "pending call", func() bool { return s.PendingCount() == 1 })

	_ = s.Close()

	select {
	case res := <-done:
		if res.OK || !errors.Is(res.Err, ErrSessionClosed) {
			t.Fatalf("expected session closed failure, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call hung after Close")
	}
}

func TestSession_TransportBreakFailsSession(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := subscribe(bus)

	s, m := readySession(t, SessionOptions{Bus: bus}, nil)

	results := make(chan ToolCallResult, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- s.CallTool(context.Background(), "never", nil) }()
	}
	waitFor(t, "pending calls", func() bool { return s.PendingCount() == 2 })

	m.breakStream()

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			var te *TransportError
			if res.OK || !errors.As(res.Err, &te) {
				t.Fatalf("expected TransportError, got %+v", res)
			}
			if !res.SessionLost() {
				t.Error("transport failure should report SessionLost")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("pending call hung after transport break")
		}
	}

	waitFor(t, "failed state", func() bool { return s.State() == StateFailed })
	select {
	case <-s.Done():
	default:
		t.Error("Done should be closed once Failed")
	}

	res := s.CallTool(context.Background(), "again", nil)
	if res.OK || !errors.Is(res.Err, ErrSessionUnavailable) {
		t.Errorf("expected unavailable after failure, got %+v", res)
	}
	if errors.Is(res.Err, ErrSessionClosed) {
		t.Error("a failed session is not a closed one")
	}

	sawFailed := false
	timeout := time.After(2 * time.Second)
	for !sawFailed {
		select {
		case e := <-sub:
			if sc, ok := e.(events.StateChangedEvent); ok && sc.NewState == StateFailed.String() {
				sawFailed = true
			}
		case <-timeout:
			t.Fatal("no Failed state event published")
		}
	}
}

func TestSession_ListToolsDuplicatesFlagged(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := subscribe(bus)

	s, _ := readySession(t, SessionOptions{Bus: bus}, func(m *scriptedTransport, f sentFrame) {
		if f.Method == methodToolsList {
			m.reply(f, map[string]any{"tools": []map[string]any{
				{"name": "search", "description": "first"},
				{"name": "fetch"},
				{"name": "search", "description": "second"},
			}})
		}
	})

	list, err := s.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(list.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(list.Tools))
	}
	if list.Tools[0].Name != "search" || list.Tools[0].Description != "second" {
		t.Errorf("last definition should win in first position, got %+v", list.Tools[0])
	}
	if len(list.Duplicates) != 1 || list.Duplicates[0] != "search" {
		t.Errorf("expected duplicates [search], got %v", list.Duplicates)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-sub:
			if a, ok := e.(events.AnomalyEvent); ok && a.Kind == events.AnomalyDuplicateTool {
				if a.Detail != "search" {
					t.Errorf("unexpected anomaly detail %q", a.Detail)
				}
				return
			}
		case <-timeout:
			t.Fatal("no duplicate anomaly published")
		}
	}
}

func TestSession_ListToolsPagination(t *testing.T) {
	s, m := readySession(t, SessionOptions{}, func(m *scriptedTransport, f sentFrame) {
		if f.Method != methodToolsList {
			return
		}
		var p toolsListParams
		_ = jsonx.Unmarshal(f.Params, &p)
		switch p.Cursor {
		case "":
			m.reply(f, map[string]any{"tools": []map[string]any{{"name": "a"}, {"name": "b"}}, "nextCursor": "page2"})
		case "page2":
			m.reply(f, map[string]any{"tools": []map[string]any{{"name": "c"}}})
		default:
			m.replyError(f, -32602, "bad cursor")
		}
	})

	list, err := s.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	if strings.Join(names, ",") != "a,b,c" {
		t.Errorf("expected a,b,c got %v", names)
	}
	if n := m.countMethod(methodToolsList); n != 2 {
		t.Errorf("expected 2 pages fetched, got %d", n)
	}
}

func TestSession_ListToolsEndlessPagination(t *testing.T) {
	page := 0
	s, _ := readySession(t, SessionOptions{}, func(m *scriptedTransport, f sentFrame) {
		if f.Method == methodToolsList {
			page++
			m.reply(f, map[string]any{"tools": []map[string]any{}, "nextCursor": fmt.Sprint(page)})
		}
	})

	_, err := s.ListTools(context.Background())
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError for runaway pagination, got %v", err)
	}
	if s.State() != StateReady {
		t.Errorf("a protocol error outside init must leave the session Ready, got %s", s.State())
	}
}

func TestSession_ListToolsMalformed(t *testing.T) {
	s, _ := readySession(t, SessionOptions{}, func(m *scriptedTransport, f sentFrame) {
		if f.Method == methodToolsList {
			m.reply(f, map[string]any{"tools": []map[string]any{{"description": "nameless"}}})
		}
	})

	_, err := s.ListTools(context.Background())
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestSession_Ping(t *testing.T) {
	s, _ := readySession(t, SessionOptions{}, func(m *scriptedTransport, f sentFrame) {
		if f.Method == methodPing {
			m.reply(f, map[string]any{})
		}
	})
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSession_RequestsWrittenInCallOrder(t *testing.T) {
	s, m := readySession(t, SessionOptions{}, func(m *scriptedTransport, f sentFrame) {
		if f.Method == methodToolsCall {
			m.reply(f, textResult("ok"))
		}
	})

	for i := 0; i < 5; i++ {
		if res := s.CallTool(context.Background(), fmt.Sprintf("t%d", i), nil); !res.OK {
			t.Fatalf("call %d: %s", i, res.Message)
		}
	}

	var last int64
	for _, f := range m.sentFrames() {
		if f.Method != methodToolsCall {
			continue
		}
		if f.ID <= last {
			t.Errorf("ids must increase with call order: %d after %d", f.ID, last)
		}
		last = f.ID
	}
}
