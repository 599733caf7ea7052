package mcp

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Bigsy/toolwire/internal/events"
	"github.com/Bigsy/toolwire/internal/jsonx"
)

// sentFrame is one frame the session wrote.
type sentFrame struct {
	RawID  json.RawMessage `json:"id"`
	ID     int64           `json:"-"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Raw    []byte          `json:"-"`
}

// scriptedTransport is an in-memory Transport. Every sent frame is passed
// to respond, which may push inbound frames.
type scriptedTransport struct {
	mu      sync.Mutex
	sent    []sentFrame
	respond func(m *scriptedTransport, f sentFrame)

	inbox     chan []byte
	broken    chan struct{}
	closed    chan struct{}
	breakOnce sync.Once
	closeOnce sync.Once
}

func newScriptedTransport(respond func(m *scriptedTransport, f sentFrame)) *scriptedTransport {
	return &scriptedTransport{
		respond: respond,
		inbox:   make(chan []byte, 256),
		broken:  make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (m *scriptedTransport) Send(ctx context.Context, msg []byte) error {
	select {
	case <-m.closed:
		return &TransportError{Op: "send", Err: ErrTransportClosed}
	case <-m.broken:
		return &TransportError{Op: "send", Err: io.ErrClosedPipe}
	default:
	}

	var f sentFrame
	if err := jsonx.Unmarshal(msg, &f); err != nil {
		return err
	}
	f.ID, _ = parseID(f.RawID)
	f.Raw = append([]byte(nil), msg...)

	m.mu.Lock()
	m.sent = append(m.sent, f)
	respond := m.respond
	m.mu.Unlock()

	if respond != nil {
		respond(m, f)
	}
	return nil
}

func (m *scriptedTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-m.inbox:
		return data, nil
	case <-m.broken:
		return nil, &TransportError{Op: "receive", Err: io.ErrUnexpectedEOF}
	case <-m.closed:
		return nil, &TransportError{Op: "receive", Err: ErrTransportClosed}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *scriptedTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// push queues an inbound frame.
func (m *scriptedTransport) push(v any) {
	var data []byte
	switch v := v.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		var err error
		data, err = jsonx.Marshal(v)
		if err != nil {
			panic(err)
		}
	}
	m.inbox <- data
}

// reply answers request f with result.
func (m *scriptedTransport) reply(f sentFrame, result any) {
	raw, err := jsonx.Marshal(result)
	if err != nil {
		panic(err)
	}
	m.push(map[string]any{"jsonrpc": "2.0", "id": f.ID, "result": json.RawMessage(raw)})
}

// replyError answers request f with a JSON-RPC error.
func (m *scriptedTransport) replyError(f sentFrame, code int, message string) {
	m.push(map[string]any{"jsonrpc": "2.0", "id": f.ID, "error": map[string]any{"code": code, "message": message}})
}

// breakStream simulates the provider's stdout closing mid-session.
func (m *scriptedTransport) breakStream() {
	m.breakOnce.Do(func() { close(m.broken) })
}

func (m *scriptedTransport) sentFrames() []sentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentFrame(nil), m.sent...)
}

func (m *scriptedTransport) countMethod(method string) int {
	n := 0
	for _, f := range m.sentFrames() {
		if f.Method == method {
			n++
		}
	}
	return n
}

// handshake answers initialize; it returns false for any other frame.
func handshake(m *scriptedTransport, f sentFrame) bool {
	switch f.Method {
	case methodInitialize:
		var p initializeParams
		_ = jsonx.Unmarshal(f.Params, &p)
		m.reply(f, map[string]any{
			"protocolVersion": p.ProtocolVersion,
			"serverInfo":      map[string]any{"name": "scripted", "version": "0.0.1"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		})
		return true
	case methodInitialized:
		return true
	}
	return false
}

func textResult(text string) map[string]any {
	return map[string]any{"content": []map[string]any{{"type": "text", "text": text}}}
}

// readySession returns an initialized session over a scripted transport.
func readySession(t *testing.T, opts SessionOptions, respond func(m *scriptedTransport, f sentFrame)) (*Session, *scriptedTransport) {
	t.Helper()

	m := newScriptedTransport(func(m *scriptedTransport, f sentFrame) {
		if handshake(m, f) {
			return
		}
		if respond != nil {
			respond(m, f)
		}
	})
	s := NewSession(m, opts)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return s, m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// subscribe buffers bus events into a channel.
func subscribe(bus *events.Bus) <-chan events.Event {
	ch := make(chan events.Event, 256)
	bus.Subscribe(func(e events.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	return ch
}
