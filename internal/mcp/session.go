package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bigsy/toolwire/internal/events"
	"github.com/Bigsy/toolwire/internal/jsonx"
	"github.com/google/uuid"
)

const (
	// DefaultTimeout is the default timeout for the handshake and each call.
	DefaultTimeout = 30 * time.Second

	// DefaultOrphanBuffer bounds how many unmatched responses are retained.
	DefaultOrphanBuffer = 32

	serverReplyTimeout = 5 * time.Second
)

// SessionOptions configure a Session. Zero values select defaults.
type SessionOptions struct {
	ID            string
	ClientName    string
	ClientVersion string

	InitTimeout  time.Duration
	CallTimeout  time.Duration
	OrphanBuffer int

	Logger *slog.Logger
	Bus    *events.Bus

	// OnNotification is invoked from the read loop and must not block.
	OnNotification func(method string, params json.RawMessage)
}

// inbound is what the read loop hands a waiting caller.
type inbound struct {
	msg rpcMessage
	err error
}

type orphan struct {
	id  int64
	msg rpcMessage
	at  time.Time
}

// Session runs the tool protocol over a Transport. A single read loop owns
// the transport's read side and routes responses to callers by id, so any
// number of calls may be in flight.
type Session struct {
	id        string
	transport Transport
	opts      SessionOptions
	logger    *slog.Logger
	bus       *events.Bus

	nextID atomic.Int64

	mu      sync.Mutex
	state   State
	failErr error
	pending map[int64]chan inbound
	orphans []orphan
	done    chan struct{} // closed on entering Closed or Failed

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	serverName      string
	serverVersion   string
	protocolVersion string
	instructions    string
}

// NewSession creates an Unstarted session over transport.
func NewSession(transport Transport, opts SessionOptions) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.ClientName == "" {
		opts.ClientName = "toolwire"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "0.1.0"
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultTimeout
	}
	if opts.OrphanBuffer <= 0 {
		opts.OrphanBuffer = DefaultOrphanBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		id:        opts.ID,
		transport: transport,
		opts:      opts,
		logger:    logger.With("session", opts.ID),
		bus:       opts.Bus,
		pending:   make(map[int64]chan inbound),
		done:      make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Available returns nil when the session is Ready, otherwise a
// *SessionStateError matching ErrSessionUnavailable.
func (s *Session) Available() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableLocked()
}

func (s *Session) availableLocked() error {
	if s.state == StateReady {
		return nil
	}
	return &SessionStateError{State: s.state, Err: s.failErr}
}

// Done is closed when the session becomes Closed or Failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// ServerInfo returns information about the connected server.
func (s *Session) ServerInfo() (name, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverName, s.serverVersion
}

// ProtocolVersion returns the negotiated protocol version.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// Instructions returns the usage hints the server sent during the handshake.
func (s *Session) Instructions() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instructions
}

// PendingCount returns the number of calls awaiting a response.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Initialize performs the handshake: Unstarted → Initializing → Ready. Any
// failure moves the session to Failed and is returned as a *ProtocolError.
// Protocol versions are offered newest first until one is accepted.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUnstarted {
		err := &SessionStateError{State: s.state, Err: s.failErr}
		s.mu.Unlock()
		return err
	}
	s.setStateLocked(StateInitializing, nil)

	loopCtx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	go s.readLoop(loopCtx)

	ctx, cancelInit := context.WithTimeout(ctx, s.opts.InitTimeout)
	defer cancelInit()

	result, err := s.handshake(ctx)
	if err != nil {
		perr := &ProtocolError{Method: methodInitialize, Err: err}
		s.fail(perr)
		return perr
	}

	if err := s.notify(ctx, methodInitialized, nil); err != nil {
		perr := &ProtocolError{Method: methodInitialized, Err: err}
		s.fail(perr)
		return perr
	}

	s.mu.Lock()
	if s.state != StateInitializing {
		// Closed or failed underneath us.
		err := &SessionStateError{State: s.state, Err: s.failErr}
		s.mu.Unlock()
		return &ProtocolError{Method: methodInitialize, Err: err}
	}
	s.serverName = result.ServerInfo.Name
	s.serverVersion = result.ServerInfo.Version
	s.protocolVersion = result.ProtocolVersion
	s.instructions = result.Instructions
	s.setStateLocked(StateReady, nil)
	s.mu.Unlock()

	s.logger.Info("session ready",
		"server", result.ServerInfo.Name,
		"serverVersion", result.ServerInfo.Version,
		"protocolVersion", result.ProtocolVersion)
	return nil
}

func (s *Session) handshake(ctx context.Context) (*initializeResult, error) {
	var lastErr error
	for _, version := range SupportedProtocolVersions {
		params := initializeParams{
			ProtocolVersion: version,
			Capabilities:    map[string]any{},
			ClientInfo:      implementation{Name: s.opts.ClientName, Version: s.opts.ClientVersion},
		}

		raw, err := s.roundTrip(ctx, methodInitialize, params)
		if err != nil {
			if isProtocolVersionError(err) {
				s.logger.Debug("protocol version rejected", "version", version, "err", err)
				lastErr = err
				continue
			}
			return nil, err
		}

		var result initializeResult
		if err := jsonx.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("malformed initialize result: %w", err)
		}
		if result.ProtocolVersion == "" {
			result.ProtocolVersion = version
		}
		if !slices.Contains(SupportedProtocolVersions, result.ProtocolVersion) {
			return nil, fmt.Errorf("server selected unsupported protocol version %q", result.ProtocolVersion)
		}
		return &result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all protocol versions rejected: %w", lastErr)
	}
	return nil, errors.New("no protocol versions to try")
}

// ListTools fetches every page of tools/list. Repeated names are collapsed
// (last wins) and reported in ToolList.Duplicates.
func (s *Session) ListTools(ctx context.Context) (*ToolList, error) {
	if err := s.Available(); err != nil {
		return nil, err
	}

	var all []Tool
	cursor := ""
	for page := 0; ; page++ {
		if page >= maxToolPages {
			return nil, &ProtocolError{Method: methodToolsList, Err: fmt.Errorf("more than %d pages", maxToolPages)}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		raw, err := s.roundTrip(callCtx, methodToolsList, toolsListParams{Cursor: cursor})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}

		var result toolsListResult
		if err := jsonx.Unmarshal(raw, &result); err != nil {
			return nil, &ProtocolError{Method: methodToolsList, Err: err}
		}
		for i, t := range result.Tools {
			if t.Name == "" {
				return nil, &ProtocolError{Method: methodToolsList, Err: fmt.Errorf("tool %d has no name", len(all)+i)}
			}
		}
		all = append(all, result.Tools...)

		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	list := DedupeTools(all)
	for _, name := range list.Duplicates {
		s.logger.Warn("provider advertised duplicate tool, last definition wins", "tool", name)
		s.bus.Publish(events.NewAnomalyEvent(s.id, events.AnomalyDuplicateTool, name))
	}
	return &list, nil
}

// CallTool invokes a tool and waits for its correlated response, at most
// CallTimeout. Every failure, including timeout and a broken transport, is
// returned as a failed result rather than an error.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) ToolCallResult {
	if err := s.Available(); err != nil {
		return Failure(err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	raw, err := s.roundTrip(ctx, methodToolsCall, toolCallParams{Name: name, Arguments: arguments})
	if err != nil {
		var te *TimeoutError
		if errors.As(err, &te) {
			// The caller's own deadline may have fired before CallTimeout.
			te.After = time.Since(start).Round(time.Millisecond)
		}
		return Failure(err)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Failure(&ProtocolError{Method: methodToolsCall, Err: errMissingResult})
	}

	var result toolCallResult
	if err := jsonx.Unmarshal(raw, &result); err != nil {
		return Failure(&ProtocolError{Method: methodToolsCall, Err: err})
	}
	if result.IsError {
		text := ToolCallResult{Content: result.Content}.Text()
		toolErr := &ToolError{Tool: name, Message: text}
		return ToolCallResult{Payload: raw, Content: result.Content, Message: toolErr.Error(), Err: toolErr}
	}
	return Success(raw, result.Content)
}

// Ping checks the provider is responsive.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.Available(); err != nil {
		return err
	}
	_, err := s.roundTrip(ctx, methodPing, nil)
	return err
}

// Close moves the session to Closed, fails every pending call with a
// session-closed error, stops the read loop and closes the transport.
// Calling Close again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	closedErr := &SessionStateError{State: StateClosed}
	s.failPendingLocked(closedErr)
	s.setStateLocked(StateClosed, nil)
	cancel, loopDone := s.loopCancel, s.loopDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.transport.Close()
	if loopDone != nil {
		<-loopDone
	}
	return err
}

// roundTrip sends a request and waits for the response with the same id.
func (s *Session) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	ch, err := s.register(id)
	if err != nil {
		return nil, err
	}
	defer s.release(id)

	data, err := jsonx.Marshal(rpcRequest{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if err := s.transport.Send(ctx, data); err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			s.fail(err)
		}
		if ctx.Err() != nil {
			return nil, s.waitErr(ctx, method, id)
		}
		return nil, err
	}

	select {
	case in := <-ch:
		return in.result()
	case <-ctx.Done():
		return nil, s.waitErr(ctx, method, id)
	case <-s.done:
		// fail/Close deliver to pending before closing done.
		select {
		case in := <-ch:
			return in.result()
		default:
		}
		return nil, s.Available()
	}
}

func (in inbound) result() (json.RawMessage, error) {
	if in.err != nil {
		return nil, in.err
	}
	if in.msg.Error != nil {
		return nil, in.msg.Error
	}
	return in.msg.Result, nil
}

func (s *Session) waitErr(ctx context.Context, method string, id int64) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Method: method, ID: id}
	}
	return ctx.Err()
}

// notify sends a JSON-RPC notification (no response expected).
func (s *Session) notify(ctx context.Context, method string, params any) error {
	data, err := jsonx.Marshal(rpcRequest{JSONRPC: jsonrpcVersion, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return s.transport.Send(ctx, data)
}

// register allocates a correlation slot. Only Initializing and Ready
// sessions accept requests.
func (s *Session) register(id int64) (chan inbound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitializing && s.state != StateReady {
		return nil, &SessionStateError{State: s.state, Err: s.failErr}
	}

	// Orphans are never matched here: a response that arrived before its
	// request was sent answers some other exchange.
	ch := make(chan inbound, 1)
	s.pending[id] = ch
	return ch, nil
}

// release frees the correlation slot; a late response becomes an orphan.
func (s *Session) release(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// fail moves the session to Failed unless it is already terminal.
func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.failErr = err
	s.failPendingLocked(err)
	s.setStateLocked(StateFailed, err)
	s.logger.Error("session failed", "err", err)
}

func (s *Session) failPendingLocked(err error) {
	for id, ch := range s.pending {
		select {
		case ch <- inbound{err: err}:
		default:
		}
		delete(s.pending, id)
	}
}

// setStateLocked records a transition and closes done on entering a
// terminal state. Callers hold s.mu.
func (s *Session) setStateLocked(next State, err error) {
	prev := s.state
	s.state = next
	if next.Terminal() && !prev.Terminal() {
		close(s.done)
	}
	s.logger.Debug("session state", "from", prev.String(), "to", next.String())
	s.bus.Publish(events.NewStateChangedEvent(s.id, prev.String(), next.String(), err))
}

// readLoop is the only reader of the transport.
func (s *Session) readLoop(ctx context.Context) {
	defer close(s.loopDone)
	for {
		data, err := s.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var te *TransportError
			if !errors.As(err, &te) {
				err = &TransportError{Op: "receive", Err: err}
			}
			s.fail(err)
			return
		}
		s.handleFrame(ctx, data)
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	var msg rpcMessage
	if err := jsonx.Unmarshal(data, &msg); err != nil {
		s.anomaly(events.AnomalyMalformedFrame, fmt.Sprintf("%v: %.200s", err, data))
		s.mu.Lock()
		if s.state == StateInitializing {
			// Nothing but the handshake is in flight; it cannot succeed.
			s.failPendingLocked(fmt.Errorf("malformed frame: %w", err))
		}
		s.mu.Unlock()
		return
	}

	switch {
	case msg.Method != "" && !msg.hasID():
		s.handleNotification(msg)
	case msg.Method != "":
		go s.answerServerRequest(ctx, msg)
	case msg.hasID():
		s.deliver(msg)
	default:
		s.anomaly(events.AnomalyUnexpectedFrame, fmt.Sprintf("%.200s", data))
	}
}

func (s *Session) deliver(msg rpcMessage) {
	id, ok := parseID(msg.ID)
	if !ok {
		s.anomaly(events.AnomalyUnmatchedID, "non-numeric id "+string(msg.ID))
		return
	}

	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		ch <- inbound{msg: msg}
		s.mu.Unlock()
		return
	}
	s.orphans = append(s.orphans, orphan{id: id, msg: msg, at: time.Now()})
	if len(s.orphans) > s.opts.OrphanBuffer {
		s.orphans = s.orphans[len(s.orphans)-s.opts.OrphanBuffer:]
	}
	s.mu.Unlock()

	s.anomaly(events.AnomalyUnmatchedID, fmt.Sprintf("discarding response with id %d", id))
}

func (s *Session) handleNotification(msg rpcMessage) {
	if msg.Method == NotificationMessage {
		s.logger.Debug("provider log", "params", string(msg.Params))
	} else {
		s.logger.Debug("notification", "method", msg.Method)
	}
	s.bus.Publish(events.NewNotificationEvent(s.id, msg.Method, msg.Params))
	if s.opts.OnNotification != nil {
		s.opts.OnNotification(msg.Method, msg.Params)
	}
}

// answerServerRequest replies to provider-initiated requests so the provider
// never blocks on us. Only ping is supported.
func (s *Session) answerServerRequest(ctx context.Context, msg rpcMessage) {
	reply := rpcReply{JSONRPC: jsonrpcVersion, ID: msg.ID}
	if msg.Method == methodPing {
		reply.Result = struct{}{}
	} else {
		s.anomaly(events.AnomalyUnexpectedFrame, "unsupported server request "+msg.Method)
		reply.Error = &RPCError{Code: codeMethodNotFound, Message: "Method not found: " + msg.Method}
	}

	data, err := jsonx.Marshal(reply)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, serverReplyTimeout)
	defer cancel()
	if err := s.transport.Send(ctx, data); err != nil {
		s.logger.Debug("failed to answer server request", "method", msg.Method, "err", err)
	}
}

// Orphans returns the ids of retained unmatched responses, oldest first.
func (s *Session) Orphans() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, len(s.orphans))
	for i, o := range s.orphans {
		ids[i] = o.id
	}
	return ids
}

func (s *Session) anomaly(kind events.AnomalyKind, detail string) {
	s.logger.Warn("protocol anomaly", "kind", string(kind), "detail", detail)
	s.bus.Publish(events.NewAnomalyEvent(s.id, kind, detail))
}
