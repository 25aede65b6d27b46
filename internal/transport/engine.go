package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"dbmcp/pkg/logging"
	pkgstrings "dbmcp/pkg/strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// HeaderSessionID carries the session identifier on the protocol endpoint.
const HeaderSessionID = "Mcp-Session-Id"

const (
	// notificationBuffer sizes the channel the protocol handler pushes
	// server-initiated notifications into.
	notificationBuffer = 64

	// streamBuffer sizes the live feed of an attached push stream beyond
	// its replayed history.
	streamBuffer = 16
)

// Handler processes one decoded protocol message and returns the response,
// or nil for notifications. *server.MCPServer satisfies it.
type Handler interface {
	HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage
}

// sessionHost is the optional session-tracking side of a Handler. When the
// handler supports it, stateful engines register themselves so
// server-initiated notifications flow into their push stream.
type sessionHost interface {
	RegisterSession(ctx context.Context, session server.ClientSession) error
	UnregisterSession(ctx context.Context, sessionID string)
	WithContext(ctx context.Context, session server.ClientSession) context.Context
}

// engineConfig wires one engine's lifecycle hooks. A nil generateID marks a
// stateless engine: no identifier assignment, no session header, no push
// stream, no registration with the handler.
type engineConfig struct {
	generateID    func() string
	onInitialized func(*Engine) error
	onClose       func(*Engine)
	historySize   int
	keepAlive     time.Duration
}

// Engine is the per-session protocol collaborator the router drives. It
// delivers decoded messages to the handler, runs the session handshake,
// owns the push-stream event history, and implements server.ClientSession
// so the handler can address notifications to it.
type Engine struct {
	generateID    func() string
	onInitialized func(*Engine) error
	onClose       func(*Engine)
	keepAlive     time.Duration

	notifications chan mcp.JSONRPCNotification
	done          chan struct{}

	// procMu serializes message delivery within the session; requests
	// across sessions run concurrently.
	procMu sync.Mutex

	mu          sync.Mutex
	handler     Handler
	host        sessionHost
	sessionID   string
	initialized bool
	registered  bool
	history     *eventLog
	stream      chan streamEvent

	closeOnce sync.Once
}

var _ server.ClientSession = (*Engine)(nil)

func newEngine(cfg engineConfig) *Engine {
	return &Engine{
		generateID:    cfg.generateID,
		onInitialized: cfg.onInitialized,
		onClose:       cfg.onClose,
		keepAlive:     cfg.keepAlive,
		notifications: make(chan mcp.JSONRPCNotification, notificationBuffer),
		done:          make(chan struct{}),
		history:       newEventLog(cfg.historySize),
	}
}

// Connect binds the engine to its protocol handler and starts the
// notification pump. Must be called exactly once, before any request is
// routed to the engine.
func (e *Engine) Connect(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("cannot connect engine to a nil handler")
	}

	e.mu.Lock()
	if e.handler != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine already connected")
	}
	e.handler = handler
	if e.generateID != nil {
		if host, ok := handler.(sessionHost); ok {
			e.host = host
		}
	}
	e.mu.Unlock()

	go e.pump()
	return nil
}

// SessionID implements server.ClientSession. Empty until the handshake
// assigns an identifier.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// NotificationChannel implements server.ClientSession.
func (e *Engine) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return e.notifications
}

// Initialize implements server.ClientSession. The handler calls it while
// processing the initiation message.
func (e *Engine) Initialize() {
	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
}

// Initialized implements server.ClientSession.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// HandleRequest processes one POST payload and writes the HTTP response.
// For a stateful engine that has no identifier yet and an initiation
// payload, this runs the session handshake.
func (e *Engine) HandleRequest(w http.ResponseWriter, r *http.Request, p *payload) {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	if e.generateID != nil && e.SessionID() == "" && p.isInitiation() {
		e.serveHandshake(r.Context(), w, p)
		return
	}
	e.serveMessages(r.Context(), w, p)
}

// serveMessages delivers each message in order and writes the collected
// responses: 202 with an empty body when nothing expects a reply, otherwise
// 200 with a single object or an array mirroring the request shape.
func (e *Engine) serveMessages(ctx context.Context, w http.ResponseWriter, p *payload) {
	handler, host := e.collaborators()
	if host != nil {
		ctx = host.WithContext(ctx, e)
	}

	responses := make([][]byte, 0, len(p.messages))
	for _, msg := range p.messages {
		// Client-to-server responses carry no method and are only
		// acknowledged; nothing downstream consumes them.
		if msg.method == "" {
			continue
		}
		resp := handler.HandleMessage(ctx, msg.raw)
		if resp == nil {
			continue
		}
		data, err := json.Marshal(resp)
		if err != nil {
			logging.Error("Session", err, "Failed to encode response for session %s", e.logID())
			writeRPCError(w, http.StatusInternalServerError, codeInternalError, "internal error", msg.id)
			return
		}
		responses = append(responses, data)
	}

	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !p.batch {
		_, _ = w.Write(responses[0])
		return
	}
	_, _ = w.Write([]byte("["))
	_, _ = w.Write(bytes.Join(responses, []byte(",")))
	_, _ = w.Write([]byte("]"))
}

// serveHandshake runs the session-initiation flow: assign an identifier,
// register with the handler, deliver the initiation message, and on success
// fire the onInitialized hook before the response is written and advertise
// the identifier in the session header. Any failure rolls the engine back
// to an unregistered, identifier-less state and closes it.
func (e *Engine) serveHandshake(ctx context.Context, w http.ResponseWriter, p *payload) {
	if p.batch || len(p.messages) != 1 {
		writeRPCError(w, http.StatusBadRequest, codeInvalidRequest, "initialization must be a single request", nil)
		_ = e.Close()
		return
	}
	initMsg := p.messages[0]

	id := e.generateID()
	e.mu.Lock()
	e.sessionID = id
	host := e.host
	handler := e.handler
	e.mu.Unlock()

	if host != nil {
		if err := host.RegisterSession(ctx, e); err != nil {
			logging.Error("Session", err, "Failed to register session %s with handler", e.logID())
			e.rollbackHandshake()
			writeRPCError(w, http.StatusInternalServerError, codeInternalError, "internal error", initMsg.id)
			_ = e.Close()
			return
		}
		e.mu.Lock()
		e.registered = true
		e.mu.Unlock()
		ctx = host.WithContext(ctx, e)
	}

	resp := handler.HandleMessage(ctx, initMsg.raw)
	data, err := json.Marshal(resp)
	if err != nil || resp == nil {
		logging.Error("Session", err, "Failed to encode handshake response")
		e.rollbackHandshake()
		writeRPCError(w, http.StatusInternalServerError, codeInternalError, "internal error", initMsg.id)
		_ = e.Close()
		return
	}

	if isErrorResponse(resp) {
		logging.Debug("Session", "Handshake rejected by handler for session %s", e.logID())
		e.rollbackHandshake()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
		_ = e.Close()
		return
	}

	if e.onInitialized != nil {
		if err := e.onInitialized(e); err != nil {
			logging.Error("Session", err, "Failed to register session %s", e.logID())
			e.rollbackHandshake()
			writeRPCError(w, http.StatusInternalServerError, codeInternalError, "internal error", initMsg.id)
			_ = e.Close()
			return
		}
	}

	logging.Info("Session", "Session %s initialized", pkgstrings.TruncateID(id, pkgstrings.DefaultIDPrefixLen))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderSessionID, id)
	_, _ = w.Write(data)
}

// rollbackHandshake returns the engine to its pre-handshake state so a
// failed initiation leaves no identifier and no handler registration
// behind.
func (e *Engine) rollbackHandshake() {
	e.mu.Lock()
	id := e.sessionID
	host := e.host
	registered := e.registered
	e.sessionID = ""
	e.initialized = false
	e.registered = false
	e.mu.Unlock()

	if registered && host != nil {
		host.UnregisterSession(context.Background(), id)
	}
}

// ServeStream attaches the request as the session's push-stream subscriber
// and blocks until the client disconnects, the engine closes, or a write
// fails. A client disconnect ends the session, not just the stream.
func (e *Engine) ServeStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, http.StatusInternalServerError, codeInternalError, "streaming unsupported", nil)
		return
	}

	events, detach, err := e.attachStream(r.Header.Get("Last-Event-ID"))
	if err != nil {
		var conflict *StreamConflictError
		if errors.As(err, &conflict) {
			writeRPCError(w, http.StatusConflict, codeBadRequest, "session already has an active stream", nil)
			return
		}
		writeRPCError(w, http.StatusInternalServerError, codeInternalError, "internal error", nil)
		return
	}
	defer detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logging.Debug("Session", "Push stream attached for session %s", e.logID())

	var keepAlive <-chan time.Time
	if e.keepAlive > 0 {
		ticker := time.NewTicker(e.keepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case ev := <-events:
			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.seq, ev.data); err != nil {
				_ = e.Close()
				return
			}
			flusher.Flush()
		case <-keepAlive:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				_ = e.Close()
				return
			}
			flusher.Flush()
		case <-e.done:
			return
		case <-r.Context().Done():
			logging.Debug("Session", "Client disconnected stream for session %s", e.logID())
			_ = e.Close()
			return
		}
	}
}

// attachStream installs a live feed for the session, replaying history
// after lastEventID first. At most one stream per session; a second
// attachment fails with StreamConflictError. Replay and installation happen
// under the same lock as the pump's append, so no event is missed or
// duplicated across the boundary.
func (e *Engine) attachStream(lastEventID string) (<-chan streamEvent, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil {
		return nil, nil, &StreamConflictError{SessionID: e.sessionID}
	}

	var replay []streamEvent
	if lastEventID != "" {
		if seq, err := strconv.ParseUint(lastEventID, 10, 64); err == nil {
			replay = e.history.after(seq)
		}
	}

	ch := make(chan streamEvent, streamBuffer+len(replay))
	for _, ev := range replay {
		ch <- ev
	}
	e.stream = ch

	detach := func() {
		e.mu.Lock()
		if e.stream == ch {
			e.stream = nil
		}
		e.mu.Unlock()
	}
	return ch, detach, nil
}

// pump drains server-initiated notifications from the handler. Every event
// is appended to the history whether or not a stream is attached, so replay
// covers disconnection windows; a slow live stream drops the forward (the
// event stays in history).
func (e *Engine) pump() {
	for {
		select {
		case note := <-e.notifications:
			data, err := json.Marshal(note)
			if err != nil {
				logging.Error("Session", err, "Failed to encode notification for session %s", e.logID())
				continue
			}
			e.mu.Lock()
			ev := streamEvent{seq: e.history.append(data), data: data}
			dropped := false
			if e.stream != nil {
				select {
				case e.stream <- ev:
				default:
					dropped = true
				}
			}
			e.mu.Unlock()
			if dropped {
				logging.Warn("Session", "Dropping notification %d for slow stream on session %s", ev.seq, e.logID())
			}
		case <-e.done:
			return
		}
	}
}

// Close terminates the engine: the pump and any attached stream stop, the
// handler registration is dropped, and the onClose hook fires exactly once.
// The hook must tolerate an empty identifier (pre-handshake closure).
// Idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)

		e.mu.Lock()
		id := e.sessionID
		host := e.host
		registered := e.registered
		e.registered = false
		e.mu.Unlock()

		if registered && host != nil {
			host.UnregisterSession(context.Background(), id)
		}
		if e.onClose != nil {
			e.onClose(e)
		}
		if id != "" {
			logging.Debug("Session", "Session %s closed", pkgstrings.TruncateID(id, pkgstrings.DefaultIDPrefixLen))
		}
	})
	return nil
}

func (e *Engine) collaborators() (Handler, sessionHost) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler, e.host
}

func (e *Engine) logID() string {
	id := e.SessionID()
	if id == "" {
		return "(unassigned)"
	}
	return pkgstrings.TruncateID(id, pkgstrings.DefaultIDPrefixLen)
}

func isErrorResponse(msg mcp.JSONRPCMessage) bool {
	switch msg.(type) {
	case mcp.JSONRPCError, *mcp.JSONRPCError:
		return true
	default:
		return false
	}
}

// StreamConflictError reports a second concurrent push-stream attachment on
// one session.
type StreamConflictError struct {
	SessionID string
}

func (e *StreamConflictError) Error() string {
	return "session already has an active push stream: " + pkgstrings.TruncateID(e.SessionID, pkgstrings.DefaultIDPrefixLen)
}
