package transport

import (
	"fmt"
	"net/http"
	"time"

	"dbmcp/pkg/logging"

	"github.com/google/uuid"
)

// strategy routes requests on the protocol endpoint. One implementation per
// transport mode, selected at construction, so the routing logic never
// branches on a mode flag.
type strategy interface {
	route(w http.ResponseWriter, r *http.Request)
	shutdown()
	sessionCount() int
}

// statefulRouter classifies each request by HTTP verb and the session
// header, and dispatches to session creation, message delivery, push-stream
// attachment, or termination.
type statefulRouter struct {
	handler   Handler
	registry  *Registry
	newEngine func() *Engine
}

func newStatefulRouter(handler Handler, registry *Registry, historySize int, keepAlive time.Duration) *statefulRouter {
	sr := &statefulRouter{
		handler:  handler,
		registry: registry,
	}
	sr.newEngine = func() *Engine {
		return newEngine(engineConfig{
			generateID:    uuid.NewString,
			historySize:   historySize,
			keepAlive:     keepAlive,
			onInitialized: func(e *Engine) error { return registry.Create(e.SessionID(), e) },
			onClose: func(e *Engine) {
				// Pre-handshake closures have no identifier and no entry.
				if id := e.SessionID(); id != "" {
					registry.Remove(id)
				}
			},
		})
	}
	return sr
}

func (s *statefulRouter) route(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID != "" {
		if err := ValidateSessionID(sessionID); err != nil {
			writeRPCError(w, http.StatusBadRequest, codeBadRequest, err.Error(), nil)
			return
		}
	}

	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r, sessionID)
	case http.MethodGet:
		s.handleGet(w, r, sessionID)
	case http.MethodDelete:
		s.handleDelete(w, r, sessionID)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		writeRPCError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed", nil)
	}
}

// handlePost delivers a message payload: to the named session when the
// header is present, through a fresh engine when the body initiates a new
// session, and rejected otherwise.
func (s *statefulRouter) handlePost(w http.ResponseWriter, r *http.Request, sessionID string) {
	p, perr := readPayload(w, r)
	if perr != nil {
		writeProtocolError(w, perr)
		return
	}

	if sessionID != "" {
		session, ok := s.registry.Get(sessionID)
		if !ok {
			s.rejectUnknownSession(w, r, sessionID)
			return
		}
		session.Engine.HandleRequest(w, r, p)
		return
	}

	if !p.isInitiation() {
		writeRPCError(w, http.StatusBadRequest, codeBadRequest, "missing session ID", nil)
		return
	}

	engine := s.newEngine()
	if err := engine.Connect(s.handler); err != nil {
		logging.Error("Transport", err, "Failed to connect new engine")
		writeRPCError(w, http.StatusInternalServerError, codeInternalError, "internal error", nil)
		return
	}
	engine.HandleRequest(w, r, p)
}

// handleGet attaches the requester as the session's push-stream subscriber.
// The call does not return until the stream ends.
func (s *statefulRouter) handleGet(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" {
		writeRPCError(w, http.StatusBadRequest, codeBadRequest, "missing session ID", nil)
		return
	}
	session, ok := s.registry.Get(sessionID)
	if !ok {
		s.rejectUnknownSession(w, r, sessionID)
		return
	}
	session.Engine.ServeStream(w, r)
}

func (s *statefulRouter) handleDelete(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" {
		writeRPCError(w, http.StatusBadRequest, codeBadRequest, "missing session ID", nil)
		return
	}
	session, ok := s.registry.Get(sessionID)
	if !ok {
		s.rejectUnknownSession(w, r, sessionID)
		return
	}

	// Close removes the registry entry through the engine's close hook.
	if err := session.Engine.Close(); err != nil {
		logging.Warn("Transport", "Error closing session on DELETE: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *statefulRouter) rejectUnknownSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	err := &SessionNotFoundError{SessionID: sessionID}
	logging.Debug("Transport", "%s %s rejected: %v", r.Method, r.URL.Path, err)
	writeRPCError(w, http.StatusBadRequest, codeSessionNotFound, "session not found", nil)
}

func (s *statefulRouter) shutdown() {
	s.registry.CloseAll()
}

func (s *statefulRouter) sessionCount() int {
	return s.registry.Count()
}

// recoverable wraps the protocol endpoint with panic recovery. A panic
// while the response is unwritten yields an internal-error envelope; once
// headers are committed (mid-stream) the panic is only logged.
func recoverable(next func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			if rv := recover(); rv != nil {
				logging.Error("Transport", fmt.Errorf("%v", rv), "Recovered panic serving %s %s", r.Method, r.URL.Path)
				if !rec.committed {
					writeRPCError(rec, http.StatusInternalServerError, codeInternalError, "internal error", nil)
				}
			}
		}()
		next(rec, r)
	}
}

// statusRecorder tracks whether a response has been committed so the
// recovery path never writes a second response.
type statusRecorder struct {
	http.ResponseWriter
	committed bool
}

func (s *statusRecorder) WriteHeader(status int) {
	s.committed = true
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.committed = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	s.committed = true
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
