package transport

import (
	"net/http"

	"dbmcp/pkg/logging"
)

// statelessRouter binds every POST to one shared engine for the process
// lifetime: no session identifiers, no push streams, no per-client state.
// Suited to deployments that cannot hold state between requests.
type statelessRouter struct {
	engine *Engine
}

func newStatelessRouter(handler Handler) (*statelessRouter, error) {
	// No identifier generator: the engine skips handshake semantics and
	// session registration entirely.
	engine := newEngine(engineConfig{})
	if err := engine.Connect(handler); err != nil {
		return nil, err
	}
	return &statelessRouter{engine: engine}, nil
}

func (s *statelessRouter) route(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p, perr := readPayload(w, r)
		if perr != nil {
			writeProtocolError(w, perr)
			return
		}
		s.engine.HandleRequest(w, r, p)
	case http.MethodGet:
		w.Header().Set("Allow", "POST, DELETE")
		writeRPCError(w, http.StatusMethodNotAllowed, codeBadRequest,
			"push streams are not available in stateless mode", nil)
	case http.MethodDelete:
		// No session to terminate.
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		writeRPCError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed", nil)
	}
}

func (s *statelessRouter) shutdown() {
	if err := s.engine.Close(); err != nil {
		logging.Warn("Transport", "Error closing shared engine: %v", err)
	}
}

func (s *statelessRouter) sessionCount() int {
	return 0
}
