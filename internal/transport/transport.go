package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"dbmcp/internal/auth"
	"dbmcp/internal/config"
	"dbmcp/pkg/logging"
)

// HealthPath is always served unauthenticated, in both modes.
const HealthPath = "/health"

// Options configures a transport server.
type Options struct {
	Host     string
	Port     int
	Endpoint string
	Mode     config.TransportMode

	// KeepAlive is the push-stream keep-alive interval; zero disables
	// keep-alive comments.
	KeepAlive time.Duration
	// HistorySize bounds each session's replay buffer.
	HistorySize int
	// MaxSessions caps the registry; zero selects DefaultMaxSessions.
	MaxSessions int

	// Handler receives every decoded protocol message.
	Handler Handler

	// Auth enables bearer-token protection when non-nil.
	Auth *AuthOptions
}

// AuthOptions configures the access gate and token validation.
type AuthOptions struct {
	Issuer          string
	JWKSURI         string
	Audience        string
	ScopesSupported []string
	PublicPaths     []string
	ClockSkew       time.Duration
}

// Server is the transport facade: it owns the HTTP listener, the routing
// strategy for the configured mode, and the optional access gate.
type Server struct {
	addr        string
	endpoint    string
	mode        config.TransportMode
	strategy    strategy
	root        http.Handler
	authEnabled bool

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New wires the transport: routing strategy for the configured mode, the
// protocol endpoint with panic recovery, the health route, and, when auth
// is configured, the token validator, access gate, and resource metadata
// route. Authorization-server discovery runs here, so an unusable auth
// configuration fails construction rather than rejecting every request
// later.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("transport requires a protocol handler")
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = "/mcp"
	}
	mode := opts.Mode
	if mode == "" {
		mode = config.ModeStateful
	}

	s := &Server{
		addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		endpoint: endpoint,
		mode:     mode,
	}

	switch mode {
	case config.ModeStateful:
		registry := NewRegistry(opts.MaxSessions)
		s.strategy = newStatefulRouter(opts.Handler, registry, opts.HistorySize, opts.KeepAlive)
	case config.ModeStateless:
		router, err := newStatelessRouter(opts.Handler)
		if err != nil {
			return nil, err
		}
		s.strategy = router
	default:
		return nil, fmt.Errorf("unknown transport mode %q", mode)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(endpoint, recoverable(s.strategy.route))
	mux.HandleFunc(HealthPath, s.handleHealth)

	var root http.Handler = mux
	if opts.Auth != nil {
		validator, err := auth.NewValidator(ctx, auth.ValidatorConfig{
			Issuer:    opts.Auth.Issuer,
			JWKSURI:   opts.Auth.JWKSURI,
			Audience:  opts.Auth.Audience,
			ClockSkew: opts.Auth.ClockSkew,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing token validation: %w", err)
		}

		baseURL := "http://" + s.addr
		resource := opts.Auth.Audience
		if resource == "" {
			resource = baseURL + endpoint
		}
		mux.Handle(auth.WellKnownProtectedResource,
			auth.NewMetadataHandler(resource, opts.Auth.Issuer, opts.Auth.ScopesSupported))

		public := []string{HealthPath, auth.WellKnownProtectedResource}
		public = append(public, opts.Auth.PublicPaths...)
		root = auth.NewGate(validator, auth.MetadataURL(baseURL), public).Wrap(mux)
		s.authEnabled = true
		logging.Info("Transport", "Bearer authentication enabled (issuer: %s)", opts.Auth.Issuer)
	}
	s.root = root

	return s, nil
}

// Start binds the listener and begins serving. Binding happens
// synchronously so port conflicts surface to the caller; a second Start
// without an intervening Stop fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("transport already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler: s.root,
		// Streams are long-lived; only header reads get a deadline.
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logging.Info("Transport", "Serving MCP endpoint %s on %s (%s mode)", s.endpoint, ln.Addr(), s.mode)

	srv := s.httpServer
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error("Transport", err, "HTTP server error")
		}
	}()
	return nil
}

// Stop closes all live sessions before shutting down the listener, so
// in-flight streams get a clean termination signal rather than an abrupt
// socket drop. Idempotent; stopping a never-started server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	logging.Info("Transport", "Stopping transport")
	s.strategy.shutdown()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down listener: %w", err)
	}
	return nil
}

// Addr returns the bound listen address, empty before Start. With port 0
// this is where the kernel-assigned port shows up.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type healthStatus struct {
	Status         string `json:"status"`
	Mode           string `json:"mode"`
	AuthEnabled    bool   `json:"authEnabled"`
	ActiveSessions int    `json:"activeSessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	status := healthStatus{
		Status:         "ok",
		Mode:           string(s.mode),
		AuthEnabled:    s.authEnabled,
		ActiveSessions: s.strategy.sessionCount(),
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		logging.Debug("Transport", "Failed to write health response: %v", err)
	}
}
