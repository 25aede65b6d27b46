package transport

import (
	"fmt"
	"sync"
	"time"

	"dbmcp/pkg/logging"
	pkgstrings "dbmcp/pkg/strings"

	"golang.org/x/sync/errgroup"
)

// Session ID validation constants.
const (
	// MaxSessionIDLength is the maximum accepted length for session IDs.
	// This prevents memory exhaustion through extremely long identifiers.
	MaxSessionIDLength = 256

	// DefaultMaxSessions is the default cap on concurrent sessions,
	// bounding resource use under session-creation floods.
	DefaultMaxSessions = 10000
)

// Session is one registry entry: a live, fully initialized engine and its
// identifier.
type Session struct {
	ID        string
	CreatedAt time.Time
	Engine    *Engine
}

// Registry maps session identifiers to live engines.
//
// The registry is the only structure shared across concurrent requests in
// stateful mode; all mutation goes through its methods. Every entry holds a
// connected, handshake-complete engine: insertion happens from the engine's
// initialization hook, removal from its close hook, so no stale entry
// survives a close signal.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
}

// NewRegistry creates a registry capped at maxSessions concurrent entries.
// A non-positive cap selects DefaultMaxSessions.
func NewRegistry(maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// ValidateSessionID checks if a session ID is acceptable.
//
// A valid session ID must be:
//   - Non-empty
//   - Not longer than MaxSessionIDLength bytes
//
// Returns an error describing the validation failure, or nil if valid.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return &InvalidSessionIDError{Reason: "session ID cannot be empty"}
	}
	if len(sessionID) > MaxSessionIDLength {
		return &InvalidSessionIDError{Reason: fmt.Sprintf("session ID exceeds maximum length of %d", MaxSessionIDLength)}
	}
	return nil
}

// Create inserts a new session for the given engine.
//
// Inserting an identifier that already exists is rejected with a
// DuplicateSessionError rather than overwriting the live entry; with
// generated identifiers this indicates a bug, not a client mistake. The
// session cap is enforced here.
//
// Returns an error if validation fails, the identifier exists, or the
// registry is full.
func (r *Registry) Create(sessionID string, engine *Engine) error {
	if err := ValidateSessionID(sessionID); err != nil {
		logging.Warn("Session", "Rejected invalid session ID: %v", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return &DuplicateSessionError{SessionID: sessionID}
	}
	if len(r.sessions) >= r.maxSessions {
		logging.Warn("Session", "Session limit reached (%d), rejecting session %s",
			r.maxSessions, pkgstrings.TruncateID(sessionID, pkgstrings.DefaultIDPrefixLen))
		return &SessionLimitError{Limit: r.maxSessions, Current: len(r.sessions)}
	}

	r.sessions[sessionID] = &Session{
		ID:        sessionID,
		CreatedAt: time.Now(),
		Engine:    engine,
	}
	logging.Debug("Session", "Registered session %s (total: %d)",
		pkgstrings.TruncateID(sessionID, pkgstrings.DefaultIDPrefixLen), len(r.sessions))
	return nil
}

// Get returns the session for an identifier.
//
// Returns the session and true if found, nil and false otherwise. Invalid
// identifiers return nil and false.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[sessionID]
	return session, exists
}

// Remove deletes a session entry. Removing an absent identifier is a
// no-op; the removal is visible to lookups as soon as Remove returns.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; !exists {
		return
	}
	delete(r.sessions, sessionID)
	logging.Debug("Session", "Removed session %s (total: %d)",
		pkgstrings.TruncateID(sessionID, pkgstrings.DefaultIDPrefixLen), len(r.sessions))
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every engine, used during process shutdown. Closes run
// concurrently against a snapshot of the map; individual failures are
// logged and do not prevent closing the remainder. Each engine's close
// hook performs its own registry removal.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		snapshot = append(snapshot, session)
	}
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}
	logging.Info("Session", "Closing %d active sessions", len(snapshot))

	var eg errgroup.Group
	for _, session := range snapshot {
		eg.Go(func() error {
			if err := session.Engine.Close(); err != nil {
				logging.Warn("Session", "Error closing session %s: %v",
					pkgstrings.TruncateID(session.ID, pkgstrings.DefaultIDPrefixLen), err)
			}
			return nil
		})
	}
	_ = eg.Wait()
}

// SessionNotFoundError is returned when a session is not found.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return "session not found: " + pkgstrings.TruncateID(e.SessionID, pkgstrings.DefaultIDPrefixLen)
}

// DuplicateSessionError is returned when an insert collides with a live
// session.
type DuplicateSessionError struct {
	SessionID string
}

func (e *DuplicateSessionError) Error() string {
	return "session already registered: " + pkgstrings.TruncateID(e.SessionID, pkgstrings.DefaultIDPrefixLen)
}

// InvalidSessionIDError is returned when a session ID fails validation.
type InvalidSessionIDError struct {
	Reason string
}

func (e *InvalidSessionIDError) Error() string {
	return "invalid session ID: " + e.Reason
}

// SessionLimitError is returned when the maximum session count is reached.
type SessionLimitError struct {
	Limit   int
	Current int
}

func (e *SessionLimitError) Error() string {
	return fmt.Sprintf("session limit exceeded: %d/%d sessions", e.Current, e.Limit)
}
