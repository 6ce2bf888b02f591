// Package session tracks the single live connection of each terminal,
// keyed by serial number. The registry is the one source of truth for
// "is this device reachable right now".
package session

import (
	"errors"
	"sync"
	"time"
)

// ErrNotConnected is returned when sending to a serial with no live session.
var ErrNotConnected = errors.New("device not connected")

// Conn is the transport handle a session wraps. Implementations must be
// safe for concurrent Send calls.
type Conn interface {
	// ID returns the connection's unique identifier.
	ID() string

	// Send writes one protocol frame to the peer.
	Send(data []byte) error

	// Close tears the connection down.
	Close() error
}

// Session binds a serial number to its current connection.
type Session struct {
	Serial       string
	Conn         Conn
	RegisteredAt time.Time
}

// Registry maps serial numbers to live sessions. Registering a serial that
// already has a session replaces it outright: a terminal that reconnects
// supersedes its old link, and late frames from the superseded connection
// are ignored by callers checking Current.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register installs conn as the serial's current session, unconditionally
// replacing any previous one. The prior connection, if any, is closed
// best-effort; callers holding the old handle must treat it as dead.
func (r *Registry) Register(serial string, conn Conn) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[serial]; ok && prev.Conn != nil && prev.Conn.ID() != conn.ID() {
		_ = prev.Conn.Close()
	}

	s := &Session{
		Serial:       serial,
		Conn:         conn,
		RegisteredAt: time.Now(),
	}
	r.sessions[serial] = s
	return s
}

// Remove deletes the serial's session only if conn is still its current
// connection. A stale disconnect from a superseded connection is a no-op,
// so it can never evict a newer session.
func (r *Registry) Remove(serial string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[serial]
	if !ok || s.Conn == nil || conn == nil || s.Conn.ID() != conn.ID() {
		return false
	}
	delete(r.sessions, serial)
	return true
}

// Get returns the serial's current session, or nil.
func (r *Registry) Get(serial string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[serial]
}

// IsOpen reports whether the serial has a live session.
func (r *Registry) IsOpen(serial string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[serial]
	return ok
}

// Current reports whether conn is still the serial's registered connection.
// Inbound frames from a connection that fails this check belong to a
// superseded session and must be dropped.
func (r *Registry) Current(serial string, conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[serial]
	return ok && s.Conn != nil && conn != nil && s.Conn.ID() == conn.ID()
}

// Serials returns a snapshot of all serials with a live session. Scheduler
// ticks iterate this instead of holding the registry lock.
func (r *Registry) Serials() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sessions))
	for sn := range r.sessions {
		out = append(out, sn)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Send writes one frame to the serial's current connection.
func (r *Registry) Send(serial string, data []byte) error {
	s := r.Get(serial)
	if s == nil || s.Conn == nil {
		return ErrNotConnected
	}
	return s.Conn.Send(data)
}
