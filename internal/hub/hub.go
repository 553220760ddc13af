// Package hub provides the registry of connected gateway sessions.
package hub

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loserbcc/openclaw-gateway/internal/protocol"
)

// transcriptCap bounds the rolling conversation transcript per session
// (20 user/assistant pairs).
const transcriptCap = 40

// Conn is the transport side of a session. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session represents one client connection and its conversation state. The
// connection handler owns the transport; the hub only holds a reference for
// sending frames.
type Session struct {
	ID   string
	conn Conn

	writeMu sync.Mutex // serializes frame writes to the transport

	mu            sync.Mutex
	authenticated bool
	transcript    []protocol.Turn
}

// NewSession creates a session for a freshly accepted connection.
func NewSession(conn Conn) *Session {
	return &Session{
		ID:   uuid.New().String()[:8],
		conn: conn,
	}
}

// Send writes one text frame to the session's transport.
func (s *Session) Send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Authenticate marks the session as authenticated. The flag never reverts.
func (s *Session) Authenticate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
}

// Authenticated reports whether the connect handshake succeeded.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// AppendTurn appends a turn to the transcript, trimming it to the most
// recent entries.
func (s *Session) AppendTurn(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, protocol.Turn{Role: role, Content: content})
	if len(s.transcript) > transcriptCap {
		trimmed := make([]protocol.Turn, transcriptCap)
		copy(trimmed, s.transcript[len(s.transcript)-transcriptCap:])
		s.transcript = trimmed
	}
}

// Transcript returns a copy of the session's conversation transcript.
func (s *Session) Transcript() []protocol.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]protocol.Turn, len(s.transcript))
	copy(turns, s.transcript)
	return turns
}

// Close closes the underlying transport.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Hub manages all registered sessions. It is safe for concurrent use by the
// connection handlers and the heartbeat ticker.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*Session)}
}

// Register adds a session to the hub.
func (h *Hub) Register(sess *Session) {
	h.mu.Lock()
	h.sessions[sess.ID] = sess
	h.mu.Unlock()
	log.Printf("[%s] Session registered", sess.ID)
}

// Unregister removes a session from the hub. Removing an unknown id is a
// no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		log.Printf("[%s] Session unregistered", id)
	}
}

// ForEach calls fn for every registered session. fn runs outside the hub
// lock, so it may call Unregister.
func (h *Hub) ForEach(fn func(*Session)) {
	h.mu.RLock()
	snapshot := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		snapshot = append(snapshot, sess)
	}
	h.mu.RUnlock()

	for _, sess := range snapshot {
		fn(sess)
	}
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
