package chat

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Connections tracks the live socket of each session. A newer socket for the
// same session replaces and closes the older one.
type Connections struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnections creates an empty registry.
func NewConnections() *Connections {
	return &Connections{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Get returns the live connection for a user and session.
func (c *Connections) Get(userID, sessionID string) *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if sessions, ok := c.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register makes conn the live socket for the session.
func (c *Connections) Register(userID, sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.active[userID]; !exists {
		c.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := c.active[userID][sessionID]; exists && existing != conn {
		// Close waits for the peer's handshake; do not hold the lock for it.
		go func() { _ = existing.Close(websocket.StatusPolicyViolation, "session replaced") }()
	}

	c.active[userID][sessionID] = conn
	slog.Info("Chat socket registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the live socket.
func (c *Connections) Unregister(userID, sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sessions, ok := c.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(c.active, userID)
			}
			slog.Info("Chat socket unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseSession closes the live socket of one session, if any.
func (c *Connections) CloseSession(userID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions, ok := c.active[userID]
	if !ok {
		return
	}
	if conn, ok := sessions[sessionID]; ok {
		go func() { _ = conn.Close(websocket.StatusNormalClosure, "session expired") }()
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(c.active, userID)
		}
	}
}

// Len returns the number of live sockets.
func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, sessions := range c.active {
		n += len(sessions)
	}
	return n
}
