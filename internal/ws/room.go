package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

type room struct {
	mu    sync.RWMutex
	conns map[string]*clientConn // connID -> conn
}

func newRoom() *room { return &room{conns: map[string]*clientConn{}} }

func (r *room) add(connID string, c *clientConn) {
	r.mu.Lock()
	r.conns[connID] = c
	r.mu.Unlock()
}

// remove drops the connection and reports how many remain.
func (r *room) remove(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
	return len(r.conns)
}

func (r *room) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns) == 0
}

// broadcast sends msg to every member, skipping exceptID when non-empty.
func (r *room) broadcast(exceptID string, msg []byte) {
	// Take a quick snapshot of the current connections
	r.mu.RLock()
	type member struct {
		id   string
		conn *clientConn
	}
	conns := make([]member, 0, len(r.conns))
	for id, c := range r.conns {
		if id == exceptID {
			continue
		}
		conns = append(conns, member{id, c})
	}
	r.mu.RUnlock()

	// Do the I/O outside the lock
	for _, m := range conns {
		if err := m.conn.write(websocket.TextMessage, msg); err != nil {
			r.remove(m.id)
			m.conn.rawConn.Close()
		}
	}
}
