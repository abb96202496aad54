package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// clientConn serializes writes to one websocket: gorilla conns allow a
// single concurrent writer, and the reader loop races the hub fan-out for
// the same connection.
type clientConn struct {
	rawConn *websocket.Conn
	mu      sync.Mutex
}

func (c *clientConn) write(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(mt, data)
}
