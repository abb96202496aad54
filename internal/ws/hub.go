package ws

import (
	"encoding/json"
	"sync"

	"canvasrelay/internal/services/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub keeps connection sets per room plus a global index of live
// connections. It implements session.Emitter, i.e. the transport capability
// the dispatcher fans out through.
type Hub struct {
	rooms sync.Map // roomID -> *room
	conns sync.Map // connID -> *clientConn

	// mu serializes room create/delete transitions: JoinGroup's
	// LoadOrStore+add and Leave's empty-re-check+delete must not interleave.
	mu sync.Mutex
}

var _ session.Emitter = (*Hub)(nil)

func NewHub() *Hub { return &Hub{} }

// Register indexes a freshly accepted connection so EmitTo can reach it
// before (and without) any room membership.
func (h *Hub) Register(connID string, c *clientConn) {
	h.conns.Store(connID, c)
}

func (h *Hub) Unregister(connID string) {
	h.conns.Delete(connID)
}

// JoinGroup adds the connection to the room's fan-out set. The create+add
// runs under h.mu so a concurrent Leave cannot re-check emptiness between
// the two steps and drop a room that just gained a member.
func (h *Hub) JoinGroup(roomID, connID string) {
	v, ok := h.conns.Load(connID)
	if !ok {
		return
	}
	h.mu.Lock()
	r, _ := h.rooms.LoadOrStore(roomID, newRoom())
	r.(*room).add(connID, v.(*clientConn))
	h.mu.Unlock()
}

// Leave removes the connection from the room set; the last leaver drops the
// set itself.
func (h *Hub) Leave(roomID, connID string) {
	v, ok := h.rooms.Load(roomID)
	if !ok {
		return
	}
	if v.(*room).remove(connID) == 0 {
		h.mu.Lock()
		if rv, ok := h.rooms.Load(roomID); ok && rv.(*room).empty() {
			h.rooms.Delete(roomID)
		}
		h.mu.Unlock()
	}
}

// EmitTo delivers one event to one connection.
func (h *Hub) EmitTo(connID, event string, payload any) {
	v, ok := h.conns.Load(connID)
	if !ok {
		return
	}
	msg, err := frame(event, payload)
	if err != nil {
		zap.L().Warn("ws.frame", zap.String("event", event), zap.Error(err))
		return
	}
	if err := v.(*clientConn).write(websocket.TextMessage, msg); err != nil {
		zap.L().Debug("ws.emit_failed", zap.String("conn", connID), zap.Error(err))
	}
}

// Broadcast delivers to everyone in the room, sender included.
func (h *Hub) Broadcast(roomID, event string, payload any) {
	h.fanout(roomID, "", event, payload)
}

// BroadcastExcept delivers to everyone in the room but the given connection.
func (h *Hub) BroadcastExcept(roomID, exceptConnID, event string, payload any) {
	h.fanout(roomID, exceptConnID, event, payload)
}

func (h *Hub) fanout(roomID, exceptConnID, event string, payload any) {
	v, ok := h.rooms.Load(roomID)
	if !ok {
		return
	}
	msg, err := frame(event, payload)
	if err != nil {
		zap.L().Warn("ws.frame", zap.String("event", event), zap.Error(err))
		return
	}
	v.(*room).broadcast(exceptConnID, msg)
}

// frame encodes an outbound envelope once so a broadcast marshals a single
// time regardless of fan-out size.
func frame(event string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Body: body})
}
