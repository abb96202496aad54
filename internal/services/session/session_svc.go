package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"canvasrelay/internal/canvasstate"
	"canvasrelay/internal/registry"

	"go.uber.org/zap"
)

// Emitter is the transport capability the dispatcher relies on. The session
// layer is agnostic to how the transport implements groups.
type Emitter interface {
	// EmitTo delivers to exactly one connection.
	EmitTo(connID, event string, payload any)
	// BroadcastExcept delivers to every connection in the room except one.
	BroadcastExcept(roomID, exceptConnID, event string, payload any)
	// Broadcast delivers to every connection in the room, sender included.
	Broadcast(roomID, event string, payload any)
	// JoinGroup adds a connection to the transport-level room group.
	JoinGroup(roomID, connID string)
}

// Conn is the per-connection dispatch state. It moves Unjoined -> Joined ->
// Closed; a reconnect is a brand-new Conn.
type Conn struct {
	ConnID   string
	RoomID   string
	UserID   string
	Username string
	joined   bool
}

func NewConn(connID string) *Conn { return &Conn{ConnID: connID} }

func (c *Conn) Joined() bool { return c.joined }

type ISessionService interface {
	Join(c *Conn, roomID, userID, color string)
	CursorMove(c *Conn, roomID, userID string, pos json.RawMessage)
	Drawing(c *Conn, payload map[string]any)
	PublishState(c *Conn, roomID string, canvasData string)
	RequestState(c *Conn, roomID string)
	ClearCanvas(c *Conn, roomID string)
	Undo(c *Conn, roomID string, canvasData string)
	Redo(c *Conn, roomID string, canvasData string)
	Disconnect(c *Conn)
}

type sessionService struct {
	reg     *registry.Registry
	store   *canvasstate.Store
	emitter Emitter

	// Sequential User<N> counter per room. Deliberately separate from the
	// registry's membership count: it never decreases and is not reset on
	// churn, so a user who leaves and rejoins gets a fresh number.
	countersMu sync.Mutex
	counters   map[string]int
}

func NewSessionService(reg *registry.Registry, store *canvasstate.Store, emitter Emitter) ISessionService {
	return &sessionService{
		reg:      reg,
		store:    store,
		emitter:  emitter,
		counters: make(map[string]int),
	}
}

func (s *sessionService) nextUsername(roomID string) string {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	n := s.counters[roomID]
	if n == 0 {
		n = 1
	}
	s.counters[roomID] = n + 1
	return fmt.Sprintf("User%d", n)
}

type userEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// Join assigns the next display name for the room, registers the client, and
// syncs the newcomer: member list (excluding self), assigned name, latest
// canvas snapshot if one exists. The rest of the room gets a presence
// announcement. The emissions are not atomic; a client that missed one
// recovers via request-canvas-state.
func (s *sessionService) Join(c *Conn, roomID, userID, color string) {
	c.RoomID = roomID
	c.UserID = userID
	c.Username = s.nextUsername(roomID)
	c.joined = true

	s.emitter.JoinGroup(roomID, c.ConnID)
	s.reg.AddClient(roomID, userID, c.ConnID, c.Username, color)

	others := make([]userEntry, 0)
	for _, cl := range s.reg.Clients(roomID) {
		if cl.UserID == userID {
			continue
		}
		others = append(others, userEntry{UserID: cl.UserID, Username: cl.Username, Color: cl.Color})
	}

	s.emitter.EmitTo(c.ConnID, "username-assigned", map[string]any{"username": c.Username})
	s.emitter.EmitTo(c.ConnID, "users-update", map[string]any{"users": others})

	if st, ok := s.store.Get(roomID); ok {
		s.emitter.EmitTo(c.ConnID, "canvas-state", map[string]any{
			"canvasData": string(st.Data),
			"version":    st.Version,
		})
	}

	s.emitter.BroadcastExcept(roomID, c.ConnID, "user-joined", map[string]any{
		"userId":   userID,
		"username": c.Username,
		"color":    color,
		"socketId": c.ConnID,
	})

	zap.L().Info("session.joined",
		zap.String("room", roomID),
		zap.String("user", userID),
		zap.String("username", c.Username),
	)
}

// CursorMove relays a cursor hint to the rest of the room. The registry
// update is best-effort; a miss is ignored.
func (s *sessionService) CursorMove(c *Conn, roomID, userID string, pos json.RawMessage) {
	if !c.joined {
		return
	}
	s.reg.UpdateCursor(roomID, userID, pos)
	s.emitter.BroadcastExcept(roomID, c.ConnID, "cursor-move", map[string]any{
		"userId": userID,
		"pos":    pos,
	})
}

// Drawing relays an opaque drawing operation, augmented with the sender's
// identity, to everyone else in the room. The payload is never interpreted.
func (s *sessionService) Drawing(c *Conn, payload map[string]any) {
	if !c.joined {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["userId"] = c.UserID
	payload["socketId"] = c.ConnID
	s.emitter.BroadcastExcept(c.RoomID, c.ConnID, "drawing", payload)
}

// PublishState persists the snapshot (version bump), mirrors it onto the
// room record, and relays it without the version number — recipients
// overwrite optimistically and can recover the version on their next resync.
func (s *sessionService) PublishState(c *Conn, roomID string, canvasData string) {
	data := []byte(canvasData)
	s.store.Save(roomID, data)
	s.reg.SetCanvasState(roomID, data)
	s.emitter.BroadcastExcept(roomID, c.ConnID, "canvas-state", map[string]any{
		"canvasData": canvasData,
		"userId":     c.UserID,
	})
}

// RequestState resyncs the requesting connection only. Silent no-op when no
// state is stored.
func (s *sessionService) RequestState(c *Conn, roomID string) {
	st, ok := s.store.Get(roomID)
	if !ok {
		return
	}
	s.emitter.EmitTo(c.ConnID, "canvas-state", map[string]any{
		"canvasData": string(st.Data),
		"version":    st.Version,
	})
}

// ClearCanvas notifies the whole room, sender included, then drops the
// stored state. The next save restarts versioning at 1.
func (s *sessionService) ClearCanvas(c *Conn, roomID string) {
	s.emitter.Broadcast(roomID, "clear-canvas", map[string]any{"userId": c.UserID})
	s.store.Clear(roomID)
}

// Undo and Redo are display hints broadcast to the whole room, sender
// included. They do not touch the store; durability requires a follow-up
// canvas-state publish.
func (s *sessionService) Undo(c *Conn, roomID string, canvasData string) {
	s.broadcastHistory(c, roomID, "undo", canvasData)
}

func (s *sessionService) Redo(c *Conn, roomID string, canvasData string) {
	s.broadcastHistory(c, roomID, "redo", canvasData)
}

func (s *sessionService) broadcastHistory(c *Conn, roomID, event, canvasData string) {
	s.emitter.Broadcast(roomID, event, map[string]any{
		"userId":     c.UserID,
		"username":   c.Username,
		"canvasData": canvasData,
	})
	zap.L().Debug("session.history",
		zap.String("event", event),
		zap.String("room", roomID),
		zap.String("username", c.Username),
	)
}

// Disconnect removes the membership record and announces the departure. A
// connection that never joined tears down silently.
func (s *sessionService) Disconnect(c *Conn) {
	if !c.joined {
		return
	}
	c.joined = false
	removed, ok := s.reg.RemoveClient(c.RoomID, c.ConnID)
	if !ok {
		return
	}
	s.emitter.BroadcastExcept(c.RoomID, c.ConnID, "user-left", map[string]any{
		"userId":   removed.UserID,
		"username": removed.Username,
		"socketId": c.ConnID,
	})
}
