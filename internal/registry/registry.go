package registry

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client is one membership record inside a room. The connection id is unique
// per live connection; the user id survives reconnects and is NOT enforced
// unique, so a user reconnecting before their stale entry is pruned can
// transiently appear twice.
type Client struct {
	UserID    string          `json:"userId"`
	ConnID    string          `json:"socketId"`
	Username  string          `json:"username"`
	Color     string          `json:"color"`
	CursorPos json.RawMessage `json:"cursorPos,omitempty"`
}

// RoomStats is the read-only snapshot exposed to the query surface.
type RoomStats struct {
	RoomID         string    `json:"roomId"`
	ClientCount    int       `json:"clientCount"`
	HasCanvasState bool      `json:"hasCanvasState"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivity   time.Time `json:"lastActivity"`
}

type room struct {
	clients      []*Client
	canvasState  []byte
	createdAt    time.Time
	lastActivity time.Time
}

// Registry owns room membership and lifecycle. All state lives behind one
// mutex; no method blocks on I/O while holding it.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*room
	emptyDelay time.Duration
}

func New(emptyDelay time.Duration) *Registry {
	return &Registry{
		rooms:      make(map[string]*room),
		emptyDelay: emptyDelay,
	}
}

// EnsureRoom returns the room's current stats, creating the room if it does
// not exist yet. Rooms are created lazily on first reference.
func (r *Registry) EnsureRoom(roomID string) RoomStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return statsOf(roomID, r.ensureLocked(roomID))
}

func (r *Registry) ensureLocked(roomID string) *room {
	rm, ok := r.rooms[roomID]
	if !ok {
		now := time.Now()
		rm = &room{createdAt: now, lastActivity: now}
		r.rooms[roomID] = rm
		zap.L().Info("room.created", zap.String("room", roomID))
	}
	return rm
}

// AddClient inserts a membership record, creating the room if needed, and
// returns the member count after the insert. A reconnecting user is not
// deduplicated by userID here; pruning happens via RemoveClient only.
func (r *Registry) AddClient(roomID, userID, connID, username, color string) int {
	r.mu.Lock()
	rm := r.ensureLocked(roomID)
	rm.clients = append(rm.clients, &Client{
		UserID:   userID,
		ConnID:   connID,
		Username: username,
		Color:    color,
	})
	rm.lastActivity = time.Now()
	n := len(rm.clients)
	r.mu.Unlock()

	zap.L().Info("room.client_joined",
		zap.String("room", roomID),
		zap.String("user", userID),
		zap.String("username", username),
		zap.Int("clients", n),
	)
	return n
}

// RemoveClient removes the membership record with the given connection id and
// returns a copy of it. If the room becomes empty, deletion is deferred: a
// timer fires after the configured delay and deletes the room only if it is
// still empty — a rejoin in the interim keeps it alive. The timer handle is
// not tracked; re-verification at fire time is enough.
func (r *Registry) RemoveClient(roomID, connID string) (Client, bool) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return Client{}, false
	}
	for i, c := range rm.clients {
		if c.ConnID != connID {
			continue
		}
		removed := *c
		rm.clients = append(rm.clients[:i], rm.clients[i+1:]...)
		remaining := len(rm.clients)
		r.mu.Unlock()

		zap.L().Info("room.client_left",
			zap.String("room", roomID),
			zap.String("username", removed.Username),
			zap.Int("clients", remaining),
		)
		if remaining == 0 {
			time.AfterFunc(r.emptyDelay, func() { r.deleteIfEmpty(roomID) })
		}
		return removed, true
	}
	r.mu.Unlock()
	return Client{}, false
}

func (r *Registry) deleteIfEmpty(roomID string) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	deleted := false
	if ok && len(rm.clients) == 0 {
		delete(r.rooms, roomID)
		deleted = true
	}
	r.mu.Unlock()
	if deleted {
		zap.L().Info("room.deleted_empty", zap.String("room", roomID))
	}
}

// UpdateCursor overwrites the cursor hint of the first client matching
// userID. Best-effort: returns false when the room or user is unknown.
func (r *Registry) UpdateCursor(roomID, userID string, pos json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	for _, c := range rm.clients {
		if c.UserID == userID {
			c.CursorPos = pos
			return true
		}
	}
	return false
}

// Clients returns a snapshot copy of the room's membership. Order is
// incidental; consumers must not rely on it.
func (r *Registry) Clients(roomID string) []Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Client, 0, len(rm.clients))
	for _, c := range rm.clients {
		out = append(out, *c)
	}
	return out
}

// SetCanvasState mirrors the latest snapshot blob directly on the room for
// unversioned reads. The versioned copy lives in canvasstate.Store; the two
// are intentionally independent.
func (r *Registry) SetCanvasState(roomID string, data []byte) {
	r.mu.Lock()
	rm := r.ensureLocked(roomID)
	rm.canvasState = data
	rm.lastActivity = time.Now()
	r.mu.Unlock()
}

func (r *Registry) CanvasState(roomID string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return rm.canvasState
	}
	return nil
}

// Stats snapshots every room for the query surface.
func (r *Registry) Stats() []RoomStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RoomStats, 0, len(r.rooms))
	for id, rm := range r.rooms {
		out = append(out, statsOf(id, rm))
	}
	return out
}

func statsOf(id string, rm *room) RoomStats {
	return RoomStats{
		RoomID:         id,
		ClientCount:    len(rm.clients),
		HasCanvasState: rm.canvasState != nil,
		CreatedAt:      rm.createdAt,
		LastActivity:   rm.lastActivity,
	}
}

// Len reports the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// SweepInactive deletes rooms that are empty AND whose last activity is older
// than maxAge. Rooms with clients are never touched regardless of age. A
// long-stop behind the deferred delete; idempotent.
func (r *Registry) SweepInactive(maxAge time.Duration) int {
	now := time.Now()
	removed := 0
	r.mu.Lock()
	for id, rm := range r.rooms {
		if len(rm.clients) == 0 && now.Sub(rm.lastActivity) > maxAge {
			delete(r.rooms, id)
			removed++
			zap.L().Info("room.swept", zap.String("room", id))
		}
	}
	r.mu.Unlock()
	return removed
}
