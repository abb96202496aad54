package canvasstate

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the versioned snapshot record kept per room. The blob is opaque;
// the store never parses it.
type State struct {
	Data      []byte
	Version   int64
	Timestamp time.Time
}

// Metadata is the derived view served by the query surface. Age is reported
// in milliseconds, computed at call time.
type Metadata struct {
	RoomID    string    `json:"roomId"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	AgeMs     int64     `json:"age"`
}

type RoomStat struct {
	RoomID    string    `json:"roomId"`
	Size      int       `json:"size"`
	Version   int64     `json:"version"`
	AgeMs     int64     `json:"age"`
	Timestamp time.Time `json:"timestamp"`
}

type Stats struct {
	TotalRooms int        `json:"totalRooms"`
	TotalSize  int        `json:"totalSize"`
	Rooms      []RoomStat `json:"rooms"`
}

// Store keeps the last saved canvas per room with a monotonically increasing
// version counter. Independent lifecycle from the room registry.
type Store struct {
	mu     sync.Mutex
	states map[string]*State
}

func New() *Store {
	return &Store{states: make(map[string]*State)}
}

// Save stores data as the room's current state. The version starts at 1 on
// the first save and increases by exactly 1 on every save after that.
func (s *Store) Save(roomID string, data []byte) {
	s.mu.Lock()
	var version int64 = 1
	if prev, ok := s.states[roomID]; ok {
		version = prev.Version + 1
	}
	s.states[roomID] = &State{
		Data:      data,
		Version:   version,
		Timestamp: time.Now(),
	}
	s.mu.Unlock()
	zap.L().Debug("canvasstate.saved",
		zap.String("room", roomID),
		zap.Int64("version", version),
	)
}

func (s *Store) Get(roomID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[roomID]; ok {
		return *st, true
	}
	return State{}, false
}

// Clear removes the stored state entirely. A save after a clear restarts the
// version counter at 1.
func (s *Store) Clear(roomID string) {
	s.mu.Lock()
	delete(s.states, roomID)
	s.mu.Unlock()
	zap.L().Debug("canvasstate.cleared", zap.String("room", roomID))
}

func (s *Store) Has(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[roomID]
	return ok
}

func (s *Store) RoomIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) Metadata(roomID string) (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[roomID]
	if !ok {
		return Metadata{}, false
	}
	return Metadata{
		RoomID:    roomID,
		Version:   st.Version,
		Timestamp: st.Timestamp,
		AgeMs:     time.Since(st.Timestamp).Milliseconds(),
	}, true
}

// Sweep deletes every state older than maxAge and returns how many were
// removed. Safe to call concurrently with live saves.
func (s *Store) Sweep(maxAge time.Duration) int {
	now := time.Now()
	removed := 0
	s.mu.Lock()
	for id, st := range s.states {
		if now.Sub(st.Timestamp) > maxAge {
			delete(s.states, id)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		zap.L().Info("canvasstate.swept", zap.Int("removed", removed))
	}
	return removed
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{Rooms: make([]RoomStat, 0, len(s.states))}
	for id, st := range s.states {
		size := len(st.Data)
		out.TotalSize += size
		out.Rooms = append(out.Rooms, RoomStat{
			RoomID:    id,
			Size:      size,
			Version:   st.Version,
			AgeMs:     time.Since(st.Timestamp).Milliseconds(),
			Timestamp: st.Timestamp,
		})
	}
	out.TotalRooms = len(s.states)
	return out
}
