package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"canvasrelay/internal/canvasstate"
	"canvasrelay/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmitter records every transport call in order, lattice-MockClient
// style, so tests can assert on exclusion rules and payload shapes.
type emission struct {
	op      string // "one", "except", "all", "join"
	roomID  string
	connID  string // target for "one"/"join", excluded sender for "except"
	event   string
	payload any
}

type fakeEmitter struct {
	mu  sync.Mutex
	log []emission
}

func (f *fakeEmitter) EmitTo(connID, event string, payload any) {
	f.record(emission{op: "one", connID: connID, event: event, payload: payload})
}

func (f *fakeEmitter) BroadcastExcept(roomID, exceptConnID, event string, payload any) {
	f.record(emission{op: "except", roomID: roomID, connID: exceptConnID, event: event, payload: payload})
}

func (f *fakeEmitter) Broadcast(roomID, event string, payload any) {
	f.record(emission{op: "all", roomID: roomID, event: event, payload: payload})
}

func (f *fakeEmitter) JoinGroup(roomID, connID string) {
	f.record(emission{op: "join", roomID: roomID, connID: connID})
}

func (f *fakeEmitter) record(e emission) {
	f.mu.Lock()
	f.log = append(f.log, e)
	f.mu.Unlock()
}

func (f *fakeEmitter) all() []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emission, len(f.log))
	copy(out, f.log)
	return out
}

func (f *fakeEmitter) byEvent(event string) []emission {
	var out []emission
	for _, e := range f.all() {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	f.log = nil
	f.mu.Unlock()
}

func newTestService() (*fakeEmitter, *registry.Registry, *canvasstate.Store, ISessionService) {
	em := &fakeEmitter{}
	reg := registry.New(time.Minute)
	store := canvasstate.New()
	return em, reg, store, NewSessionService(reg, store, em)
}

func payloadOf(t *testing.T, e emission) map[string]any {
	t.Helper()
	m, ok := e.payload.(map[string]any)
	require.True(t, ok, "payload is not a map")
	return m
}

func TestSequentialUsernamesPerRoom(t *testing.T) {
	_, _, _, svc := newTestService()

	a := NewConn("ca")
	b := NewConn("cb")
	c := NewConn("cc")
	other := NewConn("cd")

	svc.Join(a, "r1", "u-a", "red")
	svc.Join(b, "r1", "u-b", "green")
	svc.Join(c, "r1", "u-c", "blue")
	svc.Join(other, "r2", "u-d", "black")

	assert.Equal(t, "User1", a.Username)
	assert.Equal(t, "User2", b.Username)
	assert.Equal(t, "User3", c.Username)
	// counters are independent per room
	assert.Equal(t, "User1", other.Username)
}

func TestUsernameCounterNotResetOnChurn(t *testing.T) {
	_, _, _, svc := newTestService()

	a := NewConn("ca")
	svc.Join(a, "r1", "u-a", "red")
	svc.Disconnect(a)

	// same user, new connection: new number, never the old one back
	a2 := NewConn("ca2")
	svc.Join(a2, "r1", "u-a", "red")
	assert.Equal(t, "User2", a2.Username)
}

func TestJoinEmissions(t *testing.T) {
	em, _, _, svc := newTestService()

	a := NewConn("ca")
	svc.Join(a, "r1", "u-a", "red")

	assigned := em.byEvent("username-assigned")
	require.Len(t, assigned, 1)
	assert.Equal(t, "ca", assigned[0].connID)
	assert.Equal(t, "User1", payloadOf(t, assigned[0])["username"])

	em.reset()
	b := NewConn("cb")
	svc.Join(b, "r1", "u-b", "green")

	// the newcomer gets its name and the member list excluding itself
	assigned = em.byEvent("username-assigned")
	require.Len(t, assigned, 1)
	assert.Equal(t, "cb", assigned[0].connID)
	assert.Equal(t, "User2", payloadOf(t, assigned[0])["username"])

	updates := em.byEvent("users-update")
	require.Len(t, updates, 1)
	assert.Equal(t, "cb", updates[0].connID)
	users := payloadOf(t, updates[0])["users"].([]userEntry)
	require.Len(t, users, 1)
	assert.Equal(t, "u-a", users[0].UserID)

	// presence announcement goes to the rest of the room, not the joiner
	joined := em.byEvent("user-joined")
	require.Len(t, joined, 1)
	assert.Equal(t, "except", joined[0].op)
	assert.Equal(t, "r1", joined[0].roomID)
	assert.Equal(t, "cb", joined[0].connID) // excluded sender
	p := payloadOf(t, joined[0])
	assert.Equal(t, "u-b", p["userId"])
	assert.Equal(t, "User2", p["username"])
	assert.Equal(t, "green", p["color"])
	assert.Equal(t, "cb", p["socketId"])
}

func TestJoinSyncsExistingSnapshot(t *testing.T) {
	em, _, _, svc := newTestService()

	a := NewConn("ca")
	svc.Join(a, "r1", "u-a", "red")
	svc.PublishState(a, "r1", "X")

	em.reset()
	c := NewConn("cc")
	svc.Join(c, "r1", "u-c", "blue")

	states := em.byEvent("canvas-state")
	require.Len(t, states, 1)
	assert.Equal(t, "one", states[0].op)
	assert.Equal(t, "cc", states[0].connID)
	p := payloadOf(t, states[0])
	assert.Equal(t, "X", p["canvasData"])
	assert.Equal(t, int64(1), p["version"])
}

func TestJoinWithoutSnapshotEmitsNoState(t *testing.T) {
	em, _, _, svc := newTestService()
	svc.Join(NewConn("ca"), "r1", "u-a", "red")
	assert.Empty(t, em.byEvent("canvas-state"))
}

func TestCursorMove(t *testing.T) {
	em, reg, _, svc := newTestService()

	a := NewConn("ca")
	svc.Join(a, "r1", "u-a", "red")
	em.reset()

	pos := json.RawMessage(`{"x":1,"y":2}`)
	svc.CursorMove(a, "r1", "u-a", pos)

	moves := em.byEvent("cursor-move")
	require.Len(t, moves, 1)
	assert.Equal(t, "except", moves[0].op)
	assert.Equal(t, "ca", moves[0].connID)
	assert.Equal(t, "u-a", payloadOf(t, moves[0])["userId"])

	clients := reg.Clients("r1")
	require.Len(t, clients, 1)
	assert.JSONEq(t, `{"x":1,"y":2}`, string(clients[0].CursorPos))
}

func TestCursorMoveUnjoinedIsNoop(t *testing.T) {
	em, _, _, svc := newTestService()
	svc.CursorMove(NewConn("ca"), "r1", "u-a", json.RawMessage(`{}`))
	assert.Empty(t, em.all())
}

func TestDrawingAugmentsSenderIdentity(t *testing.T) {
	em, _, _, svc := newTestService()

	a := NewConn("ca")
	svc.Join(a, "r1", "u-a", "red")
	em.reset()

	svc.Drawing(a, map[string]any{"tool": "pen", "points": []any{1.0, 2.0}})

	drawings := em.byEvent("drawing")
	require.Len(t, drawings, 1)
	assert.Equal(t, "except", drawings[0].op)
	assert.Equal(t, "r1", drawings[0].roomID)
	p := payloadOf(t, drawings[0])
	assert.Equal(t, "pen", p["tool"]) // payload passes through untouched
	assert.Equal(t, "u-a", p["userId"])
	assert.Equal(t, "ca", p["socketId"])
}

func TestDrawingUnjoinedIsNoop(t *testing.T) {
	em, _, _, svc := newTestService()
	svc.Drawing(NewConn("ca"), map[string]any{"tool": "pen"})
	assert.Empty(t, em.all())
}

func TestPublishState(t *testing.T) {
	em, reg, store, svc := newTestService()

	a := NewConn("ca")
	svc.Join(a, "r1", "u-a", "red")
	em.reset()

	svc.PublishState(a, "r1", "X")
	svc.PublishState(a, "r1", "Y")

	st, ok := store.Get("r1")
	require.True(t, ok)
	assert.Equal(t, int64(2), st.Version)
	assert.Equal(t, []byte("Y"), st.Data)

	md, ok := store.Metadata("r1")
	require.True(t, ok)
	assert.Equal(t, int64(2), md.Version)

	// unversioned mirror on the room tracks the same blob
	assert.Equal(t, []byte("Y"), reg.CanvasState("r1"))

	// the relay carries the sender, not the version
	states := em.byEvent("canvas-state")
	require.Len(t, states, 2)
	assert.Equal(t, "except", states[1].op)
	p := payloadOf(t, states[1])
	assert.Equal(t, "Y", p["canvasData"])
	assert.Equal(t, "u-a", p["userId"])
	_, hasVersion := p["version"]
	assert.False(t, hasVersion)
}

func TestRequestState(t *testing.T) {
	em, _, _, svc := newTestService()

	a := NewConn("ca")
	svc.Join(a, "r1", "u-a", "red")

	// nothing stored yet: silent no-op
	em.reset()
	svc.RequestState(a, "r1")
	assert.Empty(t, em.all())

	svc.PublishState(a, "r1", "X")
	em.reset()
	svc.RequestState(a, "r1")

	states := em.byEvent("canvas-state")
	require.Len(t, states, 1)
	assert.Equal(t, "one", states[0].op)
	assert.Equal(t, "ca", states[0].connID)
	p := payloadOf(t, states[0])
	assert.Equal(t, "X", p["canvasData"])
	assert.Equal(t, int64(1), p["version"])
}

func TestClearCanvas(t *testing.T) {
	em, _, store, svc := newTestService()

	a := NewConn("ca")
	svc.Join(a, "r1", "u-a", "red")
	svc.PublishState(a, "r1", "X")
	em.reset()

	svc.ClearCanvas(a, "r1")

	// clear reaches everyone, sender included
	clears := em.byEvent("clear-canvas")
	require.Len(t, clears, 1)
	assert.Equal(t, "all", clears[0].op)
	assert.Equal(t, "u-a", payloadOf(t, clears[0])["userId"])

	_, ok := store.Get("r1")
	assert.False(t, ok)

	// versioning restarts after a clear
	svc.PublishState(a, "r1", "Z")
	st, ok := store.Get("r1")
	require.True(t, ok)
	assert.Equal(t, int64(1), st.Version)
}

func TestUndoRedoBroadcastWithoutPersisting(t *testing.T) {
	em, _, store, svc := newTestService()

	a := NewConn("ca")
	svc.Join(a, "r1", "u-a", "red")
	em.reset()

	svc.Undo(a, "r1", "U")
	svc.Redo(a, "r1", "R")

	undos := em.byEvent("undo")
	require.Len(t, undos, 1)
	assert.Equal(t, "all", undos[0].op)
	p := payloadOf(t, undos[0])
	assert.Equal(t, "u-a", p["userId"])
	assert.Equal(t, "User1", p["username"])
	assert.Equal(t, "U", p["canvasData"])

	redos := em.byEvent("redo")
	require.Len(t, redos, 1)
	assert.Equal(t, "all", redos[0].op)
	assert.Equal(t, "R", payloadOf(t, redos[0])["canvasData"])

	// display hints only; nothing was saved
	_, ok := store.Get("r1")
	assert.False(t, ok)
}

func TestDisconnect(t *testing.T) {
	em, reg, _, svc := newTestService()

	a := NewConn("ca")
	svc.Join(a, "r1", "u-a", "red")
	em.reset()

	svc.Disconnect(a)

	left := em.byEvent("user-left")
	require.Len(t, left, 1)
	assert.Equal(t, "except", left[0].op)
	assert.Equal(t, "ca", left[0].connID)
	p := payloadOf(t, left[0])
	assert.Equal(t, "u-a", p["userId"])
	assert.Equal(t, "User1", p["username"])
	assert.Equal(t, "ca", p["socketId"])

	assert.Empty(t, reg.Clients("r1"))
}

func TestDisconnectNeverJoinedIsSilent(t *testing.T) {
	em, _, _, svc := newTestService()
	svc.Disconnect(NewConn("ca"))
	assert.Empty(t, em.all())
}

func TestDisconnectTwiceEmitsOnce(t *testing.T) {
	em, _, _, svc := newTestService()

	a := NewConn("ca")
	svc.Join(a, "r1", "u-a", "red")
	em.reset()

	svc.Disconnect(a)
	svc.Disconnect(a)
	assert.Len(t, em.byEvent("user-left"), 1)
}
