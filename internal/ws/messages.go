package ws

import "encoding/json"

// Envelope wraps every WS frame, inbound and outbound.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "join-room"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// ──────────────────────────── Request DTOs ───────────────────────────────────

// JoinRoomBody is the body for "join-room". A client-sent username is a hint
// only; the server assigns the display name.
type JoinRoomBody struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Color    string `json:"color"`
}

// CursorMoveBody carries an opaque position payload.
type CursorMoveBody struct {
	RoomID string          `json:"roomId"`
	UserID string          `json:"userId"`
	Pos    json.RawMessage `json:"pos"`
}

// CanvasStateBody is the body for "canvas-state" publishes.
type CanvasStateBody struct {
	RoomID     string `json:"roomId"`
	CanvasData string `json:"canvasData"`
}

// RoomRefBody is the body for events that only name a room
// ("request-canvas-state", "clear-canvas").
type RoomRefBody struct {
	RoomID string `json:"roomId"`
}

// HistoryBody is the body for "undo" and "redo".
type HistoryBody struct {
	RoomID     string `json:"roomId"`
	CanvasData string `json:"canvasData"`
}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error string `json:"error"`
}
