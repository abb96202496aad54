package roomhandler

import "canvasrelay/internal/canvasstate"

type HealthResponse struct {
	Status    string  `json:"status"    example:"ok"`
	Uptime    float64 `json:"uptime"    example:"42.5"`
	Timestamp string  `json:"timestamp" example:"2025-07-27T16:05:05Z"`
}

type RoomDetailResponse struct {
	RoomID      string                `json:"roomId"`
	ClientCount int                   `json:"clientCount"`
	State       *canvasstate.Metadata `json:"state"`
}
