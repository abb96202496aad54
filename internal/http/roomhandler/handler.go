package roomhandler

import (
	"net/http"
	"time"

	"canvasrelay/internal/canvasstate"
	"canvasrelay/internal/registry"

	"github.com/gin-gonic/gin"
)

// Handler serves the read-only query surface. It only snapshots core data;
// nothing here mutates state except the documented room-creating lookup on
// the detail endpoint.
type Handler struct {
	reg       *registry.Registry
	store     *canvasstate.Store
	startedAt time.Time
}

func New(reg *registry.Registry, store *canvasstate.Store) *Handler {
	return &Handler{reg: reg, store: store, startedAt: time.Now()}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/api/health", h.health)
	r.GET("/api/rooms", h.list)
	r.GET("/api/rooms/:roomId", h.detail)
	r.GET("/api/stats", h.stats)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(h.startedAt).Seconds(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.reg.Stats()})
}

// detail reports one room's membership count and state metadata. The lookup
// counts as a reference, so an unknown room is created here rather than
// returning 404.
func (h *Handler) detail(c *gin.Context) {
	roomID := c.Param("roomId")
	room := h.reg.EnsureRoom(roomID)

	var state *canvasstate.Metadata
	if md, ok := h.store.Metadata(roomID); ok {
		state = &md
	}

	c.JSON(http.StatusOK, RoomDetailResponse{
		RoomID:      roomID,
		ClientCount: room.ClientCount,
		State:       state,
	})
}

func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Stats())
}
