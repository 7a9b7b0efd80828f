package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Kaping/blockshare/internal/registry"
	"github.com/Kaping/blockshare/internal/service"
)

// RoomHandler serves room metadata over plain HTTP, ahead of the client
// opening its WebSocket session.
type RoomHandler struct {
	roomService *service.RoomService
	registry    *registry.Registry
}

func NewRoomHandler(roomService *service.RoomService, reg *registry.Registry) *RoomHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	if reg == nil {
		panic("Registry cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService, registry: reg}
}

// RoomResponse describes a room's durable metadata plus its live
// participant count, computed from presence rather than stored.
type RoomResponse struct {
	RoomID       string `json:"room_id"`
	Title        string `json:"title"`
	MaxUsers     int    `json:"max_users"`
	CurrentUsers int    `json:"current_users"`
}

// GetOrCreateRoom returns a room's metadata, creating it with default
// settings the first time its id is seen. Room ids are opaque and are not
// validated against any format.
func (h *RoomHandler) GetOrCreateRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	logCtx := logrus.WithField("room_id", roomID)

	room, roomCtx, err := h.registry.Get(c.Request.Context(), roomID)
	if err != nil {
		logCtx.WithError(err).Error("failed to get or create room")
		ErrorResponse(c, http.StatusInternalServerError, "failed to load room")
		return
	}

	SuccessResponse(c, http.StatusOK, RoomResponse{
		RoomID:       room.ID,
		Title:        room.Title,
		MaxUsers:     room.MaxUsers,
		CurrentUsers: roomCtx.Presence.Count(),
	})
}
