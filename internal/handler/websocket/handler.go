package websocket

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Kaping/blockshare/internal/hub"
	"github.com/Kaping/blockshare/internal/registry"
	"github.com/Kaping/blockshare/internal/service"
)

const maxNicknameBytes = 64

// syntheticNickname builds the generated placeholder nickname for a
// connection that supplied none: User#### where #### is a 4-digit number
// derived from the client id.
func syntheticNickname(clientID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return fmt.Sprintf("User%04d", h.Sum32()%10000)
}

// Handler upgrades an HTTP request into a WebSocket connection and opens
// the session that drives it for the rest of its lifetime.
type Handler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	registry *registry.Registry
	snapshot *service.SnapshotService
	cfg      hub.Config
}

func NewHandler(h *hub.Hub, reg *registry.Registry, snap *service.SnapshotService, cfg hub.Config) *Handler {
	if h == nil {
		panic("Hub cannot be nil for websocket Handler")
	}
	if reg == nil {
		panic("Registry cannot be nil for websocket Handler")
	}
	if snap == nil {
		panic("SnapshotService cannot be nil for websocket Handler")
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		hub:      h,
		registry: reg,
		snapshot: snap,
		cfg:      cfg,
	}
}

// HandleConnection handles GET /ws/room/:roomId?nickname=... It admits the
// connecting client into the room, then blocks for the lifetime of the
// session.
func (h *Handler) HandleConnection(c *gin.Context) {
	roomID := c.Param("roomId")
	// client_id is always minted server-side, per connection -- a client
	// cannot choose or collide with another session's identity.
	clientID := uuid.NewString()

	nickname := c.Query("nickname")
	if len(nickname) > maxNicknameBytes {
		nickname = nickname[:maxNicknameBytes]
	}
	if nickname == "" {
		nickname = syntheticNickname(clientID)
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "client_id": clientID})

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logCtx.WithError(err).Warn("websocket upgrade failed")
		return
	}

	session := hub.NewSession(h.hub, conn, h.registry, h.snapshot, roomID, clientID, nickname, h.cfg)
	closeCode, err := session.Open(c.Request.Context())
	if err != nil {
		logCtx.WithError(err).Warn("session admission failed")
		deadline := time.Now().Add(5 * time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, err.Error()), deadline)
		_ = conn.Close()
		return
	}

	logCtx.Info("session admitted")
	session.Run()
	logCtx.Info("session closed")
}
