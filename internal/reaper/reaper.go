// Package reaper sweeps every live room for participants that have gone
// silent past the presence TTL, evicting their presence record and
// releasing any leases they still held. It is kept as a plain function so
// it can be driven directly from a test or from the asynq periodic task
// the worker registers.
package reaper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kaping/blockshare/internal/domain"
	"github.com/Kaping/blockshare/internal/dto"
	"github.com/Kaping/blockshare/internal/hub"
	"github.com/Kaping/blockshare/internal/registry"
)

// Sweep runs one reap pass over every room the registry currently knows
// about. A participant is stale once it has sent no frame (heartbeat or
// otherwise) within userTTL. If the participant still has a live session attached to
// the Hub, eviction goes through Hub.Evict so the session's own close()
// runs the full Closing procedure (release leases, drop presence, broadcast
// LOCK_UPDATE/USER_LEFT, Hub.Unregister, close the transport). A stale
// participant with no attached session (already disconnected, the Hub
// just hasn't caught up) falls back to the manual cleanup below.
func Sweep(ctx context.Context, reg *registry.Registry, h *hub.Hub, userTTL time.Duration) {
	cutoff := time.Now().Add(-userTTL)
	for _, roomCtx := range reg.Rooms() {
		staleIDs := roomCtx.Presence.StaleSince(cutoff)
		if len(staleIDs) == 0 {
			continue
		}
		logCtx := logrus.WithField("room_id", roomCtx.ID)
		for _, clientID := range staleIDs {
			if h.Evict(roomCtx.ID, clientID, domain.CloseNormal) {
				logCtx.WithField("client_id", clientID).Info("reaper: evicted stale session via hub")
				continue
			}

			released, err := roomCtx.Leases.ReleaseAll(ctx, roomCtx.ID, clientID)
			if err != nil {
				logCtx.WithField("client_id", clientID).WithError(err).Warn("reaper: failed to release stale leases")
			} else {
				if len(released) > 0 {
					logCtx.WithField("client_id", clientID).WithField("blocks", released).Info("reaper: released stale leases")
				}
				for _, blockID := range released {
					updateFrame, encErr := dto.Encode(domain.FrameLockUpdate, dto.LockUpdatePayload{BlockID: blockID, Owner: nil})
					if encErr == nil {
						h.Broadcast(roomCtx.ID, updateFrame, nil, false)
					}
				}
			}

			roomCtx.Presence.Remove(clientID)
			logCtx.WithField("client_id", clientID).Info("reaper: evicted stale participant")

			leftFrame, encErr := dto.Encode(domain.FrameUserLeft, dto.UserLeftPayload{ClientID: clientID})
			if encErr == nil {
				h.Broadcast(roomCtx.ID, leftFrame, nil, false)
			}
		}
		if roomCtx.Presence.Count() == 0 {
			reg.Drop(roomCtx.ID)
		}
	}
}
