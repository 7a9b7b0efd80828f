// Package registry owns the per-room bundle of live coordination state
// (presence and leases) and lazily creates it the first
// time a room is touched, generalizing the broadcast hub's own lazy
// per-room map creation into a dedicated component shared by the HTTP and
// WebSocket handlers.
package registry

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Kaping/blockshare/internal/domain"
	"github.com/Kaping/blockshare/internal/presence"
	"github.com/Kaping/blockshare/internal/repository"
	"github.com/Kaping/blockshare/internal/service"
)

// RoomCtx bundles everything a Session needs to interact with one room.
type RoomCtx struct {
	ID       string
	Presence *presence.Store
	Leases   repository.LeaseStore
}

// Registry creates and caches a RoomCtx per room id, delegating durable
// metadata lookups to RoomService.GetOrCreateRoom.
type Registry struct {
	roomService *service.RoomService
	leases      repository.LeaseStore

	mu    sync.Mutex
	rooms map[string]*RoomCtx
}

func New(roomService *service.RoomService, leases repository.LeaseStore) *Registry {
	if roomService == nil {
		panic("RoomService cannot be nil for Registry")
	}
	if leases == nil {
		panic("LeaseStore cannot be nil for Registry")
	}
	return &Registry{
		roomService: roomService,
		leases:      leases,
		rooms:       make(map[string]*RoomCtx),
	}
}

// Get returns the RoomCtx for roomID, creating the room's durable record
// and in-memory bundle if this is the first time it has been seen.
func (r *Registry) Get(ctx context.Context, roomID string) (*domain.Room, *RoomCtx, error) {
	room, err := r.roomService.GetOrCreateRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	roomCtx, ok := r.rooms[roomID]
	if !ok {
		roomCtx = &RoomCtx{
			ID:       roomID,
			Presence: presence.NewStore(),
			Leases:   r.leases,
		}
		r.rooms[roomID] = roomCtx
		logrus.WithField("room_id", roomID).Info("room context created")
	}
	return room, roomCtx, nil
}

// Drop removes the in-memory bundle for a room once its last participant
// has left. Durable metadata and any leases still outstanding in Redis are
// untouched; the Reaper no longer visits a dropped room, so such leases
// go away only when their Redis TTL expires.
func (r *Registry) Drop(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// Rooms returns the bundle of every room held in memory, used by the
// Reaper to sweep presence without needing a separate room index.
func (r *Registry) Rooms() []*RoomCtx {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RoomCtx, 0, len(r.rooms))
	for _, rc := range r.rooms {
		out = append(out, rc)
	}
	return out
}
