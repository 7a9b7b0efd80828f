package repository

import (
	"context"

	"github.com/Kaping/blockshare/internal/domain"
)

// RoomRepository stores room metadata (title, capacity) durably.
type RoomRepository interface {
	// FindByID looks up a room by its opaque id. Returns ErrRoomNotFound
	// if it does not exist.
	FindByID(ctx context.Context, id string) (*domain.Room, error)

	// GetOrCreate returns the room with the given id, creating it with
	// defaults (title, DefaultMaxUsers) if it does not already exist.
	GetOrCreate(ctx context.Context, id string) (*domain.Room, error)

	// Save upserts room metadata.
	Save(ctx context.Context, room *domain.Room) error
}
