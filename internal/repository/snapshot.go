package repository

import (
	"context"

	"github.com/Kaping/blockshare/internal/domain"
)

// SnapshotRepository persists the latest durable snapshot per room.
type SnapshotRepository interface {
	// GetLatest returns the latest snapshot for a room, or ErrSnapshotNotFound.
	GetLatest(ctx context.Context, roomID string) (*domain.Snapshot, error)

	// Save upserts the snapshot for a room.
	Save(ctx context.Context, snapshot *domain.Snapshot) error
}
