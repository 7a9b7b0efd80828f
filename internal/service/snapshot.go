package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kaping/blockshare/internal/domain"
	"github.com/Kaping/blockshare/internal/repository"
)

// SnapshotCache is the Redis-backed front of the durable snapshot store.
type SnapshotCache interface {
	Get(ctx context.Context, roomID string) ([]byte, error)
	Set(ctx context.Context, roomID string, payload []byte, ttl time.Duration) error
}

const snapshotCacheTTL = 10 * time.Minute

// SnapshotService implements the Snapshot Store's cache-first, durable
// fallback strategy: a cache hit returns immediately; a miss loads from the
// database and backfills the cache asynchronously.
type SnapshotService struct {
	snapshotRepo repository.SnapshotRepository
	cache        SnapshotCache
	isCacheMiss  func(error) bool
}

func NewSnapshotService(snapshotRepo repository.SnapshotRepository, cache SnapshotCache, isCacheMiss func(error) bool) *SnapshotService {
	if snapshotRepo == nil {
		panic("SnapshotRepository cannot be nil for SnapshotService")
	}
	if cache == nil {
		panic("SnapshotCache cannot be nil for SnapshotService")
	}
	if isCacheMiss == nil {
		isCacheMiss = func(error) bool { return false }
	}
	return &SnapshotService{snapshotRepo: snapshotRepo, cache: cache, isCacheMiss: isCacheMiss}
}

// Get returns the latest snapshot payload for a room, or (nil, nil) if the
// room has never had one committed.
func (s *SnapshotService) Get(ctx context.Context, roomID string) ([]byte, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "SnapshotService.Get"})

	cached, err := s.cache.Get(ctx, roomID)
	if err == nil {
		logCtx.Debug("snapshot cache hit")
		return cached, nil
	}
	if !s.isCacheMiss(err) {
		logCtx.WithError(err).Warn("snapshot cache read failed, falling back to database")
	}

	snap, err := s.snapshotRepo.GetLatest(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotNotFound) {
			return nil, nil
		}
		logCtx.WithError(err).Error("failed to load snapshot from database")
		return nil, ErrInternalServer
	}

	go func(payload []byte) {
		cacheCtx := context.Background()
		if err := s.cache.Set(cacheCtx, roomID, payload, snapshotCacheTTL); err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Warn("failed to warm snapshot cache after database load")
		}
	}(snap.Payload)

	return snap.Payload, nil
}

// Put persists a new snapshot payload (the client's workspaceXml),
// rejecting anything over the configured size cap.
func (s *SnapshotService) Put(ctx context.Context, roomID string, payload []byte) error {
	if len(payload) > domain.MaxSnapshotBytes {
		return ErrSnapshotTooLarge
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "bytes": len(payload)})

	snap := &domain.Snapshot{RoomID: roomID, Payload: payload, UpdatedAt: time.Now().UTC()}
	if err := s.snapshotRepo.Save(ctx, snap); err != nil {
		logCtx.WithError(err).Error("failed to save snapshot to database")
		return ErrInternalServer
	}

	go func() {
		cacheCtx := context.Background()
		if err := s.cache.Set(cacheCtx, roomID, payload, snapshotCacheTTL); err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Warn("failed to update snapshot cache after save")
		}
	}()
	return nil
}
