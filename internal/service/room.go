package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Kaping/blockshare/internal/domain"
	"github.com/Kaping/blockshare/internal/repository"
)

// RoomService manages room metadata. Room ids are opaque client-supplied
// strings; no format validation is performed on them.
type RoomService struct {
	roomRepo repository.RoomRepository
}

func NewRoomService(roomRepo repository.RoomRepository) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	return &RoomService{roomRepo: roomRepo}
}

// GetOrCreateRoom returns the room for id, creating it with default
// metadata (title, DefaultMaxUsers) the first time it is seen.
func (s *RoomService) GetOrCreateRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	logCtx := logrus.WithField("room_id", roomID)
	room, err := s.roomRepo.GetOrCreate(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("failed to get or create room")
		return nil, ErrInternalServer
	}
	return room, nil
}

// FindRoomByID looks up a room without creating it.
func (s *RoomService) FindRoomByID(ctx context.Context, roomID string) (*domain.Room, error) {
	logCtx := logrus.WithField("room_id", roomID)
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Debug("find room by id: not found")
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("find room by id: repository error")
		return nil, ErrInternalServer
	}
	return room, nil
}
