package service

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is at capacity")
	ErrInternalServer   = errors.New("internal server error")
	ErrSnapshotTooLarge = errors.New("snapshot payload exceeds maximum size")
)
