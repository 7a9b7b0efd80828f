package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/Kaping/blockshare/internal/domain"
	"github.com/Kaping/blockshare/internal/repository"
)

// RoomRepository is the GORM implementation of repository.RoomRepository.
type RoomRepository struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) *RoomRepository {
	if db == nil {
		panic("database connection cannot be nil for RoomRepository")
	}
	return &RoomRepository{db: db}
}

func (r *RoomRepository) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).First(&room, "room_id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %q: %w", id, err)
	}
	return &room, nil
}

func (r *RoomRepository) GetOrCreate(ctx context.Context, id string) (*domain.Room, error) {
	room, err := r.FindByID(ctx, id)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repository.ErrRoomNotFound) {
		return nil, err
	}

	room = &domain.Room{
		ID:       id,
		Title:    "Untitled Workspace",
		MaxUsers: domain.DefaultMaxUsers,
	}
	if createErr := r.db.WithContext(ctx).Clauses(onConflictDoNothing()).Create(room).Error; createErr != nil {
		return nil, fmt.Errorf("gorm: create room %q: %w", id, createErr)
	}
	// Someone else may have raced us to create it; re-read to get the
	// authoritative row either way.
	return r.FindByID(ctx, id)
}

func (r *RoomRepository) Save(ctx context.Context, room *domain.Room) error {
	err := r.db.WithContext(ctx).Save(room).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save room %q: %w", room.ID, err)
	}
	return nil
}
