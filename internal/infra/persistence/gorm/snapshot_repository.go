package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Kaping/blockshare/internal/domain"
	"github.com/Kaping/blockshare/internal/repository"
)

// SnapshotRepository is the GORM implementation of repository.SnapshotRepository.
// Each room has exactly one row, upserted in place -- there is no durable
// history beyond the latest snapshot.
type SnapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	if db == nil {
		panic("database connection cannot be nil for SnapshotRepository")
	}
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) GetLatest(ctx context.Context, roomID string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	err := r.db.WithContext(ctx).First(&snap, "room_id = ?", roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("gorm: get latest snapshot for room %q: %w", roomID, err)
	}
	return &snap, nil
}

func (r *SnapshotRepository) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(snapshot).Error
	if err != nil {
		return fmt.Errorf("gorm: save snapshot for room %q: %w", snapshot.RoomID, err)
	}
	return nil
}
