package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Kaping/blockshare/internal/domain"
	"github.com/Kaping/blockshare/internal/repository"
	"github.com/Kaping/blockshare/internal/service"
)

type mockRoomRepo struct {
	mock.Mock
}

func (m *mockRoomRepo) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	args := m.Called(ctx, id)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}

func (m *mockRoomRepo) GetOrCreate(ctx context.Context, id string) (*domain.Room, error) {
	args := m.Called(ctx, id)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}

func (m *mockRoomRepo) Save(ctx context.Context, room *domain.Room) error {
	return m.Called(ctx, room).Error(0)
}

func TestRoomService_GetOrCreateRoom_Success(t *testing.T) {
	repo := new(mockRoomRepo)
	svc := service.NewRoomService(repo)
	ctx := context.Background()

	want := &domain.Room{ID: "room-1", Title: "Untitled Workspace", MaxUsers: domain.DefaultMaxUsers}
	repo.On("GetOrCreate", ctx, "room-1").Return(want, nil).Once()

	got, err := svc.GetOrCreateRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	repo.AssertExpectations(t)
}

func TestRoomService_GetOrCreateRoom_RepoError(t *testing.T) {
	repo := new(mockRoomRepo)
	svc := service.NewRoomService(repo)
	ctx := context.Background()

	repo.On("GetOrCreate", ctx, "room-1").Return(nil, assert.AnError).Once()

	_, err := svc.GetOrCreateRoom(ctx, "room-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrInternalServer)
}

func TestRoomService_FindRoomByID_NotFound(t *testing.T) {
	repo := new(mockRoomRepo)
	svc := service.NewRoomService(repo)
	ctx := context.Background()

	repo.On("FindByID", ctx, "missing").Return(nil, repository.ErrRoomNotFound).Once()

	_, err := svc.FindRoomByID(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}
