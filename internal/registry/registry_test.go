package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Kaping/blockshare/internal/domain"
	"github.com/Kaping/blockshare/internal/registry"
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

type noopLeaseStore struct{ repository.LeaseStore }

func TestRegistry_Get_CreatesRoomContextOnce(t *testing.T) {
	repo := new(mockRoomRepo)
	room := &domain.Room{ID: "room-1", Title: "Untitled Workspace", MaxUsers: domain.DefaultMaxUsers}
	repo.On("GetOrCreate", mock.Anything, "room-1").Return(room, nil).Times(2)

	reg := registry.New(service.NewRoomService(repo), noopLeaseStore{})

	_, ctx1, err := reg.Get(context.Background(), "room-1")
	require.NoError(t, err)
	_, ctx2, err := reg.Get(context.Background(), "room-1")
	require.NoError(t, err)

	assert.Same(t, ctx1, ctx2, "the second Get for the same room must reuse the in-memory bundle")
	assert.Len(t, reg.Rooms(), 1)
}

func TestRegistry_Drop_RemovesRoomContext(t *testing.T) {
	repo := new(mockRoomRepo)
	room := &domain.Room{ID: "room-1", MaxUsers: domain.DefaultMaxUsers}
	repo.On("GetOrCreate", mock.Anything, "room-1").Return(room, nil).Once()

	reg := registry.New(service.NewRoomService(repo), noopLeaseStore{})
	_, _, err := reg.Get(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, reg.Rooms(), 1)

	reg.Drop("room-1")
	assert.Empty(t, reg.Rooms())
}

func TestRegistry_Get_PropagatesRoomServiceError(t *testing.T) {
	repo := new(mockRoomRepo)
	repo.On("GetOrCreate", mock.Anything, "room-1").Return(nil, assert.AnError).Once()

	reg := registry.New(service.NewRoomService(repo), noopLeaseStore{})
	_, _, err := reg.Get(context.Background(), "room-1")
	require.Error(t, err)
}
