package reaper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Kaping/blockshare/internal/domain"
	"github.com/Kaping/blockshare/internal/hub"
	"github.com/Kaping/blockshare/internal/reaper"
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

type fakeLeaseStore struct {
	repository.LeaseStore
	releasedFor []string
}

func (f *fakeLeaseStore) ReleaseAll(ctx context.Context, roomID, clientID string) ([]string, error) {
	f.releasedFor = append(f.releasedFor, clientID)
	return []string{"block-1"}, nil
}

func TestSweep_EvictsStaleParticipantsAndReleasesTheirLeases(t *testing.T) {
	repo := new(mockRoomRepo)
	room := &domain.Room{ID: "room-1", MaxUsers: domain.DefaultMaxUsers}
	repo.On("GetOrCreate", mock.Anything, "room-1").Return(room, nil).Once()

	leases := &fakeLeaseStore{}
	reg := registry.New(service.NewRoomService(repo), leases)

	_, roomCtx, err := reg.Get(context.Background(), "room-1")
	require.NoError(t, err)

	roomCtx.Presence.Add("stale-client", "ghost")
	roomCtx.Presence.Add("fresh-client", "alive")

	time.Sleep(2 * time.Millisecond)
	roomCtx.Presence.Touch("fresh-client")
	reaper.Sweep(context.Background(), reg, hub.NewHub(), time.Millisecond)

	assert.Contains(t, leases.releasedFor, "stale-client")
	_, stillPresent := roomCtx.Presence.Get("fresh-client")
	assert.True(t, stillPresent)
	_, evicted := roomCtx.Presence.Get("stale-client")
	assert.False(t, evicted)
}

func TestSweep_DropsRoomOnceEveryParticipantIsEvicted(t *testing.T) {
	repo := new(mockRoomRepo)
	room := &domain.Room{ID: "room-1", MaxUsers: domain.DefaultMaxUsers}
	repo.On("GetOrCreate", mock.Anything, "room-1").Return(room, nil).Once()

	leases := &fakeLeaseStore{}
	reg := registry.New(service.NewRoomService(repo), leases)

	_, roomCtx, err := reg.Get(context.Background(), "room-1")
	require.NoError(t, err)
	roomCtx.Presence.Add("only-client", "alone")

	time.Sleep(2 * time.Millisecond)
	reaper.Sweep(context.Background(), reg, hub.NewHub(), time.Millisecond)

	assert.Empty(t, reg.Rooms(), "room with no remaining participants should be dropped")
}
