package redisstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstate "github.com/Kaping/blockshare/internal/infra/state/redis"
)

func TestLeaseStore_RoundTrip_AcquireThenReleaseRestoresPriorState(t *testing.T) {
	store := redisstate.NewLeaseStore(newFakeRedisClient(), "bs:")
	ctx := context.Background()

	before, err := store.AcquireMany(ctx, "room-1", "client-probe", []string{"block-a"}, time.Second)
	require.NoError(t, err)
	require.True(t, before.Granted)
	released, err := store.ReleaseAll(ctx, "room-1", "client-probe")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"block-a"}, released)

	result, err := store.AcquireMany(ctx, "room-1", "client-a", []string{"block-a"}, time.Second)
	require.NoError(t, err)
	require.True(t, result.Granted)

	ok, err := store.Release(ctx, "room-1", "client-a", "block-a")
	require.NoError(t, err)
	require.True(t, ok)

	// Back to the pre-acquire state: any client can take the block fresh.
	after, err := store.AcquireMany(ctx, "room-1", "client-b", []string{"block-a"}, time.Second)
	require.NoError(t, err)
	assert.True(t, after.Granted)
}

func TestLeaseStore_Release_ByNonOwnerIsANoop(t *testing.T) {
	store := redisstate.NewLeaseStore(newFakeRedisClient(), "bs:")
	ctx := context.Background()

	_, err := store.AcquireMany(ctx, "room-1", "client-a", []string{"block-a"}, time.Second)
	require.NoError(t, err)

	ok, err := store.Release(ctx, "room-1", "client-b", "block-a")
	require.NoError(t, err)
	assert.False(t, ok)

	result, err := store.AcquireMany(ctx, "room-1", "client-c", []string{"block-a"}, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Granted, "block-a is still held by client-a")
}

func TestLeaseStore_AcquireMany_ConflictOnOneBlockRejectsTheWholeGroupAtomically(t *testing.T) {
	store := redisstate.NewLeaseStore(newFakeRedisClient(), "bs:")
	ctx := context.Background()

	_, err := store.AcquireMany(ctx, "room-1", "client-a", []string{"block-2"}, time.Second)
	require.NoError(t, err)

	result, err := store.AcquireMany(ctx, "room-1", "client-b", []string{"block-1", "block-2", "block-3"}, time.Second)
	require.NoError(t, err)
	require.False(t, result.Granted)
	require.NotNil(t, result.Conflict)
	assert.Equal(t, "block-2", result.Conflict.BlockID)
	assert.Equal(t, "client-a", result.Conflict.Owner)
	assert.Greater(t, result.Conflict.RemainingMs, int64(0))

	// The group acquire must have been all-or-nothing: block-1 and block-3,
	// despite being uncontested, were not granted to client-b either.
	still, err := store.AcquireMany(ctx, "room-1", "client-c", []string{"block-1"}, time.Second)
	require.NoError(t, err)
	assert.True(t, still.Granted)
}

func TestLeaseStore_ReleaseAll_ReleasesEveryBlockTheClientHolds(t *testing.T) {
	store := redisstate.NewLeaseStore(newFakeRedisClient(), "bs:")
	ctx := context.Background()

	_, err := store.AcquireMany(ctx, "room-1", "client-a", []string{"block-1", "block-2"}, time.Second)
	require.NoError(t, err)

	released, err := store.ReleaseAll(ctx, "room-1", "client-a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"block-1", "block-2"}, released)

	again, err := store.AcquireMany(ctx, "room-1", "client-b", []string{"block-1", "block-2"}, time.Second)
	require.NoError(t, err)
	assert.True(t, again.Granted)
}

func TestLeaseStore_ReleaseAll_NothingHeldReturnsEmpty(t *testing.T) {
	store := redisstate.NewLeaseStore(newFakeRedisClient(), "bs:")
	released, err := store.ReleaseAll(context.Background(), "room-1", "client-a")
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestLeaseStore_ExtendByOwner_RefreshesOnlyBlocksTheCallerOwns(t *testing.T) {
	store := redisstate.NewLeaseStore(newFakeRedisClient(), "bs:")
	ctx := context.Background()

	_, err := store.AcquireMany(ctx, "room-1", "client-a", []string{"block-1", "block-2"}, time.Second)
	require.NoError(t, err)

	count, err := store.ExtendByOwner(ctx, "room-1", "client-a", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.ExtendByOwner(ctx, "room-1", "client-b", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
