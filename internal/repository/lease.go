package repository

import (
	"context"
	"time"

	"github.com/Kaping/blockshare/internal/domain"
)

// LeaseStore is the atomic, TTL-backed lock manager behind block editing
// leases. All multi-key operations are implemented as single round-trip
// atomic scripts so concurrent clients never observe a partial grant.
type LeaseStore interface {
	// AcquireMany attempts to grant leases on every blockID in one atomic
	// step. On conflict, none of the requested blocks are granted and the
	// offending block/owner pair is returned.
	AcquireMany(ctx context.Context, roomID, clientID string, blockIDs []string, ttl time.Duration) (domain.AcquireResult, error)

	// Release releases a single lease if, and only if, clientID is its
	// current owner. Returns whether it released anything.
	Release(ctx context.Context, roomID, clientID, blockID string) (bool, error)

	// ReleaseAll releases every lease currently owned by clientID in the
	// room and returns the block ids that were released.
	ReleaseAll(ctx context.Context, roomID, clientID string) ([]string, error)

	// ExtendByOwner refreshes the TTL on every lease clientID owns in the
	// room. Returns the number of leases refreshed.
	ExtendByOwner(ctx context.Context, roomID, clientID string, ttl time.Duration) (int, error)

	// Snapshot returns the full blockID -> owner clientID map for a room,
	// used to build INIT_STATE for a newly admitted client.
	Snapshot(ctx context.Context, roomID string) (map[string]string, error)
}
