// Package redisstate holds the Redis-backed implementations of the
// repository interfaces that need shared, TTL-aware state.
package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/Kaping/blockshare/internal/domain"
)

// acquireGroupScript grants every requested lock only if none of them are
// held by a different client, in one atomic round trip.
var acquireGroupScript = redis.NewScript(`
local client_locks_key = KEYS[1]
local client_id = ARGV[1]
local ttl_ms = ARGV[2]

for i = 2, #KEYS do
	local owner = redis.call('GET', KEYS[i])
	if owner and owner ~= client_id then
		local pttl = redis.call('PTTL', KEYS[i])
		if pttl < 0 then
			pttl = 0
		end
		return {0, owner, ARGV[i + 1], pttl}
	end
end

for i = 2, #KEYS do
	redis.call('SET', KEYS[i], client_id, 'PX', ttl_ms)
	redis.call('SADD', client_locks_key, ARGV[i + 1])
end

return {1, '', ''}
`)

// releaseScript deletes a single lock only if clientID currently owns it.
var releaseScript = redis.NewScript(`
local lock_key = KEYS[1]
local client_locks_key = KEYS[2]
local client_id = ARGV[1]
local block_id = ARGV[2]

local owner = redis.call('GET', lock_key)
if owner == client_id then
	redis.call('DEL', lock_key)
	redis.call('SREM', client_locks_key, block_id)
	return 1
end
return 0
`)

// releaseGroupScript releases every lock in the client's owned set,
// skipping any the caller no longer actually owns.
var releaseGroupScript = redis.NewScript(`
local client_locks_key = KEYS[1]
local client_id = ARGV[1]

local released = {}
for i = 2, #KEYS do
	local owner = redis.call('GET', KEYS[i])
	if owner == client_id then
		redis.call('DEL', KEYS[i])
		local block_id = ARGV[i]
		redis.call('SREM', client_locks_key, block_id)
		table.insert(released, block_id)
	end
end
return released
`)

// extendGroupScript refreshes the TTL on every lock the client owns.
var extendGroupScript = redis.NewScript(`
local client_locks_key = KEYS[1]
local client_id = ARGV[1]
local ttl_ms = ARGV[2]

local refreshed = 0
for i = 2, #KEYS do
	local owner = redis.call('GET', KEYS[i])
	if owner == client_id then
		redis.call('PEXPIRE', KEYS[i], ttl_ms)
		refreshed = refreshed + 1
	end
end
return refreshed
`)

// RedisClient is the subset of *redis.Client the Lease Store drives: Lua
// script execution plus the handful of plain commands Snapshot and the
// group scripts' SMEMBERS lookups need. Narrowing to an interface lets
// tests exercise the store against a fake script-runner instead of a real
// Redis server.
type RedisClient interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// LeaseStore is the go-redis/v8 backed repository.LeaseStore implementation.
type LeaseStore struct {
	client    RedisClient
	keyPrefix string
}

func NewLeaseStore(client RedisClient, keyPrefix string) *LeaseStore {
	if client == nil {
		panic("redis client cannot be nil for LeaseStore")
	}
	if keyPrefix == "" {
		keyPrefix = "bs:"
	}
	return &LeaseStore{client: client, keyPrefix: keyPrefix}
}

func (s *LeaseStore) lockKey(roomID, blockID string) string {
	return fmt.Sprintf("%slocks:%s:%s", s.keyPrefix, roomID, blockID)
}

func (s *LeaseStore) clientLocksKey(roomID, clientID string) string {
	return fmt.Sprintf("%sclientlocks:%s:%s", s.keyPrefix, roomID, clientID)
}

func (s *LeaseStore) AcquireMany(ctx context.Context, roomID, clientID string, blockIDs []string, ttl time.Duration) (domain.AcquireResult, error) {
	if len(blockIDs) == 0 {
		return domain.AcquireResult{Granted: true}, nil
	}

	keys := make([]string, 0, len(blockIDs)+1)
	keys = append(keys, s.clientLocksKey(roomID, clientID))
	args := make([]interface{}, 0, len(blockIDs)+2)
	args = append(args, clientID, ttl.Milliseconds())
	for _, b := range blockIDs {
		keys = append(keys, s.lockKey(roomID, b))
		args = append(args, b)
	}

	res, err := acquireGroupScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return domain.AcquireResult{}, fmt.Errorf("redisstate: acquire_many eval: %w", err)
	}
	granted, _ := res[0].(int64)
	if granted == 1 {
		return domain.AcquireResult{Granted: true}, nil
	}
	owner, _ := res[1].(string)
	conflictBlock, _ := res[2].(string)
	if owner == "" {
		return domain.AcquireResult{Granted: false}, nil
	}
	var remainingMs int64
	if len(res) > 3 {
		remainingMs, _ = res[3].(int64)
	}
	return domain.AcquireResult{
		Granted:  false,
		Conflict: &domain.LeaseConflict{BlockID: conflictBlock, Owner: owner, RemainingMs: remainingMs},
	}, nil
}

func (s *LeaseStore) Release(ctx context.Context, roomID, clientID, blockID string) (bool, error) {
	res, err := releaseScript.Run(ctx, s.client, []string{
		s.lockKey(roomID, blockID),
		s.clientLocksKey(roomID, clientID),
	}, clientID, blockID).Int()
	if err != nil {
		return false, fmt.Errorf("redisstate: release eval: %w", err)
	}
	return res == 1, nil
}

func (s *LeaseStore) ReleaseAll(ctx context.Context, roomID, clientID string) ([]string, error) {
	clientLocksKey := s.clientLocksKey(roomID, clientID)
	blockIDs, err := s.client.SMembers(ctx, clientLocksKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstate: release_all smembers: %w", err)
	}
	if len(blockIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(blockIDs)+1)
	keys = append(keys, clientLocksKey)
	args := make([]interface{}, 0, len(blockIDs)+1)
	args = append(args, clientID)
	for _, b := range blockIDs {
		keys = append(keys, s.lockKey(roomID, b))
		args = append(args, b)
	}

	res, err := releaseGroupScript.Run(ctx, s.client, keys, args...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redisstate: release_all eval: %w", err)
	}
	return res, nil
}

func (s *LeaseStore) ExtendByOwner(ctx context.Context, roomID, clientID string, ttl time.Duration) (int, error) {
	clientLocksKey := s.clientLocksKey(roomID, clientID)
	blockIDs, err := s.client.SMembers(ctx, clientLocksKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstate: extend smembers: %w", err)
	}
	if len(blockIDs) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(blockIDs)+1)
	keys = append(keys, clientLocksKey)
	args := make([]interface{}, 0, len(blockIDs)+1)
	args = append(args, clientID, ttl.Milliseconds())
	for _, b := range blockIDs {
		keys = append(keys, s.lockKey(roomID, b))
	}

	res, err := extendGroupScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("redisstate: extend eval: %w", err)
	}
	return res, nil
}

func (s *LeaseStore) Snapshot(ctx context.Context, roomID string) (map[string]string, error) {
	pattern := s.lockKey(roomID, "*")
	locks := make(map[string]string)

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		owner, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redisstate: snapshot get %s: %w", key, err)
		}
		blockID := key[len(s.keyPrefix)+len("locks:")+len(roomID)+1:]
		locks[blockID] = owner
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redisstate: snapshot scan: %w", err)
	}
	logrus.WithField("room_id", roomID).WithField("count", len(locks)).Debug("lease snapshot built")
	return locks, nil
}
