package redisstate_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// fakeRedisClient is an in-memory stand-in for redisstate.RedisClient. It
// runs the Lease Store's four Lua scripts as plain Go, dispatching on a
// unique substring in each script's source text rather than an actual Lua
// interpreter.
//
// Script.Run always tries EvalSha first; this fake's EvalSha reports
// NOSCRIPT unconditionally so Script.Run falls back to Eval with the full
// source, which is the only call this fake needs to understand.
type fakeRedisClient struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
	sets    map[string]map[string]struct{}
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
		sets:    make(map[string]map[string]struct{}),
	}
}

func (f *fakeRedisClient) getLocked(key string) (string, bool) {
	if exp, ok := f.expires[key]; ok && !time.Now().Before(exp) {
		delete(f.values, key)
		delete(f.expires, key)
		return "", false
	}
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeRedisClient) pttlLocked(key string) int64 {
	exp, ok := f.expires[key]
	if !ok {
		return 0
	}
	remaining := time.Until(exp).Milliseconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (f *fakeRedisClient) setLocked(key, val string, ttlMs int64) {
	f.values[key] = val
	f.expires[key] = time.Now().Add(time.Duration(ttlMs) * time.Millisecond)
}

func (f *fakeRedisClient) delLocked(key string) {
	delete(f.values, key)
	delete(f.expires, key)
}

func (f *fakeRedisClient) saddLocked(setKey, member string) {
	if f.sets[setKey] == nil {
		f.sets[setKey] = make(map[string]struct{})
	}
	f.sets[setKey][member] = struct{}{}
}

func (f *fakeRedisClient) sremLocked(setKey, member string) {
	delete(f.sets[setKey], member)
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func (f *fakeRedisClient) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	cmd.SetErr(errors.New("NOSCRIPT No matching script. Please use EVAL."))
	return cmd
}

func (f *fakeRedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(script, "SADD"):
		f.evalAcquireGroup(cmd, keys, args)
	case strings.Contains(script, "PEXPIRE"):
		f.evalExtendGroup(cmd, keys, args)
	case strings.Contains(script, "table.insert"):
		f.evalReleaseGroup(cmd, keys, args)
	default:
		f.evalRelease(cmd, keys, args)
	}
	return cmd
}

func (f *fakeRedisClient) evalAcquireGroup(cmd *redis.Cmd, keys []string, args []interface{}) {
	clientID := args[0].(string)
	ttlMs := toInt64(args[1])
	lockKeys := keys[1:]
	blockIDs := args[2:]

	for i, lk := range lockKeys {
		owner, held := f.getLocked(lk)
		if held && owner != clientID {
			cmd.SetVal([]interface{}{int64(0), owner, blockIDs[i], f.pttlLocked(lk)})
			return
		}
	}
	for i, lk := range lockKeys {
		f.setLocked(lk, clientID, ttlMs)
		f.saddLocked(keys[0], blockIDs[i].(string))
	}
	cmd.SetVal([]interface{}{int64(1), "", ""})
}

func (f *fakeRedisClient) evalRelease(cmd *redis.Cmd, keys []string, args []interface{}) {
	lockKey, clientLocksKey := keys[0], keys[1]
	clientID, blockID := args[0].(string), args[1].(string)
	if owner, held := f.getLocked(lockKey); held && owner == clientID {
		f.delLocked(lockKey)
		f.sremLocked(clientLocksKey, blockID)
		cmd.SetVal(int64(1))
		return
	}
	cmd.SetVal(int64(0))
}

func (f *fakeRedisClient) evalReleaseGroup(cmd *redis.Cmd, keys []string, args []interface{}) {
	clientLocksKey := keys[0]
	clientID := args[0].(string)
	lockKeys := keys[1:]
	blockIDs := args[1:]

	released := make([]interface{}, 0, len(lockKeys))
	for i, lk := range lockKeys {
		if owner, held := f.getLocked(lk); held && owner == clientID {
			f.delLocked(lk)
			blockID := blockIDs[i].(string)
			f.sremLocked(clientLocksKey, blockID)
			released = append(released, blockID)
		}
	}
	cmd.SetVal(released)
}

func (f *fakeRedisClient) evalExtendGroup(cmd *redis.Cmd, keys []string, args []interface{}) {
	clientID := args[0].(string)
	ttlMs := toInt64(args[1])
	var refreshed int64
	for _, lk := range keys[1:] {
		if owner, held := f.getLocked(lk); held && owner == clientID {
			f.expires[lk] = time.Now().Add(time.Duration(ttlMs) * time.Millisecond)
			refreshed++
		}
	}
	cmd.SetVal(refreshed)
}

func (f *fakeRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if v, ok := f.getLocked(key); ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (f *fakeRedisClient) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringSliceCmd(ctx)
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	cmd.SetVal(members)
	return cmd
}

// Scan is unimplemented: Snapshot()'s cursor-based SCAN+Iterator loop isn't
// exercised against this fake, only against a real Redis instance.
func (f *fakeRedisClient) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	panic("fakeRedisClient: Scan is not implemented")
}

func (f *fakeRedisClient) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

func (f *fakeRedisClient) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("")
	return cmd
}
