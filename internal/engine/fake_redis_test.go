package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis is a hand-written in-memory stand-in satisfying discovery's
// unexported redisCommander interface structurally, the same
// testutil.MockDB-style fake used in the discovery package's own tests.
type fakeRedis struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: make(map[string]map[string]string), sets: make(map[string]map[string]struct{})}
}

func toStr(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	if len(values) == 1 {
		if m, ok := values[0].(map[string]interface{}); ok {
			for k, v := range m {
				h[k] = toStr(v)
			}
			cmd := redis.NewIntCmd(ctx)
			cmd.SetVal(int64(len(m)))
			return cmd
		}
	}
	for i := 0; i+1 < len(values); i += 2 {
		k, _ := values[i].(string)
		h[k] = toStr(values[i+1])
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(values) / 2))
	return cmd
}

func (f *fakeRedis) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewMapStringStringCmd(ctx)
	out := make(map[string]string)
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sets[key]
	if !ok {
		s = make(map[string]struct{})
		f.sets[key] = s
	}
	for _, m := range members {
		s[toStr(m)] = struct{}{}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sets[key]; ok {
		for _, m := range members {
			delete(s, toStr(m))
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeRedis) SRandMember(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	s := f.sets[key]
	if len(s) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	for member := range s {
		cmd.SetVal(member)
		break
	}
	return cmd
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	f.mu.Lock()
	_, ok := f.hashes[key]
	f.mu.Unlock()
	cmd.SetVal(ok)
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for _, k := range keys {
		if _, ok := f.hashes[k]; ok {
			delete(f.hashes, k)
			deleted++
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(deleted))
	return cmd
}
