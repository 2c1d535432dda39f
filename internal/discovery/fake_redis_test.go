package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis is a hand-written in-memory stand-in for redisCommander,
// following the teacher's testutil.MockDB pattern (a lock-guarded map, no
// mocking library) rather than a real Redis connection.
type fakeRedis struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
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

	flat := flattenHSetArgs(values)
	for k, v := range flat {
		h[k] = v
	}

	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(flat)))
	return cmd
}

func flattenHSetArgs(values []interface{}) map[string]string {
	out := make(map[string]string)
	if len(values) == 1 {
		if m, ok := values[0].(map[string]interface{}); ok {
			for k, v := range m {
				out[k] = toStr(v)
			}
			return out
		}
	}
	for i := 0; i+1 < len(values); i += 2 {
		k, _ := values[i].(string)
		out[k] = toStr(values[i+1])
	}
	return out
}

func toStr(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return itoa(t)
	default:
		return ""
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (f *fakeRedis) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := redis.NewMapStringStringCmd(ctx)
	h := f.hashes[key]
	out := make(map[string]string, len(h))
	for k, v := range h {
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
	added := 0
	for _, m := range members {
		str := toStr(m)
		if _, exists := s[str]; !exists {
			s[str] = struct{}{}
			added++
		}
	}

	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(added))
	return cmd
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	if s, ok := f.sets[key]; ok {
		for _, m := range members {
			str := toStr(m)
			if _, exists := s[str]; exists {
				delete(s, str)
				removed++
			}
		}
	}

	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(removed))
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
