package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/platformbuilds/atalaya/pkg/logger"
)

// noopValkeyCache is an in-memory, process-local fallback satisfying
// ValkeyCache when the external cache is unavailable. It honors TTLs and
// sorted-set capping so degraded operation keeps the same observable
// semantics; data is not shared across replicas and is lost on restart.
type noopValkeyCache struct {
	mu     sync.RWMutex
	kv     map[string]noopValue
	zsets  map[string][]noopZMember
	hashes map[string]noopHash
	sets   map[string]noopSet
	logger logger.Logger
	now    func() time.Time
}

type noopValue struct {
	data      []byte
	expiresAt time.Time
}

type noopZMember struct {
	score float64
	data  string
}

type noopHash struct {
	fields    map[string]int64
	expiresAt time.Time
}

type noopSet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

func NewNoopValkeyCache(log logger.Logger) ValkeyCache {
	log.Warn("Valkey cache unavailable; using in-memory fallback (noop)")
	return &noopValkeyCache{
		kv:     make(map[string]noopValue),
		zsets:  make(map[string][]noopZMember),
		hashes: make(map[string]noopHash),
		sets:   make(map[string]noopSet),
		logger: log,
		now:    time.Now,
	}
}

func (n *noopValkeyCache) expired(t time.Time) bool {
	return !t.IsZero() && n.now().After(t)
}

func (n *noopValkeyCache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return n.now().Add(ttl)
}

func (n *noopValkeyCache) Get(_ context.Context, key string) ([]byte, error) {
	n.mu.RLock()
	v, ok := n.kv[key]
	n.mu.RUnlock()
	if !ok || n.expired(v.expiresAt) {
		return nil, fmt.Errorf("key not found: %s", key)
	}
	return v.data, nil
}

func (n *noopValkeyCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encodeValue(key, value)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.kv[key] = noopValue{data: data, expiresAt: n.deadline(ttl)}
	n.mu.Unlock()
	return nil
}

func (n *noopValkeyCache) Delete(_ context.Context, key string) error {
	n.mu.Lock()
	delete(n.kv, key)
	delete(n.zsets, key)
	delete(n.hashes, key)
	delete(n.sets, key)
	n.mu.Unlock()
	return nil
}

func (n *noopValkeyCache) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var cur int64
	if v, ok := n.kv[key]; ok && !n.expired(v.expiresAt) {
		cur, _ = strconv.ParseInt(string(v.data), 10, 64)
	}
	cur++
	n.kv[key] = noopValue{data: []byte(strconv.FormatInt(cur, 10)), expiresAt: n.deadline(ttl)}
	return cur, nil
}

func (n *noopValkeyCache) GetCounter(_ context.Context, key string) (int64, error) {
	n.mu.RLock()
	v, ok := n.kv[key]
	n.mu.RUnlock()
	if !ok || n.expired(v.expiresAt) {
		return 0, nil
	}
	cur, err := strconv.ParseInt(string(v.data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s holds non-numeric value: %w", key, err)
	}
	return cur, nil
}

func (n *noopValkeyCache) MGetCounters(ctx context.Context, keys []string) ([]int64, error) {
	out := make([]int64, len(keys))
	for i, k := range keys {
		c, err := n.GetCounter(ctx, k)
		if err != nil {
			continue
		}
		out[i] = c
	}
	return out, nil
}

func (n *noopValkeyCache) ZAddCapped(_ context.Context, key string, score float64, member interface{}, cap int64) error {
	data, err := encodeValue(key, member)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	ms := n.zsets[key]
	idx := sort.Search(len(ms), func(i int) bool { return ms[i].score > score })
	ms = append(ms, noopZMember{})
	copy(ms[idx+1:], ms[idx:])
	ms[idx] = noopZMember{score: score, data: string(data)}
	if cap > 0 && int64(len(ms)) > cap {
		ms = ms[int64(len(ms))-cap:]
	}
	n.zsets[key] = ms
	return nil
}

func (n *noopValkeyCache) ZRevRange(_ context.Context, key string, limit int64) ([][]byte, error) {
	if limit <= 0 {
		return nil, nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	ms := n.zsets[key]
	out := make([][]byte, 0, limit)
	for i := len(ms) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		out = append(out, []byte(ms[i].data))
	}
	return out, nil
}

func (n *noopValkeyCache) ZCard(_ context.Context, key string) (int64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return int64(len(n.zsets[key])), nil
}

func (n *noopValkeyCache) HIncrBy(_ context.Context, key, field string, incr int64, ttl time.Duration) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.hashes[key]
	if !ok || n.expired(h.expiresAt) {
		h = noopHash{fields: make(map[string]int64)}
	}
	h.fields[field] += incr
	h.expiresAt = n.deadline(ttl)
	n.hashes[key] = h
	return h.fields[field], nil
}

func (n *noopValkeyCache) HGetAll(_ context.Context, key string) (map[string]string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.hashes[key]
	if !ok || n.expired(h.expiresAt) {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(h.fields))
	for f, v := range h.fields {
		out[f] = strconv.FormatInt(v, 10)
	}
	return out, nil
}

func (n *noopValkeyCache) SAdd(_ context.Context, key, member string, ttl time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sets[key]
	if !ok || n.expired(s.expiresAt) {
		s = noopSet{members: make(map[string]struct{})}
	}
	s.members[member] = struct{}{}
	s.expiresAt = n.deadline(ttl)
	n.sets[key] = s
	return nil
}

func (n *noopValkeyCache) SMembers(_ context.Context, key string) ([]string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.sets[key]
	if !ok || n.expired(s.expiresAt) {
		return nil, nil
	}
	out := make([]string, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (n *noopValkeyCache) AcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	lockKey := fmt.Sprintf("lock:%s", key)
	n.mu.Lock()
	defer n.mu.Unlock()
	if v, ok := n.kv[lockKey]; ok && !n.expired(v.expiresAt) {
		return false, nil
	}
	n.kv[lockKey] = noopValue{data: []byte("locked"), expiresAt: n.deadline(ttl)}
	return true, nil
}

func (n *noopValkeyCache) ReleaseLock(_ context.Context, key string) error {
	n.mu.Lock()
	delete(n.kv, fmt.Sprintf("lock:%s", key))
	n.mu.Unlock()
	return nil
}

func (n *noopValkeyCache) HealthCheck(_ context.Context) error { return nil }
