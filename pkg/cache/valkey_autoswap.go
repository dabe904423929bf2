package cache

import (
	"context"
	"sync"
	"time"

	"github.com/platformbuilds/atalaya/pkg/logger"
)

// autoSwapCache starts on a fallback implementation (in-memory noop) and
// atomically swaps to a real Valkey client once one can be dialed. All calls
// delegate to whichever implementation is active.
type autoSwapCache struct {
	mu      sync.RWMutex
	current ValkeyCache
	logger  logger.Logger
	stopCh  chan struct{}
}

func newAutoSwapCache(fallback ValkeyCache, log logger.Logger, dialReal func() (ValkeyCache, error)) *autoSwapCache {
	a := &autoSwapCache{
		current: fallback,
		logger:  log,
		stopCh:  make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				real, err := dialReal()
				if err != nil {
					a.logger.Warn("Valkey connection attempt failed; will retry", "error", err)
					continue
				}
				a.mu.Lock()
				a.current = real
				a.mu.Unlock()
				a.logger.Info("Valkey connection established; switched from in-memory to real cache")
				return // stop after first successful swap
			}
		}
	}()

	return a
}

// Stop stops the background connector (used if the parent context is cancelled).
func (a *autoSwapCache) Stop() { close(a.stopCh) }

func (a *autoSwapCache) active() ValkeyCache {
	a.mu.RLock()
	c := a.current
	a.mu.RUnlock()
	return c
}

func (a *autoSwapCache) Get(ctx context.Context, key string) ([]byte, error) {
	return a.active().Get(ctx, key)
}

func (a *autoSwapCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return a.active().Set(ctx, key, value, ttl)
}

func (a *autoSwapCache) Delete(ctx context.Context, key string) error {
	return a.active().Delete(ctx, key)
}

func (a *autoSwapCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return a.active().Incr(ctx, key, ttl)
}

func (a *autoSwapCache) GetCounter(ctx context.Context, key string) (int64, error) {
	return a.active().GetCounter(ctx, key)
}

func (a *autoSwapCache) MGetCounters(ctx context.Context, keys []string) ([]int64, error) {
	return a.active().MGetCounters(ctx, keys)
}

func (a *autoSwapCache) ZAddCapped(ctx context.Context, key string, score float64, member interface{}, cap int64) error {
	return a.active().ZAddCapped(ctx, key, score, member, cap)
}

func (a *autoSwapCache) ZRevRange(ctx context.Context, key string, limit int64) ([][]byte, error) {
	return a.active().ZRevRange(ctx, key, limit)
}

func (a *autoSwapCache) ZCard(ctx context.Context, key string) (int64, error) {
	return a.active().ZCard(ctx, key)
}

func (a *autoSwapCache) HIncrBy(ctx context.Context, key, field string, incr int64, ttl time.Duration) (int64, error) {
	return a.active().HIncrBy(ctx, key, field, incr, ttl)
}

func (a *autoSwapCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return a.active().HGetAll(ctx, key)
}

func (a *autoSwapCache) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	return a.active().SAdd(ctx, key, member, ttl)
}

func (a *autoSwapCache) SMembers(ctx context.Context, key string) ([]string, error) {
	return a.active().SMembers(ctx, key)
}

func (a *autoSwapCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return a.active().AcquireLock(ctx, key, ttl)
}

func (a *autoSwapCache) ReleaseLock(ctx context.Context, key string) error {
	return a.active().ReleaseLock(ctx, key)
}

func (a *autoSwapCache) HealthCheck(ctx context.Context) error {
	return a.active().HealthCheck(ctx)
}

// NewAutoSwapForSingle upgrades from in-memory to a single-node Valkey client
// when it becomes reachable.
func NewAutoSwapForSingle(addr string, db int, password string, ttl time.Duration, log logger.Logger, fallback ValkeyCache) ValkeyCache {
	return newAutoSwapCache(fallback, log, func() (ValkeyCache, error) {
		return NewValkeySingle(addr, db, password, ttl, log)
	})
}

// NewAutoSwapForCluster upgrades from in-memory to a Valkey cluster client
// when it becomes reachable.
func NewAutoSwapForCluster(nodes []string, password string, ttl time.Duration, log logger.Logger, fallback ValkeyCache) ValkeyCache {
	return newAutoSwapCache(fallback, log, func() (ValkeyCache, error) {
		return NewValkeyCluster(nodes, password, ttl, log)
	})
}
