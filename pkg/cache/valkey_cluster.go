package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platformbuilds/atalaya/internal/monitoring"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// ValkeyCache is the low-latency cache contract the realtime view and the
// alert engine run against. All operations are best-effort from the caller's
// perspective; a miss on Get is an error so callers can tell miss from empty.
type ValkeyCache interface {
	// General key-value
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Rolling counters: Incr bumps and refreshes the TTL in one round trip,
	// so a counter silently resets once idle past its TTL.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	GetCounter(ctx context.Context, key string) (int64, error)
	MGetCounters(ctx context.Context, keys []string) ([]int64, error)

	// Timestamp-scored recency views. ZAddCapped trims the lowest-scored
	// members past cap after every insert.
	ZAddCapped(ctx context.Context, key string, score float64, member interface{}, cap int64) error
	ZRevRange(ctx context.Context, key string, limit int64) ([][]byte, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// Hash counters with a key-level TTL refreshed per write.
	HIncrBy(ctx context.Context, key, field string, incr int64, ttl time.Duration) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Plain sets (source registry).
	SAdd(ctx context.Context, key, member string, ttl time.Duration) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Distributed locks (SET NX).
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error

	HealthCheck(ctx context.Context) error
}

type valkeyClusterImpl struct {
	client *redis.ClusterClient
	logger logger.Logger
	ttl    time.Duration
}

func NewValkeyCluster(nodes []string, password string, defaultTTL time.Duration, log logger.Logger) (ValkeyCache, error) {
	client := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:        nodes,
		Password:     password,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey cluster: %w", err)
	}

	return &valkeyClusterImpl{
		client: client,
		logger: log,
		ttl:    defaultTTL,
	}, nil
}

func (v *valkeyClusterImpl) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := v.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		monitoring.RecordCacheOperation("get", "miss")
		return nil, fmt.Errorf("key not found: %s", key)
	}
	if err != nil {
		monitoring.RecordCacheOperation("get", "error")
		return nil, err
	}
	monitoring.RecordCacheOperation("get", "hit")
	return b, nil
}

func (v *valkeyClusterImpl) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encodeValue(key, value)
	if err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return err
	}
	if ttl <= 0 {
		ttl = v.ttl
	}
	if err := v.client.Set(ctx, key, data, ttl).Err(); err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return err
	}
	monitoring.RecordCacheOperation("set", "success")
	return nil
}

func (v *valkeyClusterImpl) Delete(ctx context.Context, key string) error {
	if err := v.client.Del(ctx, key).Err(); err != nil {
		monitoring.RecordCacheOperation("delete", "error")
		return err
	}
	monitoring.RecordCacheOperation("delete", "success")
	return nil
}

func (v *valkeyClusterImpl) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := v.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		monitoring.RecordCacheOperation("incr", "error")
		return 0, err
	}
	monitoring.RecordCacheOperation("incr", "success")
	return incr.Val(), nil
}

func (v *valkeyClusterImpl) GetCounter(ctx context.Context, key string) (int64, error) {
	s, err := v.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		monitoring.RecordCacheOperation("get_counter", "error")
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s holds non-numeric value: %w", key, err)
	}
	return n, nil
}

func (v *valkeyClusterImpl) MGetCounters(ctx context.Context, keys []string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := v.client.MGet(ctx, keys...).Result()
	if err != nil {
		monitoring.RecordCacheOperation("mget", "error")
		return nil, err
	}
	out := make([]int64, len(keys))
	for i, raw := range vals {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if n, perr := strconv.ParseInt(s, 10, 64); perr == nil {
			out[i] = n
		}
	}
	return out, nil
}

func (v *valkeyClusterImpl) ZAddCapped(ctx context.Context, key string, score float64, member interface{}, cap int64) error {
	data, err := encodeValue(key, member)
	if err != nil {
		monitoring.RecordCacheOperation("zadd", "error")
		return err
	}
	_, err = v.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, &redis.Z{Score: score, Member: data})
		if cap > 0 {
			p.ZRemRangeByRank(ctx, key, 0, -(cap + 1))
		}
		return nil
	})
	if err != nil {
		monitoring.RecordCacheOperation("zadd", "error")
		return err
	}
	monitoring.RecordCacheOperation("zadd", "success")
	return nil
}

func (v *valkeyClusterImpl) ZRevRange(ctx context.Context, key string, limit int64) ([][]byte, error) {
	if limit <= 0 {
		return nil, nil
	}
	members, err := v.client.ZRevRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		monitoring.RecordCacheOperation("zrevrange", "error")
		return nil, err
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}

func (v *valkeyClusterImpl) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := v.client.ZCard(ctx, key).Result()
	if err != nil {
		monitoring.RecordCacheOperation("zcard", "error")
		return 0, err
	}
	return n, nil
}

func (v *valkeyClusterImpl) HIncrBy(ctx context.Context, key, field string, incr int64, ttl time.Duration) (int64, error) {
	var cmd *redis.IntCmd
	_, err := v.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		cmd = p.HIncrBy(ctx, key, field, incr)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		monitoring.RecordCacheOperation("hincrby", "error")
		return 0, err
	}
	monitoring.RecordCacheOperation("hincrby", "success")
	return cmd.Val(), nil
}

func (v *valkeyClusterImpl) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := v.client.HGetAll(ctx, key).Result()
	if err != nil {
		monitoring.RecordCacheOperation("hgetall", "error")
		return nil, err
	}
	return m, nil
}

func (v *valkeyClusterImpl) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	_, err := v.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, member)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		monitoring.RecordCacheOperation("sadd", "error")
		return err
	}
	return nil
}

func (v *valkeyClusterImpl) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := v.client.SMembers(ctx, key).Result()
	if err != nil {
		monitoring.RecordCacheOperation("smembers", "error")
		return nil, err
	}
	return members, nil
}

func (v *valkeyClusterImpl) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lockKey := fmt.Sprintf("lock:%s", key)
	set, err := v.client.SetNX(ctx, lockKey, "locked", ttl).Result()
	if err != nil {
		monitoring.RecordCacheOperation("acquire_lock", "error")
		return false, err
	}
	if set {
		monitoring.RecordCacheOperation("acquire_lock", "success")
	} else {
		monitoring.RecordCacheOperation("acquire_lock", "conflict")
	}
	return set, nil
}

func (v *valkeyClusterImpl) ReleaseLock(ctx context.Context, key string) error {
	lockKey := fmt.Sprintf("lock:%s", key)
	if err := v.client.Del(ctx, lockKey).Err(); err != nil {
		monitoring.RecordCacheOperation("release_lock", "error")
		return err
	}
	monitoring.RecordCacheOperation("release_lock", "success")
	return nil
}

func (v *valkeyClusterImpl) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctx = c
	}
	return v.client.Ping(ctx).Err()
}

// encodeValue normalizes cache values to bytes: raw bytes and strings pass
// through, everything else is JSON.
func encodeValue(key string, value interface{}) ([]byte, error) {
	switch x := value.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		j, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %s: %w", key, err)
		}
		return j, nil
	}
}
