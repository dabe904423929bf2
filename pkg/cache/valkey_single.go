package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platformbuilds/atalaya/internal/monitoring"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// valkeySingleImpl implements ValkeyCache against a single-node Valkey/Redis
// instance. Command behavior mirrors the cluster implementation.
type valkeySingleImpl struct {
	client *redis.Client
	logger logger.Logger
	ttl    time.Duration
}

func NewValkeySingle(addr string, db int, password string, defaultTTL time.Duration, log logger.Logger) (ValkeyCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey single-node: %w", err)
	}

	return &valkeySingleImpl{
		client: client,
		logger: log,
		ttl:    defaultTTL,
	}, nil
}

func (v *valkeySingleImpl) Get(ctx context.Context, key string) ([]byte, error) {
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

func (v *valkeySingleImpl) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
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

func (v *valkeySingleImpl) Delete(ctx context.Context, key string) error {
	if err := v.client.Del(ctx, key).Err(); err != nil {
		monitoring.RecordCacheOperation("delete", "error")
		return err
	}
	monitoring.RecordCacheOperation("delete", "success")
	return nil
}

func (v *valkeySingleImpl) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
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

func (v *valkeySingleImpl) GetCounter(ctx context.Context, key string) (int64, error) {
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

func (v *valkeySingleImpl) MGetCounters(ctx context.Context, keys []string) ([]int64, error) {
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

func (v *valkeySingleImpl) ZAddCapped(ctx context.Context, key string, score float64, member interface{}, cap int64) error {
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

func (v *valkeySingleImpl) ZRevRange(ctx context.Context, key string, limit int64) ([][]byte, error) {
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

func (v *valkeySingleImpl) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := v.client.ZCard(ctx, key).Result()
	if err != nil {
		monitoring.RecordCacheOperation("zcard", "error")
		return 0, err
	}
	return n, nil
}

func (v *valkeySingleImpl) HIncrBy(ctx context.Context, key, field string, incr int64, ttl time.Duration) (int64, error) {
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

func (v *valkeySingleImpl) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := v.client.HGetAll(ctx, key).Result()
	if err != nil {
		monitoring.RecordCacheOperation("hgetall", "error")
		return nil, err
	}
	return m, nil
}

func (v *valkeySingleImpl) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
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

func (v *valkeySingleImpl) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := v.client.SMembers(ctx, key).Result()
	if err != nil {
		monitoring.RecordCacheOperation("smembers", "error")
		return nil, err
	}
	return members, nil
}

func (v *valkeySingleImpl) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
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

func (v *valkeySingleImpl) ReleaseLock(ctx context.Context, key string) error {
	lockKey := fmt.Sprintf("lock:%s", key)
	if err := v.client.Del(ctx, lockKey).Err(); err != nil {
		monitoring.RecordCacheOperation("release_lock", "error")
		return err
	}
	monitoring.RecordCacheOperation("release_lock", "success")
	return nil
}

// HealthCheck pings the Valkey single-node instance.
func (v *valkeySingleImpl) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctx = c
	}
	return v.client.Ping(ctx).Err()
}
