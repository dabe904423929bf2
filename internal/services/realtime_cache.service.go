package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/pkg/cache"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// Cache key layout for the real-time view. Sorted sets are scored by record
// timestamp (milliseconds) and trimmed to their cap on every insert.
const (
	recentLogsKey   = "recent:logs"
	recentErrorsKey = "recent:errors"

	totalCounterKey   = "stats:count:total"
	errorCounterKey   = "stats:count:errors"
	warningCounterKey = "stats:count:warnings"

	sourceCounterPrefix = "stats:count:source:"
	sourceSetKey        = "stats:sources"
	hourlyBucketKey     = "stats:hourly"

	// errors:minute:<source>:<unixMinute> buckets back the error-count
	// provider for rate rules. Retained well past any sane rule window.
	minuteErrorPrefix = "errors:minute:"
	minuteErrorTTL    = time.Hour
)

// RealtimeCacheService maintains the low-latency view of recent activity:
// capped recency sets, rolling totals, per-source counters, hour-of-day
// buckets, and the per-minute error series consumed by rate rules.
//
// Counters carry a TTL refreshed on every write, so a counter that goes idle
// past the TTL silently restarts from zero. Reads never fail the caller: any
// cache error is logged and degrades to an empty or zero result.
type RealtimeCacheService struct {
	cache  cache.ValkeyCache
	logger logger.Logger

	counterTTL time.Duration
	recentCap  int64
	errorsCap  int64
}

func NewRealtimeCacheService(valkey cache.ValkeyCache, cfg *config.Config, log logger.Logger) *RealtimeCacheService {
	return &RealtimeCacheService{
		cache:      valkey,
		logger:     log,
		counterTTL: cfg.GetCacheTTL(),
		recentCap:  config.DefaultRecentLogsCap,
		errorsCap:  config.DefaultRecentErrorsCap,
	}
}

// Put records one normalized entry in every real-time structure. Writes are
// best-effort and independent: a failed structure is logged and skipped, and
// the first error is returned so the pipeline can count the record as
// degraded without aborting it.
func (s *RealtimeCacheService) Put(ctx context.Context, record *models.LogRecord) error {
	if record == nil {
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.ID, err)
	}
	score := float64(record.Timestamp.UnixMilli())

	var firstErr error
	fail := func(op string, err error) {
		if err == nil {
			return
		}
		s.logger.Warn("realtime cache write failed", "op", op, "recordId", record.ID, "error", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", op, err)
		}
	}

	fail("recent", s.cache.ZAddCapped(ctx, recentLogsKey, score, payload, s.recentCap))

	if _, err := s.cache.Incr(ctx, totalCounterKey, s.counterTTL); err != nil {
		fail("total counter", err)
	}

	switch record.Level {
	case models.LevelError, models.LevelFatal:
		fail("recent errors", s.cache.ZAddCapped(ctx, recentErrorsKey, score, payload, s.errorsCap))
		if _, err := s.cache.Incr(ctx, errorCounterKey, s.counterTTL); err != nil {
			fail("error counter", err)
		}
		fail("minute bucket", s.bumpMinuteErrors(ctx, record))
	case models.LevelWarn:
		if _, err := s.cache.Incr(ctx, warningCounterKey, s.counterTTL); err != nil {
			fail("warning counter", err)
		}
	}

	if src := record.Source; src != "" {
		if _, err := s.cache.Incr(ctx, sourceCounterPrefix+src, s.counterTTL); err != nil {
			fail("source counter", err)
		}
		fail("source registry", s.cache.SAdd(ctx, sourceSetKey, src, s.counterTTL))
	}

	hour := strconv.Itoa(record.Timestamp.Hour())
	if _, err := s.cache.HIncrBy(ctx, hourlyBucketKey, hour, 1, config.HourlyBucketRetention*time.Hour); err != nil {
		fail("hourly bucket", err)
	}

	return firstErr
}

func (s *RealtimeCacheService) bumpMinuteErrors(ctx context.Context, record *models.LogRecord) error {
	source := record.Source
	if source == "" {
		source = models.DefaultSource
	}
	key := minuteErrorKey(source, record.Timestamp)
	_, err := s.cache.Incr(ctx, key, minuteErrorTTL)
	return err
}

func minuteErrorKey(source string, at time.Time) string {
	return fmt.Sprintf("%s%s:%d", minuteErrorPrefix, source, at.Unix()/60)
}

// GetRecent returns up to limit of the most recent records, newest first.
// Cache failures and undecodable members degrade to an empty slice.
func (s *RealtimeCacheService) GetRecent(ctx context.Context, limit int) []*models.LogRecord {
	return s.readRecent(ctx, recentLogsKey, limit, s.recentCap)
}

// GetRecentErrors returns up to limit of the most recent ERROR/FATAL records,
// newest first.
func (s *RealtimeCacheService) GetRecentErrors(ctx context.Context, limit int) []*models.LogRecord {
	return s.readRecent(ctx, recentErrorsKey, limit, s.errorsCap)
}

func (s *RealtimeCacheService) readRecent(ctx context.Context, key string, limit int, bound int64) []*models.LogRecord {
	n := int64(limit)
	if n <= 0 || n > bound {
		n = bound
	}

	members, err := s.cache.ZRevRange(ctx, key, n)
	if err != nil {
		s.logger.Warn("realtime cache read failed", "key", key, "error", err)
		return []*models.LogRecord{}
	}

	records := make([]*models.LogRecord, 0, len(members))
	for _, m := range members {
		var rec models.LogRecord
		if err := json.Unmarshal(m, &rec); err != nil {
			s.logger.Warn("skipping undecodable cache member", "key", key, "error", err)
			continue
		}
		records = append(records, &rec)
	}
	return records
}

// GetStats assembles the aggregate real-time view: rolling totals, tracked
// set sizes, per-source counters, and hour-of-day buckets. Every partial
// failure is logged and leaves its section at the zero value.
func (s *RealtimeCacheService) GetStats(ctx context.Context) *models.RealtimeStats {
	stats := &models.RealtimeStats{}

	counters, err := s.cache.MGetCounters(ctx, []string{totalCounterKey, errorCounterKey, warningCounterKey})
	if err != nil {
		s.logger.Warn("realtime totals unavailable", "error", err)
	} else if len(counters) == 3 {
		stats.TotalCount = counters[0]
		stats.ErrorCount = counters[1]
		stats.WarningCount = counters[2]
	}

	if n, err := s.cache.ZCard(ctx, recentLogsKey); err == nil {
		stats.TrackedRecords = n
	} else {
		s.logger.Warn("recent set size unavailable", "error", err)
	}
	if n, err := s.cache.ZCard(ctx, recentErrorsKey); err == nil {
		stats.TrackedErrors = n
	} else {
		s.logger.Warn("recent errors size unavailable", "error", err)
	}

	stats.SourceCounts = s.sourceCounts(ctx)
	stats.HourlyCounts = s.hourlyCounts(ctx)
	return stats
}

func (s *RealtimeCacheService) sourceCounts(ctx context.Context) map[string]int64 {
	sources, err := s.cache.SMembers(ctx, sourceSetKey)
	if err != nil {
		s.logger.Warn("source registry unavailable", "error", err)
		return nil
	}
	if len(sources) == 0 {
		return nil
	}

	keys := make([]string, len(sources))
	for i, src := range sources {
		keys[i] = sourceCounterPrefix + src
	}
	counters, err := s.cache.MGetCounters(ctx, keys)
	if err != nil || len(counters) != len(sources) {
		s.logger.Warn("source counters unavailable", "error", err)
		return nil
	}

	counts := make(map[string]int64, len(sources))
	for i, src := range sources {
		if counters[i] > 0 {
			counts[src] = counters[i]
		}
	}
	return counts
}

func (s *RealtimeCacheService) hourlyCounts(ctx context.Context) []models.HourlyBucket {
	fields, err := s.cache.HGetAll(ctx, hourlyBucketKey)
	if err != nil {
		s.logger.Warn("hourly buckets unavailable", "error", err)
		return nil
	}
	if len(fields) == 0 {
		return nil
	}

	buckets := make([]models.HourlyBucket, 0, len(fields))
	for field, raw := range fields {
		hour, err := strconv.Atoi(field)
		if err != nil || hour < 0 || hour > 23 {
			continue
		}
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		buckets = append(buckets, models.HourlyBucket{Hour: hour, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Hour < buckets[j].Hour })
	return buckets
}

// ErrorCountInWindow sums the per-minute error buckets for source covering
// the trailing window ending now. Degrades to zero when the cache is down.
func (s *RealtimeCacheService) ErrorCountInWindow(ctx context.Context, source string, window time.Duration) int64 {
	if source == "" {
		source = models.DefaultSource
	}
	if window <= 0 {
		window = time.Minute
	}

	now := time.Now()
	minutes := int(window/time.Minute) + 1
	keys := make([]string, 0, minutes)
	for i := 0; i < minutes; i++ {
		keys = append(keys, minuteErrorKey(source, now.Add(-time.Duration(i)*time.Minute)))
	}

	counters, err := s.cache.MGetCounters(ctx, keys)
	if err != nil {
		s.logger.Warn("error window unavailable", "source", source, "error", err)
		return 0
	}
	var total int64
	for _, c := range counters {
		total += c
	}
	return total
}

// Clear drops every real-time structure. Minute-level error buckets are left
// to age out through their TTL.
func (s *RealtimeCacheService) Clear(ctx context.Context) error {
	keys := []string{
		recentLogsKey, recentErrorsKey,
		totalCounterKey, errorCounterKey, warningCounterKey,
		hourlyBucketKey,
	}

	if sources, err := s.cache.SMembers(ctx, sourceSetKey); err == nil {
		for _, src := range sources {
			keys = append(keys, sourceCounterPrefix+src)
		}
	}
	keys = append(keys, sourceSetKey)

	var firstErr error
	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return firstErr
}
