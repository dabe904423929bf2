package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/platformbuilds/atalaya/internal/models"
)

// IngestStatsService keeps process-wide ingestion counters, independent of
// the cache-backed realtime view: these survive a Valkey outage and reset
// only on restart. Totals use atomics; the per-source map is guarded by a
// mutex and copied on snapshot.
type IngestStatsService struct {
	totalProcessed int64
	totalFailed    int64

	mu        sync.RWMutex
	perSource map[string]int64

	startedAt time.Time
}

func NewIngestStatsService() *IngestStatsService {
	return &IngestStatsService{
		perSource: make(map[string]int64),
		startedAt: time.Now(),
	}
}

// RecordProcessed counts one record accepted by the pipeline under its
// source label.
func (s *IngestStatsService) RecordProcessed(source string) {
	atomic.AddInt64(&s.totalProcessed, 1)
	if source == "" {
		source = models.DefaultSource
	}
	s.mu.Lock()
	s.perSource[source]++
	s.mu.Unlock()
}

// RecordFailed counts one record whose downstream handling (cache write or
// rule evaluation) errored. Such records still count as processed.
func (s *IngestStatsService) RecordFailed() {
	atomic.AddInt64(&s.totalFailed, 1)
}

// Snapshot returns a point-in-time copy of all counters with the derived
// success rate: (processed-failed)/processed, or 1.0 before any traffic.
func (s *IngestStatsService) Snapshot() *models.IngestStats {
	processed := atomic.LoadInt64(&s.totalProcessed)
	failed := atomic.LoadInt64(&s.totalFailed)

	s.mu.RLock()
	perSource := make(map[string]int64, len(s.perSource))
	for src, n := range s.perSource {
		perSource[src] = n
	}
	s.mu.RUnlock()

	rate := 1.0
	if processed > 0 {
		rate = float64(processed-failed) / float64(processed)
	}

	return &models.IngestStats{
		TotalProcessed: processed,
		TotalFailed:    failed,
		PerSource:      perSource,
		SuccessRate:    rate,
		StartedAt:      s.startedAt,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
	}
}
