package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/logparse"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/monitoring"
	"github.com/platformbuilds/atalaya/internal/tracing"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// Topics understood by the live push hub.
const (
	TopicLogs   = "logs"
	TopicAlerts = "alerts"
)

// Broadcaster pushes pipeline output to live subscribers. Implemented by the
// websocket hub; a nil broadcaster disables push.
type Broadcaster interface {
	Broadcast(topic string, payload interface{})
}

type queuedLine struct {
	line   string
	source string
}

// IngestPipelineService normalizes raw lines and fans each record out to the
// cache, the alert engine, both indexes and the push hub. Asynchronous intake
// is sharded by source hash so records from one source keep their arrival
// order while sources proceed in parallel. Downstream stages are bulkheaded:
// a failing or panicking stage is logged and counted, the remaining stages
// still run, and the record is never lost to a sibling's fault.
type IngestPipelineService struct {
	parser   *logparse.Parser
	enricher *logparse.Enricher
	cache    *RealtimeCacheService
	engine   *AlertEngineService
	index    *SearchIndexService
	recent   *RecentSearchService
	stats    *IngestStatsService
	logger   logger.Logger

	broadcaster Broadcaster

	defaultSource string
	queues        []chan queuedLine
	queued        int64
	startOnce     sync.Once
	wg            sync.WaitGroup
}

// NewIngestPipelineService wires the pipeline. The alert engine, the external
// index, the recent index and the broadcaster may each be nil; the matching
// stage is skipped.
func NewIngestPipelineService(
	cfg *config.Config,
	cache *RealtimeCacheService,
	engine *AlertEngineService,
	index *SearchIndexService,
	recent *RecentSearchService,
	stats *IngestStatsService,
	log logger.Logger,
) *IngestPipelineService {
	workers := cfg.Ingest.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.Ingest.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	defaultSource := strings.TrimSpace(cfg.Ingest.DefaultSource)
	if defaultSource == "" {
		defaultSource = models.DefaultSource
	}

	queues := make([]chan queuedLine, workers)
	for i := range queues {
		queues[i] = make(chan queuedLine, queueSize)
	}

	return &IngestPipelineService{
		parser:        logparse.NewParser(),
		enricher:      logparse.NewEnricher(),
		cache:         cache,
		engine:        engine,
		index:         index,
		recent:        recent,
		stats:         stats,
		logger:        log,
		defaultSource: defaultSource,
		queues:        queues,
	}
}

// SetBroadcaster attaches the live push hub. Safe to leave unset.
func (s *IngestPipelineService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Start launches the worker pool. Workers run until ctx is cancelled; call
// Drain afterwards to wait for them to exit.
func (s *IngestPipelineService) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for i := range s.queues {
			s.wg.Add(1)
			go s.worker(ctx, i)
		}
		s.logger.Info("ingest pipeline started",
			"workers", len(s.queues), "queueSize", cap(s.queues[0]))
	})
}

// Drain blocks until all workers have stopped. Lines still queued when the
// context was cancelled are dropped; stream intake redelivers unacked ones.
func (s *IngestPipelineService) Drain() {
	s.wg.Wait()
	s.logger.Info("ingest pipeline drained")
}

// QueueDepth reports how many lines are waiting across all worker queues.
func (s *IngestPipelineService) QueueDepth() int64 {
	return atomic.LoadInt64(&s.queued)
}

// Process ingests one line synchronously and returns the stored record. Used
// by the HTTP request path. It never fails: parsing is total and downstream
// faults are absorbed per stage.
func (s *IngestPipelineService) Process(ctx context.Context, line, source string) *models.LogRecord {
	return s.process(ctx, line, s.normalizeSource(source))
}

// ProcessBulk ingests a batch sharing one default source. Cache writes, rule
// evaluation and push happen per record; both index writes go through the
// batch endpoints.
func (s *IngestPipelineService) ProcessBulk(ctx context.Context, lines []string, source string) []*models.LogRecord {
	source = s.normalizeSource(source)
	records := make([]*models.LogRecord, 0, len(lines))

	for _, line := range lines {
		rec := s.parser.Parse(line, source)
		s.enricher.Enrich(rec)
		monitoring.RecordIngestedRecord(rec.Source, rec.OriginalFormat)

		failed := false
		if !s.runStage(ctx, rec, "cache", func() error { return s.cache.Put(ctx, rec) }) {
			failed = true
		}
		if s.engine != nil {
			if !s.runStage(ctx, rec, "evaluate", func() error { return s.engine.Evaluate(ctx, rec) }) {
				failed = true
			}
		}
		s.push(ctx, rec)

		s.stats.RecordProcessed(rec.Source)
		if failed {
			s.stats.RecordFailed()
		}
		records = append(records, rec)
	}

	if s.index != nil && len(records) > 0 {
		s.runBatchStage(records, "index", func() error { return s.index.BulkIndex(ctx, records) })
	}
	if s.recent != nil && len(records) > 0 {
		s.runBatchStage(records, "recent_index", func() error { return s.recent.IndexBatch(records) })
	}
	return records
}

// Submit queues one line for asynchronous processing, preserving per-source
// order via the shard hash. Blocks when the shard's queue is full so stream
// intake gets natural backpressure.
func (s *IngestPipelineService) Submit(ctx context.Context, line, source string) error {
	source = s.normalizeSource(source)
	select {
	case s.queues[s.shard(source)] <- queuedLine{line: line, source: source}:
		depth := atomic.AddInt64(&s.queued, 1)
		monitoring.SetIngestQueueDepth(float64(depth))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *IngestPipelineService) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-s.queues[id]:
			depth := atomic.AddInt64(&s.queued, -1)
			monitoring.SetIngestQueueDepth(float64(depth))
			s.process(ctx, item.line, item.source)
		}
	}
}

func (s *IngestPipelineService) process(ctx context.Context, line, source string) *models.LogRecord {
	ctx, span := tracing.GetGlobalTracer().StartRecordSpan(ctx, source)
	defer span.End()

	rec := s.parser.Parse(line, source)
	s.enricher.Enrich(rec)
	monitoring.RecordIngestedRecord(rec.Source, rec.OriginalFormat)
	tracing.GetGlobalTracer().RecordParsedAttributes(span, rec.OriginalFormat, string(rec.Level))

	// Only cache and evaluation faults count the record as failed; index and
	// push faults are retried by other means or tolerable.
	failed := false
	if !s.runStage(ctx, rec, "cache", func() error { return s.cache.Put(ctx, rec) }) {
		failed = true
	}
	if s.engine != nil {
		if !s.runStage(ctx, rec, "evaluate", func() error { return s.engine.Evaluate(ctx, rec) }) {
			failed = true
		}
	}
	if s.index != nil {
		s.runStage(ctx, rec, "index", func() error { return s.index.IndexRecord(ctx, rec) })
	}
	if s.recent != nil {
		s.runStage(ctx, rec, "recent_index", func() error { return s.recent.Index(rec) })
	}
	s.push(ctx, rec)

	s.stats.RecordProcessed(rec.Source)
	if failed {
		s.stats.RecordFailed()
	}
	return rec
}

func (s *IngestPipelineService) push(ctx context.Context, rec *models.LogRecord) {
	if s.broadcaster == nil {
		return
	}
	s.runStage(ctx, rec, "broadcast", func() error {
		s.broadcaster.Broadcast(TopicLogs, rec)
		return nil
	})
}

// runStage executes one bulkhead-isolated pipeline stage. Errors and panics
// are logged and counted against the stage, never propagated.
func (s *IngestPipelineService) runStage(ctx context.Context, rec *models.LogRecord, stage string, fn func() error) (ok bool) {
	_, span := tracing.GetGlobalTracer().StartStageSpan(ctx, stage)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			ok = false
			monitoring.RecordIngestFailure(rec.Source, stage)
			s.logger.Error("ingest stage panicked",
				"stage", stage, "recordId", rec.ID, "source", rec.Source, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		tracing.GetGlobalTracer().RecordError(span, err)
		monitoring.RecordIngestFailure(rec.Source, stage)
		s.logger.Error("ingest stage failed",
			"stage", stage, "recordId", rec.ID, "source", rec.Source, "error", err)
		return false
	}
	return true
}

// runBatchStage is runStage for whole-batch operations: one fault is counted
// against every record's source since none of them landed.
func (s *IngestPipelineService) runBatchStage(records []*models.LogRecord, stage string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}
	for _, rec := range records {
		monitoring.RecordIngestFailure(rec.Source, stage)
	}
	s.logger.Error("ingest batch stage failed",
		"stage", stage, "records", len(records), "error", err)
}

func (s *IngestPipelineService) normalizeSource(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return s.defaultSource
	}
	return source
}

// shard maps a source to its worker so records from one source stay ordered.
func (s *IngestPipelineService) shard(source string) int {
	h := fnv.New32a()
	h.Write([]byte(source))
	return int(h.Sum32() % uint32(len(s.queues)))
}
