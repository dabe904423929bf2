package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

func newPipelineForTest(t *testing.T, engine *AlertEngineService) (*IngestPipelineService, *RealtimeCacheService, *RecentSearchService, *IngestStatsService) {
	t.Helper()
	realtime, _ := newRealtimeForTest(t)
	recent := newRecentSearchForTest(t)
	stats := NewIngestStatsService()
	p := NewIngestPipelineService(config.GetDefaultConfig(), realtime, engine, nil, recent, stats, logger.NewNop())
	return p, realtime, recent, stats
}

func waitForProcessed(t *testing.T, stats *IngestStatsService, want int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if stats.Snapshot().TotalProcessed >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("processed = %d after 3s, want %d", stats.Snapshot().TotalProcessed, want)
}

func TestIngestProcess_ParsesAndFansOut(t *testing.T) {
	engine, store := newEngineForTest(t, fixedCounts{}, patternRule("oom", "OutOfMemoryError", 5))
	p, realtime, recent, stats := newPipelineForTest(t, engine)
	ctx := context.Background()

	line := "2024-03-14 09:30:00,123 [main] ERROR c.a.Handler - OutOfMemoryError while rendering"
	rec := p.Process(ctx, line, "payments")

	if rec.OriginalFormat != models.FormatJavaLog4j {
		t.Fatalf("format = %s, want %s", rec.OriginalFormat, models.FormatJavaLog4j)
	}
	if rec.Level != models.LevelError || rec.Source != "payments" {
		t.Fatalf("level=%s source=%s", rec.Level, rec.Source)
	}
	if !rec.HasTag("error") {
		t.Fatal("enricher did not tag the error record")
	}

	got := realtime.GetRecent(ctx, 10)
	if len(got) != 1 || got[0].ID != rec.ID {
		t.Fatalf("realtime cache miss: %d records", len(got))
	}
	if n, _ := recent.DocCount(); n != 1 {
		t.Fatalf("recent index docs = %d, want 1", n)
	}

	snap := stats.Snapshot()
	if snap.TotalProcessed != 1 || snap.TotalFailed != 0 {
		t.Fatalf("stats = %+v", snap)
	}
	if snap.PerSource["payments"] != 1 {
		t.Fatalf("per-source = %v", snap.PerSource)
	}

	if open := openInstances(t, store); len(open) != 1 {
		t.Fatalf("open alerts = %d, want 1", len(open))
	}
}

func TestIngestProcess_EmptySourceGetsDefault(t *testing.T) {
	p, _, _, stats := newPipelineForTest(t, nil)

	rec := p.Process(context.Background(), "plain message without level", "   ")
	if rec.Source != "unknown" {
		t.Fatalf("source = %q, want default", rec.Source)
	}
	if stats.Snapshot().PerSource["unknown"] != 1 {
		t.Fatalf("per-source = %v", stats.Snapshot().PerSource)
	}
}

func TestIngestProcess_CacheFaultDoesNotBlockOtherStages(t *testing.T) {
	realtime := NewRealtimeCacheService(brokenCache{}, config.GetDefaultConfig(), logger.NewNop())
	recent := newRecentSearchForTest(t)
	stats := NewIngestStatsService()
	p := NewIngestPipelineService(config.GetDefaultConfig(), realtime, nil, nil, recent, stats, logger.NewNop())

	rec := p.Process(context.Background(), "ERROR payment declined", "payments")
	if rec == nil {
		t.Fatal("record dropped on cache fault")
	}

	snap := stats.Snapshot()
	if snap.TotalProcessed != 1 || snap.TotalFailed != 1 {
		t.Fatalf("stats = processed %d failed %d, want 1/1", snap.TotalProcessed, snap.TotalFailed)
	}
	// downstream of the failing stage still ran
	if n, _ := recent.DocCount(); n != 1 {
		t.Fatalf("recent index docs = %d, want 1", n)
	}
}

func TestIngestSubmit_ProcessesAsync(t *testing.T) {
	p, _, recent, stats := newPipelineForTest(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	sources := []string{"api", "worker", "db"}
	for i := 0; i < 12; i++ {
		line := fmt.Sprintf("INFO request %d handled", i)
		if err := p.Submit(context.Background(), line, sources[i%3]); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	waitForProcessed(t, stats, 12)
	if depth := p.QueueDepth(); depth != 0 {
		t.Fatalf("queue depth = %d after drain, want 0", depth)
	}
	if n, _ := recent.DocCount(); n != 12 {
		t.Fatalf("recent index docs = %d, want 12", n)
	}

	snap := stats.Snapshot()
	for _, src := range sources {
		if snap.PerSource[src] != 4 {
			t.Fatalf("per-source = %v, want 4 each", snap.PerSource)
		}
	}

	cancel()
	p.Drain()
}

func TestIngestSubmit_CancelledContext(t *testing.T) {
	p, _, _, _ := newPipelineForTest(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// fill the shard so the send cannot complete immediately
	for i := 0; i < cap(p.queues[p.shard("api")]); i++ {
		if err := p.Submit(context.Background(), "filler", "api"); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
	}
	if err := p.Submit(ctx, "one more", "api"); err == nil {
		t.Fatal("submit into a full queue with cancelled context succeeded")
	}
}

func TestIngestProcessBulk(t *testing.T) {
	p, realtime, recent, stats := newPipelineForTest(t, nil)
	ctx := context.Background()

	lines := []string{
		"2024-03-14 09:30:00,123 [main] ERROR c.a.Handler - boom",
		"plain text line",
		"",
	}
	records := p.ProcessBulk(ctx, lines, "batch-job")

	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	seen := map[string]bool{}
	for _, rec := range records {
		if rec.Source != "batch-job" {
			t.Fatalf("source = %q", rec.Source)
		}
		if seen[rec.ID] {
			t.Fatalf("duplicate record id %s", rec.ID)
		}
		seen[rec.ID] = true
	}

	if n, _ := recent.DocCount(); n != 3 {
		t.Fatalf("recent index docs = %d, want 3", n)
	}
	if got := realtime.GetRecent(ctx, 10); len(got) != 3 {
		t.Fatalf("realtime records = %d, want 3", len(got))
	}
	if snap := stats.Snapshot(); snap.TotalProcessed != 3 {
		t.Fatalf("processed = %d, want 3", snap.TotalProcessed)
	}
}

func TestIngestShardIsStable(t *testing.T) {
	p, _, _, _ := newPipelineForTest(t, nil)

	for _, src := range []string{"api", "payments", "checkout", "unknown"} {
		first := p.shard(src)
		if first < 0 || first >= len(p.queues) {
			t.Fatalf("shard(%q) = %d out of range", src, first)
		}
		for i := 0; i < 5; i++ {
			if got := p.shard(src); got != first {
				t.Fatalf("shard(%q) moved: %d then %d", src, first, got)
			}
		}
	}
}
