package services

import (
	"sync"
	"testing"
)

func TestIngestStats_SuccessRate(t *testing.T) {
	s := NewIngestStatsService()

	// nothing processed yet: rate defaults to 1.0
	if snap := s.Snapshot(); snap.SuccessRate != 1.0 {
		t.Fatalf("idle success rate = %v, want 1.0", snap.SuccessRate)
	}

	for i := 0; i < 8; i++ {
		s.RecordProcessed("api")
	}
	s.RecordProcessed("web")
	s.RecordProcessed("web")
	s.RecordFailed()

	snap := s.Snapshot()
	if snap.TotalProcessed != 10 {
		t.Fatalf("processed = %d, want 10", snap.TotalProcessed)
	}
	if snap.TotalFailed != 1 {
		t.Fatalf("failed = %d, want 1", snap.TotalFailed)
	}
	if snap.SuccessRate != 0.9 {
		t.Fatalf("success rate = %v, want 0.9", snap.SuccessRate)
	}
	if snap.PerSource["api"] != 8 || snap.PerSource["web"] != 2 {
		t.Fatalf("per-source = %+v", snap.PerSource)
	}
}

func TestIngestStats_EmptySourceFallsBack(t *testing.T) {
	s := NewIngestStatsService()
	s.RecordProcessed("")
	if snap := s.Snapshot(); snap.PerSource["unknown"] != 1 {
		t.Fatalf("per-source = %+v, want unknown=1", snap.PerSource)
	}
}

func TestIngestStats_SnapshotIsACopy(t *testing.T) {
	s := NewIngestStatsService()
	s.RecordProcessed("api")

	snap := s.Snapshot()
	snap.PerSource["api"] = 99

	if again := s.Snapshot(); again.PerSource["api"] != 1 {
		t.Fatalf("snapshot aliased internal state: %+v", again.PerSource)
	}
}

func TestIngestStats_ConcurrentIncrements(t *testing.T) {
	s := NewIngestStatsService()
	sources := []string{"api", "web", "worker", "batch"}

	const perGoroutine = 200
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				s.RecordProcessed(src)
				if i%10 == 0 {
					s.RecordFailed()
				}
			}
		}(src)
	}
	wg.Wait()

	snap := s.Snapshot()
	want := int64(len(sources) * perGoroutine)
	if snap.TotalProcessed != want {
		t.Fatalf("processed = %d, want %d", snap.TotalProcessed, want)
	}
	if snap.TotalFailed != int64(len(sources)*perGoroutine/10) {
		t.Fatalf("failed = %d", snap.TotalFailed)
	}
	for _, src := range sources {
		if snap.PerSource[src] != perGoroutine {
			t.Fatalf("source %s = %d, want %d", src, snap.PerSource[src], perGoroutine)
		}
	}
}
