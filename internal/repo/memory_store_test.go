package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/platformbuilds/atalaya/internal/models"
)

func candidate(ruleID, source, host string, at time.Time) *models.AlertInstance {
	return &models.AlertInstance{
		ID:              uuid.NewString(),
		Title:           "High error rate on " + source,
		Severity:        models.SeverityHigh,
		RuleID:          ruleID,
		RuleName:        "high-error-rate",
		TriggeredBy:     source,
		Host:            host,
		Status:          models.StatusOpen,
		TriggerCount:    1,
		FirstOccurrence: at,
		LastOccurrence:  at,
	}
}

func TestMemoryStore_RuleCRUD(t *testing.T) {
	store := NewMemoryAlertStore()
	ctx := context.Background()

	rule := &models.AlertRule{
		ID:       "r1",
		Name:     "oom-pattern",
		Type:     models.RulePatternMatch,
		Severity: models.SeverityCritical,
		Enabled:  true,
		Pattern:  &models.PatternParams{Pattern: "OutOfMemoryError"},
	}
	if err := store.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetRule(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "oom-pattern" || got.Pattern == nil {
		t.Fatalf("unexpected rule: %+v", got)
	}

	rule.Severity = models.SeverityHigh
	if err := store.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	got, _ = store.GetRule(ctx, "r1")
	if got.Severity != models.SeverityHigh {
		t.Fatalf("severity not updated: %s", got.Severity)
	}

	n, _ := store.CountRules(ctx)
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	if err := store.DeleteRule(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteRule(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing = %v, want ErrNotFound", err)
	}
	if _, err := store.GetRule(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_IncrementOrCreate(t *testing.T) {
	store := NewMemoryAlertStore()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 25, 12, 0, 0, 0, time.UTC)

	first, created, err := store.IncrementOrCreate(ctx, candidate("r1", "payments", "web-1", t0))
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if !created || first.TriggerCount != 1 || first.Status != models.StatusOpen {
		t.Fatalf("first trigger: created=%v inst=%+v", created, first)
	}

	second, created, err := store.IncrementOrCreate(ctx, candidate("r1", "payments", "web-1", t0.Add(time.Minute)))
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if created {
		t.Fatal("second trigger must not create a new instance")
	}
	if second.ID != first.ID {
		t.Fatalf("second trigger landed on %s, want %s", second.ID, first.ID)
	}
	if second.TriggerCount != 2 {
		t.Fatalf("triggerCount = %d, want 2", second.TriggerCount)
	}
	if !second.LastOccurrence.Equal(t0.Add(time.Minute)) {
		t.Fatalf("lastOccurrence not advanced: %v", second.LastOccurrence)
	}
	if !second.FirstOccurrence.Equal(t0) {
		t.Fatalf("firstOccurrence must not move: %v", second.FirstOccurrence)
	}

	// a different host is a separate context
	other, created, err := store.IncrementOrCreate(ctx, candidate("r1", "payments", "web-2", t0))
	if err != nil || !created {
		t.Fatalf("other host: created=%v err=%v", created, err)
	}
	if other.ID == first.ID {
		t.Fatal("different host must open its own instance")
	}
}

func TestMemoryStore_ConcurrentTriggersSameContext(t *testing.T) {
	store := NewMemoryAlertStore()
	ctx := context.Background()
	t0 := time.Now()

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _, err := store.IncrementOrCreate(ctx, candidate("r1", "api", "host-a", t0))
			if err != nil {
				t.Errorf("trigger: %v", err)
			}
		}()
	}
	wg.Wait()

	open, err := store.ListInstances(ctx, InstanceQuery{Status: string(models.StatusOpen)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open instances = %d, want exactly 1", len(open))
	}
	if open[0].TriggerCount != n {
		t.Fatalf("triggerCount = %d, want %d", open[0].TriggerCount, n)
	}
}

func TestMemoryStore_AcknowledgeReleasesOpenSlot(t *testing.T) {
	store := NewMemoryAlertStore()
	ctx := context.Background()
	t0 := time.Now()

	first, _, err := store.IncrementOrCreate(ctx, candidate("r1", "api", "host-a", t0))
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	acked, err := store.Acknowledge(ctx, first.ID, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != models.StatusAcknowledged || acked.AcknowledgedAt == nil {
		t.Fatalf("unexpected acked instance: %+v", acked)
	}

	// the acknowledged instance no longer counts as open, so a repeat
	// trigger opens a fresh one
	next, created, err := store.IncrementOrCreate(ctx, candidate("r1", "api", "host-a", t0.Add(2*time.Minute)))
	if err != nil || !created {
		t.Fatalf("retrigger after ack: created=%v err=%v", created, err)
	}
	if next.ID == first.ID {
		t.Fatal("retrigger after ack must open a new instance")
	}
}

func TestMemoryStore_Transitions(t *testing.T) {
	store := NewMemoryAlertStore()
	ctx := context.Background()
	t0 := time.Now()

	if _, err := store.Acknowledge(ctx, "missing", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ack unknown = %v, want ErrNotFound", err)
	}
	if _, err := store.Resolve(ctx, "missing", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolve unknown = %v, want ErrNotFound", err)
	}

	inst, _, _ := store.IncrementOrCreate(ctx, candidate("r1", "api", "host-a", t0))

	resolved, err := store.Resolve(ctx, inst.ID, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("resolve from open: %v", err)
	}
	if resolved.Status != models.StatusResolved || resolved.ResolvedAt == nil {
		t.Fatalf("unexpected resolved instance: %+v", resolved)
	}

	if _, err := store.Resolve(ctx, inst.ID, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resolve twice = %v, want ErrInvalidTransition", err)
	}
	if _, err := store.Acknowledge(ctx, inst.ID, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ack resolved = %v, want ErrInvalidTransition", err)
	}

	// acknowledged alerts can still be resolved
	second, _, _ := store.IncrementOrCreate(ctx, candidate("r2", "api", "host-a", t0))
	if _, err := store.Acknowledge(ctx, second.ID, t0); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, err := store.Resolve(ctx, second.ID, t0.Add(time.Minute)); err != nil {
		t.Fatalf("resolve acked: %v", err)
	}
}

func TestMemoryStore_ListInstancesFilters(t *testing.T) {
	store := NewMemoryAlertStore()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 25, 12, 0, 0, 0, time.UTC)

	a, _, _ := store.IncrementOrCreate(ctx, candidate("r1", "api", "h1", t0))
	b := candidate("r2", "web", "h2", t0.Add(time.Minute))
	b.Severity = models.SeverityLow
	_, _, _ = store.IncrementOrCreate(ctx, b)
	_, _ = store.Resolve(ctx, a.ID, t0.Add(2*time.Minute))

	open, _ := store.ListInstances(ctx, InstanceQuery{Status: string(models.StatusOpen)})
	if len(open) != 1 || open[0].RuleID != "r2" {
		t.Fatalf("open filter: %+v", open)
	}

	low, _ := store.ListInstances(ctx, InstanceQuery{Severity: string(models.SeverityLow)})
	if len(low) != 1 || low[0].RuleID != "r2" {
		t.Fatalf("severity filter: %+v", low)
	}

	all, _ := store.ListInstances(ctx, InstanceQuery{})
	if len(all) != 2 {
		t.Fatalf("unfiltered = %d, want 2", len(all))
	}
	// newest first
	if !all[0].LastOccurrence.After(all[1].LastOccurrence) {
		t.Fatalf("expected newest-first ordering")
	}

	limited, _ := store.ListInstances(ctx, InstanceQuery{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("limit = %d results, want 1", len(limited))
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryAlertStore()
	ctx := context.Background()

	inst, _, _ := store.IncrementOrCreate(ctx, candidate("r1", "api", "h1", time.Now()))
	inst.Title = "mutated by caller"

	fresh, err := store.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.Title == "mutated by caller" {
		t.Fatal("store must not alias caller-held instances")
	}
}
