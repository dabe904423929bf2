package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/repo"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// fixedCounts is an ErrorCountProvider returning the same count for every
// source and window.
type fixedCounts struct{ n int64 }

func (f fixedCounts) ErrorCountInWindow(context.Context, string, time.Duration) int64 { return f.n }

func newEngineForTest(t *testing.T, counts ErrorCountProvider, rules ...*models.AlertRule) (*AlertEngineService, repo.AlertStore) {
	t.Helper()
	ctx := context.Background()
	store := repo.NewMemoryAlertStore()
	for _, r := range rules {
		if err := store.UpsertRule(ctx, r); err != nil {
			t.Fatalf("seed rule %s: %v", r.ID, err)
		}
	}

	cfg := config.GetDefaultConfig()
	registry := NewAlertRulesService(store, cfg, logger.NewNop())
	if err := registry.Load(ctx); err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if counts == nil {
		counts = fixedCounts{}
	}
	return NewAlertEngineService(registry, store, counts, cfg, logger.NewNop()), store
}

func patternRule(id, pattern string, suppressMinutes int) *models.AlertRule {
	return &models.AlertRule{
		ID: id, Name: "pattern " + id, Type: models.RulePatternMatch,
		Severity: models.SeverityHigh, Enabled: true,
		SuppressMinutes: suppressMinutes,
		Pattern:         &models.PatternParams{Pattern: pattern},
	}
}

func openInstances(t *testing.T, store repo.AlertStore) []*models.AlertInstance {
	t.Helper()
	open, err := store.ListInstances(context.Background(), repo.InstanceQuery{Status: string(models.StatusOpen)})
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	return open
}

func TestEngine_PatternMatchTriggersAndSuppresses(t *testing.T) {
	engine, store := newEngineForTest(t, nil, patternRule("oom", "OutOfMemoryError", 10))
	ctx := context.Background()

	rec := record("r1", "payments", models.LevelError, time.Now())
	rec.Message = "java.lang.OutOfMemoryError: GC overhead limit exceeded"
	if err := engine.Evaluate(ctx, rec); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	open := openInstances(t, store)
	if len(open) != 1 {
		t.Fatalf("open = %d, want 1", len(open))
	}
	if open[0].RuleID != "oom" || open[0].TriggerCount != 1 {
		t.Fatalf("instance: %+v", open[0])
	}

	// inside the cooldown the repeat trigger is a no-op
	if err := engine.Evaluate(ctx, rec); err != nil {
		t.Fatalf("evaluate again: %v", err)
	}
	open = openInstances(t, store)
	if len(open) != 1 || open[0].TriggerCount != 1 {
		t.Fatalf("suppressed trigger leaked: %+v", open)
	}
}

func TestEngine_RetriggerAfterSuppressionExpires(t *testing.T) {
	engine, store := newEngineForTest(t, nil, patternRule("oom", "OutOfMemoryError", 10))
	ctx := context.Background()

	rec := record("r1", "payments", models.LevelError, time.Now())
	rec.Message = "OutOfMemoryError"
	if err := engine.Evaluate(ctx, rec); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// cooldown lapsed
	engine.supMu.Lock()
	engine.suppressions[suppressionKey("oom", "payments", "web-1")] = time.Now().Add(-time.Second)
	engine.supMu.Unlock()

	if err := engine.Evaluate(ctx, rec); err != nil {
		t.Fatalf("evaluate after expiry: %v", err)
	}

	open := openInstances(t, store)
	if len(open) != 1 {
		t.Fatalf("open = %d, want the same single instance", len(open))
	}
	if open[0].TriggerCount != 2 {
		t.Fatalf("triggerCount = %d, want 2", open[0].TriggerCount)
	}
}

func TestEngine_PatternChecksStackTrace(t *testing.T) {
	engine, store := newEngineForTest(t, nil, patternRule("npe", "NullPointerException", 0))
	ctx := context.Background()

	rec := record("r1", "api", models.LevelError, time.Now())
	rec.Message = "request failed"
	rec.StackTrace = "java.lang.NullPointerException\n\tat com.example.Handler.run(Handler.java:42)"
	if err := engine.Evaluate(ctx, rec); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(openInstances(t, store)) != 1 {
		t.Fatal("stack trace match did not trigger")
	}
}

func TestEngine_ErrorRateRule(t *testing.T) {
	rule := &models.AlertRule{
		ID: "rate", Name: "error spike", Type: models.RuleErrorRate,
		Severity: models.SeverityCritical, Enabled: true,
		ErrorRate: &models.ErrorRateParams{Threshold: 5, WindowSeconds: 60},
	}

	// below threshold: quiet
	engine, store := newEngineForTest(t, fixedCounts{n: 4}, rule)
	ctx := context.Background()
	rec := record("r1", "api", models.LevelError, time.Now())
	if err := engine.Evaluate(ctx, rec); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(openInstances(t, store)) != 0 {
		t.Fatal("triggered below threshold")
	}

	// at threshold: triggers, but only for error-level records
	engine, store = newEngineForTest(t, fixedCounts{n: 5}, rule)
	info := record("r2", "api", models.LevelInfo, time.Now())
	if err := engine.Evaluate(ctx, info); err != nil {
		t.Fatalf("evaluate info: %v", err)
	}
	if len(openInstances(t, store)) != 0 {
		t.Fatal("non-error record must not trigger a rate rule")
	}
	if err := engine.Evaluate(ctx, record("r3", "api", models.LevelFatal, time.Now())); err != nil {
		t.Fatalf("evaluate fatal: %v", err)
	}
	if len(openInstances(t, store)) != 1 {
		t.Fatal("rate rule did not trigger at threshold")
	}
}

func TestEngine_HTTPErrorRule(t *testing.T) {
	rule := &models.AlertRule{
		ID: "http5xx", Name: "server errors", Type: models.RuleHTTPError,
		Severity: models.SeverityHigh, Enabled: true,
		HTTPError: &models.HTTPErrorParams{StatusPattern: `5\d\d`},
	}
	engine, store := newEngineForTest(t, nil, rule)
	ctx := context.Background()

	plain := record("r1", "api", models.LevelError, time.Now())
	if err := engine.Evaluate(ctx, plain); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(openInstances(t, store)) != 0 {
		t.Fatal("non-http record must not trigger")
	}

	ok := record("r2", "api", models.LevelInfo, time.Now())
	ok.HTTPStatus = 404
	if err := engine.Evaluate(ctx, ok); err != nil {
		t.Fatalf("evaluate 404: %v", err)
	}
	if len(openInstances(t, store)) != 0 {
		t.Fatal("404 must not match 5xx pattern")
	}

	bad := record("r3", "api", models.LevelError, time.Now())
	bad.HTTPStatus = 503
	if err := engine.Evaluate(ctx, bad); err != nil {
		t.Fatalf("evaluate 503: %v", err)
	}
	if len(openInstances(t, store)) != 1 {
		t.Fatal("503 must trigger the 5xx rule")
	}
}

func TestEngine_PerformanceRule(t *testing.T) {
	rule := &models.AlertRule{
		ID: "slow", Name: "slow responses", Type: models.RulePerformance,
		Severity: models.SeverityMedium, Enabled: true,
		Performance: &models.PerformanceParams{ResponseTimeThresholdMs: 2000},
	}
	engine, store := newEngineForTest(t, nil, rule)
	ctx := context.Background()

	fast := record("r1", "api", models.LevelInfo, time.Now())
	rt := int64(1999)
	fast.ResponseTimeMs = &rt
	if err := engine.Evaluate(ctx, fast); err != nil {
		t.Fatalf("evaluate fast: %v", err)
	}
	if len(openInstances(t, store)) != 0 {
		t.Fatal("threshold is exclusive; 1999 must not trigger")
	}

	slow := record("r2", "api", models.LevelInfo, time.Now())
	rt2 := int64(2001)
	slow.ResponseTimeMs = &rt2
	if err := engine.Evaluate(ctx, slow); err != nil {
		t.Fatalf("evaluate slow: %v", err)
	}
	if len(openInstances(t, store)) != 1 {
		t.Fatal("2001 must trigger")
	}
}

func TestEngine_FaultIsolationAcrossRules(t *testing.T) {
	// a rule the registry validation would reject, planted directly: nil
	// parameter arm panics during matching
	broken := &models.AlertRule{
		ID: "broken", Name: "broken", Type: models.RulePatternMatch,
		Severity: models.SeverityLow, Enabled: true,
	}
	healthy := patternRule("oom", "OutOfMemoryError", 0)

	engine, store := newEngineForTest(t, nil, broken, healthy)
	ctx := context.Background()

	rec := record("r1", "api", models.LevelError, time.Now())
	rec.Message = "OutOfMemoryError"

	err := engine.Evaluate(ctx, rec)
	if err == nil {
		t.Fatal("broken rule must surface an error")
	}
	// the healthy rule still ran
	if len(openInstances(t, store)) != 1 {
		t.Fatal("healthy rule must still trigger")
	}
}

func TestEngine_InvalidPatternIsErrorNotPanic(t *testing.T) {
	engine, store := newEngineForTest(t, nil, patternRule("bad", "([unclosed", 0))
	rec := record("r1", "api", models.LevelError, time.Now())
	rec.Message = "anything"

	if err := engine.Evaluate(context.Background(), rec); err == nil {
		t.Fatal("invalid pattern must surface an error")
	}
	if len(openInstances(t, store)) != 0 {
		t.Fatal("invalid pattern must never trigger")
	}
}

func TestEngine_EmitsCreatedAndRetriggeredEvents(t *testing.T) {
	engine, _ := newEngineForTest(t, nil, patternRule("oom", "OutOfMemoryError", 10))
	ctx := context.Background()

	events := make(chan *models.AlertEvent, 4)
	engine.OnAlert(func(e *models.AlertEvent) { events <- e })

	rec := record("r1", "payments", models.LevelError, time.Now())
	rec.Message = "OutOfMemoryError"
	if err := engine.Evaluate(ctx, rec); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	select {
	case e := <-events:
		if e.Type != models.AlertEventCreated || e.Instance == nil {
			t.Fatalf("first event = %+v, want created", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no created event")
	}

	engine.supMu.Lock()
	engine.suppressions[suppressionKey("oom", "payments", "web-1")] = time.Now().Add(-time.Second)
	engine.supMu.Unlock()
	if err := engine.Evaluate(ctx, rec); err != nil {
		t.Fatalf("evaluate again: %v", err)
	}

	select {
	case e := <-events:
		if e.Type != models.AlertEventRetriggered {
			t.Fatalf("second event = %+v, want retriggered", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no retriggered event")
	}
}

func TestEngine_AcknowledgeReleasesOpenSlot(t *testing.T) {
	engine, store := newEngineForTest(t, nil, patternRule("oom", "OutOfMemoryError", 0))
	ctx := context.Background()

	rec := record("r1", "payments", models.LevelError, time.Now())
	rec.Message = "OutOfMemoryError"
	if err := engine.Evaluate(ctx, rec); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	first := openInstances(t, store)[0]

	acked, err := engine.Acknowledge(ctx, first.ID)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != models.StatusAcknowledged {
		t.Fatalf("status = %s", acked.Status)
	}

	if err := engine.Evaluate(ctx, rec); err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	open := openInstances(t, store)
	if len(open) != 1 || open[0].ID == first.ID {
		t.Fatalf("expected a fresh open instance, got %+v", open)
	}

	if _, err := engine.Resolve(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("resolve missing = %v, want ErrNotFound", err)
	}
}

func TestEngine_SweepReclaimsExpiredOnly(t *testing.T) {
	engine, _ := newEngineForTest(t, nil)

	engine.suppress("a|s|h", time.Now().Add(-time.Minute))
	engine.suppress("b|s|h", time.Now().Add(-time.Second))
	engine.suppress("c|s|h", time.Now().Add(time.Hour))

	if n := engine.Sweep(); n != 2 {
		t.Fatalf("sweep reclaimed %d, want 2", n)
	}

	engine.supMu.Lock()
	defer engine.supMu.Unlock()
	if len(engine.suppressions) != 1 {
		t.Fatalf("remaining = %d, want 1", len(engine.suppressions))
	}
	if _, ok := engine.suppressions["c|s|h"]; !ok {
		t.Fatal("live entry was swept")
	}
}
