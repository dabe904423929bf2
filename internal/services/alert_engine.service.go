package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/monitoring"
	"github.com/platformbuilds/atalaya/internal/repo"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// ErrorCountProvider supplies the trailing per-source error count consumed by
// ERROR_RATE rules. Implemented by the realtime cache; degrades to zero when
// the cache is unavailable.
type ErrorCountProvider interface {
	ErrorCountInWindow(ctx context.Context, source string, window time.Duration) int64
}

// AlertEngineService evaluates every enabled rule against each record,
// deduplicates triggers through the suppression tracker, and maintains alert
// instance lifecycle in the store. Listeners receive an AlertEvent per
// non-suppressed trigger.
type AlertEngineService struct {
	rules       *AlertRulesService
	store       repo.AlertStore
	errorCounts ErrorCountProvider
	logger      logger.Logger

	sweepInterval time.Duration

	supMu        sync.Mutex
	suppressions map[string]time.Time

	reMu     sync.RWMutex
	reCache  map[string]*regexp.Regexp
	reBroken map[string]error

	lisMu     sync.RWMutex
	listeners []func(*models.AlertEvent)
}

func NewAlertEngineService(
	rules *AlertRulesService,
	store repo.AlertStore,
	errorCounts ErrorCountProvider,
	cfg *config.Config,
	log logger.Logger,
) *AlertEngineService {
	return &AlertEngineService{
		rules:         rules,
		store:         store,
		errorCounts:   errorCounts,
		logger:        log,
		sweepInterval: cfg.GetSweepInterval(),
		suppressions:  make(map[string]time.Time),
		reCache:       make(map[string]*regexp.Regexp),
		reBroken:      make(map[string]error),
	}
}

// OnAlert registers a listener for alert events. Listeners run on their own
// goroutine; a panicking listener is recovered and logged.
func (s *AlertEngineService) OnAlert(fn func(*models.AlertEvent)) {
	s.lisMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.lisMu.Unlock()
}

// Evaluate runs the record through every enabled rule. Each rule is isolated:
// a panic or error in one rule is recovered and logged, the remaining rules
// still run. The first per-rule error is returned so callers can count the
// record as degraded.
func (s *AlertEngineService) Evaluate(ctx context.Context, record *models.LogRecord) error {
	if record == nil {
		return nil
	}

	var firstErr error
	for _, rule := range s.rules.EnabledRules() {
		if err := s.evaluateRule(ctx, record, rule); err != nil {
			s.logger.Error("Rule evaluation failed",
				"ruleId", rule.ID, "ruleName", rule.Name, "recordId", record.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *AlertEngineService) evaluateRule(ctx context.Context, record *models.LogRecord, rule *models.AlertRule) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.ID, r)
		}
	}()

	matched, err := s.matches(ctx, record, rule)
	if err != nil || !matched {
		return err
	}
	return s.trigger(ctx, record, rule)
}

func (s *AlertEngineService) matches(ctx context.Context, record *models.LogRecord, rule *models.AlertRule) (bool, error) {
	switch rule.Type {
	case models.RulePatternMatch:
		re, err := s.compile(rule.Pattern.Pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(record.Message) || (record.StackTrace != "" && re.MatchString(record.StackTrace)), nil

	case models.RuleErrorRate:
		if !record.Level.IsError() {
			return false, nil
		}
		window := time.Duration(rule.ErrorRate.WindowSeconds) * time.Second
		count := s.errorCounts.ErrorCountInWindow(ctx, record.Source, window)
		return count >= rule.ErrorRate.Threshold, nil

	case models.RuleHTTPError:
		if !record.IsHTTP() {
			return false, nil
		}
		re, err := s.compile(rule.HTTPError.StatusPattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(strconv.Itoa(record.HTTPStatus)), nil

	case models.RulePerformance:
		return record.ResponseTimeMs != nil && *record.ResponseTimeMs > rule.Performance.ResponseTimeThresholdMs, nil

	case models.RuleCustom:
		// extension point, never triggers on its own
		return false, nil

	default:
		return false, fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

// compile returns the cached case-insensitive regexp for pattern. Broken
// patterns are cached too so they fail fast on every record.
func (s *AlertEngineService) compile(pattern string) (*regexp.Regexp, error) {
	s.reMu.RLock()
	re, ok := s.reCache[pattern]
	bad, broken := s.reBroken[pattern]
	s.reMu.RUnlock()
	if ok {
		return re, nil
	}
	if broken {
		return nil, bad
	}

	re, err := regexp.Compile("(?i)" + pattern)
	s.reMu.Lock()
	if err != nil {
		s.reBroken[pattern] = fmt.Errorf("invalid pattern %q: %w", pattern, err)
		err = s.reBroken[pattern]
	} else {
		s.reCache[pattern] = re
	}
	s.reMu.Unlock()
	return re, err
}

func (s *AlertEngineService) trigger(ctx context.Context, record *models.LogRecord, rule *models.AlertRule) error {
	source := record.Source
	if source == "" {
		source = models.DefaultSource
	}
	host := record.Host
	if host == "" {
		host = models.DefaultHost
	}
	key := suppressionKey(rule.ID, source, host)
	now := time.Now()

	if s.shouldSuppress(key, now) {
		monitoring.RecordAlertSuppressed(string(rule.Type))
		return nil
	}

	candidate := &models.AlertInstance{
		ID:              uuid.NewString(),
		Title:           fmt.Sprintf("%s on %s", rule.Name, source),
		Description:     rule.Description,
		Severity:        rule.Severity,
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		TriggeredBy:     source,
		Host:            host,
		Status:          models.StatusOpen,
		TriggerCount:    1,
		FirstOccurrence: record.Timestamp,
		LastOccurrence:  record.Timestamp,
		Metadata: map[string]string{
			"recordId": record.ID,
			"message":  truncate(record.Message, 200),
		},
	}

	inst, created, err := s.store.IncrementOrCreate(ctx, candidate)
	if err != nil {
		return fmt.Errorf("record trigger for rule %s: %w", rule.ID, err)
	}

	s.suppress(key, now.Add(rule.SuppressDuration()))
	monitoring.RecordAlertTriggered(string(rule.Type), string(rule.Severity))

	eventType := models.AlertEventRetriggered
	if created {
		eventType = models.AlertEventCreated
		s.logger.Info("Alert opened",
			"ruleId", rule.ID, "severity", rule.Severity, "source", source, "host", host)
	}
	s.emit(&models.AlertEvent{Type: eventType, Instance: inst, Timestamp: now})
	return nil
}

func suppressionKey(ruleID, source, host string) string {
	return ruleID + "|" + source + "|" + host
}

// shouldSuppress reports whether the key is inside its cooldown. Expired
// entries are evicted lazily on read.
func (s *AlertEngineService) shouldSuppress(key string, now time.Time) bool {
	s.supMu.Lock()
	defer s.supMu.Unlock()
	until, ok := s.suppressions[key]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(s.suppressions, key)
		return false
	}
	return true
}

func (s *AlertEngineService) suppress(key string, until time.Time) {
	s.supMu.Lock()
	s.suppressions[key] = until
	s.supMu.Unlock()
}

// Sweep drops every expired suppression entry and returns how many were
// reclaimed. Purely a memory-bound measure: correctness never depends on it.
func (s *AlertEngineService) Sweep() int {
	now := time.Now()
	s.supMu.Lock()
	defer s.supMu.Unlock()

	reclaimed := 0
	for key, until := range s.suppressions {
		if now.After(until) {
			delete(s.suppressions, key)
			reclaimed++
		}
	}
	return reclaimed
}

// RunSweeper blocks, sweeping expired suppressions on the configured interval
// until ctx is cancelled.
func (s *AlertEngineService) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("Suppression sweep", "reclaimed", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *AlertEngineService) emit(event *models.AlertEvent) {
	s.lisMu.RLock()
	listeners := make([]func(*models.AlertEvent), len(s.listeners))
	copy(listeners, s.listeners)
	s.lisMu.RUnlock()

	for _, fn := range listeners {
		go func(fn func(*models.AlertEvent)) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Alert listener panicked", "panic", r)
				}
			}()
			fn(event)
		}(fn)
	}
}

// GetAlert returns one instance by id.
func (s *AlertEngineService) GetAlert(ctx context.Context, id string) (*models.AlertInstance, error) {
	return s.store.GetInstance(ctx, id)
}

// ListAlerts returns instances filtered by status/severity, newest first.
func (s *AlertEngineService) ListAlerts(ctx context.Context, q repo.InstanceQuery) ([]*models.AlertInstance, error) {
	return s.store.ListInstances(ctx, q)
}

// Acknowledge moves an OPEN instance to ACKNOWLEDGED, releasing its open
// slot: the next trigger for the same context opens a fresh instance.
func (s *AlertEngineService) Acknowledge(ctx context.Context, id string) (*models.AlertInstance, error) {
	return s.store.Acknowledge(ctx, id, time.Now())
}

// Resolve closes an instance from OPEN or ACKNOWLEDGED.
func (s *AlertEngineService) Resolve(ctx context.Context, id string) (*models.AlertInstance, error) {
	return s.store.Resolve(ctx, id, time.Now())
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
