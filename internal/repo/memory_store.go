package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platformbuilds/atalaya/internal/models"
)

// MemoryAlertStore keeps rules and instances in process memory. Used when
// no MySQL store is configured, and by tests. The increment-or-create
// decision happens under a single lock so concurrent triggers of the same
// context never produce duplicate OPEN instances.
type MemoryAlertStore struct {
	mu        sync.RWMutex
	rules     map[string]*models.AlertRule
	instances map[string]*models.AlertInstance
	open      map[string]string // ruleID|source|host -> open instance id
}

func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{
		rules:     make(map[string]*models.AlertRule),
		instances: make(map[string]*models.AlertInstance),
		open:      make(map[string]string),
	}
}

func openKey(ruleID, source, host string) string {
	return strings.Join([]string{ruleID, source, host}, "|")
}

func (s *MemoryAlertStore) UpsertRule(_ context.Context, rule *models.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rule
	if existing, ok := s.rules[rule.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	s.rules[rule.ID] = &cp
	return nil
}

func (s *MemoryAlertStore) GetRule(_ context.Context, id string) (*models.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rule
	return &cp, nil
}

func (s *MemoryAlertStore) ListRules(_ context.Context) ([]*models.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]*models.AlertRule, 0, len(s.rules))
	for _, rule := range s.rules {
		cp := *rule
		rules = append(rules, &cp)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules, nil
}

func (s *MemoryAlertStore) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *MemoryAlertStore) CountRules(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules), nil
}

func (s *MemoryAlertStore) IncrementOrCreate(_ context.Context, inst *models.AlertInstance) (*models.AlertInstance, bool, error) {
	key := openKey(inst.RuleID, inst.TriggeredBy, inst.Host)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.open[key]; ok {
		existing := s.instances[id]
		existing.TriggerCount++
		existing.LastOccurrence = inst.LastOccurrence
		existing.Severity = inst.Severity
		cp := cloneInstance(existing)
		return cp, false, nil
	}

	cp := cloneInstance(inst)
	cp.Status = models.StatusOpen
	cp.TriggerCount = 1
	s.instances[cp.ID] = cp
	s.open[key] = cp.ID
	return cloneInstance(cp), true, nil
}

func (s *MemoryAlertStore) GetInstance(_ context.Context, id string) (*models.AlertInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInstance(inst), nil
}

func (s *MemoryAlertStore) ListInstances(_ context.Context, q InstanceQuery) ([]*models.AlertInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var instances []*models.AlertInstance
	for _, inst := range s.instances {
		if q.Status != "" && string(inst.Status) != q.Status {
			continue
		}
		if q.Severity != "" && string(inst.Severity) != q.Severity {
			continue
		}
		if q.RuleID != "" && inst.RuleID != q.RuleID {
			continue
		}
		instances = append(instances, cloneInstance(inst))
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].LastOccurrence.After(instances[j].LastOccurrence)
	})
	if q.Limit > 0 && len(instances) > q.Limit {
		instances = instances[:q.Limit]
	}
	return instances, nil
}

func (s *MemoryAlertStore) Acknowledge(_ context.Context, id string, at time.Time) (*models.AlertInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	if inst.Status != models.StatusOpen {
		return nil, fmt.Errorf("%w: cannot acknowledge %s alert %s", ErrInvalidTransition, inst.Status, id)
	}
	inst.Status = models.StatusAcknowledged
	t := at
	inst.AcknowledgedAt = &t
	delete(s.open, openKey(inst.RuleID, inst.TriggeredBy, inst.Host))
	return cloneInstance(inst), nil
}

func (s *MemoryAlertStore) Resolve(_ context.Context, id string, at time.Time) (*models.AlertInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	if inst.Status != models.StatusOpen && inst.Status != models.StatusAcknowledged {
		return nil, fmt.Errorf("%w: cannot resolve %s alert %s", ErrInvalidTransition, inst.Status, id)
	}
	inst.Status = models.StatusResolved
	t := at
	inst.ResolvedAt = &t
	delete(s.open, openKey(inst.RuleID, inst.TriggeredBy, inst.Host))
	return cloneInstance(inst), nil
}

func cloneInstance(inst *models.AlertInstance) *models.AlertInstance {
	cp := *inst
	if inst.AcknowledgedAt != nil {
		t := *inst.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if inst.ResolvedAt != nil {
		t := *inst.ResolvedAt
		cp.ResolvedAt = &t
	}
	if inst.Metadata != nil {
		cp.Metadata = make(map[string]string, len(inst.Metadata))
		for k, v := range inst.Metadata {
			cp.Metadata[k] = v
		}
	}
	if inst.Tags != nil {
		cp.Tags = append([]string(nil), inst.Tags...)
	}
	return &cp
}
