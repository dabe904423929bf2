package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/repo"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// ErrRuleExists is returned when creating a rule whose id is already taken.
var ErrRuleExists = errors.New("alert rule already exists")

// ruleSeedFile is the YAML shape of the alert-rules seed file.
type ruleSeedFile struct {
	Rules []*models.AlertRule `yaml:"rules"`
}

// AlertRulesService is the rule registry: CRUD against the persistent store
// plus an in-memory snapshot of enabled rules for the evaluation hot path.
// A YAML seed file populates an empty store at boot and is re-applied
// (create/replace by rule id) whenever the file changes on disk.
type AlertRulesService struct {
	store  repo.AlertStore
	logger logger.Logger

	seedPath        string
	watchSeed       bool
	defaultSuppress int

	mu      sync.RWMutex
	enabled []*models.AlertRule
}

func NewAlertRulesService(store repo.AlertStore, cfg *config.Config, log logger.Logger) *AlertRulesService {
	return &AlertRulesService{
		store:           store,
		logger:          log,
		seedPath:        cfg.Alerting.RulesPath,
		watchSeed:       cfg.Alerting.WatchRules,
		defaultSuppress: cfg.Alerting.DefaultSuppressMinutes,
	}
}

// Load seeds an empty store from the seed file (when configured) and builds
// the first enabled-rules snapshot.
func (s *AlertRulesService) Load(ctx context.Context) error {
	if s.seedPath != "" {
		n, err := s.store.CountRules(ctx)
		if err != nil {
			return fmt.Errorf("count rules: %w", err)
		}
		if n == 0 {
			if err := s.ApplySeed(ctx, s.seedPath); err != nil {
				// a missing seed file is a valid empty setup
				if errors.Is(err, os.ErrNotExist) {
					s.logger.Info("No rule seed file present", "path", s.seedPath)
				} else {
					return err
				}
			}
		}
	}
	return s.refresh(ctx)
}

// Watch blocks, re-applying the seed file on every change until ctx is
// cancelled. Callers run it on its own goroutine; it is a no-op when rule
// watching is disabled.
func (s *AlertRulesService) Watch(ctx context.Context) error {
	if !s.watchSeed || s.seedPath == "" {
		return nil
	}

	watcher := config.NewFileWatcher(s.seedPath, s.logger)
	watcher.OnChange(func(path string) {
		reloadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.ApplySeed(reloadCtx, path); err != nil {
			s.logger.Error("Rule seed reload failed", "path", path, "error", err)
		}
	})
	return watcher.Start(ctx)
}

// ApplySeed loads the YAML seed and upserts every valid rule. Invalid rules
// are logged and skipped so one bad entry never blocks the rest.
func (s *AlertRulesService) ApplySeed(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rule seed: %w", err)
	}

	var seed ruleSeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse rule seed %s: %w", path, err)
	}

	applied := 0
	for _, rule := range seed.Rules {
		if rule == nil {
			continue
		}
		s.applyDefaults(rule)
		if err := rule.Validate(); err != nil {
			s.logger.Warn("Skipping invalid seed rule", "error", err)
			continue
		}
		now := time.Now().UTC()
		if existing, err := s.store.GetRule(ctx, rule.ID); err == nil {
			rule.CreatedAt = existing.CreatedAt
		} else {
			rule.CreatedAt = now
		}
		rule.UpdatedAt = now
		if err := s.store.UpsertRule(ctx, rule); err != nil {
			s.logger.Error("Seed rule upsert failed", "ruleId", rule.ID, "error", err)
			continue
		}
		applied++
	}

	s.logger.Info("Alert rule seed applied", "path", path, "rules", applied)
	return s.refresh(ctx)
}

// CreateRule registers a new rule. An empty id is generated; an existing id
// is a conflict.
func (s *AlertRulesService) CreateRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	s.applyDefaults(rule)
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.store.GetRule(ctx, rule.ID); err == nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, ErrRuleExists)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.store.UpsertRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("create rule %s: %w", rule.ID, err)
	}
	if err := s.refresh(ctx); err != nil {
		s.logger.Warn("Rule snapshot refresh failed", "error", err)
	}
	return rule, nil
}

// UpdateRule replaces an existing rule, keeping its creation time.
func (s *AlertRulesService) UpdateRule(ctx context.Context, id string, rule *models.AlertRule) (*models.AlertRule, error) {
	existing, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	rule.ID = id
	s.applyDefaults(rule)
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := s.store.UpsertRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("update rule %s: %w", id, err)
	}
	if err := s.refresh(ctx); err != nil {
		s.logger.Warn("Rule snapshot refresh failed", "error", err)
	}
	return rule, nil
}

func (s *AlertRulesService) GetRule(ctx context.Context, id string) (*models.AlertRule, error) {
	return s.store.GetRule(ctx, id)
}

func (s *AlertRulesService) ListRules(ctx context.Context) ([]*models.AlertRule, error) {
	return s.store.ListRules(ctx)
}

func (s *AlertRulesService) DeleteRule(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	if err := s.refresh(ctx); err != nil {
		s.logger.Warn("Rule snapshot refresh failed", "error", err)
	}
	return nil
}

// EnabledRules returns the current evaluation snapshot. The slice and the
// rules it holds are read-only.
func (s *AlertRulesService) EnabledRules() []*models.AlertRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

func (s *AlertRulesService) applyDefaults(rule *models.AlertRule) {
	if rule.SuppressMinutes == 0 {
		rule.SuppressMinutes = s.defaultSuppress
	}
	if rule.Severity == "" {
		rule.Severity = models.SeverityMedium
	}
}

func (s *AlertRulesService) refresh(ctx context.Context) error {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	enabled := make([]*models.AlertRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}

	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	return nil
}
