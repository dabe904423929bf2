package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/monitoring"
)

// ruleParams is the JSON envelope persisted in alert_rules.params; exactly
// one arm is set, matching the rule type.
type ruleParams struct {
	Pattern     *models.PatternParams     `json:"pattern,omitempty"`
	ErrorRate   *models.ErrorRateParams   `json:"errorRate,omitempty"`
	HTTPError   *models.HTTPErrorParams   `json:"httpError,omitempty"`
	Performance *models.PerformanceParams `json:"performance,omitempty"`
}

// AlertRepo is the MySQL-backed AlertStore.
type AlertRepo struct{ DB *sql.DB }

func NewAlertRepo(db *sql.DB) *AlertRepo { return &AlertRepo{DB: db} }

func (r *AlertRepo) UpsertRule(ctx context.Context, rule *models.AlertRule) error {
	start := time.Now()
	paramsJSON, _ := json.Marshal(ruleParams{
		Pattern:     rule.Pattern,
		ErrorRate:   rule.ErrorRate,
		HTTPError:   rule.HTTPError,
		Performance: rule.Performance,
	})
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO alert_rules (id, name, description, type, severity, enabled, suppress_minutes, params) VALUES (?,?,?,?,?,?,?,?)
         ON DUPLICATE KEY UPDATE name=VALUES(name), description=VALUES(description), type=VALUES(type), severity=VALUES(severity), enabled=VALUES(enabled), suppress_minutes=VALUES(suppress_minutes), params=VALUES(params), updated_at=CURRENT_TIMESTAMP`,
		rule.ID, rule.Name, rule.Description, string(rule.Type), string(rule.Severity), rule.Enabled, rule.SuppressMinutes, string(paramsJSON))
	monitoring.RecordDBOperation("upsert", "alert_rules", time.Since(start), err == nil)
	return err
}

func (r *AlertRepo) GetRule(ctx context.Context, id string) (*models.AlertRule, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, name, description, type, severity, enabled, suppress_minutes, params, created_at, updated_at FROM alert_rules WHERE id=?`, id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rule, err
}

func (r *AlertRepo) ListRules(ctx context.Context) ([]*models.AlertRule, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, name, description, type, severity, enabled, suppress_minutes, params, created_at, updated_at FROM alert_rules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *AlertRepo) DeleteRule(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM alert_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AlertRepo) CountRules(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_rules`).Scan(&n)
	return n, err
}

// IncrementOrCreate is a single upsert guarded by the unique
// (rule_id, triggered_by, host, open_marker) key: a concurrent trigger of
// the same open context lands on the ON DUPLICATE KEY branch and bumps the
// counter instead of inserting a duplicate.
func (r *AlertRepo) IncrementOrCreate(ctx context.Context, inst *models.AlertInstance) (*models.AlertInstance, bool, error) {
	start := time.Now()
	metadataJSON, _ := json.Marshal(inst.Metadata)
	tagsJSON, _ := json.Marshal(inst.Tags)
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO alert_instances
            (id, title, description, severity, rule_id, rule_name, triggered_by, host, status, open_marker, trigger_count, first_occurrence, last_occurrence, metadata, tags)
         VALUES (?,?,?,?,?,?,?,?,?,1,1,?,?,?,?)
         ON DUPLICATE KEY UPDATE
            trigger_count = trigger_count + 1,
            last_occurrence = VALUES(last_occurrence),
            severity = VALUES(severity)`,
		inst.ID, inst.Title, inst.Description, string(inst.Severity), inst.RuleID, inst.RuleName, inst.TriggeredBy, inst.Host,
		string(models.StatusOpen), inst.FirstOccurrence, inst.LastOccurrence, string(metadataJSON), string(tagsJSON))
	monitoring.RecordDBOperation("increment_or_create", "alert_instances", time.Since(start), err == nil)
	if err != nil {
		return nil, false, err
	}

	// MySQL reports 1 affected row for a fresh insert, 2 when the
	// duplicate-key branch updated an existing row.
	affected, _ := res.RowsAffected()
	created := affected == 1

	row := r.DB.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM alert_instances WHERE rule_id=? AND triggered_by=? AND host=? AND open_marker=1`,
		inst.RuleID, inst.TriggeredBy, inst.Host)
	current, err := scanInstance(row)
	if err != nil {
		return nil, false, fmt.Errorf("read back open alert: %w", err)
	}
	return current, created, nil
}

func (r *AlertRepo) GetInstance(ctx context.Context, id string) (*models.AlertInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM alert_instances WHERE id=?`, id)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return inst, err
}

func (r *AlertRepo) ListInstances(ctx context.Context, q InstanceQuery) ([]*models.AlertInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM alert_instances WHERE 1=1`
	args := []interface{}{}
	if q.Status != "" {
		query += ` AND status=?`
		args = append(args, q.Status)
	}
	if q.Severity != "" {
		query += ` AND severity=?`
		args = append(args, q.Severity)
	}
	if q.RuleID != "" {
		query += ` AND rule_id=?`
		args = append(args, q.RuleID)
	}
	query += ` ORDER BY last_occurrence DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*models.AlertInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (r *AlertRepo) Acknowledge(ctx context.Context, id string, at time.Time) (*models.AlertInstance, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE alert_instances SET status=?, acknowledged_at=?, open_marker=NULL WHERE id=? AND status=?`,
		string(models.StatusAcknowledged), at, id, string(models.StatusOpen))
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, r.transitionFailure(ctx, id, "acknowledge")
	}
	return r.GetInstance(ctx, id)
}

func (r *AlertRepo) Resolve(ctx context.Context, id string, at time.Time) (*models.AlertInstance, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE alert_instances SET status=?, resolved_at=?, open_marker=NULL WHERE id=? AND status IN (?,?)`,
		string(models.StatusResolved), at, id, string(models.StatusOpen), string(models.StatusAcknowledged))
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, r.transitionFailure(ctx, id, "resolve")
	}
	return r.GetInstance(ctx, id)
}

// transitionFailure disambiguates an unknown id from a disallowed move.
func (r *AlertRepo) transitionFailure(ctx context.Context, id, action string) error {
	var status string
	err := r.DB.QueryRowContext(ctx, `SELECT status FROM alert_instances WHERE id=?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot %s %s alert %s", ErrInvalidTransition, action, status, id)
}

const instanceColumns = `id, title, description, severity, rule_id, rule_name, triggered_by, host, status, trigger_count, first_occurrence, last_occurrence, acknowledged_at, resolved_at, metadata, tags`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*models.AlertRule, error) {
	var rule models.AlertRule
	var ruleType, severity string
	var paramsRaw sql.NullString
	if err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &ruleType, &severity,
		&rule.Enabled, &rule.SuppressMinutes, &paramsRaw, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}
	rule.Type = models.RuleType(ruleType)
	rule.Severity = models.AlertSeverity(severity)
	if paramsRaw.Valid {
		var params ruleParams
		if err := json.Unmarshal([]byte(paramsRaw.String), &params); err != nil {
			return nil, fmt.Errorf("rule %s: decode params: %w", rule.ID, err)
		}
		rule.Pattern = params.Pattern
		rule.ErrorRate = params.ErrorRate
		rule.HTTPError = params.HTTPError
		rule.Performance = params.Performance
	}
	return &rule, nil
}

func scanInstance(row rowScanner) (*models.AlertInstance, error) {
	var inst models.AlertInstance
	var severity, status string
	var acknowledgedAt, resolvedAt sql.NullTime
	var metadataRaw, tagsRaw sql.NullString
	if err := row.Scan(&inst.ID, &inst.Title, &inst.Description, &severity, &inst.RuleID, &inst.RuleName,
		&inst.TriggeredBy, &inst.Host, &status, &inst.TriggerCount, &inst.FirstOccurrence, &inst.LastOccurrence,
		&acknowledgedAt, &resolvedAt, &metadataRaw, &tagsRaw); err != nil {
		return nil, err
	}
	inst.Severity = models.AlertSeverity(severity)
	inst.Status = models.AlertStatus(status)
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		inst.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		inst.ResolvedAt = &t
	}
	if metadataRaw.Valid && metadataRaw.String != "" && metadataRaw.String != "null" {
		_ = json.Unmarshal([]byte(metadataRaw.String), &inst.Metadata)
	}
	if tagsRaw.Valid && tagsRaw.String != "" && tagsRaw.String != "null" {
		_ = json.Unmarshal([]byte(tagsRaw.String), &inst.Tags)
	}
	return &inst, nil
}
