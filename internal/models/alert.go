package models

import (
	"fmt"
	"time"
)

// RuleType selects which evaluation arm of an AlertRule applies.
type RuleType string

const (
	RulePatternMatch RuleType = "PATTERN_MATCH"
	RuleErrorRate    RuleType = "ERROR_RATE"
	RuleHTTPError    RuleType = "HTTP_ERROR"
	RulePerformance  RuleType = "PERFORMANCE"
	RuleCustom       RuleType = "CUSTOM"
)

type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

type AlertStatus string

const (
	StatusOpen         AlertStatus = "OPEN"
	StatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	StatusResolved     AlertStatus = "RESOLVED"
)

// PatternParams configures a PATTERN_MATCH rule. The pattern is applied
// case-insensitively against message and stack trace.
type PatternParams struct {
	Pattern string `json:"pattern" yaml:"pattern"`
}

// ErrorRateParams configures an ERROR_RATE rule: trigger when the source
// produced at least Threshold error records within the last WindowSeconds.
type ErrorRateParams struct {
	Threshold     int64 `json:"threshold" yaml:"threshold"`
	WindowSeconds int   `json:"windowSeconds" yaml:"windowSeconds"`
}

// HTTPErrorParams configures an HTTP_ERROR rule; StatusPattern is a regex
// matched against the status code string, e.g. "5\\d\\d".
type HTTPErrorParams struct {
	StatusPattern string `json:"statusPattern" yaml:"statusPattern"`
}

// PerformanceParams configures a PERFORMANCE rule on response time.
type PerformanceParams struct {
	ResponseTimeThresholdMs int64 `json:"responseTimeThresholdMs" yaml:"responseTimeThresholdMs"`
}

// AlertRule is read-only during evaluation. Exactly one parameter arm must be
// set and must correspond to Type; Validate enforces this.
type AlertRule struct {
	ID              string        `json:"id" yaml:"id"`
	Name            string        `json:"name" yaml:"name"`
	Description     string        `json:"description,omitempty" yaml:"description,omitempty"`
	Type            RuleType      `json:"type" yaml:"type"`
	Severity        AlertSeverity `json:"severity" yaml:"severity"`
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	SuppressMinutes int           `json:"suppressMinutes" yaml:"suppressMinutes"`

	Pattern     *PatternParams     `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	ErrorRate   *ErrorRateParams   `json:"errorRate,omitempty" yaml:"errorRate,omitempty"`
	HTTPError   *HTTPErrorParams   `json:"httpError,omitempty" yaml:"httpError,omitempty"`
	Performance *PerformanceParams `json:"performance,omitempty" yaml:"performance,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// Validate checks the rule is internally consistent: known type/severity and
// the matching parameter arm populated.
func (r *AlertRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s: name is required", r.ID)
	}
	switch r.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return fmt.Errorf("rule %s: invalid severity %q", r.ID, r.Severity)
	}
	if r.SuppressMinutes < 0 {
		return fmt.Errorf("rule %s: suppressMinutes must be >= 0", r.ID)
	}
	switch r.Type {
	case RulePatternMatch:
		if r.Pattern == nil || r.Pattern.Pattern == "" {
			return fmt.Errorf("rule %s: pattern parameters required", r.ID)
		}
	case RuleErrorRate:
		if r.ErrorRate == nil || r.ErrorRate.Threshold <= 0 || r.ErrorRate.WindowSeconds <= 0 {
			return fmt.Errorf("rule %s: errorRate parameters required", r.ID)
		}
	case RuleHTTPError:
		if r.HTTPError == nil || r.HTTPError.StatusPattern == "" {
			return fmt.Errorf("rule %s: httpError parameters required", r.ID)
		}
	case RulePerformance:
		if r.Performance == nil || r.Performance.ResponseTimeThresholdMs <= 0 {
			return fmt.Errorf("rule %s: performance parameters required", r.ID)
		}
	case RuleCustom:
		// extension point, carries no built-in parameters
	default:
		return fmt.Errorf("rule %s: unknown type %q", r.ID, r.Type)
	}
	return nil
}

// SuppressDuration returns the cooldown window after a trigger.
func (r *AlertRule) SuppressDuration() time.Duration {
	return time.Duration(r.SuppressMinutes) * time.Minute
}

// AlertInstance is created on the first trigger of a (rule, source, host)
// context and mutated on repeat triggers. Instances transition state and are
// never deleted.
type AlertInstance struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Severity        AlertSeverity     `json:"severity"`
	RuleID          string            `json:"ruleId"`
	RuleName        string            `json:"ruleName"`
	TriggeredBy     string            `json:"triggeredBy"`
	Host            string            `json:"host"`
	Status          AlertStatus       `json:"status"`
	TriggerCount    int64             `json:"triggerCount"`
	FirstOccurrence time.Time         `json:"firstOccurrence"`
	LastOccurrence  time.Time         `json:"lastOccurrence"`
	AcknowledgedAt  *time.Time        `json:"acknowledgedAt,omitempty"`
	ResolvedAt      *time.Time        `json:"resolvedAt,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
}

// AlertEvent is what the engine hands to downstream consumers (notification
// dispatch, live push) when an instance is created or re-triggered.
type AlertEvent struct {
	Type      string         `json:"type"`
	Instance  *AlertInstance `json:"instance"`
	Timestamp time.Time      `json:"timestamp"`
}

const (
	AlertEventCreated     = "created"
	AlertEventRetriggered = "retriggered"
)
