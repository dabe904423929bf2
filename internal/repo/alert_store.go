package repo

import (
	"context"
	"errors"
	"time"

	"github.com/platformbuilds/atalaya/internal/models"
)

var (
	// ErrNotFound is returned for acknowledge/resolve/get on an unknown id.
	ErrNotFound = errors.New("alert not found")
	// ErrInvalidTransition is returned when the instance exists but is not
	// in a state the requested transition starts from.
	ErrInvalidTransition = errors.New("invalid alert state transition")
)

// InstanceQuery filters alert instance listings.
type InstanceQuery struct {
	Status   string
	Severity string
	RuleID   string
	Limit    int
}

// AlertStore persists alert rules and instances. Backed by MySQL when the
// store is configured, by an in-memory implementation otherwise.
type AlertStore interface {
	UpsertRule(ctx context.Context, rule *models.AlertRule) error
	GetRule(ctx context.Context, id string) (*models.AlertRule, error)
	ListRules(ctx context.Context) ([]*models.AlertRule, error)
	DeleteRule(ctx context.Context, id string) error
	CountRules(ctx context.Context) (int, error)

	// IncrementOrCreate records a trigger for (ruleID, source, host) as a
	// single atomic decision: when an OPEN instance exists its trigger
	// count and last occurrence move forward, otherwise the candidate is
	// inserted as the new OPEN instance. The bool reports whether a new
	// instance was created.
	IncrementOrCreate(ctx context.Context, inst *models.AlertInstance) (*models.AlertInstance, bool, error)
	GetInstance(ctx context.Context, id string) (*models.AlertInstance, error)
	ListInstances(ctx context.Context, q InstanceQuery) ([]*models.AlertInstance, error)
	Acknowledge(ctx context.Context, id string, at time.Time) (*models.AlertInstance, error)
	Resolve(ctx context.Context, id string, at time.Time) (*models.AlertInstance, error)
}
