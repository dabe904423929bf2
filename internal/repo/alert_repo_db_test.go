//go:build db

package repo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/storage/mysql"
)

// Database Test Cases: live MySQL if MYSQL_HOST is set.
func TestAlertRepo_DB(t *testing.T) {
	host := os.Getenv("MYSQL_HOST")
	if host == "" {
		t.Skip("MYSQL_HOST not set; skipping DB test")
	}
	client, err := mysql.Connect(config.MySQLConfig{
		Host:     host,
		User:     os.Getenv("MYSQL_USER"),
		Password: os.Getenv("MYSQL_PASSWORD"),
		Database: os.Getenv("MYSQL_DATABASE"),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	repo := NewAlertRepo(client.DB)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	rule := &models.AlertRule{
		ID:       "db-test-rule",
		Name:     "db-test",
		Type:     models.RulePatternMatch,
		Severity: models.SeverityHigh,
		Enabled:  true,
		Pattern:  &models.PatternParams{Pattern: "boom"},
	}
	if err := repo.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("upsert rule: %v", err)
	}
	defer repo.DeleteRule(ctx, rule.ID)

	got, err := repo.GetRule(ctx, rule.ID)
	if err != nil || got.Pattern == nil || got.Pattern.Pattern != "boom" {
		t.Fatalf("get rule: %+v err=%v", got, err)
	}

	cand := &models.AlertInstance{
		ID:              "db-test-instance",
		Title:           "db test alert",
		Severity:        models.SeverityHigh,
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		TriggeredBy:     "db-test-source",
		Host:            "db-test-host",
		FirstOccurrence: t0,
		LastOccurrence:  t0,
	}
	first, created, err := repo.IncrementOrCreate(ctx, cand)
	if err != nil || !created || first.TriggerCount != 1 {
		t.Fatalf("first trigger: created=%v inst=%+v err=%v", created, first, err)
	}

	cand2 := *cand
	cand2.ID = "db-test-instance-dup"
	cand2.LastOccurrence = t0.Add(time.Second)
	second, created, err := repo.IncrementOrCreate(ctx, &cand2)
	if err != nil || created {
		t.Fatalf("second trigger: created=%v err=%v", created, err)
	}
	if second.ID != first.ID || second.TriggerCount != 2 {
		t.Fatalf("second trigger: %+v", second)
	}

	if _, err := repo.Resolve(ctx, first.ID, t0.Add(2*time.Second)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}
