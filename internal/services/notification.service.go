package services

import (
	"context"
	"time"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/monitoring"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

const notifyTimeout = 15 * time.Second

// NotificationService fans new alert instances out to the enabled channels.
// Delivery faults are logged and counted per channel and never reach the
// ingestion path.
type NotificationService struct {
	cfg          config.IntegrationsConfig
	integrations *IntegrationsService
	logger       logger.Logger
}

func NewNotificationService(cfg config.IntegrationsConfig, log logger.Logger) *NotificationService {
	return &NotificationService{
		cfg:          cfg,
		integrations: NewIntegrationsService(cfg, log),
		logger:       log,
	}
}

// HandleAlertEvent is registered as an alert engine listener. Only newly
// created instances notify; retriggers just bump the existing instance and
// stay quiet.
func (s *NotificationService) HandleAlertEvent(event *models.AlertEvent) {
	if event == nil || event.Instance == nil || event.Type != models.AlertEventCreated {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	s.Dispatch(ctx, event)
}

// Dispatch tries every enabled channel, counting one delivery attempt each.
func (s *NotificationService) Dispatch(ctx context.Context, event *models.AlertEvent) {
	channels := []struct {
		name    string
		enabled bool
		send    func(context.Context, *models.AlertEvent) error
	}{
		{"slack", s.cfg.Slack.Enabled, s.integrations.SendSlack},
		{"teams", s.cfg.MSTeams.Enabled, s.integrations.SendTeams},
		{"email", s.cfg.Email.Enabled, s.integrations.SendEmail},
		{"webhook", s.cfg.Webhook.Enabled, s.integrations.SendWebhook},
	}

	for _, ch := range channels {
		if !ch.enabled {
			continue
		}
		if err := ch.send(ctx, event); err != nil {
			monitoring.RecordNotification(ch.name, "error")
			s.logger.Error("notification delivery failed",
				"channel", ch.name, "alertId", event.Instance.ID, "error", err)
			continue
		}
		monitoring.RecordNotification(ch.name, "sent")
	}
}
