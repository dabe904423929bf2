package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// IntegrationsService delivers alert events to the configured external
// channels: Slack, MS Teams, SMTP email and a generic webhook. Each sender is
// a no-op when its channel is disabled.
type IntegrationsService struct {
	config config.IntegrationsConfig
	client *http.Client
	logger logger.Logger
}

func NewIntegrationsService(cfg config.IntegrationsConfig, log logger.Logger) *IntegrationsService {
	return &IntegrationsService{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log,
	}
}

// SendSlack posts the alert as a colored attachment to the Slack webhook.
func (s *IntegrationsService) SendSlack(ctx context.Context, event *models.AlertEvent) error {
	if !s.config.Slack.Enabled {
		return nil
	}
	alert := event.Instance

	payload := map[string]interface{}{
		"channel": s.config.Slack.Channel,
		"attachments": []map[string]interface{}{
			{
				"color":     slackColor(alert.Severity),
				"title":     alert.Title,
				"text":      alert.Description,
				"timestamp": event.Timestamp.Unix(),
				"fields": []map[string]interface{}{
					{"title": "Rule", "value": alert.RuleName, "short": true},
					{"title": "Severity", "value": string(alert.Severity), "short": true},
					{"title": "Source", "value": alert.TriggeredBy, "short": true},
					{"title": "Host", "value": alert.Host, "short": true},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Slack.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	s.logger.Info("Slack notification sent", "alertId", alert.ID, "rule", alert.RuleID)
	return nil
}

// SendTeams posts the alert as an MS Teams MessageCard.
func (s *IntegrationsService) SendTeams(ctx context.Context, event *models.AlertEvent) error {
	if !s.config.MSTeams.Enabled {
		return nil
	}
	alert := event.Instance

	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"summary":    alert.Title,
		"themeColor": teamsColor(alert.Severity),
		"sections": []map[string]interface{}{
			{
				"activityTitle":    alert.Title,
				"activitySubtitle": alert.RuleName,
				"text":             alert.Description,
				"facts": []map[string]interface{}{
					{"name": "Severity", "value": string(alert.Severity)},
					{"name": "Source", "value": alert.TriggeredBy},
					{"name": "Host", "value": alert.Host},
					{"name": "Time", "value": event.Timestamp.Format(time.RFC3339)},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.MSTeams.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ms teams webhook returned status %d", resp.StatusCode)
	}

	s.logger.Info("MS Teams notification sent", "alertId", alert.ID, "rule", alert.RuleID)
	return nil
}

// SendWebhook posts the whole alert event as JSON to a generic endpoint.
func (s *IntegrationsService) SendWebhook(ctx context.Context, event *models.AlertEvent) error {
	if !s.config.Webhook.Enabled {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	s.logger.Info("webhook notification sent", "alertId", event.Instance.ID)
	return nil
}

// SendEmail delivers the alert over SMTP with optional plain auth.
func (s *IntegrationsService) SendEmail(ctx context.Context, event *models.AlertEvent) error {
	if !s.config.Email.Enabled {
		return nil
	}
	if s.config.Email.SMTPHost == "" || s.config.Email.SMTPPort == 0 || s.config.Email.FromAddress == "" {
		return fmt.Errorf("email integration not properly configured")
	}
	if len(s.config.Email.Recipients) == 0 {
		return fmt.Errorf("no email recipients configured")
	}
	alert := event.Instance

	safeFrom, err := sanitizeEmailHeader("from address", s.config.Email.FromAddress)
	if err != nil {
		return err
	}
	if safeFrom == "" {
		return fmt.Errorf("from address cannot be empty")
	}

	safeRecipients := make([]string, 0, len(s.config.Email.Recipients))
	for _, recipient := range s.config.Email.Recipients {
		safe, err := sanitizeEmailHeader("recipient", recipient)
		if err != nil {
			return err
		}
		if safe == "" {
			return fmt.Errorf("recipient cannot be empty")
		}
		safeRecipients = append(safeRecipients, safe)
	}

	safeTitle, err := sanitizeEmailHeader("title", alert.Title)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("[atalaya] %s - %s", alert.Severity, safeTitle)
	body := fmt.Sprintf(
		"Rule: %s (%s)\nSource: %s\nHost: %s\nSeverity: %s\nTriggers: %d\nFirst: %s\nLast: %s\n\n%s",
		alert.RuleName,
		alert.RuleID,
		alert.TriggeredBy,
		alert.Host,
		alert.Severity,
		alert.TriggerCount,
		alert.FirstOccurrence.Format(time.RFC3339),
		alert.LastOccurrence.Format(time.RFC3339),
		alert.Description,
	)

	var msg strings.Builder
	msg.WriteString("From: ")
	msg.WriteString(safeFrom)
	msg.WriteString("\r\n")
	msg.WriteString("To: ")
	msg.WriteString(strings.Join(safeRecipients, ","))
	msg.WriteString("\r\n")
	msg.WriteString("Subject: ")
	msg.WriteString(subject)
	msg.WriteString("\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.config.Email.Username != "" && s.config.Email.Password != "" {
		auth = smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)
	if err := smtp.SendMail(addr, auth, safeFrom, safeRecipients, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email notification sent", "alertId", alert.ID, "to", safeRecipients)
	return nil
}

func slackColor(severity models.AlertSeverity) string {
	switch severity {
	case models.SeverityCritical:
		return "danger"
	case models.SeverityHigh:
		return "warning"
	case models.SeverityMedium:
		return "#439FE0"
	default:
		return "good"
	}
}

func teamsColor(severity models.AlertSeverity) string {
	switch severity {
	case models.SeverityCritical:
		return "FF0000"
	case models.SeverityHigh:
		return "FFA500"
	case models.SeverityMedium:
		return "0078D4"
	default:
		return "00B294"
	}
}

// sanitizeEmailHeader rejects header values that could break out of email headers.
func sanitizeEmailHeader(fieldName, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if strings.ContainsAny(trimmed, "\r\n") {
		return "", fmt.Errorf("%s contains invalid newline characters", fieldName)
	}
	return trimmed, nil
}
