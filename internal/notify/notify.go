// Package notify delivers one notification per run to an external sink.
// Concrete transports beyond the webhook live outside this core.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/logger"
)

// Severity grades a notification.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns the string representation of Severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Notifier is the notification sink every run reports through, regardless
// of outcome.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, message string) error
}

// LogNotifier writes notifications to the run log. It is the fallback when
// no webhook is configured.
type LogNotifier struct {
	log logger.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, severity Severity, message string) error {
	switch severity {
	case SeverityCritical:
		n.log.Error("notification", "severity", severity.String(), "message", message)
	case SeverityWarning:
		n.log.Warn("notification", "severity", severity.String(), "message", message)
	default:
		n.log.Info("notification", "severity", severity.String(), "message", message)
	}
	return nil
}

// WebhookNotifier posts a JSON payload to a chat/ops webhook.
type WebhookNotifier struct {
	url      string
	hostname string
	client   *http.Client
	log      logger.Logger
}

var _ Notifier = (*WebhookNotifier)(nil)

func NewWebhookNotifier(url string, timeout time.Duration, log logger.Logger) *WebhookNotifier {
	hostname, _ := os.Hostname()
	return &WebhookNotifier{
		url:      url,
		hostname: hostname,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

type webhookPayload struct {
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Hostname  string    `json:"hostname"`
	Timestamp time.Time `json:"timestamp"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, severity Severity, message string) error {
	payload, err := json.Marshal(webhookPayload{
		Severity:  severity.String(),
		Message:   message,
		Hostname:  n.hostname,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %s", resp.Status)
	}
	return nil
}

// NewFromConfig picks the webhook sink when configured and the log sink
// otherwise.
func NewFromConfig(cfg config.NotifyConfig, log logger.Logger) Notifier {
	if cfg.WebhookURL != "" {
		return NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout, log)
	}
	return NewLogNotifier(log)
}
