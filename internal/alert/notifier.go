package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalis-health/clinsight/internal/shared/config"
)

// Notifier raises operational alerts. Alerts are operator-facing; details
// must carry identifiers and counts only, never patient data.
type Notifier interface {
	Critical(ctx context.Context, summary string, details map[string]any) error
}

// LogNotifier writes alerts to the process log. It is the fallback when no
// webhook is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Critical logs the alert at error level.
func (n *LogNotifier) Critical(ctx context.Context, summary string, details map[string]any) error {
	n.log.Error().Fields(details).Str("alert", "critical").Msg(summary)
	return nil
}

// WebhookNotifier posts alerts to an operations webhook.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewWebhookNotifier creates a webhook-backed notifier.
func NewWebhookNotifier(url string, log zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

type webhookPayload struct {
	Severity  string         `json:"severity"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Critical posts the alert; delivery failure is logged, not propagated as
// a request failure.
func (n *WebhookNotifier) Critical(ctx context.Context, summary string, details map[string]any) error {
	body, err := json.Marshal(webhookPayload{
		Severity:  "critical",
		Summary:   summary,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.log.Error().Err(err).Msg("alert webhook unreachable")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Error().Int("status", resp.StatusCode).Msg("alert webhook rejected alert")
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}

// NewFromConfig selects the webhook notifier when one is configured, the
// log notifier otherwise.
func NewFromConfig(cfg config.AlertConfig, log zerolog.Logger) Notifier {
	if cfg.WebhookURL != "" {
		return NewWebhookNotifier(cfg.WebhookURL, log)
	}
	return NewLogNotifier(log)
}
