package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cfptrack/cfptrack/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSourceStale     AlertType = "source_stale"
	AlertSourceNeverSeen AlertType = "source_never_fetched"
	AlertUnlinkedBacklog AlertType = "unlinked_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	staleAfter := a.cfg.StaleAfter()
	for _, src := range snap.Sources {
		if src.NeverFetched {
			alerts = append(alerts, Alert{
				Type:      AlertSourceNeverSeen,
				Severity:  "medium",
				Message:   fmt.Sprintf("Source %s has never been fetched", src.Name),
				Details:   map[string]any{"source": src.Name},
				Timestamp: now,
			})
			continue
		}
		age := time.Duration(src.AgeMins) * time.Minute
		if staleAfter > 0 && age > staleAfter {
			alerts = append(alerts, Alert{
				Type:     AlertSourceStale,
				Severity: "high",
				Message: fmt.Sprintf("Source %s last refreshed %dm ago (threshold %dm)",
					src.Name, src.AgeMins, a.cfg.StaleAfterMins),
				Details: map[string]any{
					"source":   src.Name,
					"age_mins": src.AgeMins,
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.UnlinkedThreshold > 0 && snap.Unlinked > a.cfg.UnlinkedThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertUnlinkedBacklog,
			Severity: "medium",
			Message: fmt.Sprintf("%d source events await reconciliation (threshold %d)",
				snap.Unlinked, a.cfg.UnlinkedThreshold),
			Details: map[string]any{
				"unlinked":      snap.Unlinked,
				"source_events": snap.SourceEvents,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts each alert to the configured webhook and returns how many
// were delivered. Delivery failures are logged, not returned: monitoring must
// never take down its host process.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		zap.L().Debug("no webhook configured, dropping alerts", zap.Int("count", len(alerts)))
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.send(ctx, alert); err != nil {
			zap.L().Error("failed to send alert",
				zap.String("type", string(alert.Type)), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func (a *Alerter) send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned %d", resp.StatusCode)
	}
	return nil
}
