package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborcats/intake-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertUploadFailureRate AlertType = "upload_failure_rate"
	AlertStuckProcessing   AlertType = "stuck_processing"
	AlertNoteQueueBacklog  AlertType = "note_queue_backlog"
	AlertStaleSource       AlertType = "stale_source"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// sends alerts via webhook when thresholds are breached.
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

	// A rate only means something once a handful of uploads have
	// finished; one failure out of two is noise.
	finished := snap.UploadsCompleted + snap.UploadsFailed
	if finished >= 5 && snap.UploadFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertUploadFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Upload failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.UploadFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.UploadsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.UploadFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.UploadsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if n := len(snap.StuckProcessing); n > 0 {
		ids := make([]string, 0, n)
		for _, s := range snap.StuckProcessing {
			ids = append(ids, s.ID)
		}
		alerts = append(alerts, Alert{
			Type:     AlertStuckProcessing,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d upload(s) stuck in processing for over %dm",
				n, a.cfg.StuckProcessingMins,
			),
			Details: map[string]any{
				"upload_ids":     ids,
				"threshold_mins": a.cfg.StuckProcessingMins,
			},
			Timestamp: now,
		})
	}

	if a.cfg.NoteQueueMax > 0 && snap.NoteQueueDepth > a.cfg.NoteQueueMax {
		alerts = append(alerts, Alert{
			Type:     AlertNoteQueueBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Note queue depth %d exceeds limit %d; the downstream consumer is behind",
				snap.NoteQueueDepth, a.cfg.NoteQueueMax,
			),
			Details: map[string]any{
				"depth": snap.NoteQueueDepth,
				"limit": a.cfg.NoteQueueMax,
			},
			Timestamp: now,
		})
	}

	if n := len(snap.StaleSources); n > 0 {
		names := make([]string, 0, n)
		for _, s := range snap.StaleSources {
			names = append(names, s.SourceSystem+"/"+s.SourceTable)
		}
		alerts = append(alerts, Alert{
			Type:     AlertStaleSource,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d source table(s) have no coverage newer than %d days: %s",
				n, a.cfg.StaleSourceDays, strings.Join(names, ", "),
			),
			Details: map[string]any{
				"sources":        names,
				"threshold_days": a.cfg.StaleSourceDays,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
