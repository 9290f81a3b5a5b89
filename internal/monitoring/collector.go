// Package monitoring watches intake health: upload outcomes, stuck
// processing claims, note-queue backlog, and source coverage staleness.
// The checker runs inside serve; threshold breaches go to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/config"
	"github.com/harborcats/intake-cli/internal/db"
	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/upload"
)

// MetricsSnapshot holds a point-in-time view of intake health.
type MetricsSnapshot struct {
	// Upload counts within the lookback window.
	UploadsTotal      int     `json:"uploads_total"`
	UploadsCompleted  int     `json:"uploads_completed"`
	UploadsFailed     int     `json:"uploads_failed"`
	UploadsPending    int     `json:"uploads_pending"`
	UploadsProcessing int     `json:"uploads_processing"`
	UploadFailRate    float64 `json:"upload_fail_rate"`

	// Uploads holding a processing claim past the threshold, regardless
	// of window. These are crashed workers: the claim guard keeps the row
	// locked until someone re-triggers processing.
	StuckProcessing []StuckUpload `json:"stuck_processing,omitempty"`

	// Notes waiting for the external consumer.
	NoteQueueDepth int `json:"note_queue_depth"`

	// Source tables whose newest coverage has aged past the threshold.
	StaleSources []StaleSource `json:"stale_sources,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StuckUpload identifies one upload sitting in processing too long.
type StuckUpload struct {
	ID                  string    `json:"id"`
	SourceSystem        string    `json:"source_system"`
	SourceTable         string    `json:"source_table"`
	FileName            string    `json:"file_name"`
	ProcessingStartedAt time.Time `json:"processing_started_at"`
}

// StaleSource is a source table nobody has delivered fresh data for:
// either the partner stopped exporting or fetch stopped pulling.
type StaleSource struct {
	SourceSystem string    `json:"source_system"`
	SourceTable  string    `json:"source_table"`
	CoverageEnd  time.Time `json:"coverage_end"`
	AgeDays      int       `json:"age_days"`
}

// CoverageQuerier is the slice of the upload store the collector reads.
// *upload.Store is the production implementation.
type CoverageQuerier interface {
	LatestCoverage(ctx context.Context) ([]upload.Coverage, error)
}

// Collector gathers health metrics from the intake schema.
type Collector struct {
	pool     db.Pool
	coverage CoverageQuerier
}

// NewCollector creates a metrics collector. A nil coverage querier skips
// the staleness check.
func NewCollector(pool db.Pool, coverage CoverageQuerier) *Collector {
	return &Collector{pool: pool, coverage: coverage}
}

// Collect gathers a snapshot of intake health. Window and thresholds come
// from cfg; a non-positive threshold disables its check.
func (c *Collector) Collect(ctx context.Context, cfg config.MonitoringConfig) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: cfg.LookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(cfg.LookbackHours) * time.Hour)
	if err := c.countUploads(ctx, cutoff, snap); err != nil {
		return nil, err
	}

	if cfg.StuckProcessingMins > 0 {
		stuck, err := c.stuckUploads(ctx, now.Add(-time.Duration(cfg.StuckProcessingMins)*time.Minute))
		if err != nil {
			return nil, err
		}
		snap.StuckProcessing = stuck
	}

	var depth int64
	if err := c.pool.QueryRow(ctx,
		`SELECT count(*) FROM intake.note_queue WHERE status = 'pending'`,
	).Scan(&depth); err != nil {
		return nil, eris.Wrap(err, "monitoring: count note queue")
	}
	snap.NoteQueueDepth = int(depth)

	if c.coverage != nil && cfg.StaleSourceDays > 0 {
		stale, err := c.staleSources(ctx, now, cfg.StaleSourceDays)
		if err != nil {
			return nil, err
		}
		snap.StaleSources = stale
	}

	return snap, nil
}

func (c *Collector) countUploads(ctx context.Context, cutoff time.Time, snap *MetricsSnapshot) error {
	rows, err := c.pool.Query(ctx,
		`SELECT status, count(*) FROM intake.file_uploads
		 WHERE created_at >= $1
		 GROUP BY status`,
		cutoff,
	)
	if err != nil {
		return eris.Wrap(err, "monitoring: count uploads")
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return eris.Wrap(err, "monitoring: scan upload count")
		}
		snap.UploadsTotal += int(n)
		switch model.UploadStatus(status) {
		case model.UploadCompleted:
			snap.UploadsCompleted = int(n)
		case model.UploadFailed:
			snap.UploadsFailed = int(n)
		case model.UploadPending:
			snap.UploadsPending = int(n)
		case model.UploadProcessing:
			snap.UploadsProcessing = int(n)
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "monitoring: upload counts")
	}

	// Rate over finished uploads only; queued work is not a verdict yet.
	finished := snap.UploadsCompleted + snap.UploadsFailed
	if finished > 0 {
		snap.UploadFailRate = float64(snap.UploadsFailed) / float64(finished)
	}
	return nil
}

func (c *Collector) stuckUploads(ctx context.Context, before time.Time) ([]StuckUpload, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id::text, source_system, source_table, file_name, processing_started_at
		 FROM intake.file_uploads
		 WHERE status = 'processing' AND processing_started_at < $1
		 ORDER BY processing_started_at`,
		before,
	)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: query stuck uploads")
	}
	defer rows.Close()

	var stuck []StuckUpload
	for rows.Next() {
		var s StuckUpload
		if err := rows.Scan(&s.ID, &s.SourceSystem, &s.SourceTable, &s.FileName, &s.ProcessingStartedAt); err != nil {
			return nil, eris.Wrap(err, "monitoring: scan stuck upload")
		}
		stuck = append(stuck, s)
	}
	return stuck, rows.Err()
}

func (c *Collector) staleSources(ctx context.Context, now time.Time, staleDays int) ([]StaleSource, error) {
	entries, err := c.coverage.LatestCoverage(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest coverage")
	}

	cutoff := now.AddDate(0, 0, -staleDays)
	var stale []StaleSource
	for _, e := range entries {
		if !e.End.Before(cutoff) {
			continue
		}
		stale = append(stale, StaleSource{
			SourceSystem: e.SourceSystem,
			SourceTable:  e.SourceTable,
			CoverageEnd:  e.End,
			AgeDays:      int(now.Sub(e.End).Hours() / 24),
		})
	}
	return stale, nil
}
