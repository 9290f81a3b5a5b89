// Package model defines the canonical entities and pipeline records shared
// across the intake packages.
package model

import "time"

// UploadStatus represents the lifecycle state of a file upload.
type UploadStatus string

const (
	UploadPending    UploadStatus = "pending"
	UploadProcessing UploadStatus = "processing"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "failed"
)

// Upload is one received source file moving through the pipeline.
type Upload struct {
	ID                  string          `json:"id"`
	SourceSystem        string          `json:"source_system"`
	SourceTable         string          `json:"source_table"`
	FileName            string          `json:"file_name"`
	StoredPath          string          `json:"stored_path"`
	SizeBytes           int64           `json:"size_bytes"`
	Status              UploadStatus    `json:"status"`
	Error               string          `json:"error,omitempty"`
	Progress            *UploadProgress `json:"progress,omitempty"`
	Result              *IngestReport   `json:"result,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// UploadProgress is persisted after each processing step so an interrupted
// run shows where it stopped.
type UploadProgress struct {
	Step    string `json:"step"`
	StepNum int    `json:"step_num"`
	Steps   int    `json:"steps"`
}

// StageCounts summarizes staging outcomes for one upload.
type StageCounts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// EntityCounts summarizes promotion outcomes for one canonical entity type.
type EntityCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Linked  int `json:"linked"`
}

// PassResult records one relationship-linking pass.
type PassResult struct {
	Name     string `json:"name"`
	Affected int64  `json:"affected"`
	Warning  string `json:"warning,omitempty"`
}

// DateRange tracks the min and max row dates seen in an upload.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Extend widens the range to include t.
func (r *DateRange) Extend(t time.Time) {
	if t.IsZero() {
		return
	}
	if r.Start.IsZero() || t.Before(r.Start) {
		r.Start = t
	}
	if r.End.IsZero() || t.After(r.End) {
		r.End = t
	}
}

// PostProcessing aggregates the results of the linking passes run after
// staging, plus any non-fatal warnings collected along the way.
type PostProcessing struct {
	Passes   []PassResult `json:"passes,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// IngestReport is the JSON result of processing one upload. rows_total
// counts rows that reached staging; rows dropped before staging (blank
// lines, merged continuation rows) land in rows_dropped.
type IngestReport struct {
	UploadID     string                   `json:"upload_id,omitempty"`
	SourceSystem string                   `json:"source_system"`
	SourceTable  string                   `json:"source_table"`
	RowsTotal    int                      `json:"rows_total"`
	RowsInserted int                      `json:"rows_inserted"`
	RowsUpdated  int                      `json:"rows_updated"`
	RowsSkipped  int                      `json:"rows_skipped"`
	RowsDropped  int                      `json:"rows_dropped,omitempty"`
	Entities     map[string]*EntityCounts `json:"entities,omitempty"`
	DateRange    *DateRange               `json:"date_range,omitempty"`
	Post         PostProcessing           `json:"post_processing"`
	DurationMS   int64                    `json:"duration_ms"`
}

// CountStage tallies one staging outcome.
func (r *IngestReport) CountStage(o StageOutcome) {
	r.RowsTotal++
	switch o {
	case StageInserted:
		r.RowsInserted++
	case StageUpdated:
		r.RowsUpdated++
	case StageSkipped:
		r.RowsSkipped++
	}
}

// Entity returns the counter bucket for one entity type, creating it on
// first use.
func (r *IngestReport) Entity(name string) *EntityCounts {
	if r.Entities == nil {
		r.Entities = make(map[string]*EntityCounts)
	}
	c, ok := r.Entities[name]
	if !ok {
		c = &EntityCounts{}
		r.Entities[name] = c
	}
	return c
}

// Warn appends a non-fatal warning to the report.
func (r *IngestReport) Warn(msg string) {
	r.Post.Warnings = append(r.Post.Warnings, msg)
}
