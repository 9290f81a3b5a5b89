package model

import "time"

// StageOutcome reports what staging did with one raw row.
type StageOutcome string

const (
	StageInserted StageOutcome = "inserted"
	StageUpdated  StageOutcome = "updated"
	StageSkipped  StageOutcome = "skipped"
)

// StagedRecord is one raw source row preserved verbatim in the staging
// layer. Payload keeps every original cell keyed by trimmed header name.
type StagedRecord struct {
	ID           int64             `json:"id"`
	SourceSystem string            `json:"source_system"`
	SourceTable  string            `json:"source_table"`
	SourceRowID  string            `json:"source_row_id"`
	RowHash      string            `json:"row_hash"`
	UploadID     string            `json:"upload_id,omitempty"`
	Payload      map[string]string `json:"payload"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
