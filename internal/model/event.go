package model

import "time"

// LifeEventType classifies a keyword-derived animal life event.
type LifeEventType string

const (
	EventDeceased    LifeEventType = "deceased"
	EventEuthanized  LifeEventType = "euthanized"
	EventAdopted     LifeEventType = "adopted"
	EventTransferred LifeEventType = "transferred"
	EventReturned    LifeEventType = "returned"
)

// LifeEvent marks a status change for an animal inferred from note text.
type LifeEvent struct {
	ID        int64         `json:"id"`
	AnimalID  int64         `json:"animal_id"`
	EventType LifeEventType `json:"event_type"`
	EventDate *time.Time    `json:"event_date,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// NoteStatus is the processing state of a queued note.
type NoteStatus string

const (
	NotePending   NoteStatus = "pending"
	NoteExtracted NoteStatus = "extracted"
	NoteSkipped   NoteStatus = "skipped"
)

// NoteItem is one free-text note queued for downstream extraction. The
// pipeline only produces these; consumers drain the queue out of band.
type NoteItem struct {
	ID           string     `json:"id"`
	NoteKey      string     `json:"note_key"`
	SourceSystem string     `json:"source_system"`
	SourceTable  string     `json:"source_table"`
	SourceRowID  string     `json:"source_row_id"`
	NoteKind     string     `json:"note_kind"`
	Body         string     `json:"body"`
	Status       NoteStatus `json:"status"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}
