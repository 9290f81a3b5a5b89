package model

import "time"

// RequestStatus is the canonical lifecycle state of a trapping request.
type RequestStatus string

const (
	RequestNew         RequestStatus = "new"
	RequestNeedsReview RequestStatus = "needs_review"
	RequestActive      RequestStatus = "active"
	RequestScheduled   RequestStatus = "scheduled"
	RequestInProgress  RequestStatus = "in_progress"
	RequestPaused      RequestStatus = "paused"
	RequestResolved    RequestStatus = "resolved"
	RequestClosed      RequestStatus = "closed"
)

// Open reports whether the request still accepts appointment attribution
// without a resolution bound.
func (s RequestStatus) Open() bool {
	switch s {
	case RequestResolved, RequestClosed:
		return false
	}
	return true
}

// Request is a tracked trapping request from the request tracker.
type Request struct {
	ID                       int64         `json:"id"`
	CaseNumber               string        `json:"case_number"`
	SourceRecordID           string        `json:"source_record_id,omitempty"`
	Status                   RequestStatus `json:"status,omitempty"`
	Priority                 *int16        `json:"priority,omitempty"`
	PriorityLabel            string        `json:"priority_label,omitempty"`
	Notes                    string        `json:"notes,omitempty"`
	PlaceID                  *int64        `json:"place_id,omitempty"`
	ReporterPersonID         *int64        `json:"reporter_person_id,omitempty"`
	ArchiveReason            string        `json:"archive_reason,omitempty"`
	ArchivedAt               *time.Time    `json:"archived_at,omitempty"`
	MergedIntoCaseNumber     string        `json:"merged_into_case_number,omitempty"`
	MergedIntoSourceRecordID string        `json:"merged_into_source_record_id,omitempty"`
	OpenedAt                 time.Time     `json:"opened_at"`
	ResolvedAt               *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt                time.Time     `json:"created_at"`
	UpdatedAt                time.Time     `json:"updated_at"`
}

// RequestNote is one journal entry attached to a request. NoteKey makes
// re-imports idempotent.
type RequestNote struct {
	ID           int64     `json:"id"`
	RequestID    int64     `json:"request_id"`
	NoteKind     string    `json:"note_kind"`
	NoteBody     string    `json:"note_body"`
	NoteKey      string    `json:"note_key"`
	SourceSystem string    `json:"source_system"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PartyRole names how a person participates in a request.
type PartyRole string

const (
	RoleReporter  PartyRole = "reporter"
	RoleTrapper   PartyRole = "trapper"
	RoleCaretaker PartyRole = "caretaker"
)

// RequestParty links a person to a request in a given role.
type RequestParty struct {
	RequestID int64     `json:"request_id"`
	PersonID  int64     `json:"person_id"`
	Role      PartyRole `json:"role"`
}
