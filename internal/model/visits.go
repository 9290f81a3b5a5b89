package model

import "time"

// Appointment is one clinic visit, historical or upcoming. Upcoming rows
// carry snapshot bookkeeping: IsCurrent flips off when a later export
// covering the same window no longer lists the appointment.
type Appointment struct {
	ID           int64      `json:"id"`
	SourceSystem string     `json:"source_system"`
	SourcePK     string     `json:"source_pk"`
	Number       string     `json:"number,omitempty"`
	Date         time.Time  `json:"date"`
	AnimalName   string     `json:"animal_name,omitempty"`
	VetName      string     `json:"vet_name,omitempty"`
	Upcoming     bool       `json:"upcoming"`
	IsCurrent    bool       `json:"is_current"`
	StaleAt      *time.Time `json:"stale_at,omitempty"`
	AnimalID     *int64     `json:"animal_id,omitempty"`
	PersonID     *int64     `json:"person_id,omitempty"`
	AccountID    *int64     `json:"account_id,omitempty"`
	PlaceID      *int64     `json:"place_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ProcedureKind is the surgery performed at an appointment.
type ProcedureKind string

const (
	ProcSpay   ProcedureKind = "spay"
	ProcNeuter ProcedureKind = "neuter"
)

// Opposite returns the other surgery kind.
func (k ProcedureKind) Opposite() ProcedureKind {
	if k == ProcSpay {
		return ProcNeuter
	}
	return ProcSpay
}

// Procedure records a surgery performed at an appointment.
type Procedure struct {
	ID              int64         `json:"id"`
	AppointmentID   int64         `json:"appointment_id"`
	AnimalID        *int64        `json:"animal_id,omitempty"`
	Kind            ProcedureKind `json:"kind"`
	NoSurgeryReason string        `json:"no_surgery_reason,omitempty"`
	PerformedAt     time.Time     `json:"performed_at"`
}

// VitalsObservation is one measured or flagged condition from a clinic
// visit: weight, age, or a boolean condition like pregnant or uri.
type VitalsObservation struct {
	ID            int64     `json:"id"`
	AnimalID      *int64    `json:"animal_id,omitempty"`
	AppointmentID int64     `json:"appointment_id"`
	Metric        string    `json:"metric"`
	ValueNum      *float64  `json:"value_num,omitempty"`
	ValueBool     *bool     `json:"value_bool,omitempty"`
	ObservedAt    time.Time `json:"observed_at"`
}
