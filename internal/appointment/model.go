package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
	"github.com/hackgods/clinic-slot-scheduling/internal/query"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsValid() bool {
	return s == StatusScheduled || s == StatusCancelled
}

// CanTransitionTo reports whether a status update from s to next is allowed.
// Cancelled is final; keeping the current status is a no-op.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusScheduled:
		return next == StatusScheduled || next == StatusCancelled
	default:
		return false
	}
}

// Appointment is a patient's booking against a slot. ID is the slot's id, and
// the interval plus both participants are value copies taken at request time.
type Appointment struct {
	ID              uuid.UUID            `json:"id"`
	Start           time.Time            `json:"start"`
	End             time.Time            `json:"end"`
	DurationMinutes int                  `json:"duration_minutes"`
	Doctor          identity.Participant `json:"doctor"`
	Patient         identity.Participant `json:"patient"`
	Status          Status               `json:"status"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

func (a Appointment) IsParticipant(uid string) bool {
	return uid != "" && (a.Doctor.UID == uid || a.Patient.UID == uid)
}

func (a Appointment) Document() map[string]any {
	return map[string]any{
		"id":               a.ID.String(),
		"start":            a.Start,
		"end":              a.End,
		"duration_minutes": a.DurationMinutes,
		"doctor_id":        a.Doctor.UID,
		"doctor":           a.Doctor,
		"patient_id":       a.Patient.UID,
		"patient":          a.Patient,
		"status":           string(a.Status),
		"created_at":       a.CreatedAt,
		"updated_at":       a.UpdatedAt,
	}
}

var Schema = query.Schema{Fields: map[string]query.Field{
	"id":               {Column: "id::text", Filterable: true},
	"start":            {Column: "start_at"},
	"end":              {Column: "end_at"},
	"duration_minutes": {Column: "duration_minutes::text", Filterable: true},
	"doctor_id":        {Column: "doctor_uid", Filterable: true},
	"doctor":           {Column: "doctor_uid"},
	"patient_id":       {Column: "patient_uid", Filterable: true},
	"patient":          {Column: "patient_uid"},
	"status":           {Column: "status", Filterable: true},
	"created_at":       {Column: "created_at"},
	"updated_at":       {Column: "updated_at"},
}}

const (
	DefaultListFilters  = "status=scheduled"
	DefaultDetailFields = "start,end,status"
)
