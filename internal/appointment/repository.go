package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/apperr"
	"github.com/hackgods/clinic-slot-scheduling/internal/query"
)

var (
	ErrAppointmentNotFound     = apperr.NotFound("appointment not found")
	ErrSlotNotFree             = apperr.Conflict("slot is not free")
	ErrSlotInPast              = apperr.Validation("slot start is not in the future")
	ErrSlotAlreadyBooked       = apperr.Conflict("slot already has a scheduled appointment for another patient")
	ErrNotParticipant          = apperr.Ownership("only the doctor or the patient of this appointment can do this")
	ErrInvalidStatus           = apperr.Validation("unknown appointment status")
	ErrInvalidStatusTransition = apperr.Conflict("invalid status transition")
)

// Repository is the appointment persistence port.
type Repository interface {
	// Upsert writes a by id. An existing record is replaced only when it
	// belongs to the same patient or is cancelled; otherwise it returns
	// ErrSlotAlreadyBooked.
	Upsert(ctx context.Context, a *Appointment) error
	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindMany lists appointments where participantUID is the doctor or the
	// patient. An empty participantUID lists every appointment.
	FindMany(ctx context.Context, list query.List, participantUID string) ([]Appointment, error)
	// UpdateStatus changes the status only if it still equals from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
