package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
	"github.com/hackgods/clinic-slot-scheduling/internal/messaging"
	"github.com/hackgods/clinic-slot-scheduling/internal/query"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

// SlotReader is the read-only view of slots the request path needs.
type SlotReader interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*scheduling.TimeSlot, error)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

type Service struct {
	repo      Repository
	slots     SlotReader
	publisher messaging.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewService(repo Repository, slots SlotReader, publisher messaging.Publisher, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		slots:     slots,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestAppointment validates the slot and publishes a requested event with
// the appointment snapshot. Nothing is written here; the snapshot is returned
// as the acknowledgement and the caller re-reads the appointment later.
func (s *Service) RequestAppointment(ctx context.Context, slotID uuid.UUID, patient identity.Actor) (*Appointment, error) {
	slot, err := s.slots.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status != scheduling.StatusFree {
		return nil, ErrSlotNotFree
	}
	if !slot.Start.After(s.now()) {
		return nil, ErrSlotInPast
	}

	snapshot := &Appointment{
		ID:              slot.ID,
		Start:           slot.Start,
		End:             slot.End,
		DurationMinutes: slot.DurationMinutes,
		Doctor:          slot.Owner,
		Patient:         patient.Participant(),
		Status:          StatusScheduled,
	}

	if err := s.publisher.Publish(ctx, messaging.TopicAppointments, messaging.EventRequested, snapshot, true); err != nil {
		return nil, fmt.Errorf("publish appointment requested: %w", err)
	}

	s.log.Info("appointment requested",
		zap.String("slot_id", slotID.String()),
		zap.String("patient_uid", patient.UID),
	)

	return snapshot, nil
}

// Materialize persists a requested snapshot and publishes the created event.
// Redelivery of the same request overwrites the same record.
func (s *Service) Materialize(ctx context.Context, snapshot Appointment) (*Appointment, error) {
	if snapshot.ID == uuid.Nil || !snapshot.Status.IsValid() {
		return nil, ErrInvalidStatus
	}

	if _, err := s.slots.GetSlot(ctx, snapshot.ID); err != nil {
		return nil, err
	}

	if err := s.repo.Upsert(ctx, &snapshot); err != nil {
		if errors.Is(err, ErrSlotAlreadyBooked) {
			return nil, err
		}
		return nil, fmt.Errorf("persist appointment: %w", err)
	}

	if err := s.publisher.Publish(ctx, messaging.TopicAppointments, messaging.EventCreated, snapshot, true); err != nil {
		return nil, fmt.Errorf("publish appointment created: %w", err)
	}

	s.log.Info("appointment created",
		zap.String("appointment_id", snapshot.ID.String()),
		zap.String("patient_uid", snapshot.Patient.UID),
		zap.String("doctor_uid", snapshot.Doctor.UID),
	)

	return &snapshot, nil
}

// loadForParticipant returns the appointment if actor is its doctor or patient.
func (s *Service) loadForParticipant(ctx context.Context, id uuid.UUID, actor identity.Actor) (*Appointment, error) {
	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !appt.IsParticipant(actor.UID) {
		return nil, ErrNotParticipant
	}
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor identity.Actor) (*Appointment, error) {
	return s.loadForParticipant(ctx, id, actor)
}

// Lookup loads an appointment without a participant check, for the saga.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

// ListAppointments only returns appointments the actor takes part in.
func (s *Service) ListAppointments(ctx context.Context, list query.List, actor identity.Actor) ([]Appointment, error) {
	if actor.UID == "" {
		return nil, ErrNotParticipant
	}
	appts, err := s.repo.FindMany(ctx, list, actor.UID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// UpdateStatus persists a status change synchronously. The slot is not
// touched and no event is published.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, actor identity.Actor) (*Appointment, error) {
	appt, err := s.loadForParticipant(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}
	if !appt.Status.CanTransitionTo(status) {
		return nil, ErrInvalidStatusTransition
	}
	if appt.Status == status {
		return appt, nil
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, status)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// status changed or record removed between load and update
			if _, findErr := s.repo.FindByID(ctx, id); findErr == nil {
				return nil, ErrInvalidStatusTransition
			}
			return nil, err
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.log.Info("appointment status updated",
		zap.String("appointment_id", id.String()),
		zap.String("from", string(appt.Status)),
		zap.String("to", string(status)),
		zap.String("actor_uid", actor.UID),
	)

	return updated, nil
}

// Cancel removes the appointment and publishes a cancelled event carrying the
// removed snapshot, which frees the slot downstream.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor identity.Actor) error {
	appt, err := s.loadForParticipant(ctx, id, actor)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("delete appointment: %w", err)
	}

	appt.Status = StatusCancelled
	if err := s.publisher.Publish(ctx, messaging.TopicAppointments, messaging.EventCancelled, appt, true); err != nil {
		return fmt.Errorf("publish appointment cancelled: %w", err)
	}

	s.log.Info("appointment cancelled",
		zap.String("appointment_id", id.String()),
		zap.String("actor_uid", actor.UID),
	)

	return nil
}

// Discard removes an appointment whose slot no longer exists and publishes
// cancelled for it. It skips the participant check and is meant for the
// reconciler only.
func (s *Service) Discard(ctx context.Context, id uuid.UUID) error {
	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("delete appointment: %w", err)
	}

	appt.Status = StatusCancelled
	if err := s.publisher.Publish(ctx, messaging.TopicAppointments, messaging.EventCancelled, appt, true); err != nil {
		return fmt.Errorf("publish appointment cancelled: %w", err)
	}

	s.log.Warn("appointment discarded, slot is gone", zap.String("appointment_id", id.String()))
	return nil
}
