package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/apperr"
	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
	"github.com/hackgods/clinic-slot-scheduling/internal/lock"
	"github.com/hackgods/clinic-slot-scheduling/internal/query"
)

// AppointmentCanceller cancels the appointment linked to a slot. Appointments
// share the id of the slot they were booked on.
type AppointmentCanceller interface {
	Cancel(ctx context.Context, id uuid.UUID, actor identity.Actor) error
}

type Option func(*Service)

// WithClock overrides time.Now for the future-start rule.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

type Service struct {
	repo      Repository
	detector  *Detector
	locker    lock.Locker
	log       *zap.Logger
	now       func() time.Time
	canceller AppointmentCanceller
}

func NewService(repo Repository, locker lock.Locker, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		detector: NewDetector(repo),
		locker:   locker,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAppointmentCanceller wires the cascade used when a reserved slot is
// deleted. The appointment service reads slots, so it is built after this one.
func (s *Service) SetAppointmentCanceller(c AppointmentCanceller) {
	s.canceller = c
}

func ownerLockKey(ownerUID string) string {
	return "slots:owner:" + ownerUID
}

// withOwnerLock serializes interval changes of one owner so the overlap check
// and the commit cannot interleave with another writer.
func (s *Service) withOwnerLock(ctx context.Context, ownerUID string, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, ownerLockKey(ownerUID), fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrScheduleBusy
	}
	return err
}

// CreateSlot publishes a new Free slot for the actor.
func (s *Service) CreateSlot(ctx context.Context, start, end time.Time, owner identity.Actor) (*TimeSlot, error) {
	iv := Interval{Start: start.UTC(), End: end.UTC()}
	if err := iv.Validate(s.now()); err != nil {
		return nil, err
	}

	var created *TimeSlot

	err := s.withOwnerLock(ctx, owner.UID, func(lockCtx context.Context) error {
		conflicts, err := s.detector.Conflicts(lockCtx, owner.UID, iv, uuid.Nil)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			s.log.Info("slot rejected, overlapping interval",
				zap.String("owner_uid", owner.UID),
				zap.String("conflict_id", conflicts[0].ID.String()),
			)
			return ErrSlotOverlap
		}

		slot := &TimeSlot{
			ID:              uuid.New(),
			Owner:           owner.Participant(),
			Start:           iv.Start,
			End:             iv.End,
			DurationMinutes: iv.Minutes(),
			Status:          StatusFree,
		}
		if err := s.repo.Create(lockCtx, slot); err != nil {
			if errors.Is(err, ErrSlotOverlap) {
				return err
			}
			return fmt.Errorf("create slot: %w", err)
		}

		created = slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("slot created",
		zap.String("slot_id", created.ID.String()),
		zap.String("owner_uid", owner.UID),
		zap.Time("start", created.Start),
		zap.Time("end", created.End),
	)

	return created, nil
}

// loadOwned returns the slot if actor owns it.
func (s *Service) loadOwned(ctx context.Context, id uuid.UUID, actor identity.Actor) (*TimeSlot, error) {
	slot, err := s.GetSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot.Owner.UID != actor.UID {
		return nil, ErrNotOwner
	}
	return slot, nil
}

// UpdateSlot moves a slot to a new interval. The date rules and the overlap
// check (excluding the slot itself) both have to pass before anything commits.
func (s *Service) UpdateSlot(ctx context.Context, id uuid.UUID, start, end time.Time, actor identity.Actor) (*TimeSlot, error) {
	slot, err := s.loadOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	iv := Interval{Start: start.UTC(), End: end.UTC()}
	if err := iv.Validate(s.now()); err != nil {
		return nil, err
	}

	var updated *TimeSlot

	err = s.withOwnerLock(ctx, slot.Owner.UID, func(lockCtx context.Context) error {
		conflicts, err := s.detector.Conflicts(lockCtx, slot.Owner.UID, iv, id)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return ErrSlotOverlap
		}

		updated, err = s.repo.Update(lockCtx, id, Patch{Interval: &iv})
		if err != nil {
			if errors.Is(err, ErrSlotOverlap) || errors.Is(err, ErrSlotNotFound) {
				return err
			}
			return fmt.Errorf("update slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("slot updated", zap.String("slot_id", id.String()))
	return updated, nil
}

// DeleteSlot removes a slot. Any appointment booked on it is cancelled first by
// the same actor, which as the slot owner is a participant. The slot status is
// not consulted: an appointment can already exist while its slot is still free.
func (s *Service) DeleteSlot(ctx context.Context, id uuid.UUID, actor identity.Actor) error {
	slot, err := s.loadOwned(ctx, id, actor)
	if err != nil {
		return err
	}

	if s.canceller != nil {
		err := s.canceller.Cancel(ctx, id, actor)
		switch {
		case err == nil:
			s.log.Info("linked appointment cancelled", zap.String("slot_id", id.String()), zap.String("slot_status", string(slot.Status)))
		case errors.Is(err, apperr.ErrNotFound):
			// nothing booked, or not materialized yet
		default:
			return fmt.Errorf("cancel linked appointment: %w", err)
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return err
		}
		return fmt.Errorf("delete slot: %w", err)
	}

	s.log.Info("slot deleted", zap.String("slot_id", id.String()), zap.String("owner_uid", actor.UID))
	return nil
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	slot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}
	return slot, nil
}

func (s *Service) ListSlots(ctx context.Context, list query.List) ([]TimeSlot, error) {
	slots, err := s.repo.FindMany(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}

// MarkReserved and MarkFree are the slot side of the saga. Both are
// idempotent: setting the status a slot already has succeeds.
func (s *Service) MarkReserved(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return s.setStatus(ctx, id, StatusReserved)
}

func (s *Service) MarkFree(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return s.setStatus(ctx, id, StatusFree)
}

func (s *Service) setStatus(ctx context.Context, id uuid.UUID, status SlotStatus) (*TimeSlot, error) {
	slot, err := s.repo.Update(ctx, id, Patch{Status: &status})
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("set slot %s status %s: %w", id, status, err)
	}
	return slot, nil
}
