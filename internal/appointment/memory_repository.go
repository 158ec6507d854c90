package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/query"
)

type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]Appointment
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID: make(map[uuid.UUID]Appointment),
		now:  time.Now,
	}
}

func (r *MemoryRepository) Upsert(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	a.CreatedAt = now
	if existing, ok := r.byID[a.ID]; ok {
		if existing.Patient.UID != a.Patient.UID && existing.Status != StatusCancelled {
			return ErrSlotAlreadyBooked
		}
		a.CreatedAt = existing.CreatedAt
	}
	a.UpdatedAt = now

	r.byID[a.ID] = *a
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) FindMany(_ context.Context, list query.List, participantUID string) ([]Appointment, error) {
	r.mu.RLock()
	matched := make([]Appointment, 0, len(r.byID))
	for _, a := range r.byID {
		if participantUID != "" && !a.IsParticipant(participantUID) {
			continue
		}
		if list.Filter.Matches(a.Document()) {
			matched = append(matched, a)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Start.Equal(matched[j].Start) {
			return matched[i].Start.Before(matched[j].Start)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	if list.Page.Offset() >= len(matched) {
		return []Appointment{}, nil
	}
	matched = matched[list.Page.Offset():]
	if limit := list.Page.Limit(); limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = r.now().UTC()
	r.byID[id] = a
	return &a, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.byID, id)
	return nil
}
