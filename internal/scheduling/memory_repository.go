package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/query"
)

// MemoryRepository keeps slots in process memory. The overlap check and the
// write share one mutex, which makes Create and Update conditional commits.
type MemoryRepository struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]TimeSlot
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		slots: make(map[uuid.UUID]TimeSlot),
		now:   time.Now,
	}
}

func (r *MemoryRepository) overlapsLocked(ownerUID string, iv Interval, excludeID uuid.UUID) bool {
	for _, s := range r.slots {
		if s.ID != excludeID && s.Owner.UID == ownerUID && iv.Overlaps(s.Interval()) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) Create(_ context.Context, slot *TimeSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.overlapsLocked(slot.Owner.UID, slot.Interval(), slot.ID) {
		return ErrSlotOverlap
	}

	now := r.now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now
	r.slots[slot.ID] = *slot
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

// FindMany orders by start then id so paging is stable.
func (r *MemoryRepository) FindMany(_ context.Context, list query.List) ([]TimeSlot, error) {
	r.mu.RLock()
	matched := make([]TimeSlot, 0, len(r.slots))
	for _, s := range r.slots {
		if list.Filter.Matches(s.Document()) {
			matched = append(matched, s)
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
		return []TimeSlot{}, nil
	}
	matched = matched[list.Page.Offset():]
	if limit := list.Page.Limit(); limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *MemoryRepository) Update(_ context.Context, id uuid.UUID, patch Patch) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}

	if patch.Interval != nil {
		if r.overlapsLocked(s.Owner.UID, *patch.Interval, id) {
			return nil, ErrSlotOverlap
		}
		s.Start = patch.Interval.Start
		s.End = patch.Interval.End
		s.DurationMinutes = patch.Interval.Minutes()
	}
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	s.UpdatedAt = r.now().UTC()

	r.slots[id] = s
	return &s, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[id]; !ok {
		return ErrSlotNotFound
	}
	delete(r.slots, id)
	return nil
}

func (r *MemoryRepository) FindOverlapping(_ context.Context, ownerUID string, iv Interval) ([]TimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TimeSlot
	for _, s := range r.slots {
		if s.Owner.UID == ownerUID && iv.Overlaps(s.Interval()) {
			out = append(out, s)
		}
	}
	return out, nil
}
