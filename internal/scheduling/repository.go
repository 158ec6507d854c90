package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/query"
)

// Repository is the slot persistence port. Create and Update must refuse to
// commit an interval overlapping another slot of the same owner and report
// ErrSlotOverlap; the service check before them is not enough under
// concurrent writers.
type Repository interface {
	OverlapFinder

	Create(ctx context.Context, slot *TimeSlot) error
	FindByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	FindMany(ctx context.Context, list query.List) ([]TimeSlot, error)
	Update(ctx context.Context, id uuid.UUID, patch Patch) (*TimeSlot, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
