package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const MinDuration = 10 * time.Minute

// Interval is a half-open [Start, End) range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps is strict: intervals that only touch at a boundary do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) Minutes() int {
	return int(i.Duration() / time.Minute)
}

// Validate applies the date rules shared by create and update.
func (i Interval) Validate(now time.Time) error {
	if !i.Start.After(now) {
		return ErrStartNotInFuture
	}
	if !i.End.After(i.Start) {
		return ErrEndBeforeStart
	}
	if i.Duration() < MinDuration {
		return ErrDurationTooShort
	}
	return nil
}

// OverlapFinder returns candidate slots of an owner intersecting an interval.
type OverlapFinder interface {
	FindOverlapping(ctx context.Context, ownerUID string, iv Interval) ([]TimeSlot, error)
}

// Detector answers whether an interval conflicts with the stored slots of an
// owner. It never writes.
type Detector struct {
	finder OverlapFinder
}

func NewDetector(f OverlapFinder) *Detector {
	return &Detector{finder: f}
}

// Conflicts returns the owner's slots strictly overlapping iv, skipping
// excludeID (pass uuid.Nil to skip nothing).
func (d *Detector) Conflicts(ctx context.Context, ownerUID string, iv Interval, excludeID uuid.UUID) ([]TimeSlot, error) {
	candidates, err := d.finder.FindOverlapping(ctx, ownerUID, iv)
	if err != nil {
		return nil, fmt.Errorf("find overlapping slots: %w", err)
	}

	var conflicts []TimeSlot
	for _, c := range candidates {
		if c.ID == excludeID || c.Owner.UID != ownerUID {
			continue
		}
		if iv.Overlaps(c.Interval()) {
			conflicts = append(conflicts, c)
		}
	}
	return conflicts, nil
}
