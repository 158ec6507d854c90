package scheduling

import "github.com/hackgods/clinic-slot-scheduling/internal/apperr"

var (
	ErrSlotNotFound     = apperr.NotFound("slot not found")
	ErrSlotOverlap      = apperr.Conflict("slot overlaps another slot of the same owner")
	ErrStartNotInFuture = apperr.Validation("start must be in the future")
	ErrEndBeforeStart   = apperr.Validation("end must be after start")
	ErrDurationTooShort = apperr.Validation("slot must last at least 10 minutes")
	ErrInvalidStatus    = apperr.Validation("unknown slot status")
	ErrNotOwner         = apperr.Ownership("only the slot owner can change this slot")
	ErrScheduleBusy     = apperr.Conflict("owner schedule is being changed, please retry")
)
