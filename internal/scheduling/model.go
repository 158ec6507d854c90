package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
	"github.com/hackgods/clinic-slot-scheduling/internal/query"
)

type SlotStatus string

const (
	StatusFree     SlotStatus = "free"
	StatusReserved SlotStatus = "reserved"
)

func (s SlotStatus) IsValid() bool {
	return s == StatusFree || s == StatusReserved
}

// TimeSlot is a doctor-published interval of availability. ID and Owner never
// change after creation.
type TimeSlot struct {
	ID              uuid.UUID            `json:"id"`
	Owner           identity.Participant `json:"owner"`
	Start           time.Time            `json:"start"`
	End             time.Time            `json:"end"`
	DurationMinutes int                  `json:"duration_minutes"`
	Status          SlotStatus           `json:"status"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

func (s TimeSlot) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}

// Document is the field map used for projections and in-memory filtering.
func (s TimeSlot) Document() map[string]any {
	return map[string]any{
		"id":               s.ID.String(),
		"owner_id":         s.Owner.UID,
		"owner":            s.Owner,
		"start":            s.Start,
		"end":              s.End,
		"duration_minutes": s.DurationMinutes,
		"status":           string(s.Status),
		"created_at":       s.CreatedAt,
		"updated_at":       s.UpdatedAt,
	}
}

// Patch lists the mutable attributes of a slot. Nil fields are left alone.
type Patch struct {
	Interval *Interval
	Status   *SlotStatus
}

// Schema whitelists the slot fields accepted by projections and filters.
var Schema = query.Schema{Fields: map[string]query.Field{
	"id":               {Column: "id::text", Filterable: true},
	"owner_id":         {Column: "owner_uid", Filterable: true},
	"owner":            {Column: "owner_uid"},
	"start":            {Column: "start_at"},
	"end":              {Column: "end_at"},
	"duration_minutes": {Column: "duration_minutes::text", Filterable: true},
	"status":           {Column: "status", Filterable: true},
	"created_at":       {Column: "created_at"},
	"updated_at":       {Column: "updated_at"},
}}

const (
	DefaultListFields   = "start,end"
	DefaultListFilters  = "status=free"
	DefaultDetailFields = "start,end,status"
)
