package api

import "time"

type SlotRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type RequestAppointmentRequest struct {
	SlotID string `json:"slot_id"`
}

type UpdateAppointmentRequest struct {
	Status string `json:"status"`
}

type IDResponse struct {
	ID string `json:"id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
