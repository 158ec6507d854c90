package api

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
)

// requestAppointmentHandler answers 202: the appointment is written by the
// saga, so the caller re-reads it later.
func requestAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RequestAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		actor, _ := identity.FromContext(r.Context())
		ack, err := svc.RequestAppointment(r.Context(), slotID, actor)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		w.Header().Set("Location", "/v1/appointments/"+ack.ID.String())
		writeJSON(w, http.StatusAccepted, ack)
	}
}

func listAppointmentsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := parseList(r, appointment.Schema, "", appointment.DefaultListFilters)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		actor, _ := identity.FromContext(r.Context())
		appts, err := svc.ListAppointments(r.Context(), list, actor)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, project(list.Projection, appts))
	}
}

func getAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		projection, err := appointment.Schema.ParseProjection(paramOr(r, "fields", appointment.DefaultDetailFields))
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		actor, _ := identity.FromContext(r.Context())
		appt, err := svc.GetAppointment(r.Context(), id, actor)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, project(projection, []appointment.Appointment{*appt})[0])
	}
}

func updateAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		var req UpdateAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		actor, _ := identity.FromContext(r.Context())
		appt, err := svc.UpdateStatus(r.Context(), id, appointment.Status(req.Status), actor)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func cancelAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		actor, _ := identity.FromContext(r.Context())
		if err := svc.Cancel(r.Context(), id, actor); err != nil {
			handleError(w, r, log, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
