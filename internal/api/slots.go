package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

func createSlotHandler(svc *scheduling.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SlotRequest
		if !decodeBody(w, r, &req) {
			return
		}

		actor, _ := identity.FromContext(r.Context())
		slot, err := svc.CreateSlot(r.Context(), req.Start, req.End, actor)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, IDResponse{ID: slot.ID.String()})
	}
}

func listSlotsHandler(svc *scheduling.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := parseList(r, scheduling.Schema, scheduling.DefaultListFields, scheduling.DefaultListFilters)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		slots, err := svc.ListSlots(r.Context(), list)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, project(list.Projection, slots))
	}
}

func getSlotHandler(svc *scheduling.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		projection, err := scheduling.Schema.ParseProjection(paramOr(r, "fields", scheduling.DefaultDetailFields))
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		slot, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, project(projection, []scheduling.TimeSlot{*slot})[0])
	}
}

func updateSlotHandler(svc *scheduling.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		var req SlotRequest
		if !decodeBody(w, r, &req) {
			return
		}

		actor, _ := identity.FromContext(r.Context())
		slot, err := svc.UpdateSlot(r.Context(), id, req.Start, req.End, actor)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, slot)
	}
}

func deleteSlotHandler(svc *scheduling.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		actor, _ := identity.FromContext(r.Context())
		if err := svc.DeleteSlot(r.Context(), id, actor); err != nil {
			handleError(w, r, log, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
