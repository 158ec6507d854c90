package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/apperr"
	"github.com/hackgods/clinic-slot-scheduling/internal/query"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleError renders business rejections with their kind and reason. Anything
// else is logged and hidden behind a 500.
func handleError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), err.Error())
	case apperr.KindConflict:
		writeError(w, http.StatusConflict, string(apperr.KindConflict), err.Error())
	case apperr.KindOwnership:
		writeError(w, http.StatusForbidden, string(apperr.KindOwnership), err.Error())
	case apperr.KindNotFound:
		writeError(w, http.StatusNotFound, string(apperr.KindNotFound), err.Error())
	default:
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// paramOr returns the query parameter, or def when it is absent. A parameter
// present but empty disables the default.
func paramOr(r *http.Request, name, def string) string {
	q := r.URL.Query()
	if !q.Has(name) {
		return def
	}
	return q.Get(name)
}

func parseList(r *http.Request, schema query.Schema, defFields, defFilters string) (query.List, error) {
	page, err := query.ParsePage(r.URL.Query().Get("skip"), r.URL.Query().Get("take"))
	if err != nil {
		return query.List{}, err
	}
	projection, err := schema.ParseProjection(paramOr(r, "fields", defFields))
	if err != nil {
		return query.List{}, err
	}
	filter, err := schema.ParseFilter(paramOr(r, "filters", defFilters))
	if err != nil {
		return query.List{}, err
	}
	return query.List{Page: page, Projection: projection, Filter: filter}, nil
}

type documented interface {
	Document() map[string]any
}

func project[T documented](p query.Projection, items []T) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, query.Project(p, item.Document()))
	}
	return out
}
