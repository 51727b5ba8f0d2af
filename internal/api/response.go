package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decode reads a JSON body into dst and runs struct validation on it.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			writeError(w, http.StatusBadRequest, "validation_failed", strings.Join(fields, "; "))
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func urlID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// actor resolves the caller from headers set by the upstream auth layer.
func actor(w http.ResponseWriter, r *http.Request) (appointment.Actor, bool) {
	id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID header must be a valid UUID")
		return appointment.Actor{}, false
	}

	class := appointment.ActorStaff
	switch role := appointment.ActorClass(strings.ToLower(r.Header.Get("X-Actor-Role"))); role {
	case "":
	case appointment.ActorPatient, appointment.ActorStaff, appointment.ActorSystem:
		class = role
	default:
		writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-Role must be patient, staff or system")
		return appointment.Actor{}, false
	}
	return appointment.Actor{ID: id, Class: class}, true
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{appointment.ErrNotFound, http.StatusNotFound, "appointment_not_found"},
	{appointment.ErrInvalidInterval, http.StatusBadRequest, "invalid_interval"},
	{appointment.ErrInvalidKind, http.StatusBadRequest, "invalid_kind"},
	{appointment.ErrInvalidFilter, http.StatusBadRequest, "invalid_filter"},
	{appointment.ErrSlotConflict, http.StatusConflict, "slot_conflict"},
	{appointment.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
	{appointment.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{appointment.ErrContention, http.StatusServiceUnavailable, "contention"},
	{appointment.ErrStorageFailure, http.StatusInternalServerError, "storage_failure"},

	{waitlist.ErrEntryNotFound, http.StatusNotFound, "waitlist_entry_not_found"},
	{waitlist.ErrInvalidRange, http.StatusBadRequest, "invalid_range"},
	{waitlist.ErrInvalidSpecialty, http.StatusBadRequest, "invalid_specialty"},
	{waitlist.ErrInvalidResponse, http.StatusBadRequest, "invalid_response"},
	{waitlist.ErrOfferExpired, http.StatusConflict, "offer_expired"},
	{waitlist.ErrNotOffered, http.StatusConflict, "not_offered"},
	{waitlist.ErrNotRemovable, http.StatusConflict, "not_removable"},
	{waitlist.ErrAlreadyOffered, http.StatusConflict, "already_offered"},
	{waitlist.ErrContention, http.StatusServiceUnavailable, "contention"},
	{waitlist.ErrStorageFailure, http.StatusInternalServerError, "storage_failure"},
}

func (h *handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.status >= http.StatusInternalServerError {
				h.logger.Error("request failed",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("code", m.code),
					zap.Error(err),
				)
			}
			if m.status == http.StatusServiceUnavailable {
				w.Header().Set("Retry-After", "1")
			}
			if m.target == appointment.ErrStorageFailure || m.target == waitlist.ErrStorageFailure {
				writeError(w, m.status, m.code, "storage is unavailable, please retry")
				return
			}
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}

	h.logger.Error("unhandled error",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
