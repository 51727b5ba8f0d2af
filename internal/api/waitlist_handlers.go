package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

func (h *handler) joinWaitlist(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}

	var req JoinWaitlistRequest
	if !h.decode(w, r, &req) {
		return
	}

	// Dates were checked by the datetime validator.
	start, _ := time.Parse(dateLayout, req.StartDate)
	end, _ := time.Parse(dateLayout, req.EndDate)

	in := waitlist.JoinInput{
		ClinicID:  uuid.MustParse(req.ClinicID),
		PatientID: uuid.MustParse(req.PatientID),
		Specialty: req.Specialty,
		Range:     waitlist.DateRange{Start: start, End: end},
		Actor:     act,
	}
	if req.PreferredDoctorID != "" {
		doc := uuid.MustParse(req.PreferredDoctorID)
		in.PreferredDoctorID = &doc
	}

	id, err := h.waitlist.Join(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

func (h *handler) getWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	e, err := h.waitlist.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWaitlistEntryResponse(*e))
}

func (h *handler) listWaitlist(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	clinicID, err := uuid.Parse(q.Get("clinic_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
		return
	}

	var statuses []waitlist.Status
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := waitlist.Status(strings.TrimSpace(s))
			if !st.IsValid() {
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+string(st))
				return
			}
			statuses = append(statuses, st)
		}
	}

	entries, err := h.waitlist.List(r.Context(), clinicID, statuses...)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := make([]WaitlistEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toWaitlistEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) respondToOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	act, ok := actor(w, r)
	if !ok {
		return
	}

	var req OfferResponseRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.waitlist.RespondToOffer(r.Context(), id, waitlist.Response(req.Response), act); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	e, err := h.waitlist.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWaitlistEntryResponse(*e))
}

func (h *handler) removeWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	act, ok := actor(w, r)
	if !ok {
		return
	}

	if err := h.waitlist.Remove(r.Context(), id, act); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sweepWaitlist expires lapsed offers. The body may pin the sweep time.
func (h *handler) sweepWaitlist(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now()
	if r.ContentLength != 0 {
		var req SweepRequest
		if !h.decode(w, r, &req) {
			return
		}
		if req.Now != nil {
			now = *req.Now
		}
	}

	n, err := h.waitlist.SweepExpiredOffers(r.Context(), now)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Expired: n})
}
