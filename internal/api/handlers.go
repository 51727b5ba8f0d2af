package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

func (h *handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}

	var req CreateAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := appointment.CreateInput{
		ClinicID:        uuid.MustParse(req.ClinicID),
		DoctorID:        uuid.MustParse(req.DoctorID),
		PatientID:       uuid.MustParse(req.PatientID),
		Start:           req.Start,
		DurationMinutes: req.DurationMinutes,
		Kind:            appointment.Kind(req.Kind),
		Notes:           req.Notes,
		Actor:           act,
	}
	if req.Insurance != nil {
		planID, err := uuid.Parse(req.Insurance.PlanID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_plan_id", "insurance.plan_id must be a valid UUID")
			return
		}
		in.Insurance = &appointment.Insurance{
			PlanID:       planID,
			ProviderName: req.Insurance.ProviderName,
			PlanName:     req.Insurance.PlanName,
			CardNumber:   req.Insurance.CardNumber,
		}
	}

	id, err := h.appts.Create(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

func (h *handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	a, err := h.appts.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*a))
}

func (h *handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f appointment.Filter

	for _, p := range []struct {
		name string
		dst  **uuid.UUID
	}{
		{"clinic_id", &f.ClinicID},
		{"doctor_id", &f.DoctorID},
		{"patient_id", &f.PatientID},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+p.name, p.name+" must be a valid UUID")
			return
		}
		*p.dst = &id
	}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{
		{"from", &f.From},
		{"to", &f.To},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+p.name, p.name+" must be an RFC3339 timestamp")
			return
		}
		*p.dst = t
	}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := appointment.Status(strings.TrimSpace(s))
			if !st.IsValid() {
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+string(st))
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	appts, err := h.appts.List(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := make([]AppointmentResponse, 0, len(appts))
	for _, a := range appts {
		resp = append(resp, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	act, ok := actor(w, r)
	if !ok {
		return
	}

	var req ChangeStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	to := appointment.Status(req.Status)
	if !to.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+req.Status)
		return
	}

	if err := h.appts.ChangeStatus(r.Context(), id, to, act, req.Reason); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeAppointment(w, r, id)
}

func (h *handler) reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	act, ok := actor(w, r)
	if !ok {
		return
	}

	var req RescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.appts.Reschedule(r.Context(), id, req.Start, req.DurationMinutes, act, req.Reason); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeAppointment(w, r, id)
}

func (h *handler) requestConfirmation(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	act, ok := actor(w, r)
	if !ok {
		return
	}

	a, err := h.appts.RequestConfirmation(r.Context(), id, act)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*a))
}

func (h *handler) monthlyReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	clinicID, err := uuid.Parse(q.Get("clinic_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
		return
	}
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_year", "year must be an integer")
		return
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_month", "month must be an integer")
		return
	}

	report, err := h.appts.MonthlyReport(r.Context(), clinicID, year, time.Month(month))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) writeAppointment(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	a, err := h.appts.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*a))
}
