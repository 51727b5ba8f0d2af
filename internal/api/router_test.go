package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/audit"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/roster"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

var (
	clinicID = uuid.MustParse("00000000-0000-0000-0000-0000000000c1")
	doctorID = uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
	patient  = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	waiter   = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")
	staffID  = uuid.MustParse("00000000-0000-0000-0000-0000000000f1")

	march10 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
)

type testServer struct {
	handler http.Handler
	clock   *clock.Manual
	metrics *metrics.Collector
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clk := clock.NewManual(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	m := metrics.NewCollector(prometheus.NewRegistry())
	locker := redisclient.NewLocalLocker(5 * time.Second)
	rec := audit.NewRecorder(audit.NewMemoryRepository(), clk, zap.NewNop(), m)
	notifier := notify.NewNotifier(notify.NewHub(), zap.NewNop(), m)

	store := appointment.NewStore(appointment.NewMemoryRepository(), locker, rec, notifier, appointment.Options{
		Clock: clk, Logger: zap.NewNop(), Metrics: m, MaxWriteAttempts: 3, Location: time.UTC,
	})
	doctors := roster.NewMemoryDirectory(
		roster.Doctor{ID: doctorID, ClinicID: clinicID, Name: "Dr. A", Specialties: []string{"Cardiology"}, Active: true},
	)
	queue := waitlist.NewQueue(waitlist.NewMemoryRepository(), store, doctors, locker, rec, notifier, waitlist.Options{
		Clock: clk, Logger: zap.NewNop(), Metrics: m, OfferWindow: 15 * time.Minute, MaxWriteAttempts: 3, Location: time.UTC,
	})
	store.OnSlotFreed(queue.Matcher())

	h := NewRouter(RouterConfig{
		Appointments: store,
		Waitlist:     queue,
		Clock:        clk,
		Logger:       zap.NewNop(),
		Metrics:      m,
		Env:          "test",
		Version:      "test",
	})
	return &testServer{handler: h, clock: clk, metrics: m}
}

func (s *testServer) do(t *testing.T, method, path string, body any, actorID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actorID != uuid.Nil {
		req.Header.Set("X-Actor-ID", actorID.String())
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) book(t *testing.T, start time.Time) uuid.UUID {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/appointments", map[string]any{
		"clinic_id":        clinicID,
		"doctor_id":        doctorID,
		"patient_id":       patient,
		"start":            start,
		"duration_minutes": 30,
		"kind":             "self-pay",
	}, staffID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp IDResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateAndGetAppointment(t *testing.T) {
	s := newTestServer(t)
	id := s.book(t, march10)

	rec := s.do(t, http.MethodGet, "/appointments/"+id.String(), nil, uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, appointment.StatusScheduled, got.Status)
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.End.Equal(march10.Add(30*time.Minute)))
	assert.Equal(t, staffID, got.BookedBy)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.RequestsTotal.WithLabelValues(http.MethodGet, "/appointments/{id}", "200")))
}

func TestCreateAppointmentConflict(t *testing.T) {
	s := newTestServer(t)
	s.book(t, march10)

	rec := s.do(t, http.MethodPost, "/appointments", map[string]any{
		"clinic_id":        clinicID,
		"doctor_id":        doctorID,
		"patient_id":       waiter,
		"start":            march10.Add(15 * time.Minute),
		"duration_minutes": 30,
		"kind":             "self-pay",
	}, staffID)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_conflict", decodeError(t, rec).Error)
}

func TestCreateAppointmentRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		body  map[string]any
		actor uuid.UUID
		code  string
	}{
		{
			name:  "missing actor",
			body:  map[string]any{"clinic_id": clinicID, "doctor_id": doctorID, "patient_id": patient, "start": march10, "duration_minutes": 30, "kind": "self-pay"},
			actor: uuid.Nil,
			code:  "invalid_actor",
		},
		{
			name:  "unknown kind",
			body:  map[string]any{"clinic_id": clinicID, "doctor_id": doctorID, "patient_id": patient, "start": march10, "duration_minutes": 30, "kind": "barter"},
			actor: staffID,
			code:  "validation_failed",
		},
		{
			name:  "zero duration",
			body:  map[string]any{"clinic_id": clinicID, "doctor_id": doctorID, "patient_id": patient, "start": march10, "duration_minutes": 0, "kind": "self-pay"},
			actor: staffID,
			code:  "validation_failed",
		},
		{
			name:  "duration longer than a day",
			body:  map[string]any{"clinic_id": clinicID, "doctor_id": doctorID, "patient_id": patient, "start": march10, "duration_minutes": 307445735, "kind": "self-pay"},
			actor: staffID,
			code:  "validation_failed",
		},
		{
			name:  "insurance without plan",
			body:  map[string]any{"clinic_id": clinicID, "doctor_id": doctorID, "patient_id": patient, "start": march10, "duration_minutes": 30, "kind": "insurance"},
			actor: staffID,
			code:  "invalid_kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/appointments", tt.body, tt.actor)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestGetAppointmentNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil, uuid.Nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/appointments/not-a-uuid", nil, uuid.Nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangeStatusOnTerminalAppointment(t *testing.T) {
	s := newTestServer(t)
	id := s.book(t, march10)

	rec := s.do(t, http.MethodPost, "/appointments/"+id.String()+"/status", map[string]any{"status": "cancelled", "reason": "patient called"}, staffID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, appointment.StatusCancelled, got.Status)
	require.NotNil(t, got.Cancellation)
	assert.Equal(t, "patient called", got.Cancellation.Reason)

	rec = s.do(t, http.MethodPost, "/appointments/"+id.String()+"/status", map[string]any{"status": "confirmed"}, staffID)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_terminal", decodeError(t, rec).Error)
}

func TestListAppointmentsRequiresOwner(t *testing.T) {
	s := newTestServer(t)
	s.book(t, march10)

	rec := s.do(t, http.MethodGet, "/appointments", nil, uuid.Nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_filter", decodeError(t, rec).Error)

	rec = s.do(t, http.MethodGet, "/appointments?doctor_id="+doctorID.String()+"&status=scheduled", nil, uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)
}

func TestMonthlyReport(t *testing.T) {
	s := newTestServer(t)
	s.book(t, march10)
	s.book(t, march10.Add(time.Hour))

	rec := s.do(t, http.MethodGet, "/reports/monthly?clinic_id="+clinicID.String()+"&year=2025&month=3", nil, uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Total  int            `json:"total"`
		ByKind map[string]int `json:"by_kind"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 2, got.ByKind["self-pay"])

	rec = s.do(t, http.MethodGet, "/reports/monthly?clinic_id="+clinicID.String()+"&year=2025&month=13", nil, uuid.Nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWaitlistOfferAcceptFlow(t *testing.T) {
	s := newTestServer(t)
	apptID := s.book(t, march10)

	rec := s.do(t, http.MethodPost, "/waitlist", map[string]any{
		"clinic_id":  clinicID,
		"patient_id": waiter,
		"specialty":  "Cardiology",
		"start_date": "2025-03-01",
		"end_date":   "2025-03-31",
	}, waiter)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var joined IDResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &joined))
	entryPath := "/waitlist/" + joined.ID.String()

	rec = s.do(t, http.MethodPost, "/appointments/"+apptID.String()+"/status", map[string]any{"status": "cancelled"}, patient)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, entryPath, nil, uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry WaitlistEntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, waitlist.StatusOffered, entry.Status)
	require.NotNil(t, entry.OfferedAppointmentID)
	assert.Equal(t, apptID, *entry.OfferedAppointmentID)
	assert.Equal(t, "2025-03-01", entry.StartDate)
	assert.Equal(t, "2025-03-31", entry.EndDate)

	rec = s.do(t, http.MethodPost, entryPath+"/response", map[string]any{"response": "accept"}, waiter)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, waitlist.StatusAccepted, entry.Status)

	rec = s.do(t, http.MethodGet, "/appointments/"+apptID.String(), nil, uuid.Nil)
	var appt AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))
	assert.Equal(t, waiter, appt.PatientID)
	assert.Equal(t, appointment.StatusConfirmed, appt.Status)

	rec = s.do(t, http.MethodDelete, entryPath, nil, staffID)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_removable", decodeError(t, rec).Error)
}

func TestWaitlistSweep(t *testing.T) {
	s := newTestServer(t)
	apptID := s.book(t, march10)

	rec := s.do(t, http.MethodPost, "/waitlist", map[string]any{
		"clinic_id":  clinicID,
		"patient_id": waiter,
		"specialty":  "Cardiology",
		"start_date": "2025-03-01",
		"end_date":   "2025-03-31",
	}, waiter)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/appointments/"+apptID.String()+"/status", map[string]any{"status": "cancelled"}, staffID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/waitlist/sweep", map[string]any{"now": s.clock.Now().Add(16 * time.Minute)}, staffID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var swept SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &swept))
	assert.Equal(t, 1, swept.Expired)

	rec = s.do(t, http.MethodGet, "/waitlist?clinic_id="+clinicID.String()+"&status=expired", nil, uuid.Nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []WaitlistEntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)
}

func TestJoinWaitlistValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/waitlist", map[string]any{
		"clinic_id":  clinicID,
		"patient_id": waiter,
		"specialty":  "Cardiology",
		"start_date": "2025-03-20",
		"end_date":   "2025-03-10",
	}, waiter)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, "/waitlist", map[string]any{
		"clinic_id":  clinicID,
		"patient_id": waiter,
		"specialty":  "Cardiology",
		"start_date": "10/03/2025",
		"end_date":   "2025-03-20",
	}, waiter)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decodeError(t, rec).Error)
}

func TestHealthLiveness(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health/live", nil, uuid.Nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/health/ready", nil, uuid.Nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
