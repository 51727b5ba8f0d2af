package waitlist

import (
	"context"
	"fmt"
	"sync"
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
)

var (
	clinic   = uuid.MustParse("00000000-0000-0000-0000-0000000000c1")
	drA      = uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
	drB      = uuid.MustParse("00000000-0000-0000-0000-0000000000d2")
	patientP = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	patientQ = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")
	staff    = appointment.Actor{ID: uuid.MustParse("00000000-0000-0000-0000-0000000000f1"), Class: appointment.ActorStaff}

	march10 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	march   = DateRange{Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)}
)

type fixture struct {
	store   *appointment.Store
	queue   *Queue
	repo    *MemoryRepository
	clock   *clock.Manual
	audit   *audit.MemoryRepository
	intents <-chan notify.Intent
	metrics *metrics.Collector
}

func newFixture(t *testing.T, loc *time.Location, listen bool) *fixture {
	t.Helper()

	clk := clock.NewManual(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	m := metrics.NewCollector(prometheus.NewRegistry())
	locker := redisclient.NewLocalLocker(5 * time.Second)
	auditRepo := audit.NewMemoryRepository()
	rec := audit.NewRecorder(auditRepo, clk, zap.NewNop(), m)
	hub := notify.NewHub()
	intents, cancel := hub.Subscribe(256)
	t.Cleanup(cancel)
	notifier := notify.NewNotifier(hub, zap.NewNop(), m)

	store := appointment.NewStore(appointment.NewMemoryRepository(), locker, rec, notifier, appointment.Options{
		Clock: clk, Logger: zap.NewNop(), Metrics: m, MaxWriteAttempts: 3, Location: loc,
	})
	doctors := roster.NewMemoryDirectory(
		roster.Doctor{ID: drA, ClinicID: clinic, Name: "Dr. A", Specialties: []string{"Cardiology"}, Active: true},
		roster.Doctor{ID: drB, ClinicID: clinic, Name: "Dr. B", Specialties: []string{"Cardiology", "Dermatology"}, Active: true},
	)
	repo := NewMemoryRepository()
	queue := NewQueue(repo, store, doctors, locker, rec, notifier, Options{
		Clock: clk, Logger: zap.NewNop(), Metrics: m, OfferWindow: 15 * time.Minute, MaxWriteAttempts: 3, Location: loc,
	})
	if listen {
		store.OnSlotFreed(queue.Matcher())
	}

	return &fixture{store: store, queue: queue, repo: repo, clock: clk, audit: auditRepo, intents: intents, metrics: m}
}

func (f *fixture) book(t *testing.T, doctor uuid.UUID, start time.Time) uuid.UUID {
	t.Helper()
	id, err := f.store.Create(context.Background(), appointment.CreateInput{
		ClinicID:        clinic,
		DoctorID:        doctor,
		PatientID:       uuid.New(),
		Start:           start,
		DurationMinutes: 30,
		Kind:            appointment.KindSelfPay,
		Actor:           staff,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) join(t *testing.T, patient uuid.UUID, specialty string, preferred *uuid.UUID, r DateRange) uuid.UUID {
	t.Helper()
	id, err := f.queue.Join(context.Background(), JoinInput{
		ClinicID:          clinic,
		PatientID:         patient,
		Specialty:         specialty,
		PreferredDoctorID: preferred,
		Range:             r,
		Actor:             appointment.Actor{ID: patient, Class: appointment.ActorPatient},
	})
	require.NoError(t, err)
	// distinct createdAt for every entry
	f.clock.Advance(time.Second)
	return id
}

func (f *fixture) cancel(t *testing.T, id uuid.UUID) {
	t.Helper()
	require.NoError(t, f.store.ChangeStatus(context.Background(), id, appointment.StatusCancelled, staff, "patient called"))
}

func (f *fixture) entry(t *testing.T, id uuid.UUID) Entry {
	t.Helper()
	e, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return *e
}

func TestCancelWithoutWaitlistMakesNoOffer(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	appt := f.book(t, drA, march10)

	f.cancel(t, appt)

	a, err := f.store.Get(context.Background(), appt)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, a.Status)

	offered, err := f.queue.List(context.Background(), clinic, StatusOffered)
	require.NoError(t, err)
	assert.Empty(t, offered)
}

func TestCancelOffersToWaitingPatient(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	appt := f.book(t, drA, march10)
	p := f.join(t, patientP, "cardiology", nil, march)

	cancelledAt := f.clock.Now()
	f.cancel(t, appt)

	e := f.entry(t, p)
	assert.Equal(t, StatusOffered, e.Status)
	require.NotNil(t, e.OfferedAppointmentID)
	assert.Equal(t, appt, *e.OfferedAppointmentID)
	require.NotNil(t, e.OfferExpiresAt)
	assert.Equal(t, cancelledAt.Add(15*time.Minute), *e.OfferExpiresAt)
	assert.Equal(t, 2, e.Version)

	found := false
	for len(f.intents) > 0 {
		in := <-f.intents
		if in.Type == notify.WaitlistOffered {
			found = true
			assert.Equal(t, patientP, in.PatientID)
		}
	}
	assert.True(t, found, "waitlist.offered intent published")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WaitlistOffers.WithLabelValues("offered")))
}

func TestDeclineOffersToNextEntry(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	appt := f.book(t, drA, march10)
	p := f.join(t, patientP, "Cardiology", nil, march)
	q := f.join(t, patientQ, "Cardiology", nil, march)
	f.cancel(t, appt)

	require.NoError(t, f.queue.RespondToOffer(context.Background(), p, Decline, appointment.Actor{ID: patientP, Class: appointment.ActorPatient}))

	assert.Equal(t, StatusExpired, f.entry(t, p).Status)
	eq := f.entry(t, q)
	assert.Equal(t, StatusOffered, eq.Status)
	assert.Equal(t, appt, *eq.OfferedAppointmentID)

	// a declined entry is terminal
	err := f.queue.RespondToOffer(context.Background(), p, Decline, staff)
	assert.ErrorIs(t, err, ErrNotOffered)
}

func TestSweepExpiresAndCascades(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	ctx := context.Background()
	appt := f.book(t, drA, march10)
	p := f.join(t, patientP, "Cardiology", nil, march)
	q := f.join(t, patientQ, "Cardiology", nil, march)
	f.cancel(t, appt)

	expiresAt := *f.entry(t, p).OfferExpiresAt

	n, err := f.queue.SweepExpiredOffers(ctx, expiresAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	now := expiresAt.Add(time.Second)
	f.clock.Set(now)
	n, err = f.queue.SweepExpiredOffers(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, StatusExpired, f.entry(t, p).Status)
	eq := f.entry(t, q)
	assert.Equal(t, StatusOffered, eq.Status)
	assert.Equal(t, now.Add(15*time.Minute), *eq.OfferExpiresAt)

	// the same sweep again is a no-op
	n, err = f.queue.SweepExpiredOffers(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 3, f.entry(t, p).Version)
	assert.Equal(t, StatusOffered, f.entry(t, q).Status)
}

func TestAcceptReassignsAppointment(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	ctx := context.Background()
	appt := f.book(t, drA, march10)
	p := f.join(t, patientP, "Cardiology", nil, march)
	f.cancel(t, appt)

	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.queue.RespondToOffer(ctx, p, Accept, appointment.Actor{ID: patientP, Class: appointment.ActorPatient}))

	a, err := f.store.Get(ctx, appt)
	require.NoError(t, err)
	assert.Equal(t, patientP, a.PatientID)
	assert.Equal(t, appointment.StatusConfirmed, a.Status)
	assert.Equal(t, 3, a.Version)
	assert.Nil(t, a.Cancellation)

	assert.Equal(t, StatusAccepted, f.entry(t, p).Status)

	err = f.queue.RespondToOffer(ctx, p, Accept, staff)
	assert.ErrorIs(t, err, ErrNotOffered)

	entries, _ := f.audit.ListByEntity(ctx, audit.EntityAppointment, appt)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{audit.ActionCreateAppointment, audit.ActionChangeStatus, audit.ActionFillFromWaitlist}, actions)
}

func TestLateAcceptExpiresAndCascades(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	ctx := context.Background()
	appt := f.book(t, drA, march10)
	p := f.join(t, patientP, "Cardiology", nil, march)
	q := f.join(t, patientQ, "Cardiology", nil, march)
	f.cancel(t, appt)

	f.clock.Advance(15 * time.Minute)
	err := f.queue.RespondToOffer(ctx, p, Accept, staff)
	assert.ErrorIs(t, err, ErrOfferExpired)

	assert.Equal(t, StatusExpired, f.entry(t, p).Status)
	assert.Equal(t, StatusOffered, f.entry(t, q).Status)

	a, _ := f.store.Get(ctx, appt)
	assert.Equal(t, appointment.StatusCancelled, a.Status)

	// accepting an offer that was already expired keeps reporting expiry
	err = f.queue.RespondToOffer(ctx, p, Accept, staff)
	assert.ErrorIs(t, err, ErrOfferExpired)
}

func TestRespondValidation(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	ctx := context.Background()
	p := f.join(t, patientP, "Cardiology", nil, march)

	assert.ErrorIs(t, f.queue.RespondToOffer(ctx, p, Accept, staff), ErrNotOffered)
	assert.ErrorIs(t, f.queue.RespondToOffer(ctx, p, "maybe", staff), ErrInvalidResponse)
	assert.ErrorIs(t, f.queue.RespondToOffer(ctx, uuid.New(), Accept, staff), ErrEntryNotFound)
}

func TestFIFOAmongEligibleEntries(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	appt := f.book(t, drA, march10)

	april := DateRange{Start: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)}
	wrongSpecialty := f.join(t, uuid.New(), "Dermatology", nil, march)
	wrongDoctor := f.join(t, uuid.New(), "Cardiology", &drB, march)
	wrongDates := f.join(t, uuid.New(), "Cardiology", nil, april)
	first := f.join(t, uuid.New(), "CARDIOLOGY", &drA, march)
	second := f.join(t, uuid.New(), "Cardiology", nil, march)

	f.cancel(t, appt)

	assert.Equal(t, StatusWaiting, f.entry(t, wrongSpecialty).Status)
	assert.Equal(t, StatusWaiting, f.entry(t, wrongDoctor).Status)
	assert.Equal(t, StatusWaiting, f.entry(t, wrongDates).Status)
	assert.Equal(t, StatusOffered, f.entry(t, first).Status)
	assert.Equal(t, StatusWaiting, f.entry(t, second).Status)
}

func TestCivilDateUsesClinicLocation(t *testing.T) {
	brt := time.FixedZone("BRT", -3*60*60)
	f := newFixture(t, brt, true)

	// 01:00 UTC on the 11th is still the 10th in the clinic
	appt := f.book(t, drA, time.Date(2025, 3, 11, 1, 0, 0, 0, time.UTC))
	only10th := DateRange{Start: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)}
	p := f.join(t, patientP, "Cardiology", nil, only10th)

	f.cancel(t, appt)
	assert.Equal(t, StatusOffered, f.entry(t, p).Status)
}

func TestNoOfferWhenSlotRebooked(t *testing.T) {
	f := newFixture(t, time.UTC, false)
	ctx := context.Background()
	appt := f.book(t, drA, march10)
	p := f.join(t, patientP, "Cardiology", nil, march)
	f.cancel(t, appt)

	f.book(t, drA, march10.Add(10*time.Minute))

	require.NoError(t, f.queue.Matcher().Process(ctx, appt))
	assert.Equal(t, StatusWaiting, f.entry(t, p).Status)
}

func TestAcceptAfterRebookingWithdrawsOffer(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	ctx := context.Background()
	appt := f.book(t, drA, march10)
	p := f.join(t, patientP, "Cardiology", nil, march)
	f.cancel(t, appt)

	f.book(t, drA, march10)

	err := f.queue.RespondToOffer(ctx, p, Accept, staff)
	assert.ErrorIs(t, err, appointment.ErrSlotConflict)
	assert.Equal(t, StatusExpired, f.entry(t, p).Status)
}

func TestOneLiveOfferPerAppointment(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	ctx := context.Background()
	appt := f.book(t, drA, march10)
	f.join(t, patientP, "Cardiology", nil, march)
	f.join(t, patientQ, "Cardiology", nil, march)
	f.cancel(t, appt)

	// repeated dispatches for the same slot do not make a second offer
	require.NoError(t, f.queue.Matcher().Process(ctx, appt, appt))

	offered, err := f.queue.List(ctx, clinic, StatusOffered)
	require.NoError(t, err)
	assert.Len(t, offered, 1)
}

func TestConcurrentCancellationsKeepOffersExclusive(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	ctx := context.Background()

	var appts []uuid.UUID
	for i := 0; i < 8; i++ {
		doctor := drA
		if i%2 == 1 {
			doctor = drB
		}
		appts = append(appts, f.book(t, doctor, march10.Add(time.Duration(i)*time.Hour)))
	}
	for i := 0; i < 5; i++ {
		f.join(t, uuid.New(), "Cardiology", nil, march)
	}

	var wg sync.WaitGroup
	for _, id := range appts {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			assert.NoError(t, f.store.ChangeStatus(ctx, id, appointment.StatusCancelled, staff, ""))
		}(id)
	}
	wg.Wait()

	offered, err := f.queue.List(ctx, clinic, StatusOffered)
	require.NoError(t, err)
	assert.Len(t, offered, 5)

	seen := make(map[uuid.UUID]bool)
	for _, e := range offered {
		require.NotNil(t, e.OfferedAppointmentID)
		assert.False(t, seen[*e.OfferedAppointmentID], "appointment %s offered twice", e.OfferedAppointmentID)
		seen[*e.OfferedAppointmentID] = true
	}
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	ctx := context.Background()

	cases := []struct {
		name string
		in   JoinInput
		want error
	}{
		{"end before start", JoinInput{ClinicID: clinic, Specialty: "Cardiology", Range: DateRange{Start: march.End, End: march.Start}}, ErrInvalidRange},
		{"start in the past", JoinInput{ClinicID: clinic, Specialty: "Cardiology", Range: DateRange{Start: march.Start.AddDate(0, 0, -1), End: march.End}}, ErrInvalidRange},
		{"blank specialty", JoinInput{ClinicID: clinic, Specialty: "  ", Range: march}, ErrInvalidSpecialty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.queue.Join(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// a range starting today is fine
	id, err := f.queue.Join(ctx, JoinInput{ClinicID: clinic, Specialty: " Cardiology ", Range: march})
	require.NoError(t, err)
	e := f.entry(t, id)
	assert.Equal(t, "Cardiology", e.Specialty)
	assert.Equal(t, StatusWaiting, e.Status)
	assert.Equal(t, 1, e.Version)
}

func TestRemove(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	ctx := context.Background()
	appt := f.book(t, drA, march10)
	p := f.join(t, patientP, "Cardiology", nil, march)
	q := f.join(t, patientQ, "Dermatology", nil, march)
	f.cancel(t, appt)

	assert.ErrorIs(t, f.queue.Remove(ctx, p, staff), ErrNotRemovable)
	require.NoError(t, f.queue.Remove(ctx, q, staff))
	_, err := f.queue.Get(ctx, q)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.ErrorIs(t, f.queue.Remove(ctx, q, staff), ErrEntryNotFound)
}

func TestListByStatus(t *testing.T) {
	f := newFixture(t, time.UTC, true)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.join(t, uuid.New(), fmt.Sprintf("Specialty %d", i), nil, march))
	}

	all, err := f.queue.List(ctx, clinic)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, e := range all {
		assert.Equal(t, ids[i], e.ID)
	}

	none, err := f.queue.List(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}
