package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/audit"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// SlotListener is told about every slot freed by a cancellation, after the
// cancellation has been persisted.
type SlotListener interface {
	SlotFreed(ctx context.Context, slot FreedSlot) error
}

type Options struct {
	Clock            clock.Clock
	Logger           *zap.Logger
	Metrics          *metrics.Collector
	MaxWriteAttempts int

	ConfirmationRequestAge time.Duration
	ConfirmationLeadTime   time.Duration

	// Location decides calendar months for reports.
	Location *time.Location
}

// Store is the only writer of appointments.
type Store struct {
	repo     Repository
	locker   redisclient.Locker
	audit    *audit.Recorder
	notifier *notify.Notifier

	clock       clock.Clock
	logger      *zap.Logger
	metrics     *metrics.Collector
	maxAttempts int
	requestAge  time.Duration
	leadTime    time.Duration
	loc         *time.Location

	mu        sync.RWMutex
	listeners []SlotListener
}

func NewStore(repo Repository, locker redisclient.Locker, rec *audit.Recorder, notifier *notify.Notifier, opts Options) *Store {
	s := &Store{
		repo:        repo,
		locker:      locker,
		audit:       rec,
		notifier:    notifier,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		maxAttempts: opts.MaxWriteAttempts,
		requestAge:  opts.ConfirmationRequestAge,
		leadTime:    opts.ConfirmationLeadTime,
		loc:         opts.Location,
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 3
	}
	if s.requestAge <= 0 {
		s.requestAge = 12 * time.Hour
	}
	if s.leadTime <= 0 {
		s.leadTime = 24 * time.Hour
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.locker == nil {
		s.locker = redisclient.NewLocalLocker(0)
	}
	return s
}

// OnSlotFreed registers l for cancellations.
func (s *Store) OnSlotFreed(l SlotListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Create books a new appointment in status scheduled.
func (s *Store) Create(ctx context.Context, in CreateInput) (uuid.UUID, error) {
	end, err := interval(in.Start, in.DurationMinutes)
	if err != nil {
		return uuid.Nil, err
	}
	if err := validateKind(in.Kind, in.Insurance); err != nil {
		return uuid.Nil, err
	}

	var created Appointment
	err = s.withLock(ctx, redisclient.DoctorLockKey(in.DoctorID), func(lockCtx context.Context) error {
		existing, err := s.repo.FindOverlapping(lockCtx, in.DoctorID, in.Start.UTC(), end, uuid.Nil)
		if err != nil {
			return storageErr("find overlapping", err)
		}
		if len(existing) > 0 {
			return ErrSlotConflict
		}

		now := s.clock.Now()
		a := Appointment{
			ID:              uuid.New(),
			ClinicID:        in.ClinicID,
			DoctorID:        in.DoctorID,
			PatientID:       in.PatientID,
			BookedBy:        in.Actor.ID,
			Start:           in.Start.UTC(),
			End:             end,
			DurationMinutes: in.DurationMinutes,
			Kind:            in.Kind,
			Notes:           in.Notes,
			Status:          StatusScheduled,
			History: []HistoryEntry{{
				Event:   EventStatus,
				Status:  StatusScheduled,
				At:      now,
				ActorID: in.Actor.ID,
			}},
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if in.Kind == KindInsurance {
			ins := *in.Insurance
			a.Insurance = &ins
		}

		if err := s.repo.Insert(lockCtx, &a); err != nil {
			return storageErr("insert appointment", err)
		}
		created = a
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSlotConflict) && s.metrics != nil {
			s.metrics.BookingConflicts.Inc()
		}
		return uuid.Nil, err
	}

	if s.metrics != nil {
		s.metrics.AppointmentsBooked.Inc()
	}
	s.logger.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("doctor_id", created.DoctorID.String()),
		zap.Time("start", created.Start),
	)
	s.audit.Record(ctx, created.ClinicID, in.Actor.ID, audit.ActionCreateAppointment, audit.EntityAppointment, created.ID, nil, created)
	s.notify(ctx, notify.AppointmentBooked, created, map[string]any{
		"start": created.Start,
		"end":   created.End,
	})

	return created.ID, nil
}

// ChangeStatus applies one transition of the status graph. A cancellation is
// followed by a synchronous FreedSlot dispatch to the registered listeners.
func (s *Store) ChangeStatus(ctx context.Context, id uuid.UUID, to Status, actor Actor, reason string) error {
	if !to.IsValid() {
		return &TransitionError{To: to, Err: ErrInvalidTransition}
	}

	before, after, err := s.mutate(ctx, id, func(cur Appointment) (Appointment, error) {
		return Transition(cur, to, actor, reason, s.clock.Now())
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(string(before.Status), string(after.Status)).Inc()
	}
	s.logger.Info("appointment status changed",
		zap.String("appointment_id", id.String()),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
		zap.String("actor_id", actor.ID.String()),
	)
	s.audit.Record(ctx, after.ClinicID, actor.ID, audit.ActionChangeStatus, audit.EntityAppointment, id, statusSnapshot(before), statusSnapshot(after))
	s.notify(ctx, notify.AppointmentStatusChanged, after, map[string]any{
		"from":   before.Status,
		"to":     after.Status,
		"reason": reason,
	})

	if after.Status == StatusCancelled {
		s.dispatchFreed(ctx, FreedSlot{
			AppointmentID: after.ID,
			ClinicID:      after.ClinicID,
			DoctorID:      after.DoctorID,
			Start:         after.Start,
			End:           after.End,
		})
	}
	return nil
}

// Reschedule moves a live appointment. newDuration nil keeps the current one.
func (s *Store) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newDuration *int, actor Actor, reason string) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	duration := cur.DurationMinutes
	if newDuration != nil {
		duration = *newDuration
	}
	newEnd, err := interval(newStart, duration)
	if err != nil {
		return err
	}

	var before, after Appointment
	err = s.withLock(ctx, redisclient.DoctorLockKey(cur.DoctorID), func(lockCtx context.Context) error {
		var err error
		before, after, err = s.mutate(lockCtx, id, func(cur Appointment) (Appointment, error) {
			next, err := Reschedule(cur, newStart, duration, actor, reason, s.clock.Now())
			if err != nil {
				return Appointment{}, err
			}
			existing, err := s.repo.FindOverlapping(lockCtx, cur.DoctorID, next.Start, newEnd, cur.ID)
			if err != nil {
				return Appointment{}, storageErr("find overlapping", err)
			}
			if len(existing) > 0 {
				return Appointment{}, ErrSlotConflict
			}
			return next, nil
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrSlotConflict) && s.metrics != nil {
			s.metrics.BookingConflicts.Inc()
		}
		return err
	}

	s.audit.Record(ctx, after.ClinicID, actor.ID, audit.ActionReschedule, audit.EntityAppointment, id, intervalSnapshot(before), intervalSnapshot(after))
	s.notify(ctx, notify.AppointmentRescheduled, after, map[string]any{
		"previous_start": before.Start,
		"start":          after.Start,
		"end":            after.End,
	})
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get appointment", err)
	}
	return a, nil
}

// Query returns every appointment of the doctor intersecting [from, to).
func (s *Store) Query(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return s.List(ctx, Filter{DoctorID: &doctorID, From: from, To: to})
}

// List requires at least one of doctor, patient or clinic.
func (s *Store) List(ctx context.Context, f Filter) ([]Appointment, error) {
	if f.DoctorID == nil && f.PatientID == nil && f.ClinicID == nil {
		return nil, ErrInvalidFilter
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return nil, ErrInvalidFilter
	}

	appts, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, storageErr("list appointments", err)
	}
	return appts, nil
}

// SlotAvailable reports whether the doctor has no live appointment in
// [start, end) other than excludeID.
func (s *Store) SlotAvailable(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	existing, err := s.repo.FindOverlapping(ctx, doctorID, start, end, excludeID)
	if err != nil {
		return false, storageErr("find overlapping", err)
	}
	return len(existing) == 0, nil
}

// FillFromWaitlist hands a cancelled appointment to a waitlisted patient and
// confirms it.
func (s *Store) FillFromWaitlist(ctx context.Context, id, patientID uuid.UUID, actor Actor) (*Appointment, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var before, after Appointment
	err = s.withLock(ctx, redisclient.DoctorLockKey(cur.DoctorID), func(lockCtx context.Context) error {
		var err error
		before, after, err = s.mutate(lockCtx, id, func(cur Appointment) (Appointment, error) {
			next, err := Reassign(cur, patientID, actor, "filled from waitlist", s.clock.Now())
			if err != nil {
				return Appointment{}, err
			}
			existing, err := s.repo.FindOverlapping(lockCtx, cur.DoctorID, cur.Start, cur.End, cur.ID)
			if err != nil {
				return Appointment{}, storageErr("find overlapping", err)
			}
			if len(existing) > 0 {
				return Appointment{}, ErrSlotConflict
			}
			return next, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(string(before.Status), string(after.Status)).Inc()
	}
	s.logger.Info("appointment filled from waitlist",
		zap.String("appointment_id", id.String()),
		zap.String("patient_id", patientID.String()),
	)
	s.audit.Record(ctx, after.ClinicID, actor.ID, audit.ActionFillFromWaitlist, audit.EntityAppointment, id, statusSnapshot(before), statusSnapshot(after))
	return &after, nil
}

// RequestConfirmation records that the patient was asked to confirm.
func (s *Store) RequestConfirmation(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	_, after, err := s.mutate(ctx, id, func(cur Appointment) (Appointment, error) {
		return RequestConfirmation(cur, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, after.ClinicID, actor.ID, audit.ActionRequestConfirmation, audit.EntityAppointment, id, nil, map[string]any{
		"confirmation_requested_at": after.ConfirmationRequestedAt,
	})
	s.notify(ctx, notify.AppointmentConfirmationRequested, after, map[string]any{
		"start": after.Start,
	})
	return &after, nil
}

// MarkPendingConfirmations moves scheduled appointments starting within the
// lead time, whose confirmation request is older than the request age, to
// awaiting-confirmation. It returns how many were moved.
func (s *Store) MarkPendingConfirmations(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.repo.List(ctx, Filter{
		Statuses: []Status{StatusScheduled},
		From:     now,
		To:       now.Add(s.leadTime),
	})
	if err != nil {
		return 0, storageErr("list scheduled appointments", err)
	}

	moved := 0
	for _, a := range candidates {
		if !a.Start.After(now) || a.ConfirmationRequestedAt == nil {
			continue
		}
		if now.Sub(*a.ConfirmationRequestedAt) < s.requestAge {
			continue
		}

		err := s.ChangeStatus(ctx, a.ID, StatusAwaitingConfirmation, SystemActor, "confirmation pending")
		switch {
		case err == nil:
			moved++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyTerminal):
			// changed since it was listed
		default:
			s.logger.Error("failed to mark appointment awaiting confirmation",
				zap.String("appointment_id", a.ID.String()),
				zap.Error(err),
			)
		}
	}
	return moved, nil
}

// mutate runs a read-modify-CAS loop. fn receives the freshly read record on
// every attempt.
func (s *Store) mutate(ctx context.Context, id uuid.UUID, fn func(cur Appointment) (Appointment, error)) (Appointment, Appointment, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		cur, err := s.repo.Get(ctx, id)
		if err != nil {
			return Appointment{}, Appointment{}, storageErr("get appointment", err)
		}

		next, err := fn(*cur)
		if err != nil {
			return Appointment{}, Appointment{}, err
		}

		err = s.repo.Update(ctx, &next, cur.Version)
		if err == nil {
			return *cur, next, nil
		}
		if !errors.Is(err, ErrVersionMismatch) {
			return Appointment{}, Appointment{}, storageErr("update appointment", err)
		}
		if attempt == s.maxAttempts {
			break
		}

		if s.metrics != nil {
			s.metrics.WriteRetries.WithLabelValues("appointment").Inc()
		}
		s.logger.Debug("appointment version mismatch, retrying",
			zap.String("appointment_id", id.String()),
			zap.Int("attempt", attempt),
		)
	}

	if s.metrics != nil {
		s.metrics.Contention.WithLabelValues("appointment").Inc()
	}
	return Appointment{}, Appointment{}, ErrContention
}

func (s *Store) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, key, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		if s.metrics != nil {
			s.metrics.Contention.WithLabelValues("doctor_lock").Inc()
		}
		return ErrContention
	}
	return err
}

func (s *Store) dispatchFreed(ctx context.Context, slot FreedSlot) {
	s.mu.RLock()
	listeners := append([]SlotListener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, l := range listeners {
		if err := l.SlotFreed(ctx, slot); err != nil {
			s.logger.Error("slot listener failed",
				zap.String("appointment_id", slot.AppointmentID.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *Store) notify(ctx context.Context, typ notify.Type, a Appointment, data map[string]any) {
	id := a.ID
	s.notifier.Notify(ctx, notify.Intent{
		Type:          typ,
		ClinicID:      a.ClinicID,
		AppointmentID: &id,
		PatientID:     a.PatientID,
		At:            s.clock.Now(),
		Data:          data,
	})
}

func validateKind(kind Kind, ins *Insurance) error {
	switch kind {
	case KindSelfPay:
		return nil
	case KindInsurance:
		if ins == nil || ins.PlanID == uuid.Nil {
			return ErrInvalidKind
		}
		return nil
	}
	return fmt.Errorf("%w: got %q", ErrInvalidKind, kind)
}

func statusSnapshot(a Appointment) map[string]any {
	return map[string]any{
		"status":     a.Status,
		"patient_id": a.PatientID,
		"version":    a.Version,
	}
}

func intervalSnapshot(a Appointment) map[string]any {
	return map[string]any{
		"start":            a.Start,
		"end":              a.End,
		"duration_minutes": a.DurationMinutes,
		"version":          a.Version,
	}
}
