package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/audit"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/roster"
)

// Appointments is the part of the appointment store the waitlist depends on.
type Appointments interface {
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	SlotAvailable(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error)
	FillFromWaitlist(ctx context.Context, id, patientID uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
}

type Options struct {
	Clock            clock.Clock
	Logger           *zap.Logger
	Metrics          *metrics.Collector
	OfferWindow      time.Duration
	MaxWriteAttempts int

	// Location decides the civil date of a freed slot and of "today".
	Location *time.Location
}

// Queue is the only writer of waitlist entries.
type Queue struct {
	repo     Repository
	appts    Appointments
	doctors  roster.Directory
	locker   redisclient.Locker
	audit    *audit.Recorder
	notifier *notify.Notifier

	clock       clock.Clock
	logger      *zap.Logger
	metrics     *metrics.Collector
	window      time.Duration
	maxAttempts int
	loc         *time.Location

	matcher *Matcher
}

func NewQueue(repo Repository, appts Appointments, doctors roster.Directory, locker redisclient.Locker, rec *audit.Recorder, notifier *notify.Notifier, opts Options) *Queue {
	q := &Queue{
		repo:        repo,
		appts:       appts,
		doctors:     doctors,
		locker:      locker,
		audit:       rec,
		notifier:    notifier,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		window:      opts.OfferWindow,
		maxAttempts: opts.MaxWriteAttempts,
		loc:         opts.Location,
	}
	if q.clock == nil {
		q.clock = clock.System{}
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	if q.window <= 0 {
		q.window = 15 * time.Minute
	}
	if q.maxAttempts < 1 {
		q.maxAttempts = 3
	}
	if q.loc == nil {
		q.loc = time.UTC
	}
	if q.locker == nil {
		q.locker = redisclient.NewLocalLocker(0)
	}
	q.matcher = &Matcher{q: q}
	return q
}

// Matcher returns the matcher to register with the appointment store.
func (q *Queue) Matcher() *Matcher {
	return q.matcher
}

func (q *Queue) Join(ctx context.Context, in JoinInput) (uuid.UUID, error) {
	specialty := normalizeSpecialty(in.Specialty)
	if specialty == "" {
		return uuid.Nil, ErrInvalidSpecialty
	}

	now := q.clock.Now()
	r := DateRange{Start: Date(in.Range.Start), End: Date(in.Range.End)}
	if r.End.Before(r.Start) {
		return uuid.Nil, ErrInvalidRange
	}
	if r.Start.Before(CivilDate(now, q.loc)) {
		return uuid.Nil, fmt.Errorf("%w: starts %s", ErrInvalidRange, r.Start.Format(time.DateOnly))
	}

	e := Entry{
		ID:                uuid.New(),
		ClinicID:          in.ClinicID,
		PatientID:         in.PatientID,
		Specialty:         specialty,
		PreferredDoctorID: in.PreferredDoctorID,
		Range:             r,
		Status:            StatusWaiting,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := q.repo.Insert(ctx, &e); err != nil {
		return uuid.Nil, storageErr("insert waitlist entry", err)
	}

	if q.metrics != nil {
		q.metrics.WaitlistJoins.Inc()
	}
	q.logger.Info("patient joined waitlist",
		zap.String("entry_id", e.ID.String()),
		zap.String("clinic_id", e.ClinicID.String()),
		zap.String("specialty", e.Specialty),
	)
	q.audit.Record(ctx, e.ClinicID, in.Actor.ID, audit.ActionJoinWaitlist, audit.EntityWaitlistEntry, e.ID, nil, e)
	return e.ID, nil
}

// RespondToOffer accepts or declines a live offer. A decline, or an accept
// that arrives after the offer lapsed, expires the entry and offers the slot
// to the next eligible entry.
func (q *Queue) RespondToOffer(ctx context.Context, entryID uuid.UUID, resp Response, actor appointment.Actor) error {
	if resp != Accept && resp != Decline {
		return ErrInvalidResponse
	}

	e, err := q.Get(ctx, entryID)
	if err != nil {
		return err
	}
	if err := checkLiveOffer(*e, resp); err != nil {
		return err
	}
	apptID := *e.OfferedAppointmentID

	cascade := false
	err = q.withLock(ctx, redisclient.SlotLockKey(apptID), func(lockCtx context.Context) error {
		cur, err := q.repo.Get(lockCtx, entryID)
		if err != nil {
			return storageErr("get waitlist entry", err)
		}
		if err := checkLiveOffer(*cur, resp); err != nil {
			return err
		}
		if *cur.OfferedAppointmentID != apptID {
			return ErrNotOffered
		}

		now := q.clock.Now()
		if resp == Decline {
			if err := q.expireLocked(lockCtx, *cur, actor, "declined", now); err != nil {
				return err
			}
			cascade = true
			return nil
		}

		if cur.OfferLapsed(now) {
			if err := q.expireLocked(lockCtx, *cur, actor, "expired", now); err != nil {
				return err
			}
			cascade = true
			return ErrOfferExpired
		}

		if _, err := q.appts.FillFromWaitlist(lockCtx, apptID, cur.PatientID, actor); err != nil {
			if errors.Is(err, appointment.ErrSlotConflict) || errors.Is(err, appointment.ErrInvalidTransition) {
				// the slot was taken outside the waitlist, the offer cannot be honoured
				if expErr := q.expireLocked(lockCtx, *cur, appointment.SystemActor, "withdrawn", now); expErr != nil {
					q.logger.Error("failed to withdraw offer", zap.String("entry_id", cur.ID.String()), zap.Error(expErr))
				}
			}
			return err
		}

		next := accept(*cur, now)
		if err := q.repo.Update(lockCtx, &next, cur.Version); err != nil {
			q.logger.Error("appointment filled but entry not marked accepted",
				zap.String("entry_id", cur.ID.String()),
				zap.String("appointment_id", apptID.String()),
				zap.Error(err),
			)
			if errors.Is(err, ErrVersionMismatch) {
				return ErrContention
			}
			return storageErr("update waitlist entry", err)
		}

		if q.metrics != nil {
			q.metrics.WaitlistOffers.WithLabelValues("accepted").Inc()
		}
		q.logger.Info("waitlist offer accepted",
			zap.String("entry_id", cur.ID.String()),
			zap.String("appointment_id", apptID.String()),
		)
		q.audit.Record(lockCtx, next.ClinicID, actor.ID, audit.ActionAcceptWaitlistOffer, audit.EntityWaitlistEntry, next.ID, statusSnapshot(*cur), statusSnapshot(next))
		q.notify(lockCtx, notify.WaitlistAccepted, next, nil)
		return nil
	})

	if cascade {
		if matchErr := q.matcher.Process(ctx, apptID); matchErr != nil {
			q.logger.Error("waitlist rematch failed", zap.String("appointment_id", apptID.String()), zap.Error(matchErr))
		}
	}
	if errors.Is(err, ErrVersionMismatch) {
		return ErrContention
	}
	return err
}

// SweepExpiredOffers expires every offer lapsed at now and re-offers the freed
// appointments. Entries already expired are not counted again.
func (q *Queue) SweepExpiredOffers(ctx context.Context, now time.Time) (int, error) {
	started := time.Now()
	defer func() {
		if q.metrics != nil {
			q.metrics.SweepDuration.Observe(time.Since(started).Seconds())
		}
	}()

	lapsed, err := q.repo.FindExpiredOffers(ctx, now)
	if err != nil {
		return 0, storageErr("find expired offers", err)
	}

	var (
		count int
		freed []uuid.UUID
		errs  []error
	)
	for _, e := range lapsed {
		apptID := *e.OfferedAppointmentID
		err := q.withLock(ctx, redisclient.SlotLockKey(apptID), func(lockCtx context.Context) error {
			cur, err := q.repo.Get(lockCtx, e.ID)
			if errors.Is(err, ErrEntryNotFound) {
				return nil
			}
			if err != nil {
				return storageErr("get waitlist entry", err)
			}
			if cur.Status != StatusOffered || !cur.OfferLapsed(now) {
				return nil
			}

			err = q.expireLocked(lockCtx, *cur, appointment.SystemActor, "expired", now)
			if errors.Is(err, ErrVersionMismatch) {
				return nil
			}
			if err != nil {
				return err
			}
			count++
			freed = append(freed, apptID)
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire entry %s: %w", e.ID, err))
		}
	}

	if len(freed) > 0 {
		if err := q.matcher.Process(ctx, freed...); err != nil {
			q.logger.Error("waitlist rematch after sweep failed", zap.Error(err))
		}
	}
	if count > 0 {
		q.logger.Info("expired waitlist offers", zap.Int("count", count))
	}
	return count, errors.Join(errs...)
}

// Remove deletes an entry that is still waiting.
func (q *Queue) Remove(ctx context.Context, id uuid.UUID, actor appointment.Actor) error {
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		e, err := q.Get(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != StatusWaiting {
			return ErrNotRemovable
		}

		err = q.repo.Delete(ctx, id, e.Version)
		if err == nil {
			q.audit.Record(ctx, e.ClinicID, actor.ID, audit.ActionRemoveWaitlistEntry, audit.EntityWaitlistEntry, id, e, nil)
			return nil
		}
		if !errors.Is(err, ErrVersionMismatch) {
			return storageErr("delete waitlist entry", err)
		}
		if q.metrics != nil && attempt < q.maxAttempts {
			q.metrics.WriteRetries.WithLabelValues("waitlist_entry").Inc()
		}
	}

	if q.metrics != nil {
		q.metrics.Contention.WithLabelValues("waitlist_entry").Inc()
	}
	return ErrContention
}

func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get waitlist entry", err)
	}
	return e, nil
}

// List returns the clinic's entries oldest first, optionally by status.
func (q *Queue) List(ctx context.Context, clinicID uuid.UUID, statuses ...Status) ([]Entry, error) {
	entries, err := q.repo.List(ctx, clinicID, statuses)
	if err != nil {
		return nil, storageErr("list waitlist entries", err)
	}
	return entries, nil
}

// expireLocked must run under the slot lock of the entry's offer.
func (q *Queue) expireLocked(ctx context.Context, cur Entry, actor appointment.Actor, outcome string, now time.Time) error {
	next := expire(cur, now)
	if err := q.repo.Update(ctx, &next, cur.Version); err != nil {
		return storageErr("expire waitlist entry", err)
	}

	if q.metrics != nil {
		q.metrics.WaitlistOffers.WithLabelValues(outcome).Inc()
	}
	q.logger.Info("waitlist offer closed",
		zap.String("entry_id", cur.ID.String()),
		zap.String("appointment_id", cur.OfferedAppointmentID.String()),
		zap.String("outcome", outcome),
	)
	q.audit.Record(ctx, next.ClinicID, actor.ID, audit.ActionExpireWaitlistOffer, audit.EntityWaitlistEntry, next.ID, statusSnapshot(cur), statusSnapshot(next))
	q.notify(ctx, notify.WaitlistOfferExpired, next, map[string]any{"outcome": outcome})
	return nil
}

func (q *Queue) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	err := q.locker.WithLock(ctx, key, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		if q.metrics != nil {
			q.metrics.Contention.WithLabelValues("slot_lock").Inc()
		}
		return ErrContention
	}
	return err
}

func (q *Queue) notify(ctx context.Context, typ notify.Type, e Entry, data map[string]any) {
	id := e.ID
	q.notifier.Notify(ctx, notify.Intent{
		Type:            typ,
		ClinicID:        e.ClinicID,
		AppointmentID:   e.OfferedAppointmentID,
		WaitlistEntryID: &id,
		PatientID:       e.PatientID,
		At:              q.clock.Now(),
		Data:            data,
	})
}

func checkLiveOffer(e Entry, resp Response) error {
	switch {
	case e.Status == StatusOffered && e.OfferedAppointmentID != nil:
		return nil
	case e.Status == StatusExpired && e.OfferedAppointmentID != nil && resp == Accept:
		return ErrOfferExpired
	}
	return ErrNotOffered
}

func statusSnapshot(e Entry) map[string]any {
	return map[string]any{
		"status":                 e.Status,
		"offered_appointment_id": e.OfferedAppointmentID,
		"offer_expires_at":       e.OfferExpiresAt,
		"version":                e.Version,
	}
}
