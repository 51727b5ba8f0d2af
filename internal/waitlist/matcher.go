package waitlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/audit"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/roster"
)

// maxPassesPerSlot caps how often one freed appointment is re-queued within a
// single Process call.
const maxPassesPerSlot = 2

// Matcher offers freed appointments to the waitlist, strictly first come
// first served among eligible entries.
type Matcher struct {
	q *Queue
}

// SlotFreed implements appointment.SlotListener.
func (m *Matcher) SlotFreed(ctx context.Context, slot appointment.FreedSlot) error {
	return m.Process(ctx, slot.AppointmentID)
}

// Process drains a work queue of freed appointment ids. A slot whose current
// offer is found lapsed is expired and queued again.
func (m *Matcher) Process(ctx context.Context, appointmentIDs ...uuid.UUID) error {
	work := append([]uuid.UUID(nil), appointmentIDs...)
	passes := make(map[uuid.UUID]int)

	var errs []error
	for len(work) > 0 {
		id := work[0]
		work = work[1:]

		passes[id]++
		if passes[id] > maxPassesPerSlot {
			continue
		}

		var requeue bool
		err := m.q.withLock(ctx, redisclient.SlotLockKey(id), func(lockCtx context.Context) error {
			var err error
			requeue, err = m.match(lockCtx, id)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("match appointment %s: %w", id, err))
			continue
		}
		if requeue {
			work = append(work, id)
		}
	}
	return errors.Join(errs...)
}

// match makes at most one offer for the freed appointment. It must run under
// the appointment's slot lock.
func (m *Matcher) match(ctx context.Context, apptID uuid.UUID) (bool, error) {
	q := m.q
	log := q.logger.With(zap.String("appointment_id", apptID.String()))

	appt, err := q.appts.Get(ctx, apptID)
	if errors.Is(err, appointment.ErrNotFound) {
		log.Warn("freed appointment not found")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if appt.Status != appointment.StatusCancelled {
		return false, nil
	}

	now := q.clock.Now()
	if !appt.Start.After(now) {
		log.Debug("freed slot already started, not offering")
		return false, nil
	}

	held, err := q.repo.FindOffered(ctx, apptID)
	switch {
	case err == nil:
		if held.OfferLapsed(now) {
			if err := q.expireLocked(ctx, *held, appointment.SystemActor, "expired", now); err != nil {
				return false, err
			}
			return true, nil
		}
		// one live offer per appointment
		return false, nil
	case !errors.Is(err, ErrEntryNotFound):
		return false, storageErr("find offered entry", err)
	}

	available, err := q.appts.SlotAvailable(ctx, appt.DoctorID, appt.Start, appt.End, appt.ID)
	if err != nil {
		return false, err
	}
	if !available {
		log.Debug("freed slot was rebooked, not offering")
		return false, nil
	}

	doc, err := q.doctors.Doctor(ctx, appt.DoctorID)
	if errors.Is(err, roster.ErrDoctorNotFound) {
		log.Warn("doctor of freed slot not in roster", zap.String("doctor_id", appt.DoctorID.String()))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	waiting, err := q.repo.ListWaiting(ctx, appt.ClinicID)
	if err != nil {
		return false, storageErr("list waiting entries", err)
	}

	limit := len(waiting) + 1
	tries := 0
	for _, e := range waiting {
		if tries >= limit {
			break
		}
		if !e.Eligible(*doc, appt.Start, q.loc) {
			continue
		}
		tries++

		next := offer(e, apptID, now, q.window)
		err := q.repo.Update(ctx, &next, e.Version)
		switch {
		case err == nil:
			m.offered(ctx, next, *appt)
			return false, nil
		case errors.Is(err, ErrVersionMismatch), errors.Is(err, ErrEntryNotFound):
			// taken by another slot or removed since listing
			continue
		case errors.Is(err, ErrAlreadyOffered):
			return false, nil
		default:
			return false, storageErr("offer waitlist entry", err)
		}
	}

	log.Info("no eligible waitlist entry for freed slot", zap.Int("waiting", len(waiting)))
	return false, nil
}

func (m *Matcher) offered(ctx context.Context, e Entry, appt appointment.Appointment) {
	q := m.q
	if q.metrics != nil {
		q.metrics.WaitlistOffers.WithLabelValues("offered").Inc()
	}
	q.logger.Info("waitlist offer made",
		zap.String("entry_id", e.ID.String()),
		zap.String("appointment_id", appt.ID.String()),
		zap.Time("offer_expires_at", *e.OfferExpiresAt),
	)
	q.audit.Record(ctx, e.ClinicID, appointment.SystemActor.ID, audit.ActionOfferWaitlist, audit.EntityWaitlistEntry, e.ID, nil, statusSnapshot(e))
	q.notify(ctx, notify.WaitlistOffered, e, map[string]any{
		"doctor_id":        appt.DoctorID,
		"start":            appt.Start,
		"end":              appt.End,
		"offer_expires_at": e.OfferExpiresAt,
	})
}
