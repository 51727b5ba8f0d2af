package appointment

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// transitions is the legal status graph. Terminal statuses have no entry.
var transitions = map[Status][]Status{
	StatusScheduled:            {StatusAwaitingConfirmation, StatusConfirmed, StatusCancelled},
	StatusAwaitingConfirmation: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:            {StatusCompleted, StatusNoShow, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Transition validates from -> to and returns the resulting record. It never
// touches storage; cur is left untouched.
func Transition(cur Appointment, to Status, actor Actor, reason string, now time.Time) (Appointment, error) {
	if cur.Status.IsTerminal() {
		return Appointment{}, &TransitionError{From: cur.Status, To: to, Err: ErrAlreadyTerminal}
	}
	if !CanTransition(cur.Status, to) {
		return Appointment{}, &TransitionError{From: cur.Status, To: to, Err: ErrInvalidTransition}
	}

	next := advance(cur, HistoryEntry{
		Event:   EventStatus,
		Status:  to,
		At:      now,
		ActorID: actor.ID,
		Reason:  reason,
	})
	next.Status = to

	switch to {
	case StatusConfirmed:
		next.ConfirmedAt = &now
	case StatusCompleted:
		next.CompletedAt = &now
	case StatusCancelled:
		next.Cancellation = &Cancellation{
			At:         now,
			ActorID:    actor.ID,
			ActorClass: actor.Class,
			Reason:     reason,
		}
	}

	return next, nil
}

// Reschedule moves a live appointment to [start, start+duration).
func Reschedule(cur Appointment, start time.Time, durationMinutes int, actor Actor, reason string, now time.Time) (Appointment, error) {
	if cur.Status.IsTerminal() {
		return Appointment{}, &TransitionError{From: cur.Status, To: cur.Status, Err: ErrAlreadyTerminal}
	}
	end, err := interval(start, durationMinutes)
	if err != nil {
		return Appointment{}, err
	}
	if reason == "" {
		reason = "rescheduled"
	}

	next := advance(cur, HistoryEntry{
		Event:   EventRescheduled,
		Status:  cur.Status,
		At:      now,
		ActorID: actor.ID,
		Reason:  reason,
	})
	next.Start = start.UTC()
	next.End = end
	next.DurationMinutes = durationMinutes
	return next, nil
}

// Reassign hands a cancelled appointment to a waitlisted patient and confirms
// it. It is the only way out of the cancelled status.
func Reassign(cur Appointment, patientID uuid.UUID, actor Actor, reason string, now time.Time) (Appointment, error) {
	if cur.Status != StatusCancelled {
		return Appointment{}, &TransitionError{From: cur.Status, To: StatusConfirmed, Err: ErrInvalidTransition}
	}

	next := advance(cur, HistoryEntry{
		Event:   EventReassigned,
		Status:  StatusConfirmed,
		At:      now,
		ActorID: actor.ID,
		Reason:  reason,
	})
	next.PatientID = patientID
	next.Status = StatusConfirmed
	next.ConfirmedAt = &now
	next.Cancellation = nil
	return next, nil
}

// RequestConfirmation stamps the moment the patient was asked to confirm.
func RequestConfirmation(cur Appointment, now time.Time) (Appointment, error) {
	if cur.Status.IsTerminal() {
		return Appointment{}, &TransitionError{From: cur.Status, To: cur.Status, Err: ErrAlreadyTerminal}
	}
	next := cur.Clone()
	next.ConfirmationRequestedAt = &now
	next.Version++
	next.UpdatedAt = now
	return next, nil
}

func advance(cur Appointment, entry HistoryEntry) Appointment {
	next := cur.Clone()
	next.History = append(next.History, entry)
	next.Version++
	next.UpdatedAt = entry.At
	return next
}

// MaxDurationMinutes bounds a single appointment to one day.
const MaxDurationMinutes = 24 * 60

func interval(start time.Time, durationMinutes int) (time.Time, error) {
	if durationMinutes <= 0 || durationMinutes > MaxDurationMinutes {
		return time.Time{}, ErrInvalidInterval
	}
	end := start.UTC().Add(time.Duration(durationMinutes) * time.Minute)
	if !end.After(start) {
		return time.Time{}, ErrInvalidInterval
	}
	return end, nil
}
