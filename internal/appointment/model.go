package appointment

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled            Status = "scheduled"
	StatusAwaitingConfirmation Status = "awaiting-confirmation"
	StatusConfirmed            Status = "confirmed"
	StatusCompleted            Status = "completed"
	StatusNoShow               Status = "no-show"
	StatusCancelled            Status = "cancelled"
)

// ActiveStatuses occupy the doctor's calendar.
var ActiveStatuses = []Status{StatusScheduled, StatusAwaitingConfirmation, StatusConfirmed}

func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusAwaitingConfirmation, StatusConfirmed,
		StatusCompleted, StatusNoShow, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusNoShow || s == StatusCancelled
}

type Kind string

const (
	KindSelfPay   Kind = "self-pay"
	KindInsurance Kind = "insurance"
)

type ActorClass string

const (
	ActorPatient ActorClass = "patient"
	ActorStaff   ActorClass = "staff"
	ActorSystem  ActorClass = "system"
)

// Actor is whoever performs an operation, as resolved by the external auth system.
type Actor struct {
	ID    uuid.UUID
	Class ActorClass
}

var SystemActor = Actor{Class: ActorSystem}

type HistoryEvent string

const (
	EventStatus      HistoryEvent = "status"
	EventRescheduled HistoryEvent = "rescheduled"
	EventReassigned  HistoryEvent = "reassigned"
)

type HistoryEntry struct {
	Event   HistoryEvent `json:"event"`
	Status  Status       `json:"status"`
	At      time.Time    `json:"at"`
	ActorID uuid.UUID    `json:"actor_id"`
	Reason  string       `json:"reason,omitempty"`
}

type Insurance struct {
	PlanID       uuid.UUID `json:"plan_id"`
	ProviderName string    `json:"provider_name"`
	PlanName     string    `json:"plan_name,omitempty"`
	CardNumber   string    `json:"card_number,omitempty"`
}

type Cancellation struct {
	At         time.Time  `json:"at"`
	ActorID    uuid.UUID  `json:"actor_id"`
	ActorClass ActorClass `json:"actor_class"`
	Reason     string     `json:"reason,omitempty"`
}

type Appointment struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	BookedBy  uuid.UUID

	Start           time.Time
	End             time.Time
	DurationMinutes int

	Kind      Kind
	Insurance *Insurance
	Notes     string

	Status       Status
	History      []HistoryEntry
	Cancellation *Cancellation

	ConfirmedAt             *time.Time
	ConfirmationRequestedAt *time.Time
	CompletedAt             *time.Time

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Overlaps reports whether the appointment's [Start, End) intersects [start, end).
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.Start.Before(end) && start.Before(a.End)
}

// Clone returns a copy that shares no mutable state with a.
func (a Appointment) Clone() Appointment {
	c := a
	c.History = slices.Clone(a.History)
	if a.Insurance != nil {
		ins := *a.Insurance
		c.Insurance = &ins
	}
	if a.Cancellation != nil {
		cn := *a.Cancellation
		c.Cancellation = &cn
	}
	c.ConfirmedAt = cloneTime(a.ConfirmedAt)
	c.ConfirmationRequestedAt = cloneTime(a.ConfirmationRequestedAt)
	c.CompletedAt = cloneTime(a.CompletedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// FreedSlot describes calendar time released by a cancellation.
type FreedSlot struct {
	AppointmentID uuid.UUID
	ClinicID      uuid.UUID
	DoctorID      uuid.UUID
	Start         time.Time
	End           time.Time
}

type CreateInput struct {
	ClinicID        uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	Start           time.Time
	DurationMinutes int
	Kind            Kind
	Insurance       *Insurance
	Notes           string
	Actor           Actor
}

// Filter selects appointments by owner and by intersection with [From, To).
// Zero From or To leaves that side unbounded; empty Statuses matches all.
type Filter struct {
	ClinicID  *uuid.UUID
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Statuses  []Status
	From      time.Time
	To        time.Time
}

func (f Filter) Matches(a Appointment) bool {
	if f.ClinicID != nil && a.ClinicID != *f.ClinicID {
		return false
	}
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
		return false
	}
	if !f.To.IsZero() && !a.Start.Before(f.To) {
		return false
	}
	if !f.From.IsZero() && !a.End.After(f.From) {
		return false
	}
	return true
}
