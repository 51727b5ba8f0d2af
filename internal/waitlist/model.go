package waitlist

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/roster"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusOffered  Status = "offered"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusWaiting, StatusOffered, StatusAccepted, StatusExpired:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusExpired
}

type Response string

const (
	Accept  Response = "accept"
	Decline Response = "decline"
)

// DateRange is an inclusive range of civil dates. Both ends are kept as
// midnight UTC of the calendar day.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Date returns midnight UTC of t's calendar day in t's own location.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CivilDate returns the calendar day of instant t as seen in loc.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	return Date(t.In(loc))
}

func (r DateRange) Contains(day time.Time) bool {
	return !day.Before(r.Start) && !day.After(r.End)
}

type Entry struct {
	ID                uuid.UUID  `json:"id"`
	ClinicID          uuid.UUID  `json:"clinic_id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	Specialty         string     `json:"specialty"`
	PreferredDoctorID *uuid.UUID `json:"preferred_doctor_id,omitempty"`
	Range             DateRange  `json:"preferred_date_range"`
	Status            Status     `json:"status"`

	OfferedAppointmentID *uuid.UUID `json:"offered_appointment_id,omitempty"`
	OfferedAt            *time.Time `json:"offered_at,omitempty"`
	OfferExpiresAt       *time.Time `json:"offer_expires_at,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e Entry) Clone() Entry {
	c := e
	c.PreferredDoctorID = cloneID(e.PreferredDoctorID)
	c.OfferedAppointmentID = cloneID(e.OfferedAppointmentID)
	c.OfferedAt = cloneTime(e.OfferedAt)
	c.OfferExpiresAt = cloneTime(e.OfferExpiresAt)
	return c
}

// OfferLapsed reports whether an offer is past its expiry at now.
func (e Entry) OfferLapsed(now time.Time) bool {
	return e.OfferExpiresAt != nil && !now.Before(*e.OfferExpiresAt)
}

// Eligible reports whether e may be offered a slot of doc starting at start.
func (e Entry) Eligible(doc roster.Doctor, start time.Time, loc *time.Location) bool {
	if e.Status != StatusWaiting {
		return false
	}
	if !doc.HasSpecialty(e.Specialty) {
		return false
	}
	if e.PreferredDoctorID != nil && *e.PreferredDoctorID != doc.ID {
		return false
	}
	return e.Range.Contains(CivilDate(start, loc))
}

type JoinInput struct {
	ClinicID          uuid.UUID
	PatientID         uuid.UUID
	Specialty         string
	PreferredDoctorID *uuid.UUID
	Range             DateRange
	Actor             appointment.Actor
}

func offer(e Entry, appointmentID uuid.UUID, now time.Time, window time.Duration) Entry {
	next := bump(e, now)
	expires := now.Add(window)
	next.Status = StatusOffered
	next.OfferedAppointmentID = &appointmentID
	next.OfferedAt = &now
	next.OfferExpiresAt = &expires
	return next
}

// expire keeps the offer fields as a record of what lapsed.
func expire(e Entry, now time.Time) Entry {
	next := bump(e, now)
	next.Status = StatusExpired
	return next
}

func accept(e Entry, now time.Time) Entry {
	next := bump(e, now)
	next.Status = StatusAccepted
	return next
}

func bump(e Entry, now time.Time) Entry {
	next := e.Clone()
	next.Version++
	next.UpdatedAt = now
	return next
}

func normalizeSpecialty(s string) string {
	return strings.TrimSpace(s)
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
