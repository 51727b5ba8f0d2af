package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

const dateLayout = time.DateOnly

type InsuranceRequest struct {
	PlanID       string `json:"plan_id" validate:"required,uuid"`
	ProviderName string `json:"provider_name" validate:"required,max=200"`
	PlanName     string `json:"plan_name" validate:"max=200"`
	CardNumber   string `json:"card_number" validate:"max=100"`
}

type CreateAppointmentRequest struct {
	ClinicID        string            `json:"clinic_id" validate:"required,uuid"`
	DoctorID        string            `json:"doctor_id" validate:"required,uuid"`
	PatientID       string            `json:"patient_id" validate:"required,uuid"`
	Start           time.Time         `json:"start" validate:"required"`
	DurationMinutes int               `json:"duration_minutes" validate:"gt=0,lte=1440"`
	Kind            string            `json:"kind" validate:"required,oneof=self-pay insurance"`
	Insurance       *InsuranceRequest `json:"insurance"`
	Notes           string            `json:"notes" validate:"max=2000"`
}

type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type RescheduleRequest struct {
	Start           time.Time `json:"start" validate:"required"`
	DurationMinutes *int      `json:"duration_minutes" validate:"omitempty,gt=0,lte=1440"`
	Reason          string    `json:"reason" validate:"max=500"`
}

type JoinWaitlistRequest struct {
	ClinicID          string `json:"clinic_id" validate:"required,uuid"`
	PatientID         string `json:"patient_id" validate:"required,uuid"`
	Specialty         string `json:"specialty" validate:"required,max=100"`
	PreferredDoctorID string `json:"preferred_doctor_id" validate:"omitempty,uuid"`
	StartDate         string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate           string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type OfferResponseRequest struct {
	Response string `json:"response" validate:"required,oneof=accept decline"`
}

type SweepRequest struct {
	Now *time.Time `json:"now"`
}

type IDResponse struct {
	ID uuid.UUID `json:"id"`
}

type SweepResponse struct {
	Expired int `json:"expired"`
}

type AppointmentResponse struct {
	ID                      uuid.UUID                  `json:"id"`
	ClinicID                uuid.UUID                  `json:"clinic_id"`
	DoctorID                uuid.UUID                  `json:"doctor_id"`
	PatientID               uuid.UUID                  `json:"patient_id"`
	BookedBy                uuid.UUID                  `json:"booked_by"`
	Start                   time.Time                  `json:"start"`
	End                     time.Time                  `json:"end"`
	DurationMinutes         int                        `json:"duration_minutes"`
	Kind                    appointment.Kind           `json:"kind"`
	Insurance               *appointment.Insurance     `json:"insurance,omitempty"`
	Notes                   string                     `json:"notes,omitempty"`
	Status                  appointment.Status         `json:"status"`
	History                 []appointment.HistoryEntry `json:"history"`
	Cancellation            *appointment.Cancellation  `json:"cancellation,omitempty"`
	ConfirmedAt             *time.Time                 `json:"confirmed_at,omitempty"`
	ConfirmationRequestedAt *time.Time                 `json:"confirmation_requested_at,omitempty"`
	CompletedAt             *time.Time                 `json:"completed_at,omitempty"`
	Version                 int                        `json:"version"`
	CreatedAt               time.Time                  `json:"created_at"`
	UpdatedAt               time.Time                  `json:"updated_at"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                      a.ID,
		ClinicID:                a.ClinicID,
		DoctorID:                a.DoctorID,
		PatientID:               a.PatientID,
		BookedBy:                a.BookedBy,
		Start:                   a.Start,
		End:                     a.End,
		DurationMinutes:         a.DurationMinutes,
		Kind:                    a.Kind,
		Insurance:               a.Insurance,
		Notes:                   a.Notes,
		Status:                  a.Status,
		History:                 a.History,
		Cancellation:            a.Cancellation,
		ConfirmedAt:             a.ConfirmedAt,
		ConfirmationRequestedAt: a.ConfirmationRequestedAt,
		CompletedAt:             a.CompletedAt,
		Version:                 a.Version,
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
	}
}

type WaitlistEntryResponse struct {
	ID                   uuid.UUID       `json:"id"`
	ClinicID             uuid.UUID       `json:"clinic_id"`
	PatientID            uuid.UUID       `json:"patient_id"`
	Specialty            string          `json:"specialty"`
	PreferredDoctorID    *uuid.UUID      `json:"preferred_doctor_id,omitempty"`
	StartDate            string          `json:"start_date"`
	EndDate              string          `json:"end_date"`
	Status               waitlist.Status `json:"status"`
	OfferedAppointmentID *uuid.UUID      `json:"offered_appointment_id,omitempty"`
	OfferedAt            *time.Time      `json:"offered_at,omitempty"`
	OfferExpiresAt       *time.Time      `json:"offer_expires_at,omitempty"`
	Version              int             `json:"version"`
	CreatedAt            time.Time       `json:"created_at"`
}

func toWaitlistEntryResponse(e waitlist.Entry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:                   e.ID,
		ClinicID:             e.ClinicID,
		PatientID:            e.PatientID,
		Specialty:            e.Specialty,
		PreferredDoctorID:    e.PreferredDoctorID,
		StartDate:            e.Range.Start.Format(dateLayout),
		EndDate:              e.Range.End.Format(dateLayout),
		Status:               e.Status,
		OfferedAppointmentID: e.OfferedAppointmentID,
		OfferedAt:            e.OfferedAt,
		OfferExpiresAt:       e.OfferExpiresAt,
		Version:              e.Version,
		CreatedAt:            e.CreatedAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
