// Package notify carries notification intents out of the scheduling core.
// Delivery (SMS, WhatsApp, push) is done by whoever subscribes.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type Type string

const (
	AppointmentBooked                Type = "appointment.booked"
	AppointmentStatusChanged         Type = "appointment.status_changed"
	AppointmentRescheduled           Type = "appointment.rescheduled"
	AppointmentConfirmationRequested Type = "appointment.confirmation_requested"
	WaitlistOffered                  Type = "waitlist.offered"
	WaitlistOfferExpired             Type = "waitlist.offer_expired"
	WaitlistAccepted                 Type = "waitlist.accepted"
)

type Intent struct {
	ID              uuid.UUID      `json:"id"`
	Type            Type           `json:"type"`
	ClinicID        uuid.UUID      `json:"clinic_id"`
	AppointmentID   *uuid.UUID     `json:"appointment_id,omitempty"`
	WaitlistEntryID *uuid.UUID     `json:"waitlist_entry_id,omitempty"`
	PatientID       uuid.UUID      `json:"patient_id"`
	At              time.Time      `json:"at"`
	Data            map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, in Intent) error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, in Intent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, in); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notifier is what the store and the queue hold. Publishing is best-effort:
// failures are logged and counted but never fail the calling operation.
type Notifier struct {
	pub     Publisher
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewNotifier(pub Publisher, logger *zap.Logger, m *metrics.Collector) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{pub: pub, logger: logger, metrics: m}
}

func (n *Notifier) Notify(ctx context.Context, in Intent) {
	if n == nil || n.pub == nil {
		return
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}

	if err := n.pub.Publish(ctx, in); err != nil {
		n.logger.Warn("failed to publish notification",
			zap.String("type", string(in.Type)),
			zap.String("clinic_id", in.ClinicID.String()),
			zap.Error(err),
		)
		if n.metrics != nil {
			n.metrics.NotificationFailures.Inc()
		}
	}
}
