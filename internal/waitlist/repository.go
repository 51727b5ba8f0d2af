package waitlist

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	Insert(ctx context.Context, e *Entry) error

	// Update is a compare-and-swap on version. A second live offer for the same
	// appointment is reported as ErrAlreadyOffered.
	Update(ctx context.Context, e *Entry, expectedVersion int) error
	Delete(ctx context.Context, id uuid.UUID, expectedVersion int) error

	// ListWaiting returns the clinic's waiting entries oldest first, id breaking ties.
	ListWaiting(ctx context.Context, clinicID uuid.UUID) ([]Entry, error)

	// FindOffered returns the entry holding a live offer for the appointment,
	// or ErrEntryNotFound.
	FindOffered(ctx context.Context, appointmentID uuid.UUID) (*Entry, error)
	FindExpiredOffers(ctx context.Context, now time.Time) ([]Entry, error)
	List(ctx context.Context, clinicID uuid.UUID, statuses []Status) ([]Entry, error)
}
