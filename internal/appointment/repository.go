package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all persistence needed by the store. Implementations
// return ErrNotFound, ErrVersionMismatch and ErrSlotConflict as sentinels.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Insert persists a new appointment. Implementations that can enforce the
	// no-overlap invariant themselves report a violation as ErrSlotConflict.
	Insert(ctx context.Context, a *Appointment) error

	// Update replaces the stored record only if its version still equals
	// expectedVersion.
	Update(ctx context.Context, a *Appointment, expectedVersion int) error

	// FindOverlapping returns active appointments of the doctor intersecting
	// [start, end), ignoring excludeID.
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]Appointment, error)

	List(ctx context.Context, f Filter) ([]Appointment, error)
}
