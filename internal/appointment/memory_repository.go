package appointment

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps appointments in process. It enforces the same
// version and overlap rules as the Postgres schema, so it backs tests and
// STORAGE=memory deployments.
type MemoryRepository struct {
	mu    sync.RWMutex
	appts map[uuid.UUID]Appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{appts: make(map[uuid.UUID]Appointment)}
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := a.Clone()
	return &c, nil
}

func (r *MemoryRepository) Insert(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Status.IsTerminal() {
		r.appts[a.ID] = a.Clone()
		return nil
	}
	if r.overlapsLocked(a.DoctorID, a.Start, a.End, a.ID) {
		return ErrSlotConflict
	}
	r.appts[a.ID] = a.Clone()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, a *Appointment, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.appts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionMismatch
	}
	if !a.Status.IsTerminal() && r.overlapsLocked(a.DoctorID, a.Start, a.End, a.ID) {
		return ErrSlotConflict
	}
	r.appts[a.ID] = a.Clone()
	return nil
}

func (r *MemoryRepository) FindOverlapping(_ context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.appts {
		if a.ID == excludeID || a.DoctorID != doctorID || a.Status.IsTerminal() {
			continue
		}
		if a.Overlaps(start, end) {
			result = append(result, a.Clone())
		}
	}
	sortByStart(result)
	return result, nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.appts {
		if f.Matches(a) {
			result = append(result, a.Clone())
		}
	}
	sortByStart(result)
	return result, nil
}

func (r *MemoryRepository) overlapsLocked(doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) bool {
	for _, a := range r.appts {
		if a.ID == excludeID || a.DoctorID != doctorID || a.Status.IsTerminal() {
			continue
		}
		if a.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func sortByStart(appts []Appointment) {
	slices.SortFunc(appts, func(a, b Appointment) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
