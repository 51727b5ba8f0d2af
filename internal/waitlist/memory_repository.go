package waitlist

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[uuid.UUID]Entry)}
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	c := e.Clone()
	return &c, nil
}

func (r *MemoryRepository) Insert(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = e.Clone()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, e *Entry, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[e.ID]
	if !ok {
		return ErrEntryNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionMismatch
	}
	if e.Status == StatusOffered && e.OfferedAppointmentID != nil {
		for id, other := range r.entries {
			if id != e.ID && other.Status == StatusOffered && other.OfferedAppointmentID != nil &&
				*other.OfferedAppointmentID == *e.OfferedAppointmentID {
				return ErrAlreadyOffered
			}
		}
	}
	r.entries[e.ID] = e.Clone()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionMismatch
	}
	delete(r.entries, id)
	return nil
}

func (r *MemoryRepository) ListWaiting(ctx context.Context, clinicID uuid.UUID) ([]Entry, error) {
	return r.List(ctx, clinicID, []Status{StatusWaiting})
}

func (r *MemoryRepository) FindOffered(_ context.Context, appointmentID uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.Status == StatusOffered && e.OfferedAppointmentID != nil && *e.OfferedAppointmentID == appointmentID {
			c := e.Clone()
			return &c, nil
		}
	}
	return nil, ErrEntryNotFound
}

func (r *MemoryRepository) FindExpiredOffers(_ context.Context, now time.Time) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Entry
	for _, e := range r.entries {
		if e.Status == StatusOffered && e.OfferLapsed(now) {
			result = append(result, e.Clone())
		}
	}
	sortFIFO(result)
	return result, nil
}

func (r *MemoryRepository) List(_ context.Context, clinicID uuid.UUID, statuses []Status) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Entry
	for _, e := range r.entries {
		if e.ClinicID != clinicID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, e.Status) {
			continue
		}
		result = append(result, e.Clone())
	}
	sortFIFO(result)
	return result, nil
}

func sortFIFO(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
}
