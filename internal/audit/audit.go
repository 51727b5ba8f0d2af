package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// Actions recorded by the store and the waitlist queue.
const (
	ActionCreateAppointment   = "create_appointment"
	ActionChangeStatus        = "change_appointment_status"
	ActionReschedule          = "reschedule_appointment"
	ActionRequestConfirmation = "request_confirmation"
	ActionFillFromWaitlist    = "fill_from_waitlist"
	ActionJoinWaitlist        = "join_waitlist"
	ActionOfferWaitlist       = "offer_waitlist"
	ActionAcceptWaitlistOffer = "accept_waitlist_offer"
	ActionExpireWaitlistOffer = "expire_waitlist_offer"
	ActionRemoveWaitlistEntry = "remove_waitlist_entry"

	EntityAppointment   = "appointment"
	EntityWaitlistEntry = "waitlist_entry"
)

// Entry is an immutable record of one mutating operation. Before and After are
// marshalled to JSON when the entry is recorded.
type Entry struct {
	ID         uuid.UUID
	ClinicID   uuid.UUID
	ActorID    uuid.UUID
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Before     json.RawMessage
	After      json.RawMessage
	At         time.Time
}

type Repository interface {
	Insert(ctx context.Context, e Entry) error
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]Entry, error)
}

// Recorder writes audit entries on a best-effort basis: a failed write is
// logged and counted, never returned.
type Recorder struct {
	repo    Repository
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewRecorder(repo Repository, clk clock.Clock, logger *zap.Logger, m *metrics.Collector) *Recorder {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{repo: repo, clock: clk, logger: logger, metrics: m}
}

// Record stores a snapshot pair for the entity. before or after may be nil.
func (r *Recorder) Record(ctx context.Context, clinicID, actorID uuid.UUID, action, entityType string, entityID uuid.UUID, before, after any) {
	if r == nil || r.repo == nil {
		return
	}

	e := Entry{
		ID:         uuid.New(),
		ClinicID:   clinicID,
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     r.snapshot(action, before),
		After:      r.snapshot(action, after),
		At:         r.clock.Now(),
	}

	if err := r.repo.Insert(ctx, e); err != nil {
		r.logger.Error("failed to record audit entry",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID.String()),
			zap.Error(err),
		)
		if r.metrics != nil {
			r.metrics.AuditFailures.Inc()
		}
	}
}

func (r *Recorder) snapshot(action string, v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("failed to marshal audit snapshot", zap.String("action", action), zap.Error(err))
		return nil
	}
	return data
}

// MemoryRepository keeps entries in insertion order.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Insert(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRepository) ListByEntity(_ context.Context, entityType string, entityID uuid.UUID) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns a copy of every entry.
func (r *MemoryRepository) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
