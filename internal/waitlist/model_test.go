package waitlist

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/roster"
)

func TestDateRangeIsInclusive(t *testing.T) {
	r := DateRange{Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)}

	assert.True(t, r.Contains(Date(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))))
	assert.True(t, r.Contains(Date(time.Date(2025, 3, 31, 23, 59, 0, 0, time.UTC))))
	assert.False(t, r.Contains(Date(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))))
	assert.False(t, r.Contains(Date(time.Date(2025, 2, 28, 23, 59, 0, 0, time.UTC))))
}

func TestEligibility(t *testing.T) {
	doc := roster.Doctor{ID: uuid.New(), Specialties: []string{"Cardiology"}}
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	base := Entry{
		Status:    StatusWaiting,
		Specialty: "cardiology",
		Range:     DateRange{Start: Date(start), End: Date(start)},
	}

	assert.True(t, base.Eligible(doc, start, time.UTC))

	offered := base
	offered.Status = StatusOffered
	assert.False(t, offered.Eligible(doc, start, time.UTC))

	other := uuid.New()
	preferring := base
	preferring.PreferredDoctorID = &other
	assert.False(t, preferring.Eligible(doc, start, time.UTC))
	preferring.PreferredDoctorID = &doc.ID
	assert.True(t, preferring.Eligible(doc, start, time.UTC))

	assert.False(t, base.Eligible(doc, start.Add(24*time.Hour), time.UTC))
}

func TestTransitionsBumpVersion(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	e := Entry{ID: uuid.New(), Status: StatusWaiting, Version: 1}
	appt := uuid.New()

	o := offer(e, appt, now, 15*time.Minute)
	assert.Equal(t, StatusOffered, o.Status)
	assert.Equal(t, 2, o.Version)
	assert.Equal(t, now.Add(15*time.Minute), *o.OfferExpiresAt)
	assert.False(t, o.OfferLapsed(now.Add(15*time.Minute-time.Nanosecond)))
	assert.True(t, o.OfferLapsed(now.Add(15*time.Minute)))

	x := expire(o, now)
	assert.Equal(t, StatusExpired, x.Status)
	assert.Equal(t, appt, *x.OfferedAppointmentID)
	assert.Equal(t, 3, x.Version)

	// the input is never modified
	assert.Equal(t, StatusWaiting, e.Status)
	assert.Nil(t, e.OfferedAppointmentID)
}

func TestMemoryRepositoryRejectsSecondOffer(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()
	appt := uuid.New()

	a := Entry{ID: uuid.New(), Status: StatusWaiting, Version: 1, CreatedAt: now}
	b := Entry{ID: uuid.New(), Status: StatusWaiting, Version: 1, CreatedAt: now.Add(time.Second)}
	require.NoError(t, repo.Insert(ctx, &a))
	require.NoError(t, repo.Insert(ctx, &b))

	oa := offer(a, appt, now, time.Minute)
	require.NoError(t, repo.Update(ctx, &oa, 1))

	ob := offer(b, appt, now, time.Minute)
	assert.ErrorIs(t, repo.Update(ctx, &ob, 1), ErrAlreadyOffered)

	assert.ErrorIs(t, repo.Update(ctx, &oa, 1), ErrVersionMismatch)

	held, err := repo.FindOffered(ctx, appt)
	require.NoError(t, err)
	assert.Equal(t, a.ID, held.ID)

	lapsed, err := repo.FindExpiredOffers(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, lapsed, 1)
	assert.Equal(t, a.ID, lapsed[0].ID)
}
