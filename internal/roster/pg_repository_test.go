package roster

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

// Runs against a real database only when TEST_POSTGRES_DSN is set.
func newPgRepository(t *testing.T) *PgRepository {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, pool)
	require.NoError(t, err)

	return NewPgRepository(pool)
}

func TestPgRepositoryListByClinic(t *testing.T) {
	repo := newPgRepository(t)
	ctx := context.Background()

	clinicID := uuid.New()
	zed := Doctor{ID: uuid.New(), ClinicID: clinicID, Name: "Dr. Zed", Specialties: []string{"Cardiology"}, Active: true}
	amy := Doctor{ID: uuid.New(), ClinicID: clinicID, Name: "Dr. Amy", Specialties: []string{"Dermatology", "Pediatrics"}, Active: true}
	other := Doctor{ID: uuid.New(), ClinicID: uuid.New(), Name: "Dr. Elsewhere", Specialties: []string{"Cardiology"}, Active: true}
	for _, d := range []Doctor{zed, amy, other} {
		require.NoError(t, repo.Upsert(ctx, d))
	}

	got, err := repo.ListByClinic(ctx, clinicID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, amy.ID, got[0].ID)
	assert.Equal(t, []string{"Dermatology", "Pediatrics"}, got[0].Specialties)
	assert.Equal(t, zed.ID, got[1].ID)

	// upsert replaces in place
	zed.Active = false
	require.NoError(t, repo.Upsert(ctx, zed))
	got, err = repo.ListByClinic(ctx, clinicID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[1].Active)

	none, err := repo.ListByClinic(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}
