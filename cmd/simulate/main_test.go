package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPatientsAreDistinctRandomIDs(t *testing.T) {
	patients := newPatients(500)
	require.Len(t, patients, 500)

	seen := make(map[uuid.UUID]struct{}, len(patients))
	for _, id := range patients {
		assert.NotEqual(t, uuid.Nil, id)
		assert.Equal(t, uuid.Version(4), id.Version())
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 500)

	assert.Empty(t, newPatients(0))
}
