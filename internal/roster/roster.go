// Package roster is the read-only view of a clinic's doctors used for
// waitlist matching.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrDoctorNotFound = errors.New("doctor not found")

type Doctor struct {
	ID          uuid.UUID `json:"id"`
	ClinicID    uuid.UUID `json:"clinic_id"`
	Name        string    `json:"name"`
	Specialties []string  `json:"specialties"`
	Active      bool      `json:"active"`
}

// HasSpecialty compares case-insensitively.
func (d Doctor) HasSpecialty(specialty string) bool {
	for _, s := range d.Specialties {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(specialty)) {
			return true
		}
	}
	return false
}

type Directory interface {
	Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

type MemoryDirectory struct {
	mu      sync.RWMutex
	doctors map[uuid.UUID]Doctor
}

func NewMemoryDirectory(doctors ...Doctor) *MemoryDirectory {
	d := &MemoryDirectory{doctors: make(map[uuid.UUID]Doctor)}
	for _, doc := range doctors {
		d.Put(doc)
	}
	return d
}

func (d *MemoryDirectory) Put(doc Doctor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc.Specialties = append([]string(nil), doc.Specialties...)
	d.doctors[doc.ID] = doc
}

func (d *MemoryDirectory) Doctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	doc.Specialties = append([]string(nil), doc.Specialties...)
	return &doc, nil
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id, clinic_id, name, specialties, active
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.ClinicID, &d.Name, &d.Specialties, &d.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return &d, nil
}

// Upsert is used by cmd/seed.
func (r *PgRepository) Upsert(ctx context.Context, d Doctor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (id, clinic_id, name, specialties, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    specialties = EXCLUDED.specialties,
		    active = EXCLUDED.active,
		    updated_at = now()
	`, d.ID, d.ClinicID, d.Name, d.Specialties, d.Active)
	if err != nil {
		return fmt.Errorf("upsert doctor: %w", err)
	}
	return nil
}

func (r *PgRepository) ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, clinic_id, name, specialties, active
		FROM doctors
		WHERE clinic_id = $1
		ORDER BY name
	`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.ClinicID, &d.Name, &d.Specialties, &d.Active); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
