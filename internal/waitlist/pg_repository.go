package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation = "23505"
	offerIndex        = "waitlist_one_offer_per_appointment"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const entryCols = `id, clinic_id, patient_id, specialty, preferred_doctor_id, range_start, range_end,
	status, offered_appointment_id, offered_at, offer_expires_at, version, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID,
		&e.ClinicID,
		&e.PatientID,
		&e.Specialty,
		&e.PreferredDoctorID,
		&e.Range.Start,
		&e.Range.End,
		&e.Status,
		&e.OfferedAppointmentID,
		&e.OfferedAt,
		&e.OfferExpiresAt,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	e.Range.Start = Date(e.Range.Start)
	e.Range.End = Date(e.Range.End)
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isOfferViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == offerIndex
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryCols+` FROM waitlist_entries WHERE id = $1`, id)
	return scanEntry(row)
}

func (r *PgRepository) Insert(ctx context.Context, e *Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO waitlist_entries (`+entryCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		e.ID, e.ClinicID, e.PatientID, e.Specialty, e.PreferredDoctorID, e.Range.Start, e.Range.End,
		e.Status, e.OfferedAppointmentID, e.OfferedAt, e.OfferExpiresAt, e.Version, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

func (r *PgRepository) Update(ctx context.Context, e *Entry, expectedVersion int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = $3,
		    offered_appointment_id = $4,
		    offered_at = $5,
		    offer_expires_at = $6,
		    version = $7,
		    updated_at = $8
		WHERE id = $1
		  AND version = $2
	`, e.ID, expectedVersion, e.Status, e.OfferedAppointmentID, e.OfferedAt, e.OfferExpiresAt, e.Version, e.UpdatedAt)
	if err != nil {
		if isOfferViolation(err) {
			return ErrAlreadyOffered
		}
		return fmt.Errorf("update waitlist entry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missOrMismatch(ctx, e.ID)
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID, expectedVersion int) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete waitlist entry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missOrMismatch(ctx, id)
}

func (r *PgRepository) missOrMismatch(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM waitlist_entries WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check waitlist entry: %w", err)
	}
	if !exists {
		return ErrEntryNotFound
	}
	return ErrVersionMismatch
}

func (r *PgRepository) ListWaiting(ctx context.Context, clinicID uuid.UUID) ([]Entry, error) {
	return r.List(ctx, clinicID, []Status{StatusWaiting})
}

func (r *PgRepository) FindOffered(ctx context.Context, appointmentID uuid.UUID) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryCols+`
		FROM waitlist_entries
		WHERE offered_appointment_id = $1
		  AND status = 'offered'
	`, appointmentID)
	return scanEntry(row)
}

func (r *PgRepository) FindExpiredOffers(ctx context.Context, now time.Time) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryCols+`
		FROM waitlist_entries
		WHERE status = 'offered'
		  AND offer_expires_at <= $1
		ORDER BY created_at, id
	`, now)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (r *PgRepository) List(ctx context.Context, clinicID uuid.UUID, statuses []Status) ([]Entry, error) {
	query := `SELECT ` + entryCols + ` FROM waitlist_entries WHERE clinic_id = $1`
	args := []any{clinicID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, statusStrings(statuses))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}
