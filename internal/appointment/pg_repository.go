package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE exclusion_violation, raised by appointments_no_overlap.
const pgExclusionViolation = "23P01"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentCols = `id, clinic_id, doctor_id, patient_id, booked_by, start_at, end_at,
	duration_minutes, kind, insurance, notes, status, history, cancellation,
	confirmed_at, confirmation_requested_at, completed_at, version, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var insurance, history, cancellation []byte

	err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.DoctorID,
		&a.PatientID,
		&a.BookedBy,
		&a.Start,
		&a.End,
		&a.DurationMinutes,
		&a.Kind,
		&insurance,
		&a.Notes,
		&a.Status,
		&history,
		&cancellation,
		&a.ConfirmedAt,
		&a.ConfirmationRequestedAt,
		&a.CompletedAt,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if len(insurance) > 0 {
		a.Insurance = &Insurance{}
		if err := json.Unmarshal(insurance, a.Insurance); err != nil {
			return nil, fmt.Errorf("decode insurance: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &a.History); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	}
	if len(cancellation) > 0 {
		a.Cancellation = &Cancellation{}
		if err := json.Unmarshal(cancellation, a.Cancellation); err != nil {
			return nil, fmt.Errorf("decode cancellation: %w", err)
		}
	}

	a.Start = a.Start.UTC()
	a.End = a.End.UTC()
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// jsonb encodes v, mapping nil pointers to SQL NULL.
func jsonb[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation
}

func activeStatusStrings() []string {
	out := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Insert(ctx context.Context, a *Appointment) error {
	insurance, err := jsonb(a.Insurance)
	if err != nil {
		return fmt.Errorf("encode insurance: %w", err)
	}
	history, err := json.Marshal(a.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	cancellation, err := jsonb(a.Cancellation)
	if err != nil {
		return fmt.Errorf("encode cancellation: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO appointments (`+appointmentCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		a.ID, a.ClinicID, a.DoctorID, a.PatientID, a.BookedBy, a.Start, a.End,
		a.DurationMinutes, a.Kind, insurance, a.Notes, a.Status, history, cancellation,
		a.ConfirmedAt, a.ConfirmationRequestedAt, a.CompletedAt, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isExclusionViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) Update(ctx context.Context, a *Appointment, expectedVersion int) error {
	history, err := json.Marshal(a.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	cancellation, err := jsonb(a.Cancellation)
	if err != nil {
		return fmt.Errorf("encode cancellation: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET patient_id = $3,
		    start_at = $4,
		    end_at = $5,
		    duration_minutes = $6,
		    status = $7,
		    history = $8,
		    cancellation = $9,
		    confirmed_at = $10,
		    confirmation_requested_at = $11,
		    completed_at = $12,
		    version = $13,
		    updated_at = $14
		WHERE id = $1
		  AND version = $2
	`,
		a.ID, expectedVersion, a.PatientID, a.Start, a.End, a.DurationMinutes, a.Status,
		history, cancellation, a.ConfirmedAt, a.ConfirmationRequestedAt, a.CompletedAt,
		a.Version, a.UpdatedAt,
	)
	if err != nil {
		if isExclusionViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check appointment: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionMismatch
}

func (r *PgRepository) FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = ANY($2)
		  AND start_at < $4
		  AND end_at > $3
		  AND id <> $5
		ORDER BY start_at
	`, doctorID, activeStatusStrings(), start, end, excludeID)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Appointment, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ClinicID != nil {
		add("clinic_id = $%d", *f.ClinicID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if !f.To.IsZero() {
		add("start_at < $%d", f.To)
	}
	if !f.From.IsZero() {
		add("end_at > $%d", f.From)
	}

	query := `SELECT ` + appointmentCols + ` FROM appointments`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY start_at, created_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}
