package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-scheduling/internal/query"
)

const appointmentColumns = `id, start_at, end_at, duration_minutes,
	doctor_uid, doctor_name, doctor_email,
	patient_uid, patient_name, patient_email,
	status, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.Start,
		&a.End,
		&a.DurationMinutes,
		&a.Doctor.UID,
		&a.Doctor.Name,
		&a.Doctor.Email,
		&a.Patient.UID,
		&a.Patient.Name,
		&a.Patient.Email,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Start = a.Start.UTC()
	a.End = a.End.UTC()
	return &a, nil
}

// Upsert relies on the conditional DO UPDATE: when the WHERE does not hold
// no row is returned and the write is refused.
func (r *PgRepository) Upsert(ctx context.Context, a *Appointment) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, start_at, end_at, duration_minutes,
			doctor_uid, doctor_name, doctor_email,
			patient_uid, patient_name, patient_email,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET start_at = EXCLUDED.start_at,
		    end_at = EXCLUDED.end_at,
		    duration_minutes = EXCLUDED.duration_minutes,
		    doctor_uid = EXCLUDED.doctor_uid,
		    doctor_name = EXCLUDED.doctor_name,
		    doctor_email = EXCLUDED.doctor_email,
		    patient_uid = EXCLUDED.patient_uid,
		    patient_name = EXCLUDED.patient_name,
		    patient_email = EXCLUDED.patient_email,
		    status = EXCLUDED.status,
		    updated_at = now()
		WHERE appointments.patient_uid = EXCLUDED.patient_uid
		   OR appointments.status = 'cancelled'
		RETURNING created_at, updated_at
	`, a.ID, a.Start, a.End, a.DurationMinutes,
		a.Doctor.UID, a.Doctor.Name, a.Doctor.Email,
		a.Patient.UID, a.Patient.Name, a.Patient.Email,
		a.Status)

	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotAlreadyBooked
		}
		return fmt.Errorf("upsert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindMany(ctx context.Context, list query.List, participantUID string) ([]Appointment, error) {
	args := []any{participantUID}
	where := []string{"($1 = '' OR doctor_uid = $1 OR patient_uid = $1)"}
	for _, c := range list.Filter {
		args = append(args, c.Value)
		where = append(where, fmt.Sprintf("%s = $%d", c.Column, len(args)))
	}
	args = append(args, list.Page.Limit(), list.Page.Offset())

	sql := `SELECT ` + appointmentColumns + ` FROM appointments WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY start_at, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Appointment{}
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

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}
