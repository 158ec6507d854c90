package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-scheduling/internal/query"
)

// exclusion_violation raised by time_slots_no_overlap.
const pgExclusionViolation = "23P01"

const slotColumns = `id, owner_uid, owner_name, owner_email, start_at, end_at, duration_minutes, status, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot

	err := row.Scan(
		&s.ID,
		&s.Owner.UID,
		&s.Owner.Name,
		&s.Owner.Email,
		&s.Start,
		&s.End,
		&s.DurationMinutes,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Start = s.Start.UTC()
	s.End = s.End.UTC()
	return &s, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return ErrSlotOverlap
	}
	return err
}

func (r *PgRepository) Create(ctx context.Context, slot *TimeSlot) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO time_slots (id, owner_uid, owner_name, owner_email, start_at, end_at, duration_minutes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING created_at, updated_at
	`, slot.ID, slot.Owner.UID, slot.Owner.Name, slot.Owner.Email, slot.Start, slot.End, slot.DurationMinutes, slot.Status)

	if err := row.Scan(&slot.CreatedAt, &slot.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (r *PgRepository) FindByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

// FindMany renders the whitelisted filter columns into the WHERE clause;
// values are always bound as parameters.
func (r *PgRepository) FindMany(ctx context.Context, list query.List) ([]TimeSlot, error) {
	var (
		where []string
		args  []any
	)
	for _, c := range list.Filter {
		args = append(args, c.Value)
		where = append(where, fmt.Sprintf("%s = $%d", c.Column, len(args)))
	}

	sql := `SELECT ` + slotColumns + ` FROM time_slots`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, list.Page.Limit(), list.Page.Offset())
	sql += fmt.Sprintf(` ORDER BY start_at, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []TimeSlot{}
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) Update(ctx context.Context, id uuid.UUID, patch Patch) (*TimeSlot, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	if patch.Interval != nil {
		args = append(args, patch.Interval.Start, patch.Interval.End, patch.Interval.Minutes())
		sets = append(sets,
			fmt.Sprintf("start_at = $%d", len(args)-2),
			fmt.Sprintf("end_at = $%d", len(args)-1),
			fmt.Sprintf("duration_minutes = $%d", len(args)),
		)
	}
	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE time_slots
		SET `+strings.Join(sets, ", ")+`
		WHERE id = $1
		RETURNING `+slotColumns, args...)

	slot, err := scanSlot(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return slot, nil
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM time_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) FindOverlapping(ctx context.Context, ownerUID string, iv Interval) ([]TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE owner_uid = $1
		  AND start_at < $3
		  AND end_at > $2
	`, ownerUID, iv.Start, iv.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
