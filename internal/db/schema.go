package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The exclusion constraint is the atomic half of the overlap rule: two slots
// of one owner can never both commit with intersecting [start, end) ranges.
const schema = `
CREATE EXTENSION IF NOT EXISTS btree_gist;

CREATE TABLE IF NOT EXISTS time_slots (
	id               uuid PRIMARY KEY,
	owner_uid        text        NOT NULL,
	owner_name       text        NOT NULL DEFAULT '',
	owner_email      text        NOT NULL DEFAULT '',
	start_at         timestamptz NOT NULL,
	end_at           timestamptz NOT NULL,
	duration_minutes integer     NOT NULL,
	status           text        NOT NULL DEFAULT 'free',
	created_at       timestamptz NOT NULL DEFAULT now(),
	updated_at       timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT time_slots_interval_chk CHECK (start_at < end_at),
	CONSTRAINT time_slots_no_overlap EXCLUDE USING gist (
		owner_uid WITH =,
		tstzrange(start_at, end_at, '[)') WITH &&
	)
);

CREATE INDEX IF NOT EXISTS time_slots_status_idx ON time_slots (status);

CREATE TABLE IF NOT EXISTS appointments (
	id               uuid PRIMARY KEY,
	start_at         timestamptz NOT NULL,
	end_at           timestamptz NOT NULL,
	duration_minutes integer     NOT NULL,
	doctor_uid       text        NOT NULL,
	doctor_name      text        NOT NULL DEFAULT '',
	doctor_email     text        NOT NULL DEFAULT '',
	patient_uid      text        NOT NULL,
	patient_name     text        NOT NULL DEFAULT '',
	patient_email    text        NOT NULL DEFAULT '',
	status           text        NOT NULL,
	created_at       timestamptz NOT NULL DEFAULT now(),
	updated_at       timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS appointments_doctor_idx ON appointments (doctor_uid);
CREATE INDEX IF NOT EXISTS appointments_patient_idx ON appointments (patient_uid);
CREATE INDEX IF NOT EXISTS appointments_status_idx ON appointments (status);
`

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
