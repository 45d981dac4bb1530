package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS evaluations (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	version           INTEGER NOT NULL,
	supersedes        TEXT REFERENCES evaluations(id),
	schema_version    INTEGER NOT NULL,
	industry          TEXT NOT NULL,
	facts             TEXT NOT NULL,
	valuation         TEXT,
	insufficient_data INTEGER NOT NULL DEFAULT 0,
	data_confidence   REAL NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	deleted_at        TEXT,
	deleted_by        TEXT
);
CREATE INDEX IF NOT EXISTS idx_evaluations_owner ON evaluations(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_evaluations_supersedes ON evaluations(supersedes);

CREATE TABLE IF NOT EXISTS opportunities (
	id             TEXT PRIMARY KEY,
	evaluation_id  TEXT NOT NULL REFERENCES evaluations(id),
	rank           INTEGER NOT NULL,
	driver         TEXT NOT NULL,
	category       TEXT NOT NULL,
	description    TEXT NOT NULL,
	current_value  REAL NOT NULL,
	target_value   REAL NOT NULL,
	impact_low     REAL NOT NULL,
	impact_mid     REAL NOT NULL,
	impact_high    REAL NOT NULL,
	gap_confidence REAL NOT NULL,
	priority       REAL NOT NULL,
	based_on       TEXT NOT NULL,
	methodology    TEXT NOT NULL,
	deleted_at     TEXT,
	UNIQUE (evaluation_id, driver)
);

CREATE TABLE IF NOT EXISTS improvement_progress (
	evaluation_id   TEXT NOT NULL REFERENCES evaluations(id),
	opportunity_id  TEXT NOT NULL REFERENCES opportunities(id),
	status          TEXT NOT NULL,
	completed_at    TEXT,
	observed_impact REAL,
	updated_at      TEXT NOT NULL,
	deleted_at      TEXT,
	PRIMARY KEY (evaluation_id, opportunity_id)
);
`

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
