package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults and ensures the
// schema exists. The returned wrapper is never nil, so callers that log and
// limp on after a connection failure can still Close it safely.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return &DB{}, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		return &DB{Client: db}, err
	}
	if err := migrate(db); err != nil {
		return &DB{Client: db}, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Client: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		email      TEXT UNIQUE NOT NULL,
		role       TEXT NOT NULL DEFAULT 'student',
		image_url  TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS courses (
		id            TEXT PRIMARY KEY,
		title         TEXT NOT NULL,
		thumbnail_url TEXT NOT NULL DEFAULT '',
		teacher_id    TEXT NOT NULL REFERENCES users(id),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id          TEXT PRIMARY KEY,
		course_id   TEXT NOT NULL REFERENCES courses(id),
		student_id  TEXT NOT NULL REFERENCES users(id),
		marked_date DATE NOT NULL,
		status      TEXT NOT NULL DEFAULT 'not-marked',
		note        TEXT NOT NULL DEFAULT '',
		marked_by   TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (course_id, student_id, marked_date)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_course_date ON attendance_records(course_id, marked_date);
	CREATE INDEX IF NOT EXISTS idx_attendance_student     ON attendance_records(student_id);

	CREATE TABLE IF NOT EXISTS newsletter_subscribers (
		email      TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
