package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/lib/pq"
)

const schema = `CREATE TABLE IF NOT EXISTS rooms (
	code             TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	created_by       TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	ended_at         TIMESTAMPTZ,
	status           TEXT NOT NULL,
	max_participants INTEGER NOT NULL
)`

const upsertRoom = `INSERT INTO rooms (code, title, description, created_by, created_at, ended_at, status, max_participants)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (code) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	created_by = EXCLUDED.created_by,
	ended_at = EXCLUDED.ended_at,
	status = EXCLUDED.status,
	max_participants = EXCLUDED.max_participants`

const selectRoom = `SELECT code, title, description, created_by, created_at, ended_at, status, max_participants
FROM rooms WHERE code = $1`

// NewPostgresDB opens and pings a lib/pq connection pool.
func NewPostgresDB(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

type PostgresStore struct {
	db *sql.DB
}

var _ core.RoomStore = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create rooms table: %w", pgErr(err))
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec core.RoomRecord) error {
	_, err := s.db.ExecContext(ctx, upsertRoom,
		string(rec.Code),
		rec.Title,
		rec.Description,
		string(rec.CreatedBy),
		rec.CreatedAt,
		nullTime(rec),
		string(rec.Status),
		rec.MaxParticipants,
	)
	if err != nil {
		return fmt.Errorf("upsert room %s: %w", rec.Code, pgErr(err))
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, code domain.RoomCode) (core.RoomRecord, error) {
	var (
		rec     core.RoomRecord
		endedAt sql.NullTime
		status  string
	)
	err := s.db.QueryRowContext(ctx, selectRoom, string(code)).Scan(
		&rec.Code,
		&rec.Title,
		&rec.Description,
		&rec.CreatedBy,
		&rec.CreatedAt,
		&endedAt,
		&status,
		&rec.MaxParticipants,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RoomRecord{}, core.ErrRecordNotFound
	}
	if err != nil {
		return core.RoomRecord{}, fmt.Errorf("select room %s: %w", code, pgErr(err))
	}
	rec.Status = domain.RoomStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	return rec, nil
}

func nullTime(rec core.RoomRecord) sql.NullTime {
	if rec.EndedAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *rec.EndedAt, Valid: true}
}

// pgErr adds the SQLSTATE to server errors.
func pgErr(err error) error {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return fmt.Errorf("%s (%s): %w", pe.Message, pe.Code, err)
	}
	return err
}
