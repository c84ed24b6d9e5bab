package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophbackup/internal/common"
	"github.com/dmitrijs2005/gophbackup/internal/dbx"
	"github.com/dmitrijs2005/gophbackup/internal/history/migrations"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Repository stores and lists history records.
type Repository interface {
	Start(ctx context.Context, r *Record) error
	Finish(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, limit int) ([]*Record, error)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	return nil
}

// Open opens the SQLite database at dsn and migrates it.
func Open(ctx context.Context, dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; avoids SQLITE_BUSY between callbacks and listings
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLiteRepository(db), nil
}

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) Start(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backup_jobs (id, kind, state, key_fingerprint, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.Kind, rec.State, rec.KeyFingerprint, rec.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert history record %s: %w", rec.ID, err)
	}
	return nil
}

// Finish stores the outcome of a started job.
func (r *SQLiteRepository) Finish(ctx context.Context, rec *Record) error {
	finished := time.Now().UTC()
	if rec.FinishedAt != nil {
		finished = rec.FinishedAt.UTC()
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		err := dbx.ExecAffectingOne(ctx, tx, `
			UPDATE backup_jobs
			SET state = ?, manifest_record = ?, database_items = ?, attachment_items = ?,
			    error = ?, key_fingerprint = COALESCE(NULLIF(?, ''), key_fingerprint), finished_at = ?
			WHERE id = ?
		`, rec.State, rec.ManifestRecord, rec.DatabaseItems, rec.AttachmentItems,
			rec.Error, rec.KeyFingerprint, finished, rec.ID)
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("history record %s: %w", rec.ID, err)
		}
		return err
	})
}

const selectColumns = `id, kind, state, manifest_record, database_items, attachment_items,
	error, key_fingerprint, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec      Record
		finished sql.NullTime
	)
	err := s.Scan(&rec.ID, &rec.Kind, &rec.State, &rec.ManifestRecord, &rec.DatabaseItems,
		&rec.AttachmentItems, &rec.Error, &rec.KeyFingerprint, &rec.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM backup_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history record %s: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history record %s: %w", id, err)
	}
	return rec, nil
}

// List returns the newest records first. limit <= 0 means no limit.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM backup_jobs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	return out, nil
}
