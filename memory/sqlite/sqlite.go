// Package sqlite implements memory.Log on a pure-Go SQLite file.
//
// Rows are kept in insertion order (rowid) and mirrored in a
// memory.RecordIndex on open, so queries never touch the database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/dossier/memory"
	_ "modernc.org/sqlite"
)

// Log is a memory.Log backed by a single SQLite table.
type Log struct {
	*memory.RecordIndex
	db     *sql.DB
	logger *slog.Logger
}

var _ memory.Log = (*Log)(nil)

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the structured logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Log) { s.logger = l }
}

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Open opens (creating if needed) the database at dbPath and loads every
// fact into memory. A single connection serializes writers.
func Open(ctx context.Context, dbPath string, opts ...Option) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)
	l := &Log{RecordIndex: memory.NewRecordIndex(), db: db, logger: nopLogger}
	for _, o := range opts {
		o(l)
	}
	if err := l.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := l.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	l.logger.Debug("sqlite: memory log opened", "path", dbPath, "records", l.Len())
	return l, nil
}

func (l *Log) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_log (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			speaker_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			text TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_log_speaker ON memory_log(speaker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_log_entity ON memory_log(entity_id)`,
	}
	for _, ddl := range stmts {
		if _, err := l.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table: %w", err)
		}
	}
	return nil
}

func (l *Log) load(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, timestamp, speaker_id, entity_id, text FROM memory_log ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("sqlite: load: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec memory.Record
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.SpeakerID, &rec.EntityID, &rec.Text); err != nil {
			return fmt.Errorf("sqlite: scan: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = t
		} else {
			l.logger.Warn("sqlite: unparseable timestamp", "id", rec.ID, "value", ts)
		}
		l.Add(rec)
	}
	return rows.Err()
}

// Append inserts rec in its own transaction and indexes it once committed.
func (l *Log) Append(ctx context.Context, rec memory.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memory_log (id, timestamp, speaker_id, entity_id, text) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.SpeakerID, rec.EntityID, rec.Text)
	if err != nil {
		return fmt.Errorf("sqlite: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	l.Add(rec)
	return nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}
