//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"zvonbot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id       INTEGER PRIMARY KEY,
	owner_id INTEGER NOT NULL,
	target   TEXT    NOT NULL,
	kind     TEXT    NOT NULL,
	payload  BLOB,
	due_at   TEXT    NOT NULL,
	every    TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, due_at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, fmt.Errorf("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Single writer; the registry already serializes saves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Load(ctx context.Context) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner_id, target, kind, payload, due_at, every FROM tasks ORDER BY owner_id, due_at`)
	if err != nil {
		s.log.Warn("sqlite load failed; starting empty", logx.Err(err))
		return nil, nil
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var (
			r     TaskRecord
			due   string
			blob  []byte
			every string
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Target, &r.Kind, &blob, &due, &every); err != nil {
			s.log.Warn("skipping unreadable task row", logx.Err(err))
			continue
		}
		at, err := time.Parse(time.RFC3339, due)
		if err != nil {
			s.log.Warn("skipping task row with invalid due time", logx.Int64("id", r.ID), logx.String("due_at", due))
			continue
		}
		r.DueAt = at
		r.Every = every
		if len(blob) > 0 {
			r.Payload = json.RawMessage(blob)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("sqlite scan ended early", logx.Err(err))
	}
	return out, nil
}

func (s *sqliteStore) Save(ctx context.Context, recs []TaskRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tasks (id, owner_id, target, kind, payload, due_at, every) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		var blob []byte
		if len(r.Payload) > 0 {
			blob = []byte(r.Payload)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.OwnerID, r.Target, r.Kind, blob, r.DueAt.Format(time.RFC3339), r.Every); err != nil {
			return err
		}
	}
	return tx.Commit()
}
