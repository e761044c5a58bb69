package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mediarelay/fetchbot/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS queued_tasks (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id      TEXT NOT NULL UNIQUE,
	owner_id     INTEGER NOT NULL,
	source_url   TEXT NOT NULL,
	kind         TEXT NOT NULL,
	quality      TEXT NOT NULL DEFAULT '',
	desired_name TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queued_tasks_owner ON queued_tasks(owner_id);
`

// sqliteStore keeps the snapshot in a local SQLite database. Row order
// (seq) is insertion order, which is the per-owner processing order.
type sqliteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping snapshot db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}

	// Single writer; the driver serializes access to one connection.
	db.SetMaxOpenConns(1)

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Append(task model.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO queued_tasks (task_id, owner_id, source_url, kind, quality, desired_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.OwnerID, task.Spec.SourceURL, string(task.Spec.Kind), task.Spec.Quality, task.Spec.DesiredName, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("persist task %s: %w", task.ID, err)
	}
	return nil
}

func (s *sqliteStore) Remove(ownerID int64, taskID string) error {
	_, err := s.db.Exec(`DELETE FROM queued_tasks WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("remove task %s: %w", taskID, err)
	}
	return nil
}

func (s *sqliteStore) ClearOwner(ownerID int64) error {
	_, err := s.db.Exec(`DELETE FROM queued_tasks WHERE owner_id = ?`, ownerID)
	if err != nil {
		return fmt.Errorf("clear owner %d: %w", ownerID, err)
	}
	return nil
}

func (s *sqliteStore) Load() (map[int64][]model.Task, error) {
	rows, err := s.db.Query(`
		SELECT task_id, owner_id, source_url, kind, quality, desired_name, created_at
		FROM queued_tasks
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	queues := make(map[int64][]model.Task)
	for rows.Next() {
		var t model.Task
		var kind string
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Spec.SourceURL, &kind, &t.Spec.Quality, &t.Spec.DesiredName, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		t.Spec.Kind = model.OutputKind(kind)
		t.State = model.StateQueued
		queues[t.OwnerID] = append(queues[t.OwnerID], t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot rows: %w", err)
	}
	return queues, nil
}

func (s *sqliteStore) Ping() error {
	return s.db.Ping()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
