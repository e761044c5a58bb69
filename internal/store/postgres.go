package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/mediarelay/fetchbot/internal/model"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS queued_tasks (
	seq          BIGSERIAL PRIMARY KEY,
	task_id      TEXT NOT NULL UNIQUE,
	owner_id     BIGINT NOT NULL,
	source_url   TEXT NOT NULL,
	kind         TEXT NOT NULL,
	quality      TEXT NOT NULL DEFAULT '',
	desired_name TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queued_tasks_owner ON queued_tasks(owner_id);
`

// postgresStore keeps the snapshot in a shared PostgreSQL database, for
// hosts without a disk that survives redeploys. Row order (seq) is
// insertion order, which is the per-owner processing order.
type postgresStore struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping snapshot db: %w", err)
	}
	if _, err := db.Exec(pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	return &postgresStore{db: db}, nil
}

func (s *postgresStore) Append(task model.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO queued_tasks (task_id, owner_id, source_url, kind, quality, desired_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, task.ID, task.OwnerID, task.Spec.SourceURL, string(task.Spec.Kind), task.Spec.Quality, task.Spec.DesiredName, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("persist task %s: %w", task.ID, err)
	}
	return nil
}

func (s *postgresStore) Remove(ownerID int64, taskID string) error {
	_, err := s.db.Exec(`DELETE FROM queued_tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("remove task %s: %w", taskID, err)
	}
	return nil
}

func (s *postgresStore) ClearOwner(ownerID int64) error {
	_, err := s.db.Exec(`DELETE FROM queued_tasks WHERE owner_id = $1`, ownerID)
	if err != nil {
		return fmt.Errorf("clear owner %d: %w", ownerID, err)
	}
	return nil
}

func (s *postgresStore) Load() (map[int64][]model.Task, error) {
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

func (s *postgresStore) Ping() error {
	return s.db.Ping()
}

func (s *postgresStore) Close() error {
	return s.db.Close()
}
