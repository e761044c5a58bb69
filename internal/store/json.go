package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/mediarelay/fetchbot/internal/model"
)

// jsonStore keeps the snapshot in a single JSON file keyed by owner id.
// Every mutation rewrites the whole file through a temp-file rename, so a
// crash mid-write leaves the previous snapshot intact.
type jsonStore struct {
	mu     sync.Mutex
	path   string
	queues map[int64][]model.Task
}

func OpenJSON(path string) (Store, error) {
	s := &jsonStore{
		path:   path,
		queues: make(map[int64][]model.Task),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	raw := make(map[string][]model.Task)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	for key, tasks := range raw {
		owner, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot owner %q: %w", key, err)
		}
		for i := range tasks {
			tasks[i].OwnerID = owner
			tasks[i].State = model.StateQueued
		}
		s.queues[owner] = tasks
	}
	return s, nil
}

func (s *jsonStore) Append(task model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queues[task.OwnerID] = append(s.queues[task.OwnerID], task)
	return s.flushLocked()
}

func (s *jsonStore) Remove(ownerID int64, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.queues[ownerID]
	for i, t := range tasks {
		if t.ID == taskID {
			s.queues[ownerID] = append(tasks[:i:i], tasks[i+1:]...)
			break
		}
	}
	if len(s.queues[ownerID]) == 0 {
		delete(s.queues, ownerID)
	}
	return s.flushLocked()
}

func (s *jsonStore) ClearOwner(ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queues, ownerID)
	return s.flushLocked()
}

func (s *jsonStore) Load() (map[int64][]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64][]model.Task, len(s.queues))
	for owner, tasks := range s.queues {
		out[owner] = append([]model.Task(nil), tasks...)
	}
	return out, nil
}

// Ping confirms the snapshot's directory still exists; the file itself
// is recreated on every flush.
func (s *jsonStore) Ping() error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	return nil
}

func (s *jsonStore) Close() error { return nil }

// flushLocked writes the snapshot atomically: temp file, then rename.
func (s *jsonStore) flushLocked() error {
	raw := make(map[string][]model.Task, len(s.queues))
	for owner, tasks := range s.queues {
		raw[strconv.FormatInt(owner, 10)] = tasks
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
