package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mediarelay/fetchbot/internal/model"
)

func testTask(id string, owner int64, url string) model.Task {
	return model.Task{
		ID:      id,
		OwnerID: owner,
		Spec: model.TaskSpec{
			SourceURL:   url,
			Kind:        model.KindVideo,
			Quality:     "720",
			DesiredName: "clip " + id,
		},
		State:     model.StateQueued,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for _, backend := range []string{"json", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snapshot.db")

			s, err := Open(backend, path)
			if err != nil {
				t.Fatalf("Open(%q) error: %v", backend, err)
			}

			tasks := []model.Task{
				testTask("t1", 10, "https://example.com/1"),
				testTask("t2", 10, "https://example.com/2"),
				testTask("t3", 10, "https://example.com/3"),
				testTask("u1", 20, "https://example.com/4"),
			}
			for _, task := range tasks {
				if err := s.Append(task); err != nil {
					t.Fatalf("Append(%s) error: %v", task.ID, err)
				}
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close() error: %v", err)
			}

			// Reopen as a restarted process would.
			s, err = Open(backend, path)
			if err != nil {
				t.Fatalf("reopen error: %v", err)
			}
			defer s.Close()

			if err := s.Ping(); err != nil {
				t.Fatalf("Ping() error: %v", err)
			}

			queues, err := s.Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}

			if len(queues) != 2 {
				t.Fatalf("Load() returned %d owners, expected 2", len(queues))
			}
			wantOrder := []string{"t1", "t2", "t3"}
			got := queues[10]
			if len(got) != len(wantOrder) {
				t.Fatalf("owner 10 has %d tasks, expected %d", len(got), len(wantOrder))
			}
			for i, id := range wantOrder {
				if got[i].ID != id {
					t.Errorf("owner 10 task[%d] = %s, expected %s", i, got[i].ID, id)
				}
			}

			restored := got[1]
			original := tasks[1]
			if restored.Spec != original.Spec {
				t.Errorf("restored spec = %+v, expected %+v", restored.Spec, original.Spec)
			}
			if restored.State != model.StateQueued {
				t.Errorf("restored state = %s, expected QUEUED", restored.State)
			}
			if !restored.CreatedAt.Equal(original.CreatedAt) {
				t.Errorf("restored created_at = %v, expected %v", restored.CreatedAt, original.CreatedAt)
			}
		})
	}
}

func TestStoreRemoveKeepsOrder(t *testing.T) {
	for _, backend := range []string{"json", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snapshot.db")

			s, err := Open(backend, path)
			if err != nil {
				t.Fatalf("Open(%q) error: %v", backend, err)
			}
			defer s.Close()

			for _, id := range []string{"t1", "t2", "t3"} {
				if err := s.Append(testTask(id, 10, "https://example.com/"+id)); err != nil {
					t.Fatalf("Append(%s) error: %v", id, err)
				}
			}

			if err := s.Remove(10, "t2"); err != nil {
				t.Fatalf("Remove(t2) error: %v", err)
			}

			queues, err := s.Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			got := queues[10]
			if len(got) != 2 || got[0].ID != "t1" || got[1].ID != "t3" {
				t.Fatalf("after Remove, owner 10 = %+v, expected [t1 t3]", got)
			}

			s.Remove(10, "t1")
			s.Remove(10, "t3")
			queues, err = s.Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if len(queues[10]) != 0 {
				t.Errorf("after removing all, owner 10 still has %d tasks", len(queues[10]))
			}
		})
	}
}

func TestStoreClearOwner(t *testing.T) {
	for _, backend := range []string{"json", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snapshot.db")

			s, err := Open(backend, path)
			if err != nil {
				t.Fatalf("Open(%q) error: %v", backend, err)
			}
			defer s.Close()

			s.Append(testTask("t1", 10, "https://example.com/1"))
			s.Append(testTask("t2", 10, "https://example.com/2"))
			s.Append(testTask("u1", 20, "https://example.com/3"))

			if err := s.ClearOwner(10); err != nil {
				t.Fatalf("ClearOwner(10) error: %v", err)
			}

			queues, err := s.Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if len(queues[10]) != 0 {
				t.Errorf("owner 10 still has %d tasks after ClearOwner", len(queues[10]))
			}
			if len(queues[20]) != 1 || queues[20][0].ID != "u1" {
				t.Errorf("owner 20 = %+v, expected untouched [u1]", queues[20])
			}
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("etcd", "ignored"); err == nil {
		t.Error("Open(etcd) = nil error, expected failure")
	}
}
