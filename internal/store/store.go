package store

import (
	"fmt"

	"github.com/mediarelay/fetchbot/internal/model"
)

// Store is the durable snapshot of queued tasks. Every mutating call
// completes its write before returning, so a crash right after Submit
// returns cannot lose the task. Load runs once at startup.
type Store interface {
	// Append adds a task to the tail of its owner's persisted list.
	Append(task model.Task) error
	// Remove drops a single task. Called when the task is admitted for
	// execution; a crash after this point drops the task rather than
	// re-running it.
	Remove(ownerID int64, taskID string) error
	// ClearOwner drops every persisted task for one owner.
	ClearOwner(ownerID int64) error
	// Load returns all persisted tasks grouped by owner, in insertion order.
	Load() (map[int64][]model.Task, error)
	// Ping reports whether the snapshot backend is still reachable.
	Ping() error
	Close() error
}

// Open selects a snapshot backend by name. target is a file path for the
// json and sqlite backends and a connection string for postgres.
func Open(backend, target string) (Store, error) {
	switch backend {
	case "sqlite":
		return OpenSQLite(target)
	case "json":
		return OpenJSON(target)
	case "postgres":
		return OpenPostgres(target)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q (want json, sqlite or postgres)", backend)
	}
}
