package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// OutputKind selects the fetch/transform profile for a task.
type OutputKind string

const (
	KindAudio OutputKind = "audio"
	KindVideo OutputKind = "video"
)

// TaskState values follow the pipeline stages. DONE and FAILED are terminal.
type TaskState string

const (
	StateQueued     TaskState = "QUEUED"
	StateResolving  TaskState = "RESOLVING"
	StateFetching   TaskState = "FETCHING"
	StateValidating TaskState = "VALIDATING"
	StateDelivering TaskState = "DELIVERING"
	StateDone       TaskState = "DONE"
	StateFailed     TaskState = "FAILED"
)

func (s TaskState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// TaskSpec is the fully-populated request handed to the scheduler. The
// frontend owns the multi-step collection; the scheduler only ever sees
// a complete spec.
type TaskSpec struct {
	SourceURL   string     `json:"source_url" validate:"required,url"`
	Kind        OutputKind `json:"kind" validate:"required,oneof=audio video"`
	Quality     string     `json:"quality,omitempty" validate:"omitempty,max=16"`
	DesiredName string     `json:"desired_name,omitempty" validate:"omitempty,max=200"`
}

var validate = validator.New()

// Validate reports whether the spec is acceptable for submission.
func (s TaskSpec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("task spec: %w", err)
	}
	return nil
}

// Task is one unit of work owned by a single submitter.
type Task struct {
	ID        string    `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Spec      TaskSpec  `json:"spec"`
	State     TaskState `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"-"`
}

var unsafeNameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// SanitizeName strips filesystem-hostile characters from a user-supplied
// or resolved display name.
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}
