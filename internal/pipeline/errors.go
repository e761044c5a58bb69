package pipeline

import "fmt"

// FailureKind labels the stage a task died in. Exactly one kind reaches
// the user per failed task.
type FailureKind string

const (
	FailResolution FailureKind = "RESOLUTION_FAILED"
	FailFetch      FailureKind = "FETCH_FAILED"
	FailValidation FailureKind = "VALIDATION_FAILED"
	FailDelivery   FailureKind = "DELIVERY_FAILED"
	FailInternal   FailureKind = "INTERNAL"
)

// TaskError is a terminal pipeline failure with its stage classification.
type TaskError struct {
	Kind FailureKind
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

func failf(kind FailureKind, format string, args ...any) *TaskError {
	return &TaskError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
