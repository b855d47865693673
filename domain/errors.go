package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict indicates that the store rejected a conditional
	// write because a newer version of the document is already committed.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrEmptyTaskText       = errors.New("task text is empty")
	ErrTaskNotFound        = errors.New("task not found")
)

// WriteError reports a failed create, update or delete.
type WriteError struct {
	Op  string
	ID  string
	Err error
}

func (e *WriteError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// NotFoundError reports that the target document does not exist. Kind names
// the document type and defaults to "project".
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "project"
	}
	return fmt.Sprintf("%s %s not found", kind, e.ID)
}

// SubscriptionError reports a failed live channel.
type SubscriptionError struct {
	Target string
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Target, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// MutationError is returned by every failed task mutation. Message is the
// user facing summary, Err the underlying cause.
type MutationError struct {
	Operation string
	Message   string
	Err       error
}

func (e *MutationError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *MutationError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
