package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is matched by every request validation failure.
	ErrValidation = errors.New("validation failed")
	// ErrEmptyQuery is returned when a query carries no templates.
	ErrEmptyQuery = &ValidationError{Field: "_templates", Message: "empty query"}
	// ErrConflict is matched by ConflictError.
	ErrConflict = errors.New("revision conflict")
	// ErrStorage is matched by StorageError.
	ErrStorage = errors.New("storage failure")
	// ErrRecovery is matched by RecoveryError.
	ErrRecovery = errors.New("recovery failed")
	// ErrCoordinatorClosed is returned when a base coordinator stops before
	// deciding a transaction. The transaction was not applied.
	ErrCoordinatorClosed = errors.New("base coordinator closed")
	// ErrCanceled is returned when the operation is canceled by the client
	ErrCanceled = errors.New("operation canceled")
)

// ValidationError reports a malformed request. Nothing was written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// FieldTypeError reports a value whose type cannot be indexed or queried.
type FieldTypeError struct {
	Field string
	Kind  Kind
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("unsupported field type: %s is %s", e.Field, e.Kind)
}

func (e *FieldTypeError) Is(target error) bool {
	return target == ErrValidation
}

// Conflict describes one document whose expected revision did not match.
type Conflict struct {
	ID      string `json:"_id"`
	Current int64  `json:"_rev"`
}

// ConflictError reports that a transaction was rolled back because of one or
// more revision mismatches.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s@%d", c.ID, c.Current))
	}
	return "revision conflict: " + strings.Join(parts, ", ")
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StorageError reports an index or ledger I/O failure. Unknown is set when
// the rollback after a failed commit also failed, so the caller must re-read
// to learn whether the transaction was applied.
type StorageError struct {
	Op      string
	Err     error
	Unknown bool
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	if e.Unknown {
		msg += " (outcome unknown)"
	}
	return msg
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// RecoveryError reports persisted state the process cannot interpret.
type RecoveryError struct {
	Path string
	Err  error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recovery: %s: %v", e.Path, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

func (e *RecoveryError) Is(target error) bool {
	return target == ErrRecovery
}

// WrapError converts context.Canceled and context.DeadlineExceeded to ErrCanceled.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsCanceled(err) {
		return ErrCanceled
	}
	return err
}

// IsCanceled returns true if the error is due to context cancellation or deadline exceeded.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCanceled)
}
