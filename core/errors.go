package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is detected before any network/storage call and is never retried.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

func IsValidationError(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

// ConflictError indicates the entity was mutated or removed concurrently.
// It is surfaced to the caller for manual resolution, never retried.
type ConflictError struct {
	Entity string
	ID     string
}

func NewConflictError(entity, id string) error {
	return &ConflictError{Entity: entity, ID: id}
}

func (err ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified or removed concurrently", err.Entity, err.ID)
}

func IsConflict(err error) bool {
	_, ok := errors.Cause(err).(*ConflictError)
	return ok
}

// PermissionError wraps a 401/403 from a collaborator; surfaced verbatim, never retried.
type PermissionError struct {
	Status int
}

func NewPermissionError(status int) error {
	return &PermissionError{Status: status}
}

func (err PermissionError) Error() string {
	return fmt.Sprintf("permission denied (%d)", err.Status)
}

func IsPermissionError(err error) bool {
	_, ok := errors.Cause(err).(*PermissionError)
	return ok
}

// NetworkError indicates the collaborator was unreachable or returned a 5xx;
// retried with bounded backoff before being surfaced.
type NetworkError struct {
	Err error
}

func NewNetworkError(err error) error {
	return &NetworkError{Err: err}
}

func (err NetworkError) Error() string {
	if err.Err == nil {
		return "network error"
	}
	return err.Err.Error()
}

func IsNetworkError(err error) bool {
	_, ok := errors.Cause(err).(*NetworkError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
