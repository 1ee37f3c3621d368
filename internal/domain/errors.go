package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by caches when no entry exists for a key.
var ErrNotFound = errors.New("config not found")

// ErrEmptyDocument is the cause of the ValidationError returned for an
// empty or null config document.
var ErrEmptyDocument = errors.New("empty config document")

// -----------------------------
// NotFoundError
// -----------------------------

// NotFoundError names the cache entry that was missing.
type NotFoundError struct {
	Resource string
	Key      string
}

func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// Is makes errors.Is(err, ErrNotFound) hold for every NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// -----------------------------
// FetchError
// -----------------------------

type FetchError struct {
	Source string
	Reason string
	Err    error
}

func NewFetchError(source, reason string, err error) *FetchError {
	return &FetchError{
		Source: source,
		Reason: reason,
		Err:    err,
	}
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch from %s failed: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch from %s failed: %s", e.Source, e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func IsFetchError(err error) bool {
	var target *FetchError
	return errors.As(err, &target)
}

// -----------------------------
// ValidationError
// -----------------------------

type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		Message: message,
	}
}

func NewValidationErrorWithCause(message string, cause error) *ValidationError {
	return &ValidationError{
		Message: message,
		Cause:   cause,
	}
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
