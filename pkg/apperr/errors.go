package apperr

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrUnauthorized is returned when no authenticated identity is present
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPermissionDenied is returned when the permission resolver denies an action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when the addressed resource does not exist
	ErrNotFound = errors.New("not found")
)

// QuotaExceededError reports a plan quota that blocks the requested creation.
// Limit is -1 when the plan is unbounded, which only happens for callers that
// construct the error by hand.
type QuotaExceededError struct {
	Resource string
	Current  int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	return "quota exceeded for " + e.Resource + " (" +
		strconv.FormatInt(e.Current, 10) + "/" + strconv.FormatInt(e.Limit, 10) + ")"
}

// ConflictError reports that an atomic claim lost: the invite, license or
// subscription was already taken by someone else.
type ConflictError struct {
	Resource string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.Reason == "" {
		return e.Resource + " conflict"
	}
	return e.Resource + " conflict: " + e.Reason
}

// Conflict builds a ConflictError
func Conflict(resource, reason string) error {
	return &ConflictError{Resource: resource, Reason: reason}
}

// ValidationError reports invalid caller input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid builds a ValidationError
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// DataAccessError wraps an underlying storage failure
type DataAccessError struct {
	Op  string
	Err error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("data access failed during %s: %v", e.Op, e.Err)
}

func (e *DataAccessError) Unwrap() error {
	return e.Err
}

// DataAccess wraps err as a DataAccessError. Errors that already belong to the
// taxonomy are returned unchanged so that a denial or conflict raised deeper in
// the call chain keeps its meaning.
func DataAccess(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsKnown(err) {
		return err
	}
	return &DataAccessError{Op: op, Err: err}
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDataAccess checks if an error is a data access error
func IsDataAccess(err error) bool {
	var de *DataAccessError
	return errors.As(err, &de)
}

// IsKnown reports whether err is already part of the error taxonomy
func IsKnown(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNotFound) ||
		IsQuotaExceeded(err) ||
		IsConflict(err) ||
		IsValidation(err) ||
		IsDataAccess(err)
}
