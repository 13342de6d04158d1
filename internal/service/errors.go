package service

import (
	"errors"

	"github.com/carryconnect/carryconnect/internal/repository"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError reports malformed caller input.  It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

// ErrUnauthenticated is returned when the caller's identity cannot be
// resolved in time.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrTripUnavailable is the outcome of losing a booking race.  It matches
// repository.ErrConflict and its message is shown to the user verbatim.
var ErrTripUnavailable error = conflictError("this trip is no longer available")

type conflictError string

func (e conflictError) Error() string { return string(e) }

func (e conflictError) Unwrap() error { return repository.ErrConflict }
