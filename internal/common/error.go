// Package common defines shared constants and sentinel errors used across
// imagesigner components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Validation errors (bad input, wrong format, empty upload).
	ErrorValidation = errors.New("validation error")

	// Workflow errors. A transition attempted from a status its guard
	// does not allow fails with ErrorInvalidState and leaves the record
	// untouched.
	ErrorInvalidState = errors.New("invalid image state")
)
